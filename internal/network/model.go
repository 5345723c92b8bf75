package network

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
)

// forward holds the nodes of the forward pass.
type forward struct {
	trunk    *Node // [rows, cells]
	features *Node // [rows, cells]: trunk output after the optional LSTM.
	value    *Node // [rows]
	policy   distribution

	// Recurrent only: the state after the last valid step of each sequence, and the mask of the
	// valid rows.
	cell, hidden, validRows *Node
}

// forwardGraph builds the shared trunk, the optional LSTM and the value and policy heads.
func (n *Network) forwardGraph(ctx *context.Context, in *graphInputs) *forward {
	observations := in[inObservations]
	if observations == nil {
		exceptions.Panicf("observations not given")
	}
	if observations.Rank() != 4 || observations.Shape().Dim(1) != n.settings.imageHeight ||
		observations.Shape().Dim(2) != n.settings.imageWidth || observations.Shape().Dim(3) != n.settings.stackedFrames {
		exceptions.Panicf("observations must be shaped [rows, %d, %d, %d], got %s",
			n.settings.imageHeight, n.settings.imageWidth, n.settings.stackedFrames, observations.Shape())
	}
	fwd := &forward{}
	fwd.trunk = n.trunkGraph(ctx, observations)
	fwd.features = fwd.trunk
	if n.settings.rnn {
		if in[inCell] == nil || in[inHidden] == nil || in[inStepSizes] == nil {
			exceptions.Panicf("recurrence enabled but the recurrent state or step sizes were not given")
		}
		fwd.features, fwd.cell, fwd.hidden = n.lstmGraph(ctx, fwd.trunk, in[inCell], in[inHidden], in[inStepSizes])
		fwd.validRows = sequenceMask(in[inStepSizes], observations.Shape().Dim(0))
	}
	fwd.value = Squeeze(layers.Dense(ctx.In("value"), fwd.features, true, 1), -1)
	fwd.policy = n.policyHead.Build(ctx, fwd.features)
	return fwd
}

// loss holds the nodes of the loss, all scalars.
type loss struct {
	*forward

	// PolicyAdvantage and Entropy are the masked sums of the per-row terms, and
	// Policy = -(PolicyAdvantage + Entropy).
	Total, Value, Policy, PolicyAdvantage, Entropy *Node
}

// lossGraph builds the actor-critic loss:
//
//	advantage = returns - StopGradient(value)
//	Value = 0.5 * Σ mask * (returns - value)²
//	Policy = -Σ mask * (logπ(action) * advantage + β * entropy)
//	Total = Policy + Value
func (n *Network) lossGraph(ctx *context.Context, in *graphInputs) *loss {
	fwd := n.forwardGraph(ctx, in)
	returns, actions, beta := in[inReturns], in[inActions], in[inBeta]
	if returns == nil || actions == nil || beta == nil {
		exceptions.Panicf("returns, actions and beta are required for the loss")
	}
	rows := fwd.value.Shape().Dim(0)
	if returns.Rank() == 2 {
		returns = Reshape(returns, rows)
	}
	returns.AssertDims(rows)
	actions.AssertDims(rows, n.NumActions)

	mask := fwd.policy.Mask(actions)
	if mask == nil {
		mask = fwd.validRows
	}
	if mask == nil {
		mask = OnesLike(fwd.value)
	}
	advantage := Sub(returns, StopGradient(fwd.value))
	entropy := Mul(beta, fwd.policy.Entropy())

	l := &loss{forward: fwd}
	l.Value = MulScalar(ReduceAllSum(Mul(Square(Sub(returns, fwd.value)), mask)), 0.5)
	l.PolicyAdvantage = ReduceAllSum(Mul(Mul(fwd.policy.LogProbability(actions), advantage), mask))
	l.Entropy = ReduceAllSum(Mul(entropy, mask))
	l.Policy = Neg(Add(l.PolicyAdvantage, l.Entropy))
	l.Total = Add(l.Policy, l.Value)
	return l
}
