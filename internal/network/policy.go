package network

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gopjrt/dtypes"
	"math"
)

// distribution of actions produced by the policy head, for a batch of rows.
type distribution interface {
	// Sample actions given noise shaped [rows, numActions]. Categorical samples are action indices
	// shaped [rows] (Int32), Gaussian samples are action values shaped [rows, numActions].
	Sample(noise *Node) *Node

	// LogProbability of the given actions (shaped [rows, numActions]), per row.
	LogProbability(actions *Node) *Node

	// Entropy per row.
	Entropy() *Node

	// Mask of the rows that contribute to the loss, given the actions taken, or nil to use all
	// valid rows.
	Mask(actions *Node) *Node

	// Summaries returns the activations to record as histograms, keyed by the tags returned by
	// policyHead.SummaryTags.
	Summaries(actions *Node) []*Node
}

// policyHead builds the distribution from the (post-recurrence) features.
type policyHead interface {
	Build(ctx *context.Context, features *Node) distribution
	SummaryTags() []string
}

func (n *Network) newPolicyHead() policyHead {
	if n.settings.categorical {
		return &categoricalHead{numActions: n.NumActions}
	}
	return &gaussianHead{numActions: n.NumActions}
}

// categoricalHead is a softmax over numActions discrete actions.
type categoricalHead struct {
	numActions int
}

type categorical struct {
	logits, probabilities, logProbabilities *Node
}

func (h *categoricalHead) Build(ctx *context.Context, features *Node) distribution {
	logits := layers.Dense(ctx.In("policy"), features, true, h.numActions)
	return &categorical{
		logits:           logits,
		probabilities:    Softmax(logits, -1),
		logProbabilities: LogSoftmax(logits, -1),
	}
}

func (h *categoricalHead) SummaryTags() []string { return []string{"activation_p"} }

// Sample uses the Gumbel-max trick: noise holds Gumbel(0,1) samples, one per action.
func (c *categorical) Sample(noise *Node) *Node {
	maxLogits := BroadcastToDims(ExpandAxes(ReduceMax(c.logits, -1), -1), c.logits.Shape().Dimensions...)
	perturbed := Add(Sub(c.logits, maxLogits), noise)
	return ArgMax(perturbed, -1, dtypes.Int32)
}

func (c *categorical) LogProbability(actions *Node) *Node {
	return ReduceSum(Mul(c.logProbabilities, actions), -1)
}

func (c *categorical) Entropy() *Node {
	return Neg(ReduceSum(Mul(c.probabilities, c.logProbabilities), -1))
}

// Mask is 1 for the rows where an action was taken: padding rows have all-zero one-hot actions.
func (c *categorical) Mask(actions *Node) *Node {
	return ReduceMax(actions, -1)
}

func (c *categorical) Summaries(actions *Node) []*Node {
	return []*Node{c.logits}
}

// gaussianHead is a diagonal Gaussian over numActions continuous action values, with a mean per
// action value and one shared standard deviation.
type gaussianHead struct {
	numActions int
}

type gaussian struct {
	mu, sigma *Node
}

// sigmaEpsilon keeps the Gaussian log-probability finite when sigma collapses.
const sigmaEpsilon = 1e-5

func (h *gaussianHead) Build(ctx *context.Context, features *Node) distribution {
	mu := layers.Dense(ctx.In("mu").WithInitializer(initializers.Zero), features, true, h.numActions)
	sigma := softplus(layers.Dense(ctx.In("sigma").WithInitializer(initializers.One), features, true, 1))
	return &gaussian{mu: mu, sigma: BroadcastToDims(sigma, mu.Shape().Dimensions...)}
}

func (h *gaussianHead) SummaryTags() []string { return []string{"mu", "sigma", "l2dist"} }

// Sample expects noise sampled from N(0,1), one per action value.
func (d *gaussian) Sample(noise *Node) *Node {
	return Add(d.mu, Mul(d.sigma, noise))
}

func (d *gaussian) LogProbability(actions *Node) *Node {
	diff := Sub(actions, d.mu)
	variance := AddScalar(MulScalar(Square(d.sigma), 2), sigmaEpsilon)
	logProb := Sub(
		Neg(Div(Square(diff), variance)),
		AddScalar(Log(AddScalar(d.sigma, sigmaEpsilon)), 0.5*math.Log(2*math.Pi)))
	return ReduceSum(logProb, -1)
}

// Entropy of the diagonal Gaussian: the per-dimension entropy summed over the action dimensions,
// so it grows with the number of actions.
func (d *gaussian) Entropy() *Node {
	return ReduceSum(AddScalar(Log(AddScalar(d.sigma, sigmaEpsilon)), 0.5*math.Log(2*math.Pi*math.E)), -1)
}

func (d *gaussian) Mask(actions *Node) *Node { return nil }

func (d *gaussian) Summaries(actions *Node) []*Node {
	sigma := Slice(d.sigma, AxisRange(), AxisElem(0))
	return []*Node{d.mu, sigma, Square(Sub(actions, d.mu))}
}
