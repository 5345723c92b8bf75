// Package network implements the GA3C actor-critic network on GoMLX: a shared trunk (optionally
// followed by an LSTM) with a value head and a policy head, either categorical over discrete
// actions or Gaussian over continuous ones.
//
// A Network is safe for concurrent use: predictions can run in parallel with each other, while
// training (and loading) gets exclusive access to the parameters.
package network

import (
	"fmt"
	"github.com/etienne87/GA3C/internal/parameters"
	"github.com/etienne87/GA3C/internal/summary"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"math/rand/v2"
	"sync"
)

// Network is the GA3C policy/value network.
type Network struct {
	// Device the network runs on, and ModelName, used for the checkpoints and summaries.
	Device, ModelName string

	// NumActions is the number of discrete actions (categorical policy) or the dimension of the
	// action values (Gaussian policy).
	NumActions int

	// LoadedEpisode is the episode of the checkpoint loaded, or 0 if none was loaded.
	LoadedEpisode int

	backend  backends.Backend
	ctx      *context.Context
	settings settings

	policyHead policyHead
	optimizer  *clippedAdam

	// Executors.
	valueExec, policyExec, actExec, lossExec, gradientsExec, trainExec, summariesExec *context.Exec

	// muLearning "write" for learning (and loading), and "read" for predictions.
	muLearning sync.RWMutex

	// muSave makes saving sequential.
	muSave sync.Mutex

	// Source of the sampling noise.
	muRandom sync.Mutex
	random   *rand.Rand

	// Summaries writer, created on the first call to LogSummaries.
	muSummaries sync.Mutex
	summaries   *summary.Writer

	// NumCompilations of computation graphs.
	NumCompilations int
}

// New creates a network for numActions actions running on the given device, see backendFor.
//
// params override the default hyperparameters (see the Param* constants), and they must all be
// known. If ParamLoadCheckpoint is set, the latest checkpoint (or the one of ParamLoadEpisode) is
// loaded, and it is an error if there is none.
func New(device, modelName string, numActions int, params parameters.Params) (*Network, error) {
	if numActions <= 0 {
		return nil, errors.Errorf("model %s: number of actions must be > 0, got %d", modelName, numActions)
	}
	if modelName == "" {
		return nil, errors.New("model name must be given")
	}
	backend, err := backendFor(device)
	if err != nil {
		return nil, err
	}
	n := &Network{
		Device:     device,
		ModelName:  modelName,
		NumActions: numActions,
		backend:    backend,
	}

	ctx := newContext()
	err = extractParams(modelName, params.Clone(), ctx)
	if err != nil {
		return nil, err
	}
	n.settings, err = readSettings(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "model %s", modelName)
	}
	n.policyHead = n.newPolicyHead()
	n.optimizer = n.newOptimizer()
	if n.settings.seed != 0 {
		seed := uint64(n.settings.seed)
		n.random = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	} else {
		n.random = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	if n.settings.loadCheckpoint {
		dir, episode, err := n.findCheckpoint()
		if err != nil {
			return nil, err
		}
		if err = n.restore(ctx, dir); err != nil {
			return nil, err
		}
		n.LoadedEpisode = episode
	} else {
		if err = n.setContext(ctx); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("Created %s", n)
	return n, nil
}

// setContext makes ctx the network's context: it resets its random number generator (used by the
// initializers), creates the executors and the model variables.
//
// It must be called with muLearning locked or before the network is shared.
func (n *Network) setContext(ctx *context.Context) error {
	if n.settings.seed != 0 {
		ctx.RngStateFromSeed(int64(n.settings.seed))
	} else {
		ctx.RngStateReset()
	}
	oldCtx := n.ctx
	n.ctx = ctx
	err := exceptions.TryCatch[error](func() {
		_ = optimizers.GetGlobalStepVar(ctx)
		n.createExecutors()

		// Force creating (or loading) the variables, and validating the model, without race conditions.
		f, _, err := n.predictionFeed(make([]float32, n.settings.observationSize()), nil)
		if err != nil {
			panic(err)
		}
		_ = n.valueExec.Call(n.args(&f, n.layout(inObservations))...)
	})
	if err != nil {
		// Revert to the previous context, if there was one.
		n.ctx = oldCtx
		if oldCtx != nil {
			n.createExecutors()
		}
		return errors.WithMessagef(err, "model %s: failed to build the network", n.ModelName)
	}
	if oldCtx != nil {
		oldCtx.Finalize()
	}
	return nil
}

func (n *Network) createExecutors() {
	muNewExec.Lock()
	defer muNewExec.Unlock()
	n.finalizeExecutors()
	ctx := n.ctx

	predictLayout := n.layout(inObservations)
	n.valueExec = context.NewExec(n.backend, ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			n.NumCompilations++
			fwd := n.forwardGraph(ctx, unpack(predictLayout, inputs))
			if n.settings.rnn {
				return []*Node{fwd.value, fwd.cell, fwd.hidden}
			}
			return []*Node{fwd.value}
		})
	n.policyExec = context.NewExec(n.backend, ctx,
		func(ctx *context.Context, inputs []*Node) *Node {
			n.NumCompilations++
			fwd := n.forwardGraph(ctx, unpack(predictLayout, inputs))
			categorical, ok := fwd.policy.(*categorical)
			if !ok {
				exceptions.Panicf("policy probabilities are only available for the categorical policy")
			}
			return categorical.probabilities
		})

	actLayout := n.layout(inObservations, inNoise)
	n.actExec = context.NewExec(n.backend, ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			n.NumCompilations++
			in := unpack(actLayout, inputs)
			fwd := n.forwardGraph(ctx, in)
			actions := fwd.policy.Sample(in[inNoise])
			if n.settings.rnn {
				return []*Node{actions, fwd.value, fwd.cell, fwd.hidden}
			}
			return []*Node{actions, fwd.value}
		})

	batchLayout := n.layout(inObservations, inReturns, inActions, inBeta)
	n.lossExec = context.NewExec(n.backend, ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			n.NumCompilations++
			l := n.lossGraph(ctx, unpack(batchLayout, inputs))
			return []*Node{l.Total, l.Value, l.Policy, l.PolicyAdvantage, l.Entropy}
		})
	n.gradientsExec = context.NewExec(n.backend, ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			n.NumCompilations++
			l := n.lossGraph(ctx, unpack(batchLayout, inputs))
			return n.optimizer.Gradients(l.Total, trainableVariables(ctx))
		})
	n.summariesExec = context.NewExec(n.backend, ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			n.NumCompilations++
			ctx.SetTraining(inputs[0].Graph(), true)
			in := unpack(batchLayout, inputs)
			l := n.lossGraph(ctx, in)
			outputs := []*Node{l.PolicyAdvantage, l.Entropy, l.Policy, l.Value, l.trunk, l.value}
			return append(outputs, l.policy.Summaries(in[inActions])...)
		})

	trainLayout := n.layout(inObservations, inReturns, inActions, inBeta, inLearningRate)
	n.trainExec = context.NewExec(n.backend, ctx,
		func(ctx *context.Context, inputs []*Node) *Node {
			n.NumCompilations++
			g := inputs[0].Graph()
			ctx.SetTraining(g, true)
			in := unpack(trainLayout, inputs)
			l := n.lossGraph(ctx, in)
			vars := trainableVariables(ctx)
			grads := n.optimizer.Gradients(l.Total, vars)
			n.optimizer.UpdateGraph(ctx, vars, grads, in[inLearningRate])
			train.ExecPerStepUpdateGraphFn(ctx, g)
			return l.Total
		})
	for _, exec := range []*context.Exec{n.lossExec, n.gradientsExec, n.summariesExec, n.trainExec} {
		exec.SetMaxCache(100)
	}
}

func (n *Network) finalizeExecutors() {
	for _, exec := range []*context.Exec{n.valueExec, n.policyExec, n.actExec, n.lossExec, n.gradientsExec, n.summariesExec, n.trainExec} {
		if exec != nil {
			exec.Finalize()
		}
	}
}

// String implements fmt.Stringer.
func (n *Network) String() string {
	if n == nil {
		return "<nil>[GA3C]"
	}
	policy := "categorical"
	if !n.settings.categorical {
		policy = "gaussian"
	}
	recurrence := ""
	if n.settings.rnn {
		recurrence = "+lstm"
	}
	return fmt.Sprintf("%s[GA3C/%s/%s%s/%s]", n.ModelName, n.backend.Name(), n.settings.trunk, recurrence, policy)
}

// Recurrent returns whether the network has an LSTM after its trunk.
func (n *Network) Recurrent() bool { return n.settings.rnn }

// Categorical returns whether the policy is categorical (discrete actions) or Gaussian.
func (n *Network) Categorical() bool { return n.settings.categorical }

// Cells is the size of the trunk features and of the recurrent state, per sequence.
func (n *Network) Cells() int { return n.settings.cells }

// ObservationDims returns the dimensions of one observation: height, width and stacked frames.
func (n *Network) ObservationDims() (height, width, frames int) {
	return n.settings.imageHeight, n.settings.imageWidth, n.settings.stackedFrames
}

// DefaultHyperparameters returns the learning rate and entropy coefficient configured at creation.
func (n *Network) DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		LearningRate: float32(n.settings.learningRate),
		Beta:         float32(n.settings.beta),
	}
}

// GlobalStep returns the number of training steps applied so far.
func (n *Network) GlobalStep() int64 {
	n.muLearning.RLock()
	defer n.muLearning.RUnlock()
	return globalStep(n.ctx)
}

// SetRandomSource replaces the source of randomness of the action sampling.
func (n *Network) SetRandomSource(src rand.Source) {
	n.muRandom.Lock()
	defer n.muRandom.Unlock()
	n.random = rand.New(src)
}

// Finalize frees the resources of the network immediately, and leaves it in an invalid state.
func (n *Network) Finalize() {
	n.muLearning.Lock()
	defer n.muLearning.Unlock()
	n.finalizeExecutors()
	n.ctx.Finalize()
	n.muSummaries.Lock()
	defer n.muSummaries.Unlock()
	if n.summaries != nil {
		if err := n.summaries.Close(); err != nil {
			klog.Errorf("Model %s: %+v", n.ModelName, err)
		}
		n.summaries = nil
	}
}

// call runs exec with the given feed, converting panics to errors.
func (n *Network) call(exec *context.Exec, f *feed, layout []inputKind) (outputs []*tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		outputs = exec.Call(n.args(f, layout)...)
	})
	if err != nil {
		err = errors.WithMessagef(err, "model %s", n.ModelName)
	}
	return
}
