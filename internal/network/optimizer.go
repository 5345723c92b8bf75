package network

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"slices"
	"strings"
)

// optimizerScope holds the optimizer's moment estimates. They are not trainable.
const optimizerScope = "adam"

// clippedAdam is the Adam optimizer applied to gradients that are individually clipped by their
// average norm: a gradient g with n elements is scaled by clip/max(‖g‖/n, clip).
//
// The learning rate is an input of the graph, so it can change at every step without
// recompilation.
type clippedAdam struct {
	clipNorm, beta1, beta2, epsilon float64
}

func (n *Network) newOptimizer() *clippedAdam {
	return &clippedAdam{
		clipNorm: n.settings.gradClipNorm,
		beta1:    n.settings.adamBeta1,
		beta2:    n.settings.adamBeta2,
		epsilon:  n.settings.adamEps,
	}
}

// variablePath returns the full name of a variable, e.g. "/trunk/dense/weights".
func variablePath(v *context.Variable) string {
	scope := v.Scope()
	if scope == context.RootScope {
		return context.RootScope + v.Name()
	}
	return scope + context.ScopeSeparator + v.Name()
}

// trainableVariables of the model, sorted by their path.
func trainableVariables(ctx *context.Context) []*context.Variable {
	var vars []*context.Variable
	optimizerPrefix := context.RootScope + optimizerScope
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !v.Trainable || strings.HasPrefix(v.Scope(), optimizerPrefix) {
			return
		}
		vars = append(vars, v)
	})
	slices.SortFunc(vars, func(a, b *context.Variable) int {
		return strings.Compare(variablePath(a), variablePath(b))
	})
	return vars
}

// clipByAverageNorm scales grad down so that its L2 norm divided by its number of elements is at
// most clipNorm.
func clipByAverageNorm(grad *Node, clipNorm float64) *Node {
	g := grad.Graph()
	averageNorm := DivScalar(Sqrt(ReduceAllSum(Square(grad))), float64(grad.Shape().Size()))
	clip := Scalar(g, grad.DType(), clipNorm)
	return Div(Mul(grad, clip), Max(averageNorm, clip))
}

// Gradients of loss with respect to the values of vars, clipped.
func (o *clippedAdam) Gradients(loss *Node, vars []*context.Variable) []*Node {
	g := loss.Graph()
	values := make([]*Node, len(vars))
	for ii, v := range vars {
		values[ii] = v.ValueGraph(g)
	}
	grads := Gradient(loss, values...)
	for ii, grad := range grads {
		grads[ii] = clipByAverageNorm(grad, o.clipNorm)
	}
	return grads
}

// UpdateGraph applies one Adam step to vars, given their gradients, and increments the global step.
func (o *clippedAdam) UpdateGraph(ctx *context.Context, vars []*context.Variable, grads []*Node, learningRate *Node) {
	g := learningRate.Graph()
	dtype := learningRate.DType()
	step := optimizers.IncrementGlobalStepGraph(ctx, g, dtype)

	// Bias corrected learning rate.
	one := Scalar(g, dtype, 1.0)
	beta1Power := Pow(Scalar(g, dtype, o.beta1), step)
	beta2Power := Pow(Scalar(g, dtype, o.beta2), step)
	stepSize := Mul(learningRate, Div(Sqrt(Sub(one, beta2Power)), Sub(one, beta1Power)))

	momentsCtx := ctx.InAbsPath(context.RootScope + optimizerScope).Checked(false).WithInitializer(initializers.Zero)
	for ii, v := range vars {
		name := strings.TrimPrefix(strings.ReplaceAll(variablePath(v), context.ScopeSeparator, "_"), "_")
		mVar := momentsCtx.VariableWithShape(name+"_m", v.Shape())
		mVar.Trainable = false
		vVar := momentsCtx.VariableWithShape(name+"_v", v.Shape())
		vVar.Trainable = false

		grad := grads[ii]
		m := Add(MulScalar(mVar.ValueGraph(g), o.beta1), MulScalar(grad, 1-o.beta1))
		v2 := Add(MulScalar(vVar.ValueGraph(g), o.beta2), MulScalar(Square(grad), 1-o.beta2))
		mVar.SetValueGraph(m)
		vVar.SetValueGraph(v2)

		update := Mul(stepSize, Div(m, AddScalar(Sqrt(v2), o.epsilon)))
		v.SetValueGraph(Sub(v.ValueGraph(g), update))
	}
}

// globalStep returns the number of training steps applied so far.
func globalStep(ctx *context.Context) int64 {
	return tensors.ToScalar[int64](optimizers.GetGlobalStepVar(ctx).Value())
}
