package network

import (
	"fmt"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
)

// convLayer configures one convolution of a convolutional trunk.
type convLayer struct {
	filters, kernelSize, stride int
}

var (
	// nipsLayers follows the network of "Playing Atari with Deep Reinforcement Learning" (NIPS 2013).
	nipsLayers = []convLayer{{16, 8, 4}, {32, 4, 2}}

	// jchoiLayers is a deeper stack of small kernels.
	jchoiLayers = []convLayer{{32, 3, 2}, {32, 3, 2}, {32, 3, 2}, {32, 3, 2}}
)

// trunkGraph maps observations shaped [rows, height, width, frames] to features shaped [rows, cells].
func (n *Network) trunkGraph(ctx *context.Context, observations *Node) *Node {
	ctx = ctx.In("trunk")
	rows := observations.Shape().Dim(0)
	x := observations
	switch n.settings.trunk {
	case TrunkNIPS:
		x = convStack(ctx, x, nipsLayers)
	case TrunkJChoi:
		x = convStack(ctx, x, jchoiLayers)
	}
	x = Reshape(x, rows, x.Shape().Size()/rows)
	return activations.Relu(layers.Dense(ctx, x, true, n.settings.cells))
}

// convStack applies the convolutions with "same" padding, each followed by an ELU activation.
func convStack(ctx *context.Context, x *Node, stack []convLayer) *Node {
	for ii, conv := range stack {
		x = layers.Convolution(ctx.In(fmt.Sprintf("conv_%d", ii)), x).
			Filters(conv.filters).
			KernelSize(conv.kernelSize).
			Strides(conv.stride).
			PadSame().
			Done()
		x = elu(x)
	}
	return x
}

// elu returns x for x > 0, exp(x)-1 otherwise.
func elu(x *Node) *Node {
	zeros := ZerosLike(x)
	return Where(GreaterThan(x, zeros), x, AddScalar(Exp(Min(x, zeros)), -1))
}

// softplus returns log(1+exp(x)), computed as max(x,0) + log(1+exp(-|x|)).
func softplus(x *Node) *Node {
	return Add(activations.Relu(x), Log(AddScalar(Exp(Neg(Abs(x))), 1)))
}
