package network

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors"
)

// inputKind enumerates the inputs an executor may take. Each executor takes a subset of them,
// always in this order.
type inputKind int

const (
	inObservations inputKind = iota
	inNoise
	inReturns
	inActions
	inBeta
	inLearningRate
	inCell
	inHidden
	inStepSizes
	numInputKinds
)

// feed holds the host tensors of a call, indexed by inputKind.
type feed [numInputKinds]*tensors.Tensor

// graphInputs holds the graph nodes of an executor's inputs, indexed by inputKind.
// Inputs not taken by the executor are nil.
type graphInputs [numInputKinds]*Node

// layout returns the inputs taken by an executor: the given ones plus, if recurrence is enabled,
// the recurrent state and step sizes.
func (n *Network) layout(kinds ...inputKind) []inputKind {
	if n.settings.rnn {
		kinds = append(kinds, inCell, inHidden, inStepSizes)
	}
	return kinds
}

// unpack maps the executor's positional inputs to their kinds.
func unpack(layout []inputKind, inputs []*Node) *graphInputs {
	if len(inputs) != len(layout) {
		exceptions.Panicf("expected %d inputs, got %d", len(layout), len(inputs))
	}
	in := &graphInputs{}
	for ii, kind := range layout {
		in[kind] = inputs[ii]
	}
	return in
}

// args converts a feed to the positional arguments of an executor with the given layout.
func (n *Network) args(f *feed, layout []inputKind) []any {
	args := make([]any, len(layout))
	for ii, kind := range layout {
		if f[kind] == nil {
			exceptions.Panicf("missing input #%d for executor", kind)
		}
		args[ii] = DonateTensorBuffer(f[kind], n.backend)
	}
	return args
}
