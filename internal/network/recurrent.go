package network

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// lstmGraph runs an LSTM over features shaped [rows, cells], where rows is numSequences*numSteps,
// starting from cell and hidden states shaped [numSequences, cells].
//
// Steps t >= stepSizes[s] of sequence s are padding: they leave the state unchanged and output zeros.
// It returns the outputs shaped [rows, cells], and the state after the last valid step of each
// sequence.
//
// The gates are computed with one dense layer over [input, hidden], split in (input, new input,
// forget, output) and a bias is added to the forget gate.
func (n *Network) lstmGraph(ctx *context.Context, features, cell, hidden, stepSizes *Node) (outputs, newCell, newHidden *Node) {
	ctx = ctx.In("lstm")
	g := features.Graph()
	cells := n.settings.cells
	numSequences := cell.Shape().Dim(0)
	rows := features.Shape().Dim(0)
	if cell.Rank() != 2 || cell.Shape().Dim(1) != cells || !hidden.Shape().Equal(cell.Shape()) {
		exceptions.Panicf("LSTM state must be shaped [sequences, %d], got cell=%s, hidden=%s",
			cells, cell.Shape(), hidden.Shape())
	}
	if stepSizes.Rank() != 1 || stepSizes.Shape().Dim(0) != numSequences {
		exceptions.Panicf("LSTM step sizes must be shaped [%d], got %s", numSequences, stepSizes.Shape())
	}
	if numSequences == 0 || rows%numSequences != 0 {
		exceptions.Panicf("LSTM inputs with %d rows can't be split into %d sequences", rows, numSequences)
	}
	numSteps := rows / numSequences
	numFeatures := features.Shape().Dim(-1)
	inputs := Reshape(features, numSequences, numSteps, numFeatures)

	outputsPerStep := make([]*Node, numSteps)
	for step := range numSteps {
		x := Reshape(Slice(inputs, AxisRange(), AxisElem(step), AxisRange()), numSequences, numFeatures)
		gates := layers.Dense(ctx, Concatenate([]*Node{x, hidden}, -1), true, 4*cells)
		gate := func(idx int) *Node {
			return Slice(gates, AxisRange(), AxisRange(idx*cells, (idx+1)*cells))
		}
		inputGate, newInput, forgetGate, outputGate := gate(0), gate(1), gate(2), gate(3)
		stepCell := Add(
			Mul(Sigmoid(AddScalar(forgetGate, n.settings.lstmForgetBias)), cell),
			Mul(Sigmoid(inputGate), Tanh(newInput)))
		stepHidden := Mul(Sigmoid(outputGate), Tanh(stepCell))

		// valid is 1 for the sequences still running at this step, 0 otherwise.
		valid := GreaterThan(stepSizes, Scalar(g, dtypes.Int32, step))
		valid = BroadcastToDims(ExpandAxes(ConvertDType(valid, dtypes.Float32), -1), numSequences, cells)
		invalid := Sub(OnesLike(valid), valid)
		cell = Add(Mul(valid, stepCell), Mul(invalid, cell))
		hidden = Add(Mul(valid, stepHidden), Mul(invalid, hidden))
		outputsPerStep[step] = ExpandAxes(Mul(valid, stepHidden), 1)
	}
	outputs = Reshape(Concatenate(outputsPerStep, 1), rows, cells)
	return outputs, cell, hidden
}

// sequenceMask returns a float mask shaped [rows] that is 1 for the valid steps of each sequence.
func sequenceMask(stepSizes *Node, rows int) *Node {
	g := stepSizes.Graph()
	numSequences := stepSizes.Shape().Dim(0)
	numSteps := rows / numSequences
	steps := Iota(g, shapes.Make(dtypes.Int32, numSequences, numSteps), 1)
	sizes := BroadcastToDims(ExpandAxes(stepSizes, -1), numSequences, numSteps)
	return Reshape(ConvertDType(LessThan(steps, sizes), dtypes.Float32), rows)
}
