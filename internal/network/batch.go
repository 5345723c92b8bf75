package network

import (
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// Batch of experiences used for training, for the loss and for the summaries.
//
// Observations are flat row-major [rows, height, width, frames] values. With recurrence enabled
// the rows are grouped as [sequences, steps], that is, row s*steps+t is step t of sequence s,
// and steps beyond StepSizes[s] are padding.
type Batch struct {
	Observations []float32

	// Returns (discounted rewards) target, one per row.
	Returns []float32

	// Actions, numActions per row: one-hot encoded for the categorical policy, the action values
	// for the Gaussian policy.
	Actions []float32

	// Recurrent only: initial state for each sequence and number of valid steps per sequence.
	State     RecurrentState
	StepSizes []int32
}

// Hyperparameters that may change over training, and are given at each training call.
type Hyperparameters struct {
	LearningRate float32

	// Beta is the entropy regularization coefficient.
	Beta float32
}

// RecurrentState holds the LSTM state for a number of sequences, each with Cells values.
type RecurrentState struct {
	Cell, Hidden []float32
}

// Prediction returned by PredictActionAndValue.
type Prediction struct {
	// Actions sampled, numActions values per row: the one-hot encoded action for the categorical
	// policy (ready to be used in a training Batch), or the action values for the Gaussian policy.
	Actions []float32

	// ActionIndices holds the index of the sampled action, for the categorical policy only.
	ActionIndices []int32

	// Values estimated for each row.
	Values []float32

	// State after the step, only if recurrence is enabled.
	State RecurrentState
}

// ZeroState returns a recurrent state of zeros for the given number of sequences.
func (n *Network) ZeroState(numSequences int) RecurrentState {
	return RecurrentState{
		Cell:   make([]float32, numSequences*n.settings.cells),
		Hidden: make([]float32, numSequences*n.settings.cells),
	}
}

// numRows returns the number of observations, or an error if the size doesn't match.
func (n *Network) numRows(observations []float32) (int, error) {
	obsSize := n.settings.observationSize()
	if len(observations) == 0 || len(observations)%obsSize != 0 {
		return 0, errors.Errorf("observations have %d values, not a positive multiple of %dx%dx%d=%d",
			len(observations), n.settings.imageHeight, n.settings.imageWidth, n.settings.stackedFrames, obsSize)
	}
	return len(observations) / obsSize, nil
}

func (n *Network) observationsTensor(observations []float32, rows int) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(observations,
		rows, n.settings.imageHeight, n.settings.imageWidth, n.settings.stackedFrames)
}

// recurrentTensors validates the recurrent state of numSequences sequences and creates the tensors
// for the cell, hidden and step sizes.
func (n *Network) recurrentTensors(state RecurrentState, stepSizes []int32, numSequences, numSteps int) (
	cell, hidden, steps *tensors.Tensor, err error) {
	cells := n.settings.cells
	if len(state.Cell) != numSequences*cells || len(state.Hidden) != numSequences*cells {
		err = errors.Errorf("recurrent state for %d sequences of %d cells should have %d values, got cell=%d, hidden=%d",
			numSequences, cells, numSequences*cells, len(state.Cell), len(state.Hidden))
		return
	}
	if len(stepSizes) != numSequences {
		err = errors.Errorf("got %d step sizes for %d sequences", len(stepSizes), numSequences)
		return
	}
	for ii, size := range stepSizes {
		if size < 0 || int(size) > numSteps {
			err = errors.Errorf("step size #%d is %d, it must be between 0 and %d", ii, size, numSteps)
			return
		}
	}
	cell = tensors.FromFlatDataAndDimensions(state.Cell, numSequences, cells)
	hidden = tensors.FromFlatDataAndDimensions(state.Hidden, numSequences, cells)
	steps = tensors.FromFlatDataAndDimensions(stepSizes, numSequences)
	return
}

// batchFeed validates the batch and creates its input tensors, including the given hyperparameters.
func (n *Network) batchFeed(batch *Batch, hp Hyperparameters) (f feed, rows int, err error) {
	rows, err = n.numRows(batch.Observations)
	if err != nil {
		return
	}
	if len(batch.Returns) != rows {
		err = errors.Errorf("batch has %d observations but %d returns", rows, len(batch.Returns))
		return
	}
	if len(batch.Actions) != rows*n.NumActions {
		err = errors.Errorf("batch has %d observations, so it needs %d x %d actions values, got %d",
			rows, rows, n.NumActions, len(batch.Actions))
		return
	}
	f[inObservations] = n.observationsTensor(batch.Observations, rows)
	f[inReturns] = tensors.FromFlatDataAndDimensions(batch.Returns, rows)
	f[inActions] = tensors.FromFlatDataAndDimensions(batch.Actions, rows, n.NumActions)
	f[inBeta] = tensors.FromScalar(hp.Beta)
	f[inLearningRate] = tensors.FromScalar(hp.LearningRate)
	if n.settings.rnn {
		numSequences := len(batch.StepSizes)
		if numSequences == 0 || rows%numSequences != 0 {
			err = errors.Errorf("batch of %d rows can't be split into %d sequences", rows, numSequences)
			return
		}
		f[inCell], f[inHidden], f[inStepSizes], err = n.recurrentTensors(
			batch.State, batch.StepSizes, numSequences, rows/numSequences)
	}
	return
}
