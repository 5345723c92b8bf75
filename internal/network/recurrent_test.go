package network

import (
	"github.com/stretchr/testify/require"
	"math/rand/v2"
	"testing"
)

func TestRecurrentStepwiseMatchesSequence(t *testing.T) {
	n := newTestNetwork(t, 3, "rnn=true")
	require.True(t, n.Recurrent())
	require.Contains(t, n.VariableNames(), "/lstm/dense/weights")
	rng := rand.New(rand.NewPCG(3, 1))
	cells := n.Cells()
	obsSize := n.settings.observationSize()

	const numSequences, numSteps = 2, 3
	stepSizes := []int32{3, 2}
	observations := randomObservations(rng, n, numSequences*numSteps)
	initial := RecurrentState{Cell: make([]float32, numSequences*cells), Hidden: make([]float32, numSequences*cells)}
	for ii := range initial.Cell {
		initial.Cell[ii] = rng.Float32() - 0.5
		initial.Hidden[ii] = rng.Float32() - 0.5
	}

	values, final, err := n.PredictSequence(observations, initial, stepSizes)
	require.NoError(t, err)
	require.Len(t, values, numSequences*numSteps)
	require.Len(t, final.Cell, numSequences*cells)
	require.Len(t, final.Hidden, numSequences*cells)

	for seq := range numSequences {
		state := RecurrentState{
			Cell:   initial.Cell[seq*cells : (seq+1)*cells],
			Hidden: initial.Hidden[seq*cells : (seq+1)*cells],
		}
		for step := range int(stepSizes[seq]) {
			row := seq*numSteps + step
			pred, err := n.PredictActionAndValue(observations[row*obsSize:(row+1)*obsSize], &state)
			require.NoError(t, err)
			require.InDeltaf(t, values[row], pred.Values[0], 1e-4, "sequence %d, step %d", seq, step)
			state = pred.State
		}
		require.InDeltaSlice(t, final.Cell[seq*cells:(seq+1)*cells], state.Cell, 1e-4)
		require.InDeltaSlice(t, final.Hidden[seq*cells:(seq+1)*cells], state.Hidden, 1e-4)
	}
}

func TestRecurrentTrain(t *testing.T) {
	n := newTestNetwork(t, 2, "rnn=true")
	rng := rand.New(rand.NewPCG(3, 2))
	batch := randomBatch(rng, n, 6)
	batch.StepSizes = []int32{3, 1}
	batch.State = n.ZeroState(2)
	// Padding steps of the second sequence have no action.
	for _, row := range []int{4, 5} {
		batch.Actions[row*2], batch.Actions[row*2+1] = 0, 0
	}
	hp := n.DefaultHyperparameters()
	_, err := n.Train(batch, hp)
	require.NoError(t, err)
	require.Equal(t, int64(1), n.GlobalStep())

	// Missing or inconsistent recurrent inputs.
	batch.StepSizes = []int32{3, 1, 2}
	_, err = n.Train(batch, hp)
	require.Error(t, err)
	batch.StepSizes = []int32{3, 4}
	_, err = n.Train(batch, hp)
	require.Error(t, err)
	batch.StepSizes = []int32{3, 1}
	batch.State = n.ZeroState(1)
	_, err = n.Train(batch, hp)
	require.Error(t, err)
	batch.StepSizes = nil
	_, err = n.Losses(batch, hp)
	require.Error(t, err)

	// Wrong number of state values for predictions.
	state := n.ZeroState(3)
	_, err = n.PredictActionAndValue(randomObservations(rng, n, 2), &state)
	require.Error(t, err)
}

func TestPredictSequenceRequiresRecurrence(t *testing.T) {
	n := newTestNetwork(t, 2, "")
	rng := rand.New(rand.NewPCG(3, 3))
	_, _, err := n.PredictSequence(randomObservations(rng, n, 2), n.ZeroState(1), []int32{2})
	require.Error(t, err)
}
