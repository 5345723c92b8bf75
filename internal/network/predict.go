package network

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// predictionFeed creates the inputs to predict one step for each of the observations.
//
// With recurrence each row is a sequence of one step, and state holds the state of each of them:
// if state is nil, the zero state is used.
func (n *Network) predictionFeed(observations []float32, state *RecurrentState) (f feed, rows int, err error) {
	rows, err = n.numRows(observations)
	if err != nil {
		return
	}
	f[inObservations] = n.observationsTensor(observations, rows)
	if n.settings.rnn {
		if state == nil {
			zeros := n.ZeroState(rows)
			state = &zeros
		}
		stepSizes := make([]int32, rows)
		for ii := range stepSizes {
			stepSizes[ii] = 1
		}
		f[inCell], f[inHidden], f[inStepSizes], err = n.recurrentTensors(*state, stepSizes, rows, 1)
	}
	return
}

// PredictValue returns the estimated value of each observation.
//
// With recurrence the value is estimated from the zero state: use PredictSequence or
// PredictActionAndValue to carry the state.
func (n *Network) PredictValue(observations []float32) ([]float32, error) {
	f, _, err := n.predictionFeed(observations, nil)
	if err != nil {
		return nil, errors.WithMessagef(err, "model %s", n.ModelName)
	}
	n.muLearning.RLock()
	defer n.muLearning.RUnlock()
	outputs, err := n.call(n.valueExec, &f, n.layout(inObservations))
	if err != nil {
		return nil, err
	}
	return tensors.CopyFlatData[float32](outputs[0]), nil
}

// PredictPolicy returns the probabilities of each action, for each observation.
// Only available for the categorical policy.
func (n *Network) PredictPolicy(observations []float32) ([][]float32, error) {
	if !n.settings.categorical {
		return nil, errors.Errorf("model %s: policy probabilities are only available for the categorical policy", n.ModelName)
	}
	f, rows, err := n.predictionFeed(observations, nil)
	if err != nil {
		return nil, errors.WithMessagef(err, "model %s", n.ModelName)
	}
	n.muLearning.RLock()
	defer n.muLearning.RUnlock()
	outputs, err := n.call(n.policyExec, &f, n.layout(inObservations))
	if err != nil {
		return nil, err
	}
	flat := tensors.CopyFlatData[float32](outputs[0])
	probabilities := make([][]float32, rows)
	for row := range rows {
		probabilities[row] = flat[row*n.NumActions : (row+1)*n.NumActions]
	}
	return probabilities, nil
}

// PredictSingle returns the action probabilities for one observation.
func (n *Network) PredictSingle(observation []float32) ([]float32, error) {
	if len(observation) != n.settings.observationSize() {
		return nil, errors.Errorf("model %s: observation should have %d values, got %d",
			n.ModelName, n.settings.observationSize(), len(observation))
	}
	probabilities, err := n.PredictPolicy(observation)
	if err != nil {
		return nil, err
	}
	return probabilities[0], nil
}

// PredictActionAndValue samples an action and estimates the value of each observation.
//
// With recurrence, state holds the state of each row (nil for the zero state, at the start of
// episodes), and the returned Prediction holds the state after this step.
func (n *Network) PredictActionAndValue(observations []float32, state *RecurrentState) (*Prediction, error) {
	f, rows, err := n.predictionFeed(observations, state)
	if err != nil {
		return nil, errors.WithMessagef(err, "model %s", n.ModelName)
	}
	f[inNoise] = n.sampleNoise(rows)
	n.muLearning.RLock()
	defer n.muLearning.RUnlock()
	outputs, err := n.call(n.actExec, &f, n.layout(inObservations, inNoise))
	if err != nil {
		return nil, err
	}
	pred := &Prediction{Values: tensors.CopyFlatData[float32](outputs[1])}
	if n.settings.categorical {
		pred.ActionIndices = tensors.CopyFlatData[int32](outputs[0])
		pred.Actions = make([]float32, rows*n.NumActions)
		for row, action := range pred.ActionIndices {
			pred.Actions[row*n.NumActions+int(action)] = 1
		}
	} else {
		pred.Actions = tensors.CopyFlatData[float32](outputs[0])
	}
	if n.settings.rnn {
		pred.State = RecurrentState{
			Cell:   tensors.CopyFlatData[float32](outputs[2]),
			Hidden: tensors.CopyFlatData[float32](outputs[3]),
		}
	}
	return pred, nil
}

// PredictSequence runs the recurrent network over len(stepSizes) sequences, starting from state.
// Observations are organized as [sequences, steps], see Batch.
//
// It returns the value of each row (undefined for padding rows), and the state after the last valid
// step of each sequence.
func (n *Network) PredictSequence(observations []float32, state RecurrentState, stepSizes []int32) (
	values []float32, final RecurrentState, err error) {
	if !n.settings.rnn {
		err = errors.Errorf("model %s: PredictSequence requires recurrence (%s=true)", n.ModelName, ParamRNN)
		return
	}
	var f feed
	var rows int
	rows, err = n.numRows(observations)
	if err != nil {
		err = errors.WithMessagef(err, "model %s", n.ModelName)
		return
	}
	numSequences := len(stepSizes)
	if numSequences == 0 || rows%numSequences != 0 {
		err = errors.Errorf("model %s: %d observations can't be split into %d sequences", n.ModelName, rows, numSequences)
		return
	}
	f[inObservations] = n.observationsTensor(observations, rows)
	f[inCell], f[inHidden], f[inStepSizes], err = n.recurrentTensors(state, stepSizes, numSequences, rows/numSequences)
	if err != nil {
		err = errors.WithMessagef(err, "model %s", n.ModelName)
		return
	}
	n.muLearning.RLock()
	defer n.muLearning.RUnlock()
	outputs, err := n.call(n.valueExec, &f, n.layout(inObservations))
	if err != nil {
		return
	}
	values = tensors.CopyFlatData[float32](outputs[0])
	final = RecurrentState{
		Cell:   tensors.CopyFlatData[float32](outputs[1]),
		Hidden: tensors.CopyFlatData[float32](outputs[2]),
	}
	return
}

// sampleNoise returns the noise used to sample actions for the given number of rows: Gumbel(0,1)
// for the categorical policy, N(0,1) for the Gaussian one.
func (n *Network) sampleNoise(rows int) *tensors.Tensor {
	noise := make([]float32, rows*n.NumActions)
	epsilon := float32(n.settings.logEpsilon)
	n.muRandom.Lock()
	defer n.muRandom.Unlock()
	for ii := range noise {
		if n.settings.categorical {
			u := min(max(float32(n.random.Float64()), epsilon), 1-epsilon)
			noise[ii] = -math32.Log(-math32.Log(u))
		} else {
			noise[ii] = float32(n.random.NormFloat64())
		}
	}
	return tensors.FromFlatDataAndDimensions(noise, rows, n.NumActions)
}
