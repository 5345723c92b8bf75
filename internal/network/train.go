package network

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Train performs one optimization step on the batch, and returns the total loss before the step.
//
// If ParamTrainModels is false it does nothing.
func (n *Network) Train(batch *Batch, hp Hyperparameters) (float32, error) {
	if !n.settings.trainModels {
		klog.V(2).Infof("Model %s: training disabled (%s=false)", n.ModelName, ParamTrainModels)
		return 0, nil
	}
	f, _, err := n.batchFeed(batch, hp)
	if err != nil {
		return 0, errors.WithMessagef(err, "model %s", n.ModelName)
	}
	n.muLearning.Lock()
	defer n.muLearning.Unlock()
	outputs, err := n.call(n.trainExec, &f, n.layout(inObservations, inReturns, inActions, inBeta, inLearningRate))
	if err != nil {
		return 0, err
	}
	return tensors.ToScalar[float32](outputs[0]), nil
}

// Losses of the network on a batch.
type Losses struct {
	Total, Value, Policy float32

	// PolicyAdvantage and Entropy are the two terms of Policy = -(PolicyAdvantage + Entropy),
	// the entropy already multiplied by β.
	PolicyAdvantage, Entropy float32
}

// Losses evaluates the losses on the batch, without training.
func (n *Network) Losses(batch *Batch, hp Hyperparameters) (Losses, error) {
	f, _, err := n.batchFeed(batch, hp)
	if err != nil {
		return Losses{}, errors.WithMessagef(err, "model %s", n.ModelName)
	}
	n.muLearning.RLock()
	defer n.muLearning.RUnlock()
	outputs, err := n.call(n.lossExec, &f, n.layout(inObservations, inReturns, inActions, inBeta))
	if err != nil {
		return Losses{}, err
	}
	values := make([]float32, len(outputs))
	for ii, t := range outputs {
		values[ii] = tensors.ToScalar[float32](t)
	}
	return Losses{
		Total:           values[0],
		Value:           values[1],
		Policy:          values[2],
		PolicyAdvantage: values[3],
		Entropy:         values[4],
	}, nil
}

// VariableGradient is the gradient of the total loss with respect to one variable, after clipping.
type VariableGradient struct {
	// Name is the variable path, e.g. "/trunk/dense/weights".
	Name       string
	Dimensions []int
	Values     []float32

	// AverageNorm is the L2 norm of Values divided by its number of elements: it is at most
	// the configured clipping norm.
	AverageNorm float32
}

// Gradients returns the clipped gradients of the total loss on the batch, for each trainable
// variable, as they would be used by Train.
func (n *Network) Gradients(batch *Batch, hp Hyperparameters) ([]VariableGradient, error) {
	f, _, err := n.batchFeed(batch, hp)
	if err != nil {
		return nil, errors.WithMessagef(err, "model %s", n.ModelName)
	}
	n.muLearning.RLock()
	defer n.muLearning.RUnlock()
	outputs, err := n.call(n.gradientsExec, &f, n.layout(inObservations, inReturns, inActions, inBeta))
	if err != nil {
		return nil, err
	}
	vars := trainableVariables(n.ctx)
	if len(vars) != len(outputs) {
		return nil, errors.Errorf("model %s: got %d gradients for %d trainable variables", n.ModelName, len(outputs), len(vars))
	}
	grads := make([]VariableGradient, len(vars))
	for ii, v := range vars {
		values := tensors.CopyFlatData[float32](outputs[ii])
		var sumSquares float32
		for _, value := range values {
			sumSquares += value * value
		}
		grads[ii] = VariableGradient{
			Name:        variablePath(v),
			Dimensions:  outputs[ii].Shape().Dimensions,
			Values:      values,
			AverageNorm: math32.Sqrt(sumSquares) / float32(len(values)),
		}
	}
	return grads, nil
}
