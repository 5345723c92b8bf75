package network

import (
	"github.com/etienne87/GA3C/internal/summary"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"image"
	"k8s.io/klog/v2"
	"maps"
	"path/filepath"
	"slices"
	"strings"
)

// maxWeightImages is the maximum number of units of the input layer rendered as images.
const maxWeightImages = 16

// LogSummaries evaluates the network on the batch, the same way as training but without updating
// it, and writes the summaries tagged with the current global step to <log_dir>/<model name>.
//
// averageScore is the recent average reward of the episodes, reported as "Reward_average".
// If ParamTensorBoard is false it does nothing.
func (n *Network) LogSummaries(batch *Batch, hp Hyperparameters, averageScore float32) error {
	if !n.settings.tensorBoard {
		klog.V(1).Infof("Model %s: %s=false, not logging summaries", n.ModelName, ParamTensorBoard)
		return nil
	}
	f, _, err := n.batchFeed(batch, hp)
	if err != nil {
		return errors.WithMessagef(err, "model %s", n.ModelName)
	}
	writer, err := n.summaryWriter()
	if err != nil {
		return err
	}

	n.muLearning.RLock()
	defer n.muLearning.RUnlock()
	outputs, err := n.call(n.summariesExec, &f, n.layout(inObservations, inReturns, inActions, inBeta))
	if err != nil {
		return err
	}
	step := globalStep(n.ctx)

	scalars := []struct {
		tag   string
		value float32
	}{
		{"Pcost_advantage", tensors.ToScalar[float32](outputs[0])},
		{"Pcost_entropy", tensors.ToScalar[float32](outputs[1])},
		{"Pcost", tensors.ToScalar[float32](outputs[2])},
		{"Vcost", tensors.ToScalar[float32](outputs[3])},
		{"LearningRate", hp.LearningRate},
		{"Beta", hp.Beta},
		{"Reward_average", averageScore},
	}
	for _, s := range scalars {
		if err = writer.Scalar(step, s.tag, s.value); err != nil {
			return err
		}
	}

	histograms := map[string][]float32{
		"action_taken":  batch.Actions,
		"activation_d1": tensors.CopyFlatData[float32](outputs[4]),
		"activation_v":  tensors.CopyFlatData[float32](outputs[5]),
	}
	for ii, tag := range n.policyHead.SummaryTags() {
		histograms[tag] = tensors.CopyFlatData[float32](outputs[6+ii])
	}
	vars := trainableVariables(n.ctx)
	for _, v := range vars {
		histograms["weights_"+variablePath(v)] = tensors.CopyFlatData[float32](v.Value())
	}
	for _, tag := range slices.Sorted(maps.Keys(histograms)) {
		if err = writer.Histogram(step, tag, histograms[tag]); err != nil {
			return err
		}
	}

	if n.settings.imageWidth > 1 && n.settings.imageHeight > 1 {
		if v, images := n.inputWeightImages(vars); len(images) > 0 {
			if err = writer.Images(step, "weights_"+variablePath(v), images); err != nil {
				return err
			}
		}
	}
	return writer.Flush()
}

// summaryWriter returns the summary writer, creating it on the first call.
func (n *Network) summaryWriter() (*summary.Writer, error) {
	n.muSummaries.Lock()
	defer n.muSummaries.Unlock()
	if n.summaries != nil {
		return n.summaries, nil
	}
	writer, err := summary.NewWriter(filepath.Join(n.settings.logDir, n.ModelName))
	if err != nil {
		return nil, errors.WithMessagef(err, "model %s", n.ModelName)
	}
	n.summaries = writer
	return writer, nil
}

// inputWeightImages renders the weights of the first trunk layer, the one connected to the
// observations: a convolution kernel or the dense layer over the flattened observations.
func (n *Network) inputWeightImages(vars []*context.Variable) (*context.Variable, []image.Image) {
	height, width, frames := n.ObservationDims()
	trunkScope := context.RootScope + "trunk"
	for _, v := range vars {
		if !strings.HasPrefix(v.Scope(), trunkScope) {
			continue
		}
		dims := v.Shape().Dimensions
		switch {
		case len(dims) == 4 && dims[2] == frames:
			// Convolution kernel: [kernelHeight, kernelWidth, frames, filters].
			values := tensors.CopyFlatData[float32](v.Value())
			return v, summary.WeightImages(values, dims[0], dims[1], frames, dims[3], maxWeightImages)
		case len(dims) == 2 && dims[0] == height*width*frames:
			values := tensors.CopyFlatData[float32](v.Value())
			return v, summary.WeightImages(values, height, width, frames, dims[1], maxWeightImages)
		}
	}
	return nil, nil
}
