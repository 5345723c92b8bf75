package network

import (
	"github.com/etienne87/GA3C/internal/parameters"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Hyperparameters keys, stored in the network's context.
//
// The learning rate and the entropy coefficient β set here are only the initial values
// returned by Network.DefaultHyperparameters: each training call receives its own.
const (
	ParamImageWidth    = "image_width"
	ParamImageHeight   = "image_height"
	ParamStackedFrames = "stacked_frames"
	ParamBeta          = "beta"
	ParamLogEpsilon    = "log_epsilon"
	ParamCells         = "cells"
	ParamRNN           = "rnn"
	ParamCategorical   = "categorical"
	ParamGradClipNorm  = "grad_clip_norm"
	ParamTrunk         = "trunk"
	ParamAdamBeta1     = "adam_beta1"
	ParamAdamBeta2     = "adam_beta2"
	ParamLSTMForget    = "lstm_forget_bias"
	ParamSeed          = "seed"

	ParamTensorBoard    = "tensorboard"
	ParamLogDir         = "log_dir"
	ParamSaveModels     = "save_models"
	ParamLoadCheckpoint = "load_checkpoint"
	ParamLoadEpisode    = "load_episode"
	ParamCheckpointDir  = "checkpoint_dir"
	ParamTrainModels    = "train_models"
)

// Trunk types, selected with ParamTrunk.
const (
	TrunkDense = "dense"
	TrunkNIPS  = "nips"
	TrunkJChoi = "jchoi"
)

// newContext creates a context with the hyperparameters set to their defaults.
func newContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		// Input: stacked frames of height x width.
		ParamImageWidth:    84,
		ParamImageHeight:   84,
		ParamStackedFrames: 4,

		// Model.
		ParamTrunk:       TrunkDense,
		ParamCells:       256,
		ParamRNN:         false,
		ParamLSTMForget:  1.0,
		ParamCategorical: true,
		ParamLogEpsilon:  1e-6,

		// Optimizer and losses.
		optimizers.ParamLearningRate: 3e-4,
		optimizers.ParamAdamEpsilon:  1e-8,
		ParamAdamBeta1:               0.9,
		ParamAdamBeta2:               0.999,
		ParamBeta:                    1e-2,
		ParamGradClipNorm:            40.0,
		ParamTrainModels:             true,

		// Seed for the initialization and the sampling noise: 0 means a random seed.
		ParamSeed: 0,

		// Persistence and summaries.
		ParamCheckpointDir:  "checkpoints",
		ParamSaveModels:     false,
		ParamLoadCheckpoint: false,
		ParamLoadEpisode:    0,
		ParamTensorBoard:    false,
		ParamLogDir:         "logs",
	})
	return ctx.Checked(false)
}

// extractParams pops from params the values of the hyperparameters defined in ctx, and writes
// them as context hyperparameters, converted to the type of their default value.
func extractParams(modelName string, params parameters.Params, ctx *context.Context) error {
	var err error
	ctx.EnumerateParams(func(scope, key string, valueAny any) {
		if err != nil {
			// If error happened skip the rest.
			return
		}
		if scope != context.RootScope {
			return
		}
		var value any
		var newErr error
		switch defaultValue := valueAny.(type) {
		case string:
			value, newErr = parameters.PopParamOr(params, key, defaultValue)
		case int:
			value, newErr = parameters.PopParamOr(params, key, defaultValue)
		case float64:
			value, newErr = parameters.PopParamOr(params, key, defaultValue)
		case float32:
			value, newErr = parameters.PopParamOr(params, key, defaultValue)
		case bool:
			value, newErr = parameters.PopParamOr(params, key, defaultValue)
		default:
			newErr = errors.Errorf("parameter %q is of unknown type %T", key, defaultValue)
		}
		if newErr != nil {
			err = errors.WithMessagef(newErr, "model %s", modelName)
			return
		}
		ctx.SetParam(key, value)
	})
	if err != nil {
		return err
	}
	return errors.WithMessagef(params.CheckAllUsed(), "model %s", modelName)
}

// copyParams copies the root scope hyperparameters of from into to.
func copyParams(from, to *context.Context) {
	from.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			to.SetParam(key, value)
		}
	})
}

// settings are the hyperparameters read once, when the network (or its context) is created.
type settings struct {
	imageWidth, imageHeight, stackedFrames int
	trunk                                  string
	cells                                  int
	rnn, categorical                       bool
	lstmForgetBias                         float64
	logEpsilon                             float64

	learningRate, beta            float64
	gradClipNorm                  float64
	adamBeta1, adamBeta2, adamEps float64
	trainModels                   bool
	seed                          int

	checkpointDir             string
	saveModels, loadCheckpoint bool
	loadEpisode               int
	tensorBoard               bool
	logDir                    string
}

func readSettings(ctx *context.Context) (s settings, err error) {
	s = settings{
		imageWidth:     context.GetParamOr(ctx, ParamImageWidth, 84),
		imageHeight:    context.GetParamOr(ctx, ParamImageHeight, 84),
		stackedFrames:  context.GetParamOr(ctx, ParamStackedFrames, 4),
		trunk:          context.GetParamOr(ctx, ParamTrunk, TrunkDense),
		cells:          context.GetParamOr(ctx, ParamCells, 256),
		rnn:            context.GetParamOr(ctx, ParamRNN, false),
		categorical:    context.GetParamOr(ctx, ParamCategorical, true),
		lstmForgetBias: context.GetParamOr(ctx, ParamLSTMForget, 1.0),
		logEpsilon:     context.GetParamOr(ctx, ParamLogEpsilon, 1e-6),
		learningRate:   context.GetParamOr(ctx, optimizers.ParamLearningRate, 3e-4),
		beta:           context.GetParamOr(ctx, ParamBeta, 1e-2),
		gradClipNorm:   context.GetParamOr(ctx, ParamGradClipNorm, 40.0),
		adamBeta1:      context.GetParamOr(ctx, ParamAdamBeta1, 0.9),
		adamBeta2:      context.GetParamOr(ctx, ParamAdamBeta2, 0.999),
		adamEps:        context.GetParamOr(ctx, optimizers.ParamAdamEpsilon, 1e-8),
		trainModels:    context.GetParamOr(ctx, ParamTrainModels, true),
		seed:           context.GetParamOr(ctx, ParamSeed, 0),
		checkpointDir:  context.GetParamOr(ctx, ParamCheckpointDir, "checkpoints"),
		saveModels:     context.GetParamOr(ctx, ParamSaveModels, false),
		loadCheckpoint: context.GetParamOr(ctx, ParamLoadCheckpoint, false),
		loadEpisode:    context.GetParamOr(ctx, ParamLoadEpisode, 0),
		tensorBoard:    context.GetParamOr(ctx, ParamTensorBoard, false),
		logDir:         context.GetParamOr(ctx, ParamLogDir, "logs"),
	}
	switch {
	case s.imageWidth <= 0 || s.imageHeight <= 0 || s.stackedFrames <= 0:
		err = errors.Errorf("invalid input dimensions %dx%dx%d (width x height x frames)",
			s.imageWidth, s.imageHeight, s.stackedFrames)
	case s.cells <= 0:
		err = errors.Errorf("%s must be > 0, got %d", ParamCells, s.cells)
	case s.gradClipNorm <= 0:
		err = errors.Errorf("%s must be > 0, got %g", ParamGradClipNorm, s.gradClipNorm)
	case s.trunk != TrunkDense && s.trunk != TrunkNIPS && s.trunk != TrunkJChoi:
		err = errors.Errorf("unknown %s=%q, valid values are %q, %q and %q",
			ParamTrunk, s.trunk, TrunkDense, TrunkNIPS, TrunkJChoi)
	}
	return
}

// observationSize is the number of values of one observation: height x width x frames.
func (s *settings) observationSize() int {
	return s.imageHeight * s.imageWidth * s.stackedFrames
}
