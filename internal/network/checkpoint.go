package network

import (
	"fmt"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ErrCheckpointNotFound is returned (wrapped) by Load when there is no checkpoint to load.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// checkpointDir returns the directory of the checkpoint of the given episode.
func (n *Network) checkpointDir(episode int) string {
	return filepath.Join(n.settings.checkpointDir, fmt.Sprintf("%s_%08d", n.ModelName, episode))
}

// Save the model variables (including the optimizer state and the global step) to the checkpoint
// of the given episode, replacing it if it already exists.
//
// If ParamSaveModels is false it only logs a warning.
func (n *Network) Save(episode int) error {
	if !n.settings.saveModels {
		klog.Warningf("Model %s: %s=false, not saving episode %d", n.ModelName, ParamSaveModels, episode)
		return nil
	}
	if episode < 0 {
		return errors.Errorf("model %s: invalid episode %d to save", n.ModelName, episode)
	}
	n.muSave.Lock()
	defer n.muSave.Unlock()
	n.muLearning.RLock()
	defer n.muLearning.RUnlock()

	dir := n.checkpointDir(episode)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "model %s: failed to remove previous checkpoint in %q", n.ModelName, dir)
	}
	handler, err := checkpoints.Build(n.ctx).Dir(dir).Keep(1).Done()
	if err != nil {
		return errors.WithMessagef(err, "model %s: failed to create checkpoint in %q", n.ModelName, dir)
	}
	if err = handler.Save(); err != nil {
		return errors.WithMessagef(err, "model %s: failed to save checkpoint in %q", n.ModelName, dir)
	}
	klog.V(1).Infof("Model %s: saved episode %d to %s", n.ModelName, episode, dir)
	return nil
}

// Load the latest checkpoint of the model (the one with the highest episode), or the one of
// ParamLoadEpisode if it is set. It returns the episode loaded.
//
// On error the network is left unchanged.
func (n *Network) Load() (int, error) {
	dir, episode, err := n.findCheckpoint()
	if err != nil {
		return 0, err
	}
	n.muLearning.Lock()
	defer n.muLearning.Unlock()
	ctx := newContext()
	copyParams(n.ctx, ctx)
	if err = n.restore(ctx, dir); err != nil {
		return 0, err
	}
	n.LoadedEpisode = episode
	return episode, nil
}

// restore loads the checkpoint in dir into ctx, and makes it the network's context.
func (n *Network) restore(ctx *context.Context, dir string) error {
	if !hasCheckpoint(dir) {
		return errors.Wrapf(ErrCheckpointNotFound, "model %s: no checkpoint files in %q", n.ModelName, dir)
	}
	_, err := checkpoints.Load(ctx).Dir(dir).Immediate().ExcludeAllParams().Done()
	if err != nil {
		return errors.WithMessagef(err, "model %s: failed to load checkpoint from %q", n.ModelName, dir)
	}
	if err = n.setContext(ctx); err != nil {
		ctx.Finalize()
		return err
	}
	klog.V(1).Infof("Model %s: loaded checkpoint from %s", n.ModelName, dir)
	return nil
}

// findCheckpoint returns the directory and episode of the checkpoint to load.
func (n *Network) findCheckpoint() (dir string, episode int, err error) {
	if n.settings.loadEpisode > 0 {
		episode = n.settings.loadEpisode
		dir = n.checkpointDir(episode)
		if !hasCheckpoint(dir) {
			err = errors.Wrapf(ErrCheckpointNotFound, "model %s: no checkpoint for episode %d in %q",
				n.ModelName, episode, dir)
		}
		return
	}

	entries, readErr := os.ReadDir(n.settings.checkpointDir)
	if readErr != nil && !os.IsNotExist(readErr) {
		err = errors.Wrapf(readErr, "model %s: failed to list checkpoints in %q", n.ModelName, n.settings.checkpointDir)
		return
	}
	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(n.ModelName) + `_(\d{8,})$`)
	episode = -1
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		matches := pattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		entryEpisode, convErr := strconv.Atoi(matches[1])
		if convErr != nil || entryEpisode <= episode {
			continue
		}
		entryDir := filepath.Join(n.settings.checkpointDir, entry.Name())
		if !hasCheckpoint(entryDir) {
			klog.Warningf("Model %s: skipping %q, it holds no checkpoint", n.ModelName, entryDir)
			continue
		}
		episode = entryEpisode
		dir = entryDir
	}
	if episode < 0 {
		err = errors.Wrapf(ErrCheckpointNotFound, "model %s: no checkpoints in %q", n.ModelName, n.settings.checkpointDir)
		episode = 0
	}
	return
}

// VariableNames returns the path of every trainable variable, sorted.
func (n *Network) VariableNames() []string {
	n.muLearning.RLock()
	defer n.muLearning.RUnlock()
	vars := trainableVariables(n.ctx)
	names := make([]string, len(vars))
	for ii, v := range vars {
		names[ii] = variablePath(v)
	}
	return names
}

// VariableValue returns a copy of the current value of the variable with the given path.
func (n *Network) VariableValue(name string) (*tensors.Tensor, error) {
	n.muLearning.RLock()
	defer n.muLearning.RUnlock()
	for _, v := range trainableVariables(n.ctx) {
		if variablePath(v) == name {
			value := v.Value()
			return tensors.FromFlatDataAndDimensions(tensors.CopyFlatData[float32](value), value.Shape().Dimensions...), nil
		}
	}
	return nil, errors.Errorf("model %s: unknown variable %q", n.ModelName, name)
}

// hasCheckpoint returns whether dir holds at least one saved checkpoint, e.g. it is not left
// over from a failed Save.
func hasCheckpoint(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "checkpoint-") && strings.HasSuffix(name, checkpoints.JsonNameSuffix) {
			return true
		}
	}
	return false
}
