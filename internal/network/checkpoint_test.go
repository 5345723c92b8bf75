package network

import (
	"fmt"
	"github.com/etienne87/GA3C/internal/parameters"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	config := fmt.Sprintf("save_models=true,checkpoint_dir=%s", dir)
	n := newTestNetwork(t, 3, config)
	rng := rand.New(rand.NewPCG(4, 1))
	batch := randomBatch(rng, n, 6)
	for range 3 {
		_, err := n.Train(batch, n.DefaultHyperparameters())
		require.NoError(t, err)
	}
	want, err := n.PredictValue(batch.Observations)
	require.NoError(t, err)
	require.NoError(t, n.Save(3))
	require.DirExists(t, filepath.Join(dir, "test_00000003"))

	// A network with a different seed loads the checkpoint at creation.
	loaded, err := New("", "test", 3, parameters.NewFromConfigString(
		testConfig+",seed=7,load_checkpoint=true,"+config))
	require.NoError(t, err)
	defer loaded.Finalize()
	require.Equal(t, 3, loaded.LoadedEpisode)
	require.Equal(t, int64(3), loaded.GlobalStep())
	got, err := loaded.PredictValue(batch.Observations)
	require.NoError(t, err)
	require.InDeltaSlice(t, want, got, 1e-5)

	// Training continues from the loaded state, optimizer included.
	_, err = n.Train(batch, n.DefaultHyperparameters())
	require.NoError(t, err)
	_, err = loaded.Train(batch, loaded.DefaultHyperparameters())
	require.NoError(t, err)
	want, err = n.PredictValue(batch.Observations)
	require.NoError(t, err)
	got, err = loaded.PredictValue(batch.Observations)
	require.NoError(t, err)
	require.InDeltaSlice(t, want, got, 1e-4)
}

func TestLoadLatest(t *testing.T) {
	dir := t.TempDir()
	config := fmt.Sprintf("save_models=true,checkpoint_dir=%s", dir)
	n := newTestNetwork(t, 2, config)
	require.NoError(t, n.Save(12))
	require.NoError(t, n.Save(3))
	// Not checkpoints of this model.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "other_00000099"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "test_latest"), 0755))
	// Left over by a failed save: no checkpoint files.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "test_00000050"), 0755))

	episode, err := n.Load()
	require.NoError(t, err)
	require.Equal(t, 12, episode)
	require.Equal(t, 12, n.LoadedEpisode)

	// Still usable after loading.
	rng := rand.New(rand.NewPCG(4, 2))
	_, err = n.PredictValue(randomObservations(rng, n, 2))
	require.NoError(t, err)

	specific := newTestNetwork(t, 2, config+",load_episode=3")
	episode, err = specific.Load()
	require.NoError(t, err)
	require.Equal(t, 3, episode)

	missing := newTestNetwork(t, 2, config+",load_episode=4")
	_, err = missing.Load()
	require.True(t, errors.Is(err, ErrCheckpointNotFound), "got %v", err)
}

func TestLoadNotFound(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does_not_exist")
	n := newTestNetwork(t, 2, "checkpoint_dir="+dir)
	_, err := n.Load()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCheckpointNotFound))

	_, err = New("", "test", 2, parameters.NewFromConfigString(
		testConfig+",load_checkpoint=true,checkpoint_dir="+dir))
	require.True(t, errors.Is(err, ErrCheckpointNotFound))
}

func TestLoadEmptyCheckpointDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "test_00000050"), 0755))
	n := newTestNetwork(t, 2, "checkpoint_dir="+dir)
	_, err := n.Load()
	require.True(t, errors.Is(err, ErrCheckpointNotFound), "got %v", err)
	require.Zero(t, n.LoadedEpisode)

	specific := newTestNetwork(t, 2, "load_episode=50,checkpoint_dir="+dir)
	_, err = specific.Load()
	require.True(t, errors.Is(err, ErrCheckpointNotFound), "got %v", err)

	_, err = New("", "test", 2, parameters.NewFromConfigString(
		testConfig+",load_checkpoint=true,checkpoint_dir="+dir))
	require.True(t, errors.Is(err, ErrCheckpointNotFound), "got %v", err)

	// Loading an empty directory directly is an error too, and the network is left unchanged.
	require.Error(t, n.restore(newContext(), filepath.Join(dir, "test_00000050")))
	rng := rand.New(rand.NewPCG(4, 3))
	_, err = n.PredictValue(randomObservations(rng, n, 2))
	require.NoError(t, err)
}

func TestSaveDisabled(t *testing.T) {
	dir := t.TempDir()
	n := newTestNetwork(t, 2, "checkpoint_dir="+dir)
	require.NoError(t, n.Save(1))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
