package network

import (
	"bufio"
	"encoding/json"
	"github.com/etienne87/GA3C/internal/summary"
	"github.com/stretchr/testify/require"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

// readEvents returns the last scalar or histogram event of each tag, and the number of images.
func readEvents(t *testing.T, dir string) (events map[string]summary.Event, numImages int) {
	f, err := os.Open(filepath.Join(dir, summary.EventsFileName))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	events = make(map[string]summary.Event)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(nil, 1<<20)
	for scanner.Scan() {
		var e summary.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		if e.Kind == summary.KindImage {
			require.FileExists(t, filepath.Join(dir, e.Path))
			numImages++
			continue
		}
		events[e.Tag] = e
	}
	require.NoError(t, scanner.Err())
	return
}

func TestLogSummaries(t *testing.T) {
	for _, categorical := range []bool{true, false} {
		logDir := t.TempDir()
		config := "tensorboard=true,log_dir=" + logDir
		policyTags := []string{"activation_p"}
		if !categorical {
			config += ",categorical=false"
			policyTags = []string{"mu", "sigma", "l2dist"}
		}
		n := newTestNetwork(t, 3, config)
		rng := rand.New(rand.NewPCG(6, 1))
		batch := randomBatch(rng, n, 5)
		hp := Hyperparameters{LearningRate: 1e-3, Beta: 0.05}
		_, err := n.Train(batch, hp)
		require.NoError(t, err)
		require.NoError(t, n.LogSummaries(batch, hp, 7.5))

		events, numImages := readEvents(t, filepath.Join(logDir, "test"))
		losses, err := n.Losses(batch, hp)
		require.NoError(t, err)
		require.InDelta(t, losses.Value, events["Vcost"].Value, 1e-4)
		require.InDelta(t, losses.Policy, events["Pcost"].Value, 1e-4)
		require.InDelta(t, losses.PolicyAdvantage, events["Pcost_advantage"].Value, 1e-4)
		require.InDelta(t, losses.Entropy, events["Pcost_entropy"].Value, 1e-4)
		require.Equal(t, float32(7.5), events["Reward_average"].Value)
		require.Equal(t, float32(0.05), events["Beta"].Value)
		require.Equal(t, float32(1e-3), events["LearningRate"].Value)
		require.Equal(t, int64(1), events["Vcost"].Step)

		for _, tag := range append(policyTags, "action_taken", "activation_d1", "activation_v", "weights_/trunk/dense/weights") {
			e, found := events[tag]
			require.Truef(t, found, "histogram %q not found", tag)
			require.Equal(t, summary.KindHistogram, e.Kind)
		}
		require.Equal(t, 5, events["activation_v"].Histogram.Count)
		require.Equal(t, 5*16, events["activation_d1"].Histogram.Count)

		// Weights of the input layer as images, one per unit.
		require.Equal(t, maxWeightImages, numImages)
		matches, err := filepath.Glob(filepath.Join(logDir, "test", "images", "weights__trunk_dense_weights-00000001-*.png"))
		require.NoError(t, err)
		require.Len(t, matches, maxWeightImages)
	}
}

func TestLogSummariesDisabled(t *testing.T) {
	logDir := t.TempDir()
	n := newTestNetwork(t, 3, "log_dir="+logDir)
	rng := rand.New(rand.NewPCG(6, 2))
	require.NoError(t, n.LogSummaries(randomBatch(rng, n, 2), n.DefaultHyperparameters(), 0))
	require.NoDirExists(t, filepath.Join(logDir, "test"))
}
