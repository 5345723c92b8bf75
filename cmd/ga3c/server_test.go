package main

import (
	"context"
	"github.com/etienne87/GA3C/internal/network"
	"github.com/etienne87/GA3C/internal/parameters"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestServerRun(t *testing.T) {
	for _, config := range []string{"", "rnn", "categorical=false"} {
		t.Run("config="+config, func(t *testing.T) {
			checkpointDir, logDir := t.TempDir(), t.TempDir()
			params := parameters.NewFromConfigString(config + ",image_height=3,image_width=4,stacked_frames=2,cells=8,seed=3," +
				"tensorboard,save_models,checkpoint_dir=" + checkpointDir + ",log_dir=" + logDir)
			numActions := len(moves)
			if config == "categorical=false" {
				numActions = continuousActions
			}
			net, err := network.New("", "toy", numActions, params)
			require.NoError(t, err)
			defer net.Finalize()

			server := NewServer(net, Config{
				NumAgents:       3,
				NumPredictors:   2,
				PredictionBatch: 4,
				TrainingBatch:   8,
				MaxSegment:      4,
				Discount:        0.9,
				EpisodeSteps:    10,
				Episodes:        6,
				SummaryEvery:    1,
				SaveEvery:       3,
				ReportEvery:     2,
				StatsWindow:     10,
				Seed:            1,
			})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			require.NoError(t, server.Run(ctx))
			require.NoError(t, ctx.Err(), "Run should stop after the episodes, not on timeout")

			require.GreaterOrEqual(t, server.Stats.Episodes, 6)
			require.GreaterOrEqual(t, server.Stats.Steps, 60)
			require.Greater(t, server.TrainSteps(), 0)
			require.Equal(t, int64(server.TrainSteps()), net.GlobalStep())
			require.DirExists(t, filepath.Join(checkpointDir, "toy_00000003"))
			require.FileExists(t, filepath.Join(logDir, "toy", "events.jsonl"))

			// A new run continues the episode count of the loaded checkpoint.
			require.NoError(t, net.Save(server.Episode()))
			episode, err := net.Load()
			require.NoError(t, err)
			require.Equal(t, server.Episode(), episode)
			entries, err := os.ReadDir(checkpointDir)
			require.NoError(t, err)
			require.NotEmpty(t, entries)
		})
	}
}

func TestServerRunInvalidConfig(t *testing.T) {
	net, err := network.New("", "toy", len(moves), parameters.NewFromConfigString("image_height=3,image_width=4,stacked_frames=2,cells=8"))
	require.NoError(t, err)
	defer net.Finalize()
	require.Error(t, NewServer(net, Config{}).Run(context.Background()))
}

func TestServerCancel(t *testing.T) {
	net, err := network.New("", "toy", len(moves), parameters.NewFromConfigString("image_height=3,image_width=4,stacked_frames=2,cells=8"))
	require.NoError(t, err)
	defer net.Finalize()
	server := NewServer(net, Config{
		NumAgents: 2, NumPredictors: 1, PredictionBatch: 2, TrainingBatch: 4, MaxSegment: 2,
		Discount: 0.9, EpisodeSteps: 5, StatsWindow: 10, Seed: 2,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	go func() {
		for server.Episode() == 0 {
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
	}()
	// Plays indefinitely until the context is cancelled, which is not an error.
	require.NoError(t, server.Run(ctx))
	require.Greater(t, server.Stats.Episodes, 0)
}
