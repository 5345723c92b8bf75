// ga3c trains a GA3C network on a toy "chase" environment: a number of agents play
// simultaneously, their predictions served in batches, while a trainer updates the network.
//
// The network is configured with -config, e.g.:
//
//	ga3c -config="rnn,cells=64,tensorboard,save_models" -episodes=2000
package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/etienne87/GA3C/internal/interrupt"
	"github.com/etienne87/GA3C/internal/network"
	"github.com/etienne87/GA3C/internal/parameters"
	"github.com/etienne87/GA3C/internal/profilers"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"runtime"
	"time"
)

var (
	flagConfig = flag.String("config", "", "Network configuration: comma separated key=value pairs, "+
		"e.g. \"rnn,cells=64,categorical=false\".")
	flagDevice = flag.String("device", "", "GoMLX backend configuration, e.g. \"xla:cuda\". "+
		"If empty, uses the default backend.")
	flagModel = flag.String("model", "ga3c", "Name of the model, used for checkpoints and summaries.")
	flagLoad  = flag.Bool("load", false, "Load the latest checkpoint (or the one set by load_episode in -config) "+
		"before training, if there is one.")
	flagEpisodes = flag.Int("episodes", 1000, "Number of episodes to play. "+
		"A value of <= 0 means to play indefinitely, until interrupted.")
	flagAgents = flag.Int("agents", 0, "Number of agents playing simultaneously. "+
		"If <= 0 it uses GOMAXPROCS.")
	flagPredictors      = flag.Int("predictors", 2, "Number of goroutines serving predictions.")
	flagPredictionBatch = flag.Int("prediction_batch", 32, "Maximum number of predictions served at once.")
	flagTrainingBatch   = flag.Int("training_batch", 40, "Minimum number of steps in each training batch.")
	flagTMax            = flag.Int("t_max", 5, "Maximum number of steps before bootstrapping the returns "+
		"with the estimated value.")
	flagDiscount     = flag.Float64("discount", 0.99, "Discount factor of the rewards.")
	flagEpisodeSteps = flag.Int("episode_steps", 100, "Number of steps of each episode.")
	flagSummaryEvery = flag.Int("summary_every", 100, "Log summaries every these many training steps "+
		"(only if tensorboard is enabled in -config).")
	flagSaveEvery = flag.Int("save_every", 500, "Save a checkpoint every these many episodes "+
		"(only if save_models is enabled in -config).")
	flagReportEvery = flag.Int("report_every", 50, "Log the average reward every these many episodes.")
	flagStatsWindow = flag.Int("stats_window", 100, "Number of episodes to average the reward over.")
	flagSeed        = flag.Uint64("seed", 1, "Seed for the environments.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	// Capture Control+C
	ctx, cancel := interrupt.WithCancelOnSignal(context.Background(), 5*time.Second)
	defer cancel()

	prof := must.M1(profilers.Setup(ctx))
	defer prof.Stop()

	net := must.M1(createNetwork())
	defer net.Finalize()
	fmt.Printf("Network: %s\n", net)

	server := NewServer(net, configFromFlags())
	start := time.Now()
	must.M(server.Run(ctx))
	if ctx.Err() != nil {
		fmt.Printf("Interrupted: %s\n", ctx.Err())
	}
	fmt.Printf("Played %d episodes (%d steps), %d training steps in %s: average reward %.3f\n",
		server.Stats.Episodes, server.Stats.Steps, server.TrainSteps(), time.Since(start), server.Stats.AverageReward())
	must.M(net.Save(server.Episode()))
}

// createNetwork from the flags, loading a checkpoint if requested.
func createNetwork() (*network.Network, error) {
	params := parameters.NewFromConfigString(*flagConfig)
	categorical, err := parameters.GetParamOr(params, network.ParamCategorical, true)
	if err != nil {
		return nil, err
	}
	numActions := len(moves)
	if !categorical {
		numActions = continuousActions
	}
	net, err := network.New(*flagDevice, *flagModel, numActions, params)
	if err != nil {
		return nil, err
	}
	if *flagLoad && net.LoadedEpisode == 0 {
		_, err = net.Load()
		if errors.Is(err, network.ErrCheckpointNotFound) {
			klog.Warningf("No checkpoint to load, starting from scratch: %v", err)
		} else if err != nil {
			net.Finalize()
			return nil, err
		}
	}
	return net, nil
}

func configFromFlags() Config {
	numAgents := *flagAgents
	if numAgents <= 0 {
		numAgents = runtime.GOMAXPROCS(0)
	}
	return Config{
		NumAgents:       numAgents,
		NumPredictors:   *flagPredictors,
		PredictionBatch: *flagPredictionBatch,
		TrainingBatch:   *flagTrainingBatch,
		MaxSegment:      *flagTMax,
		Discount:        float32(*flagDiscount),
		EpisodeSteps:    *flagEpisodeSteps,
		Episodes:        *flagEpisodes,
		SummaryEvery:    *flagSummaryEvery,
		SaveEvery:       *flagSaveEvery,
		ReportEvery:     *flagReportEvery,
		StatsWindow:     *flagStatsWindow,
		Seed:            *flagSeed,
	}
}
