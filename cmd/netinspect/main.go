// netinspect loads a GA3C network checkpoint and prints statistics of its trainable variables.
//
// Example:
//
//	netinspect -model=ga3c -config="rnn,cells=64,checkpoint_dir=checkpoints"
package main

import (
	"flag"
	"fmt"
	"github.com/etienne87/GA3C/internal/network"
	"github.com/etienne87/GA3C/internal/parameters"
	"github.com/janpfeifer/must"
	"golang.org/x/term"
	"k8s.io/klog/v2"
	"os"
)

var (
	flagConfig = flag.String("config", "", "Network configuration used when training the model: "+
		"comma separated key=value pairs. It must match the shapes of the checkpoint.")
	flagDevice     = flag.String("device", "", "GoMLX backend configuration. If empty, uses the default backend.")
	flagModel      = flag.String("model", "ga3c", "Name of the model to load.")
	flagNumActions = flag.Int("num_actions", 5, "Number of actions of the model.")
	flagBuckets    = flag.Int("buckets", 16, "Number of buckets of the histogram of values of each variable.")
	flagNoLoad     = flag.Bool("no_load", false, "Don't load a checkpoint: inspect the freshly initialized variables.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	params := parameters.NewFromConfigString(*flagConfig)
	if !*flagNoLoad {
		params[network.ParamLoadCheckpoint] = "true"
	}
	net := must.M1(network.New(*flagDevice, *flagModel, *flagNumActions, params))
	defer net.Finalize()

	stats := must.M1(collectStats(net, *flagBuckets))
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		width = 0
	}
	fmt.Printf("Model %s, episode %d, global step %d:\n", net.ModelName, net.LoadedEpisode, net.GlobalStep())
	fmt.Println(renderTable(stats, width))
}
