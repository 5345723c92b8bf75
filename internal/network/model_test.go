package network

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/require"
	"math/rand/v2"
	"testing"
)

// TestAdvantageStopsValueGradient checks that the policy term of the loss only trains the policy
// head (and the trunk), while the value term trains the value head.
func TestAdvantageStopsValueGradient(t *testing.T) {
	for _, config := range []string{"", "categorical=false"} {
		t.Run("config="+config, func(t *testing.T) {
			n := newTestNetwork(t, 3, config)
			rng := rand.New(rand.NewPCG(8, 1))
			batch := randomBatch(rng, n, 6)
			f, _, err := n.batchFeed(batch, Hyperparameters{LearningRate: 1e-3, Beta: 0.1})
			require.NoError(t, err)
			policyPath := "/policy/dense/weights"
			if !n.Categorical() {
				policyPath = "/mu/dense/weights"
			}

			layout := n.layout(inObservations, inReturns, inActions, inBeta)
			outputs := context.ExecOnceN(n.backend, n.ctx, func(ctx *context.Context, inputs []*Node) []*Node {
				l := n.lossGraph(ctx, unpack(layout, inputs))
				g := l.Total.Graph()
				var valueWeights, policyWeights *Node
				for _, v := range trainableVariables(ctx) {
					switch variablePath(v) {
					case "/value/dense/weights":
						valueWeights = v.ValueGraph(g)
					case policyPath:
						policyWeights = v.ValueGraph(g)
					}
				}
				advantageGrads := Gradient(l.PolicyAdvantage, valueWeights, policyWeights)
				valueGrads := Gradient(l.Value, valueWeights)
				return []*Node{
					ReduceAllSum(Abs(advantageGrads[0])),
					ReduceAllSum(Abs(advantageGrads[1])),
					ReduceAllSum(Abs(valueGrads[0])),
				}
			}, n.args(&f, layout)...)

			require.Equal(t, float32(0), tensors.ToScalar[float32](outputs[0]), "advantage must not train the value head")
			require.Greater(t, tensors.ToScalar[float32](outputs[1]), float32(0))
			require.Greater(t, tensors.ToScalar[float32](outputs[2]), float32(0))
		})
	}
}
