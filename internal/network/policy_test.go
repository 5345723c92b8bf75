package network

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/require"
	"math"
	"math/rand/v2"
	"testing"
)

func TestGaussianSampleVariance(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	rng := rand.New(rand.NewPCG(5, 1))
	const numSamples = 20000
	noise := make([]float32, numSamples)
	for ii := range noise {
		noise[ii] = float32(rng.NormFloat64())
	}

	var previousVariance float64
	for _, sigma := range []float64{0.1, 0.5, 2} {
		samplesT := graph.ExecOnce(backend, func(noise *graph.Node) *graph.Node {
			d := &gaussian{
				mu:    graph.AddScalar(graph.ZerosLike(noise), 3),
				sigma: graph.MulScalar(graph.OnesLike(noise), sigma),
			}
			return d.Sample(noise)
		}, tensors.FromFlatDataAndDimensions(noise, numSamples, 1))
		samples := tensors.CopyFlatData[float32](samplesT)
		var sum, sumSquares float64
		for _, s := range samples {
			sum += float64(s)
			sumSquares += float64(s) * float64(s)
		}
		mean := sum / numSamples
		variance := sumSquares/numSamples - mean*mean
		require.InDelta(t, 3, mean, 0.05*max(sigma, 1))
		require.InEpsilon(t, sigma*sigma, variance, 0.05, "sigma=%g", sigma)
		require.Greater(t, variance, previousVariance)
		previousVariance = variance
	}
}

func TestGaussianLogProbabilityAndEntropy(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	outputs := graph.ExecOnceN(backend, func(actions *graph.Node) []*graph.Node {
		d := &gaussian{
			mu:    graph.ZerosLike(actions),
			sigma: graph.OnesLike(actions),
		}
		return []*graph.Node{d.LogProbability(actions), d.Entropy()}
	}, [][]float32{{0, 0}, {1, -1}})
	logProb := tensors.CopyFlatData[float32](outputs[0])
	entropy := tensors.CopyFlatData[float32](outputs[1])

	// Two action values, each with log-probability -(a²)/(2+ε) - ½log(2π) - log(1+ε).
	perValue := func(a float64) float64 {
		return -a*a/(2+sigmaEpsilon) - 0.5*math.Log(2*math.Pi) - math.Log(1+sigmaEpsilon)
	}
	require.InDelta(t, 2*perValue(0), logProb[0], 1e-4)
	require.InDelta(t, 2*perValue(1), logProb[1], 1e-4)
	wantEntropy := 2 * (math.Log(1+sigmaEpsilon) + 0.5*math.Log(2*math.Pi*math.E))
	require.InDelta(t, wantEntropy, entropy[0], 1e-4)
}

func TestCategorical(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	outputs := graph.ExecOnceN(backend, func(logits, actions, noise *graph.Node) []*graph.Node {
		c := &categorical{
			logits:           logits,
			probabilities:    graph.Softmax(logits, -1),
			logProbabilities: graph.LogSoftmax(logits, -1),
		}
		return []*graph.Node{c.LogProbability(actions), c.Entropy(), c.Mask(actions), c.Sample(noise)}
	},
		[][]float32{{0, 0, 0, 0}, {100, 0, 0, 0}},
		[][]float32{{0, 1, 0, 0}, {0, 0, 0, 0}},
		[][]float32{{0, 0, 5, 0}, {0, 3, 3, 3}})
	logProb := tensors.CopyFlatData[float32](outputs[0])
	entropy := tensors.CopyFlatData[float32](outputs[1])
	mask := tensors.CopyFlatData[float32](outputs[2])
	samples := tensors.CopyFlatData[int32](outputs[3])

	require.InDelta(t, -math.Log(4), logProb[0], 1e-5)
	require.InDelta(t, 0, logProb[1], 1e-5, "no action taken")
	require.InDelta(t, math.Log(4), entropy[0], 1e-5)
	require.InDelta(t, 0, entropy[1], 1e-5)
	require.Equal(t, []float32{1, 0}, mask)
	// Uniform logits: the noise decides. Dominant logit: the noise is not enough to change it.
	require.Equal(t, []int32{2, 0}, samples)
}

func TestClipByAverageNorm(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	outputs := graph.ExecOnceN(backend, func(small, large *graph.Node) []*graph.Node {
		return []*graph.Node{clipByAverageNorm(small, 1), clipByAverageNorm(large, 1)}
	}, []float32{0.5, 0.5}, []float32{30, 40})
	// ‖(0.5, 0.5)‖/2 ≈ 0.35 < 1: unchanged.
	require.InDeltaSlice(t, []float32{0.5, 0.5}, tensors.CopyFlatData[float32](outputs[0]), 1e-6)
	// ‖(30, 40)‖/2 = 25: scaled by 1/25.
	require.InDeltaSlice(t, []float32{1.2, 1.6}, tensors.CopyFlatData[float32](outputs[1]), 1e-5)
}

func TestSoftplusAndElu(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	outputs := graph.ExecOnceN(backend, func(x *graph.Node) []*graph.Node {
		return []*graph.Node{softplus(x), elu(x)}
	}, []float32{-50, -1, 0, 1, 50})
	wantSoftplus := []float32{0, float32(math.Log1p(math.Exp(-1))), float32(math.Log(2)), float32(math.Log1p(math.E)), 50}
	require.InDeltaSlice(t, wantSoftplus, tensors.CopyFlatData[float32](outputs[0]), 1e-5)
	wantElu := []float32{float32(math.Expm1(-50)), float32(math.Expm1(-1)), 0, 1, 50}
	require.InDeltaSlice(t, wantElu, tensors.CopyFlatData[float32](outputs[1]), 1e-5)
}
