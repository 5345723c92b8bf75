package summary

import (
	"github.com/chewxy/math32"
)

// DefaultBuckets used by Writer.Histogram.
const DefaultBuckets = 30

// Histogram summarizes a collection of values, in the same spirit as TensorBoard's histograms:
// overall statistics plus counts over equally sized buckets between Min and Max.
type Histogram struct {
	Count     int     `json:"count"`
	Min       float32 `json:"min"`
	Max       float32 `json:"max"`
	Mean      float32 `json:"mean"`
	Std       float32 `json:"std"`
	NonFinite int     `json:"non_finite,omitempty"`

	// BucketLimits holds the upper limit of each bucket, and BucketCounts the number of
	// values that fell in it.
	BucketLimits []float32 `json:"bucket_limits"`
	BucketCounts []int     `json:"bucket_counts"`
}

// NewHistogram of values using numBuckets buckets. NaN and infinite values are only counted in
// NonFinite. If all values are equal a single bucket is used.
func NewHistogram(values []float32, numBuckets int) Histogram {
	if numBuckets < 1 {
		numBuckets = 1
	}
	h := Histogram{Min: math32.Inf(1), Max: math32.Inf(-1)}
	var sum, sumSquares float64
	for _, v := range values {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			h.NonFinite++
			continue
		}
		h.Count++
		h.Min = min(h.Min, v)
		h.Max = max(h.Max, v)
		sum += float64(v)
		sumSquares += float64(v) * float64(v)
	}
	if h.Count == 0 {
		h.Min, h.Max = 0, 0
		return h
	}
	mean := sum / float64(h.Count)
	h.Mean = float32(mean)
	h.Std = math32.Sqrt(float32(max(sumSquares/float64(h.Count)-mean*mean, 0)))

	if h.Max == h.Min {
		h.BucketLimits = []float32{h.Max}
		h.BucketCounts = []int{h.Count}
		return h
	}
	width := (h.Max - h.Min) / float32(numBuckets)
	h.BucketLimits = make([]float32, numBuckets)
	h.BucketCounts = make([]int, numBuckets)
	for ii := range numBuckets {
		h.BucketLimits[ii] = h.Min + width*float32(ii+1)
	}
	h.BucketLimits[numBuckets-1] = h.Max
	for _, v := range values {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			continue
		}
		idx := int((v - h.Min) / width)
		h.BucketCounts[min(idx, numBuckets-1)]++
	}
	return h
}
