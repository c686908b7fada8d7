package stats

import (
	"math/rand"
	"sort"
)

// Reservoir keeps a uniform sample of size k over a stream (Vitter's
// algorithm R). Quantiles read from the sample approximate the stream's:
// the standard error of the rank at quantile p is about
// sqrt(p*(1-p)/k), so k=1024 holds p50 within roughly ±1.6 percentile
// points at 95% confidence.
type Reservoir struct {
	k      int
	n      int64
	values []float64
	rng    *rand.Rand
}

// NewReservoir builds a reservoir of capacity k. The seed fixes the
// sampling decisions, so runs are reproducible.
func NewReservoir(k int, seed int64) *Reservoir {
	if k <= 0 {
		k = 1024
	}
	return &Reservoir{
		k:      k,
		values: make([]float64, 0, k),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Add offers one observation to the sample.
func (r *Reservoir) Add(v float64) {
	r.n++
	if len(r.values) < r.k {
		r.values = append(r.values, v)
		return
	}
	if j := r.rng.Int63n(r.n); j < int64(r.k) {
		r.values[j] = v
	}
}

// Count returns how many observations were offered.
func (r *Reservoir) Count() int64 {
	return r.n
}

// Quantile returns the p-quantile (0..1) of the sample, 0 when empty.
func (r *Reservoir) Quantile(p float64) float64 {
	if len(r.values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), r.values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
