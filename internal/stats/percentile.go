// Package stats holds the percentile estimator used for daily latency summaries.
package stats

import (
	"math"
	"sort"
)

// Percentile returns the nearest-rank p-th percentile of values.
// The index into the sorted values is ceil(p/100 * n) - 1, clamped to [0, n-1].
// ok is false for an empty input; values is not modified.
func Percentile(values []float64, p float64) (value float64, ok bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted[rankIndex(p, n)], true
}

// Percentiles computes several percentiles with a single sort.
// The result is nil for an empty input.
func Percentiles(values []float64, ps ...float64) []float64 {
	n := len(values)
	if n == 0 {
		return nil
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = sorted[rankIndex(p, n)]
	}
	return out
}

func rankIndex(p float64, n int) int {
	// p*n/100 keeps integer products exact, e.g. 90*10/100 == 9.
	idx := int(math.Ceil(p*float64(n)/100)) - 1
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}
