// Package stats computes summary statistics over authority timing samples.
//
// Percentiles are rank-based approximations rather than interpolated values:
// with k = round(n*0.1) (at least 1), the 10th percentile is the k-th smallest
// sample and the 90th is the k-th largest. In small samples this biases toward
// the extremes; that is intended so a single slow request is visible.
package stats

import "math"

// Average returns the arithmetic mean, 0 for no samples.
func Average(samples []float64) float64 {
	switch len(samples) {
	case 0:
		return 0
	case 1:
		return samples[0]
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// Percentile10 returns the rank-based 10th percentile of ascending samples.
func Percentile10(sorted []float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	return sorted[tenthRank(len(sorted))-1]
}

// Percentile90 returns the rank-based 90th percentile of ascending samples.
func Percentile90(sorted []float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	n := len(sorted)
	return sorted[n-tenthRank(n)]
}

func tenthRank(n int) int {
	k := int(math.Round(float64(n) * 0.1))
	if k < 1 {
		k = 1
	}
	return k
}

// Min returns the smallest sample, 0 for none.
func Min(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	m := samples[0]
	for _, s := range samples[1:] {
		if s < m {
			m = s
		}
	}
	return m
}

// Max returns the largest sample, 0 for none.
func Max(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	m := samples[0]
	for _, s := range samples[1:] {
		if s > m {
			m = s
		}
	}
	return m
}
