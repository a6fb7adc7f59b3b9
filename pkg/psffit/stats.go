package psffit

import (
	"math"
	"sort"
)

func medianFloat64(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}

// medianMAD returns the median and the scaled median absolute deviation.
func medianMAD(values []float64) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	median := medianFloat64(values)
	deviations := make([]float64, len(values))
	for i := range values {
		deviations[i] = math.Abs(values[i] - median)
	}
	return median, 1.4826 * medianFloat64(deviations)
}

// clippedMeanStdev computes a robust mean and standard deviation by
// iteratively discarding samples more than nSigma standard deviations from
// the current mean. Matches the 3-sigma, 3-iteration clipped estimator used
// for spatial residual rejection.
func clippedMeanStdev(values []float64, nSigma float64, maxIterations int) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}

	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return math.NaN(), math.NaN()
	}

	mean, stdev := meanStdev(kept)
	for iter := 0; iter < maxIterations; iter++ {
		if stdev == 0 {
			break
		}
		lo := mean - nSigma*stdev
		hi := mean + nSigma*stdev
		next := kept[:0]
		clipped := false
		for _, v := range kept {
			if v < lo || v > hi {
				clipped = true
				continue
			}
			next = append(next, v)
		}
		if !clipped || len(next) < 2 {
			break
		}
		kept = next
		mean, stdev = meanStdev(kept)
	}
	return mean, stdev
}

func meanStdev(values []float64) (float64, float64) {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n
	if len(values) < 2 {
		return mean, 0
	}
	var sse float64
	for _, v := range values {
		d := v - mean
		sse += d * d
	}
	return mean, math.Sqrt(sse / (n - 1))
}
