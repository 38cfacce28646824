package stats

import (
	"math"
	"slices"
)

// CalculateMedian finds the median value in a slice of floats.
func CalculateMedian(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	// Work on a copy to avoid mutating the original
	temp := make([]float64, len(values))
	copy(temp, values)
	slices.Sort(temp)

	n := len(temp)
	if n%2 == 1 {
		return temp[n/2]
	}
	return (temp[n/2-1] + temp[n/2]) / 2.0
}

// CalculateMean returns the arithmetic mean, or 0 for an empty slice.
func CalculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// CalculateStdDev returns the population standard deviation.
func CalculateStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := CalculateMean(values)
	ss := 0.0
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}
