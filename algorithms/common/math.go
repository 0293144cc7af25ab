package common

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic statistical functions shared across the analysis packages,
// backed by gonum where it matches the required semantics.

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// PopVariance calculates the population variance (ddof=0), the convention
// used by all RR statistics in this engine.
func PopVariance(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	m := stat.Mean(data, nil)
	return stat.MomentAbout(2, data, m, nil)
}

// PopStd calculates the population standard deviation (ddof=0)
func PopStd(data []float64) float64 {
	return math.Sqrt(PopVariance(data))
}

// SampleStd calculates the sample standard deviation (ddof=1)
func SampleStd(data []float64) float64 {
	if len(data) < 2 {
		return 0.0
	}
	return math.Sqrt(stat.Variance(data, nil))
}

// Median returns the upper median of data: the element at index n/2 of the
// sorted slice. This matches the selection convention used throughout the
// RR statistics (not the midpoint average for even lengths).
func Median(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

// MAD returns the median absolute deviation about the median.
func MAD(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	med := Median(data)
	dev := make([]float64, len(data))
	for i, v := range data {
		dev[i] = math.Abs(v - med)
	}
	return Median(dev)
}

// Percentile calculates the p-th percentile (p between 0 and 1) using
// gonum's empirical quantile over a sorted copy.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 || p < 0 || p > 1 {
		return 0.0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// MinMax returns the minimum and maximum of data using gonum.
func MinMax(data []float64) (min, max float64) {
	if len(data) == 0 {
		return 0.0, 0.0
	}
	return floats.Min(data), floats.Max(data)
}

// Sum returns the sum of data using gonum.
func Sum(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Sum(data)
}

// Round6 rounds to 1e-6 precision. RR difference counts (pNN20/pNN50) use
// rounded values with a strict '>' so values sitting exactly on the
// threshold are excluded.
func Round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}

// Clamp constrains a value to a range
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// IsPowerOfTwo checks if n is a power of 2
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// LargestPowerOfTwoLE finds the largest power of 2 <= n, or 0 when n < 1.
func LargestPowerOfTwoLE(n int) int {
	if n < 1 {
		return 0
	}
	pow := 1
	for pow<<1 <= n && pow<<1 > 0 {
		pow <<= 1
	}
	return pow
}
