// Package preprocess contains the conditioning steps applied to a raw PPG
// trace before peak detection: clipping repair, impulse-noise rejection,
// baseline removal, peak sharpening and range normalization.
package preprocess

import (
	"math"

	"github.com/RyanBlaney/pulso-ppg/algorithms/common"
)

// ScaleData maps the signal affinely so min(x)→newMin and max(x)→newMax.
// A flat signal (range < 1e-12) is returned unchanged.
func ScaleData(signal []float64, newMin, newMax float64) []float64 {
	if len(signal) == 0 {
		return signal
	}
	oldMin, oldMax := common.MinMax(signal)
	oldRange := oldMax - oldMin
	if oldRange < 1e-12 {
		return signal
	}
	scaled := make([]float64, len(signal))
	newRange := newMax - newMin
	for i, v := range signal {
		scaled[i] = newMin + (v-oldMin)/oldRange*newRange
	}
	return scaled
}

// InterpolateClipping replaces maximal runs of samples at or above
// threshold with a linear ramp between the neighboring clean samples.
// Runs touching either end of the signal are left unchanged.
//
// The ramp fraction for the j-th clipped sample of a run [start, end] is
// (j−start+1)/(end−start+2), so a single clipped sample takes the
// midpoint of its two neighbors. Downstream consumers depend on this
// exact rule.
func InterpolateClipping(signal []float64, threshold float64) []float64 {
	result := make([]float64, len(signal))
	copy(result, signal)
	clipped := make([]bool, len(signal))
	for i, v := range signal {
		if v >= threshold {
			clipped[i] = true
		}
	}
	for i := 0; i < len(signal); i++ {
		if !clipped[i] {
			continue
		}
		start := i
		for i < len(signal) && clipped[i] {
			i++
		}
		end := i - 1
		if start > 0 && end < len(signal)-1 {
			startVal := signal[start-1]
			endVal := signal[end+1]
			for j := start; j <= end; j++ {
				t := float64(j-start+1) / float64(end-start+2)
				result[j] = startVal + t*(endVal-startVal)
			}
		}
	}
	return result
}

// HampelFilter replaces samples deviating from the local median by more
// than threshold·MAD with that median. The window extends windowSize/2
// samples on each side, truncated at the signal edges.
func HampelFilter(signal []float64, windowSize int, threshold float64) []float64 {
	result := make([]float64, len(signal))
	copy(result, signal)
	halfWindow := windowSize / 2
	for i := range signal {
		start := i - halfWindow
		if start < 0 {
			start = 0
		}
		end := i + halfWindow
		if end > len(signal)-1 {
			end = len(signal) - 1
		}
		window := signal[start : end+1]
		medianVal := common.Median(window)
		mad := common.MAD(window)
		if math.Abs(signal[i]-medianVal) > threshold*mad {
			result[i] = medianVal
		}
	}
	return result
}

// RemoveBaselineWander applies a single-pole highpass at 0.5 Hz.
func RemoveBaselineWander(signal []float64, fs float64) []float64 {
	const cutoff = 0.5
	rc := 1.0 / (2.0 * math.Pi * cutoff)
	dt := 1.0 / fs
	alpha := rc / (rc + dt)
	result := make([]float64, len(signal))
	if len(signal) == 0 {
		return result
	}
	result[0] = signal[0]
	for i := 1; i < len(signal); i++ {
		result[i] = alpha * (result[i-1] + signal[i] - signal[i-1])
	}
	return result
}

// EnhancePeaks sharpens systolic peaks by adding a tenth of the centered
// first difference. Endpoints pass through unchanged.
func EnhancePeaks(signal []float64) []float64 {
	if len(signal) < 3 {
		return signal
	}
	result := make([]float64, len(signal))
	result[0] = signal[0]
	result[len(signal)-1] = signal[len(signal)-1]
	for i := 1; i < len(signal)-1; i++ {
		derivative := (signal[i+1] - signal[i-1]) / 2.0
		result[i] = signal[i] + 0.1*derivative
	}
	return result
}

// MovingAverageDetrend subtracts a centered sliding mean of the given
// window length. Window <= 1 returns the input unchanged.
func MovingAverageDetrend(x []float64, window int) []float64 {
	if window <= 1 {
		return x
	}
	n := len(x)
	out := make([]float64, n)
	cumsum := make([]float64, n+1)
	for i := 0; i < n; i++ {
		cumsum[i+1] = cumsum[i] + x[i]
	}
	for i := 0; i < n; i++ {
		start := i - window/2
		if start < 0 {
			start = 0
		}
		end := i + (window - window/2)
		if end > n {
			end = n
		}
		count := end - start
		if count < 1 {
			count = 1
		}
		mean := (cumsum[end] - cumsum[start]) / float64(count)
		out[i] = x[i] - mean
	}
	return out
}
