package filters

import (
	"math"
)

// Zero-phase bandpass built from one-pole stages run forward and backward.
// The pass order is: HP×order, LP×order, reverse, HP×order, LP×order,
// reverse — the classic filtfilt arrangement, which cancels the phase
// response of the causal stages.

// OnePoleLowpass applies a single-pole IIR lowpass at cutoff fc.
func OnePoleLowpass(x []float64, fs, fc float64) []float64 {
	y := make([]float64, len(x))
	if len(x) == 0 {
		return y
	}
	rc := 1.0 / (2.0 * math.Pi * fc)
	dt := 1.0 / fs
	alpha := dt / (rc + dt)
	y[0] = x[0]
	for i := 1; i < len(x); i++ {
		y[i] = y[i-1] + alpha*(x[i]-y[i-1])
	}
	return y
}

// OnePoleHighpass applies a single-pole IIR highpass at cutoff fc.
func OnePoleHighpass(x []float64, fs, fc float64) []float64 {
	y := make([]float64, len(x))
	if len(x) == 0 {
		return y
	}
	rc := 1.0 / (2.0 * math.Pi * fc)
	dt := 1.0 / fs
	alpha := rc / (rc + dt)
	y[0] = x[0]
	for i := 1; i < len(x); i++ {
		y[i] = alpha * (y[i-1] + x[i] - x[i-1])
	}
	return y
}

// FiltFiltBandpass applies a zero-phase bandpass between lowHz and highHz
// with the given per-direction order.
func FiltFiltBandpass(x []float64, fs, lowHz, highHz float64, order int) []float64 {
	if order < 1 {
		order = 1
	}
	lo := math.Max(0.0001, lowHz)
	hi := math.Max(0.0001, highHz)

	pass := func(in []float64) []float64 {
		out := in
		for i := 0; i < order; i++ {
			out = OnePoleHighpass(out, fs, lo)
		}
		for i := 0; i < order; i++ {
			out = OnePoleLowpass(out, fs, hi)
		}
		return out
	}

	y := pass(x)
	reverse(y)
	y = pass(y)
	reverse(y)
	return y
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
