package spectral

import (
	"math"
	"sync/atomic"

	"github.com/mjibson/go-dsp/fft"
)

// deterministic, when set, forces the naive DFT in place of the FFT so
// spectral output is bit-stable across platforms. The flag also snaps the
// SNR EMA cadence upstream; see the realtime package.
var deterministic atomic.Bool

// SetDeterministic toggles the process-wide deterministic spectral path.
func SetDeterministic(on bool) {
	deterministic.Store(on)
}

// IsDeterministic reports whether the deterministic path is active.
func IsDeterministic() bool {
	return deterministic.Load()
}

// FFT provides forward transforms for real input.
//
// Power-of-two lengths go through mjibson/go-dsp. Other lengths, and all
// lengths in deterministic mode, use a direct DFT.
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the forward transform of a real signal.
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	if deterministic.Load() || len(x)&(len(x)-1) != 0 {
		return dftReal(x)
	}
	return fft.FFTReal(x)
}

// ComputeOneSided returns the first n/2+1 bins of the forward transform.
func (f *FFT) ComputeOneSided(x []float64) []complex128 {
	full := f.Compute(x)
	if len(full) == 0 {
		return full
	}
	return full[:len(x)/2+1]
}

// dftReal is the O(n²) reference transform.
func dftReal(x []float64) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	for k := 0; k < n; k++ {
		var re, im float64
		for t := 0; t < n; t++ {
			ang := -2.0 * math.Pi * float64(k) * float64(t) / float64(n)
			re += x[t] * math.Cos(ang)
			im += x[t] * math.Sin(ang)
		}
		out[k] = complex(re, im)
	}
	return out
}
