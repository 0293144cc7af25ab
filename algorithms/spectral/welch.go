package spectral

import (
	"math"
	"math/cmplx"
	"sync/atomic"

	"github.com/RyanBlaney/pulso-ppg/algorithms/common"
	"github.com/RyanBlaney/pulso-ppg/algorithms/windowing"
	"github.com/RyanBlaney/pulso-ppg/logging"
)

// Welch power spectral density with a Hann taper, one-sided, SciPy-style
// density normalization: P[k] = |X[k]|² / (fs·U) averaged over segments,
// bins 1..last-1 doubled (Nyquist excluded for even nfft).
//
// The estimator guards its own parameters: nfft is forced to a power of
// two ≥ 32, shrunk to fit the signal, and overlap is raised toward 0.95
// until at least two segments fit. When no configuration with an
// effective nfft ≥ 64 yields two segments the estimator returns empty
// output and counts a guard failure; every parameter adjustment counts a
// guard fallback.

const (
	welchMinNfft       = 32
	welchMinUsableNfft = 64
)

var (
	guardFallbackCount atomic.Uint64
	guardFailureCount  atomic.Uint64
)

// GuardFallbackCount reports how many Welch calls adjusted their
// parameters to satisfy the segment constraints.
func GuardFallbackCount() uint64 { return guardFallbackCount.Load() }

// GuardFailureCount reports how many Welch calls could not find workable
// parameters and returned empty output.
func GuardFailureCount() uint64 { return guardFailureCount.Load() }

// PSDResult holds a one-sided power spectral density.
type PSDResult struct {
	Freqs []float64 `json:"freqs"`
	PSD   []float64 `json:"psd"`
}

// Empty reports whether the estimate failed.
func (p PSDResult) Empty() bool { return len(p.Freqs) == 0 }

// DF returns the uniform bin spacing fs/nfft, or 0 for empty results.
func (p PSDResult) DF() float64 {
	if len(p.Freqs) < 2 {
		return 0.0
	}
	return p.Freqs[1] - p.Freqs[0]
}

// WelchPSD estimates the one-sided PSD of x sampled at fs.
func WelchPSD(x []float64, fs float64, nfft int, overlap float64) PSDResult {
	n := len(x)
	if nfft <= 0 {
		nfft = 256
	}
	overlap = common.Clamp(overlap, 0.0, 0.95)

	originalNfft := nfft
	workingNfft := nfft
	if workingNfft < welchMinNfft {
		workingNfft = welchMinNfft
	}
	workingOverlap := overlap
	step := 1
	nseg := 0
	paramsReady := false
	adjusted := false

	if !common.IsPowerOfTwo(workingNfft) {
		workingNfft = common.LargestPowerOfTwoLE(workingNfft)
		adjusted = true
	}

	for workingNfft >= welchMinNfft {
		if n < workingNfft {
			next := common.LargestPowerOfTwoLE(n)
			if next < welchMinNfft {
				break
			}
			if next != workingNfft {
				logging.Debug("welch: signal shorter than nfft, reducing", logging.Fields{"n": n, "nfft": workingNfft, "next": next})
				adjusted = true
				workingNfft = next
				continue
			}
		}

		if n <= workingNfft {
			// Even with maximum overlap we cannot form >=2 segments.
			if workingNfft == welchMinNfft {
				break
			}
			next := common.LargestPowerOfTwoLE(workingNfft - 1)
			if next < welchMinNfft {
				break
			}
			logging.Debug("welch: insufficient span for nfft, reducing", logging.Fields{"n": n, "nfft": workingNfft, "next": next})
			adjusted = true
			workingNfft = next
			continue
		}

		minOverlapForTwo := 1.0 - float64(n-workingNfft)/float64(workingNfft)
		minOverlapForTwo = common.Clamp(minOverlapForTwo, 0.0, 0.95)
		candidateOverlap := math.Max(workingOverlap, minOverlapForTwo+0.02)
		candidateOverlap = common.Clamp(candidateOverlap, 0.0, 0.95)

		stepFloat := float64(workingNfft) * (1.0 - candidateOverlap)
		if stepFloat < 1.0 {
			stepFloat = 1.0
		}
		step = int(math.Round(stepFloat))
		if step < 1 {
			step = 1
		}
		nseg = 1 + (n-workingNfft)/step

		if nseg >= 2 {
			if math.Abs(candidateOverlap-workingOverlap) > 1e-6 {
				adjusted = true
			}
			workingOverlap = candidateOverlap
			paramsReady = true
			break
		}

		if candidateOverlap < 0.95-1e-6 {
			workingOverlap = math.Min(0.95, candidateOverlap+0.05)
			adjusted = true
			continue
		}

		if workingNfft == welchMinNfft {
			break
		}
		next := common.LargestPowerOfTwoLE(workingNfft - 1)
		if next < welchMinNfft {
			break
		}
		logging.Debug("welch: rounding prevented nseg>=2, reducing", logging.Fields{"n": n, "nfft": workingNfft, "next": next})
		adjusted = true
		workingNfft = next
	}

	if !paramsReady {
		guardFailureCount.Add(1)
		logging.Debug("welch: unable to satisfy params", logging.Fields{"n": n, "requested_nfft": originalNfft})
		return PSDResult{}
	}
	if adjusted {
		guardFallbackCount.Add(1)
		logging.Debug("welch: adjusted params", logging.Fields{
			"nfft": workingNfft, "overlap": workingOverlap, "nseg": nseg, "n": n,
		})
	}
	if workingNfft < welchMinUsableNfft {
		guardFailureCount.Add(1)
		logging.Debug("welch: rejecting params below usable nfft", logging.Fields{"nfft": workingNfft, "n": n})
		return PSDResult{}
	}

	nfft = workingNfft

	hann := windowing.NewHann(nfft, true)
	w := hann.GetCoefficients()
	u := hann.SumSquares()

	kmax := nfft/2 + 1
	power := make([]float64, kmax)
	seg := make([]float64, nfft)
	transform := NewFFT()

	for s := 0; s < nseg; s++ {
		start := s * step
		copy(seg, x[start:start+nfft])
		mu := common.Mean(seg)
		for t := 0; t < nfft; t++ {
			seg[t] = (seg[t] - mu) * w[t]
		}
		bins := transform.Compute(seg)
		for k := 0; k < kmax; k++ {
			m := cmplx.Abs(bins[k])
			power[k] += (m * m) / (fs * u)
		}
	}
	for k := range power {
		power[k] /= float64(nseg)
	}
	// one-sided correction (DC and Nyquist untouched)
	if kmax > 1 {
		last := kmax
		if nfft%2 == 0 {
			last = kmax - 1
		}
		for k := 1; k < last; k++ {
			power[k] *= 2.0
		}
	}

	freqs := make([]float64, kmax)
	for k := 0; k < kmax; k++ {
		freqs[k] = fs * float64(k) / float64(nfft)
	}
	return PSDResult{Freqs: freqs, PSD: power}
}

// IntegrateBand integrates |PSD| over [lo, hi) with the trapezoid rule,
// assuming uniform bin spacing. Bands with fewer than two bins inside
// integrate to zero.
func IntegrateBand(freqs, psd []float64, lo, hi float64) float64 {
	if len(freqs) < 2 || len(psd) != len(freqs) {
		return 0.0
	}
	df := freqs[1] - freqs[0]
	vals := make([]float64, 0, len(psd))
	for i := range freqs {
		if freqs[i] >= lo && freqs[i] < hi {
			vals = append(vals, math.Abs(psd[i]))
		}
	}
	if len(vals) < 2 {
		return 0.0
	}
	area := 0.0
	for i := 1; i < len(vals); i++ {
		area += 0.5 * (vals[i-1] + vals[i]) * df
	}
	return area
}
