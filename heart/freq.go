package heart

import (
	"math"

	"github.com/RyanBlaney/pulso-ppg/algorithms/common"
	"github.com/RyanBlaney/pulso-ppg/algorithms/interp"
	"github.com/RyanBlaney/pulso-ppg/algorithms/spectral"
	"github.com/RyanBlaney/pulso-ppg/preprocess"
)

// Tachogram smoothing and the frequency-domain measures. The RR series is
// smoothed (regularized least squares on the second-difference operator),
// resampled onto a uniform grid with a natural cubic spline, and passed
// through Welch; VLF/LF/HF are trapezoid integrals over the standard HRV
// bands.

// applySmoothingMatrix computes out = (I + lambda·LᵀL)·v where L is the
// second-difference operator.
func applySmoothingMatrix(v []float64, lambda float64, out []float64) {
	n := len(v)
	for i := range out {
		out[i] = 0
	}
	if n == 0 {
		return
	}
	u := make([]float64, n)
	if n >= 3 {
		for k := 0; k+2 < n; k++ {
			w := v[k] - 2.0*v[k+1] + v[k+2]
			u[k] += w
			u[k+1] += -2.0 * w
			u[k+2] += w
		}
	}
	for i := 0; i < n; i++ {
		out[i] = v[i] + lambda*u[i]
	}
}

// smoothRRCG solves (I + lambda·LᵀL)·y = rr by conjugate gradients.
func smoothRRCG(rr []float64, lambda float64) []float64 {
	const (
		maxIters = 200
		tol      = 1e-6
	)
	n := len(rr)
	if n < 3 || lambda <= 0.0 {
		return rr
	}
	x := make([]float64, n)
	copy(x, rr)
	ax := make([]float64, n)
	r := make([]float64, n)
	p := make([]float64, n)
	ap := make([]float64, n)

	applySmoothingMatrix(x, lambda, ax)
	for i := range r {
		r[i] = rr[i] - ax[i]
	}
	copy(p, r)
	rsold := 0.0
	for _, ri := range r {
		rsold += ri * ri
	}
	bnorm := 0.0
	for _, bi := range rr {
		bnorm += bi * bi
	}
	bnorm = math.Sqrt(math.Max(1e-12, bnorm))

	for it := 0; it < maxIters; it++ {
		applySmoothingMatrix(p, lambda, ap)
		pap := 0.0
		for i := 0; i < n; i++ {
			pap += p[i] * ap[i]
		}
		if math.Abs(pap) < 1e-18 {
			break
		}
		alpha := rsold / pap
		for i := 0; i < n; i++ {
			x[i] += alpha * p[i]
			r[i] -= alpha * ap[i]
		}
		rsnew := 0.0
		for _, ri := range r {
			rsnew += ri * ri
		}
		if math.Sqrt(rsnew) < tol*bnorm {
			break
		}
		beta := rsnew / math.Max(1e-18, rsold)
		for i := 0; i < n; i++ {
			p[i] = r[i] + beta*p[i]
		}
		rsold = rsnew
	}
	return x
}

// smoothRRTargetSSE finds, by bracketing and bisection on lambda, the
// smoothed series whose sum of squared residuals hits targetSSE.
func smoothRRTargetSSE(rr []float64, targetSSE float64) []float64 {
	if len(rr) < 3 || targetSSE <= 0.0 {
		return rr
	}
	sseFor := func(lambda float64) (float64, []float64) {
		yhat := smoothRRCG(rr, lambda)
		sse := 0.0
		for i := range rr {
			d := yhat[i] - rr[i]
			sse += d * d
		}
		return sse, yhat
	}
	lo, hi := 0.0, 1.0
	sse0, y0 := sseFor(lo)
	if sse0 >= targetSSE {
		return y0
	}
	var sseHi float64
	var yHi []float64
	for k := 0; k < 40; k++ {
		sseHi, yHi = sseFor(hi)
		if sseHi >= targetSSE {
			break
		}
		hi *= 2.0
		if hi > 1e12 {
			break
		}
	}
	best := yHi
	for it := 0; it < 40; it++ {
		mid := (lo + hi) * 0.5
		sseMid, yMid := sseFor(mid)
		best = yMid
		if sseMid > targetSSE {
			hi = mid
		} else {
			lo = mid
		}
		if math.Abs(sseMid-targetSSE)/math.Max(1.0, targetSSE) < 1e-3 {
			break
		}
	}
	return best
}

// boxcarSmooth is the centered moving-average fallback smoother.
func boxcarSmooth(y []float64, win int) []float64 {
	if win <= 1 || len(y) == 0 {
		return y
	}
	n := len(y)
	out := make([]float64, n)
	hw := win / 2
	for i := 0; i < n; i++ {
		a := i - hw
		if a < 0 {
			a = 0
		}
		b := i + hw
		if b > n-1 {
			b = n - 1
		}
		sum := 0.0
		for j := a; j <= b; j++ {
			sum += y[j]
		}
		out[i] = sum / float64(b-a+1)
	}
	return out
}

// smoothRR applies the configured smoothing preference: target-SSE Reinsch
// bisection, fixed-lambda CG, then the boxcar blend.
func smoothRR(rr []float64, opt *FrequencyOptions) []float64 {
	switch {
	case opt.RRSplineSTargetSSE > 0.0:
		return smoothRRTargetSSE(rr, opt.RRSplineSTargetSSE)
	case opt.RRSplineS > 1e-9:
		return smoothRRCG(rr, opt.RRSplineS)
	case opt.RRSplineSmooth > 1e-6:
		w := int(math.Round(opt.RRSplineSmooth * float64(len(rr)) / 20.0))
		if w < 3 {
			w = 3
		}
		if w%2 == 0 {
			w++
		}
		filt := boxcarSmooth(rr, w)
		out := make([]float64, len(rr))
		for i := range rr {
			out[i] = (1.0-opt.RRSplineSmooth)*rr[i] + opt.RRSplineSmooth*filt[i]
		}
		return out
	default:
		return rr
	}
}

// computeFrequencyDomain fills the VLF/LF/HF measures and the breathing
// peak from the RR tachogram. Under-determined input sets the band fields
// to NaN without error.
func computeFrequencyDomain(m *HeartMetrics, rr []float64, opt *Options) {
	setNaN := func() {
		m.VLF = math.NaN()
		m.LF = math.NaN()
		m.HF = math.NaN()
		m.LFHF = math.NaN()
	}
	if len(rr) < 2 {
		setNaN()
		return
	}

	// cumulative time axis in ms
	rrX := make([]float64, len(rr))
	acc := 0.0
	for i, v := range rr {
		acc += v
		rrX[i] = acc
	}

	const resampFactor = 4
	datalen := (len(rrX) - 1) * resampFactor
	if datalen < 8 {
		datalen = 8
	}
	start := rrX[0]
	stop := rrX[len(rrX)-1]

	rrSmooth := smoothRR(rr, &opt.Frequency)
	sp := interp.NewNaturalCubic(rrX, rrSmooth)
	rrInterp := make([]float64, datalen)
	for i := 0; i < datalen; i++ {
		xx := start + (stop-start)*float64(i)/float64(datalen-1)
		if sp.OK() {
			rrInterp[i] = sp.Eval(xx)
		} else {
			rrInterp[i] = rr[0]
		}
	}

	dt := common.Mean(rr) / 1000.0
	fsRR := 1.0
	if dt > 0 {
		fsRR = 1.0 / dt
	}
	fsNew := fsRR * resampFactor

	nperseg := opt.Welch.NFFT
	if nperseg <= 0 {
		nperseg = int(math.Round(opt.Welch.WsizeSec * fsNew))
	}
	if nperseg <= 0 {
		nperseg = 256
	}
	if nperseg > len(rrInterp) {
		nperseg = len(rrInterp)
	}
	psd := spectral.WelchPSD(rrInterp, fsNew, nperseg, 0.5)
	if psd.Empty() {
		setNaN()
		return
	}

	m.VLF = spectral.IntegrateBand(psd.Freqs, psd.PSD, 0.0033, 0.04)
	m.LF = spectral.IntegrateBand(psd.Freqs, psd.PSD, 0.04, 0.15)
	m.HF = spectral.IntegrateBand(psd.Freqs, psd.PSD, 0.15, 0.40)
	m.TotalPower = m.VLF + m.LF + m.HF
	if m.HF > 1e-12 {
		m.LFHF = m.LF / m.HF
	} else {
		m.LFHF = 0.0
	}
	if sum := m.LF + m.HF; sum > 1e-12 {
		m.LFNorm = m.LF / sum * 100.0
		m.HFNorm = m.HF / sum * 100.0
	}

	// breathing peak in the 0.10-0.40 Hz band
	fpeak := 0.0
	vmax := -1.0
	for i, f := range psd.Freqs {
		if f >= 0.10 && f <= 0.40 && psd.PSD[i] > vmax {
			vmax = psd.PSD[i]
			fpeak = f
		}
	}
	if opt.Output.BreathingAsBpm {
		m.BreathingRate = fpeak * 60.0
	} else {
		m.BreathingRate = fpeak
	}
}

// CalculateBreathingRate estimates the breathing frequency (Hz) from RR
// intervals: linear resample of the RR series to 4 Hz, moving-average
// detrend, Welch, then the peak bin inside 0.10-0.40 Hz. Fewer than 10
// intervals, or under 16 resampled points, yield 0.
func CalculateBreathingRate(rrIntervals []float64) float64 {
	if len(rrIntervals) < 10 {
		return 0.0
	}
	t := make([]float64, 0, len(rrIntervals))
	rrSec := make([]float64, 0, len(rrIntervals))
	acc := 0.0
	for _, rr := range rrIntervals {
		v := rr * 0.001
		acc += v
		t = append(t, acc)
		rrSec = append(rrSec, v)
	}
	const fs = 4.0
	duration := t[len(t)-1] - t[0]
	n := int(math.Floor(duration * fs))
	if n < 16 {
		return 0.0
	}
	reg := make([]float64, n)
	dt := 1.0 / fs
	for i := 0; i < n; i++ {
		tm := t[0] + float64(i)*dt
		k := 1
		for k < len(t) && t[k] < tm {
			k++
		}
		if k >= len(t) {
			k = len(t) - 1
		}
		t1, t2 := t[k-1], t[k]
		v1, v2 := rrSec[k-1], rrSec[k]
		alpha := 0.0
		if t2-t1 > 0 {
			alpha = (tm - t1) / (t2 - t1)
		}
		reg[i] = v1 + alpha*(v2-v1)
	}
	reg = preprocess.MovingAverageDetrend(reg, int(math.Round(2.0*fs)))
	psd := spectral.WelchPSD(reg, fs, 256, 0.5)
	if psd.Empty() {
		return 0.0
	}
	fpeak := 0.0
	pmax := -1.0
	for i, f := range psd.Freqs {
		if f >= 0.10 && f <= 0.40 && psd.PSD[i] > pmax {
			pmax = psd.PSD[i]
			fpeak = f
		}
	}
	return fpeak
}
