package heart

import (
	"math"

	"github.com/RyanBlaney/pulso-ppg/algorithms/common"
)

// Batch peak detection: a rolling-mean threshold swept over a ladder of
// lift percentages, keeping the sweep whose RR population SD is smallest
// inside the allowed BPM band. A classical adaptive mean+k·σ detector
// serves as fallback when no sweep qualifies.

// maPercLadder is the sweep of rolling-mean lift percentages.
var maPercLadder = []float64{5, 10, 15, 20, 25, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120, 150, 200, 300}

// rollingMean computes the centered moving average over windowSeconds,
// padding both ends by replicating the first/last mean so the output has
// the input length.
func rollingMean(data []float64, fs, windowSeconds float64) []float64 {
	N := int(math.Round(windowSeconds * fs))
	n := len(data)
	if N <= 1 || n == 0 || N > n {
		m := common.Mean(data)
		out := make([]float64, n)
		for i := range out {
			out[i] = m
		}
		return out
	}
	rol := make([]float64, 0, n-N+1)
	s := 0.0
	for i := 0; i < N; i++ {
		s += data[i]
	}
	rol = append(rol, s/float64(N))
	for i := N; i < n; i++ {
		s += data[i] - data[i-N]
		rol = append(rol, s/float64(N))
	}
	nMiss := (n - len(rol)) / 2
	if nMiss < 0 {
		nMiss = -nMiss
	}
	out := make([]float64, 0, n)
	for i := 0; i < nMiss; i++ {
		out = append(out, rol[0])
	}
	out = append(out, rol...)
	for len(out) < n {
		out = append(out, rol[len(rol)-1])
	}
	return out[:n]
}

// detectPeaksOverThreshold marks runs of samples above the lifted rolling
// mean and keeps the argmax of each run. A leading peak within 150 ms of
// the start is dropped (inclusive boundary).
func detectPeaksOverThreshold(x, rolMean []float64, maPerc, fs float64) []int {
	n := len(x)
	if n == 0 || len(rolMean) != n {
		return nil
	}
	lift := common.Mean(rolMean) / 100.0 * maPerc
	maskIdx := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if x[i] > rolMean[i]+lift {
			maskIdx = append(maskIdx, i)
		}
	}
	if len(maskIdx) == 0 {
		return nil
	}
	edges := []int{0}
	for i := 1; i < len(maskIdx); i++ {
		if maskIdx[i]-maskIdx[i-1] > 1 {
			edges = append(edges, i)
		}
	}
	edges = append(edges, len(maskIdx))

	peaks := make([]int, 0, len(edges))
	for e := 0; e+1 < len(edges); e++ {
		a, b := edges[e], edges[e+1]
		if a >= b {
			continue
		}
		bestIdx := maskIdx[a]
		bestVal := x[bestIdx]
		for j := a + 1; j < b; j++ {
			if x[maskIdx[j]] > bestVal {
				bestVal = x[maskIdx[j]]
				bestIdx = maskIdx[j]
			}
		}
		peaks = append(peaks, bestIdx)
	}
	if len(peaks) > 0 && peaks[0] <= int(fs/1000.0*150.0) {
		peaks = peaks[1:]
	}
	return peaks
}

type fitResult struct {
	peaks  []int
	bestMA float64
	rrsd   float64
	bpm    float64
	ok     bool
}

// fitPeaks sweeps the lift ladder and accepts the candidate with the
// smallest RR population SD whose rate falls inside [bpmMin, bpmMax].
// rrsd must exceed 0.1 — a perfectly regular train at this precision is a
// threshold artifact, not a pulse.
func fitPeaks(x []float64, fs, bpmMin, bpmMax float64) fitResult {
	rmean := rollingMean(x, fs, 0.75)
	var out fitResult
	bestRrsd := math.Inf(1)
	for _, ma := range maPercLadder {
		peaks := detectPeaksOverThreshold(x, rmean, ma, fs)
		bpm := 0.0
		if len(x) > 0 {
			bpm = float64(len(peaks)) / (float64(len(x)) / fs) * 60.0
		}
		rr := make([]float64, 0, len(peaks))
		for i := 1; i < len(peaks); i++ {
			rr = append(rr, float64(peaks[i]-peaks[i-1])*1000.0/fs)
		}
		rrsd := math.Inf(1)
		if len(rr) > 0 {
			rrsd = common.PopStd(rr)
		}
		if rrsd > 0.1 && bpm >= bpmMin && bpm <= bpmMax && rrsd < bestRrsd {
			bestRrsd = rrsd
			out = fitResult{peaks: peaks, bestMA: ma, rrsd: rrsd, bpm: bpm, ok: true}
		}
	}
	return out
}

// detectPeaksThreshold is the classical detector: local maxima above a
// rolling mean + scale·σ threshold with a sample refractory.
func detectPeaksThreshold(x []float64, fs, refractoryMs, scale float64) []int {
	n := len(x)
	if n == 0 {
		return nil
	}
	refSamples := int(math.Round(refractoryMs * 0.001 * fs))
	win := int(math.Round(0.5 * fs))
	if win < 5 {
		win = 5
	}
	cumsum := make([]float64, n+1)
	cumsq := make([]float64, n+1)
	for i := 0; i < n; i++ {
		cumsum[i+1] = cumsum[i] + x[i]
		cumsq[i+1] = cumsq[i] + x[i]*x[i]
	}
	var peaks []int
	lastPeak := -refSamples - 1
	for i := 1; i < n-1; i++ {
		start := i - win
		if start < 0 {
			start = 0
		}
		end := i + win
		if end > n {
			end = n
		}
		count := end - start
		if count < 1 {
			count = 1
		}
		mean := (cumsum[end] - cumsum[start]) / float64(count)
		variance := (cumsq[end]-cumsq[start])/float64(count) - mean*mean
		sd := math.Sqrt(math.Max(0.0, variance))
		thr := mean + scale*sd
		if x[i] > thr && x[i] > x[i-1] && x[i] >= x[i+1] && i-lastPeak >= refSamples {
			peaks = append(peaks, i)
			lastPeak = i
		}
	}
	return peaks
}

// enforceRefractory collapses peaks closer than refSamples, keeping the
// strongest of each conflict group.
func enforceRefractory(x []float64, peaks []int, refSamples int) []int {
	if len(peaks) == 0 {
		return peaks
	}
	out := make([]int, 0, len(peaks))
	i := 0
	for i < len(peaks) {
		j := i + 1
		best := peaks[i]
		bestVal := x[best]
		for j < len(peaks) && peaks[j]-peaks[i] < refSamples {
			if x[peaks[j]] > bestVal {
				best = peaks[j]
				bestVal = x[best]
			}
			j++
		}
		out = append(out, best)
		next := j
		for next < len(peaks) && peaks[next]-best < refSamples {
			next++
		}
		i = next
	}
	return out
}

// detectPeaksAdaptive iterates the classical detector, nudging the
// threshold scale until the implied rate falls inside [bpmMin, bpmMax].
func detectPeaksAdaptive(x []float64, fs, refractoryMs, initScale, bpmMin, bpmMax float64) []int {
	scale := initScale
	refSamples := int(math.Round(refractoryMs * 0.001 * fs))
	var best []int
	for iter := 0; iter < 6; iter++ {
		p := detectPeaksThreshold(x, fs, refractoryMs, scale)
		p = enforceRefractory(x, p, refSamples)
		if len(p) >= 2 {
			ibis := make([]float64, 0, len(p)-1)
			for i := 1; i < len(p); i++ {
				ibis = append(ibis, float64(p[i]-p[i-1])*1000.0/fs)
			}
			meanIbi := common.Mean(ibis)
			bpm := 0.0
			if meanIbi > 1e-6 {
				bpm = 60000.0 / meanIbi
			}
			best = p
			switch {
			case bpm > bpmMax:
				scale *= 1.25
			case bpm < bpmMin:
				scale *= 0.8
			default:
				return best
			}
		} else {
			scale *= 0.8
		}
	}
	if len(best) > 0 {
		return best
	}
	return enforceRefractory(x, detectPeaksThreshold(x, fs, refractoryMs, scale), refSamples)
}

// InterpolatePeaks refines peak sample indices by locally upsampling a
// ±100 ms window around each peak to targetFs, locating the maximum, and
// polishing it with a parabolic vertex fit followed by a 5-point cubic
// least-squares fit.
func InterpolatePeaks(signal []float64, peaks []int, originalFs, targetFs float64) []int {
	if len(peaks) == 0 || len(signal) == 0 || targetFs <= originalFs {
		return peaks
	}
	refined := make([]int, 0, len(peaks))
	halfWin := int(math.Round(0.10 * originalFs))
	ratio := targetFs / originalFs
	for _, p := range peaks {
		start := p - halfWin
		if start < 0 {
			start = 0
		}
		end := p + halfWin
		if end > len(signal)-1 {
			end = len(signal) - 1
		}
		segLen := end - start + 1
		if segLen <= 2 {
			refined = append(refined, p)
			continue
		}
		upLen := int(math.Round(float64(segLen) * ratio))
		if upLen < 3 {
			refined = append(refined, p)
			continue
		}
		up := make([]float64, upLen)
		for i := 0; i < upLen; i++ {
			pos := float64(i) / ratio
			i0 := int(math.Floor(pos))
			frac := pos - float64(i0)
			idx0 := start + i0
			if idx0 > start+segLen-2 {
				idx0 = start + segLen - 2
			}
			up[i] = signal[idx0] + frac*(signal[idx0+1]-signal[idx0])
		}
		argmax := 0
		vmax := up[0]
		for i := 1; i < upLen; i++ {
			if up[i] > vmax {
				vmax = up[i]
				argmax = i
			}
		}
		refinedUp := float64(argmax)
		if argmax > 0 && argmax+1 < upLen {
			ym1, y0, yp1 := up[argmax-1], up[argmax], up[argmax+1]
			denom := ym1 - 2.0*y0 + yp1
			if math.Abs(denom) > 1e-12 {
				refinedUp += 0.5 * (ym1 - yp1) / denom
			}
		}
		if c := int(math.Round(refinedUp)); c-2 >= 0 && c+2 < upLen {
			if dx, ok := cubicLSVertex(up[c-2 : c+3]); ok {
				refinedUp = float64(c) + dx
			}
		}
		refined = append(refined, int(math.Round(float64(start)+refinedUp/ratio)))
	}
	return refined
}

// cubicLSVertex fits y = ax³+bx²+cx+d over x = -2..2 by least squares and
// returns the in-range stationary point with the largest value.
func cubicLSVertex(y []float64) (float64, bool) {
	if len(y) != 5 {
		return 0, false
	}
	xs := []float64{-2, -1, 0, 1, 2}
	sumPow := func(k int) float64 {
		s := 0.0
		for _, x := range xs {
			t := 1.0
			for j := 0; j < k; j++ {
				t *= x
			}
			s += t
		}
		return s
	}
	s0, s1, s2 := 5.0, sumPow(1), sumPow(2)
	s3, s4, s5, s6 := sumPow(3), sumPow(4), sumPow(5), sumPow(6)
	A := [4][5]float64{
		{s6, s5, s4, s3, 0},
		{s5, s4, s3, s2, 0},
		{s4, s3, s2, s1, 0},
		{s3, s2, s1, s0, 0},
	}
	for i, x := range xs {
		x2 := x * x
		x3 := x2 * x
		A[0][4] += x3 * y[i]
		A[1][4] += x2 * y[i]
		A[2][4] += x * y[i]
		A[3][4] += y[i]
	}
	// Gauss-Jordan with partial pivoting
	for r := 0; r < 4; r++ {
		piv := r
		for r2 := r + 1; r2 < 4; r2++ {
			if math.Abs(A[r2][r]) > math.Abs(A[piv][r]) {
				piv = r2
			}
		}
		if math.Abs(A[piv][r]) < 1e-12 {
			return 0, false
		}
		A[r], A[piv] = A[piv], A[r]
		div := A[r][r]
		for c := r; c < 5; c++ {
			A[r][c] /= div
		}
		for rr := 0; rr < 4; rr++ {
			if rr == r {
				continue
			}
			factor := A[rr][r]
			for c := r; c < 5; c++ {
				A[rr][c] -= factor * A[r][c]
			}
		}
	}
	a, b, c := A[0][4], A[1][4], A[2][4]
	d := A[3][4]
	fy := func(x float64) float64 { return ((a*x+b)*x+c)*x + d }
	bestX := 0.0
	bestY := fy(0.0)
	a2, b2, c2 := 3*a, 2*b, c
	if math.Abs(a2) > 1e-12 {
		disc := b2*b2 - 4*a2*c2
		if disc >= 0 {
			r1 := (-b2 - math.Sqrt(disc)) / (2 * a2)
			r2 := (-b2 + math.Sqrt(disc)) / (2 * a2)
			for _, x := range []float64{r1, r2} {
				if x >= -2.0 && x <= 2.0 {
					if v := fy(x); v > bestY {
						bestY = v
						bestX = x
					}
				}
			}
		}
	} else if math.Abs(b2) > 1e-12 {
		x := -c2 / b2
		if x >= -2.0 && x <= 2.0 {
			if v := fy(x); v > bestY {
				bestY = v
				bestX = x
			}
		}
	}
	return bestX, true
}
