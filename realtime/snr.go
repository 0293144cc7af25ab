package realtime

import (
	"math"
	"sort"

	"github.com/RyanBlaney/pulso-ppg/algorithms/common"
	"github.com/RyanBlaney/pulso-ppg/algorithms/spectral"
	"github.com/RyanBlaney/pulso-ppg/heart"
	"github.com/RyanBlaney/pulso-ppg/logging"
)

// SNR/PSD engine. Each PSD frame estimates in-band power around the heart
// fundamental (and its second harmonic) against a percentile noise floor,
// smooths the ratio with a tau-switched EMA, and feeds the harmonic
// doubling state machine. The expensive Welch transform runs on poll's
// private window copy without the analyzer lock; the state machine and
// quality commit run locked.

type snrSource int

const (
	snrSourceFreshPsd snrSource = iota
	snrSourceCachedPsd
	snrSourceTimeDomain
)

// welchConfig is one workable Welch parameterization.
type welchConfig struct {
	nfft     int
	overlap  float64
	nseg     int
	adjusted bool
}

// coerceNfft snaps a requested nfft to the candidate ladder.
func coerceNfft(n int) int {
	if n <= 0 {
		return 256
	}
	candidates := []int{1024, 512, 384, 256, 192, 128, 96, 64, 48, 32}
	best := candidates[len(candidates)-1]
	bestd := math.MaxInt32
	for _, cand := range candidates {
		d := n - cand
		if d < 0 {
			d = -d
		}
		if d < bestd {
			bestd = d
			best = cand
		}
	}
	return best
}

// chooseWelchConfig searches nfft/overlap space for at least two
// segments, raising overlap (cap 0.93) before halving nfft.
func (a *Analyzer) chooseWelchConfig(sampleCount int) (welchConfig, bool) {
	const kMinNfft = 32
	if sampleCount < kMinNfft {
		return welchConfig{}, false
	}
	baseOverlap := common.Clamp(a.opt.Welch.Overlap, 0.0, 0.90)
	desired := coerceNfft(a.opt.Welch.NFFT)
	if p := common.LargestPowerOfTwoLE(sampleCount); desired > p {
		desired = p
	}
	if desired < kMinNfft {
		desired = kMinNfft
	}

	workingNfft := desired
	workingOverlap := baseOverlap
	adjusted := false

	for workingNfft >= kMinNfft {
		if workingNfft > sampleCount {
			next := common.LargestPowerOfTwoLE(sampleCount)
			if next < kMinNfft {
				break
			}
			workingNfft = next
			adjusted = true
			continue
		}
		if workingNfft >= sampleCount {
			if workingNfft == kMinNfft {
				break
			}
			next := common.LargestPowerOfTwoLE(workingNfft - 1)
			if next < kMinNfft {
				break
			}
			workingNfft = next
			adjusted = true
			continue
		}

		minOverlapForTwo := 1.0 - float64(sampleCount-workingNfft)/float64(workingNfft)
		minOverlapForTwo = common.Clamp(minOverlapForTwo, 0.0, 0.93)
		overlapCandidate := math.Max(workingOverlap, minOverlapForTwo+0.02)
		overlapCandidate = common.Clamp(overlapCandidate, baseOverlap, 0.93)

		stepFloat := float64(workingNfft) * (1.0 - overlapCandidate)
		if stepFloat < 1.0 {
			stepFloat = 1.0
		}
		step := int(math.Round(stepFloat))
		if step < 1 {
			step = 1
		}
		nseg := 1 + (sampleCount-workingNfft)/step
		if nseg >= 2 {
			if math.Abs(overlapCandidate-baseOverlap) > 1e-6 || workingNfft != desired {
				adjusted = true
			}
			return welchConfig{nfft: workingNfft, overlap: overlapCandidate, nseg: nseg, adjusted: adjusted}, true
		}

		if overlapCandidate < 0.93-1e-6 {
			workingOverlap = math.Min(0.93, overlapCandidate+0.05)
			adjusted = true
			continue
		}
		if workingNfft == kMinNfft {
			break
		}
		next := common.LargestPowerOfTwoLE(workingNfft - 1)
		if next < kMinNfft {
			break
		}
		workingNfft = next
		adjusted = true
	}
	return welchConfig{}, false
}

// timeDomainSnrDb is the PSD-free fallback: signal variance against half
// the first-difference variance.
func timeDomainSnrDb(samples []float64) float64 {
	if len(samples) < 16 {
		return snrFallbackDb
	}
	mean := common.Mean(samples)
	signalVar := 0.0
	for _, v := range samples {
		d := v - mean
		signalVar += d * d
	}
	signalVar /= math.Max(1, float64(len(samples)-1))
	if signalVar <= 1e-10 {
		return snrFallbackDb
	}
	diffVar := 0.0
	for i := 1; i < len(samples); i++ {
		d := samples[i] - samples[i-1]
		diffVar += d * d
	}
	diffVar /= math.Max(1, float64(len(samples)-1))
	noiseVar := math.Max(1e-10, diffVar*0.5)
	snrDb := 10.0 * math.Log10(math.Max(1e-10, signalVar/noiseVar))
	if math.IsNaN(snrDb) || math.IsInf(snrDb, 0) {
		return snrFallbackDb
	}
	return snrDb
}

func inBand(f, center, bw float64) bool {
	return math.Abs(f-center) <= bw
}

// fillAudit copies the audit counters and acceptance diagnostics into the
// outgoing quality record. Caller holds the lock.
func (a *Analyzer) fillAudit(q *heart.QualityInfo) {
	q.RefractoryMsActive = a.lastRefMsActive
	q.MinRRBoundMs = a.lastMinRRBoundMs
	if a.hpThreshold {
		q.MaPercActive = a.maPerc
	}
	q.DroppedSamplesTotal = a.droppedSamplesTotal
	q.ClampedBatchesTotal = a.clampedBatchesTotal
	q.OomPreventedTotal = a.oomPreventedTotal
	q.ParamChangeEventsTotal = a.paramChangeEventsTotal
	q.DroppedSamplesLast = a.droppedSamplesLast
	q.ClampedBatchesLast = a.clampedBatchesLast
	q.TimestampBacktrackEventsTotal = a.timestampBacktrackEventsTotal
	q.TimestampsSkippedTotal = a.timestampsSkippedTotal
	q.TimeJumpEventsTotal = a.timeJumpEventsTotal
	if a.dropConsecPolls > 1 {
		q.DroppingActive = 1
	}
}

// updateSNR refreshes SNR, doubling flags and confidence on the outgoing
// metrics. Called from Poll with no lock held; the PSD computation runs
// unlocked against the poll window copy.
func (a *Analyzer) updateSNR(out *heart.HeartMetrics, effFs float64) {
	a.mu.Lock()
	sinceLastPsd := a.lastTs - a.lastPsdTime
	if sinceLastPsd < a.psdUpdateSec {
		streaming := a.lastQuality
		// carry the fresh batch stats; reuse the streaming assessment
		batch := out.Quality
		out.Quality = streaming
		out.Quality.TotalBeats = batch.TotalBeats
		out.Quality.RejectedBeats = batch.RejectedBeats
		out.Quality.RejectionRate = batch.RejectionRate
		out.Quality.GoodQuality = batch.GoodQuality
		out.Quality.QualityWarning = batch.QualityWarning
		out.Quality.RejectedIndices = batch.RejectedIndices
		out.Quality.SnrSampleCount = float64(len(a.pollWindowBuffer))
		a.fillAudit(&out.Quality)
		a.mu.Unlock()
		logging.Debug("snr: cadence skip", logging.Fields{"dt": sinceLastPsd, "cadence": a.psdUpdateSec})
		return
	}
	a.lastPsdTime = a.lastTs
	lastTs := a.lastTs
	windowSec := a.windowSec
	warmupStartTs := a.warmupStartTs
	firstTsApprox := a.firstTsApprox
	acceptedPeaksTotal := a.acceptedPeaksTotal
	adaptivePsd := a.opt.Welch.AdaptivePSD
	detOn := a.opt.Streaming.Deterministic
	a.mu.Unlock()

	samples := a.pollWindowBuffer
	sampleCount := len(samples)
	out.Quality.SnrSampleCount = float64(sampleCount)

	if effFs <= 0.0 || sampleCount < 16 {
		a.mu.Lock()
		fallback := snrFallbackDb
		if a.snrEmaValid && !math.IsNaN(a.snrEmaDb) && !math.IsInf(a.snrEmaDb, 0) {
			fallback = a.snrEmaDb
		}
		out.Quality.SnrDb = fallback
		out.Quality.HardFallbackActive = 1
		out.Quality.SnrWarmupActive = 1
		a.fillAudit(&out.Quality)
		a.lastQuality = out.Quality
		a.mu.Unlock()
		return
	}

	// fundamental estimate: mean RR, then batch bpm, then last known
	a.mu.Lock()
	f0 := 0.0
	if len(out.RRList) > 0 {
		mrr := common.Mean(out.RRList)
		if mrr > 1e-3 {
			f0 = 1000.0 / mrr
		}
	}
	if f0 <= 0.0 && out.BPM > 0.0 {
		f0 = out.BPM / 60.0
	}
	if f0 <= 0.0 && a.lastF0Hz > 0.0 {
		f0 = a.lastF0Hz
	}
	if f0 <= 0.0 {
		fallback := snrFallbackDb
		if a.snrEmaValid && !math.IsNaN(a.snrEmaDb) && !math.IsInf(a.snrEmaDb, 0) {
			fallback = a.snrEmaDb
		}
		out.Quality.SnrDb = fallback
		out.Quality.F0Hz = 0.0
		out.Quality.HardFallbackActive = 1
		a.fillAudit(&out.Quality)
		a.lastQuality = out.Quality
		a.mu.Unlock()
		return
	}
	a.lastF0Hz = f0
	a.mu.Unlock()

	// Welch configuration and transform, unlocked
	source := snrSourceFreshPsd
	var cfg welchConfig
	var cfgOK bool
	if adaptivePsd {
		cfg, cfgOK = a.chooseWelchConfig(sampleCount)
	} else {
		preset := welchConfig{nfft: coerceNfft(a.opt.Welch.NFFT), overlap: common.Clamp(a.opt.Welch.Overlap, 0.0, 0.90)}
		if preset.nfft > sampleCount {
			if p := common.LargestPowerOfTwoLE(sampleCount); p >= 32 {
				preset.nfft = p
			} else {
				preset.nfft = 0
			}
		}
		if preset.nfft >= 32 {
			cfg, cfgOK = preset, true
		}
	}

	var psd spectral.PSDResult
	harmonicEligible := false
	if !cfgOK {
		a.mu.Lock()
		a.psdInvalidFramesTotal++
		a.mu.Unlock()
		if !adaptivePsd {
			logging.Debug("snr: insufficient data, adaptive disabled, skipping", logging.Fields{"samples": sampleCount})
			return
		}
		source = snrSourceTimeDomain
	} else {
		if cfg.adjusted {
			a.mu.Lock()
			a.psdParamClampEventsTotal++
			a.mu.Unlock()
			logging.Debug("snr: welch params adjusted", logging.Fields{"nfft": cfg.nfft, "overlap": cfg.overlap, "nseg": cfg.nseg})
		}
		spectral.SetDeterministic(detOn)
		psd = spectral.WelchPSD(samples, effFs, cfg.nfft, cfg.overlap)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var freqBins, powerBins []float64
	if source != snrSourceTimeDomain {
		if !psd.Empty() && len(psd.Freqs) >= 4 && len(psd.Freqs) == len(psd.PSD) {
			a.lastPsdFreq = psd.Freqs
			a.lastPsdPower = psd.PSD
			a.lastPsdFs = effFs
			a.lastPsdNfft = cfg.nfft
			a.lastPsdOverlap = cfg.overlap
			a.lastPsdValid = true
			freqBins, powerBins = a.lastPsdFreq, a.lastPsdPower
			harmonicEligible = true
		} else {
			a.psdInvalidFramesTotal++
			if !adaptivePsd {
				logging.Debug("snr: invalid PSD, adaptive disabled, aborting update", nil)
				return
			}
			if a.lastPsdValid && len(a.lastPsdFreq) >= 4 && len(a.lastPsdFreq) == len(a.lastPsdPower) {
				freqBins, powerBins = a.lastPsdFreq, a.lastPsdPower
				source = snrSourceCachedPsd
				a.psdReuseFallbackEventsTotal++
			} else {
				source = snrSourceTimeDomain
				a.lastPsdValid = false
			}
		}
	}

	warmupSec := common.Clamp(windowSec*0.6, 6.0, 18.0)
	warmupElapsed := math.Max(0.0, lastTs-firstTsApprox)
	if !math.IsNaN(warmupStartTs) {
		warmupElapsed = math.Max(0.0, lastTs-warmupStartTs)
	}
	minSamplesForSNR := int(math.Ceil(math.Max(128.0, math.Max(4.0, windowSec*0.6)*effFs)))
	minPeaksForSNR := int(math.Max(6.0, math.Ceil(windowSec*0.4)))
	warmupActive := warmupElapsed < warmupSec || sampleCount < minSamplesForSNR ||
		acceptedPeaksTotal < uint64(minPeaksForSNR)

	if warmupActive {
		warmSnr := timeDomainSnrDb(samples)
		if a.snrEmaValid {
			warmSnr = a.snrEmaDb
		}
		if math.IsNaN(warmSnr) || math.IsInf(warmSnr, 0) || warmSnr <= 0.0 {
			warmSnr = 8.0
		}
		a.snrEmaDb = warmSnr
		a.snrEmaValid = true
		out.Quality.SnrDb = warmSnr
		out.Quality.F0Hz = a.lastF0Hz
		out.Quality.SnrWarmupActive = 1
		out.Quality.HardFallbackActive = 0
		a.fillAudit(&out.Quality)
		a.lastQuality = out.Quality
		return
	}
	out.Quality.SnrWarmupActive = 0

	snrDbInst := snrFallbackDb
	var signalPow, noiseBaseline, band, df float64
	persistLoc := a.dbl.lastActiveTs() > 0.0 && lastTs-a.dbl.lastActiveTs() <= 5.0
	activeSnr := a.dbl.anyActive() || persistLoc
	baseBw := a.opt.SNR.BandPassive
	if activeSnr {
		baseBw = a.opt.SNR.BandActive
	}

	var pFund, pHalf float64
	if source == snrSourceTimeDomain {
		snrDbInst = timeDomainSnrDb(samples)
		a.psdTimeDomainFallbackEvents++
		logging.Debug("snr: time-domain fallback", logging.Fields{"snr_db": snrDbInst})
	} else {
		frq, p := freqBins, powerBins
		if len(frq) > 1 {
			df = frq[1] - frq[0]
		}
		nyq := 0.5 * effFs
		band = math.Max(2.0*df, baseBw)
		const guard = 0.03
		peakPow := 0.0
		peakPow2 := 0.0
		a.noiseScratch = a.noiseScratch[:0]
		harm2Below := 2.0*f0 < nyq
		f0Half := 0.5 * f0
		for i, f := range frq {
			pv := math.Abs(p[i])
			if inBand(f, f0, band) {
				peakPow += pv
			}
			if harm2Below && inBand(f, 2.0*f0, band) {
				peakPow2 += pv
			}
			if f0Half > 0.0 && inBand(f, f0Half, band) {
				pHalf += pv
			}
			nearSig := inBand(f, f0, band+guard) || (harm2Below && inBand(f, 2.0*f0, band+guard))
			if !nearSig && f >= 0.4 && f <= 5.0 {
				a.noiseScratch = append(a.noiseScratch, pv)
			}
		}
		pFund = peakPow
		signalPow = peakPow + peakPow2
		if len(a.noiseScratch) > 0 {
			n := len(a.noiseScratch)
			sort.Float64s(a.noiseScratch)
			startIdx := n / 20
			endIdx := n - startIdx
			if endIdx > startIdx {
				p75 := startIdx + (endIdx-startIdx)*3/4
				noiseBaseline = math.Max(a.noiseScratch[p75], 1e-8)
			}
		}
		if signalPow > 1e-10 && noiseBaseline > 1e-10 {
			noiseBandwidth := band * 2.0 / math.Max(1e-6, df)
			if noiseBandwidth > 1e-6 {
				if ratio := signalPow / (noiseBaseline * noiseBandwidth); ratio > 1e-10 {
					if cand := 10.0 * math.Log10(ratio); !math.IsNaN(cand) && !math.IsInf(cand, 0) {
						snrDbInst = cand
					}
				}
			}
		}
	}
	if math.IsNaN(snrDbInst) || math.IsInf(snrDbInst, 0) {
		snrDbInst = snrFallbackDb
	}

	// EMA smoothing with tau switching and band-change blend
	now := lastTs
	dt := a.psdUpdateSec
	if a.lastSnrUpdateTime > 0.0 {
		dt = now - a.lastSnrUpdateTime
	}
	if detOn {
		dt = a.psdUpdateSec
	}
	tau := a.snrTauSec
	if activeSnr {
		tau = a.opt.SNR.ActiveTauSec
	}
	alpha := 1.0 - math.Exp(-dt/math.Max(1e-3, tau))
	if !a.snrEmaValid {
		a.snrEmaDb = snrDbInst
		a.snrEmaValid = true
	} else {
		a.snrEmaDb = (1.0-alpha)*a.snrEmaDb + alpha*snrDbInst
	}
	bandChanged := math.Abs(baseBw-a.lastSnrBaseBw) > 1e-9 || activeSnr != a.lastSnrActiveMode
	if bandChanged && !detOn {
		bf := common.Clamp(a.opt.SNR.BandBlendFactor, 0.0, 1.0)
		a.snrEmaDb = (1.0-bf)*a.snrEmaDb + bf*snrDbInst
	}
	a.lastSnrBaseBw = baseBw
	a.lastSnrActiveMode = activeSnr
	a.lastSnrUpdateTime = now
	if math.IsNaN(a.snrEmaDb) || math.IsInf(a.snrEmaDb, 0) {
		a.snrEmaDb = snrFallbackDb
	}
	out.Quality.SnrDb = a.snrEmaDb
	out.Quality.F0Hz = a.lastF0Hz
	if a.hpThreshold {
		out.Quality.MaPercActive = a.maPerc
	}

	ratioHalfFund, halfStable := a.updateDoubling(out, harmonicEligible, pFund, pHalf, lastTs, firstTsApprox, acceptedPeaksTotal, f0)

	// frequency remap: report f0/2 and fold the half band into the SNR
	// while any flag (or its 5-second persistence) holds
	halfDominant := ratioHalfFund >= a.opt.Doubling.PHalfOverFundThresholdSoft && halfStable
	persistMap := a.dbl.lastActiveTs() > 0.0 && lastTs-a.dbl.lastActiveTs() <= 5.0
	useHalf := a.dbl.anyActive() || halfDominant || persistMap
	if useHalf && f0 > 0.0 {
		snrDbInst2 := snrFallbackDb
		signalPowUsed := pHalf + pFund
		if signalPowUsed > 0.0 && noiseBaseline > 0.0 {
			bw2 := band * 2.0 / math.Max(1e-6, df)
			if bw2 > 1e-6 {
				if ratio2 := signalPowUsed / (noiseBaseline * bw2); ratio2 > 1e-10 {
					if cand := 10.0 * math.Log10(ratio2); !math.IsNaN(cand) && !math.IsInf(cand, 0) {
						snrDbInst2 = cand
					}
				}
			}
		}
		if !a.snrEmaValid {
			a.snrEmaDb = snrDbInst2
			a.snrEmaValid = true
		} else {
			a.snrEmaDb = (1.0-alpha)*a.snrEmaDb + alpha*snrDbInst2
		}
		a.lastF0Hz = 0.5 * f0
	}
	out.Quality.F0Hz = a.lastF0Hz
	out.Quality.SnrDb = a.snrEmaDb

	out.Quality.SoftDoublingFlag = boolToInt(a.dbl.softActive)
	out.Quality.DoublingFlag = boolToInt(a.dbl.hardActive)
	out.Quality.HardFallbackActive = boolToInt(a.dbl.hardActive && lastTs <= a.hardFallbackUntil)
	out.Quality.DoublingHintFlag = boolToInt(a.dbl.hintActive)
	out.Quality.RRFallbackModeActive = boolToInt(a.dbl.rrFallbackModeActive)
	out.Quality.SoftStreak = a.dbl.softConsecPass
	if a.dbl.softActive {
		out.Quality.SoftSecs = lastTs - a.dbl.softStartTs
	}

	a.computeConfidence(out, lastTs, windowSec, warmupStartTs, firstTsApprox)
	a.fillAudit(&out.Quality)
	a.lastQuality = out.Quality
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// updateDoubling runs the soft/hard/hint state machine on one PSD frame.
// Returns the half/fundamental power ratio and half-f0 stability for the
// remap decision. Caller holds the lock.
func (a *Analyzer) updateDoubling(out *heart.HeartMetrics, harmonicEligible bool, pFund, pHalf, lastTs, firstTsApprox float64, acceptedPeaksTotal uint64, f0 float64) (ratioHalfFund float64, halfStable bool) {
	acceptedRR := 0
	if acceptedPeaksTotal > 1 {
		acceptedRR = int(acceptedPeaksTotal) - 1
	}
	warmupPassed := lastTs-firstTsApprox >= 15.0 && acceptedRR >= 10

	var shortFrac, longRR, rrCV, pairFrac float64
	if !harmonicEligible {
		logging.Debug("doubling: skipping update, PSD not valid this frame", logging.Fields{"warmup_passed": warmupPassed})
		a.warmupWasPassed = warmupPassed
		a.autoClear(lastTs, 0.0, false, rrCV, out.Quality.RejectionRate)
		return 0, false
	}

	if len(out.RRList) > 0 {
		rr := out.RRList
		med := a.medianOfRR(rr)
		thr := 0.8 * med
		sumLong, sumShort := 0.0, 0.0
		cntLong, cntShort := 0, 0
		for _, r := range rr {
			if r >= thr {
				sumLong += r
				cntLong++
			} else {
				sumShort += r
				cntShort++
			}
		}
		if cntLong > 0 {
			longRR = sumLong / float64(cntLong)
		} else {
			longRR = med
		}
		shortFrac = float64(cntShort) / float64(len(rr))
		meanRR := common.Mean(rr)
		if meanRR > 1e-9 {
			rrCV = common.PopStd(rr) / meanRR
		}
		cntPairs, goodPairs := 0, 0
		for i := 0; i+1 < len(rr); i++ {
			s := rr[i] + rr[i+1]
			if longRR > 0.0 {
				cntPairs++
				if s >= 0.85*longRR && s <= 1.15*longRR {
					goodPairs++
				}
			}
		}
		if cntPairs > 0 {
			pairFrac = float64(goodPairs) / float64(cntPairs)
		}
	}
	if pFund > 0.0 {
		ratioHalfFund = pHalf / pFund
	}

	f0Half := 0.5 * f0
	a.dbl.pushHalfF0(f0Half, a.opt.Doubling.HalfF0HistLen)
	driftTol := a.opt.Doubling.HalfF0TolHzCold
	if warmupPassed {
		driftTol = a.opt.Doubling.HalfF0TolHzWarm
	}
	halfStable = a.dbl.halfStableWithin(driftTol)

	rejection := out.Quality.RejectionRate
	softGuards := rejection <= 0.05 && rrCV <= 0.30 && warmupPassed
	if warmupPassed && !a.warmupWasPassed {
		a.dbl.softConsecPass = 0
		a.dbl.halfF0Hist.Clear()
		halfStable = false
	}
	a.warmupWasPassed = warmupPassed

	// soft: immediate activation post warm-up on PSD dominance
	softPass := warmupPassed && ratioHalfFund >= a.opt.Doubling.PHalfOverFundThresholdSoft && halfStable && softGuards
	if softPass {
		if !a.dbl.softActive {
			a.dbl.softStartTs = lastTs
		}
		a.dbl.softActive = true
		a.dbl.softConsecPass = 2
		a.dbl.softLastTrueTs = lastTs
		logging.Debug("doubling: soft active", logging.Fields{"ratio": ratioHalfFund})
	} else {
		a.dbl.softConsecPass = 0
		if !a.dbl.hardActive {
			a.dbl.softActive = false
		}
	}

	// hard: soft held >= 8 s with persisting PSD dominance at high rate
	persistHighBpm := a.bpmEmaValid && a.bpmEma > 120.0 && out.Quality.MaPercActive < 25.0
	psdPersists := ratioHalfFund >= 2.0 && halfStable
	hardStable := rejection <= 0.05 && rrCV <= 0.20
	if a.dbl.softActive && lastTs-a.dbl.softStartTs >= 8.0 && psdPersists && persistHighBpm && hardStable {
		a.dbl.hardActive = true
		a.dbl.holdUntil = math.Max(a.dbl.holdUntil, lastTs+5.0)
		a.dbl.hardLastTrueTs = lastTs
		if longRR > 0.0 {
			a.dbl.longRRms = longRR
		}
		hardRemain := math.Max(0.0, a.dbl.holdUntil-lastTs)
		a.hardFallbackUntil = lastTs + math.Min(3.0, hardRemain)
		logging.Debug("doubling: hard active", logging.Fields{"long_rr_ms": a.dbl.longRRms})
	}
	hardGuardsOk := ratioHalfFund >= 1.5 && halfStable && rejection <= 0.05 && rrCV <= 0.20
	if a.dbl.hardActive {
		if hardGuardsOk {
			a.dbl.hardLastTrueTs = lastTs
		}
		if lastTs-a.dbl.hardLastTrueTs >= 5.0 && lastTs >= a.dbl.holdUntil {
			a.dbl.hardActive = false
		}
	}

	// choke protection: active doubling pinning the rate below the
	// threshold for 3 s (after 20 s of stream) arms a relaxation window
	bpmEst := 0.0
	if len(out.RRList) > 0 {
		if med := a.medianOfRR(out.RRList); med > 1e-6 {
			bpmEst = 60000.0 / med
		}
	}
	if a.dbl.anyActive() && lastTs >= 20.0 && bpmEst > 0.0 && bpmEst < a.opt.Doubling.ChokeBpmThreshold {
		if a.dbl.chokeStartTs <= 0.0 {
			a.dbl.chokeStartTs = lastTs
		}
		if lastTs-a.dbl.chokeStartTs >= 3.0 {
			recovery := a.opt.Doubling.ChokeRelaxBaseSec
			if bpmEst < a.opt.Doubling.ChokeBpmThreshold {
				recovery = a.opt.Doubling.ChokeRelaxLowBpmSec
			}
			a.dbl.chokeRelaxUntil = lastTs + recovery
		}
	} else {
		a.dbl.chokeStartTs = 0.0
	}

	// hint: PSD path, sustained subdominant PSD, or RR-only fallback
	psdHintPass := warmupPassed && ratioHalfFund >= a.opt.Doubling.PHalfOverFundThresholdSoft && halfStable &&
		rejection <= 0.05 && rrCV <= 0.30
	halfStableLoose := a.dbl.halfStableWithin(0.08)
	psdLoNow := warmupPassed && ratioHalfFund >= a.opt.Doubling.PHalfOverFundThresholdLow && halfStableLoose &&
		rejection <= 0.05 && rrCV <= 0.20
	psdLoHold := false
	if psdLoNow {
		if a.dbl.psdLoStart <= 0.0 {
			a.dbl.psdLoStart = lastTs
		}
		if lastTs-a.dbl.psdLoStart >= 6.0 {
			psdLoHold = true
		}
	} else {
		a.dbl.psdLoStart = 0.0
	}

	medRR := 0.0
	if len(out.RRList) > 0 {
		medRR = a.medianOfRR(out.RRList)
	}
	rrBand := medRR >= 370.0 && medRR <= 450.0
	highBpmPersist := a.bpmHighActive && lastTs-math.Max(0.0, a.bpmHighStartTs) >= 8.0
	rrClean := rrCV <= 0.10 && rejection <= 0.03
	rrFallbackNow := warmupPassed && highBpmPersist && rrClean && rrBand
	if rrFallbackNow {
		a.dbl.rrFallbackConsec++
	} else {
		a.dbl.rrFallbackConsec = 0
	}
	rrHintPass := a.dbl.rrFallbackConsec >= 3
	a.dbl.rrFallbackActive = rrHintPass

	if psdHintPass || psdLoHold || rrHintPass {
		hold := 8.0
		if psdHintPass {
			hold = 12.0
		}
		if !a.dbl.hintActive {
			a.dbl.hintHoldUntil = lastTs + hold
			a.dbl.hintStartTs = lastTs
		}
		a.dbl.hintActive = true
		a.dbl.hintLastTrueTs = lastTs
		a.dbl.lastHintBadStart = 0.0
		if rrHintPass && !(psdHintPass || psdLoHold) {
			a.dbl.rrFallbackDrivingHint = true
		}
	} else if a.dbl.hintActive {
		if a.dbl.lastHintBadStart <= 0.0 {
			a.dbl.lastHintBadStart = lastTs
		}
		if lastTs-a.dbl.lastHintBadStart >= 2.0 && lastTs >= a.dbl.hintHoldUntil {
			a.dbl.hintActive = false
		}
	}
	if !a.dbl.hintActive {
		a.dbl.rrFallbackDrivingHint = false
	}
	a.dbl.rrFallbackModeActive = a.dbl.rrFallbackDrivingHint

	a.autoClear(lastTs, ratioHalfFund, halfStable, rrCV, rejection)

	out.Quality.PHalfOverFund = ratioHalfFund
	out.Quality.PairFrac = pairFrac
	out.Quality.RRShortFrac = shortFrac
	out.Quality.RRLongMs = longRR
	return ratioHalfFund, halfStable
}

// autoClear drops soft and hard after five continuous seconds of
// violated guards. The delay is deliberate hysteresis: soft may linger
// after a warm-up reset until the violation clock runs out.
func (a *Analyzer) autoClear(lastTs, ratioHalfFund float64, halfStable bool, rrCV, rejection float64) {
	violate := ratioHalfFund < 1.5 || !halfStable || rrCV > 0.20 || rejection > 0.05
	if violate {
		if a.dbl.lastClearBadStart <= 0.0 {
			a.dbl.lastClearBadStart = lastTs
		}
		if lastTs-a.dbl.lastClearBadStart >= 5.0 {
			a.dbl.softActive = false
			a.dbl.hardActive = false
		}
	} else {
		a.dbl.lastClearBadStart = 0.0
	}
}
