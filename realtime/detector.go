package realtime

import (
	"math"

	"github.com/RyanBlaney/pulso-ppg/algorithms/common"
)

// Online peak acceptance. A candidate local maximum must clear the
// rolling threshold, survive RR-predicted gating against the rate prior,
// and respect the dynamic refractory; within the refractory the strongest
// peak wins. Caller holds the analyzer lock.

func (a *Analyzer) testCandidate(y1 float32, absIdx uint64, hasTs bool) {
	nwin := a.rollWinRect.Len()
	if nwin == 0 {
		return
	}
	mean := a.rollRectSum / float64(nwin)
	variance := a.rollRectSumSq/float64(nwin) - mean*mean
	if variance < 0 {
		variance = 0
	}
	sd := math.Sqrt(variance)

	vmin := float64(y1)
	vmax := float64(y1)
	if a.rectMinQ.Len() > 0 {
		vmin = float64(a.rectMinQ.Front())
	}
	if a.rectMaxQ.Len() > 0 {
		vmax = float64(a.rectMaxQ.Front())
	}
	den := math.Max(1e-6, vmax-vmin)

	effFs := a.effFs()
	tnow := a.firstTsApprox + float64(absIdx-a.firstAbs)/effFs

	var thr, y1Cmp float64
	if a.hpThreshold {
		scaledMean := (mean - vmin) / den * 1024.0
		a.baseLift = scaledMean * a.maPerc / 100.0
		lift := a.baseLift
		if tnow < a.tempLiftUntil {
			lift += a.tempLiftBoost
		}
		thr = scaledMean + lift
		y1Cmp = (float64(y1) - vmin) / den * 1024.0
	} else {
		thr = mean + a.opt.Peak.ThresholdScale*sd
		y1Cmp = float64(y1)
	}
	if !(y1Cmp > thr) {
		return
	}

	allow := true
	if len(a.peaksAbs) > 0 {
		lastAbs := a.peaksAbs[len(a.peaksAbs)-1]
		rrNewMs := float64(absIdx-lastAbs) / effFs * 1000.0

		bpmPrior := 0.5 * (a.opt.Peak.BPMMin + a.opt.Peak.BPMMax)
		if a.bpmEmaValid {
			bpmPrior = a.bpmEma
		}
		bpmPrior = common.Clamp(bpmPrior, a.opt.Peak.BPMMin, a.opt.Peak.BPMMax)
		rrPriorMs := common.Clamp(60000.0/math.Max(1e-6, bpmPrior),
			a.opt.Streaming.MinRRFloorRelaxed, a.opt.Streaming.MinRRCeiling)

		acceptedRR := 0
		if a.acceptedPeaksTotal > 1 {
			acceptedRR = int(a.acceptedPeaksTotal) - 1
		}
		gateRel := tnow >= 15.0 && acceptedRR >= 10 && a.bpmEmaValid && a.bpmEma < 100.0
		floorMs := a.opt.Streaming.MinRRFloorStrict
		if gateRel {
			floorMs = a.opt.Streaming.MinRRFloorRelaxed
		}
		minRRMs := math.Max(0.7*rrPriorMs, floorMs)

		// Unified long-RR gating while any doubling flag is live; the
		// choke relaxation window suspends it so a genuinely slow rate
		// can recover from oversuppression
		chokeRelaxed := tnow < a.dbl.chokeRelaxUntil
		if (a.dbl.softActive || a.dbl.hardActive || a.dbl.hintActive) && !chokeRelaxed {
			longEst := 0.0
			if a.dbl.longRRms > 0.0 {
				longEst = a.dbl.longRRms
			}
			if len(a.lastRR) > 0 {
				med := a.medianOfRR(a.lastRR)
				longEst = math.Max(longEst, 2.0*med)
			}
			if a.lastF0Hz > 1e-9 {
				longEst = math.Max(longEst, 1000.0/a.lastF0Hz)
			}
			if longEst > 0.0 {
				longEst = common.Clamp(longEst, 600.0, a.opt.Streaming.MinRRCeiling)
				minSoft := common.Clamp(a.opt.Streaming.MinRRGateFactor*longEst,
					a.opt.Streaming.MinRRFloorRelaxed, a.opt.Streaming.MinRRCeiling)
				minRRMs = math.Max(minRRMs, minSoft)
				if a.dbl.hardActive && a.dbl.longRRms > 0.0 {
					if tnow <= a.hardFallbackUntil {
						minRRMs = math.Max(minRRMs, 0.9*a.dbl.longRRms)
					} else if tnow < a.dbl.holdUntil {
						minRRMs = math.Max(minRRMs, 0.8*a.dbl.longRRms)
					}
				}
			}
		}

		if rrNewMs < minRRMs {
			lastCmp := a.compareValue(lastAbs, float64(y1), vmin, den)
			margin := 2.5
			if gateRel {
				margin = 1.0
			}
			if !(y1Cmp > lastCmp+margin*sd) {
				allow = false
			}
		}

		// Rejection tracking arms a temporary lift and refractory boost
		if !allow {
			if tnow-a.shortRejectWindowStart > 3.0 {
				a.shortRejectWindowStart = tnow
				a.shortRejectCount = 0
			}
			a.shortRejectCount++
			if a.shortRejectCount > 3 {
				a.tempLiftBoost = math.Max(a.tempLiftBoost, 10.0)
				a.tempLiftUntil = tnow + 2.0
				capExtra := int(math.Round(math.Max(0.0, 0.35-a.opt.Peak.RefractoryMs*0.001) * effFs))
				extra := int(math.Round(0.05 * effFs))
				if extra < a.dynRefExtraSamples {
					extra = a.dynRefExtraSamples
				}
				if extra > capExtra {
					extra = capExtra
				}
				a.dynRefExtraSamples = extra
				a.dynRefUntil = tnow + 2.0
			}
		}
		if tnow > a.dynRefUntil {
			a.dynRefExtraSamples = 0
		}

		// diagnostics: the refractory and min-RR bound in force
		dynBaseRef := int(math.Round(common.Clamp(0.4*rrPriorMs, 280.0, 450.0) * 0.001 * effFs))
		appliedRef := dynBaseRef + a.dynRefExtraSamples
		if a.dbl.hardActive && tnow <= a.hardFallbackUntil {
			fallbackRef := int(math.Round(math.Min(450.0, 0.5*rrPriorMs) * 0.001 * effFs))
			if fallbackRef > appliedRef {
				appliedRef = fallbackRef
			}
		}
		a.lastRefMsActive = float64(appliedRef) * 1000.0 / effFs
		a.lastMinRRBoundMs = minRRMs

		// trough requirement between the last peak and the candidate
		if allow && hasTs {
			minCmp := math.Inf(1)
			startAbs := lastAbs
			if startAbs < a.firstAbs {
				startAbs = a.firstAbs
			}
			n := a.windowLen()
			for idx := startAbs; idx < absIdx; idx++ {
				rel := int(idx - a.firstAbs)
				if rel < 0 || rel >= n {
					continue
				}
				cmp := (float64(a.rectifiedAt(rel)) - vmin) / den * 1024.0
				if cmp < minCmp {
					minCmp = cmp
				}
			}
			if !(minCmp < thr-140.0) {
				allow = false
			}
		}
	}
	if !allow {
		return
	}

	if len(a.peaksAbs) == 0 {
		a.peaksAbs = append(a.peaksAbs, absIdx)
		a.lastAcceptedAmpCmp = y1Cmp
		a.acceptedPeaksTotal++
	} else {
		lastAbs := a.peaksAbs[len(a.peaksAbs)-1]
		bpmPrior := 0.5 * (a.opt.Peak.BPMMin + a.opt.Peak.BPMMax)
		if a.bpmEmaValid {
			bpmPrior = a.bpmEma
		}
		rrPriorMs := common.Clamp(60000.0/math.Max(1e-6, bpmPrior), 400.0, 1200.0)
		baseRef := int(math.Round(common.Clamp(0.4*rrPriorMs, 280.0, 450.0) * 0.001 * effFs))
		if baseRef < 1 {
			baseRef = 1
		}
		refractoryNow := baseRef + a.dynRefExtraSamples
		if a.dbl.hardActive && tnow <= a.hardFallbackUntil {
			fallbackRef := int(math.Round(math.Min(450.0, 0.5*rrPriorMs) * 0.001 * effFs))
			if fallbackRef > refractoryNow {
				refractoryNow = fallbackRef
			}
		}
		if refractoryNow < 1 {
			refractoryNow = 1
		}
		if absIdx-lastAbs >= uint64(refractoryNow) {
			a.peaksAbs = append(a.peaksAbs, absIdx)
			a.lastAcceptedAmpCmp = y1Cmp
			a.acceptedPeaksTotal++
		} else {
			// strongest-within-refractory: replace if stronger
			lastCmp := a.compareValue(lastAbs, float64(y1), 0, 0)
			if a.hpThreshold {
				lastCmp = a.compareValue(lastAbs, float64(y1), vmin, den)
			}
			if y1Cmp > lastCmp {
				a.peaksAbs[len(a.peaksAbs)-1] = absIdx
				a.lastAcceptedAmpCmp = y1Cmp
			}
		}
	}

	// refresh the relative peak and RR views
	a.lastPeaks = a.lastPeaks[:0]
	a.lastRR = a.lastRR[:0]
	for j, abs := range a.peaksAbs {
		a.lastPeaks = append(a.lastPeaks, int(abs-a.firstAbs))
		if j > 0 {
			dts := float64(a.peaksAbs[j]-a.peaksAbs[j-1]) / effFs
			a.lastRR = append(a.lastRR, dts*1000.0)
		}
	}
}

// compareValue maps the stored sample at absIdx into the comparison
// scale: raw rectified amplitude, or the [0,1024] scaling when den > 0.
func (a *Analyzer) compareValue(absIdx uint64, fallback, vmin, den float64) float64 {
	n := a.windowLen()
	rel := -1
	if absIdx >= a.firstAbs {
		rel = int(absIdx - a.firstAbs)
	}
	val := fallback
	if rel >= 0 && rel < n {
		val = float64(a.rectifiedAt(rel))
	}
	if den > 0 {
		return (val - vmin) / den * 1024.0
	}
	return val
}
