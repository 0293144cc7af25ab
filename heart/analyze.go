// Package heart implements the PPG heart-rate analysis core: batch signal
// analysis with adaptive peak detection, RR interval cleaning, and the
// time- and frequency-domain HRV measures.
package heart

import (
	"fmt"
	"math"
	"sort"

	"github.com/RyanBlaney/pulso-ppg/algorithms/common"
	"github.com/RyanBlaney/pulso-ppg/algorithms/filters"
	"github.com/RyanBlaney/pulso-ppg/logging"
	"github.com/RyanBlaney/pulso-ppg/preprocess"
)

// AnalyzeSignal runs the full batch pipeline over a finite signal:
// preprocessing, detrend + bandpass, adaptive peak detection, RR outlier
// rejection, and metric computation.
func AnalyzeSignal(signal []float64, fs float64, opt Options) (*HeartMetrics, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("signal is empty")
	}
	if fs <= 0.0 {
		return nil, newCodedError(CodeInvalidFs, "fs must be > 0, got %v", fs)
	}

	m := &HeartMetrics{}
	processed := make([]float64, len(signal))
	copy(processed, signal)

	if opt.Preprocessing.InterpClipping {
		processed = preprocess.InterpolateClipping(processed, opt.Preprocessing.ClippingThreshold)
	}
	if opt.Preprocessing.HampelCorrect {
		processed = preprocess.HampelFilter(processed, opt.Preprocessing.HampelWindow, opt.Preprocessing.HampelThreshold)
	}
	if opt.Preprocessing.RemoveBaselineWander {
		processed = preprocess.RemoveBaselineWander(processed, fs)
	}
	if opt.Preprocessing.EnhancePeaks {
		processed = preprocess.EnhancePeaks(processed)
	}

	// Ensure positive baseline
	minVal, _ := common.MinMax(processed)
	if minVal < 0 {
		offset := math.Abs(minVal)
		for i := range processed {
			processed[i] += offset
		}
	}

	logging.Debug("analyze: preprocessed", logging.Fields{"n": len(processed), "fs": fs})

	// Detrend + bandpass produce only the waveform snapshot; peak detection
	// runs on the scaled processed signal and the spectral measures on the
	// IBIs.
	detrendWin := int(math.Round(0.75 * fs))
	if detrendWin < 5 {
		detrendWin = 5
	}
	x := preprocess.MovingAverageDetrend(processed, detrendWin)
	x = applyBandpass(x, fs, &opt.Bandpass)
	// the conditioned trace is the batch waveform snapshot; the realtime
	// analyzer replaces it with its own window copy
	m.WaveformValues = x

	procForPeaks := preprocess.ScaleData(processed, 0.0, 1024.0)
	fit := fitPeaks(procForPeaks, fs, opt.Peak.BPMMin, opt.Peak.BPMMax)
	var peaks []int
	if fit.ok {
		peaks = fit.peaks
	} else {
		peaks = detectPeaksAdaptive(procForPeaks, fs, opt.Peak.RefractoryMs, opt.Peak.ThresholdScale, opt.Peak.BPMMin, opt.Peak.BPMMax)
	}
	if opt.Streaming.HighPrecision && opt.Streaming.HighPrecisionFs > fs && len(peaks) > 0 {
		peaks = InterpolatePeaks(procForPeaks, peaks, fs, opt.Streaming.HighPrecisionFs)
	}
	m.PeakList = append([]int(nil), peaks...)
	m.PeakListRaw = append([]int(nil), peaks...)
	logging.Debug("analyze: raw peaks", logging.Fields{"count": len(peaks), "fit_ok": fit.ok, "best_ma": fit.bestMA})

	m.Quality = AssessSignalQuality(peaks, fs)

	if len(peaks) >= 2 {
		applyRRFilter(m, peaks, fs, &opt)
	}

	m.RRList = append([]float64(nil), m.IbiMs...)

	// Threshold-RR masking before optional cleaning
	if opt.Quality.ThresholdRR && len(m.RRList) > 0 {
		meanRR := common.Mean(m.RRList)
		margin := math.Max(0.3*meanRR, 300.0)
		lower := meanRR - margin
		upper := meanRR + margin
		cor := make([]float64, 0, len(m.RRList))
		for _, v := range m.RRList {
			if !(v <= lower || v >= upper) {
				cor = append(cor, v)
			}
		}
		if len(cor) > 0 {
			m.RRList = cor
		}
	}

	if opt.Cleaning.CleanRR && len(m.RRList) > 0 {
		switch opt.Cleaning.Method {
		case CleanIQR:
			m.RRList, _, _ = RemoveOutliersIQR(m.RRList)
		case CleanZScore:
			m.RRList = RemoveOutliersZScore(m.RRList, 3.0)
		case CleanQuotientFilter:
			m.RRList = RemoveOutliersQuotientFilter(m.RRList)
		}
	}

	if len(m.RRList) > 0 {
		m.BPM = 60000.0 / common.Mean(m.RRList)
	}

	computeTimeDomain(m, &opt)

	if opt.Frequency.CalcFreq && len(m.IbiMs) >= 2 {
		computeFrequencyDomain(m, m.IbiMs, &opt)
	} else {
		m.VLF = math.NaN()
		m.LF = math.NaN()
		m.HF = math.NaN()
		m.LFHF = math.NaN()
	}
	return m, nil
}

// applyBandpass dispatches on the filter mode. AUTO switches to the
// zero-phase cascade for order >= 3.
func applyBandpass(x []float64, fs float64, bp *BandpassOptions) []float64 {
	switch bp.Mode {
	case FilterRBJ:
		return filters.BandpassBuffer(x, fs, bp.LowHz, bp.HighHz, bp.Order)
	case FilterButterFiltFilt:
		return filters.FiltFiltBandpass(x, fs, bp.LowHz, bp.HighHz, bp.Order)
	default:
		if bp.Order >= 3 {
			return filters.FiltFiltBandpass(x, fs, bp.LowHz, bp.HighHz, bp.Order)
		}
		return filters.BandpassBuffer(x, fs, bp.LowHz, bp.HighHz, bp.Order)
	}
}

// applyRRFilter removes RR outliers (percentage band), applies the
// segmentwise quality pass and the spacing filter, and leaves the
// corrected peak list and IBIs on m.
func applyRRFilter(m *HeartMetrics, peaks []int, fs float64, opt *Options) {
	rrRaw := make([]float64, 0, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		rrRaw = append(rrRaw, float64(peaks[i]-peaks[i-1])*1000.0/fs)
	}
	meanRR := common.Mean(rrRaw)
	rrPercent := common.Clamp(opt.Peak.RROutlierPercent, 0.0, 1.0)
	percentDelta := meanRR * rrPercent
	deltaMin := math.Max(0.0, opt.Peak.RROutlierMinMs)
	deltaMax := percentDelta
	if opt.Peak.RROutlierMaxMs > 0.0 {
		deltaMax = opt.Peak.RROutlierMaxMs
	}
	if deltaMax < deltaMin {
		deltaMax = deltaMin
	}
	lowerClamp := percentDelta
	if deltaMin > 0.0 {
		lowerClamp = deltaMin
	}
	rrDelta := common.Clamp(percentDelta, lowerClamp, deltaMax)
	lower := meanRR - rrDelta
	upper := meanRR + rrDelta
	logging.Debug("analyze: rr bounds", logging.Fields{"lower": lower, "upper": upper, "mean": meanRR, "delta": rrDelta})

	// an out-of-band RR i rejects peak i+1
	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	for i, rr := range rrRaw {
		if rr <= lower || rr >= upper {
			if i+1 < len(keep) {
				keep[i+1] = false
			}
		}
	}

	// Segmentwise rejection over windows of N beats
	if opt.Quality.RejectSegmentwise {
		segSize := opt.Quality.SegmentRejectWindowBeats
		if segSize < 1 {
			segSize = 1
		}
		stepBeats := int(math.Round(float64(segSize) * (1.0 - common.Clamp(opt.Quality.SegmentRejectOverlap, 0.0, 0.99))))
		if stepBeats < 1 {
			stepBeats = 1
		}
		idx := 0
		for idx < len(keep) {
			end := idx + segSize
			if end > len(keep) {
				end = len(keep)
			}
			rejected := 0
			for i := idx; i < end; i++ {
				if !keep[i] {
					rejected++
				}
			}
			accept := rejected <= opt.Quality.SegmentRejectMaxRejects
			if !accept {
				for i := idx; i < end; i++ {
					keep[i] = false
				}
			}
			m.BinarySegments = append(m.BinarySegments, BinarySegment{
				Index:         idx / segSize,
				StartBeat:     idx,
				EndBeat:       end,
				TotalBeats:    end - idx,
				RejectedBeats: rejected,
				Accepted:      accept,
			})
			idx += stepBeats
			if idx >= len(keep) {
				break
			}
		}
	}

	peaksCor := make([]int, 0, len(peaks))
	acceptedRaw := make([]int, 0, len(peaks))
	m.BinaryPeakMask = m.BinaryPeakMask[:0]
	m.Quality.RejectedIndices = m.Quality.RejectedIndices[:0]
	for i, p := range peaks {
		if keep[i] {
			m.BinaryPeakMask = append(m.BinaryPeakMask, 1)
			peaksCor = append(peaksCor, p)
			acceptedRaw = append(acceptedRaw, i)
		} else {
			m.BinaryPeakMask = append(m.BinaryPeakMask, 0)
			m.Quality.RejectedIndices = append(m.Quality.RejectedIndices, i)
		}
	}

	// Spacing filter: drop accepted peaks closer than the minimum distance
	// to the previously kept one. Ties at exactly the minimum are kept.
	if opt.Peak.MinPeakDistanceMs > 0.0 && len(peaksCor) > 1 {
		minSamples := int(math.Ceil(opt.Peak.MinPeakDistanceMs * fs / 1000.0))
		if minSamples > 1 {
			filtered := make([]int, 1, len(peaksCor))
			filtered[0] = peaksCor[0]
			filteredRaw := make([]int, 1, len(acceptedRaw))
			filteredRaw[0] = acceptedRaw[0]
			last := peaksCor[0]
			removed := 0
			for i := 1; i < len(peaksCor); i++ {
				delta := peaksCor[i] - last
				if delta < minSamples {
					rawIdx := acceptedRaw[i]
					keep[rawIdx] = false
					m.BinaryPeakMask[rawIdx] = 0
					m.Quality.RejectedIndices = append(m.Quality.RejectedIndices, rawIdx)
					removed++
					continue
				}
				filtered = append(filtered, peaksCor[i])
				filteredRaw = append(filteredRaw, acceptedRaw[i])
				last = peaksCor[i]
			}
			if removed > 0 {
				logging.Debug("analyze: spacing filter", logging.Fields{"min_ms": opt.Peak.MinPeakDistanceMs, "removed": removed})
				peaksCor = filtered
				acceptedRaw = filteredRaw
			}
		}
	}

	m.IbiMs = m.IbiMs[:0]
	for i := 1; i < len(peaksCor); i++ {
		m.IbiMs = append(m.IbiMs, float64(peaksCor[i]-peaksCor[i-1])*1000.0/fs)
	}
	m.PeakList = peaksCor
	if len(m.Quality.RejectedIndices) > 1 {
		sort.Ints(m.Quality.RejectedIndices)
		uniq := m.Quality.RejectedIndices[:1]
		for _, v := range m.Quality.RejectedIndices[1:] {
			if v != uniq[len(uniq)-1] {
				uniq = append(uniq, v)
			}
		}
		m.Quality.RejectedIndices = uniq
	}
}

// computeTimeDomain fills the time-domain and Poincaré measures from
// m.RRList (already cleaned).
func computeTimeDomain(m *HeartMetrics, opt *Options) {
	if len(m.RRList) == 0 {
		return
	}
	m.SDNN = common.PopStd(m.RRList)
	m.MAD = common.MAD(m.RRList)

	if len(m.RRList) < 2 {
		return
	}
	diff := make([]float64, 0, len(m.RRList)-1)
	for i := 1; i < len(m.RRList); i++ {
		diff = append(diff, m.RRList[i]-m.RRList[i-1])
	}

	if opt.Output.SdsdMode == SdsdAbs {
		absDiff := make([]float64, len(diff))
		for i, d := range diff {
			absDiff[i] = math.Abs(d)
		}
		m.SDSD = common.PopStd(absDiff)
	} else {
		m.SDSD = common.PopStd(diff)
	}
	sumsq := 0.0
	for _, d := range diff {
		sumsq += d * d
		if math.Abs(d) > 20.0 {
			m.NN20++
		}
		if math.Abs(d) > 50.0 {
			m.NN50++
		}
	}
	m.RMSSD = math.Sqrt(sumsq / float64(len(diff)))

	// pNN on rounded abs diffs with strict '>'
	over20, over50 := 0, 0
	for _, d := range diff {
		ad := common.Round6(math.Abs(d))
		if ad > 20.0 {
			over20++
		}
		if ad > 50.0 {
			over50++
		}
	}
	r20 := float64(over20) / float64(len(diff))
	r50 := float64(over50) / float64(len(diff))
	if opt.Output.PnnAsPercent {
		m.PNN20 = 100.0 * r20
		m.PNN50 = 100.0 * r50
	} else {
		m.PNN20 = r20
		m.PNN50 = r50
	}

	// Poincaré, formula form for the batch path
	m.SD1 = m.RMSSD / math.Sqrt(2.0)
	m.SD2 = math.Sqrt(math.Max(0.0, 2.0*m.SDNN*m.SDNN-0.5*m.SDSD*m.SDSD))
	if m.SD2 > 1e-12 {
		m.SD1SD2Ratio = m.SD1 / m.SD2
	}
	m.EllipseArea = math.Pi * m.SD1 * m.SD2

	if len(m.RRList) >= 10 {
		brHz := CalculateBreathingRate(m.RRList)
		if opt.Output.BreathingAsBpm {
			m.BreathingRate = brHz * 60.0
		} else {
			m.BreathingRate = brHz
		}
	}
}

// AnalyzeSignalSegmentwise analyzes the signal in overlapping windows of
// Segmentwise.Width seconds and averages bpm/sdnn/rmssd over the valid
// segments. A trailing window shorter than Segmentwise.MinSize seconds is
// discarded.
func AnalyzeSignalSegmentwise(signal []float64, fs float64, opt Options) (*HeartMetrics, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("signal is empty")
	}
	if fs <= 0.0 {
		return nil, newCodedError(CodeInvalidFs, "fs must be > 0, got %v", fs)
	}
	result := &HeartMetrics{}

	segmentLength := int(opt.Segmentwise.Width * fs)
	stepSize := int(float64(segmentLength) * (1.0 - opt.Segmentwise.Overlap))
	if stepSize < 1 {
		stepSize = 1
	}
	minSegmentSize := int(opt.Segmentwise.MinSize * fs)

	for start := 0; start < len(signal); start += stepSize {
		end := start + segmentLength
		if end > len(signal) {
			end = len(signal)
		}
		if end-start < minSegmentSize {
			break
		}
		segMetrics, err := AnalyzeSignal(signal[start:end], fs, opt)
		if err != nil {
			continue // skip bad segments
		}
		if segMetrics.Quality.GoodQuality || !opt.Quality.RejectSegmentwise {
			result.Segments = append(result.Segments, *segMetrics)
		}
	}

	if len(result.Segments) > 0 {
		var avgBpm, avgSdnn, avgRmssd float64
		valid := 0
		for i := range result.Segments {
			seg := &result.Segments[i]
			if seg.BPM > 0 {
				avgBpm += seg.BPM
				avgSdnn += seg.SDNN
				avgRmssd += seg.RMSSD
				valid++
			}
		}
		if valid > 0 {
			result.BPM = avgBpm / float64(valid)
			result.SDNN = avgSdnn / float64(valid)
			result.RMSSD = avgRmssd / float64(valid)
		}
	}
	return result, nil
}

// AnalyzeRRIntervals computes the metric set directly from RR intervals
// (ms), skipping filtering and peak detection. Cleaning and threshold
// masking follow the configured options; pair statistics use only
// adjacent intervals whose endpoints are both accepted by the mask.
func AnalyzeRRIntervals(rrMs []float64, opt Options) (*HeartMetrics, error) {
	metrics := &HeartMetrics{}
	metrics.RRList = append([]float64(nil), rrMs...)
	if len(rrMs) == 0 {
		return metrics, nil
	}

	rrMask := make([]int, len(rrMs))
	if opt.Quality.ThresholdRR {
		rrMask = thresholdRRMask(rrMs)
		cor := make([]float64, 0, len(rrMs))
		for i, v := range rrMs {
			if rrMask[i] == 0 {
				cor = append(cor, v)
			}
		}
		if len(cor) > 0 {
			metrics.RRList = cor
		}
	}

	if opt.Cleaning.CleanRR {
		switch opt.Cleaning.Method {
		case CleanIQR:
			metrics.RRList, _, _ = RemoveOutliersIQR(metrics.RRList)
		case CleanZScore:
			metrics.RRList = RemoveOutliersZScore(metrics.RRList, 3.0)
		case CleanQuotientFilter:
			iters := opt.Cleaning.Iterations
			if iters < 1 {
				iters = 1
			}
			qmask := quotientFilterMask(rrMs, rrMask, iters)
			clean := make([]float64, 0, len(rrMs))
			for i, v := range rrMs {
				if qmask[i] == 0 {
					clean = append(clean, v)
				}
			}
			if len(clean) > 0 {
				metrics.RRList = clean
			}
			rrMask = qmask
		}
	}

	if len(metrics.RRList) == 0 {
		return metrics, nil
	}
	metrics.BPM = 60000.0 / common.Mean(metrics.RRList)
	metrics.SDNN = common.PopStd(metrics.RRList)
	metrics.MAD = common.MAD(metrics.RRList)

	if len(metrics.RRList) >= 2 {
		// pair diffs from the original list, both endpoints accepted
		var pairDiffs, pairAbs []float64
		if len(rrMs) >= 2 {
			for i := 1; i < len(rrMs); i++ {
				if rrMask[i] == 0 && rrMask[i-1] == 0 {
					d := rrMs[i] - rrMs[i-1]
					pairDiffs = append(pairDiffs, d)
					pairAbs = append(pairAbs, math.Abs(d))
				}
			}
		}

		if len(pairDiffs) > 0 {
			if opt.Output.SdsdMode == SdsdAbs {
				metrics.SDSD = common.PopStd(pairAbs)
			} else {
				metrics.SDSD = common.PopStd(pairDiffs)
			}
			sumsq := 0.0
			for _, d := range pairDiffs {
				sumsq += d * d
			}
			metrics.RMSSD = math.Sqrt(sumsq / float64(len(pairDiffs)))
			over20, over50 := 0, 0
			for _, ad := range pairAbs {
				v := common.Round6(ad)
				if v > 20.0 {
					over20++
				}
				if v > 50.0 {
					over50++
				}
			}
			metrics.NN20 = float64(over20)
			metrics.NN50 = float64(over50)
			r20 := float64(over20) / float64(len(pairAbs))
			r50 := float64(over50) / float64(len(pairAbs))
			if opt.Output.PnnAsPercent {
				metrics.PNN20 = 100.0 * r20
				metrics.PNN50 = 100.0 * r50
			} else {
				metrics.PNN20 = r20
				metrics.PNN50 = r50
			}
		}

		computePoincare(metrics, rrMs, rrMask, &opt)
	}

	if len(metrics.RRList) >= 10 {
		brHz := CalculateBreathingRate(metrics.RRList)
		if opt.Output.BreathingAsBpm {
			metrics.BreathingRate = brHz * 60.0
		} else {
			metrics.BreathingRate = brHz
		}
	}
	return metrics, nil
}

// computePoincare derives SD1/SD2 from rotated masked RR pairs; with
// fewer than two usable pairs, or in formula mode, it falls back to the
// rmssd/sdnn identities.
func computePoincare(m *HeartMetrics, rrMs []float64, rrMask []int, opt *Options) {
	var xPlus, xMinus []float64
	if opt.Output.PoincareMode == PoincareMasked && len(rrMs) >= 2 {
		for i := 0; i+1 < len(rrMs); i++ {
			if rrMask[i]+rrMask[i+1] == 0 {
				xPlus = append(xPlus, rrMs[i])
				xMinus = append(xMinus, rrMs[i+1])
			}
		}
	}
	if len(xPlus) >= 2 {
		invSqrt2 := 1.0 / math.Sqrt(2.0)
		xOne := make([]float64, len(xPlus))
		xTwo := make([]float64, len(xPlus))
		for i := range xPlus {
			xOne[i] = (xPlus[i] - xMinus[i]) * invSqrt2
			xTwo[i] = (xPlus[i] + xMinus[i]) * invSqrt2
		}
		m.SD1 = math.Sqrt(math.Max(0.0, common.PopVariance(xOne)))
		m.SD2 = math.Sqrt(math.Max(0.0, common.PopVariance(xTwo)))
	} else {
		m.SD1 = m.RMSSD / math.Sqrt(2.0)
		m.SD2 = math.Sqrt(math.Max(0.0, 2.0*m.SDNN*m.SDNN-0.5*m.SDSD*m.SDSD))
	}
	if m.SD2 > 1e-12 {
		m.SD1SD2Ratio = m.SD1 / m.SD2
	} else {
		m.SD1SD2Ratio = 0.0
	}
	m.EllipseArea = math.Pi * m.SD1 * m.SD2
}
