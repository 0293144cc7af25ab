// Package realtime implements the streaming PPG analyzer: a sliding
// sample window with a per-sample biquad cascade, an online peak detector
// with dynamic refractory and RR-predicted gating, a Welch-based SNR
// engine, and a harmonic doubling detector that suppresses false rate
// doubling.
package realtime

import (
	"errors"
	"math"
	"sync"

	"github.com/RyanBlaney/pulso-ppg/algorithms/common"
	"github.com/RyanBlaney/pulso-ppg/algorithms/filters"
	"github.com/RyanBlaney/pulso-ppg/heart"
	"github.com/RyanBlaney/pulso-ppg/logging"
)

// ErrNotReady is returned by Poll before the next update interval has
// elapsed. State is untouched in that case.
var ErrNotReady = errors.New("metrics not ready")

const (
	// maxWindowSec bounds acceptance memory regardless of configuration.
	maxWindowSec = 300.0
	// snrFallbackDb is emitted when the SNR is undefined.
	snrFallbackDb = -5.0
)

// Analyzer is the realtime streaming analyzer. All exported methods are
// safe for concurrent use; internally a single mutex serializes pushes,
// parameter changes and poll snapshots, while poll's heavy computation
// runs on private copies outside the lock.
type Analyzer struct {
	mu sync.Mutex

	fs        float64
	opt       heart.Options
	windowSec float64
	updateSec float64

	// timebase (seconds)
	lastEmitTime  float64
	lastTs        float64
	firstTsApprox float64
	warmupStartTs float64 // NaN until the first sample arrives
	effectiveFs   float64
	emaAlpha      float64
	lastPsdTime   float64
	psdUpdateSec  float64
	displayHz     float64

	// sliding window storage
	signalBuf  []float64
	timestamps []float64
	filt       []float32
	displayBuf []float32
	useRing    bool
	ringSignal *common.RingBuffer
	ringFilt   *common.RingBuffer

	// poll scratch (reused across polls)
	pollWindowBuffer    []float64
	pollTimestampBuffer []float64
	noiseScratch        []float64
	scratchRR           []float64
	ringScratch         []float32

	bq  []*filters.Section
	bqD []*filters.SectionD

	// cached outputs from last poll
	lastQuality heart.QualityInfo
	lastPeaks   []int
	lastRR      []float64

	// rolling stats for thresholding (rectified window)
	rollWinRect   deque[float32]
	rollRectSum   float64
	rollRectSumSq float64
	rectMinQ      deque[float32]
	rectMaxQ      deque[float32]
	winSamples    int

	firstAbs           uint64
	totalAbs           uint64
	peaksAbs           []uint64
	acceptedPeaksTotal uint64

	// audit/telemetry counters
	droppedSamplesTotal           uint64
	clampedBatchesTotal           uint64
	oomPreventedTotal             uint64
	paramChangeEventsTotal        uint64
	droppedSamplesLast            uint64
	clampedBatchesLast            uint64
	dropConsecPolls               int
	timestampBacktrackEventsTotal uint64
	timestampsSkippedTotal        uint64
	timeJumpEventsTotal           uint64
	psdParamClampEventsTotal      uint64
	psdReuseFallbackEventsTotal   uint64
	psdTimeDomainFallbackEvents   uint64
	psdInvalidFramesTotal         uint64

	// HP-style thresholding state
	baseLift    float64
	maPerc      float64
	hpThreshold bool

	// SNR smoothing (EMA)
	snrEmaDb          float64
	snrEmaValid       bool
	snrTauSec         float64
	lastSnrUpdateTime float64
	lastSnrActiveMode bool
	lastSnrBaseBw     float64

	// streaming BPM prior
	bpmEma            float64
	bpmEmaValid       bool
	bpmTauSec         float64
	lastBpmUpdateTime float64

	lastF0Hz         float64
	lastRefMsActive  float64
	lastMinRRBoundMs float64
	warmupWasPassed  bool
	hardFallbackUntil float64

	// RR-gating state
	shortRejectCount       int
	shortRejectWindowStart float64
	tempLiftBoost          float64
	tempLiftUntil          float64
	dynRefExtraSamples     int
	dynRefUntil            float64
	lastAcceptedAmpCmp     float64

	// persistent high-HR tracking
	bpmHighStartTs float64
	bpmHighActive  bool

	// harmonic suppression state
	dbl doublingState

	// cached PSD
	lastPsdValid   bool
	lastPsdFreq    []float64
	lastPsdPower   []float64
	lastPsdFs      float64
	lastPsdNfft    int
	lastPsdOverlap float64
}

// NewAnalyzer creates a streaming analyzer for the nominal sample rate fs.
// Options are validated; validation failure allocates nothing.
func NewAnalyzer(fs float64, opt heart.Options) (*Analyzer, error) {
	if fs <= 0.0 {
		fs = 50.0
	}
	if err := opt.Validate(fs); err != nil {
		return nil, err
	}
	a := &Analyzer{
		fs:            fs,
		opt:           opt,
		windowSec:     60.0,
		psdUpdateSec:  2.0,
		displayHz:     60.0,
		emaAlpha:      0.1,
		snrTauSec:     10.0,
		bpmTauSec:     8.0,
		lastSnrBaseBw: 0.12,
		warmupStartTs: math.NaN(),
	}
	a.updateSec = common.Clamp(a.windowSec*0.08, 0.2, 0.5)

	capSamples := safeSizeMul(a.windowSec, fs)
	margin := 8 * int(math.Ceil(fs))
	a.signalBuf = make([]float64, 0, capSamples+margin)
	a.filt = make([]float32, 0, capSamples+margin)
	a.effectiveFs = fs

	if opt.Bandpass.LowHz > 0.0 || opt.Bandpass.HighHz > 0.0 {
		order := opt.Bandpass.Order
		if order < 1 {
			order = 1
		}
		if opt.Streaming.HighPrecision || opt.Streaming.Deterministic {
			a.bqD = filters.NewBandpassChainD(fs, opt.Bandpass.LowHz, opt.Bandpass.HighHz, order)
		} else {
			a.bq = filters.NewBandpassChain(fs, opt.Bandpass.LowHz, opt.Bandpass.HighHz, order)
		}
	}

	a.winSamples = int(math.Round(0.75 * fs))
	if a.winSamples < 5 {
		a.winSamples = 5
	}
	a.maPerc = common.Clamp(opt.Peak.MAPerc, 10.0, 60.0)
	a.hpThreshold = opt.Peak.UseHPThreshold
	if opt.SNR.TauSec > 0.0 {
		a.snrTauSec = math.Max(0.1, opt.SNR.TauSec)
	}
	if a.opt.SNR.ActiveTauSec <= 0.0 {
		a.opt.SNR.ActiveTauSec = math.Max(a.snrTauSec, 0.1)
	}

	if opt.Streaming.UseRingBuffer {
		a.useRing = true
		ringCap := safeSizeMul(a.windowSec, fs)
		if ringCap < 1 {
			ringCap = 1
		}
		a.ringSignal = common.NewRingBuffer(ringCap)
		a.ringFilt = common.NewRingBuffer(ringCap)
	}
	return a, nil
}

// safeSizeMul computes round(a*b) saturated to a sane allocation bound.
func safeSizeMul(a, b float64) int {
	if math.IsNaN(a) || math.IsNaN(b) || a <= 0.0 || b <= 0.0 {
		return 0
	}
	const maxAlloc = 1 << 26
	prod := a * b
	if prod > maxAlloc {
		return maxAlloc
	}
	return int(prod)
}

// SetWindowSeconds clamps the window to [1, 300] s. A substantive change
// resets the warm-up timer so confidence re-gates on the new window.
func (a *Analyzer) SetWindowSeconds(sec float64) error {
	if math.IsNaN(sec) || math.IsInf(sec, 0) {
		return heart.NewCodedError(heart.CodeInvalidWindow, "window seconds must be finite, got %v", sec)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	clamped := common.Clamp(sec, 1.0, maxWindowSec)
	if clamped != a.windowSec {
		a.windowSec = clamped
		if a.windowLen() > 0 {
			a.warmupStartTs = a.lastTs
		} else {
			a.warmupStartTs = math.NaN()
		}
		if a.useRing {
			ringCap := safeSizeMul(a.windowSec, a.effFs())
			if ringCap < 1 {
				ringCap = 1
			}
			a.ringSignal.Reconfigure(ringCap)
			a.ringFilt.Reconfigure(ringCap)
		}
		a.paramChangeEventsTotal++
	}
	a.updateSec = common.Clamp(a.windowSec*0.08, 0.2, 0.5)
	a.trimToWindow()
	return nil
}

// SetUpdateIntervalSeconds sets the minimum spacing between emitted polls
// (floor 0.1 s).
func (a *Analyzer) SetUpdateIntervalSeconds(sec float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updateSec = math.Max(0.1, sec)
	a.paramChangeEventsTotal++
}

// SetPSDUpdateSeconds sets the SNR/PSD refresh cadence, clamped [0.5, 5].
func (a *Analyzer) SetPSDUpdateSeconds(sec float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.psdUpdateSec = common.Clamp(sec, 0.5, 5.0)
	a.paramChangeEventsTotal++
}

// SetDisplayHz sets the decimated display rate, clamped [10, 120].
func (a *Analyzer) SetDisplayHz(hz float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.displayHz = common.Clamp(hz, 10.0, 120.0)
}

// ApplyPresetTorch tightens the band and enables HP thresholding for
// torch-lit fingertip capture.
func (a *Analyzer) ApplyPresetTorch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opt.Bandpass.LowHz = 0.7
	a.opt.Bandpass.HighHz = 3.0
	a.opt.Peak.RefractoryMs = math.Max(300.0, a.opt.Peak.RefractoryMs)
	a.opt.Peak.UseHPThreshold = true
	a.hpThreshold = true
	a.opt.Peak.MAPerc = common.Clamp(a.opt.Peak.MAPerc, 10.0, 60.0)
	a.maPerc = a.opt.Peak.MAPerc
	a.paramChangeEventsTotal++
}

// ApplyPresetAmbient relaxes the band for ambient-light capture.
func (a *Analyzer) ApplyPresetAmbient() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opt.Bandpass.LowHz = 0.5
	a.opt.Bandpass.HighHz = 3.5
	a.opt.Peak.ThresholdScale = math.Max(0.5, a.opt.Peak.ThresholdScale)
	a.opt.Peak.RefractoryMs = math.Max(320.0, a.opt.Peak.RefractoryMs)
	a.opt.Peak.UseHPThreshold = true
	a.hpThreshold = true
	a.opt.Peak.MAPerc = common.Clamp(a.opt.Peak.MAPerc, 10.0, 60.0)
	a.maPerc = a.opt.Peak.MAPerc
	a.paramChangeEventsTotal++
}

// Quality returns the most recent quality report.
func (a *Analyzer) Quality() heart.QualityInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastQuality
}

// LatestPeaks returns the window-relative indices of the accepted peaks.
func (a *Analyzer) LatestPeaks() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.lastPeaks...)
}

// LatestRR returns the RR intervals (ms) between accepted peaks.
func (a *Analyzer) LatestRR() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.lastRR...)
}

// DisplayBuffer returns the decimated waveform snapshot.
func (a *Analyzer) DisplayBuffer() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float32(nil), a.displayBuf...)
}

// windowLen reports the current number of stored window samples.
func (a *Analyzer) windowLen() int {
	if a.useRing {
		return a.ringFilt.Len()
	}
	return len(a.filt)
}

// maxBatch is the per-push sample clamp.
func (a *Analyzer) maxBatch() int {
	return int(math.Ceil(10.0 * a.fs))
}

// Push appends samples using the nominal sample rate as the timebase.
// Oversized batches are truncated (counted); empty batches are no-ops.
func (a *Analyzer) Push(samples []float64) {
	if len(samples) == 0 {
		return
	}
	n := len(samples)
	if mb := a.maxBatch(); n > mb {
		n = mb
		a.mu.Lock()
		a.clampedBatchesTotal++
		a.clampedBatchesLast++
		a.mu.Unlock()
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.windowLen() == 0 {
		a.firstTsApprox = 0.0
		a.lastTs = float64(n) / a.fs
		if math.IsNaN(a.warmupStartTs) {
			a.warmupStartTs = 0.0
		}
	} else {
		a.lastTs += float64(n) / a.fs
	}
	for i := 0; i < n; i++ {
		a.appendSample(samples[i], 0, false)
	}
	a.rebuildDisplay()
	a.trimToWindow()
}

// PushWithTimestamps appends samples with per-sample timestamps
// (seconds). Samples whose timestamp precedes the last seen one are
// dropped and counted; gaps above two seconds count a time-jump event.
func (a *Analyzer) PushWithTimestamps(samples, ts []float64) error {
	if len(samples) == 0 {
		return heart.NewCodedError(heart.CodeInvalidBuffer, "empty sample buffer")
	}
	if len(ts) != len(samples) {
		return heart.NewCodedError(heart.CodeInvalidBuffer, "samples (%d) and timestamps (%d) must have equal length", len(samples), len(ts))
	}
	n := len(samples)
	if mb := a.maxBatch(); n > mb {
		n = mb
		a.mu.Lock()
		a.clampedBatchesTotal++
		a.clampedBatchesLast++
		a.mu.Unlock()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// effective-fs EMA from the batch span
	if n >= 2 {
		dt := (ts[n-1] - ts[0]) / float64(n-1)
		if dt > 1e-6 {
			fsBatch := 1.0 / dt
			if a.effectiveFs <= 0.0 {
				a.effectiveFs = fsBatch
			} else {
				a.effectiveFs = (1.0-a.emaAlpha)*a.effectiveFs + a.emaAlpha*fsBatch
			}
		}
	}
	if a.windowLen() == 0 {
		a.firstTsApprox = ts[0]
		if math.IsNaN(a.warmupStartTs) {
			a.warmupStartTs = ts[0]
		}
	}

	lastSeen := a.lastTs
	for i := 0; i < n; i++ {
		t := ts[i]
		if t < lastSeen {
			a.timestampBacktrackEventsTotal++
			a.timestampsSkippedTotal++
			continue
		}
		if t-lastSeen > 2.0 {
			a.timeJumpEventsTotal++
		}
		a.appendSample(samples[i], t, true)
		lastSeen = t
	}
	a.lastTs = lastSeen
	a.rebuildDisplay()
	a.trimToWindow()
	return nil
}

// appendSample filters one sample, updates the rolling windows, and runs
// the incremental peak test. Caller holds the lock.
func (a *Analyzer) appendSample(s float64, ts float64, hasTs bool) {
	var yout float32
	if (a.opt.Streaming.HighPrecision || a.opt.Streaming.Deterministic) && len(a.bqD) > 0 {
		yd := s
		for _, sec := range a.bqD {
			yd = sec.ProcessSample(yd)
		}
		yout = float32(yd)
	} else {
		y := float32(s)
		for _, sec := range a.bq {
			y = sec.ProcessSample(y)
		}
		yout = y
	}

	if a.useRing {
		a.ringSignal.Push(float32(s))
		a.ringFilt.Push(yout)
	} else {
		a.signalBuf = append(a.signalBuf, s)
		a.filt = append(a.filt, yout)
	}
	if hasTs {
		a.timestamps = append(a.timestamps, ts)
	}

	// rolling window update (rectified, with monotonic min/max)
	yr := yout
	if yr < 0 {
		yr = 0
	}
	a.rollWinRect.PushBack(yr)
	a.rollRectSum += float64(yr)
	a.rollRectSumSq += float64(yr) * float64(yr)
	for a.rectMinQ.Len() > 0 && a.rectMinQ.Back() > yr {
		a.rectMinQ.PopBack()
	}
	a.rectMinQ.PushBack(yr)
	for a.rectMaxQ.Len() > 0 && a.rectMaxQ.Back() < yr {
		a.rectMaxQ.PopBack()
	}
	a.rectMaxQ.PushBack(yr)

	for a.rollWinRect.Len() > a.winSamples {
		u := a.rollWinRect.PopFront()
		a.rollRectSum -= float64(u)
		a.rollRectSumSq -= float64(u) * float64(u)
		if a.rectMinQ.Len() > 0 && a.rectMinQ.Front() == u {
			a.rectMinQ.PopFront()
		}
		if a.rectMaxQ.Len() > 0 && a.rectMaxQ.Front() == u {
			a.rectMaxQ.PopFront()
		}
	}

	// one-sample look-ahead local-max test at the previous sample
	if n := a.windowLen(); n >= 3 {
		y2 := a.rectifiedAt(n - 3)
		y1 := a.rectifiedAt(n - 2)
		y0 := a.rectifiedAt(n - 1)
		if y1 > y2 && y1 >= y0 {
			absIdx := a.totalAbs - 1
			a.testCandidate(y1, absIdx, hasTs)
		}
	}
	a.totalAbs++
}

// rectifiedAt returns max(0, filt[i]) for window-relative index i.
func (a *Analyzer) rectifiedAt(i int) float32 {
	var v float32
	if a.useRing {
		v = a.ringFilt.At(i)
	} else {
		v = a.filt[i]
	}
	if v < 0 {
		return 0
	}
	return v
}

// rebuildDisplay refreshes the decimated waveform snapshot.
func (a *Analyzer) rebuildDisplay() {
	effFs := a.effFs()
	stride := int(math.Round(effFs / math.Max(10.0, a.displayHz)))
	if stride < 1 {
		stride = 1
	}
	a.displayBuf = a.displayBuf[:0]
	if a.useRing {
		a.ringScratch = a.ringFilt.Snapshot(a.ringScratch)
		for i := 0; i < len(a.ringScratch); i += stride {
			a.displayBuf = append(a.displayBuf, a.ringScratch[i])
		}
	} else {
		for i := 0; i < len(a.filt); i += stride {
			a.displayBuf = append(a.displayBuf, a.filt[i])
		}
	}
}

// effFs returns the effective sample rate (timestamped) or the nominal.
func (a *Analyzer) effFs() float64 {
	if a.effectiveFs > 1e-6 {
		return a.effectiveFs
	}
	return a.fs
}

// trimToWindow enforces the window capacity and keeps the peak list and
// derived RR series consistent with the stored window.
func (a *Analyzer) trimToWindow() {
	effFs := a.effFs()
	maxSamples := safeSizeMul(math.Min(a.windowSec, maxWindowSec), effFs)
	if maxSamples < 1 {
		a.oomPreventedTotal++
		maxSamples = 1
	}
	if a.useRing {
		cur := a.ringFilt.Len()
		if a.totalAbs > uint64(cur) {
			a.firstAbs = a.totalAbs - uint64(cur)
		} else {
			a.firstAbs = 0
		}
		a.firstTsApprox = a.lastTs - float64(cur)/effFs
		a.prunePeaksAndRebuild(effFs)
		// timestamps mirror the ring window
		if len(a.timestamps) > cur {
			drop := len(a.timestamps) - cur
			a.timestamps = a.timestamps[:copy(a.timestamps, a.timestamps[drop:])]
		}
	} else if len(a.signalBuf) > maxSamples {
		drop := len(a.signalBuf) - maxSamples
		a.signalBuf = a.signalBuf[:copy(a.signalBuf, a.signalBuf[drop:])]
		if len(a.timestamps) >= drop {
			a.timestamps = a.timestamps[:copy(a.timestamps, a.timestamps[drop:])]
		} else {
			a.timestamps = a.timestamps[:0]
		}
		if len(a.filt) >= drop {
			a.filt = a.filt[:copy(a.filt, a.filt[drop:])]
		}
		a.droppedSamplesLast += uint64(drop)
		a.droppedSamplesTotal += uint64(drop)
		a.dropConsecPolls++
		a.firstTsApprox = a.lastTs - float64(len(a.signalBuf))/effFs
		a.firstAbs += uint64(drop)
		a.prunePeaksAndRebuild(effFs)
	} else {
		a.dropConsecPolls = 0
	}

	maxDisp := safeSizeMul(math.Min(a.windowSec, maxWindowSec), math.Max(10.0, a.displayHz))
	if len(a.displayBuf) > maxDisp && maxDisp > 0 {
		drop := len(a.displayBuf) - maxDisp
		a.displayBuf = a.displayBuf[:copy(a.displayBuf, a.displayBuf[drop:])]
	}
}

// prunePeaksAndRebuild drops peaks that fell out of the window and
// rebuilds the relative peak and RR views.
func (a *Analyzer) prunePeaksAndRebuild(effFs float64) {
	keepFrom := 0
	for keepFrom < len(a.peaksAbs) && a.peaksAbs[keepFrom] < a.firstAbs {
		keepFrom++
	}
	if keepFrom > 0 {
		a.peaksAbs = a.peaksAbs[:copy(a.peaksAbs, a.peaksAbs[keepFrom:])]
	}
	a.lastPeaks = a.lastPeaks[:0]
	a.lastRR = a.lastRR[:0]
	for j, abs := range a.peaksAbs {
		a.lastPeaks = append(a.lastPeaks, int(abs-a.firstAbs))
		if j > 0 {
			dt := float64(a.peaksAbs[j]-a.peaksAbs[j-1]) / effFs
			a.lastRR = append(a.lastRR, dt*1000.0)
		}
	}
}

// Poll snapshots the window under the lock, runs the batch analyzer and
// the SNR/doubling update on the copies, and commits the refreshed
// quality. Returns ErrNotReady when called before the update interval.
func (a *Analyzer) Poll() (*heart.HeartMetrics, error) {
	a.mu.Lock()
	if a.lastTs-a.lastEmitTime < a.updateSec {
		a.mu.Unlock()
		return nil, ErrNotReady
	}
	a.lastEmitTime = a.lastTs

	// snapshot the filtered window and timestamps into reusable buffers
	if a.useRing {
		a.ringScratch = a.ringFilt.Snapshot(a.ringScratch)
		a.pollWindowBuffer = a.pollWindowBuffer[:0]
		for _, v := range a.ringScratch {
			a.pollWindowBuffer = append(a.pollWindowBuffer, float64(v))
		}
	} else {
		a.pollWindowBuffer = a.pollWindowBuffer[:0]
		for _, v := range a.filt {
			a.pollWindowBuffer = append(a.pollWindowBuffer, float64(v))
		}
	}
	a.pollTimestampBuffer = append(a.pollTimestampBuffer[:0], a.timestamps...)
	fsEff := a.effFs()
	opt := a.opt
	a.droppedSamplesLast = 0
	a.clampedBatchesLast = 0
	a.mu.Unlock()

	if len(a.pollWindowBuffer) == 0 {
		return nil, ErrNotReady
	}

	// heavy path on the private copy, no lock held
	out, err := heart.AnalyzeSignal(a.pollWindowBuffer, fsEff, opt)
	if err != nil {
		return nil, err
	}
	out.WaveformValues = append([]float64(nil), a.pollWindowBuffer...)
	out.WaveformTimestamps = append([]float64(nil), a.pollTimestampBuffer...)
	out.PeakTimestamps = out.PeakTimestamps[:0]
	for _, pi := range out.PeakList {
		if pi >= 0 && pi < len(a.pollTimestampBuffer) {
			out.PeakTimestamps = append(out.PeakTimestamps, a.pollTimestampBuffer[pi])
		}
	}

	a.updateSNR(out, fsEff)

	a.mu.Lock()
	a.updateBpmEma(out)
	a.lastQuality = out.Quality
	a.mu.Unlock()
	return out, nil
}

// updateBpmEma feeds the streaming BPM prior from the poll's RR-derived
// rate. Caller holds the lock.
func (a *Analyzer) updateBpmEma(out *heart.HeartMetrics) {
	if out.BPM <= 0.0 {
		return
	}
	now := a.lastTs
	dt := a.psdUpdateSec
	if a.lastBpmUpdateTime > 0.0 {
		dt = now - a.lastBpmUpdateTime
	}
	if dt <= 0.0 {
		dt = a.updateSec
	}
	alpha := 1.0 - math.Exp(-dt/math.Max(1e-3, a.bpmTauSec))
	if !a.bpmEmaValid {
		a.bpmEma = out.BPM
		a.bpmEmaValid = true
	} else {
		a.bpmEma = (1.0-alpha)*a.bpmEma + alpha*out.BPM
	}
	a.lastBpmUpdateTime = now

	// sustained high-rate tracking feeds the RR-only doubling path
	if a.bpmEma > 120.0 {
		if !a.bpmHighActive {
			a.bpmHighActive = true
			a.bpmHighStartTs = now
		}
	} else {
		a.bpmHighActive = false
		a.bpmHighStartTs = 0.0
	}
	logging.Debug("poll: bpm ema", logging.Fields{"bpm": out.BPM, "ema": a.bpmEma})
}

// medianOfRR returns the upper median using the reusable scratch buffer.
func (a *Analyzer) medianOfRR(rr []float64) float64 {
	if len(rr) == 0 {
		return 0.0
	}
	a.scratchRR = append(a.scratchRR[:0], rr...)
	return common.Median(a.scratchRR)
}
