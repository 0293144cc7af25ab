package realtime

import (
	"errors"
	"math"
	"testing"

	"github.com/RyanBlaney/pulso-ppg/heart"
)

func sineBatch(fs float64, startIdx, n int, f float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * f * float64(startIdx+i) / fs)
	}
	return out
}

func newTestAnalyzer(t *testing.T, fs float64, mutate func(*heart.Options)) *Analyzer {
	t.Helper()
	opt := heart.DefaultOptions()
	if mutate != nil {
		mutate(&opt)
	}
	a, err := NewAnalyzer(fs, opt)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestWindowAccountingInvariant(t *testing.T) {
	fs := 50.0
	a := newTestAnalyzer(t, fs, nil)
	if err := a.SetWindowSeconds(5); err != nil {
		t.Fatal(err)
	}
	for b := 0; b < 30; b++ {
		a.Push(sineBatch(fs, b*int(fs), int(fs), 1.0))
		a.mu.Lock()
		if a.firstAbs+uint64(a.windowLen()) != a.totalAbs {
			t.Fatalf("batch %d: firstAbs(%d) + len(%d) != totalAbs(%d)",
				b, a.firstAbs, a.windowLen(), a.totalAbs)
		}
		for _, p := range a.peaksAbs {
			if p < a.firstAbs || p >= a.totalAbs {
				t.Fatalf("batch %d: peak %d outside [%d, %d)", b, p, a.firstAbs, a.totalAbs)
			}
		}
		a.mu.Unlock()
	}
}

func TestRollingStatsMatchDeque(t *testing.T) {
	fs := 50.0
	a := newTestAnalyzer(t, fs, nil)
	a.Push(sineBatch(fs, 0, 200, 1.0))
	a.mu.Lock()
	defer a.mu.Unlock()
	sum, sumsq := 0.0, 0.0
	a.rollWinRect.Range(func(v float32) {
		sum += float64(v)
		sumsq += float64(v) * float64(v)
	})
	if math.Abs(sum-a.rollRectSum) > 1e-6 {
		t.Errorf("incremental sum %v vs recomputed %v", a.rollRectSum, sum)
	}
	if math.Abs(sumsq-a.rollRectSumSq) > 1e-6 {
		t.Errorf("incremental sumsq %v vs recomputed %v", a.rollRectSumSq, sumsq)
	}
	// monotonic queues agree with a scan
	min, max := float32(math.Inf(1)), float32(math.Inf(-1))
	a.rollWinRect.Range(func(v float32) {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	})
	if a.rectMinQ.Len() == 0 || a.rectMinQ.Front() != min {
		t.Errorf("min queue front mismatch")
	}
	if a.rectMaxQ.Len() == 0 || a.rectMaxQ.Front() != max {
		t.Errorf("max queue front mismatch")
	}
}

func TestPollNotReadyBeforeInterval(t *testing.T) {
	fs := 50.0
	a := newTestAnalyzer(t, fs, nil)
	a.SetUpdateIntervalSeconds(1.0)
	a.Push(sineBatch(fs, 0, 10, 1.0)) // 0.2 s of data
	if _, err := a.Poll(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestCleanSineScenario(t *testing.T) {
	fs := 50.0
	a := newTestAnalyzer(t, fs, nil)
	if err := a.SetWindowSeconds(10); err != nil {
		t.Fatal(err)
	}
	a.SetUpdateIntervalSeconds(0.5)

	var last *heart.HeartMetrics
	for sec := 0; sec < 30; sec++ {
		a.Push(sineBatch(fs, sec*int(fs), int(fs), 1.0))
		m, err := a.Poll()
		if err != nil {
			continue
		}
		last = m
	}
	if last == nil {
		t.Fatal("no metrics emitted")
	}
	if last.BPM < 58 || last.BPM > 62 {
		t.Errorf("BPM = %v, want ~60", last.BPM)
	}
	if last.RMSSD > 5.0 {
		t.Errorf("RMSSD = %v, want < 5 ms", last.RMSSD)
	}
	if last.Quality.SnrWarmupActive == 1 {
		t.Error("warm-up still active after 30 s on a 10 s window")
	}
	if last.Quality.SnrDb < 10.0 {
		t.Errorf("SNR = %v dB, want >= 10 on a clean sinusoid", last.Quality.SnrDb)
	}
	if last.Quality.Confidence < 0.7 {
		t.Errorf("confidence = %v, want > 0.7", last.Quality.Confidence)
	}
	if last.Quality.SoftDoublingFlag != 0 {
		t.Error("soft doubling flagged on a clean fundamental")
	}
}

func TestConfidenceGatedDuringWarmup(t *testing.T) {
	fs := 50.0
	a := newTestAnalyzer(t, fs, nil)
	if err := a.SetWindowSeconds(10); err != nil {
		t.Fatal(err)
	}
	a.SetUpdateIntervalSeconds(0.5)

	// 3 s in: enough data for a rate estimate, well inside warm-up
	for sec := 0; sec < 3; sec++ {
		a.Push(sineBatch(fs, sec*int(fs), int(fs), 1.0))
	}
	m, err := a.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if m.Quality.SnrWarmupActive != 1 && m.Quality.HardFallbackActive != 1 {
		t.Error("warm-up (or fallback) must be active after 3 s")
	}
	if m.Quality.Confidence > 0.4 {
		t.Errorf("confidence = %v during warm-up, want low", m.Quality.Confidence)
	}
}

func TestDoublingTrapHandled(t *testing.T) {
	fs := 100.0
	a := newTestAnalyzer(t, fs, nil)
	// doubling analysis requires >= 15 s of visible history
	if err := a.SetWindowSeconds(20); err != nil {
		t.Fatal(err)
	}
	a.SetUpdateIntervalSeconds(0.5)

	var last *heart.HeartMetrics
	for sec := 0; sec < 40; sec++ {
		batch := make([]float64, int(fs))
		for i := range batch {
			ti := float64(sec*int(fs)+i) / fs
			batch[i] = math.Sin(2*math.Pi*1.0*ti) + 0.8*math.Sin(2*math.Pi*2.0*ti)
		}
		a.Push(batch)
		m, err := a.Poll()
		if err != nil {
			continue
		}
		last = m
	}
	if last == nil {
		t.Fatal("no metrics emitted")
	}
	// the rate must resolve to the fundamental or its double, never to
	// something in between or outside the band
	if !(last.BPM >= 50 && last.BPM <= 70) && !(last.BPM >= 110 && last.BPM <= 130) {
		t.Errorf("BPM = %v, want ~60 or ~120", last.BPM)
	}
	if last.Quality.PHalfOverFund < 0 {
		t.Errorf("pHalfOverFund = %v, want >= 0", last.Quality.PHalfOverFund)
	}
	// when the doubling machinery engages, the reported fundamental must
	// be remapped to the half frequency
	if last.Quality.SoftDoublingFlag == 1 || last.Quality.DoublingFlag == 1 {
		if last.Quality.F0Hz > 1.2 {
			t.Errorf("f0 = %v Hz with doubling active, want remap to ~1 Hz", last.Quality.F0Hz)
		}
	}
}

func TestDoublingSoftActivationAndClear(t *testing.T) {
	fs := 50.0
	a := newTestAnalyzer(t, fs, nil)
	a.mu.Lock()
	defer a.mu.Unlock()

	rr := make([]float64, 20)
	for i := range rr {
		rr[i] = 500.0 + float64(i%3) // tiny jitter, CV ~ 0
	}
	out := &heart.HeartMetrics{RRList: rr}

	// strong half-frequency: pHalf/pFund = 3 with a stable half-f0 track
	for i := 0; i < 3; i++ {
		lastTs := 30.0 + 2.0*float64(i)
		a.updateDoubling(out, true, 1.0, 3.0, lastTs, 0.0, 20, 2.0)
	}
	if !a.dbl.softActive {
		t.Fatal("soft flag should be active after stable PSD dominance")
	}
	if a.dbl.softLastTrueTs == 0 {
		t.Error("softLastTrueTs not recorded")
	}

	// conditions collapse: soft clears immediately when hard is not
	// governing (the 5 s persistence applies to the f0 remap, not the flag)
	a.updateDoubling(out, true, 1.0, 0.0, 37.0, 0.0, 20, 2.0)
	if a.dbl.softActive {
		t.Error("soft flag should clear when dominance vanishes")
	}
}

func TestDoublingHardActivation(t *testing.T) {
	fs := 50.0
	a := newTestAnalyzer(t, fs, nil)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.bpmEmaValid = true
	a.bpmEma = 150.0

	rr := make([]float64, 20)
	for i := range rr {
		rr[i] = 400.0 + float64(i%2)
	}
	out := &heart.HeartMetrics{RRList: rr}

	// hold soft continuously for 8 seconds: the warm-up reset at t=30 and
	// the two-entry half-f0 history delay soft until t=34, so run to t=42
	for i := 0; i <= 6; i++ {
		lastTs := 30.0 + 2.0*float64(i)
		a.updateDoubling(out, true, 1.0, 3.0, lastTs, 0.0, 20, 2.5)
	}
	if !a.dbl.hardActive {
		t.Fatal("hard flag should activate after 8 s of soft dominance at high rate")
	}
	if a.dbl.holdUntil <= 42.0 {
		t.Errorf("holdUntil = %v, want beyond activation time", a.dbl.holdUntil)
	}
	if a.hardFallbackUntil <= 0 {
		t.Error("hard fallback window not armed")
	}
	if a.dbl.longRRms <= 0 {
		t.Error("long RR estimate not captured")
	}
}

func TestF0RemapPersistsAfterDoubling(t *testing.T) {
	fs := 50.0
	a := newTestAnalyzer(t, fs, nil)
	if err := a.SetWindowSeconds(10); err != nil {
		t.Fatal(err)
	}
	a.SetUpdateIntervalSeconds(0.5)
	for sec := 0; sec < 20; sec++ {
		a.Push(sineBatch(fs, sec*int(fs), int(fs), 1.0))
		if _, err := a.Poll(); err != nil {
			continue
		}
	}
	// simulate a just-cleared doubling episode: the remap persists for
	// five seconds after the last confirmed activity
	a.mu.Lock()
	a.dbl.softLastTrueTs = a.lastTs
	a.mu.Unlock()

	a.Push(sineBatch(fs, 20*int(fs), int(fs), 1.0))
	var m *heart.HeartMetrics
	for i := 0; i < 4; i++ {
		a.Push(sineBatch(fs, (21+i)*int(fs), int(fs), 1.0))
		got, err := a.Poll()
		if err != nil {
			continue
		}
		m = got
	}
	if m == nil {
		t.Fatal("no metrics emitted")
	}
	// the clean fundamental is 1 Hz; persistence maps it to ~0.5 Hz
	if m.Quality.F0Hz > 0.75 {
		t.Errorf("f0 = %v Hz, want remapped to ~0.5 during persistence", m.Quality.F0Hz)
	}
}

func TestTimestampBacktrackDropped(t *testing.T) {
	fs := 50.0
	mk := func() *Analyzer {
		a := newTestAnalyzer(t, fs, nil)
		if err := a.SetWindowSeconds(10); err != nil {
			t.Fatal(err)
		}
		a.SetUpdateIntervalSeconds(0.5)
		return a
	}
	samples := sineBatch(fs, 0, 500, 1.0)
	ts := make([]float64, 500)
	for i := range ts {
		ts[i] = float64(i) / fs
	}

	clean := mk()
	if err := clean.PushWithTimestamps(samples, ts); err != nil {
		t.Fatal(err)
	}

	dirty := mk()
	if err := dirty.PushWithTimestamps(samples, ts); err != nil {
		t.Fatal(err)
	}
	// re-push the last 50 samples with timestamps one second earlier
	backSamples := samples[450:]
	backTs := make([]float64, 50)
	for i := range backTs {
		backTs[i] = ts[450+i] - 1.0
	}
	if err := dirty.PushWithTimestamps(backSamples, backTs); err != nil {
		t.Fatal(err)
	}

	cm, err := clean.Poll()
	if err != nil {
		t.Fatal(err)
	}
	dm, err := dirty.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if dm.Quality.TimestampsSkippedTotal != 50 {
		t.Errorf("skipped = %d, want 50", dm.Quality.TimestampsSkippedTotal)
	}
	if dm.Quality.TimestampBacktrackEventsTotal != 50 {
		t.Errorf("backtrack events = %d, want 50", dm.Quality.TimestampBacktrackEventsTotal)
	}
	if cm.BPM != dm.BPM {
		t.Errorf("metrics diverged: clean BPM %v vs dirty %v", cm.BPM, dm.BPM)
	}
	if len(cm.PeakList) != len(dm.PeakList) {
		t.Errorf("peak counts diverged: %d vs %d", len(cm.PeakList), len(dm.PeakList))
	}
}

func TestBatchClampCounted(t *testing.T) {
	fs := 50.0
	a := newTestAnalyzer(t, fs, nil)
	huge := make([]float64, int(20*fs)) // twice the 10 s clamp
	a.Push(huge)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.clampedBatchesTotal != 1 {
		t.Errorf("clampedBatchesTotal = %d, want 1", a.clampedBatchesTotal)
	}
	if a.windowLen() != int(10*fs) {
		t.Errorf("window length = %d, want %d", a.windowLen(), int(10*fs))
	}
}

func TestRingBufferWindowMatchesVector(t *testing.T) {
	fs := 50.0
	mk := func(ring bool) *Analyzer {
		a := newTestAnalyzer(t, fs, func(o *heart.Options) {
			o.Streaming.UseRingBuffer = ring
		})
		if err := a.SetWindowSeconds(5); err != nil {
			t.Fatal(err)
		}
		a.SetUpdateIntervalSeconds(0.5)
		return a
	}
	vec := mk(false)
	ring := mk(true)
	for sec := 0; sec < 12; sec++ {
		batch := sineBatch(fs, sec*int(fs), int(fs), 1.0)
		vec.Push(batch)
		ring.Push(batch)
	}
	vm, err1 := vec.Poll()
	rm, err2 := ring.Poll()
	if err1 != nil || err2 != nil {
		t.Fatalf("poll errors: %v %v", err1, err2)
	}
	if math.Abs(vm.BPM-rm.BPM) > 1.0 {
		t.Errorf("ring and vector disagree: %v vs %v", vm.BPM, rm.BPM)
	}
	if len(vm.WaveformValues) != len(rm.WaveformValues) {
		t.Errorf("window sizes differ: %d vs %d", len(vm.WaveformValues), len(rm.WaveformValues))
	}
}

func TestSetWindowSecondsClampsAndResets(t *testing.T) {
	fs := 50.0
	a := newTestAnalyzer(t, fs, nil)
	if err := a.SetWindowSeconds(1000); err != nil {
		t.Fatal(err)
	}
	a.mu.Lock()
	if a.windowSec != 300 {
		t.Errorf("windowSec = %v, want clamp to 300", a.windowSec)
	}
	a.mu.Unlock()
	if err := a.SetWindowSeconds(math.NaN()); err == nil {
		t.Error("NaN window must be rejected")
	} else if heart.ErrorCode(err) != heart.CodeInvalidWindow {
		t.Errorf("code = %s, want %s", heart.ErrorCode(err), heart.CodeInvalidWindow)
	}
}

func TestDisplayBufferDecimated(t *testing.T) {
	fs := 120.0
	a := newTestAnalyzer(t, fs, nil)
	a.SetDisplayHz(30)
	a.Push(sineBatch(fs, 0, int(fs), 1.0))
	buf := a.DisplayBuffer()
	// 1 s of 120 Hz decimated to ~30 Hz
	if len(buf) < 25 || len(buf) > 40 {
		t.Errorf("display buffer length = %d, want ~30", len(buf))
	}
}

func TestStepChangeTracked(t *testing.T) {
	fs := 50.0
	a := newTestAnalyzer(t, fs, nil)
	if err := a.SetWindowSeconds(10); err != nil {
		t.Fatal(err)
	}
	a.SetUpdateIntervalSeconds(0.5)

	var last *heart.HeartMetrics
	push := func(sec int, f float64) {
		batch := make([]float64, int(fs))
		for i := range batch {
			ti := float64(sec*int(fs)+i) / fs
			batch[i] = math.Sin(2 * math.Pi * f * ti)
		}
		a.Push(batch)
		if m, err := a.Poll(); err == nil {
			last = m
		}
	}
	for sec := 0; sec < 20; sec++ {
		push(sec, 1.0) // 60 BPM
	}
	if last == nil || last.BPM < 55 || last.BPM > 65 {
		t.Fatalf("pre-step BPM = %v, want ~60", last.BPM)
	}
	for sec := 20; sec < 40; sec++ {
		push(sec, 2.0) // 120 BPM
	}
	// the 10 s window has fully refreshed; the step must be tracked
	if last.BPM < 110 || last.BPM > 130 {
		t.Errorf("post-step BPM = %v, want ~120", last.BPM)
	}
}
