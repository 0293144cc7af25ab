package heart

import (
	"math"
	"testing"
)

func TestAnalyzeSignalCleanSine(t *testing.T) {
	fs := 50.0
	n := int(30 * fs)
	x := make([]float64, n)
	// cosine phase puts every crest on a sample; a sine at this rate has
	// its crests midway between two samples and the per-run argmax then
	// jitters by one sample (20 ms)
	for i := range x {
		x[i] = math.Cos(2 * math.Pi * 1.0 * float64(i) / fs)
	}
	m, err := AnalyzeSignal(x, fs, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if m.BPM < 58 || m.BPM > 62 {
		t.Errorf("BPM = %v, want ~60", m.BPM)
	}
	if m.RMSSD > 5.0 {
		t.Errorf("RMSSD = %v ms, want < 5 on a metronomic signal", m.RMSSD)
	}
	if len(m.PeakList) < 25 {
		t.Errorf("found %d peaks, want ~29", len(m.PeakList))
	}
	if len(m.BinaryPeakMask) != len(m.PeakListRaw) {
		t.Errorf("mask length %d != raw peaks %d", len(m.BinaryPeakMask), len(m.PeakListRaw))
	}
}

func TestAnalyzeSignalErrors(t *testing.T) {
	if _, err := AnalyzeSignal(nil, 50.0, DefaultOptions()); err == nil {
		t.Error("empty signal must error")
	}
	if _, err := AnalyzeSignal([]float64{1, 2, 3}, 0, DefaultOptions()); err == nil {
		t.Error("fs = 0 must error")
	}
}

func TestAnalyzeSignalNaNBandsWithoutFreq(t *testing.T) {
	fs := 50.0
	x := make([]float64, 200)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * float64(i) / fs)
	}
	opt := DefaultOptions()
	opt.Frequency.CalcFreq = false
	m, err := AnalyzeSignal(x, fs, opt)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(m.VLF) || !math.IsNaN(m.LF) || !math.IsNaN(m.HF) {
		t.Errorf("bands must be NaN when calcFreq is off: %v %v %v", m.VLF, m.LF, m.HF)
	}
}

func TestPnnCountingConvention(t *testing.T) {
	// diffs: +30, -10, +51, -50
	rr := []float64{800, 830, 820, 871, 821}
	opt := DefaultOptions()
	opt.Output.PnnAsPercent = false
	m, err := AnalyzeRRIntervals(rr, opt)
	if err != nil {
		t.Fatal(err)
	}
	// strict '>': |diff| > 20 -> 30, 51, 50 -> 3 of 4
	if m.NN20 != 3 {
		t.Errorf("NN20 = %v, want 3", m.NN20)
	}
	// |diff| > 50 -> only 51 (exactly 50 is excluded)
	if m.NN50 != 1 {
		t.Errorf("NN50 = %v, want 1", m.NN50)
	}
	if math.Abs(m.PNN50-0.25) > 1e-9 {
		t.Errorf("PNN50 = %v, want 0.25", m.PNN50)
	}
}

func TestAnalyzeRRIntervalsTimeDomain(t *testing.T) {
	rr := []float64{1000, 1000, 1000, 1000}
	m, err := AnalyzeRRIntervals(rr, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if m.BPM != 60.0 {
		t.Errorf("BPM = %v, want 60", m.BPM)
	}
	if m.SDNN != 0 || m.RMSSD != 0 {
		t.Errorf("constant RR must have zero variability: sdnn=%v rmssd=%v", m.SDNN, m.RMSSD)
	}
}

func TestAnalyzeRRIntervalsMaskedPoincare(t *testing.T) {
	rr := []float64{790, 810, 790, 810, 790, 810, 790, 810}
	m, err := AnalyzeRRIntervals(rr, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	// alternating +/-20: rotated differences are ±20/√2, so SD1 sits just
	// under 20/√2 (the odd pair count biases the mean slightly), while the
	// rotated sums are constant -> SD2 = 0
	if m.SD1 < 13.5 || m.SD1 > 14.5 {
		t.Errorf("SD1 = %v, want ~14", m.SD1)
	}
	if m.SD2 > 1e-6 {
		t.Errorf("SD2 = %v, want 0 for constant rotated sums", m.SD2)
	}
	if m.EllipseArea != math.Pi*m.SD1*m.SD2 {
		t.Errorf("ellipse area inconsistent")
	}
}

func TestAnalyzeSignalSegmentwise(t *testing.T) {
	fs := 50.0
	n := int(120 * fs)
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * 1.0 * float64(i) / fs)
	}
	opt := DefaultOptions()
	opt.Segmentwise.Width = 40.0
	opt.Segmentwise.Overlap = 0.0
	opt.Segmentwise.MinSize = 20.0
	m, err := AnalyzeSignalSegmentwise(x, fs, opt)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(m.Segments))
	}
	if m.BPM < 58 || m.BPM > 62 {
		t.Errorf("averaged BPM = %v, want ~60", m.BPM)
	}
}

func TestSegmentwiseBinaryQuality(t *testing.T) {
	fs := 50.0
	n := int(60 * fs)
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * 1.0 * float64(i) / fs)
	}
	opt := DefaultOptions()
	opt.Quality.RejectSegmentwise = true
	m, err := AnalyzeSignal(x, fs, opt)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.BinarySegments) == 0 {
		t.Fatal("expected binary segments")
	}
	for _, seg := range m.BinarySegments {
		if seg.EndBeat <= seg.StartBeat {
			t.Errorf("segment %d has empty range", seg.Index)
		}
		if seg.TotalBeats != seg.EndBeat-seg.StartBeat {
			t.Errorf("segment %d totals inconsistent", seg.Index)
		}
		// a clean sine rejects nothing
		if !seg.Accepted {
			t.Errorf("segment %d rejected on a clean signal", seg.Index)
		}
	}
}
