package heart

import (
	"math"
	"testing"
)

func TestSmoothRRCGReducesRoughness(t *testing.T) {
	rr := make([]float64, 60)
	for i := range rr {
		rr[i] = 1000.0 + 50.0*math.Sin(float64(i)) + 30.0*math.Cos(3.1*float64(i))
	}
	smooth := smoothRRCG(rr, 10.0)
	rough := func(v []float64) float64 {
		s := 0.0
		for i := 2; i < len(v); i++ {
			d := v[i] - 2*v[i-1] + v[i-2]
			s += d * d
		}
		return s
	}
	if rough(smooth) >= rough(rr) {
		t.Errorf("smoothing did not reduce curvature: %v >= %v", rough(smooth), rough(rr))
	}
	if len(smooth) != len(rr) {
		t.Fatalf("length changed: %d", len(smooth))
	}
}

func TestSmoothRRCGZeroLambdaIdentity(t *testing.T) {
	rr := []float64{800, 900, 1000}
	out := smoothRRCG(rr, 0.0)
	for i := range rr {
		if out[i] != rr[i] {
			t.Errorf("lambda 0 must be identity")
		}
	}
}

func TestSmoothRRTargetSSEHitsTarget(t *testing.T) {
	rr := make([]float64, 40)
	for i := range rr {
		rr[i] = 1000.0 + 80.0*math.Sin(0.9*float64(i))
	}
	target := 5000.0
	smooth := smoothRRTargetSSE(rr, target)
	sse := 0.0
	for i := range rr {
		d := smooth[i] - rr[i]
		sse += d * d
	}
	// bisection tolerance is 1e-3 relative, allow slack
	if sse < target*0.9 || sse > target*1.1 {
		t.Errorf("sse = %v, want ~%v", sse, target)
	}
}

func TestBreathingRateFromModulatedRR(t *testing.T) {
	// RR series modulated at 0.25 Hz (respiratory sinus arrhythmia)
	const breathHz = 0.25
	rr := make([]float64, 120)
	tAcc := 0.0
	for i := range rr {
		rr[i] = 1000.0 + 80.0*math.Sin(2*math.Pi*breathHz*tAcc)
		tAcc += rr[i] / 1000.0
	}
	got := CalculateBreathingRate(rr)
	if math.Abs(got-breathHz) > 0.06 {
		t.Errorf("breathing = %v Hz, want ~%v", got, breathHz)
	}
}

func TestBreathingRateTooFewIntervals(t *testing.T) {
	if got := CalculateBreathingRate([]float64{800, 810, 790}); got != 0 {
		t.Errorf("breathing = %v, want 0 for short input", got)
	}
}

func TestFrequencyDomainBandsOnModulatedRR(t *testing.T) {
	// HF-modulated tachogram: power should land mostly in the HF band
	rr := make([]float64, 150)
	tAcc := 0.0
	for i := range rr {
		rr[i] = 1000.0 + 60.0*math.Sin(2*math.Pi*0.25*tAcc)
		tAcc += rr[i] / 1000.0
	}
	opt := DefaultOptions()
	opt.Frequency.RRSplineS = 0 // no smoothing: keep the HF modulation
	opt.Frequency.RRSplineSmooth = 0
	m := &HeartMetrics{}
	computeFrequencyDomain(m, rr, &opt)
	if math.IsNaN(m.HF) {
		t.Fatal("HF is NaN")
	}
	if m.HF <= m.LF {
		t.Errorf("HF (%v) should dominate LF (%v) for a 0.25 Hz modulation", m.HF, m.LF)
	}
	if m.TotalPower <= 0 {
		t.Errorf("total power = %v, want > 0", m.TotalPower)
	}
}
