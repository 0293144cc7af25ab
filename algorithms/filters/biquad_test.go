package filters

import (
	"math"
	"testing"
)

const eps = 1e-12

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestSectionPassthrough(t *testing.T) {
	s := NewSectionD(Coefficients{B0: 1})
	input := []float64{1, 0, -1, 0.5, 0.25}
	for i, x := range input {
		if y := s.ProcessSample(x); !almostEqual(y, x, eps) {
			t.Errorf("sample %d: got %v, want %v", i, y, x)
		}
	}
}

func TestSectionDFIIT(t *testing.T) {
	// Hand-traced DF-II-T impulse response for
	// B0=0.25, B1=0.5, B2=0.25, A1=-0.2, A2=0.04:
	//
	// n=0: y=0.25*1+0 = 0.25
	//      z1=0.5*1-(-0.2)*0.25+0 = 0.55
	//      z2=0.25*1-0.04*0.25 = 0.24
	// n=1: y=0.55, z1=0.35, z2=-0.022
	// n=2: y=0.35, z1=0.048, z2=-0.014
	// n=3: y=0.048
	c := Coefficients{B0: 0.25, B1: 0.5, B2: 0.25, A1: -0.2, A2: 0.04}
	s := NewSectionD(c)
	want := []float64{0.25, 0.55, 0.35, 0.048}
	for i, w := range want {
		var x float64
		if i == 0 {
			x = 1
		}
		if y := s.ProcessSample(x); !almostEqual(y, w, eps) {
			t.Errorf("sample %d: got %.15f, want %.15f", i, y, w)
		}
	}
}

func TestSectionFloat32MatchesFloat64(t *testing.T) {
	c := DesignBandpass(50.0, 1.5, 2.0)
	s32 := NewSection(c)
	s64 := NewSectionD(c)
	for i := 0; i < 200; i++ {
		x := math.Sin(2 * math.Pi * 1.2 * float64(i) / 50.0)
		y32 := float64(s32.ProcessSample(float32(x)))
		y64 := s64.ProcessSample(x)
		if !almostEqual(y32, y64, 1e-4) {
			t.Fatalf("sample %d: float32 path diverged: %v vs %v", i, y32, y64)
		}
	}
}

func TestDesignBandpassNormalized(t *testing.T) {
	c := DesignBandpass(100.0, 2.0, 1.0)
	// bandpass has B1 == 0 and B2 == -B0 after normalization
	if c.B1 != 0 {
		t.Errorf("B1 = %v, want 0", c.B1)
	}
	if !almostEqual(c.B2, -c.B0, eps) {
		t.Errorf("B2 = %v, want -B0 = %v", c.B2, -c.B0)
	}
}

func TestBandpassChainAttenuatesDC(t *testing.T) {
	chain := NewBandpassChainD(50.0, 0.5, 5.0, 2)
	if chain == nil {
		t.Fatal("nil chain")
	}
	var y float64
	for i := 0; i < 500; i++ {
		y = 1.0
		for _, s := range chain {
			y = s.ProcessSample(y)
		}
	}
	if math.Abs(y) > 0.05 {
		t.Errorf("steady-state DC output = %v, want ~0", y)
	}
}

func TestBandpassChainDegenerate(t *testing.T) {
	if c := NewBandpassChain(50.0, 0, 0, 2); c != nil {
		t.Error("expected nil chain for empty band")
	}
	if c := NewBandpassChain(0, 0.5, 5.0, 2); c != nil {
		t.Error("expected nil chain for fs <= 0")
	}
}

func TestFiltFiltBandpassZeroPhase(t *testing.T) {
	fs := 50.0
	n := 500
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * 1.0 * float64(i) / fs)
	}
	y := FiltFiltBandpass(x, fs, 0.5, 5.0, 2)
	if len(y) != n {
		t.Fatalf("length changed: %d", len(y))
	}
	// zero phase: in-band sine keeps its zero crossings (compare away
	// from the edges)
	for i := 100; i < n-100; i++ {
		if x[i] == 0 {
			continue
		}
		if x[i] > 0.5 && y[i] < 0 {
			t.Fatalf("phase flipped at %d: x=%v y=%v", i, x[i], y[i])
		}
	}
}

func TestOnePoleHighpassRemovesDC(t *testing.T) {
	x := make([]float64, 400)
	for i := range x {
		x[i] = 5.0
	}
	y := OnePoleHighpass(x, 50.0, 0.5)
	if math.Abs(y[len(y)-1]) > 0.2 {
		t.Errorf("DC not removed: tail = %v", y[len(y)-1])
	}
}
