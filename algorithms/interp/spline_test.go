package interp

import (
	"math"
	"testing"
)

func TestSplineInterpolatesKnots(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4}
	ys := []float64{0, 1, 0, -1, 0}
	sp := NewNaturalCubic(xs, ys)
	if !sp.OK() {
		t.Fatal("spline construction failed")
	}
	for i := range xs {
		if got := sp.Eval(xs[i]); math.Abs(got-ys[i]) > 1e-9 {
			t.Errorf("Eval(%v) = %v, want %v", xs[i], got, ys[i])
		}
	}
}

func TestSplineReproducesLine(t *testing.T) {
	xs := []float64{0, 1, 2, 3}
	ys := []float64{1, 3, 5, 7} // y = 2x + 1
	sp := NewNaturalCubic(xs, ys)
	if !sp.OK() {
		t.Fatal("spline construction failed")
	}
	for _, x := range []float64{0.25, 0.5, 1.5, 2.75} {
		want := 2*x + 1
		if got := sp.Eval(x); math.Abs(got-want) > 1e-9 {
			t.Errorf("Eval(%v) = %v, want %v", x, got, want)
		}
	}
}

func TestSplineTooFewKnots(t *testing.T) {
	sp := NewNaturalCubic([]float64{0, 1}, []float64{0, 1})
	if sp.OK() {
		t.Error("expected construction failure with two knots")
	}
	if got := sp.Eval(0.5); got != 0 {
		t.Errorf("Eval on failed spline = %v, want 0", got)
	}
}

func TestSplineMonotoneSegmentLookup(t *testing.T) {
	xs := []float64{0, 10, 20, 30}
	ys := []float64{0, 5, 3, 8}
	sp := NewNaturalCubic(xs, ys)
	if !sp.OK() {
		t.Fatal("spline construction failed")
	}
	// continuity across segment boundaries
	for _, x := range []float64{9.999999, 10.000001, 19.999999, 20.000001} {
		got := sp.Eval(x)
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Fatalf("Eval(%v) not finite", x)
		}
	}
	left := sp.Eval(10 - 1e-9)
	right := sp.Eval(10 + 1e-9)
	if math.Abs(left-right) > 1e-6 {
		t.Errorf("discontinuity at knot: %v vs %v", left, right)
	}
}
