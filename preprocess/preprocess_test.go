package preprocess

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestInterpolateClippingRamp(t *testing.T) {
	x := []float64{1, 2, 3, 1020, 1020, 1020, 5, 6}
	got := InterpolateClipping(x, 1020.0)
	// three clipped samples between 3 and 5: fractions 1/4, 2/4, 3/4
	want := []float64{1, 2, 3, 3.5, 4, 4.5, 5, 6}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-9) {
			t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestInterpolateClippingSingleSample(t *testing.T) {
	// a single clipped sample uses fraction (j-start+1)/(end-start+2)
	// = 1/2: with neighbors 0 and 3 the repaired value is 1.5
	x := []float64{0, 1021, 3}
	got := InterpolateClipping(x, 1020.0)
	if !almostEqual(got[1], 1.5, 1e-9) {
		t.Errorf("single-sample run: got %v, want 1.5", got[1])
	}
}

func TestInterpolateClippingEdgesUntouched(t *testing.T) {
	x := []float64{1021, 1021, 2, 3, 1021}
	got := InterpolateClipping(x, 1020.0)
	if got[0] != 1021 || got[1] != 1021 || got[4] != 1021 {
		t.Errorf("edge runs must stay unchanged: %v", got)
	}
}

func TestHampelIdempotentOnCleanSignal(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	once := HampelFilter(x, 6, 3.0)
	twice := HampelFilter(once, 6, 3.0)
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("index %d: second pass changed %v -> %v", i, once[i], twice[i])
		}
	}
}

func TestHampelRemovesSpike(t *testing.T) {
	x := []float64{10, 10, 10, 500, 10, 10, 10}
	got := HampelFilter(x, 6, 3.0)
	if got[3] != 10 {
		t.Errorf("spike survived: %v", got[3])
	}
}

func TestScaleDataRoundTrip(t *testing.T) {
	x := []float64{3, -2, 7, 0.5, 4.25}
	min, max := -2.0, 7.0
	scaled := ScaleData(x, 0, 1024)
	back := ScaleData(scaled, min, max)
	for i := range x {
		if !almostEqual(back[i], x[i], 1e-9) {
			t.Errorf("index %d: round trip %v -> %v", i, x[i], back[i])
		}
	}
}

func TestScaleDataFlatIdentity(t *testing.T) {
	x := []float64{5, 5, 5}
	got := ScaleData(x, 0, 1024)
	for i := range x {
		if got[i] != 5 {
			t.Errorf("flat signal must pass through, got %v", got)
		}
	}
}

func TestRemoveBaselineWanderKillsDC(t *testing.T) {
	x := make([]float64, 500)
	for i := range x {
		x[i] = 100.0
	}
	got := RemoveBaselineWander(x, 50.0)
	if math.Abs(got[len(got)-1]) > 1.0 {
		t.Errorf("DC offset survived: %v", got[len(got)-1])
	}
}

func TestEnhancePeaksEndpoints(t *testing.T) {
	x := []float64{1, 5, 1, 5, 1}
	got := EnhancePeaks(x)
	if got[0] != x[0] || got[len(got)-1] != x[len(x)-1] {
		t.Error("endpoints must pass through")
	}
	// interior: x[i] + 0.1*(x[i+1]-x[i-1])/2
	want := 5 + 0.1*(1.0-1.0)/2
	if !almostEqual(got[1], want, 1e-12) {
		t.Errorf("got[1] = %v, want %v", got[1], want)
	}
}

func TestMovingAverageDetrendRemovesMean(t *testing.T) {
	x := make([]float64, 200)
	for i := range x {
		x[i] = 10.0 + math.Sin(2*math.Pi*float64(i)/20.0)
	}
	got := MovingAverageDetrend(x, 20)
	sum := 0.0
	for _, v := range got[20 : len(got)-20] {
		sum += v
	}
	mean := sum / float64(len(got)-40)
	if math.Abs(mean) > 0.05 {
		t.Errorf("residual mean = %v, want ~0", mean)
	}
}
