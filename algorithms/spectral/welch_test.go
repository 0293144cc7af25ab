package spectral

import (
	"math"
	"testing"
)

func sine(n int, fs, f, amp float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = amp * math.Sin(2*math.Pi*f*float64(i)/fs)
	}
	return x
}

func TestWelchShapeInvariants(t *testing.T) {
	fs := 50.0
	x := sine(1024, fs, 1.0, 1.0)
	res := WelchPSD(x, fs, 256, 0.5)
	if res.Empty() {
		t.Fatal("unexpected empty PSD")
	}
	wantBins := 256/2 + 1
	if len(res.Freqs) != wantBins || len(res.PSD) != wantBins {
		t.Fatalf("bins = %d/%d, want %d", len(res.Freqs), len(res.PSD), wantBins)
	}
	if res.Freqs[0] != 0 {
		t.Errorf("freqs[0] = %v, want 0", res.Freqs[0])
	}
	if got := res.Freqs[len(res.Freqs)-1]; math.Abs(got-fs/2) > 1e-12 {
		t.Errorf("freqs[-1] = %v, want %v", got, fs/2)
	}
	wantDF := fs / 256
	if df := res.DF(); math.Abs(df-wantDF) > 1e-12 {
		t.Errorf("df = %v, want %v", df, wantDF)
	}
}

func TestWelchPeakLocation(t *testing.T) {
	fs := 50.0
	f := 1.5
	x := sine(2048, fs, f, 1.0)
	res := WelchPSD(x, fs, 512, 0.5)
	if res.Empty() {
		t.Fatal("unexpected empty PSD")
	}
	argmax := 0
	for i := range res.PSD {
		if res.PSD[i] > res.PSD[argmax] {
			argmax = i
		}
	}
	if got := res.Freqs[argmax]; math.Abs(got-f) > 2*res.DF() {
		t.Errorf("peak at %v Hz, want ~%v", got, f)
	}
}

func TestWelchGuardReducesNfft(t *testing.T) {
	fs := 50.0
	// only 200 samples but nfft 1024 requested: guard must shrink nfft
	x := sine(200, fs, 1.0, 1.0)
	before := GuardFallbackCount()
	res := WelchPSD(x, fs, 1024, 0.5)
	if res.Empty() {
		t.Fatal("guard should have found workable params")
	}
	if GuardFallbackCount() == before {
		t.Error("expected a guard fallback to be counted")
	}
	// resulting nfft must be a power of two <= 128 (so that two segments fit)
	nfft := 2 * (len(res.Freqs) - 1)
	if nfft > 128 || nfft&(nfft-1) != 0 {
		t.Errorf("unexpected effective nfft %d", nfft)
	}
}

func TestWelchGuardFailureOnTinySignal(t *testing.T) {
	before := GuardFailureCount()
	res := WelchPSD(sine(40, 50.0, 1.0, 1.0), 50.0, 256, 0.5)
	if !res.Empty() {
		t.Fatal("expected empty PSD for a 40-sample signal (usable nfft floor is 64)")
	}
	if GuardFailureCount() == before {
		t.Error("expected a guard failure to be counted")
	}
}

func TestWelchDeterministicMatchesFFT(t *testing.T) {
	fs := 50.0
	x := sine(512, fs, 2.0, 1.0)
	SetDeterministic(false)
	a := WelchPSD(x, fs, 128, 0.5)
	SetDeterministic(true)
	b := WelchPSD(x, fs, 128, 0.5)
	SetDeterministic(false)
	if a.Empty() || b.Empty() {
		t.Fatal("unexpected empty PSD")
	}
	for i := range a.PSD {
		if math.Abs(a.PSD[i]-b.PSD[i]) > 1e-6*(1+math.Abs(a.PSD[i])) {
			t.Fatalf("bin %d: fft %v vs dft %v", i, a.PSD[i], b.PSD[i])
		}
	}
}

func TestIntegrateBand(t *testing.T) {
	freqs := []float64{0, 0.1, 0.2, 0.3, 0.4}
	psd := []float64{1, 1, 1, 1, 1}
	// [0.1, 0.3) selects bins 1 and 2 -> one trapezoid of width 0.1
	area := IntegrateBand(freqs, psd, 0.1, 0.3)
	if math.Abs(area-0.1) > 1e-12 {
		t.Errorf("area = %v, want 0.1", area)
	}
	// fewer than two bins inside integrates to zero
	if area := IntegrateBand(freqs, psd, 0.35, 0.39); area != 0 {
		t.Errorf("area = %v, want 0", area)
	}
}

func TestFFTNonPowerOfTwoFallsBack(t *testing.T) {
	f := NewFFT()
	x := sine(100, 50.0, 5.0, 1.0)
	out := f.Compute(x)
	if len(out) != 100 {
		t.Fatalf("len = %d, want 100", len(out))
	}
	// Parseval: sum |X|^2 == n * sum x^2
	var sumX, sumF float64
	for _, v := range x {
		sumX += v * v
	}
	for _, c := range out {
		sumF += real(c)*real(c) + imag(c)*imag(c)
	}
	if math.Abs(sumF-float64(len(x))*sumX) > 1e-6*sumF {
		t.Errorf("Parseval mismatch: %v vs %v", sumF, float64(len(x))*sumX)
	}
}
