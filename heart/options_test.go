package heart

import (
	"math"
	"testing"
)

func TestDefaultOptionsValidate(t *testing.T) {
	opt := DefaultOptions()
	if err := opt.Validate(50.0); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidateErrorCodes(t *testing.T) {
	cases := []struct {
		name   string
		fs     float64
		mutate func(*Options)
		want   string
	}{
		{"fs too low", 0.5, func(o *Options) {}, CodeInvalidFs},
		{"fs too high", 20000, func(o *Options) {}, CodeInvalidFs},
		{"bandpass inverted", 50, func(o *Options) { o.Bandpass.LowHz = 5; o.Bandpass.HighHz = 1 }, CodeInvalidBandpass},
		{"bandpass above nyquist", 50, func(o *Options) { o.Bandpass.HighHz = 30 }, CodeInvalidBandpass},
		{"nfft too small", 50, func(o *Options) { o.Welch.NFFT = 32 }, CodeInvalidNfft},
		{"nfft too large", 50, func(o *Options) { o.Welch.NFFT = 32768 }, CodeInvalidNfft},
		{"bpm min below 30", 50, func(o *Options) { o.Peak.BPMMin = 20 }, CodeInvalidBpmRange},
		{"bpm inverted", 50, func(o *Options) { o.Peak.BPMMin = 120; o.Peak.BPMMax = 100 }, CodeInvalidBpmRange},
		{"refractory too short", 50, func(o *Options) { o.Peak.RefractoryMs = 10 }, CodeInvalidRefractory},
		{"refractory too long", 50, func(o *Options) { o.Peak.RefractoryMs = 5000 }, CodeInvalidRefractory},
		{"overlap NaN", 50, func(o *Options) { o.Welch.Overlap = math.NaN() }, CodeInvalidNumeric},
		{"overlap out of range", 50, func(o *Options) { o.Welch.Overlap = 0.99 }, CodeInvalidNumeric},
		{"hp fs Inf", 50, func(o *Options) { o.Streaming.HighPrecisionFs = math.Inf(1) }, CodeInvalidNumeric},
		{"rr outlier percent", 50, func(o *Options) { o.Peak.RROutlierPercent = 1.5 }, CodeInvalidNumeric},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			opt := DefaultOptions()
			c.mutate(&opt)
			err := opt.Validate(c.fs)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if got := ErrorCode(err); got != c.want {
				t.Errorf("code = %s, want %s (%v)", got, c.want, err)
			}
		})
	}
}

func TestCodedErrorFormat(t *testing.T) {
	err := NewCodedError(CodeInvalidNfft, "nfft %d out of range", 17)
	want := "E012: nfft 17 out of range"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if ErrorCode(err) != CodeInvalidNfft {
		t.Errorf("ErrorCode = %s", ErrorCode(err))
	}
}
