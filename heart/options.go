package heart

import (
	"math"
)

// FilterMode selects the bandpass realization used by the batch analyzer.
type FilterMode int

const (
	// FilterAuto picks FiltFilt for order >= 3, else the RBJ cascade
	FilterAuto FilterMode = iota
	// FilterRBJ uses cascaded RBJ biquad sections
	FilterRBJ
	// FilterButterFiltFilt uses zero-phase one-pole cascades
	FilterButterFiltFilt
)

// CleanMethod selects the RR outlier cleaning algorithm.
type CleanMethod int

const (
	CleanQuotientFilter CleanMethod = iota
	CleanIQR
	CleanZScore
)

// SdsdMode selects whether SDSD uses signed or absolute successive diffs.
type SdsdMode int

const (
	SdsdAbs SdsdMode = iota
	SdsdSigned
)

// PoincareMode selects the SD1/SD2 computation.
type PoincareMode int

const (
	// PoincareMasked derives SD1/SD2 from rotated masked RR pairs
	PoincareMasked PoincareMode = iota
	// PoincareFormula derives SD1/SD2 from rmssd/sdnn/sdsd
	PoincareFormula
)

// BandpassOptions configures the analysis bandpass.
type BandpassOptions struct {
	LowHz  float64    `json:"low_hz"`
	HighHz float64    `json:"high_hz"`
	Order  int        `json:"order"`
	Mode   FilterMode `json:"mode"`
}

// WelchOptions configures Welch PSD estimation.
type WelchOptions struct {
	NFFT        int     `json:"nfft"`           // used if set; otherwise derived from WsizeSec
	Overlap     float64 `json:"overlap"`        // segment overlap ratio 0..0.95
	WsizeSec    float64 `json:"wsize_sec"`      // Welch window length in seconds
	AdaptivePSD bool    `json:"adaptive_psd"`   // dynamic parameter tuning/fallbacks
}

// PeakOptions configures peak detection and RR outlier rejection.
type PeakOptions struct {
	RefractoryMs      float64 `json:"refractory_ms"`
	MinPeakDistanceMs float64 `json:"min_peak_distance_ms"`
	ThresholdScale    float64 `json:"threshold_scale"`
	BPMMin            float64 `json:"bpm_min"`
	BPMMax            float64 `json:"bpm_max"`
	RROutlierPercent  float64 `json:"rr_outlier_percent"` // 0..1 fraction of mean RR
	RROutlierMinMs    float64 `json:"rr_outlier_min_ms"`
	RROutlierMaxMs    float64 `json:"rr_outlier_max_ms"`

	// HP-style thresholding (rolling mean + ma_perc lift) for streaming
	UseHPThreshold bool    `json:"use_hp_threshold"`
	MAPerc         float64 `json:"ma_perc"`
	AdaptiveMAPerc bool    `json:"adaptive_ma_perc"`
}

// PreprocessingOptions toggles the conditioning steps ahead of detection.
type PreprocessingOptions struct {
	InterpClipping       bool    `json:"interp_clipping"`
	ClippingThreshold    float64 `json:"clipping_threshold"`
	HampelCorrect        bool    `json:"hampel_correct"`
	HampelWindow         int     `json:"hampel_window"`
	HampelThreshold      float64 `json:"hampel_threshold"`
	RemoveBaselineWander bool    `json:"remove_baseline_wander"`
	EnhancePeaks         bool    `json:"enhance_peaks"`
}

// QualityOptions configures segment-level quality assessment.
type QualityOptions struct {
	RejectSegmentwise        bool    `json:"reject_segmentwise"`
	SegmentRejectThreshold   float64 `json:"segment_reject_threshold"`
	SegmentRejectMaxRejects  int     `json:"segment_reject_max_rejects"`
	SegmentRejectWindowBeats int     `json:"segment_reject_window_beats"`
	SegmentRejectOverlap     float64 `json:"segment_reject_overlap"` // 0..0.99
	ThresholdRR              bool    `json:"threshold_rr"`
}

// CleaningOptions configures RR interval cleaning.
type CleaningOptions struct {
	CleanRR    bool        `json:"clean_rr"`
	Method     CleanMethod `json:"method"`
	Iterations int         `json:"iterations"` // quotient filter passes
}

// FrequencyOptions configures the RR tachogram spectral analysis.
type FrequencyOptions struct {
	CalcFreq         bool    `json:"calc_freq"`
	RRSplineSmooth   float64 `json:"rr_spline_smooth"`      // legacy blend factor 0..1
	RRSplineS        float64 `json:"rr_spline_s"`           // fixed smoothing lambda
	RRSplineSTargetSSE float64 `json:"rr_spline_s_target_sse"` // >0: Reinsch target SSE
}

// SNROptions tunes the streaming SNR estimator.
type SNROptions struct {
	TauSec          float64 `json:"tau_sec"`           // EMA tau, passive mode
	ActiveTauSec    float64 `json:"active_tau_sec"`    // EMA tau while doubling-active
	BandPassive     float64 `json:"band_passive"`      // Hz half-width, passive
	BandActive      float64 `json:"band_active"`       // Hz half-width, active
	BandBlendFactor float64 `json:"band_blend_factor"` // blend toward instant on band change
}

// DoublingOptions tunes the harmonic doubling detector.
type DoublingOptions struct {
	HalfF0HistLen              int     `json:"half_f0_hist_len"`
	HalfF0TolHzWarm            float64 `json:"half_f0_tol_hz_warm"`
	HalfF0TolHzCold            float64 `json:"half_f0_tol_hz_cold"`
	PHalfOverFundThresholdSoft float64 `json:"p_half_over_fund_threshold_soft"`
	PHalfOverFundThresholdLow  float64 `json:"p_half_over_fund_threshold_low"`
	ChokeBpmThreshold          float64 `json:"choke_bpm_threshold"`
	ChokeRelaxBaseSec          float64 `json:"choke_relax_base_sec"`
	ChokeRelaxLowBpmSec        float64 `json:"choke_relax_low_bpm_sec"`
}

// StreamingOptions configures the realtime analyzer's storage, precision
// and RR gating behavior.
type StreamingOptions struct {
	UseRingBuffer   bool    `json:"use_ring_buffer"`
	Deterministic   bool    `json:"deterministic"`
	HighPrecision   bool    `json:"high_precision"`
	HighPrecisionFs float64 `json:"high_precision_fs"`

	// Min-RR gating
	MinRRGateFactor   float64 `json:"min_rr_gate_factor"`
	MinRRFloorRelaxed float64 `json:"min_rr_floor_relaxed"` // ms floor after warmup
	MinRRFloorStrict  float64 `json:"min_rr_floor_strict"`  // ms floor during early phase
	MinRRCeiling      float64 `json:"min_rr_ceiling"`       // ms ceiling for RR bounds
}

// OutputOptions controls output unit conventions.
type OutputOptions struct {
	BreathingAsBpm bool         `json:"breathing_as_bpm"` // false: Hz, true: breaths/min
	PnnAsPercent   bool         `json:"pnn_as_percent"`   // percent (0-100) vs ratio (0-1)
	SdsdMode       SdsdMode     `json:"sdsd_mode"`
	PoincareMode   PoincareMode `json:"poincare_mode"`
}

// SegmentwiseOptions configures AnalyzeSignalSegmentwise.
type SegmentwiseOptions struct {
	Width   float64 `json:"width"`    // seconds
	Overlap float64 `json:"overlap"`  // 0..1
	MinSize float64 `json:"min_size"` // seconds
}

// Options is the full analyzer configuration. The zero value is not
// usable; start from DefaultOptions.
type Options struct {
	Bandpass      BandpassOptions      `json:"bandpass"`
	Welch         WelchOptions         `json:"welch"`
	Peak          PeakOptions          `json:"peak"`
	Preprocessing PreprocessingOptions `json:"preprocessing"`
	Quality       QualityOptions       `json:"quality"`
	Cleaning      CleaningOptions      `json:"cleaning"`
	Frequency     FrequencyOptions     `json:"frequency"`
	SNR           SNROptions           `json:"snr"`
	Doubling      DoublingOptions      `json:"doubling"`
	Streaming     StreamingOptions     `json:"streaming"`
	Output        OutputOptions        `json:"output"`
	Segmentwise   SegmentwiseOptions   `json:"segmentwise"`
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		Bandpass: BandpassOptions{
			LowHz:  0.5,
			HighHz: 5.0,
			Order:  2,
			Mode:   FilterAuto,
		},
		Welch: WelchOptions{
			NFFT:        256,
			Overlap:     0.5,
			WsizeSec:    240,
			AdaptivePSD: true,
		},
		Peak: PeakOptions{
			RefractoryMs:      150.0,
			MinPeakDistanceMs: 320.0,
			ThresholdScale:    0.3,
			BPMMin:            35.0,
			BPMMax:            180.0,
			RROutlierPercent:  0.25,
			RROutlierMinMs:    180.0,
			RROutlierMaxMs:    320.0,
			UseHPThreshold:    false,
			MAPerc:            30.0,
			AdaptiveMAPerc:    true,
		},
		Preprocessing: PreprocessingOptions{
			ClippingThreshold: 1020.0,
			HampelWindow:      6,
			HampelThreshold:   3.0,
		},
		Quality: QualityOptions{
			SegmentRejectThreshold:   0.3,
			SegmentRejectMaxRejects:  3,
			SegmentRejectWindowBeats: 10,
			SegmentRejectOverlap:     0.0,
		},
		Cleaning: CleaningOptions{
			Method:     CleanQuotientFilter,
			Iterations: 2,
		},
		Frequency: FrequencyOptions{
			CalcFreq:       true,
			RRSplineSmooth: 0.1,
			RRSplineS:      10.0,
		},
		SNR: SNROptions{
			TauSec:          3.0,
			ActiveTauSec:    2.0,
			BandPassive:     0.15,
			BandActive:      0.25,
			BandBlendFactor: 0.30,
		},
		Doubling: DoublingOptions{
			HalfF0HistLen:              5,
			HalfF0TolHzWarm:            0.06,
			HalfF0TolHzCold:            0.10,
			PHalfOverFundThresholdSoft: 2.0,
			PHalfOverFundThresholdLow:  1.6,
			ChokeBpmThreshold:          35.0,
			ChokeRelaxBaseSec:          5.0,
			ChokeRelaxLowBpmSec:        7.0,
		},
		Streaming: StreamingOptions{
			HighPrecisionFs:   1000.0,
			MinRRGateFactor:   0.86,
			MinRRFloorRelaxed: 400.0,
			MinRRFloorStrict:  500.0,
			MinRRCeiling:      1200.0,
		},
		Output: OutputOptions{
			PnnAsPercent: true,
			SdsdMode:     SdsdAbs,
			PoincareMode: PoincareMasked,
		},
		Segmentwise: SegmentwiseOptions{
			Width:   120.0,
			Overlap: 0.0,
			MinSize: 20.0,
		},
	}
}

// Validate range-checks the options against the given sample rate. The
// first violated rule is returned as a *CodedError; nothing is allocated
// on failure.
func (o *Options) Validate(fs float64) error {
	if !(fs >= 1.0 && fs <= 10000.0) || !isFinite(fs) {
		return newCodedError(CodeInvalidFs, "fs must be in [1, 10000], got %v", fs)
	}
	if !(o.Bandpass.LowHz >= 0 && o.Bandpass.LowHz < o.Bandpass.HighHz && o.Bandpass.HighHz <= fs/2) {
		return newCodedError(CodeInvalidBandpass, "bandpass requires 0 <= low < high <= fs/2, got [%v, %v] at fs=%v",
			o.Bandpass.LowHz, o.Bandpass.HighHz, fs)
	}
	if o.Welch.NFFT < 64 || o.Welch.NFFT > 16384 {
		return newCodedError(CodeInvalidNfft, "nfft must be in [64, 16384], got %d", o.Welch.NFFT)
	}
	if !(o.Peak.BPMMin >= 30.0 && o.Peak.BPMMin < o.Peak.BPMMax && o.Peak.BPMMax <= 240.0) {
		return newCodedError(CodeInvalidBpmRange, "bpm range requires 30 <= min < max <= 240, got [%v, %v]",
			o.Peak.BPMMin, o.Peak.BPMMax)
	}
	if o.Peak.RefractoryMs < 50.0 || o.Peak.RefractoryMs > 2000.0 {
		return newCodedError(CodeInvalidRefractory, "refractory must be in [50, 2000] ms, got %v", o.Peak.RefractoryMs)
	}
	for _, v := range []float64{
		o.Welch.Overlap,
		o.Streaming.HighPrecisionFs,
		o.Peak.ThresholdScale,
		o.Peak.MAPerc,
		o.SNR.TauSec,
		o.SNR.ActiveTauSec,
	} {
		if !isFinite(v) {
			return newCodedError(CodeInvalidNumeric, "non-finite numeric option value")
		}
	}
	if o.Welch.Overlap < 0.0 || o.Welch.Overlap >= 0.95 {
		return newCodedError(CodeInvalidNumeric, "welch overlap must be in [0, 0.95), got %v", o.Welch.Overlap)
	}
	if o.Peak.RROutlierPercent < 0.0 || o.Peak.RROutlierPercent > 1.0 {
		return newCodedError(CodeInvalidNumeric, "rr outlier percent must be in [0, 1], got %v", o.Peak.RROutlierPercent)
	}
	if o.Quality.SegmentRejectOverlap < 0.0 || o.Quality.SegmentRejectOverlap > 0.99 {
		return newCodedError(CodeInvalidNumeric, "segment reject overlap must be in [0, 0.99], got %v", o.Quality.SegmentRejectOverlap)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
