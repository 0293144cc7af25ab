package heart

// QualityInfo describes signal quality for one analysis pass. The
// streaming fields are populated only by the realtime analyzer.
type QualityInfo struct {
	TotalBeats      int     `json:"total_beats"`
	RejectedBeats   int     `json:"rejected_beats"`
	RejectionRate   float64 `json:"rejection_rate"`
	RejectedIndices []int   `json:"rejected_indices,omitempty"`
	GoodQuality     bool    `json:"good_quality"`
	QualityWarning  string  `json:"quality_warning,omitempty"`

	// Streaming additions
	SnrDb         float64 `json:"snr_db"`
	Confidence    float64 `json:"confidence"`
	F0Hz          float64 `json:"f0_hz"`
	MaPercActive  float64 `json:"ma_perc_active"`
	DoublingFlag  int     `json:"doubling_flag"`
	SoftDoublingFlag int  `json:"soft_doubling_flag"`
	RRShortFrac   float64 `json:"rr_short_frac"`
	RRLongMs      float64 `json:"rr_long_ms"`
	PHalfOverFund float64 `json:"p_half_over_fund"`
	PairFrac      float64 `json:"pair_frac"`

	// Acceptance diagnostics
	RefractoryMsActive float64 `json:"refractory_ms_active"`
	MinRRBoundMs       float64 `json:"min_rr_bound_ms"`
	SoftStreak         int     `json:"soft_streak"`
	SoftSecs           float64 `json:"soft_secs"`
	HardFallbackActive int     `json:"hard_fallback_active"`
	DoublingHintFlag   int     `json:"doubling_hint_flag"`
	RRFallbackModeActive int   `json:"rr_fallback_mode_active"`
	SnrWarmupActive    int     `json:"snr_warmup_active"`
	SnrSampleCount     float64 `json:"snr_sample_count"`

	// Audit counters (cumulative unless noted)
	DroppedSamplesTotal          uint64 `json:"dropped_samples_total"`
	ClampedBatchesTotal          uint64 `json:"clamped_batches_total"`
	OomPreventedTotal            uint64 `json:"oom_prevented_total"`
	ParamChangeEventsTotal       uint64 `json:"param_change_events_total"`
	DroppedSamplesLast           uint64 `json:"dropped_samples_last"`
	ClampedBatchesLast           uint64 `json:"clamped_batches_last"`
	TimestampBacktrackEventsTotal uint64 `json:"timestamp_backtrack_events_total"`
	TimestampsSkippedTotal       uint64 `json:"timestamps_skipped_total"`
	TimeJumpEventsTotal          uint64 `json:"time_jump_events_total"`
	DroppingActive               int    `json:"dropping_active"`
}

// BinarySegment records the accept/reject decision of one segmentwise
// quality window over the raw peak list.
type BinarySegment struct {
	Index         int  `json:"index"`
	StartBeat     int  `json:"start_beat"`
	EndBeat       int  `json:"end_beat"` // exclusive
	TotalBeats    int  `json:"total_beats"`
	RejectedBeats int  `json:"rejected_beats"`
	Accepted      bool `json:"accepted"`
}

// HeartMetrics is one full set of cardiac metrics. All numeric fields are
// IEEE-754 doubles on the wire; arrays are ordered. Frequency fields are
// NaN when the spectral pass was skipped or under-determined.
type HeartMetrics struct {
	// Basic metrics
	BPM            float64   `json:"bpm"`
	IbiMs          []float64 `json:"ibi_ms"`
	PeakTimestamps []float64 `json:"peak_timestamps,omitempty"`
	RRList         []float64 `json:"rr_list"`
	PeakList       []int     `json:"peak_list"`
	PeakListRaw    []int     `json:"peak_list_raw"`
	BinaryPeakMask []int     `json:"binary_peak_mask"` // 1=accepted, aligned to PeakListRaw

	// Snapshot waveform (synchronized with the analysis window)
	WaveformValues     []float64 `json:"waveform_values,omitempty"`
	WaveformTimestamps []float64 `json:"waveform_timestamps,omitempty"`

	// Time domain measures
	SDNN  float64 `json:"sdnn"`
	RMSSD float64 `json:"rmssd"`
	SDSD  float64 `json:"sdsd"`
	PNN20 float64 `json:"pnn20"`
	PNN50 float64 `json:"pnn50"`
	NN20  float64 `json:"nn20"`
	NN50  float64 `json:"nn50"`
	MAD   float64 `json:"mad"`

	// Poincaré analysis
	SD1         float64 `json:"sd1"`
	SD2         float64 `json:"sd2"`
	SD1SD2Ratio float64 `json:"sd1_sd2_ratio"`
	EllipseArea float64 `json:"ellipse_area"`

	// Frequency domain (Welch over the RR tachogram)
	VLF        float64 `json:"vlf"`
	LF         float64 `json:"lf"`
	HF         float64 `json:"hf"`
	LFHF       float64 `json:"lfhf"`
	TotalPower float64 `json:"total_power"`
	LFNorm     float64 `json:"lf_norm"`
	HFNorm     float64 `json:"hf_norm"`

	// Breathing analysis
	BreathingRate float64 `json:"breathing_rate"`

	// Quality
	Quality QualityInfo `json:"quality"`

	// Segmentwise results (AnalyzeSignalSegmentwise)
	Segments []HeartMetrics `json:"segments,omitempty"`

	// Binary quality segments
	BinarySegments []BinarySegment `json:"binary_segments,omitempty"`
}
