package heart

// AssessSignalQuality derives a coarse quality report from the raw peak
// train: intervals outside the physiological 300–2000 ms band count as
// rejected beats, and a rejection rate of 0.3 or more marks the signal
// bad.
func AssessSignalQuality(peaks []int, fs float64) QualityInfo {
	quality := QualityInfo{
		TotalBeats:  len(peaks),
		GoodQuality: true,
	}
	if len(peaks) < 2 {
		quality.GoodQuality = false
		quality.QualityWarning = "Insufficient peaks detected"
		return quality
	}

	bad := 0
	count := 0
	for i := 1; i < len(peaks); i++ {
		rr := float64(peaks[i]-peaks[i-1]) * 1000.0 / fs
		count++
		if rr < 300.0 || rr > 2000.0 {
			bad++
		}
	}
	quality.RejectedBeats = bad
	quality.RejectionRate = float64(bad) / float64(count)
	quality.GoodQuality = quality.RejectionRate < 0.3
	if !quality.GoodQuality {
		quality.QualityWarning = "High rejection rate"
	}
	return quality
}

// CheckSegmentQuality reports whether a segment passes the rejection-rate
// threshold given its rejected beat indices.
func CheckSegmentQuality(rejectedBeats []int, totalBeats int, threshold float64) bool {
	if totalBeats == 0 {
		return false
	}
	return float64(len(rejectedBeats))/float64(totalBeats) <= threshold
}
