package heart

import (
	"math"
	"sort"

	"github.com/RyanBlaney/pulso-ppg/algorithms/common"
)

// RR interval cleaning: threshold masking and three outlier filters.
// Mask convention: 0 = accepted, 1 = rejected.

// thresholdRRMask rejects RR intervals outside mean ± max(0.3·mean,
// 300 ms). Comparisons are inclusive: a value exactly on either bound is
// rejected.
func thresholdRRMask(rr []float64) []int {
	mask := make([]int, len(rr))
	if len(rr) == 0 {
		return mask
	}
	meanRR := common.Mean(rr)
	margin := math.Max(0.3*meanRR, 300.0)
	lower := meanRR - margin
	upper := meanRR + margin
	for i, v := range rr {
		if v <= lower || v >= upper {
			mask[i] = 1
		}
	}
	return mask
}

// quotientFilterMask iterates over adjacent RR pairs, rejecting RR[i]
// when RR[i]/RR[i+1] leaves [0.8, 1.2]. Pairs containing an already
// rejected interval are skipped; the base mask (may be nil) seeds the
// result.
func quotientFilterMask(rr []float64, baseMask []int, iterations int) []int {
	n := len(rr)
	mask := make([]int, n)
	if len(baseMask) == n {
		copy(mask, baseMask)
	}
	for it := 0; it < iterations; it++ {
		if n < 2 {
			break
		}
		for i := 0; i+1 < n; i++ {
			if mask[i]+mask[i+1] != 0 {
				continue
			}
			if rr[i+1] == 0.0 {
				mask[i] = 1
				continue
			}
			q := rr[i] / rr[i+1]
			if q < 0.8 || q > 1.2 {
				mask[i] = 1
			}
		}
	}
	return mask
}

// RemoveOutliersIQR drops values outside [Q1 − 1.5·IQR, Q3 + 1.5·IQR].
// Quartiles are the sorted elements at n/4 and 3n/4, matching the index
// convention of the rest of the RR statistics.
func RemoveOutliersIQR(data []float64) (kept []float64, lower, upper float64) {
	if len(data) < 4 {
		return data, 0, 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	n := len(sorted)
	q1 := sorted[n/4]
	q3 := sorted[3*n/4]
	iqr := q3 - q1
	lower = q1 - 1.5*iqr
	upper = q3 + 1.5*iqr
	kept = make([]float64, 0, len(data))
	for _, v := range data {
		if v >= lower && v <= upper {
			kept = append(kept, v)
		}
	}
	return kept, lower, upper
}

// RemoveOutliersZScore drops values whose |z| exceeds threshold, using the
// sample standard deviation.
func RemoveOutliersZScore(data []float64, threshold float64) []float64 {
	if len(data) < 3 {
		return data
	}
	meanVal := common.Mean(data)
	stdVal := common.SampleStd(data)
	if stdVal < 1e-12 {
		return data
	}
	kept := make([]float64, 0, len(data))
	for _, v := range data {
		if math.Abs(v-meanVal)/stdVal <= threshold {
			kept = append(kept, v)
		}
	}
	return kept
}

// RemoveOutliersQuotientFilter keeps interior values whose quotients with
// both neighbors stay inside [0.8, 1.2]. Endpoints are always kept.
func RemoveOutliersQuotientFilter(rr []float64) []float64 {
	if len(rr) < 3 {
		return rr
	}
	kept := make([]float64, 0, len(rr))
	kept = append(kept, rr[0])
	for i := 1; i < len(rr)-1; i++ {
		q1 := rr[i] / rr[i-1]
		q2 := rr[i+1] / rr[i]
		if q1 >= 0.8 && q1 <= 1.2 && q2 >= 0.8 && q2 <= 1.2 {
			kept = append(kept, rr[i])
		}
	}
	kept = append(kept, rr[len(rr)-1])
	return kept
}
