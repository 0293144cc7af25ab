package realtime

import (
	"math"

	"github.com/RyanBlaney/pulso-ppg/algorithms/common"
	"github.com/RyanBlaney/pulso-ppg/heart"
)

// Confidence maps the smoothed SNR through a logistic curve, discounts
// for beat rejection and RR variability, and gates everything behind
// warm-up progress. Caller holds the lock.
func (a *Analyzer) computeConfidence(out *heart.HeartMetrics, lastTs, windowSec, warmupStartTs, firstTsApprox float64) {
	persist := a.dbl.lastActiveTs() > 0.0 && lastTs-a.dbl.lastActiveTs() <= 5.0
	active := a.dbl.anyActive() || persist

	x0 := 6.0
	k := 0.8
	if active {
		x0 = 5.2
		k = 1.0 / 1.2
	}
	if math.IsNaN(a.snrEmaDb) || math.IsInf(a.snrEmaDb, 0) {
		a.snrEmaDb = snrFallbackDb
	}
	confSnr := 1.0 / (1.0 + math.Exp(-k*(a.snrEmaDb-x0)))
	if math.IsNaN(confSnr) {
		confSnr = 0.0
	}

	conf := confSnr * (1.0 - out.Quality.RejectionRate)
	cv := 0.0
	if len(out.RRList) > 0 {
		meanRR := common.Mean(out.RRList)
		if meanRR > 1e-9 {
			cv = common.PopStd(out.RRList) / meanRR
		}
		kcv := 1.0
		if active {
			kcv = 0.5
		}
		conf *= math.Max(0.0, 1.0-kcv*cv)
	}
	if active {
		activeSecs := 0.0
		if a.dbl.softActive {
			activeSecs = math.Max(activeSecs, lastTs-a.dbl.softStartTs)
		}
		if a.dbl.hintActive && a.dbl.hintStartTs > 0.0 {
			activeSecs = math.Max(activeSecs, lastTs-a.dbl.hintStartTs)
		}
		if out.Quality.RejectionRate < 0.03 && cv < 0.12 && activeSecs >= 8.0 {
			conf = math.Min(1.0, conf*1.1)
		}
	}

	// warm-up progress: the earlier of a time target and a beat target
	warmupSecTarget := common.Clamp(windowSec*2.0, 4.0, 10.0)
	warmupBeatsTarget := int(math.Max(4.0, math.Ceil(windowSec*1.5)))
	elapsed := math.Max(0.0, lastTs-firstTsApprox)
	if !math.IsNaN(warmupStartTs) {
		elapsed = math.Max(0.0, lastTs-warmupStartTs)
	}
	timeProgress := 1.0
	if warmupSecTarget > 0.0 {
		timeProgress = elapsed / warmupSecTarget
	}
	beatsInWindow := len(out.PeakList)
	if beatsInWindow == 0 {
		beatsInWindow = len(a.lastPeaks)
	}
	if beatsInWindow == 0 && len(out.RRList) > 0 {
		beatsInWindow = len(out.RRList) + 1
	}
	beatProgress := 1.0
	if warmupBeatsTarget > 0 {
		beatProgress = float64(beatsInWindow) / float64(warmupBeatsTarget)
	}
	warmProgress := common.Clamp(math.Max(timeProgress, beatProgress), 0.0, 1.0)
	conf *= warmProgress
	if math.IsNaN(conf) || math.IsInf(conf, 0) {
		conf = 0.0
	}
	out.Quality.Confidence = common.Clamp(conf, 0.0, 1.0)
}
