package main

import (
	"fmt"

	"github.com/chelnak/ysmrr"

	"github.com/RyanBlaney/pulso-ppg/heart"
)

// streamDisplay renders live metrics during stream mode with one spinner
// row per metric group.
type streamDisplay struct {
	sm      ysmrr.SpinnerManager
	rate    *ysmrr.Spinner
	quality *ysmrr.Spinner
	flags   *ysmrr.Spinner
	enabled bool
	stopped bool
}

func newStreamDisplay(enabled bool) *streamDisplay {
	d := &streamDisplay{enabled: enabled}
	if !enabled {
		return d
	}
	d.sm = ysmrr.NewSpinnerManager()
	d.rate = d.sm.AddSpinner("waiting for first beat...")
	d.quality = d.sm.AddSpinner("estimating signal quality...")
	d.flags = d.sm.AddSpinner("harmonic check idle")
	d.sm.Start()
	return d
}

func (d *streamDisplay) Update(m *heart.HeartMetrics) {
	if !d.enabled || d.stopped {
		return
	}
	d.rate.UpdateMessage(fmt.Sprintf("BPM %6.1f   RMSSD %6.1f ms   beats %d",
		m.BPM, m.RMSSD, m.Quality.TotalBeats))
	d.quality.UpdateMessage(fmt.Sprintf("SNR %5.1f dB   confidence %4.2f   rejection %4.1f%%",
		m.Quality.SnrDb, m.Quality.Confidence, m.Quality.RejectionRate*100))
	state := "clear"
	switch {
	case m.Quality.DoublingFlag == 1:
		state = "DOUBLING (hard)"
	case m.Quality.SoftDoublingFlag == 1:
		state = "doubling (soft)"
	case m.Quality.DoublingHintFlag == 1:
		state = "doubling hint"
	}
	d.flags.UpdateMessage(fmt.Sprintf("harmonic: %s   f0 %.2f Hz   p½/p1 %.2f",
		state, m.Quality.F0Hz, m.Quality.PHalfOverFund))
}

func (d *streamDisplay) Stop() {
	if !d.enabled || d.stopped {
		return
	}
	d.stopped = true
	d.rate.Complete()
	d.quality.Complete()
	d.flags.Complete()
	d.sm.Stop()
}
