// Command pulso analyzes a recorded PPG trace: one-shot batch analysis or
// a simulated realtime stream with a live metric display.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/RyanBlaney/pulso-ppg/heart"
	"github.com/RyanBlaney/pulso-ppg/logging"
	"github.com/RyanBlaney/pulso-ppg/realtime"
)

var (
	inputPath  = kingpin.Flag("input", "CSV file with one sample per line (optionally value,timestamp)").Short('i').Required().String()
	fs         = kingpin.Flag("fs", "Nominal sample rate in Hz").Short('f').Default("50").Float64()
	streamMode = kingpin.Flag("stream", "Simulate realtime streaming instead of batch analysis").Bool()
	jsonOut    = kingpin.Flag("json", "Emit the final metrics as JSON").Bool()
	windowSec  = kingpin.Flag("window", "Streaming window length in seconds").Default("60").Float64()
	bpmMin     = kingpin.Flag("bpm-min", "Minimum plausible BPM").Default("35").Float64()
	bpmMax     = kingpin.Flag("bpm-max", "Maximum plausible BPM").Default("180").Float64()
	lowHz      = kingpin.Flag("low", "Bandpass low cut in Hz").Default("0.5").Float64()
	highHz     = kingpin.Flag("high", "Bandpass high cut in Hz").Default("5.0").Float64()
	thresholdRR = kingpin.Flag("threshold-rr", "Apply threshold-RR masking").Bool()
	cleanRR    = kingpin.Flag("clean-rr", "Apply RR outlier cleaning (quotient filter)").Bool()
	verbose    = kingpin.Flag("verbose", "Enable debug logging").Short('v').Bool()
)

func main() {
	kingpin.Version("1.0.0")
	kingpin.Parse()

	if *verbose {
		logging.SetLevel(logging.DebugLevel)
	} else {
		logging.SetLevel(logging.WarnLevel)
	}

	samples, timestamps, err := readCSV(*inputPath)
	checkError(err)
	if len(samples) == 0 {
		checkError(fmt.Errorf("no samples in %s", *inputPath))
	}

	opt := heart.DefaultOptions()
	opt.Peak.BPMMin = *bpmMin
	opt.Peak.BPMMax = *bpmMax
	opt.Bandpass.LowHz = *lowHz
	opt.Bandpass.HighHz = *highHz
	opt.Quality.ThresholdRR = *thresholdRR
	opt.Cleaning.CleanRR = *cleanRR

	if *streamMode {
		runStream(samples, timestamps, opt)
		return
	}

	metrics, err := heart.AnalyzeSignal(samples, *fs, opt)
	checkError(err)
	showMetrics(metrics)
}

// runStream pushes the recording through the realtime analyzer in 1-second
// batches, rendering live metrics, and prints the final record.
func runStream(samples, timestamps []float64, opt heart.Options) {
	analyzer, err := realtime.NewAnalyzer(*fs, opt)
	checkError(err)
	checkError(analyzer.SetWindowSeconds(*windowSec))

	display := newStreamDisplay(!*jsonOut)
	defer display.Stop()

	batch := int(*fs)
	if batch < 1 {
		batch = 1
	}
	var last *heart.HeartMetrics
	for start := 0; start < len(samples); start += batch {
		end := start + batch
		if end > len(samples) {
			end = len(samples)
		}
		if len(timestamps) == len(samples) {
			checkError(analyzer.PushWithTimestamps(samples[start:end], timestamps[start:end]))
		} else {
			analyzer.Push(samples[start:end])
		}
		m, err := analyzer.Poll()
		if err != nil {
			continue // not ready yet
		}
		last = m
		display.Update(m)
	}
	display.Stop()

	if last == nil {
		checkError(fmt.Errorf("stream too short: no metrics emitted"))
	}
	showMetrics(last)
}

func showMetrics(m *heart.HeartMetrics) {
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		checkError(enc.Encode(m))
		return
	}
	fmt.Printf("BPM:        %7.2f\n", m.BPM)
	fmt.Printf("SDNN:       %7.2f ms\n", m.SDNN)
	fmt.Printf("RMSSD:      %7.2f ms\n", m.RMSSD)
	fmt.Printf("pNN20/pNN50:%7.2f / %.2f\n", m.PNN20, m.PNN50)
	fmt.Printf("SD1/SD2:    %7.2f / %.2f\n", m.SD1, m.SD2)
	fmt.Printf("LF/HF:      %7.3f\n", m.LFHF)
	fmt.Printf("Breathing:  %7.3f\n", m.BreathingRate)
	fmt.Printf("Beats:      %d (rejected %d, rate %.1f%%)\n",
		m.Quality.TotalBeats, m.Quality.RejectedBeats, m.Quality.RejectionRate*100)
	if m.Quality.SnrDb != 0 || m.Quality.Confidence != 0 {
		fmt.Printf("SNR:        %7.2f dB  confidence %.2f\n", m.Quality.SnrDb, m.Quality.Confidence)
	}
	if m.Quality.QualityWarning != "" {
		fmt.Printf("Warning:    %s\n", m.Quality.QualityWarning)
	}
}

// readCSV parses one sample per line, with an optional second timestamp
// column. Returns a nil timestamp slice when any line lacks one.
func readCSV(path string) ([]float64, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var samples, timestamps []float64
	haveTs := true
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("bad sample %q: %w", parts[0], err)
		}
		samples = append(samples, v)
		if len(parts) > 1 {
			ts, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("bad timestamp %q: %w", parts[1], err)
			}
			timestamps = append(timestamps, ts)
		} else {
			haveTs = false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if !haveTs || len(timestamps) != len(samples) {
		timestamps = nil
	}
	return samples, timestamps, nil
}

func checkError(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
