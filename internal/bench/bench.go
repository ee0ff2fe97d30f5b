// Package bench measures narration latency for the lullaby bench command:
// how long until the first chunk can play, and how total synthesis time
// compares with the length of the audio produced.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/example/go-lullaby/internal/audio"
	"github.com/example/go-lullaby/internal/engine"
	"github.com/example/go-lullaby/internal/narration"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and audio metadata for a single narration run.
type RunResult struct {
	Index         int
	Cold          bool // true for the first run (cold-start)
	FirstAudio    time.Duration
	Duration      time.Duration
	AudioDuration time.Duration
	Chunks        int
	Skipped       int
	RTF           float64
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
// An empty slice yields zero Stats.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		mn = min(mn, d)
		mx = max(mx, d)
		sum += d
	}
	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// Summary aggregates total and first-audio timings.
type Summary struct {
	Total      Stats
	FirstAudio Stats
	MeanRTF    float64
}

// Summarize computes the Summary of runs.
func Summarize(runs []RunResult) Summary {
	if len(runs) == 0 {
		return Summary{}
	}

	totals := make([]time.Duration, len(runs))
	firsts := make([]time.Duration, len(runs))
	var rtf float64
	for i, r := range runs {
		totals[i] = r.Duration
		firsts[i] = r.FirstAudio
		rtf += r.RTF
	}

	return Summary{
		Total:      ComputeStats(totals),
		FirstAudio: ComputeStats(firsts),
		MeanRTF:    rtf / float64(len(runs)),
	}
}

// ---------------------------------------------------------------------------
// RTF helpers
// ---------------------------------------------------------------------------

// CalcRTF returns synthesis_duration / audio_duration.
// Returns 0 if audioDur is zero to avoid division by zero.
func CalcRTF(synthDur, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}
	return float64(synthDur) / float64(audioDur)
}

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// Options configures Run.
type Options struct {
	Backend narration.Backend
	Text    string
	Voice   string
	Runs    int
	// Narration is applied to every run's sequencer.
	Narration []narration.Option
}

// Run narrates opts.Text opts.Runs times into an in-memory recorder. Each
// run uses a fresh sequencer, so the first run includes any backend warm-up.
func Run(ctx context.Context, opts Options) ([]RunResult, error) {
	if strings.TrimSpace(opts.Text) == "" {
		return nil, errors.New("bench text is empty")
	}
	if opts.Runs < 1 {
		return nil, errors.New("runs must be at least 1")
	}

	results := make([]RunResult, 0, opts.Runs)
	for i := range opts.Runs {
		r, err := runOnce(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("run %d failed: %w", i+1, err)
		}
		r.Index = i
		r.Cold = i == 0
		results = append(results, r)
	}

	return results, nil
}

func runOnce(ctx context.Context, opts Options) (RunResult, error) {
	rec := &engine.Recorder{}
	probe := &firstChunk{}

	seqOpts := append(append([]narration.Option(nil), opts.Narration...), narration.WithObserver(probe))
	seq := narration.New(opts.Backend, rec, seqOpts...)
	defer func() { _ = seq.Close() }()

	start := time.Now()
	probe.start = start

	res, err := seq.Speak(ctx, opts.Text, opts.Voice)
	if err != nil {
		return RunResult{}, err
	}
	dur := time.Since(start)

	audioDur := audio.Duration(len(rec.Track()), audio.ExpectedSampleRate)

	return RunResult{
		FirstAudio:    probe.elapsed(),
		Duration:      dur,
		AudioDuration: audioDur,
		Chunks:        res.Total,
		Skipped:       res.Skipped,
		RTF:           CalcRTF(dur, audioDur),
	}, nil
}

// firstChunk records when the first chunk started playing.
type firstChunk struct {
	start time.Time

	mu    sync.Mutex
	first time.Duration
	seen  bool
}

func (f *firstChunk) ChunkStarted(string, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.seen {
		f.first = time.Since(f.start)
		f.seen = true
	}
}

func (f *firstChunk) ChunkSkipped(string, int, int, error) {}
func (f *firstChunk) NarrationFinished(narration.Result)   {}
func (f *firstChunk) NarrationError(string, error)         {}

func (f *firstChunk) elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.first
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, sum Summary, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %6s  %10s  %10s  %12s  %8s\n", "Run", "Cold", "Chunks", "First(ms)", "MS", "Audio(ms)", "RTF")
	fmt.Fprintln(sb, strings.Repeat("-", 70))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %6d  %10.1f  %10.1f  %12.1f  %8.3f\n",
			r.Index+1,
			cold,
			r.Chunks,
			float64(r.FirstAudio.Milliseconds()),
			float64(r.Duration.Milliseconds()),
			float64(r.AudioDuration.Milliseconds()),
			r.RTF,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 70))
	for _, row := range []struct {
		label        string
		first, total time.Duration
	}{
		{"min", sum.FirstAudio.Min, sum.Total.Min},
		{"mean", sum.FirstAudio.Mean, sum.Total.Mean},
		{"max", sum.FirstAudio.Max, sum.Total.Max},
	} {
		fmt.Fprintf(sb, "%-5s  %-5s  %6s  %10.1f  %10.1f  %12s  %8s  (%s)\n",
			"", "", "", float64(row.first.Milliseconds()), float64(row.total.Milliseconds()), "", "", row.label)
	}
	fmt.Fprintf(sb, "mean RTF: %.3f\n", sum.MeanRTF)

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index        int     `json:"index"`
	Cold         bool    `json:"cold"`
	Chunks       int     `json:"chunks"`
	Skipped      int     `json:"skipped"`
	FirstAudioMS float64 `json:"first_audio_ms"`
	DurationMS   float64 `json:"duration_ms"`
	AudioMS      float64 `json:"audio_ms"`
	RTF          float64 `json:"rtf"`
}

type jsonStats struct {
	MinMS            float64 `json:"min_ms"`
	MeanMS           float64 `json:"mean_ms"`
	MaxMS            float64 `json:"max_ms"`
	FirstAudioMeanMS float64 `json:"first_audio_mean_ms"`
	FirstAudioMaxMS  float64 `json:"first_audio_max_ms"`
	MeanRTF          float64 `json:"mean_rtf"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, sum Summary, w io.Writer) {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:            float64(sum.Total.Min.Milliseconds()),
			MeanMS:           float64(sum.Total.Mean.Milliseconds()),
			MaxMS:            float64(sum.Total.Max.Milliseconds()),
			FirstAudioMeanMS: float64(sum.FirstAudio.Mean.Milliseconds()),
			FirstAudioMaxMS:  float64(sum.FirstAudio.Max.Milliseconds()),
			MeanRTF:          sum.MeanRTF,
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:        r.Index,
			Cold:         r.Cold,
			Chunks:       r.Chunks,
			Skipped:      r.Skipped,
			FirstAudioMS: float64(r.FirstAudio.Milliseconds()),
			DurationMS:   float64(r.Duration.Milliseconds()),
			AudioMS:      float64(r.AudioDuration.Milliseconds()),
			RTF:          r.RTF,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
