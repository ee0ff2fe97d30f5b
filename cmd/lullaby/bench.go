package main

import (
	"errors"
	"os"
	"strings"

	"github.com/example/go-lullaby/internal/bench"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		text         string
		voice        string
		runs         int
		format       string
		rtfThreshold float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark narration latency and realtime factor",
		Long: "Benchmark narration latency and realtime factor.\n\n" +
			"Each run narrates --text with the configured chunking into memory and reports the time " +
			"until the first chunk could play, the total time and the realtime factor.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if strings.TrimSpace(text) == "" {
				return errors.New("--text is required for bench")
			}
			if format != "table" && format != "json" {
				return errors.New("--format must be 'table' or 'json'")
			}

			backend, voices, err := newSpeechBackend(cfg)
			if err != nil {
				return err
			}

			selectedVoice := cfg.TTS.Voice
			if voice != "" {
				selectedVoice = voice
			}

			results, err := bench.Run(cmd.Context(), bench.Options{
				Backend:   backend,
				Text:      text,
				Voice:     voices.ResolveVoice(selectedVoice),
				Runs:      runs,
				Narration: narrationOptions(cfg),
			})
			if err != nil {
				return mapSynthError(err)
			}

			sum := bench.Summarize(results)
			switch format {
			case "json":
				bench.FormatJSON(results, sum, os.Stdout)
			default:
				bench.FormatTable(results, sum, os.Stdout)
			}

			return bench.CheckRTFThreshold(sum.MeanRTF, rtfThreshold)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to narrate for each run (required)")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice ID (overrides config)")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of narration runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Exit non-zero if mean RTF exceeds this value (0 = disabled)")

	return cmd
}
