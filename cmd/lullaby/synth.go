package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/example/go-lullaby/internal/audio"
	"github.com/example/go-lullaby/internal/config"
	"github.com/example/go-lullaby/internal/narration"
	"github.com/example/go-lullaby/internal/speech"
	textpkg "github.com/example/go-lullaby/internal/text"
	"github.com/spf13/cobra"
)

func newSynthCmd() *cobra.Command {
	var text string
	var out string
	var voice string
	var chunk bool
	var maxChunkChars int
	var dsp audio.DSPOptions

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text to WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			inputText, err := readSynthText(text, os.Stdin)
			if err != nil {
				return err
			}

			chunks, err := buildSynthesisChunks(inputText, chunk, maxChunkChars)
			if err != nil {
				return err
			}

			backend, voices, err := newSpeechBackend(cfg)
			if err != nil {
				return err
			}

			selectedVoice := cfg.TTS.Voice
			if voice != "" {
				selectedVoice = voice
			}
			selectedVoice = voices.ResolveVoice(selectedVoice)

			result, err := synthesizeChunks(cmd.Context(), backend, chunks, selectedVoice)
			if err != nil {
				return mapSynthError(err)
			}

			if dsp.Enabled() {
				result, err = applyDSPToWAV(result, dsp)
				if err != nil {
					return err
				}
			}

			return writeSynthOutput(out, result, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice ID from the voice manifest or a built-in voice (overrides config)")
	cmd.Flags().BoolVar(&chunk, "chunk", false, "Split text into sentence chunks and synthesize sequentially")
	cmd.Flags().IntVar(&maxChunkChars, "max-chunk-chars", 220, "Maximum characters per chunk when --chunk is enabled")
	cmd.Flags().BoolVar(&dsp.Normalize, "normalize", false, "Peak-normalize output audio")
	cmd.Flags().BoolVar(&dsp.DCBlock, "dc-block", false, "Apply DC-block high-pass filter")
	cmd.Flags().Float64Var(&dsp.FadeInMS, "fade-in-ms", 0, "Apply fade-in duration in milliseconds")
	cmd.Flags().Float64Var(&dsp.FadeOutMS, "fade-out-ms", 0, "Apply fade-out duration in milliseconds")

	return cmd
}

// newSpeechBackend builds the configured backend. A missing voice manifest
// is not an error; voices are then passed through unresolved.
func newSpeechBackend(cfg config.Config) (narration.Backend, *speech.VoiceManager, error) {
	voices, err := speech.LoadVoices(cfg.Paths.VoiceManifest)
	if err != nil {
		slog.Debug("voice manifest not loaded", "path", cfg.Paths.VoiceManifest, "error", err)
	}

	backend, err := speech.NewBackend(cfg.TTS, voices, slog.Default())
	if err != nil {
		return nil, nil, err
	}

	return backend, voices, nil
}

func buildSynthesisChunks(input string, chunk bool, maxChunkChars int) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("empty input text")
	}
	if !chunk {
		return []string{input}, nil
	}

	chunks := textpkg.ChunkBySentence(input, maxChunkChars)
	if len(chunks) == 0 {
		return nil, errors.New("no non-empty chunks produced from input")
	}
	return chunks, nil
}

// synthesizeChunks synthesizes chunks in order and joins them into one WAV.
// Each clip is released as soon as its audio has been copied out.
func synthesizeChunks(ctx context.Context, backend narration.Backend, chunks []string, voice string) ([]byte, error) {
	results := make([][]byte, 0, len(chunks))
	for i, chunkText := range chunks {
		clip, err := backend.Synthesize(ctx, chunkText, voice)
		if err != nil {
			return nil, fmt.Errorf("chunk %d synthesis failed: %w", i+1, err)
		}
		results = append(results, clip.Audio)

		if err := backend.Release(ctx, clip.Handle); err != nil {
			slog.Debug("release clip", "handle", clip.Handle, "error", err)
		}
	}

	if len(results) == 1 {
		return results[0], nil
	}
	return concatenateWAVChunks(results)
}

func concatenateWAVChunks(chunkWAVs [][]byte) ([]byte, error) {
	merged := make([]float32, 0, audio.ExpectedSampleRate)
	for i, data := range chunkWAVs {
		samples, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("decode chunk %d WAV: %w", i+1, err)
		}
		merged = append(merged, samples...)
	}
	out, err := audio.EncodeWAV(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged WAV: %w", err)
	}
	return out, nil
}

func applyDSPToWAV(wavData []byte, opts audio.DSPOptions) ([]byte, error) {
	samples, err := audio.DecodeWAV(wavData)
	if err != nil {
		return nil, fmt.Errorf("decode WAV for DSP: %w", err)
	}

	processed := audio.ApplyHooks(samples, opts.Hooks(audio.ExpectedSampleRate)...)

	out, err := audio.EncodeWAV(processed)
	if err != nil {
		return nil, fmt.Errorf("encode WAV after DSP: %w", err)
	}
	return out, nil
}

func writeSynthOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return errors.New("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", errors.New("either provide --text or pipe text on stdin")
	}
	return input, nil
}

func mapSynthError(err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("synth failed: pocket-tts executable not found; set --tts-cli-path or LULLABY_TTS_CLI_PATH: %w", err)
	}

	if errors.Is(err, narration.ErrBackendUnavailable) {
		return fmt.Errorf("synth failed: speech backend unavailable; check --backend and --tts-base-url: %w", err)
	}

	var synthErr *narration.SynthesisError
	if errors.As(err, &synthErr) && synthErr.Kind == narration.InvalidInput {
		return fmt.Errorf("synth failed: input rejected by the speech backend: %w", err)
	}

	return err
}
