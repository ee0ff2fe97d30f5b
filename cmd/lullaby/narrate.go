package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/go-lullaby/internal/ambient"
	"github.com/example/go-lullaby/internal/audio"
	"github.com/example/go-lullaby/internal/config"
	"github.com/example/go-lullaby/internal/engine"
	"github.com/example/go-lullaby/internal/narration"
	"github.com/spf13/cobra"
)

func newNarrateCmd() *cobra.Command {
	var text string
	var out string
	var voice string
	var effect string

	cmd := &cobra.Command{
		Use:   "narrate",
		Short: "Narrate text over an optional ambient soundscape",
		Long: "Narrate text over an optional ambient soundscape.\n\n" +
			"Long text is split into sentence-aligned chunks that are synthesized ahead of playback. " +
			"Without --out the result plays on the local audio device; with --out it is rendered to a WAV file.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			inputText, err := readSynthText(text, os.Stdin)
			if err != nil {
				return err
			}

			eff, err := ambient.ParseEffect(effect)
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

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var res narration.Result
			if out != "" {
				var wav []byte
				res, wav, err = renderNarration(ctx, cfg, backend, inputText, selectedVoice, eff)
				if err == nil || errors.Is(err, narration.ErrBackendUnavailable) {
					if werr := writeSynthOutput(out, wav, os.Stdout); werr != nil {
						return werr
					}
				}
			} else {
				res, err = playNarration(ctx, cfg, backend, inputText, selectedVoice, eff)
			}

			printNarrationResult(os.Stderr, res)

			return mapSynthError(err)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to narrate (if empty, read from stdin)")
	cmd.Flags().StringVar(&out, "out", "", "Render to this WAV path instead of the audio device ('-' for stdout)")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice ID from the voice manifest or a built-in voice (overrides config)")
	cmd.Flags().StringVar(&effect, "ambient", "none", "Ambient effect under the narration: none|rain|storm|lightning|wind|campfire|snow")

	return cmd
}

// playNarration speaks input on the local audio device. The ambient bed, if
// any, starts before the first chunk and stops after the last.
func playNarration(
	ctx context.Context,
	cfg config.Config,
	backend narration.Backend,
	input, voice string,
	effect ambient.Effect,
) (narration.Result, error) {
	live, err := openOutputOrHeadless(ctx, cfg)
	if err != nil {
		return narration.Result{}, err
	}
	defer live.close()

	if err := live.ambient.Activate(effect, cfg.Ambient.Volume); err != nil {
		return narration.Result{}, err
	}

	seq := narration.New(backend, engine.NewClipPlayer(live.engine, 1),
		narrationOptions(cfg, readyOption(cfg, backend), narration.WithObserver(live.recorder))...)
	defer func() { _ = seq.Close() }()

	return seq.Speak(ctx, input, voice)
}

// renderNarration records the narration into a WAV, mixing in the ambient
// bed when effect is not None. Chunks synthesized before an outage are kept.
func renderNarration(
	ctx context.Context,
	cfg config.Config,
	backend narration.Backend,
	input, voice string,
	effect ambient.Effect,
) (narration.Result, []byte, error) {
	rec := &engine.Recorder{}
	seq := narration.New(backend, rec, narrationOptions(cfg, readyOption(cfg, backend))...)
	defer func() { _ = seq.Close() }()

	res, speakErr := seq.Speak(ctx, input, voice)
	if speakErr != nil && !errors.Is(speakErr, narration.ErrBackendUnavailable) {
		return res, nil, speakErr
	}

	track := rec.Track()
	if effect != ambient.None {
		bed, err := renderAmbientBed(effect, cfg.Ambient.Volume, len(track))
		if err != nil {
			return res, nil, err
		}
		mixInto(track, bed)
	}

	wav, err := audio.EncodeWAV(track)
	if err != nil {
		return res, nil, fmt.Errorf("encode narration WAV: %w", err)
	}

	return res, wav, speakErr
}

func printNarrationResult(w io.Writer, res narration.Result) {
	if res.ID == "" {
		return
	}

	status := "finished"
	if res.Stopped {
		status = "stopped"
	}
	_, _ = fmt.Fprintf(w, "narration %s %s: played %d/%d chunks, skipped %d",
		res.ID, status, res.Played, res.Total, res.Skipped)
	if res.Unplayed > 0 {
		_, _ = fmt.Fprintf(w, ", no output for %d", res.Unplayed)
	}
	_, _ = fmt.Fprintln(w)
}
