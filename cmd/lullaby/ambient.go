package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/go-lullaby/internal/ambient"
	"github.com/example/go-lullaby/internal/audio"
	"github.com/spf13/cobra"
)

func newAmbientCmd() *cobra.Command {
	var effect string
	var duration time.Duration
	var out string

	cmd := &cobra.Command{
		Use:   "ambient",
		Short: "Play or render an ambient soundscape",
		Long: "Play or render an ambient soundscape.\n\n" +
			"Without --out the effect plays on the local audio device until --duration elapses or the " +
			"process is interrupted. With --out, --duration seconds are rendered to a WAV file.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			eff, err := ambient.ParseEffect(effect)
			if err != nil {
				return err
			}
			if eff == ambient.None {
				return errors.New("--effect is required")
			}

			if out != "" {
				if duration <= 0 {
					return errors.New("--duration must be positive when rendering with --out")
				}
				wav, err := renderAmbientWAV(eff, cfg.Ambient.Volume, duration)
				if err != nil {
					return err
				}
				return writeSynthOutput(out, wav, os.Stdout)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			live, err := openLiveOutput(ctx, cfg)
			if err != nil {
				return err
			}
			defer live.close()

			if err := live.ambient.Activate(eff, cfg.Ambient.Volume); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stderr, "playing %s at volume %.2f\n", eff, live.ambient.Volume())

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&effect, "effect", string(ambient.Rain), "Ambient effect: rain|storm|lightning|wind|campfire|snow")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Play or render duration (0 plays until interrupted)")
	cmd.Flags().StringVar(&out, "out", "", "Render to this WAV path instead of the audio device ('-' for stdout)")

	return cmd
}

func renderAmbientWAV(effect ambient.Effect, volume float64, d time.Duration) ([]byte, error) {
	n := int(d.Seconds() * audio.ExpectedSampleRate)

	bed, err := renderAmbientBed(effect, volume, n)
	if err != nil {
		return nil, err
	}

	wav, err := audio.EncodeWAV(bed)
	if err != nil {
		return nil, fmt.Errorf("encode ambient WAV: %w", err)
	}
	return wav, nil
}
