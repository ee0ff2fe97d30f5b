package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	pockettts "github.com/MeKo-Christian/go-call-pocket-tts"
	"github.com/example/go-lullaby/internal/config"
	"github.com/example/go-lullaby/internal/speech"
	"github.com/spf13/cobra"
)

func newVoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Voice manifest commands",
	}

	cmd.AddCommand(newVoiceListCmd())
	cmd.AddCommand(newVoiceExportCmd())

	return cmd
}

func newVoiceListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List voices from the voice manifest",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			vm, err := speech.NewVoiceManager(cfg.Paths.VoiceManifest)
			if err != nil {
				return err
			}

			return writeVoiceList(os.Stdout, vm.ListVoices(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print voices as JSON")

	return cmd
}

func writeVoiceList(w io.Writer, voices []speech.Voice, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Voices []speech.Voice `json:"voices"`
		}{Voices: voices})
	}

	if len(voices) == 0 {
		_, err := fmt.Fprintln(w, "no voices configured")
		return err
	}
	for _, v := range voices {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", v.ID, v.Path, v.License); err != nil {
			return err
		}
	}
	return nil
}

// exportVoice is the pocket-tts voice export call, swapped out in tests.
var exportVoice = func(cmd *cobra.Command, cfg config.Config, audioPath, outPath string) error {
	return pockettts.ExportVoice(cmd.Context(), audioPath, outPath, &pockettts.ExportVoiceOptions{
		Config:         cfg.TTS.CLIConfigPath,
		Quiet:          cfg.TTS.Quiet,
		ExecutablePath: cfg.TTS.CLIPath,
		LogWriter:      os.Stderr,
	})
}

func newVoiceExportCmd() *cobra.Command {
	var audioPath string
	var outPath string
	var id string
	var license string
	var register bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a voice embedding (.safetensors) from a WAV prompt",
		Long: "Export a voice embedding (.safetensors) from a WAV prompt.\n\n" +
			"This requires a Python pocket-tts installation. With --register the voice is " +
			"added to the voice manifest under --id.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if audioPath == "" {
				return errors.New("--audio is required")
			}
			if outPath == "" {
				return errors.New("--out is required")
			}
			if _, err := os.Stat(audioPath); err != nil {
				return fmt.Errorf("read --audio %q: %w", audioPath, err)
			}

			if err := exportVoice(cmd, cfg, audioPath, outPath); err != nil {
				var notFound *pockettts.ErrExecutableNotFound
				if errors.As(err, &notFound) {
					return fmt.Errorf("voice export requires the pocket-tts CLI (Python tooling): %w", err)
				}
				return err
			}

			voice := speech.Voice{ID: id, Path: outPath, License: license}
			if register {
				if err := registerVoice(cfg.Paths.VoiceManifest, voice); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(os.Stdout, "voice %q registered in %s\n", id, cfg.Paths.VoiceManifest)
				return nil
			}

			_, _ = fmt.Fprintln(os.Stdout, "voice export completed")
			_, _ = fmt.Fprintln(os.Stdout, "Suggested manifest entry:")
			entry, _ := json.Marshal(voice)
			_, _ = fmt.Fprintln(os.Stdout, string(entry))

			return nil
		},
	}

	cmd.Flags().StringVar(&audioPath, "audio", "", "Input speaker audio WAV path")
	cmd.Flags().StringVar(&outPath, "out", "", "Output voice .safetensors path")
	cmd.Flags().StringVar(&id, "id", "custom-voice", "Voice ID for the manifest entry")
	cmd.Flags().StringVar(&license, "license", "unknown", "License label for the manifest entry")
	cmd.Flags().BoolVar(&register, "register", false, "Add the exported voice to the voice manifest")

	return cmd
}

// registerVoice adds v to the manifest at manifestPath, creating it when
// missing. The voice path is stored absolute so it resolves from anywhere.
func registerVoice(manifestPath string, v speech.Voice) error {
	abs, err := filepath.Abs(v.Path)
	if err == nil {
		v.Path = abs
	}

	vm, err := speech.LoadVoices(manifestPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return vm.Register(v)
}
