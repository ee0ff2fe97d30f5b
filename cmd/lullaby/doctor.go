package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/go-lullaby/internal/config"
	"github.com/example/go-lullaby/internal/doctor"
	"github.com/example/go-lullaby/internal/speaker"
	"github.com/example/go-lullaby/internal/speech"
	"github.com/spf13/cobra"
)

const doctorProbeTimeout = 5 * time.Second

func newDoctorCmd() *cobra.Command {
	var checkAudio bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the speech backend, voices and audio device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			dcfg, err := buildDoctorConfig(cmd.Context(), cfg, checkAudio)
			if err != nil {
				return err
			}

			result := doctor.Run(dcfg, os.Stdout)
			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().BoolVar(&checkAudio, "audio", false, "Also open the local audio device")

	return cmd
}

// buildDoctorConfig selects the checks that apply to the configured backend:
// the pocket-tts binary and Python for cli, a server ping for http.
func buildDoctorConfig(ctx context.Context, cfg config.Config, checkAudio bool) (doctor.Config, error) {
	backend, err := config.NormalizeBackend(cfg.TTS.Backend)
	if err != nil {
		return doctor.Config{}, err
	}

	dcfg := doctor.Config{
		Backend:    backend,
		VoiceFiles: collectVoiceFiles(cfg.Paths.VoiceManifest),
	}

	switch backend {
	case config.BackendCLI:
		exe := cfg.TTS.CLIPath
		if exe == "" {
			exe = "pocket-tts"
		}
		dcfg.PocketTTSVersion = func() (string, error) { return probePocketTTSVersion(ctx, exe) }
		dcfg.PythonVersion = func() (string, error) { return probePythonVersion(ctx) }
	default:
		client := speech.NewHTTPBackend(cfg.TTS.BaseURL)
		dcfg.ServerPing = func() error {
			pingCtx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
			defer cancel()
			return client.Ping(pingCtx)
		}
	}

	if checkAudio {
		dcfg.AudioDevice = func() error { return probeAudioDevice(ctx, cfg.Ambient.SampleRate) }
	}

	return dcfg, nil
}

// probePocketTTSVersion runs `pocket-tts --version` and returns its output.
func probePocketTTSVersion(ctx context.Context, exe string) (string, error) {
	out, err := exec.CommandContext(ctx, exe, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version failed: %w", exe, err)
	}

	return strings.TrimSpace(string(out)), nil
}

// probePythonVersion tries python3 then python and returns the version string.
func probePythonVersion(ctx context.Context) (string, error) {
	for _, bin := range []string{"python3", "python"} {
		out, err := exec.CommandContext(ctx, bin, "--version").Output()
		if err != nil {
			continue
		}
		// Output is e.g. "Python 3.11.4\n"
		raw := strings.TrimPrefix(strings.TrimSpace(string(out)), "Python ")
		if raw != "" {
			return raw, nil
		}
	}

	return "", errors.New("python3/python not found on PATH")
}

func probeAudioDevice(ctx context.Context, sampleRate int) error {
	ctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	spk, err := speaker.Open(ctx, strings.NewReader(""), sampleRate, nil)
	if err != nil {
		return err
	}
	return spk.Close()
}

// collectVoiceFiles returns absolute voice file paths from the manifest.
// Paths are resolved relative to the manifest directory, so the checks do
// not depend on the working directory.
func collectVoiceFiles(manifestPath string) []string {
	vm, err := speech.NewVoiceManager(manifestPath)
	if err != nil {
		return nil
	}

	voices := vm.ListVoices()

	paths := make([]string, 0, len(voices))
	for _, v := range voices {
		resolved, err := vm.ResolvePath(v.ID)
		if err != nil {
			// Keep the raw path so the check reports it as missing.
			paths = append(paths, v.Path)
			continue
		}
		if abs, err := filepath.Abs(resolved); err == nil {
			resolved = abs
		}

		paths = append(paths, resolved)
	}

	return paths
}
