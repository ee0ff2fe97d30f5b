// Package testutil provides shared helpers for tests: skip guards for
// optional external tools, WAV fixtures and fake executables.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequirePocketTTS(t)
//	    ...
//	}
package testutil

import (
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/example/go-lullaby/internal/audio"
)

// RequirePocketTTS skips the test if the pocket-tts binary is not found in
// PATH or the path given by the LULLABY_TTS_CLI_PATH environment variable.
func RequirePocketTTS(tb testing.TB) {
	tb.Helper()

	exe := os.Getenv("LULLABY_TTS_CLI_PATH")
	if exe == "" {
		exe = "pocket-tts"
	}

	_, err := exec.LookPath(exe)
	if err != nil {
		tb.Skipf("pocket-tts binary not available (%q not in PATH); set LULLABY_TTS_CLI_PATH to override", exe)
	}
}

// ToneWAV returns a 24 kHz mono PCM16 WAV holding n samples of a 440 Hz
// tone at half amplitude.
func ToneWAV(tb testing.TB, n int) []byte {
	tb.Helper()

	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/audio.ExpectedSampleRate))
	}

	data, err := audio.EncodeWAV(samples)
	if err != nil {
		tb.Fatalf("encode tone WAV: %v", err)
	}

	return data
}

// FakeExecutable writes a POSIX shell script with the given body into a
// temp dir and returns its path. Tests are skipped on Windows.
func FakeExecutable(tb testing.TB, name, body string) string {
	tb.Helper()

	if runtime.GOOS == "windows" {
		tb.Skip("fake executables need a POSIX shell")
		return ""
	}

	path := filepath.Join(tb.TempDir(), name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		tb.Fatalf("write fake executable: %v", err)
	}

	return path
}

// WriteFile writes data into a temp file and returns its path.
func WriteFile(tb testing.TB, name string, data []byte) string {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatalf("write %s: %v", name, err)
	}

	return path
}
