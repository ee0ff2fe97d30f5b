package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/example/go-lullaby/internal/audio"
	"github.com/example/go-lullaby/internal/narration"
)

// stubBackend returns a WAV of samplesPerChunk samples at value for every
// text, unless fail returns an error for it.
type stubBackend struct {
	samplesPerChunk int
	value           float32
	fail            func(text string) error

	mu       sync.Mutex
	texts    []string
	released []string
}

func (b *stubBackend) Synthesize(_ context.Context, text, _ string) (narration.Clip, error) {
	b.mu.Lock()
	b.texts = append(b.texts, text)
	n := len(b.texts)
	b.mu.Unlock()

	if b.fail != nil {
		if err := b.fail(text); err != nil {
			return narration.Clip{}, err
		}
	}

	samples := make([]float32, b.samplesPerChunk)
	for i := range samples {
		samples[i] = b.value
	}
	data, err := audio.EncodeWAV(samples)
	if err != nil {
		return narration.Clip{}, err
	}

	return narration.Clip{Handle: fmt.Sprintf("clip-%d", n), Audio: data}, nil
}

func (b *stubBackend) Release(_ context.Context, handle string) error {
	b.mu.Lock()
	b.released = append(b.released, handle)
	b.mu.Unlock()
	return nil
}

func TestReadSynthText(t *testing.T) {
	t.Run("uses flag text", func(t *testing.T) {
		got, err := readSynthText("hello", strings.NewReader("ignored"))
		if err != nil {
			t.Fatalf("readSynthText returned error: %v", err)
		}
		if got != "hello" {
			t.Fatalf("expected hello, got %q", got)
		}
	})

	t.Run("falls back to stdin", func(t *testing.T) {
		got, err := readSynthText("", strings.NewReader(" from stdin \n"))
		if err != nil {
			t.Fatalf("readSynthText returned error: %v", err)
		}
		if got != "from stdin" {
			t.Fatalf("expected trimmed stdin text, got %q", got)
		}
	})

	t.Run("fails when both empty", func(t *testing.T) {
		_, err := readSynthText("", strings.NewReader("   \n\t"))
		if err == nil {
			t.Fatal("expected error for empty input")
		}
	})
}

func TestBuildSynthesisChunks(t *testing.T) {
	t.Run("no chunk returns original input", func(t *testing.T) {
		got, err := buildSynthesisChunks("Hello world.", false, 10)
		if err != nil {
			t.Fatalf("buildSynthesisChunks returned error: %v", err)
		}
		if len(got) != 1 || got[0] != "Hello world." {
			t.Fatalf("unexpected chunks: %v", got)
		}
	})

	t.Run("chunk mode splits text", func(t *testing.T) {
		got, err := buildSynthesisChunks("One. Two. Three.", true, 8)
		if err != nil {
			t.Fatalf("buildSynthesisChunks returned error: %v", err)
		}
		want := []string{"One.", "Two.", "Three."}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("unexpected chunks: got %v want %v", got, want)
		}
	})

	t.Run("whitespace input fails", func(t *testing.T) {
		if _, err := buildSynthesisChunks(" \n ", true, 8); err == nil {
			t.Fatal("expected error for whitespace input")
		}
	})
}

func TestSynthesizeChunksConcatenatesPCM(t *testing.T) {
	backend := &stubBackend{samplesPerChunk: 3, value: 0.25}

	wavData, err := synthesizeChunks(context.Background(), backend, []string{"One.", "Two."}, "alba")
	if err != nil {
		t.Fatalf("synthesizeChunks returned error: %v", err)
	}

	decoded, err := audio.DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV returned error: %v", err)
	}
	if len(decoded) != 6 {
		t.Fatalf("unexpected merged sample count: got %d want %d", len(decoded), 6)
	}

	if strings.Join(backend.texts, "|") != "One.|Two." {
		t.Errorf("chunks synthesized out of order: %v", backend.texts)
	}
	if len(backend.released) != 2 {
		t.Errorf("released %v, want both clips", backend.released)
	}
}

func TestSynthesizeChunks_SingleChunkPassesThrough(t *testing.T) {
	backend := &stubBackend{samplesPerChunk: 4}

	got, err := synthesizeChunks(context.Background(), backend, []string{"Only."}, "")
	if err != nil {
		t.Fatalf("synthesizeChunks returned error: %v", err)
	}

	want, _ := audio.EncodeWAV(make([]float32, 4))
	if !bytes.Equal(got, want) {
		t.Fatal("single chunk should be returned unchanged")
	}
}

func TestSynthesizeChunks_ReportsFailingChunk(t *testing.T) {
	backend := &stubBackend{
		samplesPerChunk: 2,
		fail: func(text string) error {
			if text == "Two." {
				return narration.NewSynthesisError(narration.RateLimited, errors.New("slow down"))
			}
			return nil
		},
	}

	_, err := synthesizeChunks(context.Background(), backend, []string{"One.", "Two.", "Three."}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "chunk 2") {
		t.Errorf("error %q should name chunk 2", err)
	}
	if len(backend.texts) != 2 {
		t.Errorf("synthesis should stop at the failing chunk, got %v", backend.texts)
	}
}

func TestApplyDSPToWAV(t *testing.T) {
	in, err := audio.EncodeWAV([]float32{0.2, 0.4, 0.6, 0.8})
	if err != nil {
		t.Fatalf("EncodeWAV returned error: %v", err)
	}

	out, err := applyDSPToWAV(in, audio.DSPOptions{
		Normalize: true,
		FadeInMS:  1,
		FadeOutMS: 1,
	})
	if err != nil {
		t.Fatalf("applyDSPToWAV returned error: %v", err)
	}

	decoded, err := audio.DecodeWAV(out)
	if err != nil {
		t.Fatalf("DecodeWAV returned error: %v", err)
	}
	if len(decoded) != 4 {
		t.Fatalf("unexpected sample count after DSP: got %d want %d", len(decoded), 4)
	}
}

func TestApplyDSPToWAV_RejectsGarbage(t *testing.T) {
	if _, err := applyDSPToWAV([]byte("not a wav"), audio.DSPOptions{Normalize: true}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestWriteSynthOutput_Stdout(t *testing.T) {
	in, err := audio.EncodeWAV([]float32{0.1, 0.2, 0.3, 0.4})
	if err != nil {
		t.Fatalf("EncodeWAV returned error: %v", err)
	}

	var stdout bytes.Buffer
	if err := writeSynthOutput("-", in, &stdout); err != nil {
		t.Fatalf("writeSynthOutput stdout returned error: %v", err)
	}
	if _, err := audio.DecodeWAV(stdout.Bytes()); err != nil {
		t.Fatalf("stdout bytes are not a valid WAV: %v", err)
	}

	if err := writeSynthOutput("-", in, nil); err == nil {
		t.Fatal("expected error for nil stdout")
	}
}

func TestWriteSynthOutput_File(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.wav")
	in, err := audio.EncodeWAV([]float32{0.2, 0.4})
	if err != nil {
		t.Fatalf("EncodeWAV returned error: %v", err)
	}

	if err := writeSynthOutput(out, in, nil); err != nil {
		t.Fatalf("writeSynthOutput file returned error: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if _, err := audio.DecodeWAV(got); err != nil {
		t.Fatalf("written file is not a valid WAV: %v", err)
	}
}

func TestMapSynthError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "missing executable",
			err:     narration.NewSynthesisError(narration.Unavailable, &exec.Error{Name: "pocket-tts", Err: exec.ErrNotFound}),
			wantMsg: "executable not found",
		},
		{
			name:    "server down",
			err:     narration.NewSynthesisError(narration.Unavailable, errors.New("connection refused")),
			wantMsg: "backend unavailable",
		},
		{
			name:    "invalid input",
			err:     fmt.Errorf("chunk 1 synthesis failed: %w", narration.NewSynthesisError(narration.InvalidInput, errors.New("bad"))),
			wantMsg: "input rejected",
		},
		{
			name:    "other errors pass through",
			err:     errors.New("disk full"),
			wantMsg: "disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapSynthError(tt.err)
			if !errors.Is(got, tt.err) {
				t.Errorf("mapped error does not wrap the original: %v", got)
			}
			if !strings.Contains(got.Error(), tt.wantMsg) {
				t.Errorf("mapSynthError() = %q, want it to contain %q", got, tt.wantMsg)
			}
		})
	}

	if mapSynthError(nil) != nil {
		t.Error("mapSynthError(nil) should be nil")
	}
}

func TestSynthCmd_EndToEndWithFakeServer(t *testing.T) {
	srv := newFakeTTSServer(t, 1200)

	out := filepath.Join(t.TempDir(), "out.wav")

	root := NewRootCmd()
	root.SetArgs([]string{
		"synth",
		"--tts-base-url=" + srv.URL,
		"--text=Close your eyes. Breathe slowly.",
		"--chunk",
		"--max-chunk-chars=16",
		"--normalize",
		"--out=" + out,
	})

	if err := root.Execute(); err != nil {
		t.Fatalf("synth failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	samples, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("output is not a valid WAV: %v", err)
	}
	if len(samples) != 2400 {
		t.Errorf("got %d samples, want 2400 from two chunks", len(samples))
	}
	if got := srv.requests(); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestBenchCmd_JSONAgainstFakeServer(t *testing.T) {
	srv := newFakeTTSServer(t, 2400)

	root := NewRootCmd()
	root.SetArgs([]string{
		"bench",
		"--tts-base-url=" + srv.URL,
		"--text=Sleep well.",
		"--runs=2",
		"--format=json",
	})

	if err := root.Execute(); err != nil {
		t.Fatalf("bench failed: %v", err)
	}
	if srv.requests() != 2 {
		t.Errorf("server saw %d requests, want 2", srv.requests())
	}
}

func TestBenchCmd_RejectsUnknownFormat(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"bench", "--text=hi", "--format=xml"})

	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "--format") {
		t.Fatalf("err = %v, want --format error", err)
	}
}
