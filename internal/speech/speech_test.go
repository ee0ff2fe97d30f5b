package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/go-lullaby/internal/config"
	"github.com/example/go-lullaby/internal/narration"
	"github.com/example/go-lullaby/internal/testutil"
)

func TestHTTPBackend_Synthesize(t *testing.T) {
	wav := testutil.ToneWAV(t, 4800)

	var got ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tts" {
			http.Error(w, "wrong route", http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL + "/")

	clip, err := b.Synthesize(context.Background(), "Close your eyes.", "alba")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if got.Text != "Close your eyes." || got.Voice != "alba" {
		t.Errorf("request = %+v", got)
	}

	if clip.Handle == "" {
		t.Error("clip handle is empty")
	}

	if clip.Duration != 200*time.Millisecond {
		t.Errorf("Duration = %v; want 200ms", clip.Duration)
	}

	testutil.AssertValidWAV(t, clip.Audio)

	other, _ := b.Synthesize(context.Background(), "Again.", "")
	if other.Handle == clip.Handle {
		t.Error("handles should be unique per clip")
	}

	if err := b.Release(context.Background(), clip.Handle); err != nil {
		t.Errorf("Release: %v", err)
	}
}

func TestHTTPBackend_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   narration.ErrorKind
	}{
		{http.StatusTooManyRequests, narration.RateLimited},
		{http.StatusBadRequest, narration.InvalidInput},
		{http.StatusRequestEntityTooLarge, narration.InvalidInput},
		{http.StatusInternalServerError, narration.Unavailable},
		{http.StatusServiceUnavailable, narration.Unavailable},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := NewHTTPBackend(srv.URL).Synthesize(context.Background(), "x", "")

			var se *narration.SynthesisError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v; want *SynthesisError", err)
			}

			if se.Kind != tt.want {
				t.Errorf("Kind = %v; want %v", se.Kind, tt.want)
			}

			if !strings.Contains(err.Error(), "nope") {
				t.Errorf("error %q does not carry server message", err)
			}
		})
	}
}

func TestHTTPBackend_ClosedPortIsUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = NewHTTPBackend("http://"+addr).Synthesize(context.Background(), "x", "")
	if !errors.Is(err, narration.ErrBackendUnavailable) {
		t.Fatalf("err = %v; want ErrBackendUnavailable", err)
	}
}

func TestHTTPBackend_InvalidAudioIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not audio"))
	}))
	defer srv.Close()

	_, err := NewHTTPBackend(srv.URL).Synthesize(context.Background(), "x", "")
	if !errors.Is(err, narration.ErrBackendUnavailable) {
		t.Fatalf("err = %v; want ErrBackendUnavailable", err)
	}
}

func TestHTTPBackend_CallerCancelIsNotAnOutage(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewHTTPBackend(srv.URL).Synthesize(ctx, "x", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}

	if errors.Is(err, narration.ErrBackendUnavailable) {
		t.Fatal("cancellation reported as outage")
	}
}

func TestHTTPBackend_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewHTTPBackend(srv.URL, WithTimeout(20*time.Millisecond)).Synthesize(context.Background(), "x", "")
	if !errors.Is(err, narration.ErrBackendUnavailable) {
		t.Fatalf("err = %v; want ErrBackendUnavailable", err)
	}
}

func TestHTTPBackend_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	if err := NewHTTPBackend(srv.URL).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestCLIBackend_Synthesize(t *testing.T) {
	wavPath := testutil.WriteFile(t, "out.wav", testutil.ToneWAV(t, 2400))
	argsPath := filepath.Join(t.TempDir(), "args.txt")
	stdinPath := filepath.Join(t.TempDir(), "stdin.txt")

	exe := testutil.FakeExecutable(t, "pocket-tts",
		`echo "$@" > `+argsPath+`
cat > `+stdinPath+`
cat `+wavPath)

	b := NewCLIBackend(CLIOptions{ExecutablePath: exe, ConfigPath: "cfg.yaml", Quiet: true, Concurrency: 1})

	clip, err := b.Synthesize(context.Background(), "Breathe slowly.", "alba")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if clip.Duration != 100*time.Millisecond {
		t.Errorf("Duration = %v; want 100ms", clip.Duration)
	}

	args, _ := os.ReadFile(argsPath)
	want := "generate --text - --output-path - --voice alba --config cfg.yaml --quiet"
	if got := strings.TrimSpace(string(args)); got != want {
		t.Errorf("args = %q; want %q", got, want)
	}

	stdin, _ := os.ReadFile(stdinPath)
	if string(stdin) != "Breathe slowly." {
		t.Errorf("stdin = %q", stdin)
	}
}

func TestCLIBackend_ResolvesManifestVoice(t *testing.T) {
	dir := t.TempDir()
	voiceFile := filepath.Join(dir, "calm.safetensors")
	if err := os.WriteFile(voiceFile, []byte("v"), 0o644); err != nil {
		t.Fatal(err)
	}
	manifest := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(manifest, []byte(`{"voices":[{"id":"calm","path":"calm.safetensors"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	vm, err := NewVoiceManager(manifest)
	if err != nil {
		t.Fatal(err)
	}

	b := NewCLIBackend(CLIOptions{Voices: vm})

	args := strings.Join(b.args("calm"), " ")
	if !strings.Contains(args, "--voice "+voiceFile) {
		t.Errorf("args = %q; want resolved voice path", args)
	}

	args = strings.Join(b.args("builtin"), " ")
	if !strings.Contains(args, "--voice builtin") {
		t.Errorf("args = %q; want raw voice name", args)
	}
}

func TestCLIBackend_Errors(t *testing.T) {
	t.Run("missing executable", func(t *testing.T) {
		b := NewCLIBackend(CLIOptions{ExecutablePath: "/nonexistent/pocket-tts"})

		_, err := b.Synthesize(context.Background(), "x", "")
		if !errors.Is(err, narration.ErrBackendUnavailable) {
			t.Fatalf("err = %v; want ErrBackendUnavailable", err)
		}
	})

	t.Run("non-zero exit", func(t *testing.T) {
		exe := testutil.FakeExecutable(t, "pocket-tts", `echo "text too weird" >&2
exit 3`)
		b := NewCLIBackend(CLIOptions{ExecutablePath: exe})

		_, err := b.Synthesize(context.Background(), "x", "")

		var se *narration.SynthesisError
		if !errors.As(err, &se) || se.Kind != narration.InvalidInput {
			t.Fatalf("err = %v; want InvalidInput", err)
		}

		if !strings.Contains(err.Error(), "text too weird") {
			t.Errorf("error %q does not include stderr", err)
		}
	})

	t.Run("cancelled while waiting for slot", func(t *testing.T) {
		b := NewCLIBackend(CLIOptions{ExecutablePath: "/bin/true", Concurrency: 1})
		b.sem <- struct{}{}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := b.Synthesize(ctx, "x", ""); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v; want context.Canceled", err)
		}
	})
}

func TestNewBackend(t *testing.T) {
	cfg := config.DefaultConfig().TTS

	b, err := NewBackend(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*HTTPBackend); !ok {
		t.Errorf("default backend = %T; want *HTTPBackend", b)
	}

	cfg.Backend = "cli"
	b, err = NewBackend(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*CLIBackend); !ok {
		t.Errorf("cli backend = %T; want *CLIBackend", b)
	}

	cfg.Backend = "onnx"
	if _, err := NewBackend(cfg, nil, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestReadyCheck(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	check := ReadyCheck(NewHTTPBackend(srv.URL))
	if check == nil {
		t.Fatal("HTTP backend has no ready check")
	}
	if err := check(context.Background()); err != nil {
		t.Errorf("healthy server: %v", err)
	}

	healthy.Store(false)
	if err := check(context.Background()); !errors.Is(err, narration.ErrBackendUnavailable) {
		t.Errorf("unhealthy server = %v; want ErrBackendUnavailable", err)
	}

	if ReadyCheck(NewCLIBackend(CLIOptions{})) != nil {
		t.Error("CLI backend should have no ready check")
	}
}
