// Package server exposes synthesis, ambient and narration control over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/example/go-lullaby/internal/ambient"
	"github.com/example/go-lullaby/internal/narration"
	"github.com/example/go-lullaby/internal/speech"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// VoiceLister returns the list of available voices.
type VoiceLister interface {
	ListVoices() []speech.Voice
}

// Soundscape controls the ambient synthesizer.
type Soundscape interface {
	Activate(effect ambient.Effect, volume float64) error
	Deactivate()
	SetVolume(level float64)
	Active() ambient.Effect
	Volume() float64
	Layers() []ambient.LayerInfo
	ThunderArmed() bool
}

// Narrator runs background narrations.
type Narrator interface {
	Start(ctx context.Context, input, voice string) (string, error)
	Enqueue(ctx context.Context, input, voice string) (string, error)
	Stop()
	Status() narration.Status
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger

	soundscape    Soundscape
	narrator      Narrator
	stream        http.Handler
	defaultVoice  string
	defaultVolume float64
	baseCtx       context.Context
}

func defaultOptions() options {
	return options{
		maxTextBytes:   16384,
		workers:        2,
		requestTimeout: 60 * time.Second,
		logger:         slog.Default(),
		defaultVolume:  0.3,
		baseCtx:        context.Background(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes for POST
// /tts and POST /narration.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of concurrent synthesis calls.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request synthesis deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSoundscape enables the /ambient routes.
func WithSoundscape(s Soundscape) Option {
	return func(o *options) { o.soundscape = s }
}

// WithNarrator enables the /narration routes.
func WithNarrator(n Narrator) Option {
	return func(o *options) { o.narrator = n }
}

// WithStream serves h at GET /ambient/stream.
func WithStream(h http.Handler) Option {
	return func(o *options) { o.stream = h }
}

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(v string) Option {
	return func(o *options) { o.defaultVoice = v }
}

// WithDefaultVolume sets the ambient volume used when POST /ambient omits it.
func WithDefaultVolume(v float64) Option {
	return func(o *options) { o.defaultVolume = v }
}

// WithBaseContext sets the context background narrations run under.
func WithBaseContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.baseCtx = ctx
		}
	}
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	backend narration.Backend
	voices  VoiceLister
	opts    options
	sem     chan struct{} // semaphore for worker pool
	log     *slog.Logger
}

// NewHandler returns an http.Handler serving /health, /voices and POST /tts,
// plus the ambient and narration routes when those are configured.
func NewHandler(backend narration.Backend, voices VoiceLister, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		backend: backend,
		voices:  voices,
		opts:    opts,
		log:     opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /voices", h.handleVoices)
	mux.HandleFunc("POST /tts", h.handleTTS)

	mux.HandleFunc("GET /ambient", h.handleAmbientStatus)
	mux.HandleFunc("POST /ambient", h.handleAmbientActivate)
	mux.HandleFunc("DELETE /ambient", h.handleAmbientDeactivate)
	mux.HandleFunc("PUT /ambient/volume", h.handleAmbientVolume)
	if opts.stream != nil {
		mux.Handle("GET /ambient/stream", opts.stream)
	}

	mux.HandleFunc("GET /narration", h.handleNarrationStatus)
	mux.HandleFunc("POST /narration", h.handleNarrationStart)
	mux.HandleFunc("POST /narration/queue", h.handleNarrationEnqueue)
	mux.HandleFunc("DELETE /narration", h.handleNarrationStop)

	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	var voices []speech.Voice
	if h.voices != nil {
		voices = h.voices.ListVoices()
	}
	if voices == nil {
		voices = []speech.Voice{}
	}
	writeJSON(w, http.StatusOK, voices)
}

type textRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// decodeText reads and validates a {text, voice} body. It writes the error
// response itself and reports whether the request may proceed.
func (h *handler) decodeText(w http.ResponseWriter, r *http.Request) (textRequest, bool) {
	var req textRequest

	if r.Body == nil || r.Body == http.NoBody {
		writeError(w, http.StatusBadRequest, "request body is required")
		return req, false
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return req, false
	}

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text field is required")
		return req, false
	}

	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return req, false
	}

	if req.Voice == "" {
		req.Voice = h.opts.defaultVoice
	}

	return req, true
}

func (h *handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	if h.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "speech backend not configured")
		return
	}

	req, ok := h.decodeText(w, r)
	if !ok {
		return
	}

	// Acquire a worker slot, honouring cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	clip, err := h.backend.Synthesize(ctx, req.Text, req.Voice)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		status, msg := synthesisStatus(err)
		level := slog.LevelError
		if status != http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		h.log.Log(r.Context(), level, "synthesis failed",
			slog.String("voice", req.Voice),
			slog.Int("text_len", len(req.Text)),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", err.Error()),
		)
		writeError(w, status, msg)
		return
	}
	defer func() {
		if err := h.backend.Release(context.WithoutCancel(r.Context()), clip.Handle); err != nil {
			h.log.Debug("release failed", "error", err)
		}
	}()

	h.log.InfoContext(r.Context(), "synthesis complete",
		slog.String("voice", req.Voice),
		slog.Int("text_len", len(req.Text)),
		slog.Int64("duration_ms", durationMS),
		slog.Int("wav_bytes", len(clip.Audio)),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip.Audio)
}

// synthesisStatus maps a backend error to an HTTP status and message.
func synthesisStatus(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return http.StatusGatewayTimeout, "synthesis timed out"
	}

	var se *narration.SynthesisError
	if errors.As(err, &se) {
		switch se.Kind {
		case narration.InvalidInput:
			return http.StatusBadRequest, err.Error()
		case narration.RateLimited:
			return http.StatusTooManyRequests, err.Error()
		case narration.Unavailable:
			return http.StatusBadGateway, err.Error()
		}
	}

	return http.StatusInternalServerError, err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
