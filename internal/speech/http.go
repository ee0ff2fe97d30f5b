// Package speech implements narration backends on top of pocket-tts: an HTTP
// client for a running server and a subprocess runner for the CLI.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/go-lullaby/internal/audio"
	"github.com/example/go-lullaby/internal/narration"
)

const maxErrorBody = 4 << 10

// HTTPBackend posts text to a pocket-tts compatible server's /tts endpoint
// and receives WAV audio.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// HTTPOption configures an HTTPBackend.
type HTTPOption func(*HTTPBackend)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) {
		if c != nil {
			b.client = c
		}
	}
}

// WithTimeout bounds each synthesis request.
func WithTimeout(d time.Duration) HTTPOption {
	return func(b *HTTPBackend) { b.timeout = d }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(b *HTTPBackend) {
		if l != nil {
			b.logger = l
		}
	}
}

func NewHTTPBackend(baseURL string, opts ...HTTPOption) *HTTPBackend {
	b := &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: 60 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

func (b *HTTPBackend) Synthesize(ctx context.Context, text, voice string) (narration.Clip, error) {
	body, err := json.Marshal(ttsRequest{Text: text, Voice: voice})
	if err != nil {
		return narration.Clip{}, narration.NewSynthesisError(narration.InvalidInput, err)
	}

	reqCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, b.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return narration.Clip{}, narration.NewSynthesisError(narration.Unavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := b.client.Do(req)
	if err != nil {
		// Caller cancellation is not a backend fault.
		if ctx.Err() != nil {
			return narration.Clip{}, ctx.Err()
		}
		return narration.Clip{}, narration.NewSynthesisError(narration.Unavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return narration.Clip{}, statusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return narration.Clip{}, ctx.Err()
		}
		return narration.Clip{}, narration.NewSynthesisError(narration.Unavailable, fmt.Errorf("read audio: %w", err))
	}

	return newClip(data)
}

// Release is a no-op: audio is returned inline and nothing is held remotely.
func (b *HTTPBackend) Release(_ context.Context, handle string) error {
	b.logger.Debug("clip released", "handle", handle)
	return nil
}

// Ping checks the server's /health endpoint.
func (b *HTTPBackend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return narration.NewSynthesisError(narration.Unavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return narration.NewSynthesisError(narration.Unavailable, fmt.Errorf("unexpected health status: %s", resp.Status))
	}

	return nil
}

func statusError(resp *http.Response) error {
	msg := readErrorMessage(resp.Body)
	err := fmt.Errorf("%s: %s", resp.Status, msg)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return narration.NewSynthesisError(narration.RateLimited, err)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusRequestEntityTooLarge,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return narration.NewSynthesisError(narration.InvalidInput, err)
	default:
		return narration.NewSynthesisError(narration.Unavailable, err)
	}
}

// readErrorMessage extracts {"error": "..."} bodies, falling back to the
// raw text.
func readErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}

	return strings.TrimSpace(string(raw))
}

// newClip validates WAV bytes and wraps them in a clip with a fresh handle.
func newClip(data []byte) (narration.Clip, error) {
	samples, err := audio.DecodeWAV(data)
	if err != nil {
		return narration.Clip{}, narration.NewSynthesisError(narration.Unavailable, fmt.Errorf("invalid audio from backend: %w", err))
	}
	if len(samples) == 0 {
		return narration.Clip{}, narration.NewSynthesisError(narration.Unavailable, errors.New("backend returned no audio"))
	}

	return narration.Clip{
		Handle:   uuid.NewString(),
		Audio:    data,
		Duration: audio.Duration(len(samples), audio.ExpectedSampleRate),
	}, nil
}
