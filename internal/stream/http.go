package stream

import (
	"log/slog"
	"net/http"

	"github.com/example/go-lullaby/internal/audio"
)

// WAVHandler serves the live mix as an open-ended 16-bit PCM WAV stream.
type WAVHandler struct {
	broadcaster *Broadcaster
	sampleRate  int
	logger      *slog.Logger
}

func NewWAVHandler(b *Broadcaster, sampleRate int, logger *slog.Logger) *WAVHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WAVHandler{broadcaster: b, sampleRate: sampleRate, logger: logger}
}

func (h *WAVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.logger.Info("stream listener connected", "listeners", h.broadcaster.ListenerCount())
	defer h.logger.Info("stream listener disconnected")

	if _, err := audio.WriteStreamHeader(w, h.sampleRate); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-listener.Done():
			return
		case frame := <-listener.C:
			if _, err := audio.WritePCM16Samples(w, frame); err != nil {
				h.logger.Debug("stream write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
