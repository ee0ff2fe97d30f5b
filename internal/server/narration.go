package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/example/go-lullaby/internal/narration"
	"github.com/example/go-lullaby/internal/text"
)

func (h *handler) narrator(w http.ResponseWriter) (Narrator, bool) {
	if h.opts.narrator == nil {
		writeError(w, http.StatusServiceUnavailable, "narration not configured")
		return nil, false
	}
	return h.opts.narrator, true
}

func (h *handler) handleNarrationStart(w http.ResponseWriter, r *http.Request) {
	n, ok := h.narrator(w)
	if !ok {
		return
	}
	h.beginNarration(w, r, n.Start, "narration requested")
}

func (h *handler) handleNarrationEnqueue(w http.ResponseWriter, r *http.Request) {
	n, ok := h.narrator(w)
	if !ok {
		return
	}
	h.beginNarration(w, r, n.Enqueue, "narration queued")
}

func (h *handler) beginNarration(
	w http.ResponseWriter,
	r *http.Request,
	begin func(ctx context.Context, input, voice string) (string, error),
	msg string,
) {
	req, ok := h.decodeText(w, r)
	if !ok {
		return
	}

	id, err := begin(h.opts.baseCtx, req.Text, req.Voice)
	switch {
	case errors.Is(err, text.ErrEmptyText):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, narration.ErrClosed), errors.Is(err, narration.ErrBackendUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.InfoContext(r.Context(), msg,
		"narration", id,
		"voice", req.Voice,
		"text_len", len(req.Text),
	)

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *handler) handleNarrationStop(w http.ResponseWriter, _ *http.Request) {
	n, ok := h.narrator(w)
	if !ok {
		return
	}
	n.Stop()
	writeJSON(w, http.StatusOK, n.Status())
}

func (h *handler) handleNarrationStatus(w http.ResponseWriter, _ *http.Request) {
	n, ok := h.narrator(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, n.Status())
}
