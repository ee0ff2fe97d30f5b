package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/go-lullaby/internal/ambient"
)

type ambientRequest struct {
	Effect string   `json:"effect"`
	Volume *float64 `json:"volume"`
}

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

type ambientStatus struct {
	Effect  ambient.Effect      `json:"effect"`
	Volume  float64             `json:"volume"`
	Thunder bool                `json:"thunder"`
	Layers  []ambient.LayerInfo `json:"layers"`
	Effects []ambient.Effect    `json:"effects"`
}

func (h *handler) soundscape(w http.ResponseWriter) (Soundscape, bool) {
	if h.opts.soundscape == nil {
		writeError(w, http.StatusServiceUnavailable, "ambient audio not configured")
		return nil, false
	}
	return h.opts.soundscape, true
}

func (h *handler) ambientStatus(s Soundscape) ambientStatus {
	layers := s.Layers()
	if layers == nil {
		layers = []ambient.LayerInfo{}
	}
	return ambientStatus{
		Effect:  s.Active(),
		Volume:  s.Volume(),
		Thunder: s.ThunderArmed(),
		Layers:  layers,
		Effects: ambient.Effects(),
	}
}

func (h *handler) handleAmbientStatus(w http.ResponseWriter, _ *http.Request) {
	s, ok := h.soundscape(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.ambientStatus(s))
}

func validVolume(v float64) bool {
	return v >= 0 && v <= 1
}

func (h *handler) handleAmbientActivate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.soundscape(w)
	if !ok {
		return
	}

	var req ambientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	volume := h.opts.defaultVolume
	if req.Volume != nil {
		volume = *req.Volume
	}
	if !validVolume(volume) {
		writeError(w, http.StatusBadRequest, "volume must be between 0 and 1")
		return
	}

	effect, err := ambient.ParseEffect(req.Effect)
	if err == nil {
		err = s.Activate(effect, volume)
	}
	if errors.Is(err, ambient.ErrUnknownEffect) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.InfoContext(r.Context(), "ambient requested", "effect", effect, "volume", volume)
	writeJSON(w, http.StatusOK, h.ambientStatus(s))
}

func (h *handler) handleAmbientDeactivate(w http.ResponseWriter, _ *http.Request) {
	s, ok := h.soundscape(w)
	if !ok {
		return
	}
	s.Deactivate()
	writeJSON(w, http.StatusOK, h.ambientStatus(s))
}

func (h *handler) handleAmbientVolume(w http.ResponseWriter, r *http.Request) {
	s, ok := h.soundscape(w)
	if !ok {
		return
	}

	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Volume == nil || !validVolume(*req.Volume) {
		writeError(w, http.StatusBadRequest, "volume must be between 0 and 1")
		return
	}

	s.SetVolume(*req.Volume)
	writeJSON(w, http.StatusOK, h.ambientStatus(s))
}
