package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type SettingsHandler struct {
	inbox AutoTranscriber
}

func NewSettingsHandler(inbox AutoTranscriber) *SettingsHandler {
	return &SettingsHandler{inbox: inbox}
}

func (h *SettingsHandler) Routes(r chi.Router) {
	r.Get("/settings/auto-transcribe", h.GetAutoTranscribe)
	r.Put("/settings/auto-transcribe", h.SetAutoTranscribe)
}

func (h *SettingsHandler) GetAutoTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.inbox == nil {
		WriteErrorCode(w, http.StatusServiceUnavailable, CodeUnavailable, "inbox not configured")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"enabled": h.inbox.AutoTranscribe()})
}

func (h *SettingsHandler) SetAutoTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.inbox == nil {
		WriteErrorCode(w, http.StatusServiceUnavailable, CodeUnavailable, "inbox not configured")
		return
	}
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := DecodeJSON(r, &body); err != nil || body.Enabled == nil {
		WriteErrorCode(w, http.StatusBadRequest, CodeInvalidBody, `body must be {"enabled": true|false}`)
		return
	}
	h.inbox.SetAutoTranscribe(*body.Enabled)
	WriteJSON(w, http.StatusOK, map[string]bool{"enabled": *body.Enabled})
}
