package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/meetscribe/internal/events"
)

type ModelsHandler struct {
	router Router
	bus    *events.Bus
}

func NewModelsHandler(router Router, bus *events.Bus) *ModelsHandler {
	return &ModelsHandler{router: router, bus: bus}
}

func (h *ModelsHandler) Routes(r chi.Router) {
	r.Get("/models", h.ListModels)
	r.Get("/models/active", h.GetActive)
	r.Put("/models/active", h.SetActive)
	r.Get("/credentials/{group}", h.GetCredential)
	r.Put("/credentials/{group}", h.SetCredential)
}

// ListModels returns the catalog with configured/active flags. ?available=true
// and ?configured=true narrow the list.
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	onlyAvailable, _ := QueryBool(r, "available")
	onlyConfigured, _ := QueryBool(r, "configured")
	family := r.URL.Query().Get("family")

	all := h.router.Models(r.Context())
	out := all[:0:0]
	for _, m := range all {
		if onlyAvailable && !m.Available {
			continue
		}
		if onlyConfigured && !m.Configured {
			continue
		}
		if family != "" && string(m.Family) != family {
			continue
		}
		out = append(out, m)
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"models": out,
		"total":  len(out),
	})
}

func (h *ModelsHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	m, err := h.router.GetActiveModel(r.Context())
	if err != nil {
		WriteTranscribeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, m)
}

func (h *ModelsHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Model string `json:"model"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorCode(w, http.StatusBadRequest, CodeInvalidBody, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Model) == "" {
		WriteErrorCode(w, http.StatusBadRequest, CodeBadRequest, "model is required")
		return
	}
	if err := h.router.SetActiveModel(r.Context(), body.Model); err != nil {
		WriteTranscribeError(w, err)
		return
	}
	m, err := h.router.GetActiveModel(r.Context())
	if err != nil {
		WriteTranscribeError(w, err)
		return
	}
	h.publish("model", "active", m.ID, map[string]any{"model": m.ID})
	WriteJSON(w, http.StatusOK, m)
}

// GetCredential reports whether a group has a secret. The secret itself is
// never returned.
func (h *ModelsHandler) GetCredential(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	_, ok, err := h.router.GetCredential(r.Context(), group)
	if err != nil {
		WriteTranscribeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"group": group, "configured": ok})
}

// SetCredential stores a secret for a group. An empty secret clears it.
func (h *ModelsHandler) SetCredential(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	var body struct {
		Secret string `json:"secret"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorCode(w, http.StatusBadRequest, CodeInvalidBody, "invalid JSON body: "+err.Error())
		return
	}
	if err := h.router.SetCredential(r.Context(), group, body.Secret); err != nil {
		WriteTranscribeError(w, err)
		return
	}
	configured := strings.TrimSpace(body.Secret) != ""
	h.publish("credentials", "updated", "", map[string]any{"group": group, "configured": configured})
	WriteJSON(w, http.StatusOK, map[string]any{"group": group, "configured": configured})
}

func (h *ModelsHandler) publish(typ, sub, model string, payload map[string]any) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(events.Data{Type: typ, SubType: sub, Model: model, Payload: payload})
}
