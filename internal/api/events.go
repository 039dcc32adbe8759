package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/meetscribe/internal/events"
)

type EventsHandler struct {
	bus *events.Bus
}

func NewEventsHandler(bus *events.Bus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

// StreamEvents opens an SSE connection and pushes filtered events. Filters:
// ?types=transcription:progress,model  ?jobs=id1,id2  ?models=whisper-base
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	filter := events.Filter{
		Types:  QueryStringList(r, "types"),
		Jobs:   QueryStringList(r, "jobs"),
		Models: QueryStringList(r, "models"),
	}

	// Streams outlive the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("cannot clear write deadline")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.bus.Subscribe(filter)
	defer cancel()

	replayed := map[string]bool{}
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.bus.ReplaySince(lastEventID, filter) {
			writeEvent(w, e)
			replayed[e.ID] = true
		}
	}
	if err := rc.Flush(); err != nil {
		return
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if replayed[event.ID] {
				delete(replayed, event.ID)
				continue
			}
			writeEvent(w, event)
			rc.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			rc.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e events.Event) {
	name := e.Type
	if e.SubType != "" {
		name += "." + e.SubType
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, name, e.Data)
}

func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}
