package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/meetscribe/internal/ingest"
	"github.com/snarg/meetscribe/internal/transcribe"
)

type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Checks        map[string]string      `json:"checks"`
	Queue         *transcribe.QueueStats `json:"queue,omitempty"`
	Inbox         *ingest.InboxStatus    `json:"inbox,omitempty"`
}

// Pinger is satisfied by *database.DB.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Connector is satisfied by *mqttclient.Client.
type Connector interface {
	IsConnected() bool
}

// HealthOptions lists the dependencies to report on. Nil entries are
// reported as not_configured.
type HealthOptions struct {
	Version   string
	StartTime time.Time
	DB        Pinger
	MQTT      Connector
	Inbox     interface{ Status() ingest.InboxStatus }
	Jobs      interface{ Stats() transcribe.QueueStats }
	StoreType string
}

type HealthHandler struct {
	opts HealthOptions
}

func NewHealthHandler(opts HealthOptions) *HealthHandler {
	return &HealthHandler{opts: opts}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	if h.opts.DB != nil {
		if err := h.opts.DB.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	if h.opts.MQTT != nil {
		if h.opts.MQTT.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Version:       h.opts.Version,
		UptimeSeconds: int64(time.Since(h.opts.StartTime).Seconds()),
		Checks:        checks,
	}

	if h.opts.Inbox != nil {
		st := h.opts.Inbox.Status()
		checks["inbox"] = st.Status
		if st.Status == "stopped" {
			degrade()
		}
		resp.Inbox = &st
	} else {
		checks["inbox"] = "not_configured"
	}

	if h.opts.Jobs != nil {
		qs := h.opts.Jobs.Stats()
		checks["transcription"] = "ok"
		resp.Queue = &qs
	}

	if h.opts.StoreType != "" {
		checks["storage"] = h.opts.StoreType
	}

	resp.Status = status
	WriteJSON(w, httpStatus, resp)
}
