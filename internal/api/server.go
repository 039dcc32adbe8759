// Package api serves the meetscribe HTTP API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/config"
	"github.com/snarg/meetscribe/internal/events"
	"github.com/snarg/meetscribe/internal/metrics"
	"github.com/snarg/meetscribe/internal/registry"
	"github.com/snarg/meetscribe/internal/storage"
	"github.com/snarg/meetscribe/internal/summary"
	"github.com/snarg/meetscribe/internal/transcribe"
)

// Router is the routing surface the API drives. Satisfied by
// *transcribe.Router.
type Router interface {
	Models(ctx context.Context) []transcribe.ModelStatus
	GetActiveModel(ctx context.Context) (registry.Model, error)
	SetActiveModel(ctx context.Context, id string) error
	SetCredential(ctx context.Context, group, secret string) error
	GetCredential(ctx context.Context, group string) (string, bool, error)
	Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Result, error)
}

// JobQueue runs async transcriptions. Satisfied by *transcribe.Pool.
type JobQueue interface {
	Enqueue(j transcribe.Job) (string, error)
	Job(ctx context.Context, id string) (*transcribe.JobRecord, error)
	Stats() transcribe.QueueStats
}

// JobSearcher runs full-text queries over finished transcripts. Only the
// Postgres job store provides it.
type JobSearcher interface {
	SearchJobs(ctx context.Context, query string, limit int) ([]transcribe.JobRecord, error)
}

// Summarizer produces meeting summaries. Satisfied by *summary.Generator.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (*summary.Summary, error)
}

// AutoTranscriber exposes the inbox auto-transcribe toggle.
type AutoTranscriber interface {
	AutoTranscribe() bool
	SetAutoTranscribe(on bool)
}

// Options wires the server to its collaborators. Results, Search, Summarizer
// and Inbox are optional.
type Options struct {
	Config     *config.Config
	Router     Router
	Jobs       JobQueue
	Results    transcribe.ResultStore
	Search     JobSearcher
	Store      storage.RecordingStore
	Summarizer Summarizer
	Bus        *events.Bus
	Inbox      AutoTranscriber
	Health     *HealthHandler
	Log        zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// NewHandler builds the routed handler without binding a listener.
func NewHandler(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORSWithOrigins(opts.Config.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	if opts.Health != nil {
		r.Get("/api/v1/health", opts.Health.ServeHTTP)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(opts.Config.AuthToken))

		NewModelsHandler(opts.Router, opts.Bus).Routes(r)
		NewTranscriptionsHandler(opts).Routes(r)
		NewSettingsHandler(opts.Inbox).Routes(r)
		if opts.Summarizer != nil {
			NewSummariesHandler(opts.Summarizer, opts.Jobs).Routes(r)
		}
		if opts.Bus != nil {
			NewEventsHandler(opts.Bus).Routes(r)
		}
	})
	return r
}

func NewServer(opts Options) *Server {
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           NewHandler(opts),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
