package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/events"
	"github.com/snarg/meetscribe/internal/storage"
	"github.com/snarg/meetscribe/internal/transcribe"
)

type TranscriptionsHandler struct {
	router    Router
	jobs      JobQueue
	results   transcribe.ResultStore
	search    JobSearcher
	store     storage.RecordingStore
	bus       *events.Bus
	maxUpload int64
}

func NewTranscriptionsHandler(opts Options) *TranscriptionsHandler {
	return &TranscriptionsHandler{
		router:    opts.Router,
		jobs:      opts.Jobs,
		results:   opts.Results,
		search:    opts.Search,
		store:     opts.Store,
		bus:       opts.Bus,
		maxUpload: opts.Config.MaxUploadMB << 20,
	}
}

func (h *TranscriptionsHandler) Routes(r chi.Router) {
	r.With(MaxBody(h.maxUpload)).Post("/transcriptions", h.Create)
	r.Get("/transcriptions", h.List)
	r.Get("/transcriptions/search", h.Search)
	r.Get("/transcriptions/queue", h.QueueStats)
	r.Get("/transcriptions/{id}", h.Get)
}

// Create accepts a multipart upload (field "file", optional "model",
// "language", "prompt"). The recording is stored first. With ?async=true the
// call returns 202 and a job id; otherwise it blocks until the transcription
// finishes, publishing progress under the request id.
func (h *TranscriptionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			WriteErrorCode(w, http.StatusRequestEntityTooLarge, CodeBadRequest, "upload exceeds size limit")
			return
		}
		WriteErrorCode(w, http.StatusBadRequest, CodeInvalidBody, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteErrorCode(w, http.StatusBadRequest, CodeBadRequest, "missing audio file field \"file\"")
		return
	}
	defer file.Close()

	name := header.Filename
	contentType, err := audio.MIMEType(name)
	if err != nil {
		WriteErrorCode(w, http.StatusBadRequest, transcribe.KindInvalidAudio.String(), err.Error())
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		WriteErrorCode(w, http.StatusBadRequest, CodeInvalidBody, "failed to read audio file")
		return
	}
	if len(data) == 0 {
		WriteErrorCode(w, http.StatusBadRequest, transcribe.KindInvalidAudio.String(), "audio file is empty")
		return
	}

	key := storage.NewKey(time.Now(), name)
	if err := h.store.Save(r.Context(), key, data, contentType); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("key", key).Msg("failed to store recording")
		WriteErrorCode(w, http.StatusInternalServerError, CodeInternal, "failed to store recording")
		return
	}
	src := storage.Source(h.store, key)

	modelID := strings.TrimSpace(r.FormValue("model"))
	opts := transcribe.Options{
		Language: strings.TrimSpace(r.FormValue("language")),
		Prompt:   strings.TrimSpace(r.FormValue("prompt")),
	}

	if async, _ := QueryBool(r, "async"); async {
		id, err := h.jobs.Enqueue(transcribe.Job{Audio: src, ModelID: modelID, Options: opts, Source: "api"})
		switch {
		case errors.Is(err, transcribe.ErrQueueFull):
			WriteErrorCode(w, http.StatusServiceUnavailable, CodeQueueFull, err.Error())
			return
		case err != nil:
			WriteErrorCode(w, http.StatusServiceUnavailable, CodeUnavailable, err.Error())
			return
		}
		w.Header().Set("Location", "/api/v1/transcriptions/"+id)
		WriteJSON(w, http.StatusAccepted, map[string]any{
			"id":     id,
			"status": transcribe.JobQueued,
			"key":    key,
		})
		return
	}

	reqID := w.Header().Get("X-Request-ID")
	res, err := h.router.Transcribe(r.Context(), transcribe.Request{
		Audio:      src,
		ModelID:    modelID,
		Options:    opts,
		OnProgress: h.progressPublisher(reqID),
	})
	if err != nil {
		WriteTranscribeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"key":    key,
		"result": res,
	})
}

func (h *TranscriptionsHandler) progressPublisher(id string) transcribe.ProgressFunc {
	if h.bus == nil {
		return func(transcribe.ProgressEvent) {}
	}
	return func(ev transcribe.ProgressEvent) {
		h.bus.Publish(events.Data{
			Type:    "transcription",
			SubType: "progress",
			JobID:   id,
			Model:   ev.Model,
			Payload: ev,
		})
	}
}

func (h *TranscriptionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.jobs.Job(r.Context(), id)
	if errors.Is(err, transcribe.ErrJobNotFound) {
		WriteErrorCode(w, http.StatusNotFound, CodeNotFound, "transcription job not found")
		return
	}
	if err != nil {
		WriteErrorCode(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// List returns recent finished jobs, newest first.
func (h *TranscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		WriteErrorCode(w, http.StatusServiceUnavailable, CodeUnavailable, "job history not available")
		return
	}
	limit, err := QueryLimit(r, 50, 500)
	if err != nil {
		WriteErrorCode(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	jobs, err := h.results.ListJobs(r.Context(), limit)
	if err != nil {
		WriteErrorCode(w, http.StatusInternalServerError, CodeInternal, "failed to list transcriptions")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"transcriptions": jobs, "total": len(jobs)})
}

// Search runs a full-text query (?q=) over finished transcripts.
func (h *TranscriptionsHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		WriteErrorCode(w, http.StatusServiceUnavailable, CodeUnavailable, "search requires DATABASE_URL")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		WriteErrorCode(w, http.StatusBadRequest, CodeBadRequest, "q is required")
		return
	}
	limit, err := QueryLimit(r, 20, 200)
	if err != nil {
		WriteErrorCode(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	hits, err := h.search.SearchJobs(r.Context(), q, limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("transcription search failed")
		WriteErrorCode(w, http.StatusInternalServerError, CodeInternal, "search failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"transcriptions": hits, "total": len(hits)})
}

func (h *TranscriptionsHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.jobs.Stats())
}
