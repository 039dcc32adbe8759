package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/meetscribe/internal/summary"
	"github.com/snarg/meetscribe/internal/transcribe"
)

type SummariesHandler struct {
	summarizer Summarizer
	jobs       JobQueue
}

func NewSummariesHandler(s Summarizer, jobs JobQueue) *SummariesHandler {
	return &SummariesHandler{summarizer: s, jobs: jobs}
}

func (h *SummariesHandler) Routes(r chi.Router) {
	r.Post("/summaries", h.Create)
}

// Create summarizes either the given text or a completed job's transcript.
func (h *SummariesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text  string `json:"text"`
		JobID string `json:"job_id"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorCode(w, http.StatusBadRequest, CodeInvalidBody, "invalid JSON body: "+err.Error())
		return
	}

	text := strings.TrimSpace(body.Text)
	if text == "" && body.JobID != "" {
		rec, err := h.jobs.Job(r.Context(), body.JobID)
		if errors.Is(err, transcribe.ErrJobNotFound) {
			WriteErrorCode(w, http.StatusNotFound, CodeNotFound, "transcription job not found")
			return
		}
		if err != nil {
			WriteErrorCode(w, http.StatusInternalServerError, CodeInternal, err.Error())
			return
		}
		if rec.Status != transcribe.JobCompleted || rec.Result == nil {
			WriteErrorCode(w, http.StatusConflict, CodeBadRequest, "transcription job has not completed")
			return
		}
		text = rec.Result.Text
	}
	if text == "" {
		WriteErrorCode(w, http.StatusBadRequest, CodeBadRequest, "text or job_id is required")
		return
	}

	s, err := h.summarizer.Summarize(r.Context(), text)
	if errors.Is(err, summary.ErrEmptyTranscript) {
		WriteErrorCode(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if err != nil {
		WriteTranscribeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s)
}
