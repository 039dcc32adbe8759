package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/snarg/meetscribe/internal/credentials"
	"github.com/snarg/meetscribe/internal/transcribe"
)

// Machine-readable error codes. Transcription failures use the error kind's
// name instead.
const (
	CodeBadRequest   = "bad_request"
	CodeInvalidBody  = "invalid_body"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeQueueFull    = "queue_full"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Model  string `json:"model,omitempty"`
	Status int    `json:"backend_status,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorCode writes a JSON error response with a machine-readable code.
func WriteErrorCode(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// StatusForKind maps a transcription error kind to an HTTP status.
func StatusForKind(k transcribe.Kind) int {
	switch k {
	case transcribe.KindUnknownModel:
		return http.StatusNotFound
	case transcribe.KindModelUnavailable:
		return http.StatusConflict
	case transcribe.KindCredentialRequired:
		return http.StatusPreconditionFailed
	case transcribe.KindBackendError:
		return http.StatusBadGateway
	case transcribe.KindUnsupportedOperation:
		return http.StatusUnprocessableEntity
	case transcribe.KindTimedOut:
		return http.StatusGatewayTimeout
	case transcribe.KindInvalidAudio:
		return http.StatusBadRequest
	case transcribe.KindBusy:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteTranscribeError renders err using its kind when it is a
// *transcribe.Error, else as a 500.
func WriteTranscribeError(w http.ResponseWriter, err error) {
	var te *transcribe.Error
	if errors.As(err, &te) {
		WriteJSON(w, StatusForKind(te.Kind), ErrorResponse{
			Error:  te.Error(),
			Code:   te.Kind.String(),
			Model:  te.Model,
			Status: te.Status,
		})
		return
	}
	if errors.Is(err, credentials.ErrEmptyGroup) {
		WriteErrorCode(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	WriteErrorCode(w, http.StatusInternalServerError, CodeInternal, err.Error())
}

// QueryLimit parses ?limit= within [1, max], defaulting to def.
func QueryLimit(r *http.Request, def, max int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q: must be an integer", v)
	}
	if n < 1 || n > max {
		return 0, fmt.Errorf("invalid limit %d: must be between 1 and %d", n, max)
	}
	return n, nil
}

// QueryBool extracts a boolean query parameter.
func QueryBool(r *http.Request, name string) (bool, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// QueryStringList extracts a comma-separated list of strings from a query param.
func QueryStringList(r *http.Request, name string) []string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	var result []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
