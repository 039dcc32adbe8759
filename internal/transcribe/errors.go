package transcribe

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a transcription failure so callers can branch on it.
type Kind int

const (
	KindUnknownModel Kind = iota + 1
	KindModelUnavailable
	KindCredentialRequired
	KindBackendError
	KindUnsupportedOperation
	KindTimedOut
	KindInvalidAudio
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindUnknownModel:
		return "unknown_model"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindCredentialRequired:
		return "credential_required"
	case KindBackendError:
		return "backend_error"
	case KindUnsupportedOperation:
		return "unsupported_operation"
	case KindTimedOut:
		return "transcription_timed_out"
	case KindInvalidAudio:
		return "invalid_audio"
	case KindBusy:
		return "engine_busy"
	}
	return "unknown"
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrUnknownModel         = &Error{Kind: KindUnknownModel}
	ErrModelUnavailable     = &Error{Kind: KindModelUnavailable}
	ErrCredentialRequired   = &Error{Kind: KindCredentialRequired}
	ErrBackend              = &Error{Kind: KindBackendError}
	ErrUnsupportedOperation = &Error{Kind: KindUnsupportedOperation}
	ErrTimedOut             = &Error{Kind: KindTimedOut}
	ErrInvalidAudio         = &Error{Kind: KindInvalidAudio}
	ErrBusy                 = &Error{Kind: KindBusy}
)

// maxBodySnippet bounds how much of a backend response body is kept.
const maxBodySnippet = 512

// Error is the failure type returned by the router and adapters.
type Error struct {
	Kind     Kind
	Model    string
	Provider string
	Status   int    // HTTP status from the backend, 0 if none
	Body     string // truncated backend error body
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	} else if e.Model != "" {
		b.WriteString(e.Model)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	default:
		b.WriteString(strings.ReplaceAll(e.Kind.String(), "_", " "))
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Model == "" && t.Provider == "" && t.Msg == "" && t.Err == nil
}

// KindOf extracts the Kind from err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxBodySnippet {
		s = s[:maxBodySnippet] + "..."
	}
	return s
}

// apiError builds a BackendError for a non-2xx HTTP response.
func apiError(provider string, status int, body []byte) *Error {
	return &Error{Kind: KindBackendError, Provider: provider, Msg: "API error", Status: status, Body: snippet(body)}
}

// backendErr wraps a transport or decoding failure.
func backendErr(provider, msg string, err error) *Error {
	return &Error{Kind: KindBackendError, Provider: provider, Msg: msg, Err: err}
}

// asError wraps err as a BackendError unless it already carries a kind.
func asError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Provider == "" {
			e.Provider = provider
		}
		return e
	}
	return backendErr(provider, "request failed", err)
}
