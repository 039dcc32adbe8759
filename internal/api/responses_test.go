package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snarg/meetscribe/internal/credentials"
	"github.com/snarg/meetscribe/internal/transcribe"
)

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind transcribe.Kind
		want int
	}{
		{transcribe.KindUnknownModel, http.StatusNotFound},
		{transcribe.KindModelUnavailable, http.StatusConflict},
		{transcribe.KindCredentialRequired, http.StatusPreconditionFailed},
		{transcribe.KindBackendError, http.StatusBadGateway},
		{transcribe.KindUnsupportedOperation, http.StatusUnprocessableEntity},
		{transcribe.KindTimedOut, http.StatusGatewayTimeout},
		{transcribe.KindInvalidAudio, http.StatusBadRequest},
		{transcribe.KindBusy, http.StatusServiceUnavailable},
		{transcribe.Kind(0), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := StatusForKind(tt.kind); got != tt.want {
				t.Errorf("StatusForKind(%v) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestWriteTranscribeError(t *testing.T) {
	t.Run("backend_error_carries_status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := fmt.Errorf("job 1: %w", &transcribe.Error{
			Kind:     transcribe.KindBackendError,
			Model:    "deepgram-nova-3",
			Provider: "deepgram",
			Status:   429,
			Msg:      "API error",
		})
		WriteTranscribeError(rec, err)
		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", rec.Code)
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("response is not valid JSON: %v", err)
		}
		if body.Code != "backend_error" {
			t.Errorf("code = %q, want backend_error", body.Code)
		}
		if body.Model != "deepgram-nova-3" {
			t.Errorf("model = %q, want deepgram-nova-3", body.Model)
		}
		if body.Status != 429 {
			t.Errorf("backend_status = %d, want 429", body.Status)
		}
	})

	t.Run("credential_required", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteTranscribeError(rec, &transcribe.Error{Kind: transcribe.KindCredentialRequired, Model: "openai-whisper-1"})
		if rec.Code != http.StatusPreconditionFailed {
			t.Errorf("expected 412, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "credential_required") {
			t.Errorf("body missing kind: %s", rec.Body.String())
		}
	})

	t.Run("empty_group", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteTranscribeError(rec, credentials.ErrEmptyGroup)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("plain_error_is_500", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteTranscribeError(rec, errors.New("disk gone"))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		var body ErrorResponse
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Code != CodeInternal {
			t.Errorf("code = %q, want %q", body.Code, CodeInternal)
		}
	})
}

func TestQueryLimit(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    int
		wantErr bool
	}{
		{"default", "", 50, false},
		{"valid", "limit=10", 10, false},
		{"max", "limit=200", 200, false},
		{"over_max", "limit=201", 0, true},
		{"zero", "limit=0", 0, true},
		{"non_numeric", "limit=abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?"+tt.query, nil)
			got, err := QueryLimit(req, 50, 200)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("QueryLimit = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestQueryBool(t *testing.T) {
	tests := []struct {
		query  string
		want   bool
		wantOK bool
	}{
		{"", false, false},
		{"flag=true", true, true},
		{"flag=0", false, true},
		{"flag=maybe", false, false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/?"+tt.query, nil)
		got, ok := QueryBool(req, "flag")
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("QueryBool(%q) = (%v, %v), want (%v, %v)", tt.query, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestQueryStringList(t *testing.T) {
	req := httptest.NewRequest("GET", "/?types=job,%20model,,credentials", nil)
	got := QueryStringList(req, "types")
	want := []string{"job", "model", "credentials"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := QueryStringList(httptest.NewRequest("GET", "/", nil), "types"); got != nil {
		t.Errorf("missing param = %v, want nil", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Model string `json:"model"`
	}

	req := httptest.NewRequest("PUT", "/", strings.NewReader(`{"model":"groq-whisper"}`))
	if err := DecodeJSON(req, &v); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if v.Model != "groq-whisper" {
		t.Errorf("Model = %q, want groq-whisper", v.Model)
	}

	req = httptest.NewRequest("PUT", "/", strings.NewReader(`{"model":"x","extra":1}`))
	if err := DecodeJSON(req, &v); err == nil {
		t.Error("expected error for unknown field")
	}
}
