package transcribe

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
)

// SpeechAdapter handles the speech-api family by dispatching on the model's
// provider to a backend that speaks that vendor's protocol.
type SpeechAdapter struct {
	backends map[string]Adapter
}

// NewSpeechAdapter creates a dispatcher over provider-keyed backends.
func NewSpeechAdapter(backends map[string]Adapter) *SpeechAdapter {
	b := make(map[string]Adapter, len(backends))
	for k, v := range backends {
		b[k] = v
	}
	return &SpeechAdapter{backends: b}
}

// Providers lists the providers with a registered backend.
func (s *SpeechAdapter) Providers() []string {
	out := make([]string, 0, len(s.backends))
	for k := range s.backends {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *SpeechAdapter) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	b, ok := s.backends[req.Model.Provider]
	if !ok {
		return nil, &Error{
			Kind:     KindModelUnavailable,
			Model:    req.Model.ID,
			Provider: req.Model.Provider,
			Msg:      "no speech backend configured for provider",
		}
	}
	return b.Transcribe(ctx, req, onPhase)
}

// doJSON performs req and returns the body, mapping non-2xx to an API error.
func doJSON(client *http.Client, provider string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, backendErr(provider, "request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backendErr(provider, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiError(provider, resp.StatusCode, body)
	}
	return body, nil
}

// logprobConfidence converts a Whisper avg_logprob into a [0, 1] score.
// Zero means the backend did not report one.
func logprobConfidence(avgLogprob float64) *float64 {
	if avgLogprob == 0 {
		return nil
	}
	c := math.Exp(avgLogprob)
	if c > 1 {
		c = 1
	}
	return &c
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func decodeErr(provider string, err error) error {
	return backendErr(provider, fmt.Sprintf("decode %s response", provider), err)
}
