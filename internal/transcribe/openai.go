package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/snarg/meetscribe/internal/audio"
)

// Default base URLs for the OpenAI-compatible transcription APIs.
const (
	OpenAIBaseURL   = "https://api.openai.com/v1/"
	GroqBaseURL     = "https://api.groq.com/openai/v1/"
	TogetherBaseURL = "https://api.together.xyz/v1/"
)

// OpenAICompatClient calls /audio/transcriptions on any OpenAI-compatible
// API (OpenAI, Groq, Together) and requests verbose_json segments.
type OpenAICompatClient struct {
	provider   string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAICompatClient creates a backend for provider at baseURL.
// httpClient may be nil.
func NewOpenAICompatClient(provider, baseURL string, httpClient *http.Client) *OpenAICompatClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &OpenAICompatClient{provider: provider, baseURL: baseURL, httpClient: httpClient}
}

// verboseTranscription is the verbose_json response body.
type verboseTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (v *verboseTranscription) raw() *Raw {
	var segs []Segment
	for _, s := range v.Segments {
		segs = append(segs, Segment{Text: s.Text, Start: s.Start, End: s.End, Confidence: logprobConfidence(s.AvgLogprob)})
	}
	return &Raw{
		Text:     strings.TrimSpace(v.Text),
		Segments: tidySegments(segs),
		Language: v.Language,
		Duration: v.Duration,
	}
}

func (c *OpenAICompatClient) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	rc, err := req.Audio.Open(ctx)
	if err != nil {
		return nil, &Error{Kind: KindInvalidAudio, Provider: c.provider, Msg: "open audio", Err: err}
	}
	defer rc.Close()

	opts := []option.RequestOption{
		option.WithAPIKey(req.Credential),
		option.WithBaseURL(c.baseURL),
		option.WithMaxRetries(0),
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	client := openai.NewClient(opts...)

	params := openai.AudioTranscriptionNewParams{
		File:           openai.File(rc, req.Audio.Name(), audio.MIMETypeOr(req.Audio.Name(), "audio/mp4")),
		Model:          openai.AudioModel(req.Model.BackendModel),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	if req.Options.Language != "" {
		params.Language = param.NewOpt(req.Options.Language)
	}
	if req.Options.Prompt != "" {
		params.Prompt = param.NewOpt(req.Options.Prompt)
	}

	onPhase(PhaseUploading, 20, "Uploading audio to "+c.provider)
	resp, err := client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &Error{Kind: KindBackendError, Provider: c.provider, Msg: "API error",
				Status: apiErr.StatusCode, Body: snippet([]byte(apiErr.RawJSON()))}
		}
		return nil, backendErr(c.provider, "transcription request", err)
	}

	onPhase(PhaseProcessing, 90, "Parsing transcript")
	var v verboseTranscription
	if err := json.Unmarshal([]byte(resp.RawJSON()), &v); err != nil {
		return nil, decodeErr(c.provider, err)
	}
	return v.raw(), nil
}
