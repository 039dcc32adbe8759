package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const DeepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient calls DeepInfra's native inference API for Whisper models.
type DeepInfraClient struct {
	baseURL string
	client  *http.Client
}

// deepInfraResponse is the JSON response from the DeepInfra inference API.
type deepInfraResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	// DeepInfra uses "text" for the word field, not "word" like OpenAI.
	Words []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
	Segments []struct {
		Text       string  `json:"text"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// NewDeepInfraClient creates a DeepInfra inference client.
func NewDeepInfraClient(baseURL string, timeout time.Duration) *DeepInfraClient {
	if baseURL == "" {
		baseURL = DeepInfraBaseURL
	}
	return &DeepInfraClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Transcribe posts the audio under the "audio" form field, DeepInfra's
// convention, to {baseURL}/{model}.
func (di *DeepInfraClient) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	const provider = "deepinfra"

	rc, err := req.Audio.Open(ctx)
	if err != nil {
		return nil, &Error{Kind: KindInvalidAudio, Provider: provider, Msg: "open audio", Err: err}
	}
	defer rc.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio", req.Audio.Name())
	if err != nil {
		return nil, backendErr(provider, "create form file", err)
	}
	if _, err := io.Copy(part, rc); err != nil {
		return nil, &Error{Kind: KindInvalidAudio, Provider: provider, Msg: "copy audio data", Err: err}
	}
	if req.Options.Language != "" {
		w.WriteField("language", req.Options.Language)
	}
	if req.Options.Prompt != "" {
		w.WriteField("initial_prompt", req.Options.Prompt)
	}
	w.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(di.baseURL, req.Model.BackendModel), &buf)
	if err != nil {
		return nil, backendErr(provider, "create request", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential)

	onPhase(PhaseUploading, 20, "Uploading audio to DeepInfra")
	body, err := doJSON(di.client, provider, httpReq)
	if err != nil {
		return nil, err
	}

	var result deepInfraResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, decodeErr(provider, err)
	}

	raw := &Raw{Text: result.Text, Language: result.Language, Duration: result.Duration}
	switch {
	case len(result.Segments) > 0:
		segs := make([]Segment, 0, len(result.Segments))
		for _, s := range result.Segments {
			segs = append(segs, Segment{Text: s.Text, Start: s.Start, End: s.End, Confidence: logprobConfidence(s.AvgLogprob)})
		}
		raw.Segments = tidySegments(segs)
	case len(result.Words) > 0:
		words := make([]Word, len(result.Words))
		for i, dw := range result.Words {
			words[i] = Word{Word: dw.Text, Start: dw.Start, End: dw.End}
		}
		raw.Segments = tidySegments(GroupWords(words, result.Text))
	}
	return raw, nil
}
