package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/snarg/meetscribe/internal/audio"
)

const HuggingFaceBaseURL = "https://api-inference.huggingface.co/models/"

// HuggingFaceClient calls the hosted inference API with raw audio bytes.
type HuggingFaceClient struct {
	baseURL string
	client  *http.Client
}

func NewHuggingFaceClient(baseURL string, timeout time.Duration) *HuggingFaceClient {
	if baseURL == "" {
		baseURL = HuggingFaceBaseURL
	}
	return &HuggingFaceClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type huggingFaceResponse struct {
	Text   string `json:"text"`
	Chunks []struct {
		Timestamp []*float64 `json:"timestamp"` // [start, end], end may be null
		Text      string     `json:"text"`
	} `json:"chunks"`
}

func (hf *HuggingFaceClient) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	const provider = "huggingface"

	rc, err := req.Audio.Open(ctx)
	if err != nil {
		return nil, &Error{Kind: KindInvalidAudio, Provider: provider, Msg: "open audio", Err: err}
	}
	defer rc.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(hf.baseURL, req.Model.BackendModel), rc)
	if err != nil {
		return nil, backendErr(provider, "create request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	httpReq.Header.Set("Content-Type", audio.MIMETypeOr(req.Audio.Name(), "application/octet-stream"))

	onPhase(PhaseUploading, 20, "Uploading audio to Hugging Face")
	body, err := doJSON(hf.client, provider, httpReq)
	if err != nil {
		return nil, err
	}

	var result huggingFaceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, decodeErr(provider, err)
	}

	var segs []Segment
	for _, c := range result.Chunks {
		if len(c.Timestamp) != 2 || c.Timestamp[0] == nil {
			continue
		}
		s := Segment{Text: c.Text, Start: *c.Timestamp[0], End: *c.Timestamp[0]}
		if c.Timestamp[1] != nil {
			s.End = *c.Timestamp[1]
		}
		segs = append(segs, s)
	}
	return &Raw{Text: result.Text, Segments: tidySegments(segs)}, nil
}
