package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/snarg/meetscribe/internal/audio"
)

const AssemblyAIBaseURL = "https://api.assemblyai.com"

// AssemblyAIClient uploads audio, submits a transcript job, and polls it.
type AssemblyAIClient struct {
	baseURL    string
	httpClient *http.Client
	poll       PollConfig
}

// NewAssemblyAIClient creates the backend. A zero PollConfig polls every 3s
// for up to 10 minutes.
func NewAssemblyAIClient(baseURL string, httpClient *http.Client, pc PollConfig) *AssemblyAIClient {
	if baseURL == "" {
		baseURL = AssemblyAIBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &AssemblyAIClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		poll:       pc.withDefaults(3*time.Second, 200),
	}
}

type assemblyTranscript struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Text          string  `json:"text"`
	Error         string  `json:"error"`
	LanguageCode  string  `json:"language_code"`
	AudioDuration float64 `json:"audio_duration"`
	Words         []struct {
		Text       string  `json:"text"`
		Start      int64   `json:"start"` // ms
		End        int64   `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

func (c *AssemblyAIClient) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	const provider = "assemblyai"

	data, err := audio.ReadAll(ctx, req.Audio)
	if err != nil {
		return nil, &Error{Kind: KindInvalidAudio, Provider: provider, Msg: "read audio", Err: err}
	}

	onPhase(PhaseUploading, 10, "Uploading audio to AssemblyAI")
	uploadReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.baseURL, "/v2/upload"), bytes.NewReader(data))
	if err != nil {
		return nil, backendErr(provider, "create upload request", err)
	}
	uploadReq.Header.Set("authorization", req.Credential)
	uploadReq.Header.Set("Content-Type", "application/octet-stream")
	body, err := doJSON(c.httpClient, provider, uploadReq)
	if err != nil {
		return nil, err
	}
	var upload struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.Unmarshal(body, &upload); err != nil {
		return nil, decodeErr(provider, err)
	}

	submit := map[string]any{"audio_url": upload.UploadURL, "speaker_labels": true}
	if req.Options.Language != "" {
		submit["language_code"] = req.Options.Language
	}
	payload, _ := json.Marshal(submit)
	submitReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.baseURL, "/v2/transcript"), bytes.NewReader(payload))
	if err != nil {
		return nil, backendErr(provider, "create submit request", err)
	}
	submitReq.Header.Set("authorization", req.Credential)
	submitReq.Header.Set("Content-Type", "application/json")
	body, err = doJSON(c.httpClient, provider, submitReq)
	if err != nil {
		return nil, err
	}
	var job assemblyTranscript
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, decodeErr(provider, err)
	}
	if job.ID == "" {
		return nil, backendErr(provider, "submit returned no transcript id", nil)
	}

	onPhase(PhaseProcessing, 30, "Waiting for AssemblyAI")
	statusURL := joinURL(c.baseURL, "/v2/transcript/"+job.ID)
	done, err := poll(ctx, provider, c.poll, func(n uint) (*assemblyTranscript, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return nil, backendErr(provider, "create poll request", err)
		}
		r.Header.Set("authorization", req.Credential)
		b, err := doJSON(c.httpClient, provider, r)
		if err != nil {
			return nil, err
		}
		var t assemblyTranscript
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, decodeErr(provider, err)
		}
		switch t.Status {
		case "completed":
			return &t, nil
		case "error":
			return nil, backendErr(provider, fmt.Sprintf("transcription failed: %s", t.Error), nil)
		}
		onPhase(PhaseProcessing, pollProgress(n, c.poll.MaxAttempts, 30, 90), "Transcribing ("+t.Status+")")
		return nil, errPending
	})
	if err != nil {
		return nil, err
	}

	words := make([]Word, 0, len(done.Words))
	for _, w := range done.Words {
		words = append(words, Word{
			Word:       w.Text,
			Start:      float64(w.Start) / 1000,
			End:        float64(w.End) / 1000,
			Confidence: w.Confidence,
		})
	}
	return &Raw{
		Text:     done.Text,
		Segments: tidySegments(GroupWords(words, done.Text)),
		Language: done.LanguageCode,
		Duration: done.AudioDuration,
	}, nil
}
