package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/snarg/meetscribe/internal/audio"
)

const (
	ReplicateBaseURL = "https://api.replicate.com"
	// ReplicateWhisperVersion pins the openai/whisper model version.
	ReplicateWhisperVersion = "4d50797290df275329f202e48c76360b3f22b08d28c196cbc54600319435f8d2"
)

// ReplicateClient creates a Whisper prediction and polls it until it
// succeeds or fails.
type ReplicateClient struct {
	baseURL    string
	version    string
	httpClient *http.Client
	poll       PollConfig
}

// NewReplicateClient creates the backend. A zero PollConfig polls every
// second for up to 10 minutes.
func NewReplicateClient(baseURL, version string, httpClient *http.Client, pc PollConfig) *ReplicateClient {
	if baseURL == "" {
		baseURL = ReplicateBaseURL
	}
	if version == "" {
		version = ReplicateWhisperVersion
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &ReplicateClient{
		baseURL:    baseURL,
		version:    version,
		httpClient: httpClient,
		poll:       pc.withDefaults(time.Second, 600),
	}
}

type replicatePrediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  any    `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
	Output *struct {
		Transcription    string `json:"transcription"`
		DetectedLanguage string `json:"detected_language"`
		Segments         []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Text       string  `json:"text"`
			AvgLogprob float64 `json:"avg_logprob"`
		} `json:"segments"`
	} `json:"output"`
}

func (c *ReplicateClient) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	const provider = "replicate"

	data, err := audio.ReadAll(ctx, req.Audio)
	if err != nil {
		return nil, &Error{Kind: KindInvalidAudio, Provider: provider, Msg: "read audio", Err: err}
	}
	mime := audio.MIMETypeOr(req.Audio.Name(), "audio/mp4")

	input := map[string]any{
		"audio":                      "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
		"model":                      "large-v3",
		"transcription":              "plain text",
		"translate":                  false,
		"temperature":                0,
		"suppress_silence":           true,
		"condition_on_previous_text": true,
	}
	if req.Options.Language != "" {
		input["language"] = req.Options.Language
	}
	if req.Options.Prompt != "" {
		input["initial_prompt"] = req.Options.Prompt
	}
	payload, _ := json.Marshal(map[string]any{"version": c.version, "input": input})

	onPhase(PhaseUploading, 10, "Creating Replicate prediction")
	createReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.baseURL, "/v1/predictions"), bytes.NewReader(payload))
	if err != nil {
		return nil, backendErr(provider, "create request", err)
	}
	createReq.Header.Set("Authorization", "Token "+req.Credential)
	createReq.Header.Set("Content-Type", "application/json")
	body, err := doJSON(c.httpClient, provider, createReq)
	if err != nil {
		return nil, err
	}
	var pred replicatePrediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return nil, decodeErr(provider, err)
	}
	statusURL := pred.URLs.Get
	if statusURL == "" {
		if pred.ID == "" {
			return nil, backendErr(provider, "prediction has no id", nil)
		}
		statusURL = joinURL(c.baseURL, "/v1/predictions/"+pred.ID)
	}

	onPhase(PhaseProcessing, 30, "Waiting for Replicate")
	done, err := poll(ctx, provider, c.poll, func(n uint) (*replicatePrediction, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return nil, backendErr(provider, "create poll request", err)
		}
		r.Header.Set("Authorization", "Token "+req.Credential)
		b, err := doJSON(c.httpClient, provider, r)
		if err != nil {
			return nil, err
		}
		var p replicatePrediction
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, decodeErr(provider, err)
		}
		switch p.Status {
		case "succeeded":
			return &p, nil
		case "failed", "canceled":
			return nil, backendErr(provider, fmt.Sprintf("prediction %s: %v", p.Status, p.Error), nil)
		}
		onPhase(PhaseProcessing, pollProgress(n, c.poll.MaxAttempts, 30, 90), "Transcribing ("+p.Status+")")
		return nil, errPending
	})
	if err != nil {
		return nil, err
	}
	if done.Output == nil {
		return nil, backendErr(provider, "prediction succeeded without output", nil)
	}

	var segs []Segment
	for _, s := range done.Output.Segments {
		segs = append(segs, Segment{Text: s.Text, Start: s.Start, End: s.End, Confidence: logprobConfidence(s.AvgLogprob)})
	}
	return &Raw{
		Text:     done.Output.Transcription,
		Segments: tidySegments(segs),
		Language: done.Output.DetectedLanguage,
	}, nil
}
