package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const ElevenLabsBaseURL = "https://api.elevenlabs.io"

// ElevenLabsClient calls the ElevenLabs Speech-to-Text API.
type ElevenLabsClient struct {
	baseURL  string
	keyterms string // comma-separated boost terms
	client   *http.Client
}

type elevenlabsResponse struct {
	LanguageCode string `json:"language_code"`
	Text         string `json:"text"`
	Words        []struct {
		Text      string  `json:"text"`
		Type      string  `json:"type"` // "word", "spacing" or "audio_event"
		Start     float64 `json:"start"`
		End       float64 `json:"end"`
		SpeakerID string  `json:"speaker_id"`
		Logprob   float64 `json:"logprob"`
	} `json:"words"`
}

// NewElevenLabsClient creates an ElevenLabs STT client.
func NewElevenLabsClient(baseURL, keyterms string, timeout time.Duration) *ElevenLabsClient {
	if baseURL == "" {
		baseURL = ElevenLabsBaseURL
	}
	return &ElevenLabsClient{
		baseURL:  baseURL,
		keyterms: keyterms,
		client:   &http.Client{Timeout: timeout},
	}
}

func (el *ElevenLabsClient) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	const provider = "elevenlabs"

	rc, err := req.Audio.Open(ctx)
	if err != nil {
		return nil, &Error{Kind: KindInvalidAudio, Provider: provider, Msg: "open audio", Err: err}
	}
	defer rc.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", req.Audio.Name())
	if err != nil {
		return nil, backendErr(provider, "create form file", err)
	}
	if _, err := io.Copy(part, rc); err != nil {
		return nil, &Error{Kind: KindInvalidAudio, Provider: provider, Msg: "copy audio data", Err: err}
	}

	w.WriteField("model_id", req.Model.BackendModel)
	if req.Options.Language != "" {
		w.WriteField("language_code", req.Options.Language)
	}
	w.WriteField("timestamps_granularity", "word")
	w.WriteField("diarize", "true")
	if kt := buildKeyterms(el.keyterms); kt != "" {
		w.WriteField("keyterms", kt)
	}
	w.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(el.baseURL, "/v1/speech-to-text"), &buf)
	if err != nil {
		return nil, backendErr(provider, "create request", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("xi-api-key", req.Credential)

	onPhase(PhaseUploading, 20, "Uploading audio to ElevenLabs")
	body, err := doJSON(el.client, provider, httpReq)
	if err != nil {
		return nil, err
	}

	var result elevenlabsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, decodeErr(provider, err)
	}

	var words []Word
	for _, ew := range result.Words {
		if ew.Type != "word" {
			continue
		}
		wd := Word{Word: ew.Text, Start: ew.Start, End: ew.End, Speaker: ew.SpeakerID}
		if c := logprobConfidence(ew.Logprob); c != nil {
			wd.Confidence = *c
		}
		words = append(words, wd)
	}

	return &Raw{
		Text:     result.Text,
		Segments: tidySegments(GroupWords(words, result.Text)),
		Language: result.LanguageCode,
	}, nil
}

// buildKeyterms turns comma-separated terms into the JSON array of
// {"text": term} objects the API accepts.
func buildKeyterms(csv string) string {
	type keyterm struct {
		Text string `json:"text"`
	}
	var arr []keyterm
	for _, t := range strings.Split(csv, ",") {
		if t = strings.TrimSpace(t); t != "" {
			arr = append(arr, keyterm{Text: t})
		}
	}
	if len(arr) == 0 {
		return ""
	}
	b, _ := json.Marshal(arr)
	return string(b)
}
