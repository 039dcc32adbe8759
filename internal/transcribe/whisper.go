package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// WhisperServerClient calls a self-hosted OpenAI-compatible
// /v1/audio/transcriptions endpoint (speaches, whisper-server, faster-whisper).
type WhisperServerClient struct {
	url    string
	tuning WhisperTuning
	client *http.Client
}

// WhisperTuning are decoding parameters for the self-hosted server.
// Zero-value fields are omitted from the request, so servers that ignore
// unknown form fields keep working.
type WhisperTuning struct {
	Temperature float64
	Hotwords    string // vocabulary boost terms

	// Decoding
	BeamSize int // 0 = server default (typically 5)

	// Anti-hallucination
	RepetitionPenalty             float64 // >1.0 penalizes repetition (0 = omit)
	NoRepeatNgramSize             int     // block n-gram repetition (0 = disabled)
	ConditionOnPreviousText       *bool   // nil = omit (server default); false = prevent cascading
	NoSpeechThreshold             float64 // 0 = omit (server default ~0.6)
	HallucinationSilenceThreshold float64 // 0 = omit/disabled
	MaxNewTokens                  int     // 0 = omit/unlimited

	// VAD
	VadFilter bool
}

// NewWhisperServerClient creates a client for the endpoint at url.
func NewWhisperServerClient(url string, timeout time.Duration, tuning WhisperTuning) *WhisperServerClient {
	return &WhisperServerClient{
		url:    url,
		tuning: tuning,
		client: &http.Client{Timeout: timeout},
	}
}

// Transcribe sends the audio as multipart/form-data and requests
// segment-level timestamps.
func (wc *WhisperServerClient) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	const provider = "whisper-server"

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

	if req.Model.BackendModel != "" {
		w.WriteField("model", req.Model.BackendModel)
	}
	if req.Options.Language != "" {
		w.WriteField("language", req.Options.Language)
	}
	if req.Options.Prompt != "" {
		w.WriteField("prompt", req.Options.Prompt)
	}
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "segment")
	wc.tuning.writeFields(w)
	w.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return nil, backendErr(provider, "create request", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	if req.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	}

	onPhase(PhaseUploading, 20, "Sending audio to whisper server")
	body, err := doJSON(wc.client, provider, httpReq)
	if err != nil {
		return nil, err
	}

	var v verboseTranscription
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, decodeErr(provider, err)
	}
	return v.raw(), nil
}

func (t WhisperTuning) writeFields(w *multipart.Writer) {
	w.WriteField("temperature", fmt.Sprintf("%.2f", t.Temperature))

	if t.Hotwords != "" {
		w.WriteField("hotwords", t.Hotwords)
	}
	if t.BeamSize > 0 {
		w.WriteField("beam_size", fmt.Sprintf("%d", t.BeamSize))
	}
	if t.RepetitionPenalty > 0 && t.RepetitionPenalty != 1.0 {
		w.WriteField("repetition_penalty", fmt.Sprintf("%.2f", t.RepetitionPenalty))
	}
	if t.NoRepeatNgramSize > 0 {
		w.WriteField("no_repeat_ngram_size", fmt.Sprintf("%d", t.NoRepeatNgramSize))
	}
	if t.ConditionOnPreviousText != nil {
		if *t.ConditionOnPreviousText {
			w.WriteField("condition_on_previous_text", "true")
		} else {
			w.WriteField("condition_on_previous_text", "false")
		}
	}
	if t.NoSpeechThreshold > 0 {
		w.WriteField("no_speech_threshold", fmt.Sprintf("%.2f", t.NoSpeechThreshold))
	}
	if t.HallucinationSilenceThreshold > 0 {
		w.WriteField("hallucination_silence_threshold", fmt.Sprintf("%.2f", t.HallucinationSilenceThreshold))
	}
	if t.MaxNewTokens > 0 {
		w.WriteField("max_new_tokens", fmt.Sprintf("%d", t.MaxNewTokens))
	}
	if t.VadFilter {
		w.WriteField("vad_filter", "true")
	}
}
