package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/snarg/meetscribe/internal/audio"
)

const DeepgramBaseURL = "https://api.deepgram.com"

// DeepgramClient posts raw audio to the prerecorded /v1/listen endpoint.
type DeepgramClient struct {
	baseURL string
	client  *http.Client
}

func NewDeepgramClient(baseURL string, timeout time.Duration) *DeepgramClient {
	if baseURL == "" {
		baseURL = DeepgramBaseURL
	}
	return &DeepgramClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
				Paragraphs *struct {
					Paragraphs []struct {
						Speaker   int `json:"speaker"`
						Sentences []struct {
							Text  string  `json:"text"`
							Start float64 `json:"start"`
							End   float64 `json:"end"`
						} `json:"sentences"`
					} `json:"paragraphs"`
				} `json:"paragraphs"`
				Words []struct {
					Word           string  `json:"word"`
					PunctuatedWord string  `json:"punctuated_word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					Confidence     float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (dg *DeepgramClient) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	const provider = "deepgram"

	rc, err := req.Audio.Open(ctx)
	if err != nil {
		return nil, &Error{Kind: KindInvalidAudio, Provider: provider, Msg: "open audio", Err: err}
	}
	defer rc.Close()

	q := url.Values{}
	q.Set("model", req.Model.BackendModel)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("paragraphs", "true")
	if req.Options.Language != "" {
		q.Set("language", req.Options.Language)
	} else {
		q.Set("detect_language", "true")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(dg.baseURL, "/v1/listen")+"?"+q.Encode(), rc)
	if err != nil {
		return nil, backendErr(provider, "create request", err)
	}
	httpReq.Header.Set("Authorization", "Token "+req.Credential)
	httpReq.Header.Set("Content-Type", audio.MIMETypeOr(req.Audio.Name(), "application/octet-stream"))

	onPhase(PhaseUploading, 20, "Uploading audio to Deepgram")
	body, err := doJSON(dg.client, provider, httpReq)
	if err != nil {
		return nil, err
	}

	var result deepgramResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, decodeErr(provider, err)
	}
	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return nil, backendErr(provider, "response has no transcript", nil)
	}
	ch := result.Results.Channels[0]
	alt := ch.Alternatives[0]

	raw := &Raw{Text: alt.Transcript, Language: ch.DetectedLanguage, Duration: result.Metadata.Duration}
	if alt.Paragraphs != nil {
		var segs []Segment
		for _, p := range alt.Paragraphs.Paragraphs {
			for _, s := range p.Sentences {
				segs = append(segs, Segment{Text: s.Text, Start: s.Start, End: s.End})
			}
		}
		raw.Segments = tidySegments(segs)
	}
	if raw.Segments == nil && len(alt.Words) > 0 {
		words := make([]Word, len(alt.Words))
		for i, w := range alt.Words {
			text := w.PunctuatedWord
			if text == "" {
				text = w.Word
			}
			words[i] = Word{Word: text, Start: w.Start, End: w.End, Confidence: w.Confidence}
		}
		raw.Segments = tidySegments(GroupWords(words, ""))
	}
	return raw, nil
}
