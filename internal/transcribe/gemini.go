package transcribe

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/audio"
	"google.golang.org/genai"
)

const geminiPrompt = "Transcribe this audio to text. Start every line with the time it begins as " +
	"[MM:SS] (or [H:MM:SS] past one hour), followed by the spoken words. " +
	"Return only the transcript."

// ContentGenerator is the slice of the genai Models service the adapter uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiOptions configures the multimodal adapter.
type GeminiOptions struct {
	BaseURL         string // empty uses the public Gemini API
	Temperature     float32
	MaxOutputTokens int32
	Log             zerolog.Logger
	// NewGenerator overrides client construction; used in tests.
	NewGenerator func(ctx context.Context, apiKey string) (ContentGenerator, error)
}

// GeminiAdapter sends inline audio plus a transcription prompt to a
// generative model and returns its plain-text answer. Segments are left to
// the router's text extraction.
type GeminiAdapter struct {
	opts GeminiOptions
	log  zerolog.Logger
}

// NewGeminiAdapter creates the multimodal-llm adapter.
func NewGeminiAdapter(opts GeminiOptions) *GeminiAdapter {
	if opts.Temperature == 0 {
		opts.Temperature = 0.1
	}
	if opts.MaxOutputTokens == 0 {
		opts.MaxOutputTokens = 8192
	}
	if opts.NewGenerator == nil {
		baseURL := opts.BaseURL
		opts.NewGenerator = func(ctx context.Context, apiKey string) (ContentGenerator, error) {
			cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
			if baseURL != "" {
				cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
			}
			client, err := genai.NewClient(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return client.Models, nil
		}
	}
	return &GeminiAdapter{opts: opts, log: opts.Log.With().Str("component", "gemini").Logger()}
}

func (g *GeminiAdapter) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	model := req.Model.BackendModel
	if model == "" {
		model = req.Model.ID
	}

	onPhase(PhaseUploading, 10, "Reading audio")
	data, err := audio.ReadAll(ctx, req.Audio)
	if err != nil {
		return nil, &Error{Kind: KindInvalidAudio, Provider: "gemini", Msg: "read audio", Err: err}
	}
	mimeType := audio.MIMETypeOr(req.Audio.Name(), "audio/mp4")

	gen, err := g.opts.NewGenerator(ctx, req.Credential)
	if err != nil {
		return nil, backendErr("gemini", "create client", err)
	}

	prompt := geminiPrompt
	if req.Options.Language != "" {
		prompt += " The audio language is " + req.Options.Language + "."
	}
	if req.Options.Prompt != "" {
		prompt += " Context: " + req.Options.Prompt
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}
	temp := g.opts.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: g.opts.MaxOutputTokens,
	}

	onPhase(PhaseUploading, 30, "Sending audio to Gemini")
	g.log.Debug().Str("model", model).Int("bytes", len(data)).Str("mime", mimeType).Msg("generate content")
	resp, err := gen.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, GeminiError(req.Model.ID, "generate content", err)
	}

	onPhase(PhaseProcessing, 90, "Reading transcript")
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, &Error{Kind: KindBackendError, Provider: "gemini", Msg: "empty transcription"}
	}
	return &Raw{Text: text}, nil
}

// GeminiError wraps a genai failure as a BackendError, keeping the API
// status code and message when the service returned one.
func GeminiError(model, msg string, err error) *Error {
	var ae genai.APIError
	if errors.As(err, &ae) {
		return &Error{Kind: KindBackendError, Model: model, Provider: "gemini", Msg: "API error",
			Status: ae.Code, Body: snippet([]byte(ae.Message))}
	}
	var pae *genai.APIError
	if errors.As(err, &pae) && pae != nil {
		return &Error{Kind: KindBackendError, Model: model, Provider: "gemini", Msg: "API error",
			Status: pae.Code, Body: snippet([]byte(pae.Message))}
	}
	return &Error{Kind: KindBackendError, Model: model, Provider: "gemini", Msg: msg, Err: err}
}
