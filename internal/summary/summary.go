// Package summary turns a finished transcript into a structured meeting
// summary using a Gemini model.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/transcribe"
	"google.golang.org/genai"
)

// CredentialGroup is the credential group the generator reads its key from.
const CredentialGroup = "gemini"

// ErrEmptyTranscript is returned when there is nothing to summarize.
var ErrEmptyTranscript = errors.New("transcript is empty")

// Summary is the structured result of summarizing one meeting.
type Summary struct {
	Title        string       `json:"title"`
	Participants []string     `json:"participants"`
	ShortSummary string       `json:"short_summary"`
	Overview     string       `json:"overview"`
	Topics       []Topic      `json:"topics"`
	Decisions    []string     `json:"decisions"`
	ActionItems  []ActionItem `json:"action_items"`
	KeyInsights  []string     `json:"key_insights"`
	NextSteps    []string     `json:"next_steps"`
	Model        string       `json:"model"`
	GeneratedAt  time.Time    `json:"generated_at"`
	// Fallback is set when the model's answer was not valid JSON and only
	// ShortSummary carries its raw text.
	Fallback bool `json:"fallback,omitempty"`
}

type Topic struct {
	Topic   string   `json:"topic"`
	Details []string `json:"details"`
}

type ActionItem struct {
	Task     string `json:"task"`
	Assignee string `json:"assignee,omitempty"`
	Deadline string `json:"deadline,omitempty"`
}

// Credentials resolves the Gemini API key. Satisfied by *credentials.Store.
type Credentials interface {
	Get(ctx context.Context, group string) (secret string, ok bool, err error)
}

// Options configures a Generator.
type Options struct {
	Model       string // default gemini-2.5-flash
	BaseURL     string
	Credentials Credentials
	Log         zerolog.Logger
	// NewGenerator overrides client construction; used in tests.
	NewGenerator func(ctx context.Context, apiKey string) (transcribe.ContentGenerator, error)
}

// Generator produces meeting summaries.
type Generator struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options) *Generator {
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}
	if opts.NewGenerator == nil {
		baseURL := opts.BaseURL
		opts.NewGenerator = func(ctx context.Context, apiKey string) (transcribe.ContentGenerator, error) {
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
	return &Generator{opts: opts, log: opts.Log.With().Str("component", "summary").Logger()}
}

// Summarize asks the model for a structured summary of transcript. A missing
// Gemini key fails with transcribe.ErrCredentialRequired.
func (g *Generator) Summarize(ctx context.Context, transcript string) (*Summary, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	key, ok, err := g.opts.Credentials.Get(ctx, CredentialGroup)
	if err != nil {
		return nil, fmt.Errorf("read gemini credential: %w", err)
	}
	if !ok {
		return nil, &transcribe.Error{
			Kind:     transcribe.KindCredentialRequired,
			Model:    g.opts.Model,
			Provider: "gemini",
			Msg:      "no API key configured for credential group gemini",
		}
	}

	gen, err := g.opts.NewGenerator(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	temp := float32(0.3)
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temp,
		MaxOutputTokens:  8192,
		ResponseMIMEType: "application/json",
	}
	contents := genai.Text(buildPrompt(transcript))

	start := time.Now()
	resp, err := gen.GenerateContent(ctx, g.opts.Model, contents, cfg)
	if err != nil {
		return nil, transcribe.GeminiError(g.opts.Model, "generate summary", err)
	}

	s := parseSummary(resp.Text())
	s.Model = g.opts.Model
	s.GeneratedAt = time.Now().UTC()
	g.log.Info().
		Str("model", g.opts.Model).
		Int("transcript_chars", len(transcript)).
		Bool("fallback", s.Fallback).
		Dur("elapsed", time.Since(start)).
		Msg("summary generated")
	return s, nil
}

func buildPrompt(transcript string) string {
	var b strings.Builder
	b.WriteString("Summarize the following meeting transcript. Respond with one JSON object with these fields:\n")
	b.WriteString(`{"title": string, "participants": [string], "short_summary": string, "overview": string, `)
	b.WriteString(`"topics": [{"topic": string, "details": [string]}], "decisions": [string], `)
	b.WriteString(`"action_items": [{"task": string, "assignee": string, "deadline": string}], `)
	b.WriteString(`"key_insights": [string], "next_steps": [string]}`)
	b.WriteString("\nUse empty arrays when a field has no content. Do not invent participants or deadlines.\n\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

// parseSummary decodes the model's JSON answer. Answers wrapped in prose or
// code fences are trimmed to the outermost object; anything still invalid
// becomes a fallback summary carrying the raw text.
func parseSummary(text string) *Summary {
	text = strings.TrimSpace(text)
	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		var s Summary
		if err := json.Unmarshal([]byte(text[i:j+1]), &s); err == nil {
			s.normalize()
			return &s
		}
	}
	s := &Summary{Title: "Meeting summary", ShortSummary: truncate(text, 500), Fallback: true}
	s.normalize()
	return s
}

func (s *Summary) normalize() {
	if s.Participants == nil {
		s.Participants = []string{}
	}
	if s.Topics == nil {
		s.Topics = []Topic{}
	}
	if s.Decisions == nil {
		s.Decisions = []string{}
	}
	if s.ActionItems == nil {
		s.ActionItems = []ActionItem{}
	}
	if s.KeyInsights == nil {
		s.KeyInsights = []string{}
	}
	if s.NextSteps == nil {
		s.NextSteps = []string{}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
