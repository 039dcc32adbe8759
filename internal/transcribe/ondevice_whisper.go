//go:build whisper

package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/snarg/meetscribe/internal/audio"
)

// WhisperEngine runs whisper.cpp through its Go bindings. Loaded models are
// kept until Close.
type WhisperEngine struct {
	mu     sync.Mutex
	models map[string]whisper.Model
}

// NewWhisperEngine returns the whisper.cpp engine.
func NewWhisperEngine() Engine {
	return &WhisperEngine{models: make(map[string]whisper.Model)}
}

func (e *WhisperEngine) model(path string) (whisper.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.models[path]; ok {
		return m, nil
	}
	m, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	e.models[path] = m
	return m, nil
}

func (e *WhisperEngine) Transcribe(ctx context.Context, modelPath string, pcm *audio.PCM, opts Options, onProgress func(int)) (*Raw, error) {
	m, err := e.model(modelPath)
	if err != nil {
		return nil, err
	}
	wctx, err := m.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}
	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("set language %q: %w", lang, err)
	}
	if opts.Prompt != "" {
		wctx.SetInitialPrompt(opts.Prompt)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := wctx.Process(pcm.Samples, nil, nil, onProgress); err != nil {
		return nil, fmt.Errorf("process audio: %w", err)
	}

	raw := &Raw{Language: opts.Language, Duration: pcm.Seconds()}
	var text []byte
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read segment: %w", err)
		}
		text = append(text, seg.Text...)
		s := Segment{Text: seg.Text, Start: seg.Start.Seconds(), End: seg.End.Seconds()}
		if len(seg.Tokens) > 0 {
			var sum float64
			for _, tok := range seg.Tokens {
				sum += float64(tok.P)
			}
			c := sum / float64(len(seg.Tokens))
			s.Confidence = &c
		}
		raw.Segments = append(raw.Segments, s)
	}
	raw.Text = string(text)
	return raw, nil
}

func (e *WhisperEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for path, m := range e.models {
		errs = append(errs, m.Close())
		delete(e.models, path)
	}
	return errors.Join(errs...)
}
