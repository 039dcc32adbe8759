package transcribe

import (
	"context"
	"time"

	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/registry"
)

// Phase is a coarse lifecycle stage of one transcription call.
type Phase string

const (
	PhasePreparing  Phase = "preparing"
	PhaseUploading  Phase = "uploading"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// Terminal reports whether no further events follow this phase.
func (p Phase) Terminal() bool { return p == PhaseCompleted || p == PhaseError }

// ProgressEvent is delivered to the caller's sink. Progress is an integer
// percentage in [0, 100] and never decreases within a call.
type ProgressEvent struct {
	Phase    Phase  `json:"phase"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Model    string `json:"model,omitempty"`
}

// ProgressFunc receives progress events. It must not block.
type ProgressFunc func(ProgressEvent)

// Segment is a timestamped span of transcript text. Times are seconds.
type Segment struct {
	Text       string   `json:"text"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Result is the normalized output of a successful call. Segments is nil
// when no timing information could be established.
type Result struct {
	Text         string    `json:"text"`
	Segments     []Segment `json:"segments,omitempty"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Language     string    `json:"language,omitempty"`
	Duration     float64   `json:"duration,omitempty"` // audio seconds, when known
	ProcessingMs int64     `json:"processing_ms"`
}

// ProcessingTime returns the wall-clock time the call took.
func (r *Result) ProcessingTime() time.Duration { return time.Duration(r.ProcessingMs) * time.Millisecond }

// Options are per-call hints forwarded to the adapter. Zero values mean
// backend defaults.
type Options struct {
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// Request is one transcription call.
type Request struct {
	Audio      audio.Source
	ModelID    string // empty selects the active model
	Options    Options
	OnProgress ProgressFunc // overrides the router's registered sink
}

// PhaseFunc is how adapters report progress. progress is the adapter's own
// 0-100 estimate; the router rescales it.
type PhaseFunc func(phase Phase, progress int, message string)

// AdapterRequest is what the router hands to an adapter.
type AdapterRequest struct {
	Model      registry.Model
	Audio      audio.Source
	Credential string
	Options    Options
}

// Raw is an adapter's unnormalized output. Segments is nil when the backend
// returned only text.
type Raw struct {
	Text     string
	Segments []Segment
	Language string
	Duration float64
}

// Adapter converts the common request into one backend family's protocol.
type Adapter interface {
	Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error)
}

// AdapterFunc lets a plain function serve as an Adapter.
type AdapterFunc func(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error)

func (f AdapterFunc) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	return f(ctx, req, onPhase)
}

func nopPhase(Phase, int, string) {}
