package transcribe

import (
	"context"

	"github.com/snarg/meetscribe/internal/audio"
)

// Recognizer is the host platform's streaming speech recognizer.
type Recognizer interface {
	Recognize(ctx context.Context, sampleRate int, frames <-chan []float32, opts Options) (*Raw, error)
}

// NativeAdapter handles the device-native family. It only accepts live
// microphone sources; recorded files fail with UnsupportedOperation.
type NativeAdapter struct {
	rec Recognizer
}

// NewNativeAdapter creates the adapter. rec may be nil on hosts without a
// platform recognizer.
func NewNativeAdapter(rec Recognizer) *NativeAdapter {
	return &NativeAdapter{rec: rec}
}

func (a *NativeAdapter) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	live, ok := req.Audio.(audio.Live)
	if !ok {
		return nil, &Error{Kind: KindUnsupportedOperation, Model: req.Model.ID, Provider: req.Model.Provider,
			Msg: "device speech recognition is unsupported for file input"}
	}
	if a.rec == nil {
		return nil, &Error{Kind: KindModelUnavailable, Model: req.Model.ID, Provider: req.Model.Provider,
			Msg: "no platform speech recognizer on this host"}
	}

	frames, err := live.Frames(ctx)
	if err != nil {
		return nil, &Error{Kind: KindInvalidAudio, Model: req.Model.ID, Provider: req.Model.Provider,
			Msg: "open live audio", Err: err}
	}
	onPhase(PhaseProcessing, 10, "Listening")
	raw, err := a.rec.Recognize(ctx, live.SampleRate(), frames, req.Options)
	if err != nil {
		return nil, backendErr(req.Model.Provider, "recognize", err)
	}
	raw.Segments = tidySegments(raw.Segments)
	return raw, nil
}
