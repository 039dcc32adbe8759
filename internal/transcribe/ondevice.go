package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/audio"
)

// WhisperSampleRate is the input rate local whisper inference expects.
const WhisperSampleRate = 16000

// Engine runs local inference over decoded PCM. Implementations may cache
// loaded model handles keyed by path.
type Engine interface {
	Transcribe(ctx context.Context, modelPath string, pcm *audio.PCM, opts Options, onProgress func(int)) (*Raw, error)
	Close() error
}

// OnDeviceOptions configures the on-device-inference adapter.
type OnDeviceOptions struct {
	ModelDir   string // where model assets were downloaded
	Engine     Engine // nil when no engine is compiled in
	Preprocess bool   // convert input with sox before decoding
	Log        zerolog.Logger
}

// OnDeviceAdapter handles the on-device-inference family. The engine owns a
// single model handle, so only one call may run at a time; a second caller is
// rejected rather than queued.
type OnDeviceAdapter struct {
	opts OnDeviceOptions
	busy sync.Mutex
	log  zerolog.Logger
}

func NewOnDeviceAdapter(opts OnDeviceOptions) *OnDeviceAdapter {
	return &OnDeviceAdapter{
		opts: opts,
		log:  opts.Log.With().Str("component", "ondevice").Logger(),
	}
}

// Ready reports whether an engine and model directory are configured.
func (a *OnDeviceAdapter) Ready() bool {
	return a.opts.Engine != nil && a.opts.ModelDir != ""
}

func (a *OnDeviceAdapter) Transcribe(ctx context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	provider := req.Model.Provider
	if !a.Ready() {
		return nil, &Error{Kind: KindModelUnavailable, Model: req.Model.ID, Provider: provider,
			Msg: "on-device engine not available"}
	}
	if !a.busy.TryLock() {
		return nil, &Error{Kind: KindBusy, Model: req.Model.ID, Provider: provider,
			Msg: "on-device engine is busy with another transcription"}
	}
	defer a.busy.Unlock()

	modelPath := filepath.Join(a.opts.ModelDir, req.Model.BackendModel)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, &Error{Kind: KindModelUnavailable, Model: req.Model.ID, Provider: provider,
			Msg: "model not downloaded", Err: err}
	}

	onPhase(PhaseProcessing, 5, "Decoding audio")
	pcm, err := a.decode(ctx, req.Audio)
	if err != nil {
		return nil, &Error{Kind: KindInvalidAudio, Model: req.Model.ID, Provider: provider,
			Msg: "decode audio", Err: err}
	}

	onPhase(PhaseProcessing, 10, "Running local inference")
	raw, err := a.opts.Engine.Transcribe(ctx, modelPath, pcm, req.Options, func(p int) {
		onPhase(PhaseProcessing, 10+p*85/100, "Running local inference")
	})
	if err != nil {
		return nil, backendErr(provider, "local inference", err)
	}
	if raw.Duration == 0 {
		raw.Duration = pcm.Seconds()
	}
	raw.Segments = tidySegments(raw.Segments)

	a.log.Debug().
		Str("model", req.Model.ID).
		Float64("audio_s", pcm.Seconds()).
		Int("segments", len(raw.Segments)).
		Msg("local inference complete")
	return raw, nil
}

func (a *OnDeviceAdapter) decode(ctx context.Context, src audio.Source) (*audio.PCM, error) {
	path, cleanup, err := audio.LocalPath(ctx, src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if a.opts.Preprocess {
		pp, ppCleanup, err := audio.Preprocess(ctx, path)
		if err != nil {
			a.log.Warn().Err(err).Msg("sox preprocess failed, decoding original")
		} else {
			defer ppCleanup()
			path = pp
		}
	}

	pcm, err := audio.DecodeWAV(path)
	if err != nil {
		if errors.Is(err, audio.ErrNotWAV) && !a.opts.Preprocess {
			return nil, errors.Join(err, errors.New("enable SOX_PREPROCESS to convert compressed recordings"))
		}
		return nil, err
	}
	return pcm.Resample(WhisperSampleRate), nil
}

// Close releases the engine's model handles.
func (a *OnDeviceAdapter) Close() error {
	if a.opts.Engine == nil {
		return nil
	}
	return a.opts.Engine.Close()
}
