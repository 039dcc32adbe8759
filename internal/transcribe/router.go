package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/credentials"
	"github.com/snarg/meetscribe/internal/kvstore"
	"github.com/snarg/meetscribe/internal/metrics"
	"github.com/snarg/meetscribe/internal/registry"
)

// ActiveModelKey is the preference key holding the selected model id.
const ActiveModelKey = "active_transcription_model"

// RouterOptions configures a Router.
type RouterOptions struct {
	Registry    *registry.Registry
	Credentials *credentials.Store
	Adapters    map[registry.Family]Adapter
	Prefs       kvstore.Store
	// DefaultModel is used when no active model has been selected.
	DefaultModel string
	Log          zerolog.Logger
}

// ModelStatus is a registry entry annotated with its configuration state.
type ModelStatus struct {
	registry.Model
	Configured bool `json:"configured"`
	Active     bool `json:"active"`
}

// Router selects a model, validates its configuration, dispatches to the
// family's adapter and normalizes the result.
type Router struct {
	reg      *registry.Registry
	creds    *credentials.Store
	adapters map[registry.Family]Adapter
	prefs    kvstore.Store
	def      string
	log      zerolog.Logger

	mu   sync.RWMutex
	sink ProgressFunc
}

// NewRouter validates that every family in the registry has an adapter.
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Registry == nil || opts.Credentials == nil || opts.Prefs == nil {
		return nil, errors.New("router: registry, credentials and prefs are required")
	}
	for _, f := range opts.Registry.Families() {
		if opts.Adapters[f] == nil {
			return nil, fmt.Errorf("router: no adapter for family %q", f)
		}
	}
	if opts.DefaultModel != "" {
		if _, err := opts.Registry.Find(opts.DefaultModel); err != nil {
			return nil, fmt.Errorf("router: default model: %w", err)
		}
	}
	adapters := make(map[registry.Family]Adapter, len(opts.Adapters))
	for f, a := range opts.Adapters {
		adapters[f] = a
	}
	return &Router{
		reg:      opts.Registry,
		creds:    opts.Credentials,
		adapters: adapters,
		prefs:    opts.Prefs,
		def:      opts.DefaultModel,
		log:      opts.Log.With().Str("component", "router").Logger(),
	}, nil
}

// ListModels returns the registry in catalog order.
func (r *Router) ListModels() []registry.Model {
	return r.reg.List()
}

// Models returns every model with its configured and active flags.
func (r *Router) Models(ctx context.Context) []ModelStatus {
	active, _ := r.activeID(ctx)
	models := r.reg.List()
	out := make([]ModelStatus, len(models))
	for i, m := range models {
		out[i] = ModelStatus{
			Model:      m,
			Configured: r.creds.IsConfigured(ctx, m),
			Active:     m.ID == active,
		}
	}
	return out
}

// FindModel looks up a model, failing with an UnknownModel error.
func (r *Router) FindModel(id string) (registry.Model, error) {
	m, err := r.reg.Find(id)
	if err != nil {
		return registry.Model{}, &Error{Kind: KindUnknownModel, Model: id, Msg: fmt.Sprintf("unknown model %q", id)}
	}
	return m, nil
}

// IsConfigured reports whether the model's credential requirement is met.
// Unknown ids are never configured.
func (r *Router) IsConfigured(ctx context.Context, id string) bool {
	m, err := r.reg.Find(id)
	if err != nil {
		return false
	}
	return r.creds.IsConfigured(ctx, m)
}

// SetCredential stores a secret for a credential group.
func (r *Router) SetCredential(ctx context.Context, group, secret string) error {
	if err := r.creds.Set(ctx, group, secret); err != nil {
		return err
	}
	metrics.CredentialWritesTotal.Inc()
	return nil
}

// GetCredential returns the secret for a credential group.
func (r *Router) GetCredential(ctx context.Context, group string) (string, bool, error) {
	return r.creds.Get(ctx, group)
}

// CredentialGroup resolves the group a model's credential is stored under.
func (r *Router) CredentialGroup(id string) string {
	return r.creds.GroupFor(id)
}

// GetActiveModel returns the selected model: the stored preference, else the
// configured default, else the first available and configured model.
func (r *Router) GetActiveModel(ctx context.Context) (registry.Model, error) {
	id, err := r.activeID(ctx)
	if err != nil {
		return registry.Model{}, err
	}
	return r.FindModel(id)
}

func (r *Router) activeID(ctx context.Context) (string, error) {
	id, err := r.prefs.Get(ctx, ActiveModelKey)
	switch {
	case err == nil && id != "":
		if _, ferr := r.reg.Find(id); ferr == nil {
			return id, nil
		}
		r.log.Warn().Str("model", id).Msg("stored active model no longer in registry, ignoring")
	case err != nil && !errors.Is(err, kvstore.ErrNotFound):
		return "", fmt.Errorf("load active model: %w", err)
	}
	if r.def != "" {
		return r.def, nil
	}
	// Device-native models only take live input, so they are never picked
	// implicitly.
	for _, m := range r.reg.List() {
		if m.Available && m.Family != registry.FamilyDeviceNative && r.creds.IsConfigured(ctx, m) {
			return m.ID, nil
		}
	}
	return "", &Error{Kind: KindUnknownModel, Msg: "no active model selected"}
}

// SetActiveModel validates and persists the model selection. Switching to an
// unknown, unavailable or unconfigured model is rejected.
func (r *Router) SetActiveModel(ctx context.Context, id string) error {
	m, err := r.validate(ctx, id)
	if err != nil {
		return err
	}
	if err := r.prefs.Set(ctx, ActiveModelKey, m.ID); err != nil {
		return fmt.Errorf("save active model: %w", err)
	}
	r.log.Info().Str("model", m.ID).Msg("active model changed")
	return nil
}

// SetProgressSink registers the default progress sink used when a request
// carries none. nil disables it.
func (r *Router) SetProgressSink(fn ProgressFunc) {
	r.mu.Lock()
	r.sink = fn
	r.mu.Unlock()
}

func (r *Router) validate(ctx context.Context, id string) (registry.Model, error) {
	m, err := r.FindModel(id)
	if err != nil {
		return m, err
	}
	if !m.Available {
		return m, &Error{Kind: KindModelUnavailable, Model: m.ID, Msg: fmt.Sprintf("%s is not available", m.DisplayName)}
	}
	if m.RequiresCredential && !r.creds.IsConfigured(ctx, m) {
		return m, &Error{
			Kind:  KindCredentialRequired,
			Model: m.ID,
			Msg:   fmt.Sprintf("API key required for %s (credential group %q)", m.DisplayName, r.creds.GroupFor(m.ID)),
		}
	}
	return m, nil
}

// Transcribe runs one call through validation, dispatch and normalization.
// Exactly one terminal progress event is emitted. Failures are never
// downgraded to partial results, and nothing is retried.
func (r *Router) Transcribe(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	sink := req.OnProgress
	if sink == nil {
		r.mu.RLock()
		sink = r.sink
		r.mu.RUnlock()
	}
	tr := newTracker(sink)

	res, m, err := r.transcribe(ctx, req, tr)
	elapsed := time.Since(start)
	if err != nil {
		tr.fail(err)
		kind := KindOf(err)
		outcome := kind.String()
		if kind == 0 {
			outcome = "error"
		}
		metrics.ObserveTranscription(m.ID, string(m.Family), m.Provider, outcome, elapsed)
		r.log.Warn().Err(err).Str("model", m.ID).Str("kind", outcome).Msg("transcription failed")
		return nil, err
	}

	res.ProcessingMs = elapsed.Milliseconds()
	tr.emit(PhaseCompleted, progressCompleted, "Transcription complete")
	metrics.ObserveTranscription(m.ID, string(m.Family), m.Provider, "ok", elapsed)
	r.log.Info().
		Str("model", m.ID).
		Int("chars", len(res.Text)).
		Int("segments", len(res.Segments)).
		Int64("duration_ms", res.ProcessingMs).
		Msg("transcription complete")
	return res, nil
}

func (r *Router) transcribe(ctx context.Context, req Request, tr *tracker) (*Result, registry.Model, error) {
	id := req.ModelID
	if id == "" {
		active, err := r.activeID(ctx)
		if err != nil {
			return nil, registry.Model{ID: id}, err
		}
		id = active
	}
	tr.model = id

	m, err := r.validate(ctx, id)
	if err != nil {
		return nil, registry.Model{ID: id}, err
	}

	var secret string
	if m.RequiresCredential {
		s, ok, err := r.creds.ForModel(ctx, m)
		if err != nil {
			return nil, m, err
		}
		if !ok {
			return nil, m, &Error{Kind: KindCredentialRequired, Model: m.ID, Msg: "credential disappeared before dispatch"}
		}
		secret = s
	}

	tr.emit(PhasePreparing, progressPreparing, "Preparing audio")
	if _, err := audio.Check(ctx, req.Audio); err != nil {
		return nil, m, &Error{Kind: KindInvalidAudio, Model: m.ID, Msg: "audio not usable", Err: err}
	}

	adapter := r.adapters[m.Family]
	if adapter == nil {
		return nil, m, &Error{Kind: KindModelUnavailable, Model: m.ID, Msg: fmt.Sprintf("no adapter for family %s", m.Family)}
	}

	raw, err := adapter.Transcribe(ctx, AdapterRequest{
		Model:      m,
		Audio:      req.Audio,
		Credential: secret,
		Options:    req.Options,
	}, tr.adapterPhase)
	if err != nil {
		return nil, m, asError(m.Provider, err)
	}
	if raw == nil {
		return nil, m, &Error{Kind: KindBackendError, Model: m.ID, Provider: m.Provider, Msg: "adapter returned no result"}
	}
	res, err := normalize(m, raw)
	if err != nil {
		return nil, m, err
	}
	return res, m, nil
}

// normalize builds the final result. Backend segments pass through after
// validation; otherwise segments are extracted from the text.
func normalize(m registry.Model, raw *Raw) (*Result, error) {
	res := &Result{
		Text:     strings.TrimSpace(raw.Text),
		Model:    m.ID,
		Provider: m.Provider,
		Language: raw.Language,
		Duration: raw.Duration,
	}
	if len(raw.Segments) > 0 {
		if err := ValidateSegments(raw.Segments); err != nil {
			return nil, &Error{Kind: KindBackendError, Model: m.ID, Provider: m.Provider, Msg: "malformed segments", Err: err}
		}
		res.Segments = raw.Segments
		return res, nil
	}
	res.Segments = ExtractSegments(raw.Text)
	return res, nil
}
