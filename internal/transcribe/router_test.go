package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/credentials"
	"github.com/snarg/meetscribe/internal/kvstore"
	"github.com/snarg/meetscribe/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// stubAdapter records calls and returns a canned result.
type stubAdapter struct {
	calls  atomic.Int32
	raw    *Raw
	err    error
	phases []int
	gotReq AdapterRequest
}

func (s *stubAdapter) Transcribe(_ context.Context, req AdapterRequest, onPhase PhaseFunc) (*Raw, error) {
	s.calls.Add(1)
	s.gotReq = req
	for _, p := range s.phases {
		onPhase(PhaseProcessing, p, "working")
	}
	return s.raw, s.err
}

type eventLog struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (l *eventLog) sink(ev ProgressEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) terminalCount(p Phase) int {
	n := 0
	for _, ev := range l.events {
		if ev.Phase == p {
			n++
		}
	}
	return n
}

type RouterSuite struct {
	suite.Suite
	ctx    context.Context
	reg    *registry.Registry
	kv     *kvstore.Memory
	creds  *credentials.Store
	speech *stubAdapter
	llm    *stubAdapter
	router *Router
	audio  audio.Source
	dir    string
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.ctx = context.Background()
	s.reg = registry.MustNew(
		registry.Model{ID: "m1", DisplayName: "M1", Family: registry.FamilySpeechAPI, Provider: "stub", Available: true},
		registry.Model{ID: "g1", DisplayName: "G1", Family: registry.FamilyMultimodalLLM, Provider: "llm",
			CredentialGroup: "g", RequiresCredential: true, Available: true},
		registry.Model{ID: "g2", DisplayName: "G2", Family: registry.FamilyMultimodalLLM, Provider: "llm",
			CredentialGroup: "g", RequiresCredential: true, Available: true},
		registry.Model{ID: "keyed", DisplayName: "Keyed", Family: registry.FamilySpeechAPI, Provider: "stub",
			RequiresCredential: true, Available: true},
		registry.Model{ID: "soon", DisplayName: "Soon", Family: registry.FamilySpeechAPI, Provider: "stub", Available: false},
	)
	s.kv = kvstore.NewMemory()
	s.creds = credentials.New(s.kv, s.reg.Groups(), zerolog.Nop())
	s.speech = &stubAdapter{raw: &Raw{Text: "hi"}}
	s.llm = &stubAdapter{raw: &Raw{Text: "[00:05] Hello\n[01:15] World"}}

	r, err := NewRouter(RouterOptions{
		Registry:    s.reg,
		Credentials: s.creds,
		Adapters: map[registry.Family]Adapter{
			registry.FamilySpeechAPI:     s.speech,
			registry.FamilyMultimodalLLM: s.llm,
		},
		Prefs: s.kv,
		Log:   zerolog.Nop(),
	})
	s.Require().NoError(err)
	s.router = r

	s.dir = s.T().TempDir()
	path := filepath.Join(s.dir, "meeting.m4a")
	s.Require().NoError(os.WriteFile(path, []byte("fake audio"), 0o644))
	s.audio = audio.NewFile(path)
}

func (s *RouterSuite) TestPlainTextResult() {
	res, err := s.router.Transcribe(s.ctx, Request{Audio: s.audio, ModelID: "m1"})
	s.Require().NoError(err)
	s.Equal("hi", res.Text)
	s.Equal("m1", res.Model)
	s.Nil(res.Segments, "segments must be absent when none could be parsed")
	s.GreaterOrEqual(res.ProcessingMs, int64(0))
}

func (s *RouterSuite) TestExtractsSegmentsFromText() {
	s.Require().NoError(s.router.SetCredential(s.ctx, "g", "secret"))
	res, err := s.router.Transcribe(s.ctx, Request{Audio: s.audio, ModelID: "g1"})
	s.Require().NoError(err)
	s.Require().Len(res.Segments, 2)
	s.Equal(5.0, res.Segments[0].Start)
	s.Equal(75.0, res.Segments[1].Start)
	s.Equal("secret", s.llm.gotReq.Credential)
}

func (s *RouterSuite) TestPassesThroughBackendSegments() {
	segs := []Segment{{Text: "a", Start: 0, End: 1.5}, {Text: "b", Start: 1.5, End: 3}}
	s.speech.raw = &Raw{Text: "[00:09] ignored", Segments: segs}
	res, err := s.router.Transcribe(s.ctx, Request{Audio: s.audio, ModelID: "m1"})
	s.Require().NoError(err)
	s.Equal(segs, res.Segments)
}

func (s *RouterSuite) TestRejectsMalformedBackendSegments() {
	s.speech.raw = &Raw{Text: "x", Segments: []Segment{{Text: "a", Start: 2, End: 1}}}
	_, err := s.router.Transcribe(s.ctx, Request{Audio: s.audio, ModelID: "m1"})
	s.True(errors.Is(err, ErrBackend), "err = %v", err)
}

func (s *RouterSuite) TestUnknownModel() {
	var log eventLog
	_, err := s.router.Transcribe(s.ctx, Request{Audio: s.audio, ModelID: "nope", OnProgress: log.sink})
	s.True(errors.Is(err, ErrUnknownModel), "err = %v", err)
	s.Zero(s.speech.calls.Load())
	s.Zero(s.llm.calls.Load())
	s.Equal(1, log.terminalCount(PhaseError))
	s.Equal(0, log.terminalCount(PhaseCompleted))
}

func (s *RouterSuite) TestUnavailableModel() {
	_, err := s.router.Transcribe(s.ctx, Request{Audio: s.audio, ModelID: "soon"})
	s.True(errors.Is(err, ErrModelUnavailable), "err = %v", err)
	s.Zero(s.speech.calls.Load())
}

func (s *RouterSuite) TestUnavailableIgnoresCredentialState() {
	reg := registry.MustNew(registry.Model{ID: "x", Family: registry.FamilySpeechAPI, RequiresCredential: true})
	creds := credentials.New(s.kv, nil, zerolog.Nop())
	s.Require().NoError(creds.Set(s.ctx, "x", "k"))
	r, err := NewRouter(RouterOptions{Registry: reg, Credentials: creds, Prefs: s.kv,
		Adapters: map[registry.Family]Adapter{registry.FamilySpeechAPI: s.speech}, Log: zerolog.Nop()})
	s.Require().NoError(err)

	_, err = r.Transcribe(s.ctx, Request{Audio: s.audio, ModelID: "x"})
	s.True(errors.Is(err, ErrModelUnavailable), "err = %v", err)
}

func (s *RouterSuite) TestCredentialRequired() {
	_, err := s.router.Transcribe(s.ctx, Request{Audio: s.audio, ModelID: "keyed"})
	s.True(errors.Is(err, ErrCredentialRequired), "err = %v", err)
	s.Zero(s.speech.calls.Load())

	var e *Error
	s.Require().True(errors.As(err, &e))
	s.Equal("keyed", e.Model)
}

func (s *RouterSuite) TestInvalidAudio() {
	_, err := s.router.Transcribe(s.ctx, Request{Audio: audio.NewFile(filepath.Join(s.dir, "missing.m4a")), ModelID: "m1"})
	s.True(errors.Is(err, ErrInvalidAudio), "err = %v", err)
	s.Zero(s.speech.calls.Load())
}

func (s *RouterSuite) TestAdapterErrorPropagates() {
	s.speech.err = apiError("stub", 500, []byte("boom"))
	s.speech.raw = nil
	var log eventLog
	res, err := s.router.Transcribe(s.ctx, Request{Audio: s.audio, ModelID: "m1", OnProgress: log.sink})
	s.Nil(res)
	s.True(errors.Is(err, ErrBackend))

	var e *Error
	s.Require().True(errors.As(err, &e))
	s.Equal(500, e.Status)
	s.Equal("boom", e.Body)
	s.Equal(PhaseError, log.events[len(log.events)-1].Phase)
	s.Equal(1, log.terminalCount(PhaseError))
}

func (s *RouterSuite) TestPlainAdapterErrorWrappedAsBackend() {
	s.speech.err = errors.New("connection reset")
	_, err := s.router.Transcribe(s.ctx, Request{Audio: s.audio, ModelID: "m1"})
	s.True(errors.Is(err, ErrBackend), "err = %v", err)
	s.Contains(err.Error(), "connection reset")
}

func (s *RouterSuite) TestProgressMonotonicAndSingleCompletion() {
	s.speech.phases = []int{30, 10, 80, 150, -5}
	var log eventLog
	_, err := s.router.Transcribe(s.ctx, Request{Audio: s.audio, ModelID: "m1", OnProgress: log.sink})
	s.Require().NoError(err)

	s.Require().NotEmpty(log.events)
	s.Equal(PhasePreparing, log.events[0].Phase)
	last := -1
	for i, ev := range log.events {
		s.GreaterOrEqual(ev.Progress, last, "event %d regressed", i)
		s.LessOrEqual(ev.Progress, 100)
		last = ev.Progress
	}
	final := log.events[len(log.events)-1]
	s.Equal(PhaseCompleted, final.Phase)
	s.Equal(100, final.Progress)
	s.Equal(1, log.terminalCount(PhaseCompleted))
	s.Equal(0, log.terminalCount(PhaseError))
}

func (s *RouterSuite) TestRegisteredSinkUsedByDefault() {
	var log eventLog
	s.router.SetProgressSink(log.sink)
	_, err := s.router.Transcribe(s.ctx, Request{Audio: s.audio, ModelID: "m1"})
	s.Require().NoError(err)
	s.Equal(1, log.terminalCount(PhaseCompleted))
}

func (s *RouterSuite) TestSharedCredentialGroup() {
	s.False(s.router.IsConfigured(s.ctx, "g1"))
	s.False(s.router.IsConfigured(s.ctx, "g2"))
	s.Require().NoError(s.router.SetCredential(s.ctx, "g", "secret"))
	s.True(s.router.IsConfigured(s.ctx, "g1"))
	s.True(s.router.IsConfigured(s.ctx, "g2"))
	s.Equal("g", s.router.CredentialGroup("g2"))
	s.True(s.router.IsConfigured(s.ctx, "m1"))
	s.False(s.router.IsConfigured(s.ctx, "nope"))
}

func (s *RouterSuite) TestActiveModelSelection() {
	// no preference: first available configured model
	m, err := s.router.GetActiveModel(s.ctx)
	s.Require().NoError(err)
	s.Equal("m1", m.ID)

	err = s.router.SetActiveModel(s.ctx, "g1")
	s.True(errors.Is(err, ErrCredentialRequired), "switching to unconfigured model must fail: %v", err)
	m, _ = s.router.GetActiveModel(s.ctx)
	s.Equal("m1", m.ID, "failed switch must not commit")

	s.True(errors.Is(s.router.SetActiveModel(s.ctx, "soon"), ErrModelUnavailable))
	s.True(errors.Is(s.router.SetActiveModel(s.ctx, "nope"), ErrUnknownModel))

	s.Require().NoError(s.router.SetCredential(s.ctx, "g", "secret"))
	s.Require().NoError(s.router.SetActiveModel(s.ctx, "g2"))
	m, _ = s.router.GetActiveModel(s.ctx)
	s.Equal("g2", m.ID)

	stored, err := s.kv.Get(s.ctx, ActiveModelKey)
	s.Require().NoError(err)
	s.Equal("g2", stored)

	res, err := s.router.Transcribe(s.ctx, Request{Audio: s.audio})
	s.Require().NoError(err)
	s.Equal("g2", res.Model)
}

func (s *RouterSuite) TestModelsStatus() {
	s.Require().NoError(s.router.SetActiveModel(s.ctx, "m1"))
	byID := map[string]ModelStatus{}
	for _, ms := range s.router.Models(s.ctx) {
		byID[ms.ID] = ms
	}
	s.True(byID["m1"].Configured)
	s.True(byID["m1"].Active)
	s.False(byID["keyed"].Configured)
	s.Len(s.router.ListModels(), 5)
}

func TestNewRouter_MissingAdapter(t *testing.T) {
	reg := registry.MustNew(registry.Model{ID: "d", Family: registry.FamilyOnDevice})
	kv := kvstore.NewMemory()
	_, err := NewRouter(RouterOptions{
		Registry:    reg,
		Credentials: credentials.New(kv, nil, zerolog.Nop()),
		Prefs:       kv,
		Adapters:    map[registry.Family]Adapter{},
	})
	require.Error(t, err)
}

func TestNewRouter_BadDefault(t *testing.T) {
	reg := registry.MustNew(registry.Model{ID: "a", Family: registry.FamilySpeechAPI})
	kv := kvstore.NewMemory()
	_, err := NewRouter(RouterOptions{
		Registry:     reg,
		Credentials:  credentials.New(kv, nil, zerolog.Nop()),
		Prefs:        kv,
		Adapters:     map[registry.Family]Adapter{registry.FamilySpeechAPI: AdapterFunc(nil)},
		DefaultModel: "zzz",
	})
	assert.Error(t, err)
}

func TestError_KindAndMessage(t *testing.T) {
	err := apiError("groq", 401, []byte(`{"error":"invalid key"}`))
	assert.Equal(t, KindBackendError, KindOf(err))
	assert.Contains(t, err.Error(), "groq")
	assert.Contains(t, err.Error(), "401")
	assert.False(t, errors.Is(err, ErrTimedOut))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	assert.LessOrEqual(t, len(apiError("p", 500, long).Body), maxBodySnippet+3)
}
