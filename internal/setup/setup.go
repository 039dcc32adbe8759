// Package setup builds the state stores and transcription router shared by
// the server and the CLI.
package setup

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/config"
	"github.com/snarg/meetscribe/internal/credentials"
	"github.com/snarg/meetscribe/internal/database"
	"github.com/snarg/meetscribe/internal/kvstore"
	"github.com/snarg/meetscribe/internal/registry"
	"github.com/snarg/meetscribe/internal/transcribe"
)

// State holds preferences and job history. DB is nil without DATABASE_URL,
// in which case jobs are kept in memory.
type State struct {
	Prefs   kvstore.Store
	Results transcribe.ResultStore
	DB      *database.DB
	close   func()
}

func (s *State) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenState connects to Postgres when DATABASE_URL is set and runs its
// migrations; otherwise it opens the sqlite state file.
func OpenState(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*State, error) {
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolOptions{
			MaxConns:    cfg.DBMaxConns,
			MinConns:    cfg.DBMinConns,
			MaxConnIdle: cfg.DBMaxConnIdle,
			Workers:     cfg.TranscribeWorkers,
		}, log.With().Str("component", "database").Logger())
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return &State{Prefs: db, Results: db, DB: db, close: db.Close}, nil
	}

	sq, err := kvstore.OpenSQLite(ctx, cfg.StateDB, log.With().Str("component", "state").Logger())
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", cfg.StateDB, err)
	}
	return &State{
		Prefs:   sq,
		Results: transcribe.NewMemoryResults(),
		close:   func() { sq.Close() },
	}, nil
}

// Engine is a ready router plus the resources it holds.
type Engine struct {
	Router      *transcribe.Router
	Credentials *credentials.Store
	Registry    *registry.Registry
	onDevice    *transcribe.OnDeviceAdapter
}

func (e *Engine) Close() error { return e.onDevice.Close() }

// NewEngine wires every family adapter to the catalog.
func NewEngine(cfg *config.Config, prefs kvstore.Store, log zerolog.Logger) (*Engine, error) {
	onDevice := transcribe.NewOnDeviceAdapter(transcribe.OnDeviceOptions{
		ModelDir:   cfg.OnDeviceModelDir,
		Engine:     transcribe.NewWhisperEngine(),
		Preprocess: cfg.SoxPreprocess,
		Log:        log,
	})

	reg := registry.Default(registry.Options{
		WhisperServer:      cfg.WhisperURL != "",
		WhisperServerModel: cfg.WhisperModel,
		OnDevice:           onDevice.Ready(),
	})
	creds := credentials.New(prefs, reg.Groups(), log.With().Str("component", "credentials").Logger())

	router, err := transcribe.NewRouter(transcribe.RouterOptions{
		Registry:    reg,
		Credentials: creds,
		Adapters: map[registry.Family]transcribe.Adapter{
			registry.FamilyMultimodalLLM: transcribe.NewGeminiAdapter(transcribe.GeminiOptions{
				BaseURL: cfg.Providers.Gemini,
				Log:     log,
			}),
			registry.FamilySpeechAPI:    SpeechAdapter(cfg),
			registry.FamilyOnDevice:     onDevice,
			registry.FamilyDeviceNative: transcribe.NewNativeAdapter(nil),
		},
		Prefs:        prefs,
		DefaultModel: cfg.DefaultModel,
		Log:          log,
	})
	if err != nil {
		onDevice.Close()
		return nil, err
	}
	return &Engine{Router: router, Credentials: creds, Registry: reg, onDevice: onDevice}, nil
}

// SpeechAdapter registers one backend per speech-api provider. Empty base
// URLs fall back to each vendor's public endpoint.
func SpeechAdapter(cfg *config.Config) *transcribe.SpeechAdapter {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	pc := transcribe.PollConfig{Interval: cfg.PollInterval, MaxAttempts: cfg.PollMaxAttempts}
	p := cfg.Providers

	backends := map[string]transcribe.Adapter{
		"openai":      transcribe.NewOpenAICompatClient("openai", or(p.OpenAI, transcribe.OpenAIBaseURL), httpClient),
		"groq":        transcribe.NewOpenAICompatClient("groq", or(p.Groq, transcribe.GroqBaseURL), httpClient),
		"together":    transcribe.NewOpenAICompatClient("together", or(p.Together, transcribe.TogetherBaseURL), httpClient),
		"assemblyai":  transcribe.NewAssemblyAIClient(p.AssemblyAI, httpClient, pc),
		"replicate":   transcribe.NewReplicateClient(p.Replicate, p.ReplicateVersion, httpClient, pc),
		"deepgram":    transcribe.NewDeepgramClient(p.Deepgram, cfg.ProviderTimeout),
		"huggingface": transcribe.NewHuggingFaceClient(p.HuggingFace, cfg.ProviderTimeout),
		"deepinfra":   transcribe.NewDeepInfraClient(p.DeepInfra, cfg.ProviderTimeout),
		"elevenlabs":  transcribe.NewElevenLabsClient(p.ElevenLabs, p.ElevenLabsKeyterms, cfg.ProviderTimeout),
	}
	if cfg.WhisperURL != "" {
		backends["whisper-server"] = transcribe.NewWhisperServerClient(cfg.WhisperURL, cfg.ProviderTimeout, transcribe.WhisperTuning{
			Temperature: cfg.WhisperTemperature,
			BeamSize:    cfg.WhisperBeamSize,
			VadFilter:   cfg.WhisperVADFilter,
		})
	}
	return transcribe.NewSpeechAdapter(backends)
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
