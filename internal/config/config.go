package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"512"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`

	// StateDB is the sqlite file holding credentials and preferences.
	// DatabaseURL, when set, moves them and job history to Postgres.
	StateDB      string        `env:"STATE_DB" envDefault:"meetscribe.db"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	JobRetention time.Duration `env:"JOB_RETENTION"`
	// Pool sizing for Postgres. Zero MaxConns sizes the pool from
	// TRANSCRIBE_WORKERS.
	DBMaxConns    int32         `env:"DATABASE_MAX_CONNS"`
	DBMinConns    int32         `env:"DATABASE_MIN_CONNS" envDefault:"1"`
	DBMaxConnIdle time.Duration `env:"DATABASE_MAX_CONN_IDLE" envDefault:"5m"`

	AudioDir string   `env:"AUDIO_DIR" envDefault:"./recordings"`
	S3       S3Config `envPrefix:"S3_"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"meetscribe"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"meetscribe"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	InboxDir       string `env:"INBOX_DIR"`
	AutoTranscribe bool   `env:"AUTO_TRANSCRIBE" envDefault:"true"`

	DefaultModel string `env:"DEFAULT_MODEL"`
	SummaryModel string `env:"SUMMARY_MODEL" envDefault:"gemini-2.5-flash"`

	TranscribeWorkers   int           `env:"TRANSCRIBE_WORKERS" envDefault:"2"`
	TranscribeQueueSize int           `env:"TRANSCRIBE_QUEUE_SIZE" envDefault:"100"`
	JobTimeout          time.Duration `env:"TRANSCRIBE_JOB_TIMEOUT" envDefault:"30m"`
	ProviderTimeout     time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10m"`
	PollInterval        time.Duration `env:"POLL_INTERVAL"`     // 0 = provider default
	PollMaxAttempts     uint          `env:"POLL_MAX_ATTEMPTS"` // 0 = provider default

	WhisperURL         string  `env:"WHISPER_URL"`
	WhisperModel       string  `env:"WHISPER_MODEL"`
	WhisperTemperature float64 `env:"WHISPER_TEMPERATURE" envDefault:"0"`
	WhisperBeamSize    int     `env:"WHISPER_BEAM_SIZE"`
	WhisperVADFilter   bool    `env:"WHISPER_VAD_FILTER"`

	OnDeviceModelDir string `env:"ONDEVICE_MODEL_DIR"`
	SoxPreprocess    bool   `env:"SOX_PREPROCESS" envDefault:"true"`

	Providers ProviderURLs
}

// ProviderURLs overrides backend base URLs, for proxies and tests.
// Empty values use each provider's public endpoint.
type ProviderURLs struct {
	Gemini      string `env:"GEMINI_BASE_URL"`
	OpenAI      string `env:"OPENAI_BASE_URL"`
	Groq        string `env:"GROQ_BASE_URL"`
	Together    string `env:"TOGETHER_BASE_URL"`
	AssemblyAI  string `env:"ASSEMBLYAI_BASE_URL"`
	Deepgram    string `env:"DEEPGRAM_BASE_URL"`
	Replicate   string `env:"REPLICATE_BASE_URL"`
	HuggingFace string `env:"HUGGINGFACE_BASE_URL"`
	DeepInfra   string `env:"DEEPINFRA_BASE_URL"`
	ElevenLabs  string `env:"ELEVENLABS_BASE_URL"`

	ReplicateVersion   string `env:"REPLICATE_WHISPER_VERSION"`
	ElevenLabsKeyterms string `env:"ELEVENLABS_KEYTERMS"`
}

// S3Config configures the optional S3 recording store.
type S3Config struct {
	Bucket        string        `env:"BUCKET"`
	Endpoint      string        `env:"ENDPOINT"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	Prefix        string        `env:"PREFIX"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
	// LocalCache keeps recordings on local disk with S3 as backup.
	LocalCache bool `env:"LOCAL_CACHE" envDefault:"true"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile      string
	HTTPAddr     string
	LogLevel     string
	DatabaseURL  string
	StateDB      string
	AudioDir     string
	InboxDir     string
	DefaultModel string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.StateDB != "" {
		cfg.StateDB = overrides.StateDB
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}
	if overrides.InboxDir != "" {
		cfg.InboxDir = overrides.InboxDir
	}
	if overrides.DefaultModel != "" {
		cfg.DefaultModel = overrides.DefaultModel
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TranscribeWorkers < 1 {
		return fmt.Errorf("TRANSCRIBE_WORKERS must be at least 1, got %d", c.TranscribeWorkers)
	}
	if c.TranscribeQueueSize < 1 {
		return fmt.Errorf("TRANSCRIBE_QUEUE_SIZE must be at least 1, got %d", c.TranscribeQueueSize)
	}
	if c.DBMaxConns < 0 || c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("DATABASE_MIN_CONNS (%d) must not exceed DATABASE_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.S3.Enabled() && (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
	}
	return nil
}
