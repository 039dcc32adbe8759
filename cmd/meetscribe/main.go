package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/api"
	"github.com/snarg/meetscribe/internal/config"
	"github.com/snarg/meetscribe/internal/database"
	"github.com/snarg/meetscribe/internal/events"
	"github.com/snarg/meetscribe/internal/ingest"
	"github.com/snarg/meetscribe/internal/metrics"
	"github.com/snarg/meetscribe/internal/mqttclient"
	"github.com/snarg/meetscribe/internal/setup"
	"github.com/snarg/meetscribe/internal/storage"
	"github.com/snarg/meetscribe/internal/summary"
	"github.com/snarg/meetscribe/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var ov config.Overrides
	flag.StringVar(&ov.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&ov.HTTPAddr, "listen", "", "HTTP listen address")
	flag.StringVar(&ov.LogLevel, "log-level", "", "log level")
	flag.StringVar(&ov.DatabaseURL, "database-url", "", "Postgres connection URL")
	flag.StringVar(&ov.StateDB, "state-db", "", "sqlite state file")
	flag.StringVar(&ov.AudioDir, "audio-dir", "", "recording storage directory")
	flag.StringVar(&ov.InboxDir, "inbox-dir", "", "directory watched for new recordings")
	flag.StringVar(&ov.DefaultModel, "default-model", "", "model used when none is active")
	flag.Parse()

	// Config
	cfg, err := config.Load(ov)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("meetscribe starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// State and router
	state, err := setup.OpenState(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state")
	}
	defer state.Close()

	engine, err := setup.NewEngine(cfg, state.Prefs, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build transcription router")
	}
	defer engine.Close()
	router := engine.Router

	// Recording storage
	storeLog := log.With().Str("component", "storage").Logger()
	store, stopUploads, err := storage.New(cfg.S3, cfg.AudioDir, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize recording storage")
	}
	defer stopUploads()

	// Events and async jobs
	bus := events.NewBus(1024)
	router.SetProgressSink(func(ev transcribe.ProgressEvent) {
		bus.Publish(events.Data{Type: "transcription", SubType: "progress", Model: ev.Model, Payload: ev})
	})

	pool := transcribe.NewPool(transcribe.PoolOptions{
		Transcriber:  router,
		Store:        state.Results,
		Workers:      cfg.TranscribeWorkers,
		QueueSize:    cfg.TranscribeQueueSize,
		JobTimeout:   cfg.JobTimeout,
		PublishEvent: bus.PublishFunc(),
		Log:          log,
	})
	pool.Start()

	var (
		dbPing api.Pinger
		search api.JobSearcher
	)
	collector := metrics.NewCollector(nil, pool, bus)
	if db := state.DB; db != nil {
		dbPing, search = db, db
		collector = metrics.NewCollector(db.Pool, pool, bus)
	}
	prometheus.MustRegister(collector)

	// Inbox
	var inbox *ingest.Inbox
	if cfg.InboxDir != "" {
		inbox = ingest.NewInbox(ingest.InboxOptions{
			Dir:            cfg.InboxDir,
			Store:          store,
			Queue:          pool,
			ModelID:        cfg.DefaultModel,
			AutoTranscribe: cfg.AutoTranscribe,
			Log:            log,
		})
		if err := inbox.Start(); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.InboxDir).Msg("failed to start inbox watcher")
		}
	}

	// MQTT
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		bus.AddSink(mqtt.Sink())
		cmds := &commands{router: router, jobs: pool, store: store, log: log.With().Str("component", "mqtt-cmd").Logger()}
		if inbox != nil {
			cmds.inbox = inbox
		}
		mqtt.SetCommandHandler(cmds.handle)
	}

	// Summaries
	summarizer := summary.New(summary.Options{
		Model:       cfg.SummaryModel,
		BaseURL:     cfg.Providers.Gemini,
		Credentials: engine.Credentials,
		Log:         log,
	})

	if state.DB != nil && cfg.JobRetention > 0 {
		go purgeLoop(ctx, state.DB, cfg.JobRetention, log.With().Str("component", "retention").Logger())
	}

	// HTTP Server
	health := api.HealthOptions{
		Version:   version,
		StartTime: startTime,
		DB:        dbPing,
		Jobs:      pool,
		StoreType: store.Type(),
	}
	opts := api.Options{
		Config:     cfg,
		Router:     router,
		Jobs:       pool,
		Results:    state.Results,
		Search:     search,
		Store:      store,
		Summarizer: summarizer,
		Bus:        bus,
		Log:        log.With().Str("component", "http").Logger(),
	}
	if mqtt != nil {
		health.MQTT = mqtt
	}
	if inbox != nil {
		health.Inbox = inbox
		opts.Inbox = inbox
	}
	opts.Health = api.NewHealthHandler(health)
	srv := api.NewServer(opts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if inbox != nil {
		inbox.Stop()
	}
	pool.Stop()

	log.Info().Msg("meetscribe stopped")
}

func purgeLoop(ctx context.Context, db *database.DB, retention time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := db.PurgeJobsOlderThan(ctx, retention)
		if err != nil {
			log.Warn().Err(err).Msg("job purge failed")
		} else if n > 0 {
			log.Info().Int64("deleted", n).Dur("retention", retention).Msg("purged old transcription jobs")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
