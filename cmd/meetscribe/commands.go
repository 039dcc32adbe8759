package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/storage"
	"github.com/snarg/meetscribe/internal/transcribe"
)

type modelSetter interface {
	SetActiveModel(ctx context.Context, id string) error
}

type jobEnqueuer interface {
	Enqueue(j transcribe.Job) (string, error)
}

type autoTranscriber interface {
	SetAutoTranscribe(on bool)
}

// commands handles messages on {prefix}/cmd/{command}. Outcomes are visible
// through the job and model events mirrored back to the broker.
type commands struct {
	router modelSetter
	jobs   jobEnqueuer
	store  storage.RecordingStore
	inbox  autoTranscriber
	log    zerolog.Logger
}

type transcribeCommand struct {
	Key      string `json:"key"`
	Model    string `json:"model"`
	Language string `json:"language"`
	Prompt   string `json:"prompt"`
}

func (c *commands) handle(command string, payload []byte) {
	log := c.log.With().Str("command", command).Logger()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch command {
	case "transcribe":
		var cmd transcribeCommand
		if err := json.Unmarshal(payload, &cmd); err != nil || strings.TrimSpace(cmd.Key) == "" {
			log.Warn().Err(err).Msg("transcribe command needs {\"key\": ...}")
			return
		}
		if !c.store.Exists(ctx, cmd.Key) {
			log.Warn().Str("key", cmd.Key).Msg("recording not found")
			return
		}
		id, err := c.jobs.Enqueue(transcribe.Job{
			Audio:   storage.Source(c.store, cmd.Key),
			ModelID: cmd.Model,
			Options: transcribe.Options{Language: cmd.Language, Prompt: cmd.Prompt},
			Source:  "mqtt",
		})
		if err != nil {
			log.Warn().Err(err).Str("key", cmd.Key).Msg("failed to enqueue transcription")
			return
		}
		log.Info().Str("job_id", id).Str("key", cmd.Key).Msg("transcription queued")

	case "model":
		var body struct {
			Model string `json:"model"`
		}
		if err := json.Unmarshal(payload, &body); err != nil || body.Model == "" {
			log.Warn().Err(err).Msg("model command needs {\"model\": ...}")
			return
		}
		if err := c.router.SetActiveModel(ctx, body.Model); err != nil {
			log.Warn().Err(err).Str("model", body.Model).Msg("failed to set active model")
			return
		}
		log.Info().Str("model", body.Model).Msg("active model changed")

	case "auto-transcribe":
		if c.inbox == nil {
			log.Warn().Msg("inbox not configured")
			return
		}
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.Unmarshal(payload, &body); err != nil || body.Enabled == nil {
			log.Warn().Err(err).Msg("auto-transcribe command needs {\"enabled\": bool}")
			return
		}
		c.inbox.SetAutoTranscribe(*body.Enabled)

	default:
		log.Debug().Msg("unknown command")
	}
}
