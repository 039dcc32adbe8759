// Package storage keeps uploaded recordings on local disk, in S3, or both.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/config"
)

// RecordingStore abstracts recording storage backends.
type RecordingStore interface {
	// Save stores audio data. Key format: {YYYY-MM-DD}/{id}{ext}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the file exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns a presigned URL for the recording.
	// Returns "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Size(ctx context.Context, key string) (int64, error)
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// New creates a RecordingStore based on config. The returned stop func drains
// background uploads and must be called on shutdown.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, audioDir string, log zerolog.Logger) (RecordingStore, func(), error) {
	noop := func() {}
	if !cfg.Enabled() {
		return NewLocalStore(audioDir), noop, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, noop, fmt.Errorf("S3 init failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, noop, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, noop, nil
	}

	uploader := NewAsyncUploader(s3store, 64, log)
	uploader.Start(2)
	return NewTieredStore(s3store, NewLocalStore(audioDir), uploader, log), uploader.Stop, nil
}

// NewKey builds a fresh date-partitioned key that keeps the original extension.
func NewKey(now time.Time, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return path.Join(now.UTC().Format("2006-01-02"), uuid.NewString()+ext)
}

// Source returns an audio handle that reads key from store.
func Source(store RecordingStore, key string) audio.Source {
	return audio.NewStored(store, key)
}
