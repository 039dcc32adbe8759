package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/metrics"
)

// objectSaver is the S3 side of a tiered store.
type objectSaver interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
}

// AsyncUploader pushes recordings to S3 in the background. Files are already
// on local disk before being enqueued here.
type AsyncUploader struct {
	dst      objectSaver
	ch       chan uploadJob
	log      zerolog.Logger
	wg       sync.WaitGroup
	mu       sync.Mutex // guards ch against send-after-close
	stopped  bool
}

type uploadJob struct {
	key         string
	data        []byte
	contentType string
}

// NewAsyncUploader creates an async uploader with the given buffer size.
func NewAsyncUploader(dst objectSaver, bufferSize int, log zerolog.Logger) *AsyncUploader {
	return &AsyncUploader{
		dst: dst,
		ch:  make(chan uploadJob, bufferSize),
		log: log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue adds an upload job. Non-blocking: drops with a warning if the
// buffer is full or the uploader is stopped.
func (u *AsyncUploader) Enqueue(key string, data []byte, contentType string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return
	}
	select {
	case u.ch <- uploadJob{key: key, data: data, contentType: contentType}:
	default:
		metrics.RecordingUploadsTotal.WithLabelValues("dropped").Inc()
		u.log.Warn().Str("key", key).Msg("upload queue full, skipping (file safe on disk)")
	}
}

// Start launches worker goroutines.
func (u *AsyncUploader) Start(workers int) {
	for i := 0; i < workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop closes the queue and waits for in-flight uploads to drain.
func (u *AsyncUploader) Stop() {
	u.mu.Lock()
	if !u.stopped {
		u.stopped = true
		close(u.ch)
	}
	u.mu.Unlock()
	u.wg.Wait()
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.dst.Save(ctx, job.key, job.data, job.contentType); err != nil {
			metrics.RecordingUploadsTotal.WithLabelValues("error").Inc()
			u.log.Error().Err(err).Str("key", job.key).Msg("S3 upload failed (file safe on disk)")
		} else {
			metrics.RecordingUploadsTotal.WithLabelValues("ok").Inc()
		}
		cancel()
	}
}
