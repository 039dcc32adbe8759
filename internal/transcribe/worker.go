package transcribe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/audio"
)

var (
	ErrQueueFull   = errors.New("transcription queue is full")
	ErrPoolStopped = errors.New("transcription pool is stopped")
)

// Transcriber is satisfied by *Router.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// Job is a queued transcription.
type Job struct {
	ID      string // assigned on enqueue when empty
	Audio   audio.Source
	ModelID string
	Options Options
	Source  string // "api", "inbox", "cli"
	// Cleanup runs after the job finishes, successful or not.
	Cleanup func()
}

// QueueStats reports the current state of the transcription queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Running   int   `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// EventPublishFunc is a callback for publishing job events.
type EventPublishFunc func(eventType string, payload map[string]any)

// PoolOptions configures the transcription worker pool.
type PoolOptions struct {
	Transcriber  Transcriber
	Store        ResultStore
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration // 0 = no per-job deadline
	PublishEvent EventPublishFunc
	Log          zerolog.Logger
}

// Pool runs queued transcriptions on a fixed set of workers.
type Pool struct {
	jobs   chan Job
	opts   PoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	live    map[string]*JobRecord

	running   atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a transcription worker pool. Call Start to launch workers.
func NewPool(opts PoolOptions) *Pool {
	if opts.Store == nil {
		opts.Store = NewMemoryResults()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:   make(chan Job, opts.QueueSize),
		opts:   opts,
		log:    opts.Log.With().Str("component", "jobs").Logger(),
		ctx:    ctx,
		cancel: cancel,
		live:   make(map[string]*JobRecord),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info().Int("workers", p.opts.Workers).Int("queue_size", p.opts.QueueSize).Msg("transcription worker pool started")
}

// Stop stops accepting jobs, lets workers drain the queue, and waits.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("transcription worker pool stopped")
}

// Enqueue records the job as queued and hands it to a worker. It never
// blocks: a full queue returns ErrQueueFull.
func (p *Pool) Enqueue(j Job) (string, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	rec := &JobRecord{
		ID:          j.ID,
		ModelID:     j.ModelID,
		AudioName:   nameOf(j.Audio),
		Source:      j.Source,
		Status:      JobQueued,
		SubmittedAt: time.Now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return "", ErrPoolStopped
	}
	p.live[j.ID] = rec
	select {
	case p.jobs <- j:
		return j.ID, nil
	default:
		delete(p.live, j.ID)
		return "", ErrQueueFull
	}
}

// Job returns a running or queued job from memory, else the stored record.
func (p *Pool) Job(ctx context.Context, id string) (*JobRecord, error) {
	p.mu.RLock()
	rec, ok := p.live[id]
	var snap JobRecord
	if ok {
		snap = *rec
	}
	p.mu.RUnlock()
	if ok {
		return &snap, nil
	}
	return p.opts.Store.GetJob(ctx, id)
}

// Stats returns current queue statistics.
func (p *Pool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(p.jobs),
		Running:   int(p.running.Load()),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Pending is the number of queued jobs not yet picked up.
func (p *Pool) Pending() int { return len(p.jobs) }

// Running is the number of jobs being transcribed.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.opts.Workers }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for job := range p.jobs {
		p.running.Add(1)
		if err := p.processJob(log, job); err != nil {
			p.failed.Add(1)
			log.Warn().Err(err).Str("job_id", job.ID).Str("model", job.ModelID).Msg("transcription job failed")
		} else {
			p.completed.Add(1)
		}
		p.running.Add(-1)
		if job.Cleanup != nil {
			job.Cleanup()
		}
	}
}

func (p *Pool) update(id string, fn func(*JobRecord)) JobRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.live[id]
	if !ok {
		rec = &JobRecord{ID: id}
		p.live[id] = rec
	}
	fn(rec)
	return *rec
}

func (p *Pool) processJob(log zerolog.Logger, job Job) error {
	ctx := p.ctx
	if p.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.JobTimeout)
		defer cancel()
	}

	started := time.Now().UTC()
	p.update(job.ID, func(r *JobRecord) {
		r.Status = JobRunning
		r.StartedAt = &started
	})

	res, err := p.opts.Transcriber.Transcribe(ctx, Request{
		Audio:   job.Audio,
		ModelID: job.ModelID,
		Options: job.Options,
		OnProgress: func(ev ProgressEvent) {
			p.update(job.ID, func(r *JobRecord) {
				r.Phase = ev.Phase
				r.Progress = ev.Progress
				if ev.Model != "" {
					r.ModelID = ev.Model
				}
			})
			p.publish("transcription.progress", map[string]any{
				"job_id":   job.ID,
				"phase":    ev.Phase,
				"progress": ev.Progress,
				"message":  ev.Message,
				"model":    ev.Model,
			})
		},
	})

	finished := time.Now().UTC()
	rec := p.update(job.ID, func(r *JobRecord) {
		r.FinishedAt = &finished
		if err != nil {
			r.Status = JobFailed
			r.Phase = PhaseError
			r.Error = err.Error()
			if k := KindOf(err); k != 0 {
				r.ErrorKind = k.String()
			}
			return
		}
		r.Status = JobCompleted
		r.Phase = PhaseCompleted
		r.Progress = progressCompleted
		r.ModelID = res.Model
		r.Result = res
	})

	// Persist with a fresh context so a timed-out job still records its failure.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := p.opts.Store.SaveJob(saveCtx, &rec); serr != nil {
		log.Error().Err(serr).Str("job_id", job.ID).Msg("failed to save job result")
	} else {
		p.mu.Lock()
		delete(p.live, job.ID)
		p.mu.Unlock()
	}

	if err != nil {
		p.publish("transcription.failed", map[string]any{
			"job_id": job.ID,
			"model":  rec.ModelID,
			"kind":   rec.ErrorKind,
			"error":  rec.Error,
		})
		return err
	}

	p.publish("transcription.completed", map[string]any{
		"job_id":        job.ID,
		"model":         res.Model,
		"provider":      res.Provider,
		"chars":         len(res.Text),
		"segments":      len(res.Segments),
		"processing_ms": res.ProcessingMs,
	})
	log.Debug().
		Str("job_id", job.ID).
		Str("model", res.Model).
		Int("segments", len(res.Segments)).
		Int64("duration_ms", res.ProcessingMs).
		Msg("transcription job complete")
	return nil
}

func (p *Pool) publish(eventType string, payload map[string]any) {
	if p.opts.PublishEvent != nil {
		p.opts.PublishEvent(eventType, payload)
	}
}

func nameOf(src audio.Source) string {
	if src == nil {
		return ""
	}
	return src.Name()
}
