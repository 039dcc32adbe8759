package transcribe

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrJobNotFound is returned by ResultStore.GetJob for unknown ids.
var ErrJobNotFound = errors.New("transcription job not found")

// JobStatus is the lifecycle state of an async job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobRecord is the externally visible state of an async job.
type JobRecord struct {
	ID          string     `json:"id"`
	ModelID     string     `json:"model,omitempty"`
	AudioName   string     `json:"audio,omitempty"`
	Source      string     `json:"source,omitempty"`
	Status      JobStatus  `json:"status"`
	Phase       Phase      `json:"phase,omitempty"`
	Progress    int        `json:"progress"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ResultStore persists finished jobs.
type ResultStore interface {
	SaveJob(ctx context.Context, rec *JobRecord) error
	GetJob(ctx context.Context, id string) (*JobRecord, error)
	// ListJobs returns up to limit jobs, newest first.
	ListJobs(ctx context.Context, limit int) ([]JobRecord, error)
}

// MemoryResults keeps finished jobs in memory, evicting the oldest once
// more than maxMemoryJobs are held.
type MemoryResults struct {
	mu    sync.RWMutex
	jobs  map[string]JobRecord
	order []string
}

const maxMemoryJobs = 1000

func NewMemoryResults() *MemoryResults {
	return &MemoryResults{jobs: make(map[string]JobRecord)}
}

func (m *MemoryResults) SaveJob(_ context.Context, rec *JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[rec.ID]; !ok {
		m.order = append(m.order, rec.ID)
	}
	m.jobs[rec.ID] = *rec
	for len(m.order) > maxMemoryJobs {
		delete(m.jobs, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *MemoryResults) GetJob(_ context.Context, id string) (*JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &rec, nil
}

func (m *MemoryResults) ListJobs(_ context.Context, limit int) ([]JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]JobRecord, 0, min(limit, len(m.order)))
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.jobs[m.order[i]])
	}
	return out, nil
}
