package transcribe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/audio"
)

type fakeTranscriber struct {
	block chan struct{}
	err   error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if req.OnProgress != nil {
		req.OnProgress(ProgressEvent{Phase: PhaseProcessing, Progress: 50, Model: "m1"})
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Result{Text: "done", Model: "m1", Provider: "p"}, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (e *eventRecorder) publish(eventType string, _ map[string]any) {
	e.mu.Lock()
	e.events = append(e.events, eventType)
	e.mu.Unlock()
}

func (e *eventRecorder) has(t string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev == t {
			return true
		}
	}
	return false
}

func newTestPool(workers, queueSize int, tr Transcriber) *Pool {
	return NewPool(PoolOptions{
		Transcriber: tr,
		Workers:     workers,
		QueueSize:   queueSize,
		Log:         zerolog.Nop(),
	})
}

func testJob() Job {
	return Job{Audio: audio.NewBytes("a.m4a", []byte{1}), ModelID: "m1", Source: "test"}
}

func waitJob(t *testing.T, p *Pool, id string, want JobStatus) *JobRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := p.Job(context.Background(), id)
		if err == nil && rec.Status == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, want)
	return nil
}

func TestNewPool(t *testing.T) {
	p := newTestPool(4, 100, &fakeTranscriber{})
	if cap(p.jobs) != 100 {
		t.Errorf("queue capacity = %d, want 100", cap(p.jobs))
	}
	if p.Workers() != 4 {
		t.Errorf("Workers = %d, want 4", p.Workers())
	}
}

func TestPool_EnqueueBeforeStart(t *testing.T) {
	p := newTestPool(2, 5, &fakeTranscriber{})
	id, err := p.Enqueue(testJob())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rec, err := p.Job(context.Background(), id)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if rec.Status != JobQueued {
		t.Errorf("Status = %s, want %s", rec.Status, JobQueued)
	}
}

func TestPool_EnqueueFull(t *testing.T) {
	p := newTestPool(0, 2, &fakeTranscriber{}) // 0 workers = nobody draining

	p.Enqueue(testJob())
	p.Enqueue(testJob())

	if _, err := p.Enqueue(testJob()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue on full queue = %v, want ErrQueueFull", err)
	}
	if s := p.Stats(); s.Pending != 2 {
		t.Errorf("Pending = %d, want 2", s.Pending)
	}
}

func TestPool_EnqueueAfterStop(t *testing.T) {
	p := newTestPool(1, 10, &fakeTranscriber{})
	p.Start()
	p.Stop()

	if _, err := p.Enqueue(testJob()); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Enqueue after Stop = %v, want ErrPoolStopped", err)
	}
	p.Stop() // idempotent
}

func TestPool_CompletesJob(t *testing.T) {
	rec := &eventRecorder{}
	store := NewMemoryResults()
	cleaned := make(chan struct{})
	p := NewPool(PoolOptions{
		Transcriber:  &fakeTranscriber{},
		Store:        store,
		Workers:      1,
		QueueSize:    4,
		PublishEvent: rec.publish,
		Log:          zerolog.Nop(),
	})
	p.Start()
	defer p.Stop()

	j := testJob()
	j.Cleanup = func() { close(cleaned) }
	id, err := p.Enqueue(j)
	if err != nil {
		t.Fatal(err)
	}

	got := waitJob(t, p, id, JobCompleted)
	if got.Result == nil || got.Result.Text != "done" {
		t.Errorf("Result = %+v, want text %q", got.Result, "done")
	}
	if got.Progress != 100 {
		t.Errorf("Progress = %d, want 100", got.Progress)
	}
	if got.SubmittedAt.IsZero() || got.FinishedAt == nil {
		t.Errorf("timestamps not recorded: %+v", got)
	}
	select {
	case <-cleaned:
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup never ran")
	}
	if !rec.has("transcription.progress") || !rec.has("transcription.completed") {
		t.Errorf("events = %v", rec.events)
	}
	if _, err := store.GetJob(context.Background(), id); err != nil {
		t.Errorf("store.GetJob: %v", err)
	}
}

func TestPool_FailedJobKeepsKind(t *testing.T) {
	rec := &eventRecorder{}
	p := NewPool(PoolOptions{
		Transcriber:  &fakeTranscriber{err: &Error{Kind: KindCredentialRequired, Msg: "no key"}},
		Workers:      1,
		QueueSize:    1,
		PublishEvent: rec.publish,
		Log:          zerolog.Nop(),
	})
	p.Start()
	defer p.Stop()

	id, _ := p.Enqueue(testJob())
	got := waitJob(t, p, id, JobFailed)
	if got.ErrorKind != "credential_required" {
		t.Errorf("ErrorKind = %q, want credential_required", got.ErrorKind)
	}
	if got.Result != nil {
		t.Errorf("failed job has result %+v", got.Result)
	}
	if s := p.Stats(); s.Failed != 1 {
		t.Errorf("Failed = %d, want 1", s.Failed)
	}
	if !rec.has("transcription.failed") {
		t.Errorf("events = %v", rec.events)
	}
}

func TestPool_JobTimeout(t *testing.T) {
	p := NewPool(PoolOptions{
		Transcriber: &fakeTranscriber{block: make(chan struct{})},
		Workers:     1,
		QueueSize:   1,
		JobTimeout:  20 * time.Millisecond,
		Log:         zerolog.Nop(),
	})
	p.Start()
	defer p.Stop()

	id, _ := p.Enqueue(testJob())
	got := waitJob(t, p, id, JobFailed)
	if got.Error == "" {
		t.Error("timed-out job has no error")
	}
}

func TestPool_UnknownJob(t *testing.T) {
	p := newTestPool(0, 1, &fakeTranscriber{})
	if _, err := p.Job(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Job(nope) = %v, want ErrJobNotFound", err)
	}
}

func TestPool_StopDrains(t *testing.T) {
	p := newTestPool(2, 10, &fakeTranscriber{})
	p.Start()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return within 5 seconds")
	}
}

func TestMemoryResults_Evicts(t *testing.T) {
	m := NewMemoryResults()
	ctx := context.Background()
	for i := 0; i < maxMemoryJobs+1; i++ {
		m.SaveJob(ctx, &JobRecord{ID: string(rune('a'+i%26)) + time.Duration(i).String()})
	}
	if len(m.jobs) != maxMemoryJobs {
		t.Errorf("len = %d, want %d", len(m.jobs), maxMemoryJobs)
	}
	if _, err := m.GetJob(ctx, "a0s"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("oldest job should be evicted, got %v", err)
	}
}

func TestMemoryResults_ListNewestFirst(t *testing.T) {
	m := NewMemoryResults()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		m.SaveJob(ctx, &JobRecord{ID: id})
	}
	got, err := m.ListJobs(ctx, 2)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("ListJobs = %+v, want [c b]", got)
	}
}
