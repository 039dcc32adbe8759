package transcribe

import "sync"

// Progress checkpoints owned by the router. Adapter progress is mapped into
// [adapterFloor, adapterCeil].
const (
	progressPreparing = 5
	adapterFloor      = 10
	adapterCeil       = 95
	progressCompleted = 100
)

// tracker enforces the per-call event contract: progress never decreases,
// exactly one terminal event, nothing after it.
type tracker struct {
	mu    sync.Mutex
	sink  ProgressFunc
	model string
	last  int
	done  bool
}

func newTracker(sink ProgressFunc) *tracker {
	return &tracker{sink: sink}
}

func (t *tracker) emit(phase Phase, progress int, msg string) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	if progress < t.last {
		progress = t.last
	}
	if progress > progressCompleted {
		progress = progressCompleted
	}
	t.last = progress
	if phase.Terminal() {
		t.done = true
	}
	ev := ProgressEvent{Phase: phase, Progress: progress, Message: msg, Model: t.model}
	sink := t.sink
	t.mu.Unlock()

	if sink != nil {
		sink(ev)
	}
}

// adapterPhase is handed to adapters. Terminal phases are reserved for the
// router and are reported as processing.
func (t *tracker) adapterPhase(phase Phase, progress int, msg string) {
	if phase.Terminal() || phase == "" {
		phase = PhaseProcessing
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.emit(phase, adapterFloor+progress*(adapterCeil-adapterFloor)/100, msg)
}

func (t *tracker) fail(err error) {
	t.mu.Lock()
	last := t.last
	t.mu.Unlock()
	t.emit(PhaseError, last, err.Error())
}
