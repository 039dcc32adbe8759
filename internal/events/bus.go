// Package events distributes job progress and results to SSE subscribers
// and other sinks.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarg/meetscribe/internal/metrics"
)

// Event is a published event ready for transmission.
type Event struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"event_type"`
	SubType   string          `json:"sub_type,omitempty"`
	Timestamp string          `json:"timestamp"`
	JobID     string          `json:"job_id,omitempty"`
	Model     string          `json:"model,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Filter selects which events a subscriber receives. Empty fields match
// everything. Types accepts "type" or compound "type:subtype".
type Filter struct {
	Types  []string
	Jobs   []string
	Models []string
}

// Data holds all fields needed to publish an event.
type Data struct {
	Type    string
	SubType string
	JobID   string
	Model   string
	Payload any
}

// Sink receives every published event. Sinks run synchronously and must not
// block.
type Sink func(Event)

// Bus provides pub-sub event distribution. It keeps a ring buffer for
// replay on reconnect.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	sinks       []Sink
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// NewBus creates an event bus with the given ring buffer size.
func NewBus(ringSize int) *Bus {
	if ringSize < 1 {
		ringSize = 1
	}
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a new subscriber and returns a channel and cancel function.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// AddSink registers a callback that sees every event, e.g. the MQTT bridge.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// SubscriberCount returns the number of connected subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// ReplaySince returns buffered events after lastEventID. When the id has
// already rotated out of the ring, every buffered event is returned so the
// client does not silently miss everything.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var ordered []Event
	start := 0
	for i := 0; i < b.ringSize; i++ {
		e := b.ring[(b.ringHead+i)%b.ringSize]
		if e.ID == "" {
			continue
		}
		ordered = append(ordered, e)
		if lastEventID != "" && e.ID == lastEventID {
			start = len(ordered)
		}
	}

	var events []Event
	for _, e := range ordered[start:] {
		if matches(e, filter) {
			events = append(events, e)
		}
	}
	return events
}

// Publish sends an event to all matching subscribers and adds it to the ring buffer.
func (b *Bus) Publish(d Data) {
	data, err := json.Marshal(d.Payload)
	if err != nil {
		return
	}

	now := time.Now()
	seq := b.seq.Add(1)
	event := Event{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), seq),
		Type:      d.Type,
		SubType:   d.SubType,
		Timestamp: now.UTC().Format(time.RFC3339),
		JobID:     d.JobID,
		Model:     d.Model,
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if matches(event, sub.filter) {
			select {
			case sub.ch <- event:
			default:
				// Drop if subscriber is slow
			}
		}
	}
	sinks := b.sinks
	b.mu.RUnlock()

	for _, s := range sinks {
		s(event)
	}
	metrics.SSEEventsPublishedTotal.Inc()
}

// PublishFunc adapts the bus to callbacks that name events "type.subtype"
// and carry job_id/model in the payload.
func (b *Bus) PublishFunc() func(string, map[string]any) {
	return func(name string, payload map[string]any) {
		typ, sub, _ := strings.Cut(name, ".")
		jobID, _ := payload["job_id"].(string)
		model, _ := payload["model"].(string)
		b.Publish(Data{Type: typ, SubType: sub, JobID: jobID, Model: model, Payload: payload})
	}
}

func matches(e Event, f Filter) bool {
	if len(f.Types) > 0 {
		match := false
		for _, t := range f.Types {
			t = strings.TrimSpace(t)
			if base, sub, ok := strings.Cut(t, ":"); ok {
				if base == e.Type && sub == e.SubType {
					match = true
					break
				}
			} else if t == e.Type {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.Jobs) > 0 && e.JobID != "" && !contains(f.Jobs, e.JobID) {
		return false
	}
	if len(f.Models) > 0 && e.Model != "" && !contains(f.Models, e.Model) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.TrimSpace(s) == v {
			return true
		}
	}
	return false
}
