package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		defer cancel()

		b.Publish(Data{
			Type:    "transcription",
			SubType: "progress",
			JobID:   "j1",
			Payload: map[string]string{"msg": "hello"},
		})

		select {
		case evt := <-ch:
			if evt.Type != "transcription" {
				t.Errorf("Type = %q, want transcription", evt.Type)
			}
			if evt.JobID != "j1" {
				t.Errorf("JobID = %q, want j1", evt.JobID)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]string
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["msg"] != "hello" {
				t.Errorf("payload msg = %q, want hello", payload["msg"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{Types: []string{"summary"}})
		defer cancel()

		b.Publish(Data{Type: "transcription", Payload: "x"})

		select {
		case evt := <-ch:
			t.Fatalf("should not receive event, got %+v", evt)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("cancel_stops_delivery", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		cancel()
		if n := b.SubscriberCount(); n != 0 {
			t.Errorf("SubscriberCount = %d, want 0", n)
		}

		b.Publish(Data{Type: "transcription", Payload: "x"})

		select {
		case <-ch:
			t.Fatal("should not receive event after cancel")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("sink_sees_every_event", func(t *testing.T) {
		b := NewBus(8)
		var got []string
		b.AddSink(func(e Event) { got = append(got, e.Type+":"+e.SubType) })

		b.PublishFunc()("transcription.completed", map[string]any{"job_id": "j9", "model": "m"})

		if len(got) != 1 || got[0] != "transcription:completed" {
			t.Errorf("sink got %v", got)
		}
	})
}

func TestBusReplaySince(t *testing.T) {
	t.Run("replay_all_when_empty_lastID", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(Data{Type: "a", Payload: 1})
		b.Publish(Data{Type: "b", Payload: 2})

		if events := b.ReplaySince("", Filter{}); len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
	})

	t.Run("replay_after_specific_id", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(Data{Type: "a", Payload: 1})
		firstID := b.ReplaySince("", Filter{})[0].ID
		b.Publish(Data{Type: "b", Payload: 2})

		events := b.ReplaySince(firstID, Filter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
		if events[0].Type != "b" {
			t.Errorf("Type = %q, want b", events[0].Type)
		}
	})

	t.Run("ring_wraps_in_order", func(t *testing.T) {
		b := NewBus(2)
		b.Publish(Data{Type: "a", Payload: 1})
		b.Publish(Data{Type: "b", Payload: 2})
		b.Publish(Data{Type: "c", Payload: 3})

		events := b.ReplaySince("", Filter{})
		if len(events) != 2 || events[0].Type != "b" || events[1].Type != "c" {
			t.Errorf("events = %+v, want [b c]", events)
		}
	})

	t.Run("unknown_lastID_replays_all", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(Data{Type: "a", Payload: 1})

		if events := b.ReplaySince("nonexistent-id", Filter{}); len(events) != 1 {
			t.Fatalf("got %d events, want 1 (fallback replay all)", len(events))
		}
	})
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		event  Event
		filter Filter
		want   bool
	}{
		{"empty_filter_matches_all", Event{Type: "transcription", JobID: "j1"}, Filter{}, true},
		{"type_match", Event{Type: "transcription"}, Filter{Types: []string{"transcription"}}, true},
		{"type_no_match", Event{Type: "transcription"}, Filter{Types: []string{"summary"}}, false},
		{"compound_match", Event{Type: "transcription", SubType: "failed"}, Filter{Types: []string{"transcription:failed"}}, true},
		{"compound_no_match", Event{Type: "transcription", SubType: "progress"}, Filter{Types: []string{"transcription:failed"}}, false},
		{"job_match", Event{JobID: "j1"}, Filter{Jobs: []string{"j1", "j2"}}, true},
		{"job_no_match", Event{JobID: "j3"}, Filter{Jobs: []string{"j1"}}, false},
		{"job_filter_ignores_unscoped_event", Event{Type: "model"}, Filter{Jobs: []string{"j1"}}, true},
		{"model_no_match", Event{Model: "groq-whisper-v3"}, Filter{Models: []string{"assemblyai"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matches(tt.event, tt.filter); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
