package transaction

import (
	"testing"
	"time"

	"github.com/xraph/subledger/id"
)

func history(types ...EventType) []*Event {
	txnID := id.NewTransactionID()
	events := make([]*Event, len(types))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, et := range types {
		events[i] = &Event{
			ID:            id.NewEventID(),
			TransactionID: txnID,
			Type:          et,
			Timestamp:     base.Add(time.Duration(i) * time.Second),
		}
	}
	return events
}

func TestProjectState(t *testing.T) {
	tests := []struct {
		name     string
		events   []*Event
		expected State
	}{
		{"no events", nil, StatePending},
		{"created only", history(EventCreated), StatePending},
		{"authorized keeps pending", history(EventCreated, EventAuthorized), StatePending},
		{"happy path", history(EventCreated, EventAuthorized, EventCaptured), StateCompleted},
		{"declined", history(EventCreated, EventFailed), StateFailed},
		{"declined after auth", history(EventCreated, EventAuthorized, EventFailed), StateFailed},
		{"canceled before dispatch", history(EventCreated, EventCanceled), StateCanceled},
		{"refund annotation keeps completed", history(EventCreated, EventAuthorized, EventCaptured, EventRefunded), StateCompleted},
		{"dispute annotation keeps completed", history(EventCreated, EventAuthorized, EventCaptured, EventDisputed), StateCompleted},
		{"custom event ignored", history(EventCreated, EventType("webhook_echo"), EventCaptured), StateCompleted},
		{"failed is sticky", history(EventCreated, EventFailed, EventCaptured), StateFailed},
		{"canceled is sticky", history(EventCreated, EventCanceled, EventCaptured), StateCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProjectState(tt.events); got != tt.expected {
				t.Errorf("ProjectState: got %s, want %s", got, tt.expected)
			}
		})
	}
}

// Replaying any prefix of a history never moves the state backwards from a
// terminal state, and replaying the full history twice is deterministic.
func TestProjectStateMonotonicAndDeterministic(t *testing.T) {
	events := history(EventCreated, EventAuthorized, EventCaptured, EventRefunded, EventDisputed)

	var prev State = StatePending
	for i := 1; i <= len(events); i++ {
		state := ProjectState(events[:i])
		if prev.Terminal() && state != prev {
			t.Fatalf("state moved %s -> %s after terminal", prev, state)
		}
		prev = state
	}

	if a, b := ProjectState(events), ProjectState(events); a != b {
		t.Errorf("replay not deterministic: %s != %s", a, b)
	}
}

func TestReplayable(t *testing.T) {
	tests := []struct {
		name  string
		state State
		next  EventType
		want  bool
	}{
		{"pending accepts captured", StatePending, EventCaptured, true},
		{"pending accepts failed", StatePending, EventFailed, true},
		{"completed rejects captured", StateCompleted, EventCaptured, false},
		{"completed accepts refunded", StateCompleted, EventRefunded, true},
		{"completed accepts disputed", StateCompleted, EventDisputed, true},
		{"failed rejects refunded", StateFailed, EventRefunded, false},
		{"canceled rejects captured", StateCanceled, EventCaptured, false},
		{"terminal accepts custom annotation", StateFailed, EventType("support_note"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Replayable(tt.state, tt.next); got != tt.want {
				t.Errorf("Replayable(%s, %s): got %v, want %v", tt.state, tt.next, got, tt.want)
			}
		})
	}
}

func TestEventTypeKnown(t *testing.T) {
	for _, et := range []EventType{EventCreated, EventAuthorized, EventCaptured, EventFailed, EventRefunded, EventDisputed, EventCanceled} {
		if !et.Known() {
			t.Errorf("%s should be known", et)
		}
	}
	if EventType("gateway_ping").Known() {
		t.Error("custom type should not be known")
	}
}

func TestStateTerminal(t *testing.T) {
	if StatePending.Terminal() {
		t.Error("pending is not terminal")
	}
	for _, s := range []State{StateCompleted, StateFailed, StateCanceled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
