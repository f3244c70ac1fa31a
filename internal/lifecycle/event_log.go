package lifecycle

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the type of lifecycle event.
type EventType string

const (
	EventTypeTransition      EventType = "STATE_TRANSITION"
	EventTypePollerDegraded  EventType = "POLLER_DEGRADED"
	EventTypePollerRecovered EventType = "POLLER_RECOVERED"
)

// Actor represents who triggered the event.
type Actor string

const (
	ActorOperator Actor = "operator"
	ActorPoller   Actor = "poller"
	ActorSystem   Actor = "system"
)

// TransitionEvent represents a single observed or commanded state transition.
type TransitionEvent struct {
	EventID    string    `json:"event_id"`
	WorkloadID string    `json:"workload_id"`
	Type       EventType `json:"type"`
	From       RunState  `json:"from"`
	To         RunState  `json:"to"`
	Actor      Actor     `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
	Detail     string    `json:"detail,omitempty"`
}

// DefaultMaxEvents is the default maximum events retained by an EventLog.
const DefaultMaxEvents = 1000

// EventLog is an append-only in-memory log of lifecycle events with a
// configurable retention limit. Once full, new events are dropped and a
// warning is logged (once per log).
type EventLog struct {
	mu        sync.RWMutex
	events    []TransitionEvent
	maxEvents int
	truncated bool
}

// NewEventLog creates a new append-only event log with default limits.
func NewEventLog() *EventLog {
	return NewEventLogWithLimit(DefaultMaxEvents)
}

// NewEventLogWithLimit creates a new event log with a custom limit.
// Set maxEvents to 0 for unlimited.
func NewEventLogWithLimit(maxEvents int) *EventLog {
	return &EventLog{
		events:    make([]TransitionEvent, 0, 64),
		maxEvents: maxEvents,
	}
}

// Append adds an event to the log, filling in the event ID and timestamp if
// unset. Returns an error if required fields are missing.
func (el *EventLog) Append(event TransitionEvent) error {
	if event.WorkloadID == "" {
		return fmt.Errorf("event missing required field: workload_id")
	}
	if event.Type == "" {
		return fmt.Errorf("event missing required field: type")
	}
	if event.Actor == "" {
		return fmt.Errorf("event missing required field: actor")
	}

	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	if el.maxEvents > 0 && len(el.events) >= el.maxEvents {
		if !el.truncated {
			el.truncated = true
			slog.Warn("event_log_truncated",
				"workload_id", event.WorkloadID,
				"limit", el.maxEvents)
		}
		return nil // Silently drop - don't fail the transition.
	}

	el.events = append(el.events, event)
	return nil
}

// Recent returns up to n most recent events, oldest first.
func (el *EventLog) Recent(n int) []TransitionEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	start := 0
	if n > 0 && len(el.events) > n {
		start = len(el.events) - n
	}
	result := make([]TransitionEvent, len(el.events)-start)
	copy(result, el.events[start:])
	return result
}

// GetAll returns all events in the log.
func (el *EventLog) GetAll() []TransitionEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	result := make([]TransitionEvent, len(el.events))
	copy(result, el.events)
	return result
}

// Len returns the number of events in the log.
func (el *EventLog) Len() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.events)
}

// IsTruncated returns true if events were dropped due to the retention limit.
func (el *EventLog) IsTruncated() bool {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.truncated
}

// generateEventID generates a unique event ID.
// Format: evt_{timestamp}{counter}
func generateEventID() string {
	ts := time.Now().UnixMilli()
	counter := eventIDCounter.Add(1)
	return fmt.Sprintf("evt_%x%x", ts, counter)
}

var eventIDCounter atomic.Int64
