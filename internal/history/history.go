package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart       EventType = "start"
	EventStop        EventType = "stop"
	EventCrash       EventType = "crash"
	EventRestart     EventType = "restart"
	EventAdopt       EventType = "adopt"
	EventSpawnFailed EventType = "spawn_failed"
)

// Record is the daemon state captured with an event.
type Record struct {
	Name    string `json:"name"`
	PID     int    `json:"pid"`
	Status  string `json:"status"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SinkCloser is a Sink holding a connection that must be released.
type SinkCloser interface {
	Sink
	Close() error
}

// Nullable returns nil for an empty string so SQL sinks store NULL.
func Nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
