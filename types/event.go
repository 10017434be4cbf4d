package types

import (
	"time"
)

// EventLevel is the severity attached to an event-log entry.
type EventLevel string

const (
	LevelDebug EventLevel = "debug"
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// Event is an immutable entry in the bounded execution event log.
// The log is a superset of the state-affecting stream: discarded but
// noteworthy messages are appended too, so the log stays useful for
// display and debugging even when no status changed.
type Event struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id,omitempty"`
	Type        string         `json:"type"`
	Level       EventLevel     `json:"level"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Duration    time.Duration  `json:"duration,omitempty"`
	Tokens      *TokenUsage    `json:"tokens,omitempty"`
}
