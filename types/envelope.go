package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Well-known envelope types. Unknown types decode fine and are carried
// verbatim; consumers treat them as a catch-all rather than an error.
const (
	// TypeHeartbeat is transport-internal and never reaches subscribers.
	TypeHeartbeat = "heartbeat"

	TypeExecutionStarted   = "execution_started"
	TypeExecutionPaused    = "execution_paused"
	TypeExecutionResumed   = "execution_resumed"
	TypeExecutionCompleted = "execution_completed"
	TypeExecutionFailed    = "execution_failed"

	TypeNodeStarted   = "node_started"
	TypeNodeCompleted = "node_completed"
	TypeNodeFailed    = "node_failed"
	TypeNodeSkipped   = "node_skipped"
	TypeNodeTimeout   = "node_timeout"

	TypeLog = "log"
)

// Envelope is the wire message exchanged over the event stream.
// Type discriminates the payload; Data is the type-specific body.
// ID and Timestamp are server-assigned when absent on send.
type Envelope struct {
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp,omitempty"`
	ID          string          `json:"id,omitempty"`
	ExecutionID string          `json:"execution_id,omitempty"`
	NodeID      string          `json:"node_id,omitempty"`
}

// IsHeartbeat reports whether the envelope is a transport-level liveness probe.
func (e *Envelope) IsHeartbeat() bool {
	return e.Type == TypeHeartbeat
}

// Encode serializes the envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return body, nil
}

// DecodeEnvelope parses a raw frame into an Envelope. A frame without a
// type tag is malformed; everything else, including unrecognized types,
// decodes successfully.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewError(ErrMalformedMessage, "invalid envelope json").WithCause(err)
	}
	if env.Type == "" {
		return nil, NewError(ErrMalformedMessage, "envelope missing type tag")
	}
	return &env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return NewError(ErrMalformedMessage, fmt.Sprintf("invalid %s payload", e.Type)).WithCause(err)
	}
	return nil
}

// ExecutionEventPayload is the body carried by execution_* envelopes.
type ExecutionEventPayload struct {
	Status  ExecutionStatus `json:"status,omitempty"`
	Output  map[string]any  `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// NodeEventPayload is the body carried by node_* envelopes.
type NodeEventPayload struct {
	Status     NodeStatus     `json:"status,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	TokensUsed int            `json:"tokens_used,omitempty"`
	Usage      *TokenUsage    `json:"usage,omitempty"`
}

// LogEventPayload is the body carried by log envelopes.
type LogEventPayload struct {
	Level   string         `json:"level,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}
