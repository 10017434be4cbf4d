package types

// Priority orders an execution relative to others in the backend queue.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the recognized priority levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ExecutionOptions are backend execution settings. The client forwards
// them unmodified with a start or restart command and does not interpret
// them beyond validating the priority level.
type ExecutionOptions struct {
	MaxExecutionTime        int      `json:"max_execution_time,omitempty"`
	MaxConcurrentNodes      int      `json:"max_concurrent_nodes,omitempty"`
	EnableStreaming         bool     `json:"enable_streaming,omitempty"`
	EnableMetrics           bool     `json:"enable_metrics,omitempty"`
	RetryFailedNodes        bool     `json:"retry_failed_nodes,omitempty"`
	SaveIntermediateResults bool     `json:"save_intermediate_results,omitempty"`
	Priority                Priority `json:"priority,omitempty"`
}

// Validate checks the option values the client is able to check locally.
func (o *ExecutionOptions) Validate() error {
	if o.Priority != "" && !o.Priority.Valid() {
		return NewError(ErrInvalidRequest, "unknown priority: "+string(o.Priority))
	}
	if o.MaxExecutionTime < 0 {
		return NewError(ErrInvalidRequest, "max_execution_time must be non-negative")
	}
	if o.MaxConcurrentNodes < 0 {
		return NewError(ErrInvalidRequest, "max_concurrent_nodes must be non-negative")
	}
	return nil
}
