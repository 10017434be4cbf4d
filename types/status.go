package types

// ExecutionStatus represents the lifecycle state of an agent execution.
type ExecutionStatus string

const (
	// ExecutionPending indicates the execution was accepted but has not started.
	ExecutionPending ExecutionStatus = "pending"
	// ExecutionRunning indicates the execution is in progress.
	ExecutionRunning ExecutionStatus = "running"
	// ExecutionPaused indicates the execution is suspended and can be resumed.
	ExecutionPaused ExecutionStatus = "paused"
	// ExecutionCompleted indicates terminal success.
	ExecutionCompleted ExecutionStatus = "completed"
	// ExecutionFailed indicates terminal failure.
	ExecutionFailed ExecutionStatus = "failed"
	// ExecutionCancelled indicates the execution was cancelled by a command.
	ExecutionCancelled ExecutionStatus = "cancelled"
	// ExecutionTimeout indicates the client-side watchdog gave up on the execution.
	ExecutionTimeout ExecutionStatus = "timeout"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimeout:
		return true
	}
	return false
}

// executionTransitions encodes the allowed source states per target status.
// A terminal source never appears as a key value, so terminal states are
// sinks by construction.
var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionRunning:   {ExecutionPending, ExecutionPaused},
	ExecutionPaused:    {ExecutionRunning},
	ExecutionCompleted: {ExecutionRunning, ExecutionPaused},
	ExecutionFailed:    {ExecutionRunning, ExecutionPaused, ExecutionPending},
	ExecutionCancelled: {ExecutionPending, ExecutionRunning, ExecutionPaused},
	ExecutionTimeout:   {ExecutionRunning, ExecutionPaused},
}

// CanTransitionTo reports whether moving from s to next is a legal
// transition. Illegal transitions are not errors for the reducer; they
// are discarded as idempotent no-ops, which is what makes duplicated or
// re-ordered event delivery safe.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	sources, ok := executionTransitions[next]
	if !ok {
		return false
	}
	for _, src := range sources {
		if src == s {
			return true
		}
	}
	return false
}

// NodeStatus represents the lifecycle state of a single workflow node
// within an execution. Node statuses follow the same terminal discipline
// as execution statuses but are tracked independently per node.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
	NodeTimeout   NodeStatus = "timeout"
)

// IsTerminal reports whether the node status admits no further transitions.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped, NodeTimeout:
		return true
	}
	return false
}
