package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatusIsTerminal(t *testing.T) {
	terminal := []ExecutionStatus{ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimeout}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}
	nonTerminal := []ExecutionStatus{ExecutionPending, ExecutionRunning, ExecutionPaused}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "expected %s to be non-terminal", s)
	}
}

func TestExecutionStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ExecutionStatus
		to      ExecutionStatus
		allowed bool
	}{
		{"pending to running", ExecutionPending, ExecutionRunning, true},
		{"running to paused", ExecutionRunning, ExecutionPaused, true},
		{"paused to running", ExecutionPaused, ExecutionRunning, true},
		{"running to completed", ExecutionRunning, ExecutionCompleted, true},
		{"paused to completed", ExecutionPaused, ExecutionCompleted, true},
		{"pending to failed", ExecutionPending, ExecutionFailed, true},
		{"pending to cancelled", ExecutionPending, ExecutionCancelled, true},
		{"paused to timeout", ExecutionPaused, ExecutionTimeout, true},

		{"pending to paused", ExecutionPending, ExecutionPaused, false},
		{"pending to completed", ExecutionPending, ExecutionCompleted, false},
		{"pending to timeout", ExecutionPending, ExecutionTimeout, false},
		{"paused to cancelled allowed", ExecutionPaused, ExecutionCancelled, true},
		{"running to pending", ExecutionRunning, ExecutionPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

// Terminal states are sinks: nothing transitions out of them.
func TestTerminalStatesAreSinks(t *testing.T) {
	all := []ExecutionStatus{
		ExecutionPending, ExecutionRunning, ExecutionPaused,
		ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimeout,
	}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, from.CanTransitionTo(to),
				"terminal %s must not transition to %s", from, to)
		}
	}
}

func TestNodeStatusIsTerminal(t *testing.T) {
	assert.True(t, NodeCompleted.IsTerminal())
	assert.True(t, NodeFailed.IsTerminal())
	assert.True(t, NodeSkipped.IsTerminal())
	assert.True(t, NodeTimeout.IsTerminal())
	assert.False(t, NodePending.IsTerminal())
	assert.False(t, NodeRunning.IsTerminal())
}
