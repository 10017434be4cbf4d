package types

import "time"

// ExecutionRef is the collaborator API's handle for a started or
// restarted execution.
type ExecutionRef struct {
	ExecutionID string          `json:"execution_id"`
	AgentID     string          `json:"agent_id,omitempty"`
	Status      ExecutionStatus `json:"status,omitempty"`
	CreatedAt   time.Time       `json:"created_at,omitempty"`
}
