package monitor

import (
	"time"

	"github.com/arkviz/flowpulse/types"
)

// NodeResult tracks one workflow node within an execution.
type NodeResult struct {
	NodeID      string           `json:"node_id"`
	Status      types.NodeStatus `json:"status"`
	Output      map[string]any   `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
	Duration    time.Duration    `json:"duration,omitempty"`
	Tokens      types.TokenUsage `json:"tokens,omitempty"`
}

// Aggregates summarizes an execution's node map. They are recomputed
// from the map on every change, never accumulated by blind increment,
// so replays of the same node event leave them unchanged.
type Aggregates struct {
	TotalNodes    int                      `json:"total_nodes"`
	NodesByStatus map[types.NodeStatus]int `json:"nodes_by_status"`
	TotalTokens   types.TokenUsage         `json:"total_tokens"`
	Elapsed       time.Duration            `json:"elapsed"`
}

// Execution is the aggregate the Monitor maintains for one run of an
// agent workflow. The Monitor exclusively owns and mutates it; readers
// only ever see snapshots.
type Execution struct {
	ID          string                 `json:"id"`
	AgentID     string                 `json:"agent_id"`
	Status      types.ExecutionStatus  `json:"status"`
	Input       map[string]any         `json:"input,omitempty"`
	Output      map[string]any         `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Nodes       map[string]*NodeResult `json:"nodes"`
	Aggregates  Aggregates             `json:"aggregates"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   time.Time              `json:"started_at,omitempty"`
	CompletedAt time.Time              `json:"completed_at,omitempty"`
}

func newExecution(id, agentID string, input map[string]any) *Execution {
	return &Execution{
		ID:        id,
		AgentID:   agentID,
		Status:    types.ExecutionPending,
		Input:     input,
		Nodes:     make(map[string]*NodeResult),
		CreatedAt: time.Now().UTC(),
	}
}

// recomputeAggregates rebuilds the aggregate view from the node map.
func (e *Execution) recomputeAggregates(now time.Time) {
	agg := Aggregates{
		TotalNodes:    len(e.Nodes),
		NodesByStatus: make(map[types.NodeStatus]int, len(e.Nodes)),
	}
	for _, n := range e.Nodes {
		agg.NodesByStatus[n.Status]++
		agg.TotalTokens.Add(n.Tokens)
	}
	switch {
	case e.StartedAt.IsZero():
	case e.CompletedAt.IsZero():
		agg.Elapsed = now.Sub(e.StartedAt)
	default:
		agg.Elapsed = e.CompletedAt.Sub(e.StartedAt)
	}
	e.Aggregates = agg
}

// clone returns a deep copy safe to hand to readers.
func (e *Execution) clone() *Execution {
	cp := *e
	cp.Nodes = make(map[string]*NodeResult, len(e.Nodes))
	for id, n := range e.Nodes {
		nc := *n
		cp.Nodes[id] = &nc
	}
	if e.Aggregates.NodesByStatus != nil {
		cp.Aggregates.NodesByStatus = make(map[types.NodeStatus]int, len(e.Aggregates.NodesByStatus))
		for k, v := range e.Aggregates.NodesByStatus {
			cp.Aggregates.NodesByStatus[k] = v
		}
	}
	return &cp
}
