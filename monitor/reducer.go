package monitor

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkviz/flowpulse/types"
)

// handleEnvelope is the single serialized entry point for every
// delivered message. The transport's read loop is the only caller, but
// the mutex also serializes it against commands and watchdog ticks.
func (m *Monitor) handleEnvelope(env *types.Envelope) {
	m.mu.Lock()
	if m.exec == nil {
		m.mu.Unlock()
		return
	}
	// Events for a different execution never apply; the stream is scoped
	// per execution, so this only happens with a misbehaving backend.
	if env.ExecutionID != "" && env.ExecutionID != m.exec.ID {
		m.logger.Warn("dropping event for foreign execution",
			zap.String("type", env.Type),
			zap.String("event_execution_id", env.ExecutionID))
		m.mu.Unlock()
		return
	}
	m.lastActivity = time.Now()

	switch env.Type {
	case types.TypeExecutionStarted:
		m.applyExecutionEvent(env, types.ExecutionRunning)
	case types.TypeExecutionPaused:
		m.applyExecutionEvent(env, types.ExecutionPaused)
	case types.TypeExecutionResumed:
		m.applyExecutionEvent(env, types.ExecutionRunning)
	case types.TypeExecutionCompleted:
		m.applyExecutionEvent(env, types.ExecutionCompleted)
	case types.TypeExecutionFailed:
		m.applyExecutionEvent(env, types.ExecutionFailed)
	case types.TypeNodeStarted, types.TypeNodeCompleted, types.TypeNodeFailed,
		types.TypeNodeSkipped, types.TypeNodeTimeout:
		m.applyNodeEvent(env)
	case types.TypeLog:
		m.applyLogEvent(env)
	default:
		// Unknown types are kept in the log as a catch-all variant, not
		// treated as runtime errors.
		m.appendEventLocked(types.Event{
			ID:        env.ID,
			NodeID:    env.NodeID,
			Type:      env.Type,
			Level:     types.LevelDebug,
			Message:   "unrecognized event type",
			Timestamp: env.Timestamp,
		})
	}
	m.mu.Unlock()
	m.notify()
}

// applyExecutionEvent applies an execution-level status transition.
// Caller holds m.mu.
func (m *Monitor) applyExecutionEvent(env *types.Envelope, target types.ExecutionStatus) {
	var payload types.ExecutionEventPayload
	if err := env.DecodeData(&payload); err != nil {
		m.logger.Warn("bad execution event payload", zap.String("type", env.Type), zap.Error(err))
		m.appendEventLocked(types.Event{
			ID:        env.ID,
			Type:      env.Type,
			Level:     types.LevelWarn,
			Message:   "malformed payload dropped",
			Timestamp: env.Timestamp,
		})
		return
	}
	m.applyTransitionLocked(env.Type, target, &payload)
}

// applyTransitionLocked moves the execution to target when the current
// status is a valid source; otherwise the trigger is discarded as an
// idempotent no-op. Caller holds m.mu.
func (m *Monitor) applyTransitionLocked(trigger string, target types.ExecutionStatus, payload *types.ExecutionEventPayload) bool {
	from := m.exec.Status
	if !from.CanTransitionTo(target) {
		m.mcol.DiscardedTrigger()
		m.appendEventLocked(types.Event{
			Type:    trigger,
			Level:   types.LevelDebug,
			Message: "discarded: " + trigger + " not applicable from " + string(from),
		})
		return false
	}

	now := time.Now().UTC()
	m.exec.Status = target
	if target == types.ExecutionRunning && m.exec.StartedAt.IsZero() {
		m.exec.StartedAt = now
	}
	if target.IsTerminal() {
		m.exec.CompletedAt = now
		m.mcol.ExecutionFinished(string(target))
	}
	if payload != nil {
		if target == types.ExecutionCompleted && payload.Output != nil {
			m.exec.Output = payload.Output
		}
		if target == types.ExecutionFailed && payload.Error != "" {
			m.exec.Error = payload.Error
		}
	}
	m.exec.recomputeAggregates(now)
	m.mcol.Transition(string(from), string(target))

	level := types.LevelInfo
	msg := string(from) + " -> " + string(target)
	if target == types.ExecutionFailed || target == types.ExecutionTimeout {
		level = types.LevelError
		if payload != nil && payload.Error != "" {
			msg = msg + ": " + payload.Error
		}
	}
	m.appendEventLocked(types.Event{Type: trigger, Level: level, Message: msg})
	m.logger.Info("execution transition",
		zap.String("trigger", trigger),
		zap.String("from", string(from)),
		zap.String("to", string(target)))
	return true
}

// nodeTargets maps node event types onto node statuses.
var nodeTargets = map[string]types.NodeStatus{
	types.TypeNodeStarted:   types.NodeRunning,
	types.TypeNodeCompleted: types.NodeCompleted,
	types.TypeNodeFailed:    types.NodeFailed,
	types.TypeNodeSkipped:   types.NodeSkipped,
	types.TypeNodeTimeout:   types.NodeTimeout,
}

// applyNodeEvent updates a single node's entry. Node statuses follow the
// same terminal discipline as execution statuses, tracked independently
// per node, and aggregates are recomputed rather than incremented so
// replays are idempotent. Caller holds m.mu.
func (m *Monitor) applyNodeEvent(env *types.Envelope) {
	if env.NodeID == "" {
		m.logger.Warn("node event without node_id", zap.String("type", env.Type))
		return
	}
	var payload types.NodeEventPayload
	if err := env.DecodeData(&payload); err != nil {
		m.logger.Warn("bad node event payload", zap.String("type", env.Type), zap.Error(err))
		return
	}

	target := nodeTargets[env.Type]
	node, exists := m.exec.Nodes[env.NodeID]
	if !exists {
		node = &NodeResult{NodeID: env.NodeID, Status: types.NodePending}
		m.exec.Nodes[env.NodeID] = node
	}

	now := time.Now().UTC()
	discarded := false
	switch {
	case node.Status.IsTerminal():
		// Replayed or late event for a finished node.
		discarded = true
	case target == types.NodeRunning:
		if node.Status == types.NodeRunning {
			discarded = true
			break
		}
		node.Status = types.NodeRunning
		if env.Timestamp.IsZero() {
			node.StartedAt = now
		} else {
			node.StartedAt = env.Timestamp
		}
	default:
		node.Status = target
		node.CompletedAt = now
		if node.StartedAt.IsZero() {
			node.StartedAt = now
		}
		if payload.DurationMS > 0 {
			node.Duration = time.Duration(payload.DurationMS) * time.Millisecond
		} else {
			node.Duration = node.CompletedAt.Sub(node.StartedAt)
		}
		if payload.Output != nil {
			node.Output = payload.Output
		}
		node.Error = payload.Error
		switch {
		case payload.Usage != nil:
			node.Tokens = *payload.Usage
		case payload.TokensUsed > 0:
			node.Tokens = types.TokenUsage{TotalTokens: payload.TokensUsed}
		}
		m.mcol.TokensObserved(node.Tokens.TotalTokens)
	}

	if discarded {
		m.mcol.DiscardedTrigger()
		m.appendEventLocked(types.Event{
			ID:        env.ID,
			NodeID:    env.NodeID,
			Type:      env.Type,
			Level:     types.LevelDebug,
			Message:   "discarded: node already " + string(node.Status),
			Timestamp: env.Timestamp,
		})
		return
	}

	m.exec.recomputeAggregates(now)
	m.mcol.NodeEvent(env.Type)

	level := types.LevelInfo
	msg := "node " + string(node.Status)
	if target == types.NodeFailed || target == types.NodeTimeout {
		level = types.LevelError
		if payload.Error != "" {
			msg = msg + ": " + payload.Error
		}
	}
	m.appendEventLocked(types.Event{
		ID:        env.ID,
		NodeID:    env.NodeID,
		Type:      env.Type,
		Level:     level,
		Message:   msg,
		Duration:  node.Duration,
		Tokens:    &node.Tokens,
		Timestamp: env.Timestamp,
	})
}

// applyLogEvent appends a backend log line to the event log. Caller
// holds m.mu.
func (m *Monitor) applyLogEvent(env *types.Envelope) {
	var payload types.LogEventPayload
	if err := env.DecodeData(&payload); err != nil {
		m.logger.Warn("bad log event payload", zap.Error(err))
		return
	}
	level := types.EventLevel(payload.Level)
	switch level {
	case types.LevelDebug, types.LevelInfo, types.LevelWarn, types.LevelError:
	default:
		level = types.LevelInfo
	}
	m.appendEventLocked(types.Event{
		ID:        env.ID,
		NodeID:    env.NodeID,
		Type:      types.TypeLog,
		Level:     level,
		Message:   payload.Message,
		Data:      payload.Fields,
		Timestamp: env.Timestamp,
	})
}

// appendEventLocked adds an entry to the bounded log, filling in the
// server-assigned fields when absent. Caller holds m.mu.
func (m *Monitor) appendEventLocked(ev types.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.ExecutionID == "" && m.exec != nil {
		ev.ExecutionID = m.exec.ID
	}
	m.events.append(ev)
	m.mcol.EventLogSize(m.events.len())
}

// watchdog enforces the client-driven execution timeout: when neither a
// terminal event nor heartbeat-confirmed liveness arrives within the
// budget, the execution transitions to timeout unilaterally.
func (m *Monitor) watchdog(stop chan struct{}) {
	ticker := time.NewTicker(m.config.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if m.exec == nil || m.exec.Status.IsTerminal() {
			m.mu.Unlock()
			continue
		}
		activity := m.lastActivity
		if m.stream != nil {
			if hb := m.stream.LastHeartbeat(); hb.After(activity) {
				activity = hb
			}
		}
		if time.Since(activity) <= m.config.ExecutionTimeout {
			m.mu.Unlock()
			continue
		}
		changed := m.applyTransitionLocked("watchdog timeout", types.ExecutionTimeout, nil)
		m.mu.Unlock()
		if changed {
			m.logger.Warn("execution timed out without terminal event",
				zap.Duration("budget", m.config.ExecutionTimeout))
			m.notify()
		}
	}
}
