package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector aggregates transport and execution-monitor metrics.
// All record methods are nil-safe so callers can skip wiring a
// collector entirely.
type Collector struct {
	// Transport metrics
	messagesReceived  *prometheus.CounterVec
	messagesSent      *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	heartbeatsSent    prometheus.Counter
	heartbeatsRecv    prometheus.Counter
	queueDepth        prometheus.Gauge
	connectionState   *prometheus.GaugeVec

	// Reducer metrics
	executionsTotal   *prometheus.CounterVec
	nodeEventsTotal   *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	discardedTriggers prometheus.Counter
	tokensObserved    prometheus.Counter
	eventLogSize      prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector and registers its metrics with reg.
// Pass prometheus.DefaultRegisterer for the default registry, or a
// dedicated registry in tests.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := func(name, help string, labels ...string) *prometheus.CounterVec {
		cv := prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
			labels,
		)
		reg.MustRegister(cv)
		return cv
	}

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.messagesReceived = factory("transport_messages_received_total",
		"Total non-heartbeat messages delivered to subscribers", "type")
	c.messagesSent = factory("transport_messages_sent_total",
		"Total messages written to the stream", "type")
	c.messagesDropped = factory("transport_messages_dropped_total",
		"Messages dropped by the transport", "reason")

	c.reconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "transport_reconnect_attempts_total",
		Help: "Reconnect attempts scheduled after unexpected closes",
	})
	c.heartbeatsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "transport_heartbeats_sent_total",
		Help: "Heartbeat probes written to the stream",
	})
	c.heartbeatsRecv = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "transport_heartbeats_received_total",
		Help: "Heartbeat echoes consumed by the transport",
	})
	c.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "transport_outbound_queue_depth",
		Help: "Current outbound queue depth",
	})
	c.connectionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "transport_connection_state",
		Help: "Current connection state (1 for the active state, 0 otherwise)",
	}, []string{"state"})
	reg.MustRegister(c.reconnectAttempts, c.heartbeatsSent, c.heartbeatsRecv, c.queueDepth, c.connectionState)

	c.executionsTotal = factory("executions_total",
		"Executions observed reaching a terminal status", "status")
	c.nodeEventsTotal = factory("node_events_total",
		"Node lifecycle events applied", "type")
	c.transitionsTotal = factory("execution_transitions_total",
		"Execution status transitions applied", "from", "to")
	c.discardedTriggers = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "discarded_triggers_total",
		Help: "Triggers discarded as idempotent no-ops",
	})
	c.tokensObserved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "tokens_observed_total",
		Help: "Total tokens reported by node results",
	})
	c.eventLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "event_log_size",
		Help: "Current bounded event log size",
	})
	reg.MustRegister(c.discardedTriggers, c.tokensObserved, c.eventLogSize)

	return c
}

var connectionStates = []string{"idle", "connecting", "open", "closing", "closed"}

// MessageReceived records a delivered non-heartbeat message.
func (c *Collector) MessageReceived(msgType string) {
	if c == nil {
		return
	}
	c.messagesReceived.WithLabelValues(msgType).Inc()
}

// MessageSent records a message written to the stream.
func (c *Collector) MessageSent(msgType string) {
	if c == nil {
		return
	}
	c.messagesSent.WithLabelValues(msgType).Inc()
}

// MessageDropped records a dropped message with the drop reason.
func (c *Collector) MessageDropped(reason string) {
	if c == nil {
		return
	}
	c.messagesDropped.WithLabelValues(reason).Inc()
}

// ReconnectAttempt records one scheduled reconnect attempt.
func (c *Collector) ReconnectAttempt() {
	if c == nil {
		return
	}
	c.reconnectAttempts.Inc()
}

// HeartbeatSent records an outbound heartbeat probe.
func (c *Collector) HeartbeatSent() {
	if c == nil {
		return
	}
	c.heartbeatsSent.Inc()
}

// HeartbeatReceived records an inbound heartbeat echo.
func (c *Collector) HeartbeatReceived() {
	if c == nil {
		return
	}
	c.heartbeatsRecv.Inc()
}

// QueueDepth records the current outbound queue depth.
func (c *Collector) QueueDepth(depth int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(depth))
}

// ConnectionState marks the active connection state.
func (c *Collector) ConnectionState(state string) {
	if c == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		c.connectionState.WithLabelValues(s).Set(v)
	}
}

// ExecutionFinished records an execution reaching a terminal status.
func (c *Collector) ExecutionFinished(status string) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(status).Inc()
}

// NodeEvent records an applied node lifecycle event.
func (c *Collector) NodeEvent(eventType string) {
	if c == nil {
		return
	}
	c.nodeEventsTotal.WithLabelValues(eventType).Inc()
}

// Transition records an applied execution status transition.
func (c *Collector) Transition(from, to string) {
	if c == nil {
		return
	}
	c.transitionsTotal.WithLabelValues(from, to).Inc()
}

// DiscardedTrigger records a trigger discarded as an idempotent no-op.
func (c *Collector) DiscardedTrigger() {
	if c == nil {
		return
	}
	c.discardedTriggers.Inc()
}

// TokensObserved records tokens reported by a node result.
func (c *Collector) TokensObserved(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.tokensObserved.Add(float64(n))
}

// EventLogSize records the current event log size.
func (c *Collector) EventLogSize(n int) {
	if c == nil {
		return
	}
	c.eventLogSize.Set(float64(n))
}
