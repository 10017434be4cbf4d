package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkviz/flowpulse/internal/metrics"
	"github.com/arkviz/flowpulse/transport"
	"github.com/arkviz/flowpulse/types"
)

// CommandAPI is the collaborator HTTP command surface the Monitor
// consumes. The api package provides the production implementation.
type CommandAPI interface {
	StartExecution(ctx context.Context, agentID string, input map[string]any, opts *types.ExecutionOptions) (*types.ExecutionRef, error)
	CancelExecution(ctx context.Context, executionID string) error
	PauseExecution(ctx context.Context, executionID string) error
	ResumeExecution(ctx context.Context, executionID string) error
	RestartExecution(ctx context.Context, executionID string) (*types.ExecutionRef, error)
}

// Stream is the transport surface the Monitor drives. *transport.Client
// satisfies it.
type Stream interface {
	Connect(ctx context.Context) error
	Disconnect()
	On(eventType string, fn transport.Handler) int
	Off(eventType string, ids ...int)
	OnError(fn func(error))
	OnStateChange(fn func(transport.State))
	State() transport.State
	LastHeartbeat() time.Time
}

// StreamFactory builds a Stream attached to one execution's event
// stream. The Monitor constructs a stream on subscribe and tears it
// down on unsubscribe, so events can never leak across executions.
type StreamFactory func(executionID string) Stream

// NewStreamFactory returns a StreamFactory producing transport clients
// against the given base WebSocket URL.
func NewStreamFactory(baseURL string, cfg transport.Config, logger *zap.Logger, col *metrics.Collector) StreamFactory {
	return func(executionID string) Stream {
		return transport.NewClient(baseURL, executionID, cfg, logger).WithMetrics(col)
	}
}

// Config configures the Monitor.
type Config struct {
	EventLogCapacity int           // Bounded event log size (default 1000)
	ExecutionTimeout time.Duration // Client-driven watchdog budget, 0 disables (default 30m)
	WatchdogInterval time.Duration // Watchdog poll interval (default 15s)
	CommandTimeout   time.Duration // Per-command HTTP timeout (default 10s)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EventLogCapacity: DefaultEventLogCapacity,
		ExecutionTimeout: 30 * time.Minute,
		WatchdogInterval: 15 * time.Second,
		CommandTimeout:   10 * time.Second,
	}
}

// Monitor is the execution reducer. All mutation funnels through one
// mutex-guarded apply path: transport callbacks, watchdog ticks and
// command acks are serialized, so the reduction logic itself never needs
// finer-grained locking.
type Monitor struct {
	api     CommandAPI
	streams StreamFactory
	config  Config
	logger  *zap.Logger
	mcol    *metrics.Collector

	mu           sync.Mutex
	exec         *Execution
	history      []*Execution // terminal executions superseded by restart
	stream       Stream
	events       *eventLog
	connected    bool
	lastActivity time.Time
	watchdogStop chan struct{}
	onUpdate     func()
}

// New creates a Monitor over the given command API and stream factory.
func New(api CommandAPI, streams StreamFactory, config Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.EventLogCapacity == 0 {
		config.EventLogCapacity = DefaultEventLogCapacity
	}
	if config.WatchdogInterval == 0 {
		config.WatchdogInterval = 15 * time.Second
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = 10 * time.Second
	}
	return &Monitor{
		api:     api,
		streams: streams,
		config:  config,
		logger:  logger.With(zap.String("component", "monitor")),
		events:  newEventLog(config.EventLogCapacity),
	}
}

// WithMetrics attaches a metrics collector. A nil collector records nothing.
func (m *Monitor) WithMetrics(col *metrics.Collector) *Monitor {
	m.mcol = col
	return m
}

// OnUpdate registers the single-slot observer invoked after every
// applied change, outside the reducer lock.
func (m *Monitor) OnUpdate(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// =============================================================================
// Commands
// =============================================================================

// Start begins a new execution for the given agent and attaches to its
// event stream. It fails when a non-terminal execution is already
// attached.
func (m *Monitor) Start(ctx context.Context, agentID string, input map[string]any, opts *types.ExecutionOptions) (string, error) {
	if opts != nil {
		if err := opts.Validate(); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	if m.exec != nil && !m.exec.Status.IsTerminal() {
		m.mu.Unlock()
		return "", types.NewError(types.ErrCommandRejected,
			fmt.Sprintf("execution %s is still %s", m.exec.ID, m.exec.Status))
	}
	m.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, m.config.CommandTimeout)
	defer cancel()
	ref, err := m.api.StartExecution(cctx, agentID, input, opts)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	old := m.teardownLocked()
	m.exec = newExecution(ref.ExecutionID, agentID, input)
	m.lastActivity = time.Now()
	m.appendEventLocked(types.Event{
		Type:    "execution_created",
		Level:   types.LevelInfo,
		Message: "execution accepted by backend",
	})
	m.mu.Unlock()
	detach(old)

	if err := m.subscribe(ctx, ref.ExecutionID); err != nil {
		return ref.ExecutionID, err
	}
	m.notify()
	return ref.ExecutionID, nil
}

// Attach subscribes to an already-running execution without issuing a
// start command, e.g. when the UI reloads mid-run. Status starts as
// pending and is corrected by the first authoritative event.
func (m *Monitor) Attach(ctx context.Context, executionID, agentID string) error {
	m.mu.Lock()
	if m.exec != nil && !m.exec.Status.IsTerminal() {
		m.mu.Unlock()
		return types.NewError(types.ErrCommandRejected,
			fmt.Sprintf("execution %s is still %s", m.exec.ID, m.exec.Status))
	}
	old := m.teardownLocked()
	m.exec = newExecution(executionID, agentID, nil)
	m.lastActivity = time.Now()
	m.mu.Unlock()
	detach(old)

	if err := m.subscribe(ctx, executionID); err != nil {
		return err
	}
	m.notify()
	return nil
}

// Cancel requests cancellation. Valid only from pending or running;
// ineligible calls fail locally before any network traffic.
func (m *Monitor) Cancel(ctx context.Context) error {
	return m.command(ctx, "cancel", types.ExecutionCancelled,
		[]types.ExecutionStatus{types.ExecutionPending, types.ExecutionRunning},
		m.api.CancelExecution)
}

// Pause requests suspension. Valid only from running.
func (m *Monitor) Pause(ctx context.Context) error {
	return m.command(ctx, "pause", types.ExecutionPaused,
		[]types.ExecutionStatus{types.ExecutionRunning},
		m.api.PauseExecution)
}

// Resume requests continuation. Valid only from paused.
func (m *Monitor) Resume(ctx context.Context) error {
	return m.command(ctx, "resume", types.ExecutionRunning,
		[]types.ExecutionStatus{types.ExecutionPaused},
		m.api.ResumeExecution)
}

// command implements the shared optimistic command path: eligibility is
// a pure function of current status, the local status moves to the
// expected next state immediately, and the authoritative event confirms
// it later. There is no automatic rollback when the ack never arrives.
func (m *Monitor) command(ctx context.Context, name string, next types.ExecutionStatus,
	eligible []types.ExecutionStatus, send func(context.Context, string) error) error {

	m.mu.Lock()
	if m.exec == nil {
		m.mu.Unlock()
		return types.NewError(types.ErrExecutionNotFound, "no execution attached")
	}
	ok := false
	for _, s := range eligible {
		if m.exec.Status == s {
			ok = true
			break
		}
	}
	if !ok {
		status := m.exec.Status
		m.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("%s not valid from status %s", name, status))
	}
	execID := m.exec.ID
	m.applyTransitionLocked(name+" command", next, nil)
	m.mu.Unlock()
	m.notify()

	cctx, cancel := context.WithTimeout(ctx, m.config.CommandTimeout)
	defer cancel()
	if err := send(cctx, execID); err != nil {
		// The optimistic state stays in place; a later authoritative
		// event or explicit re-attach corrects it.
		m.logger.Warn("command rejected by backend", zap.String("command", name), zap.Error(err))
		return types.NewError(types.ErrCommandRejected, name+" rejected").WithCause(err)
	}
	return nil
}

// Restart creates a fresh execution for the same agent. Valid from any
// terminal status and from paused (abortable-and-restartable). The
// terminal record is archived, never mutated.
func (m *Monitor) Restart(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.exec == nil {
		m.mu.Unlock()
		return "", types.NewError(types.ErrExecutionNotFound, "no execution attached")
	}
	if !m.exec.Status.IsTerminal() && m.exec.Status != types.ExecutionPaused {
		status := m.exec.Status
		m.mu.Unlock()
		return "", types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("restart not valid from status %s", status))
	}
	oldID := m.exec.ID
	agentID := m.exec.AgentID
	input := m.exec.Input
	m.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, m.config.CommandTimeout)
	defer cancel()
	ref, err := m.api.RestartExecution(cctx, oldID)
	if err != nil {
		return "", types.NewError(types.ErrCommandRejected, "restart rejected").WithCause(err)
	}

	m.mu.Lock()
	old := m.teardownLocked()
	m.history = append(m.history, m.exec)
	m.exec = newExecution(ref.ExecutionID, agentID, input)
	m.lastActivity = time.Now()
	m.appendEventLocked(types.Event{
		Type:    "execution_restarted",
		Level:   types.LevelInfo,
		Message: "restarted as new execution " + ref.ExecutionID,
		Data:    map[string]any{"previous_execution_id": oldID},
	})
	m.mu.Unlock()
	detach(old)

	if err := m.subscribe(ctx, ref.ExecutionID); err != nil {
		return ref.ExecutionID, err
	}
	m.notify()
	return ref.ExecutionID, nil
}

// Close detaches from the current execution: the stream is torn down and
// the watchdog stopped. Execution state is kept for reading.
func (m *Monitor) Close() {
	m.mu.Lock()
	old := m.teardownLocked()
	m.mu.Unlock()
	detach(old)
}

// =============================================================================
// Readers
// =============================================================================

// Execution returns a deep copy of the current execution, or nil when
// nothing is attached.
func (m *Monitor) Execution() *Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exec == nil {
		return nil
	}
	return m.exec.clone()
}

// Status returns the current execution status, or empty when nothing is
// attached.
func (m *Monitor) Status() types.ExecutionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exec == nil {
		return ""
	}
	return m.exec.Status
}

// Events returns a copy of the bounded event log, oldest first.
func (m *Monitor) Events() []types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events.snapshot()
}

// Connected reports the live/offline view derived from the transport
// state, independent of execution status, so callers can distinguish
// "result unknown because disconnected" from "backend reports failure".
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// History returns copies of executions superseded by restarts, oldest
// first.
func (m *Monitor) History() []*Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Execution, len(m.history))
	for i, e := range m.history {
		out[i] = e.clone()
	}
	return out
}

// =============================================================================
// Stream wiring
// =============================================================================

// subscribe builds the per-execution stream, registers the reducer
// callback and connects. Connect failures are not fatal to the
// aggregate: the transport keeps retrying and reports through OnError.
func (m *Monitor) subscribe(ctx context.Context, executionID string) error {
	stream := m.streams(executionID)
	stream.On(transport.AnyType, m.handleEnvelope)
	stream.OnError(m.handleTransportError)
	stream.OnStateChange(m.handleTransportState)

	m.mu.Lock()
	m.stream = stream
	stop := make(chan struct{})
	m.watchdogStop = stop
	m.mu.Unlock()

	if m.config.ExecutionTimeout > 0 {
		go m.watchdog(stop)
	}

	if err := stream.Connect(ctx); err != nil {
		return err
	}
	return nil
}

// teardownLocked detaches the current stream and stops the watchdog,
// returning the stream for the caller to disconnect outside the lock
// (Disconnect fires state-change callbacks that re-enter the reducer).
// Caller holds m.mu.
func (m *Monitor) teardownLocked() Stream {
	s := m.stream
	m.stream = nil
	if m.watchdogStop != nil {
		close(m.watchdogStop)
		m.watchdogStop = nil
	}
	m.connected = false
	return s
}

// detach unregisters the reducer's callbacks before disconnecting so a
// superseded stream can never leak events into the next execution.
func detach(s Stream) {
	if s == nil {
		return
	}
	s.Off(transport.AnyType)
	s.OnError(nil)
	s.OnStateChange(nil)
	s.Disconnect()
}

func (m *Monitor) handleTransportError(err error) {
	m.mu.Lock()
	level := types.LevelWarn
	msg := "transport error"
	if types.GetErrorCode(err) == types.ErrReconnectExhausted {
		// Transport-permanent: surfaced once, execution status left as
		// last known.
		level = types.LevelError
		msg = "transport failed permanently"
	}
	m.appendEventLocked(types.Event{
		Type:    "transport_error",
		Level:   level,
		Message: msg,
		Data:    map[string]any{"error": err.Error()},
	})
	m.mu.Unlock()
	m.notify()
}

func (m *Monitor) handleTransportState(s transport.State) {
	m.mu.Lock()
	m.connected = s == transport.StateOpen
	if s == transport.StateOpen {
		m.lastActivity = time.Now()
	}
	m.appendEventLocked(types.Event{
		Type:    "connection_state",
		Level:   types.LevelDebug,
		Message: "connection " + string(s),
	})
	m.mu.Unlock()
	m.notify()
}

func (m *Monitor) notify() {
	m.mu.Lock()
	fn := m.onUpdate
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}
