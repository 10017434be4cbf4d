package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkviz/flowpulse/internal/metrics"
	"github.com/arkviz/flowpulse/types"
)

// State represents the lifecycle state of a Client connection.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// AnyType subscribes a handler to every non-heartbeat message regardless
// of its type tag.
const AnyType = "*"

// Handler consumes a delivered envelope. Handlers for a type are invoked
// in registration order.
type Handler func(*types.Envelope)

// Config configures the transport behavior.
type Config struct {
	HandshakeTimeout  time.Duration // Max time for the dial handshake (default 10s)
	HeartbeatInterval time.Duration // Interval between heartbeat probes (default 30s)
	HeartbeatTimeout  time.Duration // Extra silence tolerated past the interval before the stream is stale (default 10s)
	MaxReconnects     int           // Reconnect attempts before a terminal transport error (default 3)
	ReconnectDelay    time.Duration // Base delay for exponential backoff (default 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default 30s)
	QueueSize         int           // Outbound queue capacity while disconnected (default 64)
	FlushInterval     time.Duration // Outbound queue drain interval (default 100ms)
	EnableHeartbeat   bool          // Whether to run the heartbeat loop (default true)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		MaxReconnects:     3,
		ReconnectDelay:    time.Second,
		MaxBackoff:        30 * time.Second,
		QueueSize:         64,
		FlushInterval:     100 * time.Millisecond,
		EnableHeartbeat:   true,
	}
}

// Client owns one logical attachment to one execution's event stream.
// At most one physical socket is open at a time; a new dial never starts
// while a previous attempt is draining.
type Client struct {
	url    string
	execID string
	logger *zap.Logger
	mcol   *metrics.Collector

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	config         Config
	handlers       map[string][]registration
	nextHandlerID  int
	onError        func(error)
	onStateChange  func(State)
	reconnectCount int
	lastHeartbeat  time.Time
	reconnecting   bool
	queue          []*types.Envelope
	done           chan struct{} // closed by Disconnect; recreated by Connect
	generation     int           // bumped on every Connect/Disconnect so stale goroutines exit
}

type registration struct {
	id int
	fn Handler
}

// NewClient creates a transport client for one execution stream. The
// endpoint is derived as <baseURL>/<executionID>.
func NewClient(baseURL, executionID string, config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 10 * time.Second
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 3
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.QueueSize == 0 {
		config.QueueSize = 64
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 100 * time.Millisecond
	}
	return &Client{
		url:      strings.TrimRight(baseURL, "/") + "/" + executionID,
		execID:   executionID,
		logger:   logger.With(zap.String("component", "transport"), zap.String("execution_id", executionID)),
		config:   config,
		state:    StateIdle,
		handlers: make(map[string][]registration),
		done:     make(chan struct{}),
	}
}

// WithMetrics attaches a metrics collector. Safe to skip; a nil collector
// records nothing.
func (c *Client) WithMetrics(col *metrics.Collector) *Client {
	c.mcol = col
	return c
}

// Endpoint returns the derived stream URL.
func (c *Client) Endpoint() string { return c.url }

// ExecutionID returns the execution this client is attached to.
func (c *Client) ExecutionID() string { return c.execID }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true when the transport has an open socket.
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// LastHeartbeat returns the time of the most recent inbound traffic,
// heartbeat or otherwise. Zero before the first open.
func (c *Client) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// OnError registers the single-slot observer for transport-level failures.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnStateChange registers the single-slot observer invoked on every
// state transition.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// On subscribes a handler for envelopes of the given type and returns a
// registration ID usable with Off. Use AnyType to receive every
// non-heartbeat envelope.
func (c *Client) On(eventType string, fn Handler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandlerID++
	id := c.nextHandlerID
	c.handlers[eventType] = append(c.handlers[eventType], registration{id: id, fn: fn})
	return id
}

// Off removes handlers for the given type. With no IDs it clears all
// handlers for that type.
func (c *Client) Off(eventType string, ids ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ids) == 0 {
		delete(c.handlers, eventType)
		return
	}
	regs := c.handlers[eventType]
	kept := regs[:0]
	for _, r := range regs {
		remove := false
		for _, id := range ids {
			if r.id == id {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, r)
		}
	}
	c.handlers[eventType] = kept
}

// setState updates the state and fires the observer.
// Caller must NOT hold c.mu.
func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.onStateChange
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// reportError fires the error observer without holding the lock.
func (c *Client) reportError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Connect opens the underlying connection and starts the read, heartbeat
// and flush loops. It is idempotent: a second call while connecting or
// open is a no-op. The handshake is bounded by HandshakeTimeout; a
// handshake failure is reported through the error observer and the
// client returns to idle.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	// Reset session: fresh done channel, new generation, clean counters.
	// Closing the old channel stops any loops left over from a session
	// that ended in reconnect exhaustion.
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.generation++
	gen := c.generation
	c.done = make(chan struct{})
	done := c.done
	c.reconnectCount = 0
	c.mu.Unlock()

	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateIdle)
		terr := types.NewError(types.ErrHandshakeTimeout, "websocket handshake failed").WithCause(err).WithRetryable(true)
		c.reportError(terr)
		return terr
	}

	c.mu.Lock()
	c.conn = conn
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()

	c.setState(StateOpen)
	c.recordState()

	go c.readLoop(gen, done)
	go c.heartbeatLoop(gen, done)
	go c.flushLoop(gen, done)

	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	return conn, err
}

// Disconnect closes the connection, cancels pending reconnect, heartbeat
// and flush timers synchronously, clears the outbound queue, and returns
// the client to idle. Always succeeds; used for supervised teardown.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.generation++
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	conn := c.conn
	c.conn = nil
	c.queue = nil
	c.reconnecting = false
	c.mu.Unlock()

	c.setState(StateClosing)
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client requested")
	}
	c.setState(StateIdle)
	c.recordState()
	c.logger.Debug("transport disconnected")
}

// Send transmits the envelope immediately when connected; otherwise it
// enqueues onto the bounded outbound queue (dropping the oldest entry on
// overflow) and returns nil. Missing IDs and timestamps are
// client-assigned before transmission.
func (c *Client) Send(ctx context.Context, env *types.Envelope) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.ExecutionID == "" {
		env.ExecutionID = c.execID
	}

	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.enqueue(env)
		return nil
	}

	body, err := env.Encode()
	if err != nil {
		return err
	}
	if werr := conn.Write(ctx, websocket.MessageText, body); werr != nil {
		// Send failure while nominally connected: re-queue and take the
		// same path as an unexpected close.
		c.logger.Warn("send failed, requeueing", zap.String("type", env.Type), zap.Error(werr))
		c.enqueue(env)
		c.handleStreamFailure(werr)
		return nil
	}
	c.mcol.MessageSent(env.Type)
	return nil
}

// enqueue appends to the bounded outbound queue, dropping the oldest
// entry on overflow.
func (c *Client) enqueue(env *types.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) >= c.config.QueueSize {
		c.queue = c.queue[1:]
		c.logger.Warn("outbound queue full, dropping oldest message")
		c.mcol.MessageDropped("queue_overflow")
	}
	c.queue = append(c.queue, env)
	c.mcol.QueueDepth(len(c.queue))
}

// readLoop reads frames until the session ends or the socket fails.
func (c *Client) readLoop(gen int, done chan struct{}) {
	for {
		c.mu.Lock()
		conn := c.conn
		stale := c.generation != gen
		c.mu.Unlock()
		if stale || conn == nil {
			return
		}

		_, data, err := conn.Read(context.Background())
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			c.handleStreamFailure(err)
			return
		}

		env, derr := types.DecodeEnvelope(data)
		if derr != nil {
			// Malformed payloads are logged and dropped, never fatal.
			c.logger.Warn("dropping malformed frame", zap.Error(derr))
			c.mcol.MessageDropped("malformed")
			continue
		}

		c.mu.Lock()
		c.lastHeartbeat = time.Now()
		c.mu.Unlock()

		if env.IsHeartbeat() {
			c.mcol.HeartbeatReceived()
			continue
		}
		c.dispatch(env)
	}
}

// dispatch invokes type handlers then wildcard handlers, each in
// registration order.
func (c *Client) dispatch(env *types.Envelope) {
	c.mu.Lock()
	regs := make([]registration, 0, len(c.handlers[env.Type])+len(c.handlers[AnyType]))
	regs = append(regs, c.handlers[env.Type]...)
	regs = append(regs, c.handlers[AnyType]...)
	c.mu.Unlock()

	c.mcol.MessageReceived(env.Type)
	for _, r := range regs {
		r.fn(env)
	}
}

// heartbeatLoop periodically probes the stream and treats prolonged
// silence as an unexpected close.
func (c *Client) heartbeatLoop(gen int, done chan struct{}) {
	if !c.config.EnableHeartbeat {
		return
	}
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		conn := c.conn
		open := c.state == StateOpen && c.generation == gen
		lastBeat := c.lastHeartbeat
		c.mu.Unlock()
		if !open || conn == nil {
			continue
		}

		ping := &types.Envelope{Type: types.TypeHeartbeat, Timestamp: time.Now().UTC(), ID: uuid.NewString()}
		body, _ := ping.Encode()
		if err := conn.Write(context.Background(), websocket.MessageText, body); err != nil {
			c.logger.Warn("heartbeat send failed", zap.Error(err))
			c.handleStreamFailure(err)
			continue
		}
		c.mcol.HeartbeatSent()

		if !lastBeat.IsZero() && time.Since(lastBeat) > c.config.HeartbeatInterval+c.config.HeartbeatTimeout {
			c.logger.Warn("stream stale, no inbound traffic",
				zap.Duration("since_last", time.Since(lastBeat)))
			c.handleStreamFailure(types.NewError(types.ErrHeartbeatStale, "no inbound traffic past stale threshold"))
		}
	}
}

// flushLoop drains the outbound queue once the socket is open.
func (c *Client) flushLoop(gen int, done chan struct{}) {
	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.generation != gen || c.state != StateOpen || c.conn == nil || len(c.queue) == 0 {
			c.mu.Unlock()
			continue
		}
		conn := c.conn
		pending := c.queue
		c.queue = nil
		c.mu.Unlock()

		for i, env := range pending {
			body, err := env.Encode()
			if err != nil {
				continue
			}
			if werr := conn.Write(context.Background(), websocket.MessageText, body); werr != nil {
				// Put the unsent remainder back in order and let the
				// failure path handle the socket.
				c.mu.Lock()
				c.queue = append(pending[i:], c.queue...)
				c.mu.Unlock()
				c.handleStreamFailure(werr)
				break
			}
			c.mcol.MessageSent(env.Type)
		}
		c.mu.Lock()
		c.mcol.QueueDepth(len(c.queue))
		c.mu.Unlock()
	}
}

// handleStreamFailure tears down the broken socket and schedules a
// reconnect. Client-requested closes never reach here: Disconnect closes
// the done channel first, and readLoop checks it before reporting.
func (c *Client) handleStreamFailure(cause error) {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	conn := c.conn
	c.conn = nil
	gen := c.generation
	done := c.done
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusAbnormalClosure, "stream failure")
	}
	c.logger.Warn("stream failed, scheduling reconnect", zap.Error(cause))

	go c.reconnectLoop(gen, done)
}

// reconnectLoop re-dials with exponential backoff: base × 2^(attempt−1)
// capped at MaxBackoff, up to MaxReconnects attempts. Exhaustion is
// surfaced once as a terminal transport error; the client stays usable
// for an explicit manual Connect.
func (c *Client) reconnectLoop(gen int, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	c.setState(StateConnecting)
	c.recordState()

	for {
		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			return
		}
		if c.reconnectCount >= c.config.MaxReconnects {
			c.mu.Unlock()
			c.setState(StateClosed)
			c.recordState()
			c.reportError(types.NewError(types.ErrReconnectExhausted,
				"reconnect attempts exhausted").WithRetryable(false))
			return
		}
		c.reconnectCount++
		attempt := c.reconnectCount
		c.mu.Unlock()

		delay := c.backoffDelay(attempt)
		c.logger.Info("attempting reconnect",
			zap.Int("attempt", attempt),
			zap.Int("max", c.config.MaxReconnects),
			zap.Duration("delay", delay))
		c.mcol.ReconnectAttempt()

		select {
		case <-done:
			return
		case <-time.After(delay):
		}

		conn, err := c.dial(context.Background())
		if err != nil {
			c.logger.Error("reconnect dial failed", zap.Error(err), zap.Int("attempt", attempt))
			continue
		}

		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "client requested")
			return
		}
		c.conn = conn
		c.lastHeartbeat = time.Now()
		c.reconnectCount = 0
		c.mu.Unlock()

		c.setState(StateOpen)
		c.recordState()
		c.logger.Info("reconnected", zap.Int("attempt", attempt))

		go c.readLoop(gen, done)
		return
	}
}

// backoffDelay computes the wait before reconnect attempt n:
// base × 2^(n−1), capped at MaxBackoff.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.config.ReconnectDelay << uint(attempt-1)
	if delay > c.config.MaxBackoff {
		delay = c.config.MaxBackoff
	}
	return delay
}

func (c *Client) recordState() {
	c.mcol.ConnectionState(string(c.State()))
}
