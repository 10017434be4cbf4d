package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkviz/flowpulse/types"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// wsServer is an httptest WebSocket server that records inbound frames
// and can push frames to the connected client.
type wsServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    int
	received []string
	current  *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		ws.conns++
		ws.current = conn
		ws.mu.Unlock()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			ws.mu.Lock()
			ws.received = append(ws.received, string(data))
			ws.mu.Unlock()
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsServer) connCount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.conns
}

func (ws *wsServer) receivedCount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.received)
}

func (ws *wsServer) receivedFrames() []string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := make([]string, len(ws.received))
	copy(out, ws.received)
	return out
}

func (ws *wsServer) push(t *testing.T, frame string) {
	t.Helper()
	ws.mu.Lock()
	conn := ws.current
	ws.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(frame)))
}

func (ws *wsServer) dropClient() {
	ws.mu.Lock()
	conn := ws.current
	ws.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusInternalError, "dropped")
	}
}

func testConfig() Config {
	return Config{
		HandshakeTimeout:  2 * time.Second,
		HeartbeatInterval: time.Hour, // keep heartbeat quiet unless a test wants it
		HeartbeatTimeout:  time.Hour,
		MaxReconnects:     3,
		ReconnectDelay:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		QueueSize:         8,
		FlushInterval:     20 * time.Millisecond,
		EnableHeartbeat:   false,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestConnectDisconnectLifecycle(t *testing.T) {
	ws := newWSServer(t)
	c := NewClient(ws.url(), "exec-1", testConfig(), zap.NewNop())

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, ws.url()+"/exec-1", c.Endpoint())

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateOpen, c.State())
	assert.True(t, c.IsConnected())

	// Idempotent: second call while open is a no-op.
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, ws.connCount())

	c.Disconnect()
	assert.Equal(t, StateIdle, c.State())
	// Always succeeds, including when already idle.
	c.Disconnect()
	assert.Equal(t, StateIdle, c.State())
}

func TestConnectHandshakeFailure(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeTimeout = 200 * time.Millisecond

	var reported error
	c := NewClient("ws://127.0.0.1:1", "exec-1", cfg, zap.NewNop())
	c.OnError(func(err error) { reported = err })

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrHandshakeTimeout, types.GetErrorCode(err))
	assert.Equal(t, StateIdle, c.State())
	assert.NotNil(t, reported)
}

func TestDispatchSkipsHeartbeat(t *testing.T) {
	ws := newWSServer(t)
	c := NewClient(ws.url(), "exec-1", testConfig(), zap.NewNop())

	var mu sync.Mutex
	var got []string
	c.On(AnyType, func(env *types.Envelope) {
		mu.Lock()
		got = append(got, env.Type)
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background()))
	ws.push(t, `{"type":"heartbeat"}`)
	ws.push(t, `{"type":"execution_started","execution_id":"exec-1"}`)
	ws.push(t, `{"type":"heartbeat"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"execution_started"}, got)
	mu.Unlock()
	c.Disconnect()
}

func TestMalformedFrameDropped(t *testing.T) {
	ws := newWSServer(t)
	c := NewClient(ws.url(), "exec-1", testConfig(), zap.NewNop())

	var mu sync.Mutex
	count := 0
	c.On(AnyType, func(*types.Envelope) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background()))
	ws.push(t, `{broken`)
	ws.push(t, `{"type":"log"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)
	// The stream survived the malformed frame.
	assert.Equal(t, StateOpen, c.State())
	c.Disconnect()
}

func TestHandlerOrderAndOff(t *testing.T) {
	ws := newWSServer(t)
	c := NewClient(ws.url(), "exec-1", testConfig(), zap.NewNop())

	var mu sync.Mutex
	var order []string
	id1 := c.On("log", func(*types.Envelope) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	c.On("log", func(*types.Envelope) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background()))
	ws.push(t, `{"type":"log"}`)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, order)
	order = nil
	mu.Unlock()

	// Remove one handler by ID.
	c.Off("log", id1)
	ws.push(t, `{"type":"log"}`)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"second"}, order)
	order = nil
	mu.Unlock()

	// Off without IDs clears everything for the type.
	c.Off("log")
	ws.push(t, `{"type":"log"}`)
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, order)
	mu.Unlock()
	c.Disconnect()
}

func TestSendQueuesWhileDisconnected(t *testing.T) {
	ws := newWSServer(t)
	c := NewClient(ws.url(), "exec-1", testConfig(), zap.NewNop())

	// Send before connect: enqueued, not an error.
	require.NoError(t, c.Send(context.Background(), &types.Envelope{Type: "command", ExecutionID: "exec-1"}))
	assert.Equal(t, 0, ws.receivedCount())

	require.NoError(t, c.Connect(context.Background()))
	// The flush ticker drains the queue once the socket is open.
	require.Eventually(t, func() bool {
		return ws.receivedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	frames := ws.receivedFrames()
	assert.Contains(t, frames[0], `"command"`)
	// Client-assigned envelope identity.
	assert.Contains(t, frames[0], `"id"`)
	c.Disconnect()
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 2
	ws := newWSServer(t)
	c := NewClient(ws.url(), "exec-1", cfg, zap.NewNop())

	require.NoError(t, c.Send(context.Background(), &types.Envelope{Type: "first"}))
	require.NoError(t, c.Send(context.Background(), &types.Envelope{Type: "second"}))
	require.NoError(t, c.Send(context.Background(), &types.Envelope{Type: "third"}))

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return ws.receivedCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	frames := ws.receivedFrames()
	require.Len(t, frames, 2)
	assert.Contains(t, frames[0], `"second"`)
	assert.Contains(t, frames[1], `"third"`)
	c.Disconnect()
}

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	ws := newWSServer(t)
	c := NewClient(ws.url(), "exec-1", testConfig(), zap.NewNop())

	var mu sync.Mutex
	var states []State
	c.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background()))
	ws.dropClient()

	require.Eventually(t, func() bool {
		return ws.connCount() == 2 && c.State() == StateOpen
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Contains(t, states, StateConnecting)
	mu.Unlock()
	c.Disconnect()
}

func TestReconnectExhaustionSurfacesTerminalError(t *testing.T) {
	ws := newWSServer(t)
	c := NewClient(ws.url(), "exec-1", testConfig(), zap.NewNop())

	errs := make(chan error, 4)
	c.OnError(func(err error) { errs <- err })

	require.NoError(t, c.Connect(context.Background()))
	// Kill the server entirely so every redial fails. CloseClientConnections
	// does not reach the upgraded socket (httptest stops tracking hijacked
	// conns), so sever the live websocket explicitly.
	ws.srv.CloseClientConnections()
	ws.srv.Close()
	ws.dropClient()

	select {
	case err := <-errs:
		assert.Equal(t, types.ErrReconnectExhausted, types.GetErrorCode(err))
		assert.False(t, types.IsRetryable(err))
	case <-time.After(5 * time.Second):
		t.Fatal("expected a terminal transport error")
	}
	assert.Equal(t, StateClosed, c.State())
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	ws := newWSServer(t)
	cfg := testConfig()
	cfg.ReconnectDelay = 200 * time.Millisecond
	c := NewClient(ws.url(), "exec-1", cfg, zap.NewNop())

	require.NoError(t, c.Connect(context.Background()))
	ws.dropClient()

	// Tear down while the reconnect backoff is pending.
	time.Sleep(20 * time.Millisecond)
	c.Disconnect()
	assert.Equal(t, StateIdle, c.State())

	// No late reconnect fires against the torn-down connection.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, ws.connCount())
}

func TestBackoffSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectDelay = time.Second
	cfg.MaxBackoff = 30 * time.Second
	c := NewClient("ws://unused", "exec-1", cfg, zap.NewNop())

	assert.Equal(t, time.Second, c.backoffDelay(1))
	assert.Equal(t, 2*time.Second, c.backoffDelay(2))
	assert.Equal(t, 4*time.Second, c.backoffDelay(3))

	// The schedule from the k-th failure is base × 2^(k−1), capped.
	for k := 1; k <= 10; k++ {
		d := c.backoffDelay(k)
		lower := cfg.ReconnectDelay << uint(k-1)
		if lower > cfg.MaxBackoff {
			lower = cfg.MaxBackoff
		}
		assert.Equal(t, lower, d, "attempt %d", k)
	}
}

func TestHeartbeatProbeSent(t *testing.T) {
	ws := newWSServer(t)
	cfg := testConfig()
	cfg.EnableHeartbeat = true
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.HeartbeatTimeout = time.Hour
	c := NewClient(ws.url(), "exec-1", cfg, zap.NewNop())

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		for _, f := range ws.receivedFrames() {
			if strings.Contains(f, `"heartbeat"`) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	c.Disconnect()
}

func TestLastHeartbeatUpdatedByInboundTraffic(t *testing.T) {
	ws := newWSServer(t)
	c := NewClient(ws.url(), "exec-1", testConfig(), zap.NewNop())

	require.NoError(t, c.Connect(context.Background()))
	first := c.LastHeartbeat()
	require.False(t, first.IsZero())

	time.Sleep(20 * time.Millisecond)
	ws.push(t, `{"type":"heartbeat"}`)
	require.Eventually(t, func() bool {
		return c.LastHeartbeat().After(first)
	}, 2*time.Second, 10*time.Millisecond)
	c.Disconnect()
}
