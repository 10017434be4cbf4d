package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/arkviz/flowpulse/types"
)

// newPropHarness builds a Monitor wired to fakes without *testing.T, so
// property runners can construct one per iteration.
func newPropHarness() (*Monitor, *fakeAPI, *fakeStream) {
	api := &fakeAPI{}
	var stream *fakeStream
	factory := func(executionID string) Stream {
		stream = &fakeStream{executionID: executionID}
		return stream
	}
	cfg := DefaultConfig()
	cfg.ExecutionTimeout = 0 // no watchdog interference
	mon := New(api, factory, cfg, zap.NewNop())
	return mon, api, stream
}

var executionEventTypes = []string{
	types.TypeExecutionStarted,
	types.TypeExecutionPaused,
	types.TypeExecutionResumed,
	types.TypeExecutionCompleted,
	types.TypeExecutionFailed,
}

// Once a terminal status is reached, no later event of any kind moves
// the execution out of it.
func TestReducerTerminalSink(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mon, _, _ := newPropHarness()
		_, err := mon.Start(context.Background(), "agent-1", nil, nil)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		defer mon.Close()

		mon.mu.Lock()
		stream := mon.stream.(*fakeStream)
		mon.mu.Unlock()

		events := rapid.SliceOfN(rapid.SampledFrom(executionEventTypes), 1, 40).Draw(t, "events")

		var terminal types.ExecutionStatus
		for i, typ := range events {
			stream.mu.Lock()
			h := stream.handler
			stream.mu.Unlock()
			h(&types.Envelope{Type: typ, ExecutionID: "exec-1"})

			status := mon.Status()
			if terminal != "" && status != terminal {
				t.Fatalf("event %d (%s) moved execution out of terminal %s to %s", i, typ, terminal, status)
			}
			if terminal == "" && status.IsTerminal() {
				terminal = status
			}
		}
	})
}

// Replaying a full event history over an already-reduced execution
// leaves the aggregates unchanged.
func TestReplayIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mon, _, _ := newPropHarness()
		_, err := mon.Start(context.Background(), "agent-1", nil, nil)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		defer mon.Close()

		mon.mu.Lock()
		stream := mon.stream.(*fakeStream)
		mon.mu.Unlock()
		emit := func(env *types.Envelope) {
			stream.mu.Lock()
			h := stream.handler
			stream.mu.Unlock()
			h(env)
		}

		emit(&types.Envelope{Type: types.TypeExecutionStarted, ExecutionID: "exec-1"})

		nodeCount := rapid.IntRange(1, 8).Draw(t, "nodes")
		terminalTypes := []string{
			types.TypeNodeCompleted, types.TypeNodeFailed,
			types.TypeNodeSkipped, types.TypeNodeTimeout,
		}
		var history []*types.Envelope
		for i := 0; i < nodeCount; i++ {
			nodeID := fmt.Sprintf("n%d", i)
			tokens := rapid.IntRange(0, 5000).Draw(t, fmt.Sprintf("tokens%d", i))
			data, _ := json.Marshal(&types.NodeEventPayload{TokensUsed: tokens})
			history = append(history,
				&types.Envelope{Type: types.TypeNodeStarted, ExecutionID: "exec-1", NodeID: nodeID},
				&types.Envelope{
					Type:        rapid.SampledFrom(terminalTypes).Draw(t, fmt.Sprintf("term%d", i)),
					ExecutionID: "exec-1",
					NodeID:      nodeID,
					Data:        data,
				})
		}
		for _, env := range history {
			emit(env)
		}
		before := mon.Execution().Aggregates

		// Full replay, as a reconnected stream would deliver it.
		for _, env := range history {
			emit(env)
		}
		after := mon.Execution().Aggregates

		if before.TotalNodes != after.TotalNodes {
			t.Fatalf("replay changed node count: %d -> %d", before.TotalNodes, after.TotalNodes)
		}
		if before.TotalTokens != after.TotalTokens {
			t.Fatalf("replay changed tokens: %+v -> %+v", before.TotalTokens, after.TotalTokens)
		}
		for status, n := range before.NodesByStatus {
			if after.NodesByStatus[status] != n {
				t.Fatalf("replay changed %s count: %d -> %d", status, n, after.NodesByStatus[status])
			}
		}
	})
}

// The bounded log keeps at most its capacity and always the most recent
// entries in arrival order.
func TestEventLogProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("append never exceeds capacity and keeps newest", prop.ForAll(
		func(capacity int, messages []string) bool {
			log := newEventLog(capacity)
			for _, msg := range messages {
				log.append(types.Event{Message: msg})
			}
			snap := log.snapshot()
			if len(snap) > capacity {
				return false
			}
			want := messages
			if len(want) > capacity {
				want = want[len(want)-capacity:]
			}
			if len(snap) != len(want) {
				return false
			}
			for i := range want {
				if snap[i].Message != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 50),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
