package monitor

import (
	"github.com/arkviz/flowpulse/types"
)

// DefaultEventLogCapacity bounds the in-memory event log when no
// capacity is configured.
const DefaultEventLogCapacity = 1000

// eventLog is a bounded FIFO log of execution events. Eviction is by
// arrival order, independent of severity. Single-writer: only the
// Monitor's serialized apply path appends.
type eventLog struct {
	entries []types.Event
	cap     int
}

func newEventLog(capacity int) *eventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	return &eventLog{cap: capacity}
}

// append adds an event, evicting the oldest entry when full.
func (l *eventLog) append(ev types.Event) {
	if len(l.entries) >= l.cap {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, ev)
}

func (l *eventLog) len() int { return len(l.entries) }

// snapshot returns a copy of the log, oldest first.
func (l *eventLog) snapshot() []types.Event {
	out := make([]types.Event, len(l.entries))
	copy(out, l.entries)
	return out
}
