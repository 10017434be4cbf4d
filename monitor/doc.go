// Copyright (c) FlowPulse Authors.
// Licensed under the MIT License.

/*
Package monitor reduces the event stream of a remote agent execution
into a consistent local view of its progress.

The Monitor owns one transport connection per attached execution,
translates inbound envelopes plus explicit user commands into execution
state transitions, and exposes the current state together with a bounded
event log. Transitions are idempotent: triggers arriving for a state
they are not valid from are discarded, which makes duplicated, partial,
or re-ordered delivery safe. Aggregate metrics are recomputed from the
per-node map on every change, never blindly incremented, so replayed
node events are idempotent too.

Commands are issued optimistically: local status moves to the expected
next state immediately and the authoritative server event confirms it
later. The window between the two is a documented eventual-consistency
contract; there is no automatic rollback.
*/
package monitor
