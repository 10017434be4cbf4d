// Copyright (c) FlowPulse Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type definitions for the FlowPulse
execution-monitoring client.

types is the lowest-level package with no internal dependencies; the
transport, monitor, and api packages all build on the contracts defined
here to avoid circular imports.

Core types:

  - ExecutionStatus / NodeStatus: bounded state machines for executions
    and their workflow nodes, with explicit terminal-state discipline
  - Envelope: the wire message exchanged over the event stream
  - Event: an immutable entry in the bounded execution event log
  - TokenUsage: token consumption counters attached to node results
  - Error / ErrorCode: structured error taxonomy for transport,
    protocol, and execution-domain failures
  - ExecutionOptions: backend execution options forwarded unmodified
*/
package types
