// Package transport maintains a live WebSocket stream to the backend for
// one agent execution at a time, re-establishing it transparently after
// failures with exponential backoff, and delivering every non-heartbeat
// message to registered subscribers.
//
// Delivery is best-effort at-least-once: duplicates are tolerated
// downstream by the monitor package's idempotent reducer logic, never
// assumed impossible.
package transport
