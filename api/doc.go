// Package api implements the thin HTTP client for the collaborator
// command surface: starting, cancelling, pausing, resuming and
// restarting agent executions. The execution engine and the CRUD API for
// agents and workspaces are external collaborators; this client only
// carries the contract the monitor package requires.
package api
