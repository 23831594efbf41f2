// Package types defines shared data types used across the debug adapter.
//
// This package provides type definitions for:
//   - SessionStatus: debug session states (attaching, running, stopped, terminated)
//   - AttachArguments: the attach request body the adapter accepts
//   - SessionInfo: a summary of the live session for logging and diagnostics
//
// These types sit outside internal/ so editor-side tooling that embeds the
// adapter can share them.
package types

// SessionStatus represents the status of a debug session.
type SessionStatus string

const (
	SessionStatusAttaching  SessionStatus = "attaching"
	SessionStatusRunning    SessionStatus = "running"
	SessionStatusStopped    SessionStatus = "stopped"
	SessionStatusTerminated SessionStatus = "terminated"
)

// AttachArguments is the body of the DAP attach request. Unset fields fall
// back to the adapter's configuration file.
type AttachArguments struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// SourcePaths maps the source files the client edits onto the paths
	// compiled into the target, newest first.
	SourcePaths []string `json:"sourcePaths,omitempty"`

	// BreakOnUncaught overrides the configured uncaught-exception break.
	BreakOnUncaught *bool `json:"breakOnUncaught,omitempty"`
}

// SessionInfo summarizes a live session.
type SessionInfo struct {
	SessionID string        `json:"sessionId"`
	Address   string        `json:"address"`
	Status    SessionStatus `json:"status"`
}
