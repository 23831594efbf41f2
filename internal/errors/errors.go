// Package errors provides structured error types for the debug adapter.
// Errors carry a machine-readable code the server maps onto DAP error
// responses, plus a hint shown to the user when one helps.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode is a machine-readable error category.
type ErrorCode string

const (
	// Session lifecycle.
	CodeNotAttached       ErrorCode = "NOT_ATTACHED"
	CodeAttachFailed      ErrorCode = "ATTACH_FAILED"
	CodeSessionTerminated ErrorCode = "SESSION_TERMINATED"

	// Request validation.
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"
	CodeUnsupported      ErrorCode = "UNSUPPORTED"

	// Runtime state.
	CodeStaleHandle      ErrorCode = "STALE_HANDLE"
	CodeThreadNotStopped ErrorCode = "THREAD_NOT_STOPPED"

	// Configuration.
	CodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	CodeConfigInvalid  ErrorCode = "CONFIG_INVALID"
)

// DebugError is a structured error with a category, an optional hint for
// the user, and optional extra context.
type DebugError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}
	return sb.String()
}

func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds one context entry to the error.
func (e *DebugError) WithDetails(key string, value any) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause.
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// New creates a DebugError with just a code and message.
func New(code ErrorCode, message string) *DebugError {
	return &DebugError{Code: code, Message: message}
}

// Newf creates a DebugError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *DebugError {
	return &DebugError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotAttached reports a request that arrived before attach completed.
func NotAttached() *DebugError {
	return &DebugError{
		Code:    CodeNotAttached,
		Message: "no debug session is attached",
		Hint:    "Send an attach request before debugging requests.",
	}
}

// AttachFailed reports a failed connection to the target VM.
func AttachFailed(addr string, cause error) *DebugError {
	return &DebugError{
		Code:    CodeAttachFailed,
		Message: fmt.Sprintf("could not attach to %s: %v", addr, cause),
		Hint:    "Check that the target VM is running with its debug agent listening on the configured address.",
		Details: map[string]any{"address": addr},
		Cause:   cause,
	}
}

// SessionTerminated reports a request after the VM died or disconnected.
func SessionTerminated() *DebugError {
	return &DebugError{
		Code:    CodeSessionTerminated,
		Message: "the debug session has ended",
	}
}

// StaleHandle reports a frame or variables reference from a previous stop.
func StaleHandle(kind string, handle int) *DebugError {
	return &DebugError{
		Code:    CodeStaleHandle,
		Message: fmt.Sprintf("%s reference %d is no longer valid", kind, handle),
		Hint:    "References are valid only while the program is stopped; request a fresh stackTrace after each stop.",
		Details: map[string]any{"handle": handle},
	}
}

// ThreadNotStopped reports an inspection request against a running thread.
func ThreadNotStopped(threadID int) *DebugError {
	return &DebugError{
		Code:    CodeThreadNotStopped,
		Message: fmt.Sprintf("thread %d is not stopped", threadID),
		Details: map[string]any{"threadId": threadID},
	}
}

// MissingParameter reports a request missing a required field.
func MissingParameter(name string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("missing required parameter '%s'", name),
	}
}

// InvalidParameter reports a request field with an unusable value.
func InvalidParameter(name string, reason string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid parameter '%s': %s", name, reason),
	}
}

// Unsupported reports a request the target VM cannot serve.
func Unsupported(what string) *DebugError {
	return &DebugError{
		Code:    CodeUnsupported,
		Message: fmt.Sprintf("%s is not supported by the target VM", what),
	}
}

// ConfigNotFound reports a missing configuration file.
func ConfigNotFound(path string) *DebugError {
	return &DebugError{
		Code:    CodeConfigNotFound,
		Message: fmt.Sprintf("configuration file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// ConfigInvalid reports an unparseable or inconsistent configuration.
func ConfigInvalid(reason string, cause error) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("invalid configuration: %s", reason),
		Cause:   cause,
	}
}

// GetCode extracts the ErrorCode from an error chain, or empty.
func GetCode(err error) ErrorCode {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Is reports whether the error chain carries the given code.
func Is(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// AsDebugError extracts a DebugError from the chain.
func AsDebugError(err error) (*DebugError, bool) {
	var de *DebugError
	ok := stderrors.As(err, &de)
	return de, ok
}
