package jdwp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorCode is a VM-reported error code carried on a reply packet.
type ErrorCode uint16

// Error codes the adapter inspects. Anything else is propagated unchanged.
const (
	ErrNone                ErrorCode = 0
	ErrInvalidThread       ErrorCode = 10
	ErrThreadNotSuspended  ErrorCode = 13
	ErrInvalidObject       ErrorCode = 20
	ErrInvalidClass        ErrorCode = 21
	ErrInvalidMethodID     ErrorCode = 23
	ErrInvalidLocation     ErrorCode = 24
	ErrInvalidFieldID      ErrorCode = 25
	ErrInvalidFrameID      ErrorCode = 30
	ErrNotImplemented      ErrorCode = 99
	ErrAbsentInformation   ErrorCode = 101
	ErrInvalidEventType    ErrorCode = 102
	ErrVMDead              ErrorCode = 112
	ErrInvalidIndex        ErrorCode = 503
	ErrInvalidLength       ErrorCode = 504
	ErrInvalidString       ErrorCode = 506
	ErrInvalidArray        ErrorCode = 508
)

// Error is a VM-reported command failure.
type Error struct {
	Code    ErrorCode
	CmdSet  byte
	Cmd     byte
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("wire error %d on command %d.%d: %s", e.Code, e.CmdSet, e.Cmd, e.Message)
	}
	return fmt.Sprintf("wire error %d on command %d.%d", e.Code, e.CmdSet, e.Cmd)
}

// ErrClosed is returned for requests issued after the connection is gone.
var ErrClosed = errors.New("wire connection closed")

// ErrTimeout is a distinct timeout kind so callers can apply retry policy.
var ErrTimeout = errors.New("wire request timed out")

// AsError returns the VM-reported error, if err carries one.
func AsError(err error) (*Error, bool) {
	var we *Error
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// IsCode reports whether err is a VM-reported error with the given code.
func IsCode(err error, code ErrorCode) bool {
	if we, ok := AsError(err); ok {
		return we.Code == code
	}
	return false
}

// IsUnsupported reports whether the VM rejected the command as not
// implemented, which triggers the legacy-command fallback paths.
func IsUnsupported(err error) bool {
	return IsCode(err, ErrNotImplemented) || IsCode(err, ErrInvalidEventType)
}

// IsCollected reports whether err indicates the referenced object was
// garbage collected out from under us.
func IsCollected(err error) bool {
	return IsCode(err, ErrInvalidObject)
}

// IsTerminal reports whether err means the connection is unusable: closed,
// timed out, or the VM is dead. Detach/exit paths treat these as success.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrTimeout) || IsCode(err, ErrVMDead)
}

// Retryable classifies errors for the attach backoff policy. Only transport
// conditions that can heal on their own qualify; protocol errors,
// VM-reported errors and cancellation are never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if _, ok := AsError(err); ok {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNABORTED,
		syscall.ECONNRESET,
		syscall.ETIMEDOUT,
		syscall.ENOTCONN,
		syscall.EADDRNOTAVAIL,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
