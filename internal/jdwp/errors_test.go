package jdwp

import (
	"context"
	"fmt"
	"syscall"
	"testing"
)

func TestAsError_ThroughWrapping(t *testing.T) {
	base := &Error{Code: ErrInvalidThread, CmdSet: 11, Cmd: 1}
	wrapped := fmt.Errorf("list frames: %w", base)

	we, ok := AsError(wrapped)
	if !ok || we.Code != ErrInvalidThread {
		t.Errorf("AsError through wrap = %v, %v", we, ok)
	}
	if !IsCode(wrapped, ErrInvalidThread) {
		t.Error("IsCode missed a wrapped wire error")
	}
	if IsCode(wrapped, ErrInvalidObject) {
		t.Error("IsCode matched the wrong code")
	}
}

func TestIsUnsupported(t *testing.T) {
	if !IsUnsupported(&Error{Code: ErrNotImplemented}) {
		t.Error("NOT_IMPLEMENTED must be unsupported")
	}
	if !IsUnsupported(&Error{Code: ErrInvalidEventType}) {
		t.Error("INVALID_EVENT_TYPE must be unsupported")
	}
	if IsUnsupported(&Error{Code: ErrInvalidThread}) {
		t.Error("INVALID_THREAD is not unsupported")
	}
}

func TestIsTerminal(t *testing.T) {
	for _, err := range []error{
		ErrClosed,
		ErrTimeout,
		&Error{Code: ErrVMDead},
		fmt.Errorf("dispose: %w", ErrClosed),
	} {
		if !IsTerminal(err) {
			t.Errorf("IsTerminal(%v) = false", err)
		}
	}
	if IsTerminal(&Error{Code: ErrInvalidObject}) {
		t.Error("a collected object is not a terminal condition")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "refused connection", err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), want: true},
		{name: "reset connection", err: syscall.ECONNRESET, want: true},
		{name: "closed transport", err: ErrClosed, want: true},
		{name: "request timeout", err: ErrTimeout, want: true},
		{name: "cancellation", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{name: "vm-reported error", err: &Error{Code: ErrVMDead}, want: false},
		{name: "unrelated", err: fmt.Errorf("boom"), want: false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
