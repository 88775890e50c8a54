package corort

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Components wrap these with fmt.Errorf("%w: ...")
// so callers can still errors.Is against the kind while reading a specific
// message.
var (
	// ErrIOFailure wraps an underlying syscall or poller failure.
	ErrIOFailure = errors.New("corort: i/o failure")
	// ErrCanceled is returned to a Task awaiting an event whose
	// CancellationToken fired first.
	ErrCanceled = errors.New("corort: canceled")
	// ErrTimedOut is returned when a Timeout elapses before the event it
	// guards.
	ErrTimedOut = errors.New("corort: timed out")
	// ErrInvalidState is returned for operations attempted against a Loop,
	// Lock or Executor in a state that forbids them (e.g. submitting to a
	// terminated Loop).
	ErrInvalidState = errors.New("corort: invalid state")
	// ErrResourceExhausted is returned when a fixed-capacity table (fd
	// table, timer heap slot, event id space) has no room left.
	ErrResourceExhausted = errors.New("corort: resource exhausted")
	// ErrExecutorStopped is returned when work is submitted to an Executor
	// that has already begun or completed shutdown.
	ErrExecutorStopped = errors.New("corort: executor stopped")
)

// WrapError annotates err with a kind sentinel so errors.Is(err, kind)
// succeeds while errors.Unwrap(err) still reaches the original cause.
func WrapError(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// PanicError wraps a value recovered from a panicking Task continuation or
// Executor job so it can propagate through the normal error channel instead
// of crashing the owning goroutine.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("corort: recovered panic: %v", e.Value)
}

// Unwrap lets errors.Is(err, ErrInvalidState) see through a PanicError when
// the recovered value is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// AggregateError collects the errors produced when rejecting every pending
// event in a table at once, e.g. during Loop shutdown.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("corort: %d errors occurred, first: %v", len(e.Errors), e.Errors[0])
}

// Is reports whether any aggregated error matches target.
func (e *AggregateError) Is(target error) bool {
	for _, err := range e.Errors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Unwrap exposes the aggregated errors to errors.Is/errors.As (Go 1.20+
// multi-error unwrap).
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}
