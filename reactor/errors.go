package reactor

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrDisposed is returned by operations on a reactor that has been closed.
	ErrDisposed = errors.New("reactor: reactor has been disposed")

	// ErrNotRunning is returned by Stop, StopAsync and Submit while the
	// reactor is not running.
	ErrNotRunning = errors.New("reactor: reactor is not running")

	// ErrAlreadyRunning is returned by Run and RunAsync while the reactor is
	// running.
	ErrAlreadyRunning = errors.New("reactor: reactor is already running")

	// ErrCloseFromLoop is returned by Close when called from the reactor
	// goroutine, which would otherwise deadlock.
	ErrCloseFromLoop = errors.New("reactor: cannot close from within the reactor")

	// ErrTargetDisposed is returned when adding or removing a pollable that
	// has already been disposed.
	ErrTargetDisposed = errors.New("reactor: target has been disposed")

	// ErrDisposedDuringRemove is returned when a pollable is disposed
	// concurrently with its removal. This indicates a lifetime bug in the
	// caller.
	ErrDisposedDuringRemove = errors.New("reactor: target was disposed while being removed")

	// ErrNilTarget is returned when adding or removing a nil socket, timer
	// or callback.
	ErrNilTarget = errors.New("reactor: nil target")
)

// FaultError indicates the underlying OS multiplexing call failed. A Run
// that returns a FaultError has terminated, and the reactor is stopped.
type FaultError struct {
	Err error
	// Op is the failed operation.
	Op string
	// Handles describes the pollset at the time of the failure.
	Handles string
}

// Error includes the pollset, if known.
func (e *FaultError) Error() string {
	if e.Handles == "" {
		return fmt.Sprintf("reactor: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("reactor: %s %s failed: %v", e.Op, e.Handles, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *FaultError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

// Error formats the recovered value.
func (e PanicError) Error() string {
	return fmt.Sprintf("reactor: callback panicked: %v", e.Value)
}

// Unwrap returns the panic value, if it is an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
