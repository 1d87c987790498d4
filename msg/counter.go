package msg

import (
	"go.uber.org/atomic"
)

// AtomicCounter is the reference count shared by every alias of a pooled
// frame.
type AtomicCounter struct {
	v atomic.Int32
}

// Set stores n, without synchronizing with any in-flight Increase or
// Decrement. It is only valid before the counter is shared.
func (x *AtomicCounter) Set(n int32) { x.v.Store(n) }

// Increase adds n, returning the new value.
func (x *AtomicCounter) Increase(n int32) int32 { return x.v.Add(n) }

// Decrement subtracts n, returning the new value.
func (x *AtomicCounter) Decrement(n int32) int32 { return x.v.Sub(n) }

// Load returns the current value.
func (x *AtomicCounter) Load() int32 { return x.v.Load() }
