//go:build linux || darwin

// Package signaler implements the wake-up primitive shared by the reactor and
// the in-process pollables: a non-blocking OS handle that becomes readable
// after Send, and stays readable until Drain.
//
// Linux uses a single eventfd, darwin a self-pipe.
package signaler

import (
	"errors"
	"sync/atomic"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("signaler: closed")

// Signaler is safe for concurrent use. Send may be called from any goroutine,
// Drain is expected to be called by the single consumer.
type Signaler struct {
	readFD  int
	writeFD int
	closed  atomic.Bool
	// pending deduplicates writes, so producers only touch the fd once per
	// drain cycle
	pending atomic.Bool
}

// New creates a Signaler.
func New() (*Signaler, error) {
	r, w, err := createWakeFd()
	if err != nil {
		return nil, err
	}
	return &Signaler{readFD: r, writeFD: w}, nil
}

// FD returns the handle to poll for readability.
func (x *Signaler) FD() int { return x.readFD }

// Send makes FD readable. Redundant calls before the next Drain are cheap.
func (x *Signaler) Send() error {
	if x.closed.Load() {
		return ErrClosed
	}
	if !x.pending.CompareAndSwap(false, true) {
		return nil
	}
	if err := writeWake(x.writeFD); err != nil {
		x.pending.Store(false)
		return err
	}
	return nil
}

// Drain consumes every pending wake-up, returning true if there was at least
// one. A Send that races with Drain may be absorbed, so the caller must
// re-check its own state after Drain returns.
func (x *Signaler) Drain() bool {
	if x.closed.Load() {
		return false
	}
	// pending must only be cleared once the fd is empty, or a write that
	// lands mid-read is consumed with pending still set
	read := drainWake(x.readFD)
	return x.pending.Swap(false) || read
}

// Close releases the underlying handle(s). Subsequent calls are no-ops.
func (x *Signaler) Close() error {
	if !x.closed.CompareAndSwap(false, true) {
		return nil
	}
	return closeWakeFd(x.readFD, x.writeFD)
}
