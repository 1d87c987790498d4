package msg

import (
	"go.uber.org/atomic"
)

type (
	// Allocator holds the current BufferPool and CounterPool. Strategies may
	// be replaced at any time. A frame's buffer goes back to the BufferPool
	// that issued it, its counter to whichever CounterPool is current.
	Allocator struct {
		buffers  atomic.Pointer[bufferPoolRef]
		counters atomic.Pointer[counterPoolRef]
	}

	// AllocatorOption configures NewAllocator.
	AllocatorOption func(c *allocatorConfig)

	allocatorConfig struct {
		buffers  BufferPool
		counters CounterPool
	}

	bufferPoolRef struct{ BufferPool }

	counterPoolRef struct{ CounterPool }
)

var defaultAllocator atomic.Pointer[Allocator]

func init() {
	defaultAllocator.Store(NewAllocator())
}

// WithBufferPool sets the initial BufferPool, defaulting to GCBufferPool.
func WithBufferPool(pool BufferPool) AllocatorOption {
	return func(c *allocatorConfig) {
		c.buffers = pool
	}
}

// WithCounterPool sets the initial CounterPool, defaulting to GCCounterPool.
func WithCounterPool(pool CounterPool) AllocatorOption {
	return func(c *allocatorConfig) {
		c.counters = pool
	}
}

// NewAllocator constructs an Allocator.
func NewAllocator(options ...AllocatorOption) *Allocator {
	var c allocatorConfig
	for _, o := range options {
		if o != nil {
			o(&c)
		}
	}
	if c.buffers == nil {
		c.buffers = GCBufferPool{}
	}
	if c.counters == nil {
		c.counters = GCCounterPool{}
	}
	x := new(Allocator)
	x.buffers.Store(&bufferPoolRef{c.buffers})
	x.counters.Store(&counterPoolRef{c.counters})
	return x
}

// DefaultAllocator returns the allocator used by Msg.InitPool.
func DefaultAllocator() *Allocator {
	return defaultAllocator.Load()
}

// SetDefaultAllocator replaces the allocator used by Msg.InitPool, returning
// the previous one. Frames already initialized keep using the allocator they
// were taken from. A nil allocator resets to the defaults.
func SetDefaultAllocator(a *Allocator) *Allocator {
	if a == nil {
		a = NewAllocator()
	}
	return defaultAllocator.Swap(a)
}

// BufferPool returns the current buffer strategy.
func (x *Allocator) BufferPool() BufferPool { return x.buffers.Load().BufferPool }

// CounterPool returns the current counter strategy.
func (x *Allocator) CounterPool() CounterPool { return x.counters.Load().CounterPool }

// SetBufferPool replaces the buffer strategy, then closes the previous one.
// Frames taken from the previous pool still return their buffers to it. A
// nil pool reinstates GCBufferPool.
func (x *Allocator) SetBufferPool(pool BufferPool) error {
	if pool == nil {
		pool = GCBufferPool{}
	}
	prior := x.buffers.Swap(&bufferPoolRef{pool})
	if prior == nil {
		return nil
	}
	return prior.Close()
}

// SetCounterPool replaces the counter strategy, then closes the previous one.
// A nil pool reinstates GCCounterPool.
func (x *Allocator) SetCounterPool(pool CounterPool) error {
	if pool == nil {
		pool = GCCounterPool{}
	}
	prior := x.counters.Swap(&counterPoolRef{pool})
	if prior == nil {
		return nil
	}
	return prior.Close()
}

// TakeBuffer takes a buffer of exactly size bytes from the current strategy.
func (x *Allocator) TakeBuffer(size int) ([]byte, error) {
	return x.BufferPool().Take(size)
}

// ReturnBuffer returns buf to the current strategy, which must be the one
// that issued it.
func (x *Allocator) ReturnBuffer(buf []byte) {
	x.BufferPool().Return(buf)
}

// TakeCounter takes a counter from the current strategy.
func (x *Allocator) TakeCounter() *AtomicCounter {
	return x.CounterPool().Take()
}

// ReturnCounter returns counter to the current strategy.
func (x *Allocator) ReturnCounter(counter *AtomicCounter) {
	x.CounterPool().Return(counter)
}

// Close closes both current strategies.
func (x *Allocator) Close() error {
	err := x.BufferPool().Close()
	if err2 := x.CounterPool().Close(); err == nil {
		err = err2
	}
	return err
}
