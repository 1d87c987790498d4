package msg

import (
	"fmt"
	"math/bits"
	"sync"

	"go.uber.org/atomic"
)

type (
	// BufferPool provides payload buffers for pooled frames. Implementations
	// must be safe for concurrent use, frames are routinely taken on one
	// goroutine and returned on another.
	BufferPool interface {
		// Take returns a buffer with a length of exactly size. Failures must
		// wrap ErrAllocationFailed.
		Take(size int) ([]byte, error)

		// Return gives back a buffer previously returned by Take. It is never
		// called twice for the same Take.
		Return(buf []byte)

		// Close releases any cached buffers. It is called when the pool is
		// replaced via Allocator.SetBufferPool.
		Close() error
	}

	// CounterPool provides the reference counters of shared frames, and has
	// the same concurrency requirements as BufferPool.
	CounterPool interface {
		Take() *AtomicCounter
		Return(counter *AtomicCounter)
		Close() error
	}

	// GCBufferPool allocates every buffer, and leaves returned buffers to the
	// garbage collector. It is the default.
	GCBufferPool struct{}

	// BucketBufferPool caches buffers in power-of-two size classes, up to a
	// maximum buffer size. Requests over the maximum fail. Returned buffers
	// outside its size classes, or in excess of those outstanding, are
	// dropped.
	BucketBufferPool struct {
		buckets     []sync.Pool
		maxSize     int
		outstanding atomic.Int64
		closed      atomic.Bool
	}

	// GCCounterPool allocates every counter. It is the default.
	GCCounterPool struct{}

	// SyncCounterPool recycles counters through a sync.Pool.
	SyncCounterPool struct {
		pool sync.Pool
	}
)

const (
	// minBucketShift is the smallest size class, 64 bytes
	minBucketShift = 6

	// DefaultMaxBufferSize is used by NewBucketBufferPool for a maxSize <= 0.
	DefaultMaxBufferSize = 4 << 20
)

var (
	// compile time assertions

	_ BufferPool  = GCBufferPool{}
	_ BufferPool  = (*BucketBufferPool)(nil)
	_ CounterPool = GCCounterPool{}
	_ CounterPool = (*SyncCounterPool)(nil)
)

// Take allocates a new buffer of size bytes.
func (GCBufferPool) Take(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrAllocationFailed, size)
	}
	return make([]byte, size), nil
}

// Return is a no-op.
func (GCBufferPool) Return([]byte) {}

// Close is a no-op.
func (GCBufferPool) Close() error { return nil }

// NewBucketBufferPool constructs a BucketBufferPool. The maximum is rounded up
// to a power of two.
func NewBucketBufferPool(maxSize int) *BucketBufferPool {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferSize
	}
	maxShift := bucketShift(maxSize)
	if maxShift < minBucketShift {
		maxShift = minBucketShift
	}
	x := &BucketBufferPool{
		buckets: make([]sync.Pool, maxShift-minBucketShift+1),
		maxSize: 1 << maxShift,
	}
	for i := range x.buckets {
		size := 1 << (minBucketShift + i)
		x.buckets[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return x
}

// MaxSize returns the largest buffer this pool will provide.
func (x *BucketBufferPool) MaxSize() int { return x.maxSize }

// Outstanding returns the number of buffers taken and not yet returned.
func (x *BucketBufferPool) Outstanding() int64 { return x.outstanding.Load() }

// Take returns a buffer from the smallest size class that fits size.
func (x *BucketBufferPool) Take(size int) ([]byte, error) {
	if x.closed.Load() {
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, ErrPoolClosed)
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrAllocationFailed, size)
	}
	if size > x.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds maximum buffer size %d", ErrAllocationFailed, size, x.maxSize)
	}
	idx := bucketShift(size) - minBucketShift
	if idx < 0 {
		idx = 0
	}
	b := x.buckets[idx].Get().(*[]byte)
	x.outstanding.Inc()
	return (*b)[:size], nil
}

// Return caches buf for reuse, unless the pool is closed.
func (x *BucketBufferPool) Return(buf []byte) {
	c := cap(buf)
	if c == 0 || c&(c-1) != 0 {
		// not one of ours
		return
	}
	idx := bits.TrailingZeros(uint(c)) - minBucketShift
	if idx < 0 || idx >= len(x.buckets) {
		return
	}
	for {
		n := x.outstanding.Load()
		if n <= 0 {
			// more returns than takes, so it was never ours
			return
		}
		if x.outstanding.CompareAndSwap(n, n-1) {
			break
		}
	}
	if x.closed.Load() {
		return
	}
	buf = buf[:c]
	x.buckets[idx].Put(&buf)
}

// Close stops caching returned buffers, and fails subsequent takes.
func (x *BucketBufferPool) Close() error {
	x.closed.Store(true)
	return nil
}

// bucketShift returns the smallest n such that 1<<n >= size.
func bucketShift(size int) int {
	if size <= 1 {
		return 0
	}
	return bits.Len(uint(size - 1))
}

// Take allocates a new counter.
func (GCCounterPool) Take() *AtomicCounter { return new(AtomicCounter) }

// Return is a no-op.
func (GCCounterPool) Return(*AtomicCounter) {}

// Close is a no-op.
func (GCCounterPool) Close() error { return nil }

// NewSyncCounterPool constructs a SyncCounterPool.
func NewSyncCounterPool() *SyncCounterPool {
	return &SyncCounterPool{pool: sync.Pool{New: func() any { return new(AtomicCounter) }}}
}

// Take returns a counter set to zero.
func (x *SyncCounterPool) Take() *AtomicCounter {
	c := x.pool.Get().(*AtomicCounter)
	c.Set(0)
	return c
}

// Return recycles counter. A nil counter is ignored.
func (x *SyncCounterPool) Return(counter *AtomicCounter) {
	if counter != nil {
		x.pool.Put(counter)
	}
}

// Close is a no-op, recycled counters are left to the garbage collector.
func (x *SyncCounterPool) Close() error { return nil }
