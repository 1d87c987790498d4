// Package msg implements the frame value type shared by every socket, and the
// pluggable allocation strategies backing pooled frames.
//
// A [Msg] is a value type. Copying a Msg with plain assignment aliases the
// payload without any reference counting, so the explicit operations
// [Msg.Copy], [Msg.Move], [Msg.AddReferences] and [Msg.RemoveReferences]
// exist to keep pooled payloads alive for exactly as long as they are
// referenced, and to hand them back to the [Allocator] exactly once.
//
// # Lifecycle
//
//	var m msg.Msg               // Uninitialized
//	_ = m.InitPool(64)          // Pool, unshared
//	_ = m.AddReferences(2)      // Pool, Shared, count 3
//	a, b := m, m                // aliases, same count
//	_ = a.Close()               // count 2
//	_ = b.Close()               // count 1
//	_ = m.Close()               // count 0, buffer returned
//
// Calling InitEmpty (or any other Init method) over a live pooled frame leaks
// its buffer. That is a caller obligation, it is not detected.
//
// # Allocation
//
// The payload buffers and the reference counters come from an [Allocator],
// which holds a [BufferPool] and a [CounterPool]. The strategies may be
// swapped at any time, concurrently with frames being taken and returned,
// see [Allocator.SetBufferPool]. A frame returns its buffer to the pool that
// issued it, even after that pool has been replaced.
package msg
