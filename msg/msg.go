package msg

import (
	"encoding/binary"
	"fmt"
	"strings"
)

type (
	// Type identifies what a Msg holds. The zero value is Uninitialized.
	Type uint8

	// Flags is a bitset describing a frame.
	Flags uint8

	// Msg is one frame. The zero value is Uninitialized, and must be
	// initialized by one of the Init methods before use. See the package
	// documentation regarding copying and lifetime.
	Msg struct {
		data      []byte
		counter   *AtomicCounter
		allocator *Allocator
		// pool issued data, and is where it is returned
		pool      BufferPool
		group     string
		offset    int
		size      int
		routingID uint32
		typ       Type
		flags     Flags
	}
)

const (
	Uninitialized Type = iota
	Empty
	Delimiter
	Join
	Leave
	// GC frames wrap a caller owned buffer, which is never released.
	GC
	// Pool frames own a buffer taken from an Allocator.
	Pool
)

const (
	// More indicates that further frames of the same message follow.
	More Flags = 1 << iota
	// Command marks protocol command frames.
	Command
	// Identity marks a frame carrying a peer identity.
	Identity
	// Shared is set on pooled frames aliased under a reference count. It is
	// managed internally, and may not be set or reset directly.
	Shared
)

// MaxGroupLength is the maximum length, in bytes, of a group.
const MaxGroupLength = 255

// String returns the name of the type.
func (x Type) String() string {
	switch x {
	case Uninitialized:
		return "Uninitialized"
	case Empty:
		return "Empty"
	case Delimiter:
		return "Delimiter"
	case Join:
		return "Join"
	case Leave:
		return "Leave"
	case GC:
		return "GC"
	case Pool:
		return "Pool"
	default:
		return fmt.Sprintf("Type(%d)", uint8(x))
	}
}

// String returns the set flags joined by "|", or "None".
func (x Flags) String() string {
	if x == 0 {
		return "None"
	}
	var names []string
	for _, f := range [...]struct {
		flag Flags
		name string
	}{
		{More, "More"},
		{Command, "Command"},
		{Identity, "Identity"},
		{Shared, "Shared"},
	} {
		if x&f.flag != 0 {
			names = append(names, f.name)
			x &^= f.flag
		}
	}
	if x != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint8(x)))
	}
	return strings.Join(names, "|")
}

// InitEmpty resets m to an Empty frame. Any pooled buffer held by m must
// already have been released.
func (m *Msg) InitEmpty() { *m = Msg{typ: Empty} }

// InitDelimiter resets m to a Delimiter frame.
func (m *Msg) InitDelimiter() { *m = Msg{typ: Delimiter} }

// InitJoin resets m to a Join frame.
func (m *Msg) InitJoin() { *m = Msg{typ: Join} }

// InitLeave resets m to a Leave frame.
func (m *Msg) InitLeave() { *m = Msg{typ: Leave} }

// InitPool initializes m with a buffer of size bytes, taken from the
// DefaultAllocator.
func (m *Msg) InitPool(size int) error {
	return m.InitPoolFrom(DefaultAllocator(), size)
}

// InitPoolFrom initializes m with a buffer of size bytes, taken from a.
// On failure, m is left unmodified, and the error wraps ErrAllocationFailed.
func (m *Msg) InitPoolFrom(a *Allocator, size int) error {
	if a == nil {
		a = DefaultAllocator()
	}
	pool := a.BufferPool()
	buf, err := pool.Take(size)
	if err != nil {
		return err
	}
	if len(buf) < size {
		pool.Return(buf)
		return fmt.Errorf("%w: pool returned %d bytes for a request of %d", ErrAllocationFailed, len(buf), size)
	}
	*m = Msg{
		typ:       Pool,
		data:      buf,
		size:      size,
		allocator: a,
		pool:      pool,
	}
	return nil
}

// InitGC wraps the first size bytes of buf, without copying. The buffer
// remains owned by the caller.
func (m *Msg) InitGC(buf []byte, size int) error {
	return m.InitGCOffset(buf, 0, size)
}

// InitGCOffset wraps buf[offset:offset+size], without copying.
func (m *Msg) InitGCOffset(buf []byte, offset, size int) error {
	if offset < 0 || size < 0 || offset > len(buf) || size > len(buf)-offset {
		return fmt.Errorf("%w: offset %d size %d for buffer of %d bytes", ErrOutOfRange, offset, size, len(buf))
	}
	*m = Msg{
		typ:    GC,
		data:   buf,
		offset: offset,
		size:   size,
	}
	return nil
}

// Close releases m, returning a pooled buffer to the BufferPool it was taken
// from once no other alias references it. After Close, m is Uninitialized.
func (m *Msg) Close() error {
	if !m.IsInitialized() {
		return fmt.Errorf("%w: close", ErrUninitialized)
	}
	if m.typ == Pool {
		if m.flags&Shared == 0 || m.counter.Decrement(1) == 0 {
			m.release()
		}
	}
	*m = Msg{}
	return nil
}

// AddReferences records n additional aliases of a pooled frame. It must be
// called before the aliases are handed to other goroutines. It is a no-op
// for n == 0 and for frames that are not pooled.
func (m *Msg) AddReferences(n int) error {
	if !m.IsInitialized() {
		return fmt.Errorf("%w: add references", ErrUninitialized)
	}
	if n < 0 {
		return fmt.Errorf("%w: negative reference count %d", ErrOutOfRange, n)
	}
	if n == 0 || m.typ != Pool {
		return nil
	}
	if m.flags&Shared != 0 {
		m.counter.Increase(int32(n))
		return nil
	}
	m.counter = m.allocator.TakeCounter()
	m.counter.Set(int32(n) + 1)
	m.flags |= Shared
	return nil
}

// RemoveReferences releases n references. For frames that are not shared
// pooled frames, it is exactly Close. For shared frames, the buffer is
// released when the count reaches zero, and m becomes Uninitialized.
// Otherwise m is left as is, and remains one of the remaining aliases.
func (m *Msg) RemoveReferences(n int) error {
	if !m.IsInitialized() {
		return fmt.Errorf("%w: remove references", ErrUninitialized)
	}
	if n < 0 {
		return fmt.Errorf("%w: negative reference count %d", ErrOutOfRange, n)
	}
	if n == 0 {
		return nil
	}
	if m.typ != Pool || m.flags&Shared == 0 {
		return m.Close()
	}
	if m.counter.Decrement(int32(n)) == 0 {
		m.release()
		*m = Msg{}
	}
	return nil
}

// Copy closes m if initialized, then makes m an alias of src. A pooled src
// becomes shared, with the count incremented to include m.
func (m *Msg) Copy(src *Msg) error {
	if src == nil || !src.IsInitialized() {
		return fmt.Errorf("%w: copy source", ErrUninitialized)
	}
	if m == src {
		return nil
	}
	if m.IsInitialized() {
		if err := m.Close(); err != nil {
			return err
		}
	}
	if src.typ == Pool {
		if src.flags&Shared != 0 {
			src.counter.Increase(1)
		} else {
			src.counter = src.allocator.TakeCounter()
			src.counter.Set(2)
			src.flags |= Shared
		}
	}
	*m = *src
	return nil
}

// Move closes m if initialized, transfers the state of src to m, then resets
// src to Empty. Reference counts are unchanged.
func (m *Msg) Move(src *Msg) error {
	if src == nil || !src.IsInitialized() {
		return fmt.Errorf("%w: move source", ErrUninitialized)
	}
	if m == src {
		return nil
	}
	if m.IsInitialized() {
		if err := m.Close(); err != nil {
			return err
		}
	}
	*m = *src
	src.InitEmpty()
	return nil
}

// TrimPrefix discards the first n bytes of the frame.
func (m *Msg) TrimPrefix(n int) error {
	if !m.IsInitialized() {
		return fmt.Errorf("%w: trim prefix", ErrUninitialized)
	}
	if n < 0 || n > m.size {
		return fmt.Errorf("%w: trim %d of %d bytes", ErrOutOfRange, n, m.size)
	}
	m.offset += n
	m.size -= n
	return nil
}

func (m *Msg) release() {
	m.pool.Return(m.data)
	if m.counter != nil {
		m.allocator.ReturnCounter(m.counter)
	}
}

// Type returns the kind of frame.
func (m *Msg) Type() Type { return m.typ }

// Flags returns all flags, including Shared.
func (m *Msg) Flags() Flags { return m.flags }

// SetFlags sets the given flags. Shared is ignored.
func (m *Msg) SetFlags(flags Flags) { m.flags |= flags &^ Shared }

// ResetFlags clears the given flags. Shared is ignored.
func (m *Msg) ResetFlags(flags Flags) { m.flags &^= flags &^ Shared }

// HasMore reports whether further frames of the same message follow.
func (m *Msg) HasMore() bool { return m.flags&More != 0 }

// IsShared reports whether the payload is reference counted between aliases.
func (m *Msg) IsShared() bool { return m.flags&Shared != 0 }

// IsIdentity reports whether the Identity flag is set.
func (m *Msg) IsIdentity() bool { return m.flags&Identity != 0 }

// IsCommand reports whether the Command flag is set.
func (m *Msg) IsCommand() bool { return m.flags&Command != 0 }

// IsInitialized reports whether m has been initialized, and not closed.
func (m *Msg) IsInitialized() bool { return m.typ != Uninitialized }

// IsDelimiter reports whether m is a Delimiter frame.
func (m *Msg) IsDelimiter() bool { return m.typ == Delimiter }

// IsJoin reports whether m is a Join frame.
func (m *Msg) IsJoin() bool { return m.typ == Join }

// IsLeave reports whether m is a Leave frame.
func (m *Msg) IsLeave() bool { return m.typ == Leave }

// Size returns the number of valid bytes.
func (m *Msg) Size() int { return m.size }

// Offset returns the start of the valid bytes within the backing buffer.
func (m *Msg) Offset() int { return m.offset }

// RoutingID returns the routing id, or 0 if unset.
func (m *Msg) RoutingID() uint32 { return m.routingID }

// SetRoutingID sets the routing id, which must be non-zero.
func (m *Msg) SetRoutingID(id uint32) error {
	if id == 0 {
		return ErrInvalidRoutingID
	}
	m.routingID = id
	return nil
}

// ResetRoutingID clears the routing id, back to 0, meaning unset.
func (m *Msg) ResetRoutingID() { m.routingID = 0 }

// Group returns the group, empty if unset.
func (m *Msg) Group() string { return m.group }

// SetGroup sets the group, which may be at most MaxGroupLength bytes.
func (m *Msg) SetGroup(group string) error {
	if len(group) > MaxGroupLength {
		return fmt.Errorf("%w: %d bytes", ErrGroupTooLong, len(group))
	}
	m.group = group
	return nil
}

// Describe renders the type, size and flags of m, for debugging.
func (m *Msg) Describe() string {
	return fmt.Sprintf("Msg[%s,%d,%s]", m.typ, m.size, m.flags)
}

// Bytes returns the valid bytes, aliasing the backing buffer. Appending to
// the result never writes past the frame.
func (m *Msg) Bytes() ([]byte, error) {
	if !m.IsInitialized() {
		return nil, fmt.Errorf("%w: bytes", ErrUninitialized)
	}
	if m.data == nil {
		return nil, nil
	}
	end := m.offset + m.size
	return m.data[m.offset:end:end], nil
}

// ToArray returns a copy of the valid bytes.
func (m *Msg) ToArray() ([]byte, error) {
	b, err := m.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// CopyTo copies the valid bytes into dst, which must be large enough.
func (m *Msg) CopyTo(dst []byte) (int, error) {
	b, err := m.Bytes()
	if err != nil {
		return 0, err
	}
	if len(dst) < len(b) {
		return 0, fmt.Errorf("%w: destination of %d bytes for frame of %d", ErrOutOfRange, len(dst), len(b))
	}
	return copy(dst, b), nil
}

// Put copies src into the frame, starting at index.
func (m *Msg) Put(src []byte, index int) error {
	b, err := m.span(index, len(src))
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

// PutByte sets the byte at index.
func (m *Msg) PutByte(v byte, index int) error {
	b, err := m.span(index, 1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

// PutString copies s into the frame, starting at index.
func (m *Msg) PutString(s string, index int) error {
	b, err := m.span(index, len(s))
	if err != nil {
		return err
	}
	copy(b, s)
	return nil
}

// StringAt returns length bytes starting at index, as a string.
func (m *Msg) StringAt(index, length int) (string, error) {
	b, err := m.span(index, length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Byte returns the byte at index.
func (m *Msg) Byte(index int) (byte, error) {
	b, err := m.span(index, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 decodes a big-endian value at index.
func (m *Msg) Uint16(index int) (uint16, error) {
	b, err := m.span(index, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Uint32 decodes a big-endian value at index.
func (m *Msg) Uint32(index int) (uint32, error) {
	b, err := m.span(index, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint64 decodes a big-endian value at index.
func (m *Msg) Uint64(index int) (uint64, error) {
	b, err := m.span(index, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// PutUint16 encodes v big-endian at index.
func (m *Msg) PutUint16(v uint16, index int) error {
	b, err := m.span(index, 2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b, v)
	return nil
}

// PutUint32 encodes v big-endian at index.
func (m *Msg) PutUint32(v uint32, index int) error {
	b, err := m.span(index, 4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, v)
	return nil
}

// PutUint64 encodes v big-endian at index.
func (m *Msg) PutUint64(v uint64, index int) error {
	b, err := m.span(index, 8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b, v)
	return nil
}

// span returns the length bytes at index, relative to the frame start.
func (m *Msg) span(index, length int) ([]byte, error) {
	if !m.IsInitialized() {
		return nil, fmt.Errorf("%w: access", ErrUninitialized)
	}
	if index < 0 || length < 0 || index > m.size || length > m.size-index {
		return nil, fmt.Errorf("%w: [%d:%d] of %d bytes", ErrOutOfRange, index, index+length, m.size)
	}
	start := m.offset + index
	return m.data[start : start+length : start+length], nil
}
