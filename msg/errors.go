package msg

import (
	"errors"
)

var (
	// ErrUninitialized is returned when operating on a Msg that was never
	// initialized, or that has already been closed.
	ErrUninitialized = errors.New("msg: message is not initialized")

	// ErrOutOfRange is returned by range-checked accessors.
	ErrOutOfRange = errors.New("msg: index out of range")

	// ErrGroupTooLong is returned by SetGroup for groups over MaxGroupLength
	// bytes.
	ErrGroupTooLong = errors.New("msg: group exceeds maximum length")

	// ErrInvalidRoutingID is returned by SetRoutingID for the reserved id 0.
	ErrInvalidRoutingID = errors.New("msg: routing id must be non-zero")

	// ErrAllocationFailed indicates a BufferPool could not satisfy a request.
	ErrAllocationFailed = errors.New("msg: buffer allocation failed")

	// ErrPoolClosed is wrapped by ErrAllocationFailed, when taking from a
	// pool that has been closed.
	ErrPoolClosed = errors.New("msg: pool closed")
)
