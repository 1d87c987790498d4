package reactor

import (
	"fmt"
)

type (
	// Target is what a PollItem polls, either a SocketTarget or a
	// HandleTarget.
	Target interface {
		isTarget()
		fd() int
	}

	// SocketTarget polls a Pollable, using its computed Events.
	SocketTarget struct {
		Socket Pollable
	}

	// HandleTarget polls a raw OS handle.
	HandleTarget struct {
		FD int
	}

	// PollItem is one entry of a pollset. Result is populated by
	// Selector.Select.
	PollItem struct {
		Target    Target
		Requested Events
		Result    Events
	}
)

var (
	// compile time assertions

	_ Target = SocketTarget{}
	_ Target = HandleTarget{}
)

func (SocketTarget) isTarget() {}

func (x SocketTarget) fd() int { return x.Socket.FD() }

// String identifies the socket by its handle.
func (x SocketTarget) String() string { return fmt.Sprintf("socket(%d)", x.Socket.FD()) }

func (HandleTarget) isTarget() {}

func (x HandleTarget) fd() int { return x.FD }

// String identifies the handle.
func (x HandleTarget) String() string { return fmt.Sprintf("handle(%d)", x.FD) }
