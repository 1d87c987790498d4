package reactor

import (
	"strings"
)

// Events is a readiness bitset.
type Events uint8

const (
	// EventIn indicates a receive may proceed without blocking.
	EventIn Events = 1 << iota
	// EventOut indicates a send may proceed without blocking.
	EventOut
	// EventErr indicates an error condition. It is always implicitly
	// requested.
	EventErr
)

// HasIn reports whether EventIn is set.
func (x Events) HasIn() bool { return x&EventIn != 0 }

// HasOut reports whether EventOut is set.
func (x Events) HasOut() bool { return x&EventOut != 0 }

// HasErr reports whether EventErr is set.
func (x Events) HasErr() bool { return x&EventErr != 0 }

// String returns the set events joined by "|", or "None".
func (x Events) String() string {
	if x == 0 {
		return "None"
	}
	var b strings.Builder
	for _, v := range [...]struct {
		event Events
		name  string
	}{
		{EventIn, "In"},
		{EventOut, "Out"},
		{EventErr, "Err"},
	} {
		if x&v.event == 0 {
			continue
		}
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString(v.name)
	}
	return b.String()
}
