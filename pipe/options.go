package pipe

import (
	"errors"

	"github.com/joeycumines/go-mqcore/msg"
	"github.com/joeycumines/logiface"
)

// DefaultSendHWM is the default limit on the frames queued for a peer.
const DefaultSendHWM = 1000

type pairOptions struct {
	logger    *logiface.Logger[logiface.Event]
	allocator *msg.Allocator
	name      string
	sendHWM   int
}

// Option configures NewPair.
type Option interface {
	applyPair(*pairOptions) error
}

type optionFunc func(*pairOptions) error

func (f optionFunc) applyPair(opts *pairOptions) error { return f(opts) }

// WithSendHWM limits the number of frames either socket may have queued for
// its peer. Zero means unlimited. Defaults to DefaultSendHWM.
func WithSendHWM(n int) Option {
	return optionFunc(func(opts *pairOptions) error {
		if n < 0 {
			return errors.New("pipe: send hwm must not be negative")
		}
		opts.sendHWM = n
		return nil
	})
}

// WithName sets the name used in log output, with the sockets suffixed
// "/a" and "/b".
func WithName(name string) Option {
	return optionFunc(func(opts *pairOptions) error {
		opts.name = name
		return nil
	})
}

// WithLogger enables logging of transport errors and closes.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(opts *pairOptions) error {
		opts.logger = logger
		return nil
	})
}

// WithAllocator sets the allocator used by SendFrame and SendMultipart.
// Defaults to msg.DefaultAllocator at the time of each send.
func WithAllocator(a *msg.Allocator) Option {
	return optionFunc(func(opts *pairOptions) error {
		opts.allocator = a
		return nil
	})
}

func resolveOptions(opts []Option) (*pairOptions, error) {
	cfg := &pairOptions{
		name:    "pipe",
		sendHWM: DefaultSendHWM,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPair(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
