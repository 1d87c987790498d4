//go:build linux || darwin

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-mqcore/msg"
	"github.com/joeycumines/go-mqcore/pipe"
	"github.com/joeycumines/go-mqcore/reactor"
)

type bench struct {
	reactor  *reactor.Reactor
	pairOpts []pipe.Option
}

type throughputResult struct {
	elapsed time.Duration
	count   int
	size    int
}

func (x throughputResult) messagesPerSecond() float64 {
	return float64(x.count) / x.elapsed.Seconds()
}

func (x throughputResult) megabitsPerSecond() float64 {
	return x.messagesPerSecond() * float64(x.size) * 8 / 1e6
}

// session holds the sockets of one measurement, and collects the first
// error reported by a handler.
type session struct {
	r      *reactor.Reactor
	client *pipe.Socket
	server *pipe.Socket
	done   chan error
	unsubs []func()
}

func (b *bench) newSession() (*session, error) {
	client, server, err := pipe.NewPair(b.pairOpts...)
	if err != nil {
		return nil, err
	}
	return &session{
		r:      b.reactor,
		client: client,
		server: server,
		done:   make(chan error, 1),
	}, nil
}

func (x *session) finish(err error) {
	select {
	case x.done <- err:
	default:
	}
}

func (x *session) start() error {
	if err := x.r.AddSocket(x.client); err != nil {
		return err
	}
	return x.r.AddSocket(x.server)
}

func (x *session) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-x.done:
		return err
	}
}

func (x *session) close() error {
	for _, unsub := range x.unsubs {
		unsub()
	}
	return errors.Join(
		x.r.RemoveSocket(x.client),
		x.r.RemoveSocket(x.server),
		x.client.Close(),
		x.server.Close(),
	)
}

// latency measures count round trips of size byte frames, returning half
// the mean round trip time.
func (b *bench) latency(ctx context.Context, size, count int) (_ time.Duration, err error) {
	s, err := b.newSession()
	if err != nil {
		return 0, err
	}
	defer func() { err = errors.Join(err, s.close()) }()

	payload := make([]byte, size)

	// echo
	s.unsubs = append(s.unsubs, s.server.ReceiveReady().Subscribe(func(sock *pipe.Socket) {
		var m msg.Msg
		for {
			ok, err := sock.Receive(&m)
			if err != nil {
				s.finish(err)
				return
			}
			if !ok {
				return
			}
			if err := sock.Send(&m); err != nil {
				s.finish(err)
				return
			}
		}
	}))

	var received int
	s.unsubs = append(s.unsubs, s.client.ReceiveReady().Subscribe(func(sock *pipe.Socket) {
		var m msg.Msg
		defer func() {
			if m.IsInitialized() {
				_ = m.Close()
			}
		}()
		for {
			ok, err := sock.Receive(&m)
			if err != nil {
				s.finish(err)
				return
			}
			if !ok {
				return
			}
			if m.Size() != size {
				s.finish(fmt.Errorf("echoed %d bytes, sent %d", m.Size(), size))
				return
			}
			received++
			if received == count {
				s.finish(nil)
				return
			}
			if err := sock.SendFrame(payload, false); err != nil {
				s.finish(err)
				return
			}
		}
	}))

	if err := s.start(); err != nil {
		return 0, err
	}
	start := time.Now()
	if err := s.r.Invoke(func() error { return s.client.SendFrame(payload, false) }); err != nil {
		return 0, err
	}
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	return time.Since(start) / time.Duration(count) / 2, nil
}

// throughput measures sending count frames of size bytes, with the sender
// driven by send readiness.
func (b *bench) throughput(ctx context.Context, size, count int) (_ throughputResult, err error) {
	s, err := b.newSession()
	if err != nil {
		return throughputResult{}, err
	}
	defer func() { err = errors.Join(err, s.close()) }()

	payload := make([]byte, size)

	var sent int
	var unsubscribeSend func()
	unsubscribeSend = s.client.SendReady().Subscribe(func(sock *pipe.Socket) {
		for sent < count {
			if err := sock.SendFrame(payload, false); err != nil {
				if !errors.Is(err, pipe.ErrWouldBlock) {
					s.finish(err)
				}
				return
			}
			sent++
		}
		unsubscribeSend()
	})
	s.unsubs = append(s.unsubs, unsubscribeSend)

	var received int
	s.unsubs = append(s.unsubs, s.server.ReceiveReady().Subscribe(func(sock *pipe.Socket) {
		var m msg.Msg
		defer func() {
			if m.IsInitialized() {
				_ = m.Close()
			}
		}()
		for {
			ok, err := sock.Receive(&m)
			if err != nil {
				s.finish(err)
				return
			}
			if !ok {
				return
			}
			received++
			if received == count {
				s.finish(nil)
				return
			}
		}
	}))

	start := time.Now()
	if err := s.start(); err != nil {
		return throughputResult{}, err
	}
	if err := s.wait(ctx); err != nil {
		return throughputResult{}, err
	}
	return throughputResult{elapsed: time.Since(start), count: count, size: size}, nil
}
