//go:build linux || darwin

// Package pipe implements an in-process pair of connected frame sockets,
// which may be added to a reactor.Reactor.
//
// Frames are msg.Msg values, and sending takes ownership of the frame
// without copying its payload. Each socket queues at most the configured
// high water mark of frames for its peer, beyond which sends fail with
// ErrWouldBlock until the peer receives.
package pipe

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-mqcore/internal/signaler"
	"github.com/joeycumines/go-mqcore/msg"
	"github.com/joeycumines/go-mqcore/reactor"
	"github.com/joeycumines/logiface"
)

var (
	// ErrWouldBlock is returned when the peer has the maximum number of
	// frames queued.
	ErrWouldBlock = errors.New("pipe: would block")

	// ErrClosed is returned when either socket of the pair is closed.
	ErrClosed = errors.New("pipe: closed")
)

// Socket is one end of a pair. It is safe for concurrent use, though frames
// of a multipart message are only atomic when sent with SendMultipart.
type Socket struct {
	reactor.InterestNotifier
	logger       *logiface.Logger[logiface.Event]
	allocator    *msg.Allocator
	peer         *Socket
	sig          *signaler.Signaler
	receiveReady *reactor.Registration[*Socket]
	sendReady    *reactor.Registration[*Socket]
	// inbox holds msg.Msg values sent by the peer
	inbox  *queue.Queue
	err    error
	name   string
	mu     sync.Mutex
	hwm    int
	closed bool
}

var _ reactor.Pollable = (*Socket)(nil)

// NewPair returns two connected sockets.
func NewPair(opts ...Option) (*Socket, *Socket, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, nil, err
	}
	a, err := newSocket(cfg, cfg.name+"/a")
	if err != nil {
		return nil, nil, err
	}
	b, err := newSocket(cfg, cfg.name+"/b")
	if err != nil {
		_ = a.sig.Close()
		return nil, nil, err
	}
	a.peer, b.peer = b, a
	return a, b, nil
}

func newSocket(cfg *pairOptions, name string) (*Socket, error) {
	sig, err := signaler.New()
	if err != nil {
		return nil, err
	}
	x := &Socket{
		logger:    cfg.logger,
		allocator: cfg.allocator,
		sig:       sig,
		inbox:     queue.New(),
		name:      name,
		hwm:       cfg.sendHWM,
	}
	x.receiveReady = reactor.NewRegistration(x, x.Notify, x.Notify)
	x.sendReady = reactor.NewRegistration(x, x.Notify, x.Notify)
	return x, nil
}

// Name returns the name used in log output.
func (x *Socket) Name() string { return x.name }

// ReceiveReady is fired on the reactor goroutine while frames are available
// to Receive.
func (x *Socket) ReceiveReady() *reactor.Registration[*Socket] { return x.receiveReady }

// SendReady is fired on the reactor goroutine while the peer has room for
// at least one more frame.
func (x *Socket) SendReady() *reactor.Registration[*Socket] { return x.sendReady }

// Send queues m for the peer, taking ownership of it. On success m is left
// Empty, and on failure it is unchanged.
func (x *Socket) Send(m *msg.Msg) error {
	return x.send([]*msg.Msg{m})
}

// SendFrame copies data into a pooled frame, and sends it.
func (x *Socket) SendFrame(data []byte, more bool) error {
	var m msg.Msg
	if err := x.initFrame(&m, data, more); err != nil {
		return err
	}
	if err := x.Send(&m); err != nil {
		_ = m.Close()
		return err
	}
	return nil
}

// SendMultipart sends every part as one message, setting More on all but
// the last frame. Either every frame is queued, or none are.
func (x *Socket) SendMultipart(parts [][]byte) error {
	if len(parts) == 0 {
		return fmt.Errorf("pipe: send multipart: %w", msg.ErrOutOfRange)
	}
	frames := make([]msg.Msg, len(parts))
	refs := make([]*msg.Msg, len(parts))
	defer func() {
		for i := range frames {
			if frames[i].IsInitialized() {
				_ = frames[i].Close()
			}
		}
	}()
	for i, part := range parts {
		if err := x.initFrame(&frames[i], part, i < len(parts)-1); err != nil {
			return err
		}
		refs[i] = &frames[i]
	}
	return x.send(refs)
}

func (x *Socket) initFrame(m *msg.Msg, data []byte, more bool) error {
	a := x.allocator
	if a == nil {
		a = msg.DefaultAllocator()
	}
	if err := m.InitPoolFrom(a, len(data)); err != nil {
		return err
	}
	if err := m.Put(data, 0); err != nil {
		_ = m.Close()
		return err
	}
	if more {
		m.SetFlags(msg.More)
	}
	return nil
}

func (x *Socket) send(frames []*msg.Msg) error {
	for _, m := range frames {
		if m == nil || !m.IsInitialized() {
			return fmt.Errorf("pipe: send: %w", msg.ErrUninitialized)
		}
	}
	if x.Disposed() {
		return ErrClosed
	}
	return x.peer.deliver(frames)
}

// deliver queues frames received from the peer. A message longer than the
// hwm is accepted only into an empty inbox, so it can always be sent
// eventually.
func (x *Socket) deliver(frames []*msg.Msg) error {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return ErrClosed
	}
	n := x.inbox.Length()
	if x.hwm > 0 && n != 0 && n+len(frames) > x.hwm {
		x.mu.Unlock()
		return ErrWouldBlock
	}
	for _, m := range frames {
		var frame msg.Msg
		_ = frame.Move(m)
		x.inbox.Add(frame)
	}
	x.mu.Unlock()
	if n == 0 {
		_ = x.sig.Send()
	}
	return nil
}

// hasRoom reports whether at least one frame can be delivered.
func (x *Socket) hasRoom() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return !x.closed && (x.hwm <= 0 || x.inbox.Length() < x.hwm)
}

// Receive moves the next frame into m, closing any frame m held. It reports
// false if no frame is available.
func (x *Socket) Receive(m *msg.Msg) (bool, error) {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return false, ErrClosed
	}
	if x.inbox.Length() == 0 {
		x.mu.Unlock()
		return false, nil
	}
	frame := x.inbox.Remove().(msg.Msg)
	x.mu.Unlock()

	if x.peer.sendReady.Active() {
		_ = x.peer.sig.Send()
	}
	if err := m.Move(&frame); err != nil {
		_ = frame.Close()
		return false, err
	}
	return true, nil
}

// ReceiveMultipart receives every frame of the next message, copying out
// the payloads. It reports false if no message is available.
func (x *Socket) ReceiveMultipart() ([][]byte, bool, error) {
	var (
		parts [][]byte
		m     msg.Msg
	)
	defer func() {
		if m.IsInitialized() {
			_ = m.Close()
		}
	}()
	for {
		ok, err := x.Receive(&m)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			if parts == nil {
				return nil, false, nil
			}
			// the rest of a message sent frame by frame is still in flight
			return parts, true, nil
		}
		b, err := m.ToArray()
		if err != nil {
			return nil, false, err
		}
		parts = append(parts, b)
		if !m.HasMore() {
			return parts, true, nil
		}
	}
}

// SetError records a transport error, reported to a reactor as EventErr
// until cleared.
func (x *Socket) SetError(err error) {
	x.mu.Lock()
	x.err = err
	x.mu.Unlock()
	if err != nil {
		x.logger.Warning().
			Str("socket", x.name).
			Err(err).
			Log("transport error")
	}
	_ = x.sig.Send()
}

// Err returns the pending transport error, if any.
func (x *Socket) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// Close releases any queued frames. The peer observes ErrClosed on send,
// but may still receive what was already queued for it.
func (x *Socket) Close() error {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil
	}
	x.closed = true
	var dropped int
	for x.inbox.Length() > 0 {
		frame := x.inbox.Remove().(msg.Msg)
		_ = frame.Close()
		dropped++
	}
	x.mu.Unlock()

	x.logger.Debug().
		Str("socket", x.name).
		Int("dropped", dropped).
		Log("socket closed")

	_ = x.peer.sig.Send()
	return x.sig.Close()
}

// FD implements reactor.Pollable.
func (x *Socket) FD() int { return x.sig.FD() }

// Interest implements reactor.Pollable.
func (x *Socket) Interest() reactor.Events {
	var events reactor.Events
	if x.receiveReady.Active() {
		events |= reactor.EventIn
	}
	if x.sendReady.Active() {
		events |= reactor.EventOut
	}
	return events
}

// Events implements reactor.Pollable. A closed socket reports EventErr, so
// a reactor it is still registered with removes it.
func (x *Socket) Events() reactor.Events {
	x.sig.Drain()
	var events reactor.Events
	x.mu.Lock()
	if x.inbox.Length() != 0 {
		events |= reactor.EventIn
	}
	if x.err != nil || x.closed {
		events |= reactor.EventErr
	}
	closed := x.closed
	x.mu.Unlock()
	if !closed && x.peer.hasRoom() {
		events |= reactor.EventOut
	}
	return events
}

// Dispatch implements reactor.Pollable.
func (x *Socket) Dispatch(events reactor.Events) {
	if events.HasIn() {
		x.receiveReady.Fire()
	}
	if events.HasOut() {
		x.sendReady.Fire()
	}
}

// ClearError implements reactor.Pollable.
func (x *Socket) ClearError() { x.SetError(nil) }

// Disposed implements reactor.Pollable.
func (x *Socket) Disposed() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.closed
}

// Fanout sends m to every socket without copying the payload, by sharing
// the frame between them. It takes ownership of m, which is left Empty. The
// frames that could not be sent are released, and their errors joined.
func Fanout(m *msg.Msg, sockets ...*Socket) error {
	if m == nil || !m.IsInitialized() {
		return fmt.Errorf("pipe: fanout: %w", msg.ErrUninitialized)
	}
	if len(sockets) == 0 {
		return m.Close()
	}
	if err := m.AddReferences(len(sockets) - 1); err != nil {
		return err
	}
	var errs []error
	for _, sock := range sockets {
		frame := *m
		if err := sock.Send(&frame); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sock.name, err))
			_ = frame.Close()
		}
	}
	m.InitEmpty()
	return errors.Join(errs...)
}
