//go:build linux || darwin

package pipe

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-mqcore/msg"
	"github.com/joeycumines/go-mqcore/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPair(t *testing.T, opts ...Option) (*Socket, *Socket) {
	t.Helper()
	a, b, err := NewPair(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func newFrame(t *testing.T, a *msg.Allocator, s string) *msg.Msg {
	t.Helper()
	var m msg.Msg
	require.NoError(t, m.InitPoolFrom(a, len(s)))
	require.NoError(t, m.PutString(s, 0))
	return &m
}

func TestNewPair_options(t *testing.T) {
	a, b := newTestPair(t, WithName("x"), nil)
	assert.Equal(t, "x/a", a.Name())
	assert.Equal(t, "x/b", b.Name())
	assert.Equal(t, DefaultSendHWM, a.hwm)

	_, _, err := NewPair(WithSendHWM(-1))
	assert.Error(t, err)
}

func TestSocket_sendReceive(t *testing.T) {
	pool := msg.NewBucketBufferPool(0)
	alloc := msg.NewAllocator(msg.WithBufferPool(pool))
	a, b := newTestPair(t, WithAllocator(alloc))

	m := newFrame(t, alloc, "hello")
	require.NoError(t, a.Send(m))
	assert.Equal(t, msg.Empty, m.Type(), "ownership moves on send")

	var got msg.Msg
	ok, err := b.Receive(&got)
	require.NoError(t, err)
	require.True(t, ok)
	s, err := got.StringAt(0, got.Size())
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	ok, err = b.Receive(&got)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, got.IsInitialized(), "left as is when nothing is received")
	require.NoError(t, got.Close())
	assert.Zero(t, pool.Outstanding())

	var uninit msg.Msg
	assert.ErrorIs(t, a.Send(&uninit), msg.ErrUninitialized)
	assert.ErrorIs(t, a.Send(nil), msg.ErrUninitialized)
}

func TestSocket_hwm(t *testing.T) {
	a, b := newTestPair(t, WithSendHWM(2))
	require.NoError(t, a.SendFrame([]byte("1"), false))
	require.NoError(t, a.SendFrame([]byte("2"), false))

	m := newFrame(t, nil, "3")
	assert.ErrorIs(t, a.Send(m), ErrWouldBlock)
	assert.Equal(t, msg.Pool, m.Type(), "unchanged on failure")
	assert.False(t, a.Events().HasOut())

	var got msg.Msg
	ok, err := b.Receive(&got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, a.Events().HasOut())
	require.NoError(t, a.Send(m))
	_ = got.Close()

	// too long for the hwm, but accepted once the peer has drained
	assert.ErrorIs(t, a.SendMultipart([][]byte{{1}, {2}, {3}}), ErrWouldBlock)
	for {
		parts, ok, err := b.ReceiveMultipart()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.Len(t, parts, 1)
	}
	require.NoError(t, a.SendMultipart([][]byte{{1}, {2}, {3}}))
	parts, ok, err := b.ReceiveMultipart()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, [][]byte{{1}, {2}, {3}}, parts)
}

func TestSocket_unlimitedHWM(t *testing.T) {
	a, b := newTestPair(t, WithSendHWM(0))
	for i := 0; i < 5000; i++ {
		require.NoError(t, a.SendFrame([]byte{byte(i)}, false))
	}
	assert.True(t, a.Events().HasOut())
	assert.True(t, b.Events().HasIn())
}

func TestSocket_SendMultipart(t *testing.T) {
	a, b := newTestPair(t)
	assert.ErrorIs(t, a.SendMultipart(nil), msg.ErrOutOfRange)
	require.NoError(t, a.SendMultipart([][]byte{[]byte("a"), {}, []byte("c")}))

	var m msg.Msg
	var more []bool
	for {
		ok, err := b.Receive(&m)
		require.NoError(t, err)
		if !ok {
			break
		}
		more = append(more, m.HasMore())
	}
	assert.Equal(t, []bool{true, true, false}, more)
	_ = m.Close()
}

func TestSocket_Close(t *testing.T) {
	pool := msg.NewBucketBufferPool(0)
	alloc := msg.NewAllocator(msg.WithBufferPool(pool))
	a, b := newTestPair(t, WithAllocator(alloc))
	require.NoError(t, a.SendFrame([]byte("x"), false))
	require.NoError(t, b.SendFrame([]byte("y"), false))
	require.Equal(t, int64(2), pool.Outstanding())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.True(t, b.Disposed())
	assert.Equal(t, int64(1), pool.Outstanding(), "queued frames are released")

	assert.ErrorIs(t, a.SendFrame([]byte("z"), false), ErrClosed)
	assert.ErrorIs(t, b.SendFrame([]byte("z"), false), ErrClosed)
	assert.False(t, a.Events().HasOut())
	assert.True(t, b.Events().HasErr(), "closed")

	// still receives what the closed peer sent
	var m msg.Msg
	ok, err := a.Receive(&m)
	require.NoError(t, err)
	assert.True(t, ok)
	_ = m.Close()
	assert.Zero(t, pool.Outstanding())

	_, err = b.Receive(&m)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSocket_SetError(t *testing.T) {
	a, _ := newTestPair(t)
	sentinel := errors.New("sentinel")
	a.SetError(sentinel)
	assert.True(t, a.Events().HasErr())
	assert.ErrorIs(t, a.Err(), sentinel)
	a.ClearError()
	assert.False(t, a.Events().HasErr())
	assert.NoError(t, a.Err())
}

func TestSocket_interest(t *testing.T) {
	a, _ := newTestPair(t)
	var notified int
	defer a.OnInterestChanged(func() { notified++ })()

	assert.Zero(t, a.Interest())
	unsubIn := a.ReceiveReady().Subscribe(func(*Socket) {})
	unsubOut := a.SendReady().Subscribe(func(*Socket) {})
	assert.Equal(t, reactor.EventIn|reactor.EventOut, a.Interest())
	unsubIn()
	assert.Equal(t, reactor.EventOut, a.Interest())
	unsubOut()
	assert.Zero(t, a.Interest())
	assert.Equal(t, 4, notified)
}

func TestFanout(t *testing.T) {
	pool := msg.NewBucketBufferPool(0)
	alloc := msg.NewAllocator(msg.WithBufferPool(pool))

	const n = 4
	var senders, receivers []*Socket
	for i := 0; i < n; i++ {
		a, b := newTestPair(t, WithSendHWM(1))
		senders = append(senders, a)
		receivers = append(receivers, b)
	}
	// one receiver is full
	require.NoError(t, senders[n-1].SendFrame([]byte("full"), false))

	m := newFrame(t, alloc, "payload")
	err := Fanout(m, senders...)
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.Equal(t, msg.Empty, m.Type())
	assert.Equal(t, int64(1), pool.Outstanding(), "shared, not copied")

	var frames []msg.Msg
	for _, b := range receivers[:n-1] {
		var got msg.Msg
		ok, err := b.Receive(&got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.IsShared())
		s, err := got.StringAt(0, got.Size())
		require.NoError(t, err)
		assert.Equal(t, "payload", s)
		frames = append(frames, got)
	}
	for i := range frames {
		assert.Equal(t, int64(1), pool.Outstanding())
		require.NoError(t, frames[i].Close())
	}
	assert.Zero(t, pool.Outstanding())

	m = newFrame(t, alloc, "x")
	require.NoError(t, Fanout(m))
	assert.Zero(t, pool.Outstanding())
	assert.ErrorIs(t, Fanout(m, senders...), msg.ErrUninitialized)
}

// TestReactor_endToEnd runs a reactor with a socket and a timer, receiving
// a multipart message while the timer fires.
func TestReactor_endToEnd(t *testing.T) {
	r, err := reactor.New(reactor.WithName(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	a, b := newTestPair(t)

	var fired atomic.Int32
	timer := reactor.NewTimer(50*time.Millisecond, func(*reactor.Timer) { fired.Add(1) })

	var (
		mu        sync.Mutex
		callbacks int
		frames    []string
		more      []bool
	)
	// one frame per callback, so the callback must fire once per frame
	a.ReceiveReady().Subscribe(func(s *Socket) {
		var m msg.Msg
		ok, err := s.Receive(&m)
		mu.Lock()
		defer mu.Unlock()
		callbacks++
		if !assert.NoError(t, err) || !assert.True(t, ok, "fired without a frame") {
			return
		}
		defer m.Close()
		v, err := m.StringAt(0, m.Size())
		assert.NoError(t, err)
		frames = append(frames, v)
		more = append(more, m.HasMore())
	})
	require.NoError(t, r.AddSocket(a))
	require.NoError(t, r.AddTimer(timer))

	start := time.Now()
	require.NoError(t, r.RunAsync(""))
	require.NoError(t, b.SendMultipart([][]byte{[]byte("one"), []byte("two"), []byte("three")}))

	time.Sleep(220*time.Millisecond - time.Since(start))
	require.NoError(t, r.Stop())

	n := fired.Load()
	assert.GreaterOrEqual(t, n, int32(3))
	assert.LessOrEqual(t, n, int32(5))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, callbacks)
	assert.Equal(t, []string{"one", "two", "three"}, frames)
	assert.Equal(t, []bool{true, true, false}, more)
	assert.False(t, r.ContainsSocket(a))
}

func TestReactor_sendReadyFlowControl(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.RunAsync(t.Name()))

	a, b := newTestPair(t, WithSendHWM(4))
	const total = 100
	var sent, received atomic.Int32
	var unsubscribe func()
	unsubscribe = a.SendReady().Subscribe(func(s *Socket) {
		for sent.Load() < total {
			if err := s.SendFrame([]byte{byte(sent.Load())}, false); err != nil {
				assert.ErrorIs(t, err, ErrWouldBlock)
				return
			}
			sent.Add(1)
		}
		unsubscribe()
	})
	b.ReceiveReady().Subscribe(func(s *Socket) {
		var m msg.Msg
		for {
			ok, err := s.Receive(&m)
			if !assert.NoError(t, err) || !ok {
				break
			}
			received.Add(1)
		}
		if m.IsInitialized() {
			_ = m.Close()
		}
	})
	require.NoError(t, r.AddSocket(a))
	require.NoError(t, r.AddSocket(b))

	require.Eventually(t, func() bool { return received.Load() == total }, 5*time.Second, time.Millisecond)
	assert.Equal(t, int32(total), sent.Load())
}

func TestReactor_closedSocketRemoved(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.RunAsync(t.Name()))

	a, b := newTestPair(t)
	var received atomic.Int32
	a.ReceiveReady().Subscribe(func(s *Socket) {
		var m msg.Msg
		if ok, _ := s.Receive(&m); ok {
			received.Add(1)
			_ = m.Close()
		}
	})
	require.NoError(t, r.AddSocket(a))
	require.NoError(t, b.SendFrame([]byte("x"), false))
	require.Eventually(t, func() bool { return received.Load() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return !r.ContainsSocket(a) }, 2*time.Second, time.Millisecond)
	assert.True(t, r.IsRunning())
	assert.NoError(t, r.Invoke(func() error { return nil }))
}
