//go:build linux || darwin

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-mqcore/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue[T any](t *testing.T, capacity int) *Queue[T] {
	t.Helper()
	x, err := New[T](capacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func TestQueue_fifo(t *testing.T) {
	x := newTestQueue[int](t, 0)
	for i := 0; i < 100; i++ {
		require.True(t, x.TryEnqueue(i))
	}
	assert.Equal(t, 100, x.Len())
	for i := 0; i < 100; i++ {
		v, ok := x.TryDequeue()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := x.TryDequeue()
	assert.False(t, ok)
}

func TestQueue_capacity(t *testing.T) {
	x := newTestQueue[string](t, 2)
	assert.True(t, x.TryEnqueue("a"))
	assert.True(t, x.TryEnqueue("b"))
	assert.False(t, x.TryEnqueue("c"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, x.Enqueue(ctx, "c"), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- x.Enqueue(context.Background(), "c") }()
	time.Sleep(10 * time.Millisecond)
	v, ok := x.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue did not unblock")
	}
	assert.Equal(t, 2, x.Len())
}

func TestQueue_Dequeue(t *testing.T) {
	x := newTestQueue[int](t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := x.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = x.Enqueue(context.Background(), 7)
	}()
	v, err := x.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestQueue_Close(t *testing.T) {
	x := newTestQueue[int](t, 1)
	require.True(t, x.TryEnqueue(1))

	blocked := make(chan error, 1)
	go func() { blocked <- x.Enqueue(context.Background(), 2) }()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, x.Close())
	require.NoError(t, x.Close())
	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue did not unblock")
	}
	assert.True(t, x.Disposed())
	assert.False(t, x.TryEnqueue(3))

	// drains what was queued before close
	v, err := x.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	_, err = x.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_pollable(t *testing.T) {
	x := newTestQueue[int](t, 0)
	assert.Zero(t, x.Interest())
	assert.Zero(t, x.Events())

	var notified int
	cancel := x.OnInterestChanged(func() { notified++ })
	defer cancel()

	unsubscribe := x.ReceiveReady().Subscribe(func(*Queue[int]) {})
	assert.Equal(t, 1, notified)
	assert.Equal(t, reactor.EventIn, x.Interest())

	require.True(t, x.TryEnqueue(1))
	assert.Equal(t, reactor.EventIn, x.Events())
	_, _ = x.TryDequeue()
	assert.Zero(t, x.Events())

	unsubscribe()
	assert.Equal(t, 2, notified)
	assert.Zero(t, x.Interest())

	require.NoError(t, x.Close())
	assert.Equal(t, reactor.EventErr, x.Events())
}

func TestQueue_reactor(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.RunAsync(t.Name()))

	x := newTestQueue[int](t, 0)
	var mu sync.Mutex
	var got []int
	x.ReceiveReady().Subscribe(func(q *Queue[int]) {
		assert.True(t, r.CanExecuteTaskInline())
		for {
			v, ok := q.TryDequeue()
			if !ok {
				return
			}
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		}
	})
	require.NoError(t, r.AddSocket(x))

	const producers, each = 4, 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				assert.NoError(t, x.Enqueue(context.Background(), p*each+i))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == producers*each
	}, 5*time.Second, time.Millisecond)

	mu.Lock()
	seen := make(map[int]struct{}, len(got))
	for _, v := range got {
		seen[v] = struct{}{}
	}
	mu.Unlock()
	assert.Len(t, seen, producers*each)

	require.NoError(t, r.RemoveSocket(x))
}

func TestQueue_reactorRemovesClosed(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.RunAsync(t.Name()))

	x := newTestQueue[int](t, 0)
	x.ReceiveReady().Subscribe(func(q *Queue[int]) {
		for {
			if _, ok := q.TryDequeue(); !ok {
				return
			}
		}
	})
	require.NoError(t, r.AddSocket(x))
	require.True(t, r.ContainsSocket(x))

	require.NoError(t, x.Close())
	require.Eventually(t, func() bool { return !r.ContainsSocket(x) }, 2*time.Second, time.Millisecond)
	assert.True(t, r.IsRunning())
}
