package pusher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsTasksInOrder(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		loop.Defer(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}

	require.NoError(t, loop.Flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopNeverRunsInline(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	release := make(chan struct{})
	loop.Defer(func() { <-release })

	ran := make(chan struct{})
	loop.Defer(func() { close(ran) })

	select {
	case <-ran:
		t.Fatal("task ran before the loop reached it")
	default:
	}

	close(release)
	require.NoError(t, loop.Flush(context.Background()))

	select {
	case <-ran:
	default:
		t.Fatal("task did not run")
	}
}

func TestLoopDigestCallsWatchers(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	calls := 0
	loop.Watch(func() { calls++ })
	loop.Watch(nil)

	loop.Digest()
	loop.Digest()

	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(2), loop.Passes())
}

func TestLoopFlushHonoursContext(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	release := make(chan struct{})
	defer close(release)
	loop.Defer(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, loop.Flush(ctx), context.DeadlineExceeded)
}

func TestLoopClose(t *testing.T) {
	loop := NewLoop()
	loop.Close()
	loop.Close()

	ran := false
	loop.Defer(func() { ran = true })

	assert.ErrorIs(t, loop.Flush(context.Background()), ErrLoopClosed)
	assert.False(t, ran)
}

func TestManagerOnLoop(t *testing.T) {
	m, broker, _ := newTestManager(t)
	loop := NewLoop()
	defer loop.Close()
	m.host = loop

	got := make(chan interface{}, 1)
	_, err := m.On("room1", "msg", NewScope(), func(data interface{}) { got <- data })
	require.NoError(t, err)

	broker.Publish("room1", "msg", "hello")
	require.NoError(t, loop.Flush(context.Background()))

	assert.Equal(t, "hello", <-got)
	assert.Equal(t, uint64(1), loop.Passes())
}
