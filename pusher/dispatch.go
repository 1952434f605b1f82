package pusher

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kleeedolinux/pusher.go/pusher/transport"
)

// Host is the update cycle user callbacks run on.
type Host interface {
	// Defer queues task to run after the caller returns. It must never run
	// task inline and must never block.
	Defer(task func())
	// Digest runs one pass of the update cycle.
	Digest()
}

// Loop is a Host backed by a single goroutine draining an unbounded FIFO
// queue. Tasks run one at a time, in the order they were deferred.
type Loop struct {
	mu       sync.Mutex
	queue    []func()
	watchers []func()
	closed   bool

	passes atomic.Uint64

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	go l.run()

	return l
}

func (l *Loop) Defer(task func()) {
	if task == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Digest calls every watcher once, on the caller's goroutine.
func (l *Loop) Digest() {
	l.mu.Lock()
	watchers := append([]func(){}, l.watchers...)
	l.mu.Unlock()

	l.passes.Add(1)

	for _, watch := range watchers {
		watch()
	}
}

// Watch registers fn to run on every Digest.
func (l *Loop) Watch(fn func()) {
	if fn == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.watchers = append(l.watchers, fn)
}

// Passes reports how many times Digest has run.
func (l *Loop) Passes() uint64 {
	return l.passes.Load()
}

// Flush blocks until every task deferred before the call has run. It must
// not be called from a task running on the loop.
func (l *Loop) Flush(ctx context.Context) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrLoopClosed
	}

	flushed := make(chan struct{})
	l.Defer(func() { close(flushed) })

	select {
	case <-flushed:
		return nil
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop and drops queued tasks. It must not be called from a
// task running on the loop.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()

	close(l.quit)
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}

		for {
			task, ok := l.next()
			if !ok {
				break
			}
			task()
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || len(l.queue) == 0 {
		return nil, false
	}

	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

type bindOptions struct {
	digest bool
}

type BindOption func(*bindOptions)

// WithoutDigest skips the update pass that normally follows a handler.
func WithoutDigest() BindOption {
	return func(o *bindOptions) {
		o.digest = false
	}
}

func applyBindOptions(opts []BindOption) bindOptions {
	o := bindOptions{digest: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// deferredCallback wraps handler so each delivery is queued on host, followed
// by one Digest unless disabled.
func deferredCallback(host Host, handler Handler, opts []BindOption) *transport.Callback {
	o := applyBindOptions(opts)

	return transport.NewCallback(func(data interface{}) {
		host.Defer(func() {
			handler(data)
			if o.digest {
				host.Digest()
			}
		})
	})
}

func deferredGlobal(host Host, handler GlobalHandler, opts []BindOption) GlobalHandler {
	o := applyBindOptions(opts)

	return func(event string, data interface{}) {
		host.Defer(func() {
			handler(event, data)
			if o.digest {
				host.Digest()
			}
		})
	}
}
