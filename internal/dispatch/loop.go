// Package dispatch provides the gateway's event loop. All window, surface
// and selection state is owned by the single goroutine running Loop.Run;
// connection readers and pipe watchers hand work over with Post and never
// touch that state directly. Handlers run to completion in post order, so
// the core packages need no locking.
package dispatch

import (
	"context"
	"sync"
)

// Loop is a run-to-completion executor. The zero value is not usable; call
// New.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	quit  chan struct{}
	once  sync.Once
}

// New returns an idle loop. Nothing executes until Run is called.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

// Post queues fn for execution on the loop goroutine. Safe from any
// goroutine, including the loop itself. Posts are executed in the order
// they were queued.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// PostAndWait queues fn and blocks until it has run. Must not be called
// from the loop goroutine itself; that would wait on its own turn forever.
func (l *Loop) PostAndWait(fn func()) {
	done := make(chan struct{})
	l.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-l.quit:
	}
}

// Run executes posted work until the context is canceled or Stop is
// called. The batch in flight always finishes before Run returns.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.drain()
		select {
		case <-l.wake:
		case <-ctx.Done():
			l.drain()
			return
		case <-l.quit:
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
	}
}

// Stop makes Run return once the current batch completes. Idempotent.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.quit) })
}

// Stopping reports whether Stop has been called, for readers deciding
// whether a connection error still matters.
func (l *Loop) Stopping() bool {
	select {
	case <-l.quit:
		return true
	default:
		return false
	}
}
