// Package hostloop is a minimal single-goroutine event loop with an async
// wakeup handle. It plays the role of the script runtime's loop: producers
// on other goroutines Send on the handle, and the loop goroutine wakes up
// and drains the scheduler.
package hostloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrAsyncClosed is returned by Send after the handle is closed.
var ErrAsyncClosed = errors.New("hostloop: async handle closed")

// ErrNotAsync is returned by SendFunc for handles that are not *Async.
var ErrNotAsync = errors.New("hostloop: handle is not an async handle")

// Driver is the consumer side the loop drives on every wakeup.
type Driver interface {
	DoWork() int
	ShouldClose() bool
	Close()
}

// Async is a coalescing, cross-goroutine wakeup handle.
//
// Any number of Sends between two wakeups collapse into one.
type Async struct {
	ch chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newAsync() *Async {
	return &Async{ch: make(chan struct{}, 1)}
}

// Send wakes the loop. Never blocks.
func (a *Async) Send() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrAsyncClosed
	}
	select {
	case a.ch <- struct{}{}:
	default:
	}
	return nil
}

// Close makes further sends fail. Idempotent.
func (a *Async) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

// SendFunc sends on an *Async handle. It has the shape of a wakeup.SendFunc.
func SendFunc(handle any) error {
	a, ok := handle.(*Async)
	if !ok || a == nil {
		return ErrNotAsync
	}
	return a.Send()
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop's logger.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

// WithIdle registers fn to run after each drain, on the loop goroutine.
func WithIdle(fn func(executed int)) Option {
	return func(lp *Loop) {
		lp.idle = fn
	}
}

// Loop owns one async handle and runs the drain cycle.
type Loop struct {
	async  *Async
	logger *slog.Logger
	idle   func(int)
}

// New creates a loop. The loop does nothing until Run.
func New(opts ...Option) *Loop {
	lp := &Loop{
		async:  newAsync(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(lp)
	}
	return lp
}

// Async returns the loop's wakeup handle.
func (lp *Loop) Async() *Async {
	return lp.async
}

// Run blocks on the calling goroutine, which becomes the owner of d.
//
// Every wakeup drains d. When d reports ShouldClose, Run drains d once more,
// closes d and the async handle, and returns nil. When ctx is cancelled, Run does the same and
// returns ctx.Err().
func (lp *Loop) Run(ctx context.Context, d Driver) error {
	defer lp.async.Close()
	defer d.Close()

	lp.logger.Debug("host loop started")
	for {
		select {
		case <-ctx.Done():
			lp.logger.Debug("host loop cancelled", "error", ctx.Err())
			return ctx.Err()
		case <-lp.async.ch:
		}

		n := d.DoWork()
		if lp.idle != nil {
			lp.idle(n)
		}
		if d.ShouldClose() {
			// The bridge is sealed, so this drain is bounded and runs work
			// accepted after the drain above.
			n = d.DoWork()
			lp.logger.Debug("host loop stopping: close requested", "final_drain", n)
			return nil
		}
	}
}
