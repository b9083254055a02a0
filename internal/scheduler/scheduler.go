package scheduler

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"

	"github.com/roach88/loopbridge/internal/queue"
	"github.com/roach88/loopbridge/internal/wakeup"
)

// Scheduler is the contract the storage engine uses to defer work onto the
// goroutine that owns the host event loop.
type Scheduler interface {
	// Invoke queues fn to run later, exactly once, on the owning goroutine.
	// Safe from any goroutine. Never blocks and never runs fn synchronously.
	Invoke(fn func())

	// IsOnThread reports whether the caller is the owning goroutine.
	IsOnThread() bool

	// IsSameAs reports whether other delivers to the same host loop.
	IsSameAs(other Scheduler) bool

	// CanInvoke reports whether Invoke currently accepts work.
	CanInvoke() bool
}

// ErrNoWakeup is returned by Create when no wakeup source is supplied.
var ErrNoWakeup = errors.New("scheduler: wakeup source is nil")

// Option configures Create.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	owner    int64
	hasOwner bool
}

// WithLogger sets the logger used for signal failures and dropped work.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithOwner sets the goroutine id of the host loop explicitly.
//
// By default the goroutine calling Create is the owner. Use this when the
// scheduler is built on one goroutine and the loop runs on another.
func WithOwner(goroutineID int64) Option {
	return func(o *options) {
		o.owner = goroutineID
		o.hasOwner = true
	}
}

// shared is the state block both handles point at: the queue plus the
// close_requested/closed flags.
//
// Reference counted: one reference for the Bridge, one for the Driver.
// The queue is closed when the last reference is released.
type shared struct {
	queue *queue.Queue

	closeRequested atomic.Bool
	closed         atomic.Bool
	refs           atomic.Int32

	invoked  atomic.Uint64
	dropped  atomic.Uint64
	drains   atomic.Uint64
	executed atomic.Uint64
}

func (s *shared) release() {
	if s.refs.Add(-1) == 0 {
		s.queue.Close()
	}
}

// Create builds the paired consumer and producer handles for a host loop.
//
// The Driver goes to the host loop; the Bridge goes to the engine.
// Fails when src is nil: there is no scheduler without a wakeup signal.
func Create(src *wakeup.Source, opts ...Option) (*Driver, *Bridge, error) {
	if src == nil {
		return nil, nil, ErrNoWakeup
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if !o.hasOwner {
		o.owner = goid.Get()
	}

	st := &shared{queue: queue.New()}
	st.refs.Store(2)

	bridge := &Bridge{
		src:    src,
		state:  st,
		owner:  o.owner,
		logger: o.logger,
	}
	driver := &Driver{state: st}

	return driver, bridge, nil
}

// Bridge implements Scheduler on top of a wakeup source and the shared queue.
type Bridge struct {
	src    *wakeup.Source
	state  *shared
	owner  int64
	logger *slog.Logger

	closeOnce sync.Once
}

var _ Scheduler = (*Bridge)(nil)

// Invoke queues fn and wakes the host loop.
//
// After Close, fn is dropped. A failed wakeup signal is logged; the closure
// stays queued and runs on the next drain.
func (b *Bridge) Invoke(fn func()) {
	if fn == nil {
		return
	}
	if !b.state.queue.Push(fn) {
		b.state.dropped.Add(1)
		b.logger.Debug("invocation dropped: scheduler closing")
		return
	}
	b.state.invoked.Add(1)

	if err := b.src.Signal(); err != nil {
		b.logger.Warn("wakeup signal failed", "error", err)
	}
}

// IsOnThread reports whether the caller is the owning goroutine.
func (b *Bridge) IsOnThread() bool {
	return goid.Get() == b.owner
}

// IsSameAs reports whether other is a Bridge bound to the same loop handle.
func (b *Bridge) IsSameAs(other Scheduler) bool {
	ob, ok := other.(*Bridge)
	if !ok || ob == nil {
		return false
	}
	return b.src.Same(ob.src)
}

// CanInvoke always returns true; the bridge never refuses work.
func (b *Bridge) CanInvoke() bool {
	return true
}

// Close requests shutdown: it sets close_requested, seals the queue against
// new work, signals the loop one final time, and releases the bridge's
// reference. Closures queued before Close still run on the next drain.
//
// Idempotent.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.state.closeRequested.Store(true)
		b.state.queue.Seal()
		if err := b.src.Signal(); err != nil {
			b.logger.Warn("final wakeup signal failed", "error", err)
		}
		b.state.release()
	})
}

// Owner returns the goroutine id of the host loop.
func (b *Bridge) Owner() int64 {
	return b.owner
}
