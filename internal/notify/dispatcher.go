package notify

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/roach88/loopbridge/internal/scheduler"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithIndexBase sets the convention used for delivered collection indices.
// Defaults to ZeroBased.
func WithIndexBase(base IndexBase) Option {
	return func(d *Dispatcher) {
		d.base = base
	}
}

// WithLogger sets the logger for callback failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithFailureLogLimit caps how often callback failures are logged.
// Failures past the limit are still counted. rate.Inf disables the cap.
func WithFailureLogLimit(limit rate.Limit, burst int) Option {
	return func(d *Dispatcher) {
		d.limiter = rate.NewLimiter(limit, burst)
	}
}

// Default failure log limit: ten per second with a burst of ten.
const (
	DefaultFailureLogRate  = rate.Limit(10)
	DefaultFailureLogBurst = 10
)

// Dispatcher subscribes host callbacks to engine change notifications and
// delivers decoded change sets on the scheduler's goroutine.
//
// Engine callbacks may fire on any goroutine. The dispatcher decodes there,
// while the engine's buffers are still valid, and hands the decoded value to
// Scheduler.Invoke. The token is checked again right before the callback runs,
// so a token released in between never sees the change.
type Dispatcher struct {
	sched   scheduler.Scheduler
	base    IndexBase
	logger  *slog.Logger
	limiter *rate.Limiter

	delivered   atomic.Uint64
	suppressed  atomic.Uint64
	failed      atomic.Uint64
	logsDropped atomic.Uint64
}

// NewDispatcher returns a dispatcher that delivers through s.
func NewDispatcher(s scheduler.Scheduler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sched:   s,
		base:    ZeroBased,
		logger:  slog.Default(),
		limiter: rate.NewLimiter(DefaultFailureLogRate, DefaultFailureLogBurst),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IndexBase returns the configured index convention.
func (d *Dispatcher) IndexBase() IndexBase {
	return d.base
}

// AddObjectListener subscribes cb to changes of a single object.
func (d *Dispatcher) AddObjectListener(target ObjectTarget, cb func(ObjectChange) error) (*Token, error) {
	if target == nil {
		return nil, ErrInvalidTarget
	}
	if cb == nil {
		return nil, ErrNilCallback
	}

	tok := newToken(KindObject, func(cs ChangeSet) error {
		return cb(cs.(ObjectChange))
	})
	reg, err := target.AddObjectCallback(func(ch ObjectChanges) {
		d.deliver(tok, DecodeObject(ch))
	})
	if err != nil {
		tok.Close()
		return nil, fmt.Errorf("notify: add object listener: %w", err)
	}
	tok.attach(reg)
	return tok, nil
}

// AddCollectionListener subscribes cb to changes of a collection.
func (d *Dispatcher) AddCollectionListener(target CollectionTarget, cb func(CollectionChange) error) (*Token, error) {
	if target == nil {
		return nil, ErrInvalidTarget
	}
	if cb == nil {
		return nil, ErrNilCallback
	}

	tok := newToken(KindCollection, func(cs ChangeSet) error {
		return cb(cs.(CollectionChange))
	})
	reg, err := target.AddCollectionCallback(func(ch CollectionChanges) {
		d.deliver(tok, DecodeCollection(ch, d.base))
	})
	if err != nil {
		tok.Close()
		return nil, fmt.Errorf("notify: add collection listener: %w", err)
	}
	tok.attach(reg)
	return tok, nil
}

func (d *Dispatcher) deliver(tok *Token, cs ChangeSet) {
	if !tok.Active() {
		d.suppressed.Add(1)
		return
	}
	d.sched.Invoke(func() {
		d.run(tok, cs)
	})
}

// run executes on the scheduler's goroutine.
func (d *Dispatcher) run(tok *Token, cs ChangeSet) {
	cb := tok.callback()
	if cb == nil {
		d.suppressed.Add(1)
		return
	}

	if err := call(cb, cs); err != nil {
		d.failed.Add(1)
		if !d.limiter.Allow() {
			d.logsDropped.Add(1)
			return
		}
		d.logger.Error("could not call the callback function",
			"token", tok.ID(),
			"kind", cs.Kind().String(),
			"error", err)
		return
	}
	d.delivered.Add(1)
}

func call(cb Callback, cs ChangeSet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
	}()
	return cb(cs)
}

// Stats counts deliveries since the dispatcher was created.
type Stats struct {
	Delivered   uint64 // callbacks that returned normally
	Suppressed  uint64 // changes dropped because the token was released
	Failed      uint64 // callbacks that returned an error or panicked
	LogsDropped uint64 // failures not logged because of the rate limit
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered:   d.delivered.Load(),
		Suppressed:  d.suppressed.Load(),
		Failed:      d.failed.Load(),
		LogsDropped: d.logsDropped.Load(),
	}
}
