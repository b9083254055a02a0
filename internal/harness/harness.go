package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/loopbridge/internal/hostloop"
	"github.com/roach88/loopbridge/internal/notify"
	"github.com/roach88/loopbridge/internal/scheduler"
	"github.com/roach88/loopbridge/internal/store"
	"github.com/roach88/loopbridge/internal/wakeup"
)

// ErrLoopStopped is returned when work is sent to a loop that has exited.
var ErrLoopStopped = errors.New("harness: host loop stopped")

// errListenerFailed is returned by listeners configured with fail: true.
var errListenerFailed = errors.New("listener configured to fail")

// Options configures Run. Zero values select defaults.
type Options struct {
	// Database is the SQLite path. Defaults to ":memory:".
	Database string

	// IndexBase applies unless the scenario sets index_base.
	IndexBase notify.IndexBase

	// Workers bounds concurrent transactions in parallel steps. Defaults to 4.
	Workers int

	// Logger receives store, loop, and dispatcher logs. Defaults to a
	// discarding logger.
	Logger *slog.Logger

	// FailureLogRate and FailureLogBurst limit callback failure logs.
	// Zero selects the dispatcher defaults.
	FailureLogRate  rate.Limit
	FailureLogBurst int
}

func (o Options) withDefaults() Options {
	if o.Database == "" {
		o.Database = ":memory:"
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.FailureLogRate == 0 {
		o.FailureLogRate = notify.DefaultFailureLogRate
	}
	if o.FailureLogBurst == 0 {
		o.FailureLogBurst = notify.DefaultFailureLogBurst
	}
	return o
}

// runner holds one scenario execution.
//
// Fields below the loop-only marker are touched exclusively on the loop
// goroutine while it runs, and by Run after it exits.
type runner struct {
	scenario *Scenario
	opts     Options
	base     notify.IndexBase

	st       *store.Store
	driver   *scheduler.Driver
	bridge   *scheduler.Bridge
	disp     *notify.Dispatcher
	loopDone chan struct{}
	loopErr  error
	stopOnce sync.Once

	mu     sync.Mutex
	labels map[string]string

	// loop-only
	tokens map[string]*notify.Token
	result *Result
	seq    int64
}

// Run executes a scenario end to end: it opens a store, starts a host loop
// with its scheduler, registers the scenario's listeners on the loop, runs
// each step from worker goroutines, and evaluates assertions.
//
// Each call uses a fresh database unless opts.Database names a file.
func Run(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	base := opts.IndexBase
	if scenario.IndexBase != "" {
		b, err := notify.ParseIndexBase(scenario.IndexBase)
		if err != nil {
			return nil, err
		}
		base = b
	}

	st, err := store.Open(opts.Database, store.WithLogger(opts.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	r := &runner{
		scenario: scenario,
		opts:     opts,
		base:     base,
		st:       st,
		labels:   make(map[string]string),
		tokens:   make(map[string]*notify.Token),
		result:   NewResult(),
	}
	r.result.IndexBase = base.String()

	for _, c := range scenario.Classes {
		if _, err := st.DefineClass(ctx, c.Name, c.Properties...); err != nil {
			return nil, fmt.Errorf("failed to define class: %w", err)
		}
	}

	if len(scenario.Setup) > 0 {
		if err := r.write(ctx, scenario.Setup); err != nil {
			return nil, fmt.Errorf("failed to execute setup: %w", err)
		}
	}

	if err := r.startLoop(ctx); err != nil {
		return nil, err
	}
	defer r.stopLoop()

	if err := st.BindScheduler(r.bridge); err != nil {
		return nil, fmt.Errorf("failed to bind scheduler: %w", err)
	}
	r.disp = notify.NewDispatcher(r.bridge,
		notify.WithIndexBase(base),
		notify.WithLogger(opts.Logger),
		notify.WithFailureLogLimit(opts.FailureLogRate, opts.FailureLogBurst),
	)

	for _, def := range scenario.Listeners {
		if err := r.register(ctx, def); err != nil {
			return nil, fmt.Errorf("listener %q: %w", def.Name, err)
		}
	}

	for i, step := range scenario.Steps {
		if err := r.runStep(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	if err := r.onLoop(ctx, r.releaseAll); err != nil {
		return nil, err
	}
	r.stopLoop()
	if r.loopErr != nil {
		return nil, fmt.Errorf("host loop: %w", r.loopErr)
	}

	result := r.result
	result.Stats = Stats{
		Scheduler:  r.driver.Stats(),
		Dispatcher: r.disp.Stats(),
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// startLoop runs the host loop on its own goroutine. The scheduler is
// created there, so that goroutine is its owner.
func (r *runner) startLoop(ctx context.Context) error {
	lp := hostloop.New(hostloop.WithLogger(r.opts.Logger))
	src, err := wakeup.New(lp.Async(), hostloop.SendFunc)
	if err != nil {
		return fmt.Errorf("failed to create wakeup source: %w", err)
	}

	type handles struct {
		driver *scheduler.Driver
		bridge *scheduler.Bridge
		err    error
	}
	ready := make(chan handles, 1)
	r.loopDone = make(chan struct{})

	go func() {
		defer close(r.loopDone)
		d, b, err := scheduler.Create(src, scheduler.WithLogger(r.opts.Logger))
		ready <- handles{d, b, err}
		if err != nil {
			return
		}
		if err := lp.Run(ctx, d); err != nil && !errors.Is(err, context.Canceled) {
			r.loopErr = err
		}
	}()

	h := <-ready
	if h.err != nil {
		return fmt.Errorf("failed to create scheduler: %w", h.err)
	}
	r.driver, r.bridge = h.driver, h.bridge
	return nil
}

// stopLoop requests shutdown and waits for the loop goroutine to exit.
func (r *runner) stopLoop() {
	r.stopOnce.Do(func() {
		r.bridge.Close()
		<-r.loopDone
	})
}

// onLoop runs fn on the loop goroutine and waits for it. Because closures
// run in FIFO order, everything queued before the call has also run by the
// time it returns.
func (r *runner) onLoop(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	r.bridge.Invoke(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-r.loopDone:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *runner) register(ctx context.Context, def ListenerDef) error {
	var regErr error
	err := r.onLoop(ctx, func() {
		var tok *notify.Token
		tok, regErr = r.addListener(ctx, def)
		if regErr == nil {
			r.tokens[def.Name] = tok
		}
	})
	if err != nil {
		return err
	}
	return regErr
}

func (r *runner) addListener(ctx context.Context, def ListenerDef) (*notify.Token, error) {
	if def.Results != "" {
		results, err := r.st.Results(def.Results)
		if err != nil {
			return nil, err
		}
		return r.disp.AddCollectionListener(results, func(c notify.CollectionChange) error {
			r.record(def, c, nil)
			if def.Fail {
				return errListenerFailed
			}
			return nil
		})
	}

	id, err := r.resolve(def.Object)
	if err != nil {
		return nil, err
	}
	obj, err := r.st.Object(ctx, id)
	if err != nil {
		return nil, err
	}
	class := obj.Class()
	return r.disp.AddObjectListener(obj, func(c notify.ObjectChange) error {
		names := make([]string, 0, len(c.ModifiedProperties))
		for _, key := range c.ModifiedProperties {
			names = append(names, class.PropertyName(key))
		}
		r.record(def, c, names)
		if def.Fail {
			return errListenerFailed
		}
		return nil
	})
}

// record runs on the loop goroutine.
func (r *runner) record(def ListenerDef, cs notify.ChangeSet, props []string) {
	r.seq++
	r.result.Deliveries = append(r.result.Deliveries, Delivery{
		Seq:        r.seq,
		Listener:   def.Name,
		Kind:       cs.Kind().String(),
		Change:     cs,
		Properties: props,
		OnLoop:     r.bridge.IsOnThread(),
	})
}

func (r *runner) releaseAll() {
	for _, tok := range r.tokens {
		tok.Close()
	}
}

func (r *runner) runStep(ctx context.Context, step Step) error {
	switch {
	case step.Release != "":
		return r.onLoop(ctx, func() {
			if tok, ok := r.tokens[step.Release]; ok {
				tok.Close()
			}
		})

	case len(step.Write) > 0:
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return r.write(gctx, step.Write)
		})
		if err := g.Wait(); err != nil {
			return err
		}

	default:
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Workers)
		for _, ops := range step.Parallel {
			g.Go(func() error {
				return r.write(gctx, ops)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	// Barrier: notifications queued by the writes drain before the next step.
	return r.onLoop(ctx, func() {})
}

// write applies ops in one transaction on the calling goroutine.
func (r *runner) write(ctx context.Context, ops []Op) error {
	return r.st.Write(ctx, func(tx *store.Txn) error {
		for i, op := range ops {
			if err := r.apply(tx, op); err != nil {
				return fmt.Errorf("op[%d]: %w", i, err)
			}
		}
		return nil
	})
}

func (r *runner) apply(tx *store.Txn, op Op) error {
	switch {
	case op.Create != nil:
		id, err := tx.Create(op.Create.Class, op.Create.Values)
		if err != nil {
			return err
		}
		if op.Create.Label != "" {
			r.mu.Lock()
			r.labels[op.Create.Label] = id
			r.mu.Unlock()
		}
		return nil

	case op.Set != nil:
		id, err := r.resolve(op.Set.Object)
		if err != nil {
			return err
		}
		return tx.Set(id, op.Set.Property, op.Set.Value)

	default:
		id, err := r.resolve(op.Delete)
		if err != nil {
			return err
		}
		return tx.Delete(id)
	}
}

func (r *runner) resolve(label string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.labels[label]
	if !ok {
		return "", fmt.Errorf("unknown object label %q", label)
	}
	return id, nil
}
