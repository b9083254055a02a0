package scheduler

import "sync"

// Driver is the host-loop side of a scheduler. The loop calls DoWork whenever
// its async handle fires, then checks ShouldClose.
//
// Thread-safety: DoWork must only be called from the owning goroutine.
// ShouldClose, Close, and Stats are safe from any goroutine.
type Driver struct {
	state *shared

	closeOnce sync.Once
}

// DoWork runs every closure queued so far and returns how many ran.
// After Close it does nothing.
func (d *Driver) DoWork() int {
	if d.state.closed.Load() {
		return 0
	}
	n, drained := d.state.queue.TryInvokeAll()
	if !drained {
		return 0
	}
	d.state.drains.Add(1)
	d.state.executed.Add(uint64(n))
	return n
}

// ShouldClose reports whether the bridge requested shutdown.
func (d *Driver) ShouldClose() bool {
	return d.state.closeRequested.Load()
}

// Close tears the driver down. The first call marks the state closed,
// discards queued closures, and releases the driver's reference.
// Later calls are no-ops, so an explicit Close and a deferred cleanup can
// both run.
func (d *Driver) Close() {
	d.closeOnce.Do(func() {
		d.state.closed.Store(true)
		d.state.queue.Close()
		d.state.release()
	})
}

// Closed reports whether Close has been called.
func (d *Driver) Closed() bool {
	return d.state.closed.Load()
}

// Stats is a point-in-time view of scheduler activity.
type Stats struct {
	Invoked        uint64 // closures accepted by Invoke
	Dropped        uint64 // closures rejected after close was requested
	Drains         uint64 // DoWork calls that drained the queue; nested or closed calls are not counted
	Executed       uint64 // closures run by DoWork
	Pending        int    // closures waiting for the next drain
	CloseRequested bool
	Closed         bool
}

// Stats returns current counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Invoked:        d.state.invoked.Load(),
		Dropped:        d.state.dropped.Load(),
		Drains:         d.state.drains.Load(),
		Executed:       d.state.executed.Load(),
		Pending:        d.state.queue.Len(),
		CloseRequested: d.state.closeRequested.Load(),
		Closed:         d.state.closed.Load(),
	}
}
