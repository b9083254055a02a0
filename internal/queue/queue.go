// Package queue implements the invocation queue: a multi-producer,
// single-consumer FIFO of deferred zero-argument closures.
//
// Producers on any goroutine Push closures. The consumer (the goroutine that
// owns the host event loop) calls InvokeAll to run everything queued at the
// moment the drain starts. Work queued while a drain is in progress, including
// work queued by the closures themselves, waits for the next drain. This keeps
// the time spent inside a single drain bounded.
//
// The queue holds two buffers. Producers append to the active buffer under a
// mutex; a drain swaps the active buffer with the spare one and runs the
// swapped-out buffer without holding the lock:
//
//	Push:     lock -> active.PushBack(fn) -> unlock
//	InvokeAll: lock -> swap(active, spare) -> unlock -> run batch
//
// Steady state allocates nothing: both buffers are reused.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
)

// Queue is a thread-safe FIFO of closures.
//
// Thread-safety model:
//   - Push, Len, Seal, Close, Closed: safe from any goroutine
//   - InvokeAll: consumer goroutine only, never re-entered
type Queue struct {
	mu       sync.Mutex
	active   *deque.Deque[func()]
	spare    *deque.Deque[func()]
	draining bool
	sealed   bool

	closed atomic.Bool
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		active: new(deque.Deque[func()]),
		spare:  new(deque.Deque[func()]),
	}
}

// Push appends fn to the back of the queue.
// Returns false if the queue is sealed or closed; the closure is discarded.
func (q *Queue) Push(fn func()) bool {
	if fn == nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed || q.closed.Load() {
		return false
	}
	q.active.PushBack(fn)
	return true
}

// InvokeAll runs every closure queued before the call, in FIFO order, and
// returns how many ran.
//
// A call made from inside a running closure returns 0 without running
// anything. If the queue is closed mid-drain, the remaining closures of the
// batch are discarded.
//
// If a closure panics, closures that did not run yet are put back at the
// front of the queue and the panic propagates to the caller.
func (q *Queue) InvokeAll() int {
	n, _ := q.TryInvokeAll()
	return n
}

// TryInvokeAll is InvokeAll that also reports whether a drain took place.
// It returns false for a nested call or a closed queue.
func (q *Queue) TryInvokeAll() (int, bool) {
	q.mu.Lock()
	if q.draining || q.closed.Load() {
		q.mu.Unlock()
		return 0, false
	}
	q.draining = true
	batch := q.active
	q.active = q.spare
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		if q.closed.Load() {
			batch.Clear()
		}
		// Unexecuted leftovers go ahead of anything pushed during the drain.
		for batch.Len() > 0 {
			q.active.PushFront(batch.PopBack())
		}
		q.spare = batch
		q.draining = false
		q.mu.Unlock()
	}()

	n := 0
	for batch.Len() > 0 && !q.closed.Load() {
		fn := batch.PopFront()
		n++
		fn()
	}
	return n, true
}

// Len returns the number of closures waiting for the next drain.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active.Len()
}

// Seal rejects further pushes but keeps pending closures for the next drain.
// Returns false if the queue was already sealed.
func (q *Queue) Seal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed {
		return false
	}
	q.sealed = true
	return true
}

// Close discards pending closures and rejects further pushes.
// Calling Close more than once is a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.Swap(true) {
		return
	}
	q.active.Clear()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	return q.closed.Load()
}
