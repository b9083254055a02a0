// Package scheduler bridges the storage engine's scheduler contract onto a
// host event loop.
//
// ARCHITECTURE:
//
// Create produces two handles that share one state block:
//
//   - Bridge: the producer side, handed to the engine. Invoke may be called
//     from any goroutine. It queues the closure and signals the host loop.
//   - Driver: the consumer side, handed to the host loop. DoWork drains the
//     queue on the goroutine that owns the loop.
//
// Flow:
//  1. Engine worker calls Bridge.Invoke(fn)
//  2. fn is pushed onto the shared queue, the wakeup source is signaled
//  3. Host loop wakes and calls Driver.DoWork() on its own goroutine
//  4. Queued closures run, FIFO, exactly once
//
// Shutdown:
//
// Bridge.Close sets close_requested and signals one last time, so a loop that
// is waiting observes ShouldClose() and calls Driver.Close(). Each handle
// holds one reference on the shared state; the state is released when both
// handles have been closed, in either order. Closing a handle twice is a no-op.
//
// Closures pushed after close was requested are dropped and never run.
package scheduler
