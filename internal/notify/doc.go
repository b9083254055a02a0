// Package notify turns engine change notifications into host callbacks.
//
// A Dispatcher registers with an ObjectTarget or CollectionTarget and
// returns a Token. When the engine reports a diff, the dispatcher decodes it
// into an ObjectChange or CollectionChange and delivers it through the
// scheduler, so the host callback always runs on the loop goroutine.
//
// Collection indices are zero-based in the engine. WithIndexBase(OneBased)
// shifts them at delivery for hosts with one-based arrays.
//
// Closing a Token unregisters it from the engine and drops the callback.
// Changes already queued for a closed token are discarded before the
// callback runs.
package notify
