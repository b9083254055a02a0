// Package wakeup wraps the host event loop's cross-goroutine wakeup primitive.
//
// The embedding hands over an opaque handle together with the function that
// signals it. Both are validated once at construction; there is no discovery
// step and no fallback. A scheduler cannot exist without a working Source.
package wakeup

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrNoHandle is returned when the loop handle is nil.
	ErrNoHandle = errors.New("wakeup: loop handle is nil")

	// ErrNoSend is returned when no signaling function was supplied.
	ErrNoSend = errors.New("wakeup: send function is nil")

	// ErrHandleNotComparable is returned when the handle cannot be compared
	// by identity. Scheduler identity depends on handle equality.
	ErrHandleNotComparable = errors.New("wakeup: loop handle is not comparable")
)

// SendFunc signals the given handle. It must be safe to call from any goroutine.
type SendFunc func(handle any) error

// Source is a non-owning reference to a host loop's async handle plus the
// function used to signal it.
//
// Thread-safety: Signal is safe for concurrent use. All fields are immutable
// after New returns.
type Source struct {
	_ [0]func() // not comparable, not meant to be copied

	handle any
	send   SendFunc
}

// New validates the handle/send pair and returns a Source bound to them.
func New(handle any, send SendFunc) (*Source, error) {
	if handle == nil {
		return nil, ErrNoHandle
	}
	if send == nil {
		return nil, ErrNoSend
	}
	if t := reflect.TypeOf(handle); !t.Comparable() {
		return nil, fmt.Errorf("%w: %s", ErrHandleNotComparable, t)
	}
	return &Source{handle: handle, send: send}, nil
}

// Signal wakes the host loop.
func (s *Source) Signal() error {
	if err := s.send(s.handle); err != nil {
		return fmt.Errorf("wakeup: signal: %w", err)
	}
	return nil
}

// Same reports whether both sources reference the same loop handle.
func (s *Source) Same(other *Source) bool {
	if s == nil || other == nil {
		return false
	}
	return s.handle == other.handle
}

// Handle returns the underlying loop handle.
func (s *Source) Handle() any {
	return s.handle
}
