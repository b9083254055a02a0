package notify

import "errors"

var (
	// ErrInvalidTarget is returned when a listener is added to a nil target.
	ErrInvalidTarget = errors.New("notify: invalid target")

	// ErrNilCallback is returned when a listener is added without a callback.
	ErrNilCallback = errors.New("notify: callback is nil")

	// ErrCallbackPanic wraps a value recovered from a panicking callback.
	ErrCallbackPanic = errors.New("notify: callback panicked")

	// ErrInvalidIndexBase is returned by ParseIndexBase.
	ErrInvalidIndexBase = errors.New("notify: invalid index base")
)
