package notify

import (
	"sync"

	"github.com/google/uuid"
)

// Callback receives a decoded change set on the owning goroutine.
// A returned error is logged by the dispatcher and otherwise ignored.
type Callback func(ChangeSet) error

// State is a token's lifecycle state.
type State int32

const (
	// StateActive means changes are still delivered.
	StateActive State = iota
	// StateReleased means the subscription was torn down. Terminal.
	StateReleased
)

// String returns "active" or "released".
func (s State) String() string {
	if s == StateReleased {
		return "released"
	}
	return "active"
}

// Token is the host-visible handle of one subscription. It owns the engine
// registration and the callback.
//
// Close may be called from any goroutine and any number of times. Once it
// returns, no delivery that has not yet started will invoke the callback.
// When Close runs on the loop goroutine nothing is in flight, so the callback
// is never invoked again. From another goroutine, a delivery already running
// on the loop may still finish its callback.
type Token struct {
	id   string
	kind Kind

	mu    sync.Mutex
	state State
	cb    Callback
	reg   Registration
}

func newToken(kind Kind, cb Callback) *Token {
	return &Token{
		id:   uuid.Must(uuid.NewV7()).String(),
		kind: kind,
		cb:   cb,
	}
}

// ID returns the token's unique identifier.
func (t *Token) ID() string {
	return t.id
}

// Kind returns the kind of change set this token delivers.
func (t *Token) Kind() Kind {
	return t.kind
}

// State returns the current lifecycle state.
func (t *Token) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Active reports whether the token still delivers changes.
func (t *Token) Active() bool {
	return t.State() == StateActive
}

// Close unregisters from the engine and drops the callback.
func (t *Token) Close() {
	t.mu.Lock()
	if t.state == StateReleased {
		t.mu.Unlock()
		return
	}
	t.state = StateReleased
	reg := t.reg
	t.reg = nil
	t.cb = nil
	t.mu.Unlock()

	if reg != nil {
		reg.Unregister()
	}
}

// attach stores the engine registration. A token closed before the
// registration arrived unregisters it immediately.
func (t *Token) attach(reg Registration) {
	if reg == nil {
		return
	}
	t.mu.Lock()
	if t.state == StateReleased {
		t.mu.Unlock()
		reg.Unregister()
		return
	}
	t.reg = reg
	t.mu.Unlock()
}

// callback returns the callback, or nil once released.
func (t *Token) callback() Callback {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cb
}
