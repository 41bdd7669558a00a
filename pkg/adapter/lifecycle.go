package adapter

import (
	"sync"

	"github.com/wilhg/toolgate/pkg/errmodel"
)

// State is the connection state shared by all adapters.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Lifecycle tracks Disconnected -> Connecting -> Connected. A failed connect
// returns to Disconnected, never to a partial Connected.
//
// Every Begin and Reset advances a generation. A connect attempt only lands
// through Commit with the generation Begin handed out, so a Reset issued
// while the attempt is in flight wins and the attempt must discard what it
// built.
type Lifecycle struct {
	mu    sync.Mutex
	state State
	gen   uint64
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connected reports whether the state is Connected.
func (l *Lifecycle) Connected() bool { return l.State() == Connected }

// Begin moves Disconnected -> Connecting and returns the attempt generation.
// It returns started=false with a nil error when the adapter is already
// connected and an error when another connect is running.
func (l *Lifecycle) Begin(protocol string) (gen uint64, started bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case Disconnected:
		l.gen++
		l.state = Connecting
		return l.gen, true, nil
	case Connected:
		return 0, false, nil
	default:
		return 0, false, errmodel.ConnectionFailed("connect already in progress", map[string]any{"protocol": protocol})
	}
}

// Commit moves Connecting -> Connected for attempt gen. It reports false when
// the attempt was superseded by Reset; the caller then owns the cleanup.
func (l *Lifecycle) Commit(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Connecting || l.gen != gen {
		return false
	}
	l.state = Connected
	return true
}

// Pending reports whether attempt gen is still the live connect attempt.
func (l *Lifecycle) Pending(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == Connecting && l.gen == gen
}

// Abort returns a failed attempt to Disconnected. It is a no-op once the
// attempt has been superseded.
func (l *Lifecycle) Abort(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Connecting && l.gen == gen {
		l.state = Disconnected
	}
}

// Reset forces the state back to Disconnected and invalidates any attempt
// in flight.
func (l *Lifecycle) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	l.state = Disconnected
}

// Require returns ConnectionFailed unless the adapter is connected.
func (l *Lifecycle) Require(protocol string) error {
	if st := l.State(); st != Connected {
		return errmodel.ConnectionFailed("adapter is not connected", map[string]any{"protocol": protocol, "state": st.String()})
	}
	return nil
}

// Superseded is the error a connect attempt returns when Disconnect ran
// before it could land.
func Superseded(protocol string) error {
	return errmodel.ConnectionFailed("disconnected while connecting", map[string]any{"protocol": protocol})
}
