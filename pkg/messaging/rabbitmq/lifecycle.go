package rabbitmq

import (
	"fmt"
	"sync"
)

// Lifecycle is the runtime-wide state. The runtime moves
// Stopped -> Starting -> Running -> Stopping -> Stopped. A start that fails
// before its runners are up goes straight from Starting to Stopping.
type Lifecycle int32

const (
	StateStopped Lifecycle = iota
	StateStarting
	StateRunning
	StateStopping
)

func (l Lifecycle) String() string {
	switch l {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("lifecycle(%d)", int32(l))
	}
}

var transitions = map[Lifecycle][]Lifecycle{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping},
	StateRunning:  {StateStopping},
	StateStopping: {StateStopped},
}

func canTransition(from, to Lifecycle) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// lifecycle guards the state with one mutex. Every change goes through
// transition, which refuses edges not listed in transitions.
type lifecycle struct {
	mu    sync.RWMutex
	state Lifecycle
}

func (l *lifecycle) load() Lifecycle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *lifecycle) transition(from, to Lifecycle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != from || !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (current %s)", ErrInvalidTransition, from, to, l.state)
	}
	l.state = to
	return nil
}

// update lets fn pick the next state while the lock is held. Returning the
// current state leaves it untouched. Any other value must be a permitted
// transition.
func (l *lifecycle) update(fn func(current Lifecycle) (Lifecycle, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, err := fn(l.state)
	if err != nil {
		return err
	}
	if next == l.state {
		return nil
	}
	if !canTransition(l.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, next)
	}
	l.state = next
	return nil
}
