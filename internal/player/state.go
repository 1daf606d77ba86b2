package player

import (
	"sync"
)

// DefaultListenerBuffer is the channel capacity handed to each subscriber
const DefaultListenerBuffer = 64

// StateManager owns the shared Status and fans change events out to subscribers.
// Readers take the read lock, a status refresh takes the write lock only to swap in
// the reconciled snapshot.
type StateManager struct {
	state     Status
	mutex     sync.RWMutex
	listeners []chan StateChanged
	listenMu  sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewStateManager creates a state manager holding the initial status
func NewStateManager() *StateManager {
	return &StateManager{
		state:     NewStatus(),
		listeners: make([]chan StateChanged, 0),
		done:      make(chan struct{}),
	}
}

// Snapshot returns a copy of the current status (thread-safe)
func (sm *StateManager) Snapshot() Status {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	return sm.state
}

// Apply replaces the status with a reconciled snapshot
func (sm *StateManager) Apply(next Status) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.state = next
}

// Update mutates the status in place under the write lock. Used for optimistic
// updates after a successful command, no event is published.
func (sm *StateManager) Update(fn func(s *Status)) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	fn(&sm.state)
}

// Subscribe adds a listener for change events
func (sm *StateManager) Subscribe() <-chan StateChanged {
	sm.listenMu.Lock()
	defer sm.listenMu.Unlock()

	ch := make(chan StateChanged, DefaultListenerBuffer)
	sm.listeners = append(sm.listeners, ch)
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (sm *StateManager) Unsubscribe(ch <-chan StateChanged) {
	sm.listenMu.Lock()
	defer sm.listenMu.Unlock()

	for i, listener := range sm.listeners {
		if listener == ch {
			close(listener)
			sm.listeners = append(sm.listeners[:i], sm.listeners[i+1:]...)
			break
		}
	}
}

// Publish delivers events to every subscriber in order. A full listener blocks the
// publisher until it catches up or the manager is closed. Must not be called while
// holding the status lock.
func (sm *StateManager) Publish(events ...StateChanged) {
	if len(events) == 0 {
		return
	}

	sm.listenMu.Lock()
	defer sm.listenMu.Unlock()

	for _, ev := range events {
		for _, listener := range sm.listeners {
			select {
			case listener <- ev:
			case <-sm.done:
				return
			}
		}
	}
}

// Close stops publishing and closes all listener channels
func (sm *StateManager) Close() {
	sm.closeOnce.Do(func() {
		close(sm.done)

		sm.listenMu.Lock()
		defer sm.listenMu.Unlock()
		for _, listener := range sm.listeners {
			close(listener)
		}
		sm.listeners = nil
	})
}
