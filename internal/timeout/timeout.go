// Package timeout implements the turn timeout manager: a registry of
// per-session cancellable timers addressed solely by session ID. Expiry
// forces finalization with a timeout outcome; the finalizer's status check
// under the row lock makes an expiry racing a late action safe.
package timeout

import (
	"sync"
	"time"
)

// FireFunc is invoked on its own goroutine when a session's timer expires.
type FireFunc func(sessionID string)

// Manager tracks the deadline for each session's next player action.
type Manager struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewManager creates a new Manager.
func NewManager() *Manager {
	return &Manager{
		timers: make(map[string]*time.Timer),
	}
}

// Arm starts the timer for a session, replacing any pending one (a new
// prompt restarts the deadline). fire runs after d unless Cancel wins.
func (m *Manager) Arm(sessionID string, d time.Duration, fire FireFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[sessionID]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		m.mu.Lock()
		// Only the registered timer may fire; a re-armed session has a
		// newer one and this expiry is stale.
		current := m.timers[sessionID] == timer
		if current {
			delete(m.timers, sessionID)
		}
		m.mu.Unlock()

		if current {
			fire(sessionID)
		}
	})
	m.timers[sessionID] = timer
}

// Cancel stops the pending timer for a session. Returns false when no timer
// is pending (already fired or never armed); cancellation is best-effort -
// if the timer has begun finalization, the late action loses at the row
// lock instead.
func (m *Manager) Cancel(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[sessionID]
	if !ok {
		return false
	}
	delete(m.timers, sessionID)
	return t.Stop()
}

// Len returns the number of pending timers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Stop cancels every pending timer. Used on worker shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}
