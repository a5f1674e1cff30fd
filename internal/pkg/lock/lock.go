// Package lock provides session-level locking so that events for the same
// session are handled one at a time within a worker process. Cross-process
// serialization is the database row lock's job; this keeps a single worker
// from racing itself between a timer expiry and a late turn event.
package lock

import (
	"sync"
)

// sessionMutex is map-addressable by session ID while live, but holders and
// waiters keep their own pointer so Release cannot strand them.
type sessionMutex struct {
	mu sync.Mutex
}

// SessionLock provides per-session locking keyed by session ID.
type SessionLock struct {
	locks sync.Map // map[string]*sessionMutex
	pool  sync.Pool
}

// NewSessionLock creates a new SessionLock instance.
func NewSessionLock() *SessionLock {
	return &SessionLock{
		pool: sync.Pool{
			New: func() any {
				return &sessionMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given session ID.
func (sl *SessionLock) getLock(sessionID string) *sessionMutex {
	// Try to load existing lock
	if v, ok := sl.locks.Load(sessionID); ok {
		return v.(*sessionMutex)
	}

	// Create new lock from pool
	newLock := sl.pool.Get().(*sessionMutex)

	// Store or load existing (handles race condition)
	actual, loaded := sl.locks.LoadOrStore(sessionID, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool
		sl.pool.Put(newLock)
	}
	return actual.(*sessionMutex)
}

// Lock acquires the lock for a session and returns the function that
// releases it. The unlock is bound to the acquired mutex, not the session
// ID: Release may delete the map entry while the lock is held, and a
// by-ID unlock would then miss and leave every waiter blocked.
func (sl *SessionLock) Lock(sessionID string) (unlock func()) {
	m := sl.getLock(sessionID)
	m.mu.Lock()
	return m.mu.Unlock
}

// TryLock attempts to acquire the lock without blocking. On success it
// returns the release function; on failure it returns nil.
func (sl *SessionLock) TryLock(sessionID string) (unlock func()) {
	m := sl.getLock(sessionID)
	if m.mu.TryLock() {
		return m.mu.Unlock
	}
	return nil
}

// WithLock executes a function while holding the session's lock.
func (sl *SessionLock) WithLock(sessionID string, fn func() error) error {
	unlock := sl.Lock(sessionID)
	defer unlock()
	return fn()
}

// Release drops the map entry for a terminal session. Goroutines already
// holding or waiting on the mutex keep their own pointer and drain through
// it; later lookups for the same ID get a fresh mutex.
func (sl *SessionLock) Release(sessionID string) {
	sl.locks.Delete(sessionID)
}
