package game

import (
	"fmt"
	"sync"

	"game-session-worker/internal/model"
)

// Registry manages machine registration and lookup by archetype tag.
// It provides a thread-safe way to dispatch sessions to their state machine.
type Registry struct {
	machines map[model.Archetype]Machine
	mu       sync.RWMutex
}

// NewRegistry creates a new machine registry.
func NewRegistry() *Registry {
	return &Registry{
		machines: make(map[model.Archetype]Machine),
	}
}

// Register adds a machine to the registry.
// If a machine for the same archetype already exists, it is replaced.
func (r *Registry) Register(m Machine) error {
	if m == nil {
		return fmt.Errorf("cannot register nil machine")
	}
	if m.Archetype() == "" {
		return fmt.Errorf("machine archetype cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[m.Archetype()] = m
	return nil
}

// Get retrieves the machine for an archetype.
// Returns the machine and true if found, nil and false otherwise.
func (r *Registry) Get(archetype model.Archetype) (Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[archetype]
	return m, ok
}

// Archetypes returns all registered archetype tags.
func (r *Registry) Archetypes() []model.Archetype {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]model.Archetype, 0, len(r.machines))
	for tag := range r.machines {
		tags = append(tags, tag)
	}
	return tags
}

// Count returns the number of registered machines.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines)
}
