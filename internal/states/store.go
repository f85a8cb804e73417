// Package states holds the last-known states of external entities and
// fans out change notifications. States are pushed in over the HTTP API
// by the host platform (e.g. a home-automation webhook).
package states

import (
	"log"
	"sync"
	"time"
)

// Change describes a single entity state transition.
type Change struct {
	EntityID  string    `json:"entity_id"`
	OldState  string    `json:"old_state"`
	NewState  string    `json:"new_state"`
	ChangedAt time.Time `json:"changed_at"`
}

// Listener receives entity state changes. Listeners are invoked on the
// updating goroutine and must not block.
type Listener func(Change)

// Store is an in-memory entity state registry with change listeners.
type Store struct {
	mu        sync.RWMutex
	states    map[string]string
	listeners []Listener
	logger    *log.Logger
}

// NewStore creates an empty Store.
func NewStore(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		states: make(map[string]string),
		logger: logger,
	}
}

// State returns the last-known state of an entity.
func (s *Store) State(entityID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[entityID]
	return state, ok
}

// Set records a new entity state and notifies listeners when the state
// actually changed.
func (s *Store) Set(entityID, state string) {
	s.mu.Lock()
	old, existed := s.states[entityID]
	s.states[entityID] = state
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	if existed && old == state {
		return
	}

	change := Change{
		EntityID:  entityID,
		OldState:  old,
		NewState:  state,
		ChangedAt: time.Now().UTC(),
	}
	s.logger.Printf("Entity %s state changed: %q -> %q", entityID, old, state)
	for _, listener := range listeners {
		listener(change)
	}
}

// Subscribe registers a listener for all future state changes.
func (s *Store) Subscribe(listener Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// All returns a copy of every known entity state.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make(map[string]string, len(s.states))
	for id, state := range s.states {
		all[id] = state
	}
	return all
}
