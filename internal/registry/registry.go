// Package registry tracks live provider clients by session id. A session is
// present from the moment its account authenticates until it is disconnected
// or deleted; presence here is what makes a session addressable for sends.
package registry

import (
	"sync"
	"time"

	"github.com/zapdeskhq/zapdesk/internal/provider"
)

// Entry is one registered live session.
type Entry struct {
	SessionID string
	OwnerID   string
	Client    provider.Client
	AddedAt   time.Time

	// Stop cancels the session's background work (event loop, periodic
	// refresh). Set by the engine before registration; may be nil in
	// tests.
	Stop func()
}

// Registry is a concurrency-safe session table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Put registers an entry, replacing any previous entry for the same session.
// The replaced entry is returned so the caller can stop it.
func (r *Registry) Put(e *Entry) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.entries[e.SessionID]
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now()
	}
	r.entries[e.SessionID] = e
	return prev
}

// Get returns the entry for a session, if registered.
func (r *Registry) Get(sessionID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	return e, ok
}

// Remove deregisters and returns a session's entry.
func (r *Registry) Remove(sessionID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if ok {
		delete(r.entries, sessionID)
	}
	return e, ok
}

// List returns a snapshot of all registered entries.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
