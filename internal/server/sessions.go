package server

import (
	"sync"

	"runview/internal/view"
)

// SessionRegistry tracks the open view sessions, keyed by run id.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*view.Controller
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*view.Controller),
	}
}

// Get retrieves the session for a run.
func (r *SessionRegistry) Get(runID string) (*view.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[runID]
	return c, ok
}

// Put registers a session. Returns false if one is already open for the
// run; the caller keeps using the existing session.
func (r *SessionRegistry) Put(c *view.Controller) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[c.RunID()]; ok {
		return false
	}
	r.sessions[c.RunID()] = c
	return true
}

// Remove deletes and returns the session for a run.
func (r *SessionRegistry) Remove(runID string) (*view.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[runID]
	if ok {
		delete(r.sessions, runID)
	}
	return c, ok
}

// Len returns the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every session and empties the registry.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*view.Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		sessions = append(sessions, c)
	}
	r.sessions = make(map[string]*view.Controller)
	r.mu.Unlock()

	for _, c := range sessions {
		c.Close()
	}
}
