package registry

import (
	"sync"

	"github.com/acme/ivr-balance-checker/internal/domain"
)

// Registry maps provider call ids to live sessions. A session is present only between
// "call accepted by the provider" and "resolved". Each batch or test owns its own Registry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*domain.Session)}
}

// Register stores the session under callID, replacing any previous entry.
func (r *Registry) Register(callID string, session *domain.Session) {
	r.mu.Lock()
	r.sessions[callID] = session
	r.mu.Unlock()
}

// Lookup returns the session registered under callID.
func (r *Registry) Lookup(callID string) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Unregister drops callID. It reports whether an entry was removed and is safe to call twice.
func (r *Registry) Unregister(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callID]; !ok {
		return false
	}
	delete(r.sessions, callID)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Active counts registered sessions that are dialing or in progress.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		switch s.Status() {
		case domain.StatusDialing, domain.StatusInProgress:
			n++
		}
	}
	return n
}
