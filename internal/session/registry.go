package session

import (
	"sync"

	"syncdoc/internal/ot"
)

// Registry is the process-wide map of DocID to DocumentSession. Access is a
// short critical section for lookup/create/remove only; all subsequent work
// happens inside the session's own lock, per spec §9 "Global session
// registry".
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*DocumentSession
	mintID   func() ot.ClientID
	audit    AuditSink
}

// NewRegistry creates an empty registry. mintID mints client ids for Join
// calls that omit one.
func NewRegistry(mintID func() ot.ClientID, audit AuditSink) *Registry {
	return &Registry{
		sessions: make(map[string]*DocumentSession),
		mintID:   mintID,
		audit:    audit,
	}
}

// GetOrCreate returns the session for docID, creating it (with empty
// initial text) if this is the first join. The DocumentSession → Empty
// state transition happens here implicitly: a session exists from its
// first Join until its roster empties.
func (r *Registry) GetOrCreate(docID string) *DocumentSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[docID]; ok {
		return s
	}
	s := New(docID, "", r.mintID, r.audit)
	s.OnEmpty = func() { r.remove(docID, s) }
	r.sessions[docID] = s
	return s
}

// remove deletes docID from the registry iff the session stored there is
// still s and its roster is still empty — a Join racing this Disconnect
// may have already repopulated s before this callback runs.
func (r *Registry) remove(docID string, s *DocumentSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[docID]; ok && cur == s && s.RosterSize() == 0 {
		delete(r.sessions, docID)
	}
}

// Len reports the number of live sessions (introspection/tests).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// DocIDs returns the ids of every live session (introspection).
func (r *Registry) DocIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}
