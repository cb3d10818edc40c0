package mcp

import "sync"

// SessionRegistry maps correlation keys (workstream or execution IDs) to
// the MCP session that started them.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // key → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates key with a session. A later registration wins.
func (r *SessionRegistry) Register(key, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[key] = sessionID
}

// SessionFor returns the session registered for key.
func (r *SessionRegistry) SessionFor(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[key]
	return sid, ok
}

// Remove deletes every key mapped to the given session.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, key)
		}
	}
}
