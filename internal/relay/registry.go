package relay

import (
	"log/slog"
	"sync"
)

// Registry tracks active relay sessions. Sessions are keyed by their
// ephemeral handle because the owning call is often unknown when the stream
// opens; a secondary index by call id is populated lazily once correlation
// succeeds.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session // keyed by session handle
	byCall   map[string]string   // call id -> session handle, filled on bind
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With("subsystem", "relay-sessions"),
		sessions: make(map[string]*Session),
		byCall:   make(map[string]string),
	}
}

// Add registers a session under its handle.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.Handle] = s
	r.mu.Unlock()

	r.logger.Info("relay session registered", "session", s.Handle)
}

// Bind records the session's resolved call id in the secondary index.
func (r *Registry) Bind(handle, callID string) {
	r.mu.Lock()
	if _, ok := r.sessions[handle]; ok {
		r.byCall[callID] = handle
	}
	r.mu.Unlock()
}

// Remove drops a session and its call index entry, if any.
func (r *Registry) Remove(handle string) {
	r.mu.Lock()
	s, ok := r.sessions[handle]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, handle)
	if callID := s.CallID(); callID != "" && r.byCall[callID] == handle {
		delete(r.byCall, callID)
	}
	r.mu.Unlock()

	r.logger.Info("relay session released", "session", handle)
}

// Get returns a session by handle, or nil.
func (r *Registry) Get(handle string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[handle]
}

// GetByCall returns the session bound to a call id, or nil.
func (r *Registry) GetByCall(callID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.byCall[callID]
	if !ok {
		return nil
	}
	return r.sessions[handle]
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every active session. Used during shutdown; each session's
// Run loop settles its call and deregisters itself.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}

	r.logger.Info("all relay sessions closed", "count", len(sessions))
}
