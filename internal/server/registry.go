package server

import (
	"sync"

	"github.com/google/uuid"

	"StreamChat/internal/provider"
)

// Session is the server-side state of one live connection: identity,
// conversation history, and an optional stored credential. It is owned by
// the connection that created it and destroyed when that connection goes
// away.
type Session struct {
	ID string

	mu      sync.Mutex
	history []provider.Turn
	apiKey  string
}

// History returns a copy of the committed turns.
func (s *Session) History() []provider.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// AppendExchange commits one completed exchange: the user turn followed by
// the model turn. Turns are never appended speculatively; a failed exchange
// leaves no trace.
func (s *Session) AppendExchange(userText, modelText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		provider.Turn{Role: provider.RoleUser, Text: userText},
		provider.Turn{Role: provider.RoleModel, Text: modelText},
	)
}

// APIKey returns the credential stored on the session, if any.
func (s *Session) APIKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey
}

// SetAPIKey stores a credential on the session.
func (s *Session) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = key
}

// Registry tracks the sessions of all live connections. It is owned by the
// server process and passed to each connection's relay by reference.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add creates a session for a newly accepted connection.
func (r *Registry) Add() *Session {
	sess := &Session{ID: uuid.NewString()}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = sess
	return sess
}

// Remove destroys the session when its connection closes or errors.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
