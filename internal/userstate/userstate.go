package userstate

import "sync"

// State is a point-in-time view of the application's cached session.
type State struct {
	Authenticated bool
	UID           string
	Token         string
}

// Store keeps the application's own notion of who is signed in. It serves as
// the fallback when the identity module has no current user.
type Store struct {
	mu    sync.RWMutex
	state State
}

// New builds an empty store.
func New() *Store {
	return &Store{}
}

// Set records an authenticated session.
func (s *Store) Set(uid, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{Authenticated: true, UID: uid, Token: token}
}

// Clear forgets the cached session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
