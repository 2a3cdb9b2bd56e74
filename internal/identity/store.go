// Package identity holds the authenticated-user state surfaced by the
// transport pipeline.
package identity

import "sync"

// User is the identity the server reports through the Authenticated-User
// response header.
type User struct {
	Username string
}

// Store is the shared identity state. It is written only by the transport
// pipeline's response interceptor and read by callers; writes are serialized
// so the store is safe to share across concurrent uploads.
type Store struct {
	mu      sync.RWMutex
	current *User
}

// NewStore creates an empty identity store.
func NewStore() *Store {
	return &Store{}
}

// Set records the authenticated username. An empty value means "no user
// reported" and never overwrites existing state; an explicit logout must use
// Reset.
func (s *Store) Set(username string) {
	if username == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &User{Username: username}
}

// Current returns the current user, if any.
func (s *Store) Current() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return User{}, false
	}
	return *s.current, true
}

// Reset clears the identity state. Used on explicit logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}
