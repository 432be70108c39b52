// Package credentials holds the current session for a client instance.
//
// The Store is the single storage surface for the session: the auth manager
// is its only writer, and the query and realtime layers read from it. On
// every change the Store notifies registered listeners so dependents can
// react to token rotation without polling.
package credentials

import (
	"sync"
	"time"
)

// Session is the authenticated identity and tokens currently held by the
// client. A client holds at most one; the zero value is never stored.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is known to be expired at the
// given time. A zero ExpiresAt means the expiry is unknown, in which case
// the token is treated as live until the server rejects it.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
}

// Listener is invoked after the stored session changes. It receives a copy
// of the new session, or nil when the session was cleared.
//
// Listeners run synchronously on the goroutine that mutated the store, so
// they must not block and must not call back into the store's setters.
type Listener func(s *Session)

// Store provides atomic get/set/clear over at most one Session. It performs
// no network calls and no validation.
type Store struct {
	mu        sync.RWMutex
	session   *Session
	listeners []Listener
}

func NewStore() *Store {
	return &Store{}
}

// Get returns a copy of the current session, or nil when anonymous.
func (s *Store) Get() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return nil
	}

	sess := *s.session
	return &sess
}

// AccessToken returns the current access token, or "" when anonymous.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return ""
	}
	return s.session.AccessToken
}

// Set replaces the current session and notifies listeners.
func (s *Store) Set(sess Session) {
	s.mu.Lock()
	s.session = &sess
	listeners := s.listeners
	s.mu.Unlock()

	notify := sess
	for _, l := range listeners {
		l(&notify)
	}
}

// Clear drops the current session and notifies listeners with nil. Clearing
// an already-empty store is a no-op.
func (s *Store) Clear() {
	s.mu.Lock()
	cleared := s.session != nil
	s.session = nil
	listeners := s.listeners
	s.mu.Unlock()

	if !cleared {
		return
	}
	for _, l := range listeners {
		l(nil)
	}
}

// OnChange registers a listener for session changes. Listeners cannot be
// removed; they live as long as the store does.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}
