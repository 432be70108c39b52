// Package auth owns the session lifecycle for a client instance: sign-up,
// sign-in, sign-out, and token refresh against a remote authentication
// endpoint. The manager is the only writer of the credential store.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gridbase/gridbase.go/pkg/credentials"
	"github.com/gridbase/gridbase.go/pkg/logger"
)

// Endpoint is the remote authentication collaborator. Implementations
// exchange credentials for sessions and are expected to return *Error
// values for structured failures.
type Endpoint interface {
	SignUp(ctx context.Context, email, password string) (credentials.Session, error)
	SignIn(ctx context.Context, email, password string) (credentials.Session, error)
	Refresh(ctx context.Context, refreshToken string) (credentials.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// User is the identity portion of the active session.
type User struct {
	ID    string
	Email string
}

// Manager tracks the current session and its token lifecycle.
//
// Concurrent Refresh calls are coalesced: while one refresh is in flight,
// later callers wait for its result instead of issuing duplicate calls.
type Manager struct {
	store    *credentials.Store
	endpoint Endpoint
	logger   logger.Logger

	refreshMu sync.Mutex
	inflight  *refreshCall
}

type refreshCall struct {
	done chan struct{}
	sess credentials.Session
	err  error
}

func NewManager(store *credentials.Store, endpoint Endpoint, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop{}
	}
	return &Manager{
		store:    store,
		endpoint: endpoint,
		logger:   log,
	}
}

// Store exposes the credential store for read-side dependents.
func (m *Manager) Store() *credentials.Store {
	return m.store
}

// AccessToken returns the current bearer token, or "" when anonymous.
func (m *Manager) AccessToken() string {
	return m.store.AccessToken()
}

// SignUp creates a new account and stores the resulting session.
func (m *Manager) SignUp(ctx context.Context, email, password string) (User, error) {
	if err := checkCredentialFormat(email, password); err != nil {
		return User{}, err
	}

	sess, err := m.endpoint.SignUp(ctx, email, password)
	if err != nil {
		return User{}, asAuthError(err)
	}

	m.storeSession(sess)
	return User{ID: sess.UserID, Email: sess.Email}, nil
}

// SignIn exchanges credentials for a session and stores it.
func (m *Manager) SignIn(ctx context.Context, email, password string) (User, error) {
	if err := checkCredentialFormat(email, password); err != nil {
		return User{}, err
	}

	sess, err := m.endpoint.SignIn(ctx, email, password)
	if err != nil {
		return User{}, asAuthError(err)
	}

	m.storeSession(sess)
	return User{ID: sess.UserID, Email: sess.Email}, nil
}

// SignOut invalidates the session remotely on a best-effort basis and clears
// the credential store unconditionally, so the client never stays "logged
// in" with a dead token even when the remote call fails.
func (m *Manager) SignOut(ctx context.Context) error {
	sess := m.store.Get()
	if sess == nil {
		return nil
	}

	defer m.store.Clear()

	if err := m.endpoint.SignOut(ctx, sess.AccessToken); err != nil {
		m.logger.Warn("remote sign-out failed, clearing local session anyway", "error", err)
	}

	return nil
}

// CurrentUser returns the identity of the active session, or
// ErrUnauthenticated when anonymous.
func (m *Manager) CurrentUser() (User, error) {
	sess := m.store.Get()
	if sess == nil {
		return User{}, ErrUnauthenticated
	}
	return User{ID: sess.UserID, Email: sess.Email}, nil
}

// Refresh swaps the current session for a fresh one using the refresh token.
//
// At most one refresh is in flight at a time; concurrent callers await the
// same result. A ReasonRefreshTokenInvalid failure forces sign-out by
// clearing the store.
func (m *Manager) Refresh(ctx context.Context) (credentials.Session, error) {
	m.refreshMu.Lock()
	if call := m.inflight; call != nil {
		m.refreshMu.Unlock()
		select {
		case <-call.done:
			return call.sess, call.err
		case <-ctx.Done():
			return credentials.Session{}, ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	m.inflight = call
	m.refreshMu.Unlock()

	call.sess, call.err = m.doRefresh(ctx)

	m.refreshMu.Lock()
	m.inflight = nil
	m.refreshMu.Unlock()

	close(call.done)
	return call.sess, call.err
}

func (m *Manager) doRefresh(ctx context.Context) (credentials.Session, error) {
	sess := m.store.Get()
	if sess == nil {
		return credentials.Session{}, ErrUnauthenticated
	}

	fresh, err := m.endpoint.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		authErr := asAuthError(err)
		if errors.Is(authErr, &Error{Reason: ReasonRefreshTokenInvalid}) {
			m.logger.Info("refresh token rejected, signing out")
			m.store.Clear()
		}
		return credentials.Session{}, authErr
	}

	m.storeSession(fresh)
	return fresh, nil
}

func (m *Manager) storeSession(sess credentials.Session) {
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = expiryFromToken(sess.AccessToken)
	}
	m.store.Set(sess)
}

// expiryFromToken derives the expiry from the access token's `exp` claim
// when the endpoint did not report one explicitly. The token is parsed
// unverified: the server is the verifier, the claim is only a hint for
// proactive refresh. Returns the zero time when the token is opaque.
func expiryFromToken(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func checkCredentialFormat(email, password string) error {
	if email == "" || password == "" || !strings.Contains(email, "@") {
		return newError(ReasonInvalidCredentialFormat, "email and password required")
	}
	return nil
}

// asAuthError guarantees callers never see a raw transport error: anything
// the endpoint did not classify becomes ReasonEndpointUnavailable.
func asAuthError(err error) error {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr
	}
	return newError(ReasonEndpointUnavailable, err.Error())
}
