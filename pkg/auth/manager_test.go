package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase.go/pkg/credentials"
	"github.com/gridbase/gridbase.go/pkg/logger"
)

type stubEndpoint struct {
	mu sync.Mutex

	signUpCalls  int
	signInCalls  int
	refreshCalls int
	signOutCalls int

	session    credentials.Session
	err        error
	signOutErr error

	// refreshGate, when set, blocks Refresh until closed. Used to hold a
	// refresh in flight while concurrent callers pile up.
	refreshGate chan struct{}
}

func (s *stubEndpoint) SignUp(ctx context.Context, email, password string) (credentials.Session, error) {
	s.mu.Lock()
	s.signUpCalls++
	s.mu.Unlock()
	return s.session, s.err
}

func (s *stubEndpoint) SignIn(ctx context.Context, email, password string) (credentials.Session, error) {
	s.mu.Lock()
	s.signInCalls++
	s.mu.Unlock()
	return s.session, s.err
}

func (s *stubEndpoint) Refresh(ctx context.Context, refreshToken string) (credentials.Session, error) {
	s.mu.Lock()
	s.refreshCalls++
	gate := s.refreshGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return s.session, s.err
}

func (s *stubEndpoint) SignOut(ctx context.Context, accessToken string) error {
	s.mu.Lock()
	s.signOutCalls++
	s.mu.Unlock()
	return s.signOutErr
}

func newTestManager(endpoint Endpoint) (*Manager, *credentials.Store) {
	store := credentials.NewStore()
	return NewManager(store, endpoint, logger.Nop{}), store
}

func TestSignInStoresSession(t *testing.T) {
	endpoint := &stubEndpoint{
		session: credentials.Session{
			UserID:       "u1",
			Email:        "a@example.com",
			AccessToken:  "access",
			RefreshToken: "refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}
	manager, store := newTestManager(endpoint)

	user, err := manager.SignIn(context.Background(), "a@example.com", "secret")
	require.NoError(t, err)
	require.Equal(t, "u1", user.ID)
	require.Equal(t, "access", store.AccessToken())
}

func TestSignInInvalidCredentials(t *testing.T) {
	endpoint := &stubEndpoint{err: newError(ReasonInvalidCredentials, "nope")}
	manager, store := newTestManager(endpoint)

	_, err := manager.SignIn(context.Background(), "a@example.com", "wrong")

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ReasonInvalidCredentials, authErr.Reason)
	require.Nil(t, store.Get())
}

func TestSignUpRejectsMalformedCredentialsLocally(t *testing.T) {
	endpoint := &stubEndpoint{}
	manager, _ := newTestManager(endpoint)

	_, err := manager.SignUp(context.Background(), "not-an-email", "secret")

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ReasonInvalidCredentialFormat, authErr.Reason)
	require.Zero(t, endpoint.signUpCalls)
}

func TestSignUpWrapsRawEndpointErrors(t *testing.T) {
	endpoint := &stubEndpoint{err: errors.New("connection reset")}
	manager, _ := newTestManager(endpoint)

	_, err := manager.SignUp(context.Background(), "a@example.com", "secret")

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ReasonEndpointUnavailable, authErr.Reason)
}

func TestSignOutClearsStoreEvenWhenRemoteFails(t *testing.T) {
	endpoint := &stubEndpoint{signOutErr: errors.New("endpoint down")}
	manager, store := newTestManager(endpoint)
	store.Set(credentials.Session{UserID: "u1", AccessToken: "access"})

	require.NoError(t, manager.SignOut(context.Background()))
	require.Nil(t, store.Get())
	require.Equal(t, 1, endpoint.signOutCalls)
}

func TestSignOutWhenAnonymous(t *testing.T) {
	endpoint := &stubEndpoint{}
	manager, _ := newTestManager(endpoint)

	require.NoError(t, manager.SignOut(context.Background()))
	require.Zero(t, endpoint.signOutCalls)
}

func TestCurrentUser(t *testing.T) {
	manager, store := newTestManager(&stubEndpoint{})

	_, err := manager.CurrentUser()
	require.ErrorIs(t, err, ErrUnauthenticated)

	store.Set(credentials.Session{UserID: "u1", Email: "a@example.com", AccessToken: "access"})

	user, err := manager.CurrentUser()
	require.NoError(t, err)
	require.Equal(t, User{ID: "u1", Email: "a@example.com"}, user)
}

func TestRefreshCoalescesConcurrentCallers(t *testing.T) {
	gate := make(chan struct{})
	endpoint := &stubEndpoint{
		session:     credentials.Session{UserID: "u1", AccessToken: "fresh", RefreshToken: "r2"},
		refreshGate: gate,
	}
	manager, store := newTestManager(endpoint)
	store.Set(credentials.Session{
		UserID:       "u1",
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]credentials.Session, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = manager.Refresh(context.Background())
		}()
	}

	// Give every caller time to reach the in-flight wait before releasing.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.Equal(t, 1, endpoint.refreshCalls)
	for i := range callers {
		require.NoError(t, errs[i])
		require.Equal(t, "fresh", results[i].AccessToken)
	}
	require.Equal(t, "fresh", store.AccessToken())
}

func TestRefreshInvalidTokenForcesSignOut(t *testing.T) {
	endpoint := &stubEndpoint{err: newError(ReasonRefreshTokenInvalid, "expired")}
	manager, store := newTestManager(endpoint)
	store.Set(credentials.Session{UserID: "u1", AccessToken: "stale", RefreshToken: "r1"})

	_, err := manager.Refresh(context.Background())

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ReasonRefreshTokenInvalid, authErr.Reason)
	require.Nil(t, store.Get())
}

func TestRefreshWhenAnonymous(t *testing.T) {
	manager, _ := newTestManager(&stubEndpoint{})

	_, err := manager.Refresh(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestExpiryDerivedFromTokenClaims(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	endpoint := &stubEndpoint{
		session: credentials.Session{UserID: "u1", AccessToken: signed, RefreshToken: "r1"},
	}
	manager, store := newTestManager(endpoint)

	_, err = manager.SignIn(context.Background(), "a@example.com", "secret")
	require.NoError(t, err)
	require.Equal(t, exp.Unix(), store.Get().ExpiresAt.Unix())
}

func TestExpiryUnknownForOpaqueToken(t *testing.T) {
	endpoint := &stubEndpoint{
		session: credentials.Session{UserID: "u1", AccessToken: "opaque", RefreshToken: "r1"},
	}
	manager, store := newTestManager(endpoint)

	_, err := manager.SignIn(context.Background(), "a@example.com", "secret")
	require.NoError(t, err)
	require.True(t, store.Get().ExpiresAt.IsZero())
}
