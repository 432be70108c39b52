package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gridbase/gridbase.go/internal/codec"
	"github.com/gridbase/gridbase.go/pkg/credentials"
)

const (
	signUpPath  = "/auth/v1/signup"
	tokenPath   = "/auth/v1/token"
	signOutPath = "/auth/v1/logout"
)

// HTTPEndpoint implements Endpoint against the platform's auth API.
type HTTPEndpoint struct {
	baseURL string
	apiKey  string

	httpClient  *http.Client
	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler
}

type HTTPEndpointOption func(*HTTPEndpoint)

// WithHTTPClient overrides the default http.Client, e.g. for tests or to
// tune transport-level timeouts.
func WithHTTPClient(c *http.Client) HTTPEndpointOption {
	return func(e *HTTPEndpoint) {
		e.httpClient = c
	}
}

func NewHTTPEndpoint(baseURL, apiKey string, opts ...HTTPEndpointOption) *HTTPEndpoint {
	e := &HTTPEndpoint{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		marshaler:   codec.JSON{},
		unmarshaler: codec.JSON{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type tokenRequest struct {
	Email        string `json:"email,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *HTTPEndpoint) SignUp(ctx context.Context, email, password string) (credentials.Session, error) {
	return e.requestSession(ctx, signUpPath, tokenRequest{Email: email, Password: password}, false)
}

func (e *HTTPEndpoint) SignIn(ctx context.Context, email, password string) (credentials.Session, error) {
	return e.requestSession(ctx, tokenPath+"?grant_type=password", tokenRequest{Email: email, Password: password}, false)
}

func (e *HTTPEndpoint) Refresh(ctx context.Context, refreshToken string) (credentials.Session, error) {
	return e.requestSession(ctx, tokenPath+"?grant_type=refresh_token", tokenRequest{RefreshToken: refreshToken}, true)
}

func (e *HTTPEndpoint) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+signOutPath, http.NoBody)
	if err != nil {
		return newError(ReasonEndpointUnavailable, err.Error())
	}
	req.Header.Set("apikey", e.apiKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return newError(ReasonEndpointUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	// An already-dead token is as good as a revoked one.
	if resp.StatusCode == http.StatusUnauthorized {
		return nil
	}
	return e.errorFromResponse(resp, false)
}

func (e *HTTPEndpoint) requestSession(ctx context.Context, path string, body tokenRequest, refreshing bool) (credentials.Session, error) {
	reqBody, err := e.marshaler.Marshal(body)
	if err != nil {
		return credentials.Session{}, newError(ReasonEndpointUnavailable, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return credentials.Session{}, newError(ReasonEndpointUnavailable, err.Error())
	}
	req.Header.Set("apikey", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return credentials.Session{}, newError(ReasonEndpointUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return credentials.Session{}, e.errorFromResponse(resp, refreshing)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return credentials.Session{}, newError(ReasonEndpointUnavailable, err.Error())
	}

	var tok tokenResponse
	if err := e.unmarshaler.Unmarshal(respBytes, &tok); err != nil {
		return credentials.Session{}, newError(ReasonEndpointUnavailable, fmt.Sprintf("malformed session payload: %v", err))
	}

	sess := credentials.Session{
		UserID:       tok.User.ID,
		Email:        tok.User.Email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if tok.ExpiresIn > 0 {
		sess.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return sess, nil
}

func (e *HTTPEndpoint) errorFromResponse(resp *http.Response, refreshing bool) error {
	detail := ""
	if respBytes, err := io.ReadAll(resp.Body); err == nil {
		var body errorResponse
		if err := e.unmarshaler.Unmarshal(respBytes, &body); err == nil && body.Message != "" {
			detail = body.Message
		}
	}

	reason := ReasonUnknown
	switch {
	case resp.StatusCode == http.StatusUnauthorized && refreshing:
		reason = ReasonRefreshTokenInvalid
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		reason = ReasonInvalidCredentials
	case resp.StatusCode == http.StatusConflict:
		reason = ReasonDuplicateAccount
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		reason = ReasonInvalidCredentialFormat
	case resp.StatusCode == http.StatusLocked:
		reason = ReasonAccountLocked
	case resp.StatusCode >= 500:
		reason = ReasonEndpointUnavailable
	}

	if detail == "" {
		detail = resp.Status
	}
	return newError(reason, detail)
}
