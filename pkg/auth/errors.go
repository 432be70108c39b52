package auth

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when an operation requires a session and
// none is held.
var ErrUnauthenticated = errors.New("not authenticated")

// Reason classifies why an auth operation failed.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonDuplicateAccount
	ReasonInvalidCredentialFormat
	ReasonInvalidCredentials
	ReasonAccountLocked
	ReasonRefreshTokenInvalid
	ReasonEndpointUnavailable
)

func (r Reason) String() string {
	switch r {
	case ReasonDuplicateAccount:
		return "duplicate account"
	case ReasonInvalidCredentialFormat:
		return "invalid credential format"
	case ReasonInvalidCredentials:
		return "invalid credentials"
	case ReasonAccountLocked:
		return "account locked"
	case ReasonRefreshTokenInvalid:
		return "refresh token invalid"
	case ReasonEndpointUnavailable:
		return "endpoint unavailable"
	default:
		return "unknown"
	}
}

// Error is the typed failure for all auth operations. It is always terminal
// for the attempted call.
type Error struct {
	Reason Reason
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("auth: %s", e.Reason)
	}
	return fmt.Sprintf("auth: %s: %s", e.Reason, e.Detail)
}

// Is lets errors.Is match two auth errors by reason alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Reason == other.Reason
}

func newError(reason Reason, detail string) *Error {
	return &Error{Reason: reason, Detail: detail}
}
