package query

import (
	"errors"
	"fmt"
)

// Descriptor validation failures, reported at Execute time. Building a
// descriptor never fails by itself.
var (
	ErrNoTable              = errors.New("query: no table specified")
	ErrNoOperation          = errors.New("query: no operation specified")
	ErrConflictingOperation = errors.New("query: descriptor already has an operation")
	ErrFilterNotAllowed     = errors.New("query: filters do not apply to insert")
	ErrNoPayload            = errors.New("query: insert/update requires a payload")
)

// Reason classifies why an executed query failed.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonNotAuthorized
	ReasonConstraintViolation
	ReasonNotFound
	ReasonTransportError
	ReasonCancelled
)

func (r Reason) String() string {
	switch r {
	case ReasonNotAuthorized:
		return "not authorized"
	case ReasonConstraintViolation:
		return "constraint violation"
	case ReasonNotFound:
		return "not found"
	case ReasonTransportError:
		return "transport error"
	case ReasonCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the typed failure for an executed query. It never mutates
// session state; only select operations are safe to retry blindly.
type Error struct {
	Reason Reason
	Detail string

	// TokenExpired marks a ReasonNotAuthorized failure caused by an expired
	// access token, which the builder resolves with one refresh-and-retry.
	TokenExpired bool
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("query: %s", e.Reason)
	}
	return fmt.Sprintf("query: %s: %s", e.Reason, e.Detail)
}

// Is lets errors.Is match two query errors by reason alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Reason == other.Reason
}
