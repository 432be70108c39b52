package realtime

import (
	"context"
	"errors"
)

// ErrTokenExpired is returned by transports (or carried in error frames)
// when the server rejects the connection's credential as expired. The
// manager reacts by refreshing the session and retrying once before
// falling back to reconnect backoff.
var ErrTokenExpired = errors.New("realtime: token expired")

// Transport is the persistent bidirectional connection the manager drives.
// It is injectable so any underlying connection library can satisfy it; the
// manager only defines the message-level protocol on top.
type Transport interface {
	// Connect establishes the connection, presenting the given bearer
	// token. Calling Connect again after the message channel closed
	// establishes a fresh connection.
	Connect(ctx context.Context, accessToken string) error

	// Send writes one outbound frame. Safe for concurrent use.
	Send(ctx context.Context, frame []byte) error

	// Messages returns the inbound frame channel for the current
	// connection. The channel is closed when the connection drops.
	Messages() <-chan []byte

	// Close tears the connection down. The message channel closes as a
	// consequence.
	Close(ctx context.Context) error
}
