// Package gorillaws implements the realtime transport over a gorilla
// websocket connection.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/gridbase/gridbase.go/pkg/logger"
	"github.com/gridbase/gridbase.go/pkg/realtime"
)

const (
	// CloseMessageCode is the websocket close code sent on a clean shutdown.
	CloseMessageCode = 1000

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second
)

// Transport dials a websocket endpoint and exchanges text frames with it.
// A single Transport is reusable: after the message channel closes, the
// next Connect establishes a fresh connection with a fresh channel.
type Transport struct {
	wsURL        string
	apiKey       string
	dialer       *gorilla.Dialer
	log          logger.Logger
	writeTimeout time.Duration

	mu   sync.Mutex
	conn *gorilla.Conn
	msgs chan []byte
}

var _ realtime.Transport = (*Transport)(nil)

type Option func(*Transport)

func WithDialer(d *gorilla.Dialer) Option {
	return func(t *Transport) {
		t.dialer = d
	}
}

func WithLogger(log logger.Logger) Option {
	return func(t *Transport) {
		t.log = log
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.writeTimeout = d
	}
}

// New creates a transport for the given websocket URL. The API key is sent
// as a query parameter on the handshake, the access token as a bearer
// header.
func New(wsURL, apiKey string, opts ...Option) *Transport {
	t := &Transport{
		wsURL:        wsURL,
		apiKey:       apiKey,
		dialer:       gorilla.DefaultDialer,
		log:          logger.Nop{},
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Connect(ctx context.Context, accessToken string) error {
	u, err := url.Parse(t.wsURL)
	if err != nil {
		return fmt.Errorf("invalid websocket url: %w", err)
	}
	if t.apiKey != "" {
		q := u.Query()
		q.Set("apikey", t.apiKey)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	if accessToken != "" {
		header.Set("Authorization", "Bearer "+accessToken)
	}

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return realtime.ErrTokenExpired
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	msgs := make(chan []byte, 16)

	t.mu.Lock()
	t.conn = conn
	t.msgs = msgs
	t.mu.Unlock()

	go t.readPump(conn, msgs)
	return nil
}

// readPump reads frames off one connection until it fails, then closes the
// message channel to signal the drop.
func (t *Transport) readPump(conn *gorilla.Conn, msgs chan []byte) {
	defer close(msgs)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !gorilla.IsCloseError(err, CloseMessageCode) && !errors.Is(err, gorilla.ErrCloseSent) {
				t.log.Debug("websocket read ended", "error", err)
			}
			return
		}
		msgs <- data
	}
}

func (t *Transport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return errors.New("gorillaws: not connected")
	}

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(gorilla.TextMessage, frame)
}

func (t *Transport) Messages() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.msgs
}

func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	msg := gorilla.FormatCloseMessage(CloseMessageCode, "")
	if err := conn.WriteControl(gorilla.CloseMessage, msg, deadline); err != nil {
		t.log.Debug("close message write failed", "error", err)
	}
	return conn.Close()
}
