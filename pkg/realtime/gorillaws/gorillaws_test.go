package gorillaws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase.go/pkg/realtime"
)

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestConnectSendsCredentials(t *testing.T) {
	upgrader := gorilla.Upgrader{}
	var gotAuth, gotKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.URL.Query().Get("apikey")
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Echo one frame back so the client side has something to read.
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(gorilla.TextMessage, msg))
	}))
	defer srv.Close()

	tr := New(wsURL(srv), "anon-key")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, tr.Connect(ctx, "token-123"))
	defer tr.Close(ctx)

	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "anon-key", gotKey)

	require.NoError(t, tr.Send(ctx, []byte(`{"type":"register"}`)))

	select {
	case msg := <-tr.Messages():
		assert.JSONEq(t, `{"type":"register"}`, string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}
}

func TestConnectUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := New(wsURL(srv), "anon-key")
	err := tr.Connect(context.Background(), "stale")
	require.ErrorIs(t, err, realtime.ErrTokenExpired)
}

func TestCloseEndsMessageChannel(t *testing.T) {
	upgrader := gorilla.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		// Read until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tr := New(wsURL(srv), "")
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx, ""))

	msgs := tr.Messages()
	require.NoError(t, tr.Close(ctx))

	select {
	case _, ok := <-msgs:
		assert.False(t, ok, "message channel should be closed")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestSendWithoutConnect(t *testing.T) {
	tr := New("ws://127.0.0.1:1", "")
	require.Error(t, tr.Send(context.Background(), []byte("x")))
}
