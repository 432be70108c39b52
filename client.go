package gridbase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gridbase/gridbase.go/pkg/auth"
	"github.com/gridbase/gridbase.go/pkg/credentials"
	"github.com/gridbase/gridbase.go/pkg/logger"
	"github.com/gridbase/gridbase.go/pkg/query"
	"github.com/gridbase/gridbase.go/pkg/realtime"
	"github.com/gridbase/gridbase.go/pkg/realtime/gorillaws"
)

const (
	// DefaultQueryTimeout bounds a single query execution when the caller's
	// context carries no deadline of its own.
	DefaultQueryTimeout = 30 * time.Second

	realtimePath = "/realtime/v1"
)

// Config carries the connection settings for one backend project.
type Config struct {
	// BaseURL is the project endpoint, e.g. "https://myproject.example.com".
	BaseURL string

	// APIKey is the project API key sent with every request.
	APIKey string

	// QueryTimeout applies to each query execution. Zero means
	// DefaultQueryTimeout.
	QueryTimeout time.Duration

	// ReconnectBaseDelay, ReconnectMaxDelay and ReconnectJitter tune the
	// realtime reconnection backoff. Zero values use the backoff defaults.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	ReconnectJitter    float64

	// Logger receives client diagnostics. Nil disables logging.
	Logger logger.Logger
}

// Client is the top-level handle for one backend project. It bundles the
// session manager, the query builder entry point, and the realtime
// subscription manager, all sharing one credential store.
type Client struct {
	cfg   Config
	log   logger.Logger
	store *credentials.Store

	auth     *auth.Manager
	executor query.Executor
	rt       *realtime.Manager
}

type Option func(*clientDeps)

// clientDeps collects the injectable collaborators before the client is
// assembled.
type clientDeps struct {
	endpoint  auth.Endpoint
	executor  query.Executor
	transport realtime.Transport
}

// WithEndpoint replaces the HTTP authentication endpoint, e.g. with a fake
// in tests.
func WithEndpoint(e auth.Endpoint) Option {
	return func(d *clientDeps) {
		d.endpoint = e
	}
}

// WithExecutor replaces the HTTP query executor.
func WithExecutor(e query.Executor) Option {
	return func(d *clientDeps) {
		d.executor = e
	}
}

// WithTransport replaces the realtime websocket transport.
func WithTransport(t realtime.Transport) Option {
	return func(d *clientDeps) {
		d.transport = t
	}
}

// New creates a client for the project at cfg.BaseURL.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gridbase: empty base URL")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("gridbase: invalid base URL: %w", err)
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Nop{}
	}

	var deps clientDeps
	for _, opt := range opts {
		opt(&deps)
	}
	if deps.endpoint == nil {
		deps.endpoint = auth.NewHTTPEndpoint(cfg.BaseURL, cfg.APIKey)
	}
	if deps.executor == nil {
		deps.executor = query.NewHTTPExecutor(cfg.BaseURL, cfg.APIKey)
	}
	if deps.transport == nil {
		wsURL, err := websocketURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		deps.transport = gorillaws.New(wsURL, cfg.APIKey, gorillaws.WithLogger(log))
	}

	store := credentials.NewStore()
	authMgr := auth.NewManager(store, deps.endpoint, log)

	retry := realtime.NewExponentialBackoff()
	if cfg.ReconnectBaseDelay > 0 {
		retry.BaseDelay = cfg.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay > 0 {
		retry.MaxDelay = cfg.ReconnectMaxDelay
	}
	if cfg.ReconnectJitter > 0 {
		retry.JitterFactor = cfg.ReconnectJitter
	}

	rt := realtime.NewManager(deps.transport, authMgr,
		realtime.WithLogger(log),
		realtime.WithRetryer(retry),
	)

	return &Client{
		cfg:      cfg,
		log:      log,
		store:    store,
		auth:     authMgr,
		executor: deps.executor,
		rt:       rt,
	}, nil
}

// Auth returns the session manager for sign-up, sign-in, sign-out and
// refresh.
func (c *Client) Auth() *auth.Manager {
	return c.auth
}

// From starts a query against a table:
//
//	rows, err := client.From("posts").
//		Select("id", "title").
//		Eq("is_published", true).
//		Execute(ctx)
//
// Builders are immutable values, so a partially built query can be reused
// and branched safely.
func (c *Client) From(table string) query.Builder {
	return query.NewBuilder(table, c.executor, c.auth,
		query.WithTimeout(c.cfg.QueryTimeout),
		query.WithLogger(c.log),
	)
}

// Realtime returns the subscription manager. The shared connection is
// established lazily on the first subscription.
func (c *Client) Realtime() *realtime.Manager {
	return c.rt
}

// Close shuts the realtime connection down and releases the client's
// background resources. The credential store is left intact so a caller
// can still inspect the session afterwards.
func (c *Client) Close(ctx context.Context) error {
	return c.rt.Close(ctx)
}

// websocketURL converts the project base URL into the realtime websocket
// endpoint.
func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("gridbase: invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("gridbase: unsupported scheme %q", u.Scheme)
	}
	u.Path = realtimePath
	return u.String(), nil
}
