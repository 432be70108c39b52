// Package realtime multiplexes change-notification subscriptions over one
// shared transport connection per client instance.
//
// The manager owns a single background goroutine that is the only writer
// of connection state: it connects, registers channels, dispatches inbound
// events to matching subscriptions, and drives reconnection with
// exponential backoff when the connection drops. Transient connection
// errors are handled internally; subscribers only hear about terminal
// closure of their own channel.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/google/uuid"

	"github.com/gridbase/gridbase.go/internal/codec"
	"github.com/gridbase/gridbase.go/internal/rand"
	"github.com/gridbase/gridbase.go/pkg/credentials"
	"github.com/gridbase/gridbase.go/pkg/logger"
)

const frameIDLength = 16

var (
	// ErrClosed is returned when the manager has been closed.
	ErrClosed = errors.New("realtime: manager closed")

	// ErrAccessRevoked terminally closes a subscription whose table access
	// was revoked server-side.
	ErrAccessRevoked = errors.New("realtime: access revoked")

	errConnectionDropped = errors.New("realtime: connection dropped")
)

// ConnState is the state of the shared connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

func (s ConnState) canTransitionTo(to ConnState) bool {
	switch s {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateReconnecting
	case StateConnected:
		return to == StateReconnecting
	case StateReconnecting:
		return to == StateConnecting
	}
	return false
}

// Authorizer supplies the connection credential and the refresh hook used
// when the server rejects an expired token.
type Authorizer interface {
	AccessToken() string
	Refresh(ctx context.Context) (credentials.Session, error)
}

// Manager multiplexes logical subscriptions over one shared transport
// connection.
type Manager struct {
	transport   Transport
	auth        Authorizer
	log         logger.Logger
	retry       Retryer
	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler

	mu      sync.Mutex
	state   ConnState
	subs    []*Subscription // insertion order, which is also dispatch order
	started bool

	wake      chan struct{}
	runCtx    context.Context
	cancelRun context.CancelFunc
	loopDone  chan struct{}
}

type Option func(*Manager)

func WithLogger(log logger.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithRetryer overrides the reconnect backoff strategy.
func WithRetryer(r Retryer) Option {
	return func(m *Manager) {
		m.retry = r
	}
}

// WithCodec overrides the frame serialization, e.g. for a binary-framed
// transport.
func WithCodec(marshal codec.Marshaler, unmarshal codec.Unmarshaler) Option {
	return func(m *Manager) {
		m.marshaler = marshal
		m.unmarshaler = unmarshal
	}
}

func NewManager(transport Transport, auth Authorizer, opts ...Option) *Manager {
	m := &Manager{
		transport:   transport,
		auth:        auth,
		log:         logger.Nop{},
		retry:       NewExponentialBackoff(),
		marshaler:   codec.JSON{},
		unmarshaler: codec.JSON{},
		state:       StateDisconnected,
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers interest in changes on a table. The subscription
// starts pending and becomes active once the server acknowledges the
// channel registration; events received before the acknowledgment are not
// dispatched to it. The first Subscribe starts the shared connection.
func (m *Manager) Subscribe(table string, events []EventType, filter *ColumnFilter, cb Callback, opts ...SubscribeOption) (*Subscription, error) {
	if cb == nil {
		return nil, errors.New("realtime: nil callback")
	}

	sub := &Subscription{
		id:     uuid.NewString(),
		table:  table,
		events: append([]EventType(nil), events...),
		filter: filter,
		cb:     cb,
		m:      m,
		state:  SubPending,
	}
	for _, opt := range opts {
		opt(sub)
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.subs = append(m.subs, sub)
	if !m.started {
		m.started = true
		m.runCtx, m.cancelRun = context.WithCancel(context.Background())
		m.loopDone = make(chan struct{})
		go m.run()
	}
	m.mu.Unlock()

	m.wakeRun()
	return sub, nil
}

// Unsubscribe sends a channel teardown on a best-effort basis and marks the
// subscription closed. Removal is immediate on the client side: no further
// events are dispatched to it even if one arrives in flight, regardless of
// whether the server acknowledges the teardown.
func (m *Manager) Unsubscribe(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	if sub.state == SubClosed {
		m.mu.Unlock()
		return nil
	}
	sub.state = SubClosed
	// Drop the callback references so a closed subscription cannot leak
	// them.
	sub.cb = nil
	sub.onClosed = nil
	m.removeLocked(sub)
	connected := m.state == StateConnected
	m.mu.Unlock()

	if connected {
		frame := teardownFrame{Type: frameTeardown, ID: rand.String(frameIDLength), Ref: sub.id}
		if err := m.send(ctx, frame); err != nil {
			m.log.Debug("teardown send failed", "channel", sub.id, "error", err)
		}
	}
	return nil
}

// Close tears down the manager: the background goroutine stops, the
// transport is closed, and every remaining subscription's closed callback
// fires with ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosed
	subs := m.subs
	m.subs = nil
	started := m.started
	cancel := m.cancelRun
	done := m.loopDone
	m.mu.Unlock()

	if started {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, sub := range subs {
		m.closeSubscription(sub, ErrClosed)
	}
	return nil
}

func (m *Manager) closeSubscription(sub *Subscription, err error) {
	m.mu.Lock()
	if sub.state == SubClosed {
		m.mu.Unlock()
		return
	}
	sub.state = SubClosed
	onClosed := sub.onClosed
	sub.cb = nil
	sub.onClosed = nil
	m.removeLocked(sub)
	m.mu.Unlock()

	if onClosed != nil {
		onClosed(err)
	}
}

func (m *Manager) removeLocked(sub *Subscription) {
	for i, s := range m.subs {
		if s == sub {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

func (m *Manager) wakeRun() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// run is the single long-lived background task per client instance and the
// only writer of connection state.
func (m *Manager) run() {
	defer close(m.loopDone)
	ctx := m.runCtx
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}
		if !m.transition(StateConnecting) {
			return
		}

		if err := m.connectOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("realtime connect failed", "error", err)
			if !m.transition(StateReconnecting) || !m.sleepBackoff(ctx, attempt, err) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		m.retry.Reset()
		if !m.transition(StateConnected) {
			return
		}
		m.log.Info("realtime connection established")
		m.registerAll(ctx)

		dropErr := m.readLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(dropErr, errConnectionDropped) {
			// The connection is still up but unusable, e.g. repeated token
			// rejections. Tear it down before reconnecting.
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := m.transport.Close(closeCtx); err != nil {
				m.log.Debug("transport close failed", "error", err)
			}
			cancel()
		}
		m.log.Info("realtime connection lost", "error", dropErr)
		m.markAllUnregistered()
		if !m.transition(StateReconnecting) || !m.sleepBackoff(ctx, attempt, dropErr) {
			return
		}
		attempt++
	}
}

// connectOnce dials the transport, refreshing the session once if the
// server rejects the credential as expired.
func (m *Manager) connectOnce(ctx context.Context) error {
	err := m.transport.Connect(ctx, m.auth.AccessToken())
	if err == nil || !errors.Is(err, ErrTokenExpired) {
		return err
	}

	m.log.Debug("connection rejected for expired token, refreshing session")
	if _, refreshErr := m.auth.Refresh(ctx); refreshErr != nil {
		return err
	}
	return m.transport.Connect(ctx, m.auth.AccessToken())
}

func (m *Manager) transition(to ConnState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return false
	}
	if !m.state.canTransitionTo(to) {
		m.log.Error("BUG: invalid connection state transition", "from", m.state, "to", to)
		return false
	}
	m.state = to
	m.log.Debug("connection state transitioned", "state", to)
	return true
}

func (m *Manager) sleepBackoff(ctx context.Context, attempt int, lastErr error) bool {
	delay, retry := m.retry.NextDelay(attempt, lastErr)
	if !retry {
		m.log.Error("realtime reconnect attempts exhausted", "attempts", attempt)
		m.failAll(lastErr)
		return false
	}

	m.log.Debug("waiting before reconnect", "attempt", attempt, "delay", delay)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// failAll terminally closes every remaining subscription. Only reached
// when the retryer gives up, which the default unlimited-retry backoff
// never does.
func (m *Manager) failAll(err error) {
	m.mu.Lock()
	subs := append([]*Subscription(nil), m.subs...)
	m.mu.Unlock()

	for _, sub := range subs {
		m.closeSubscription(sub, err)
	}
}

// registerAll sends a channel-registration message for every subscription
// that is not yet registered on the current connection, using the latest
// credential from the store.
func (m *Manager) registerAll(ctx context.Context) {
	m.mu.Lock()
	pending := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.state != SubClosed && !sub.registered {
			pending = append(pending, sub)
		}
	}
	m.mu.Unlock()

	token := m.auth.AccessToken()
	for _, sub := range pending {
		frame := registerFrame{
			Type:   frameRegister,
			ID:     rand.String(frameIDLength),
			Ref:    sub.id,
			Table:  sub.table,
			Events: sub.events,
			Filter: sub.filter,
			Token:  token,
		}
		if err := m.send(ctx, frame); err != nil {
			m.log.Warn("channel registration send failed", "channel", sub.id, "error", err)
			continue
		}
		m.mu.Lock()
		sub.registered = true
		m.mu.Unlock()
	}
}

func (m *Manager) markAllUnregistered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		sub.registered = false
	}
}

func (m *Manager) send(ctx context.Context, frame any) error {
	data, err := m.marshaler.Marshal(frame)
	if err != nil {
		return err
	}
	return m.transport.Send(ctx, data)
}

// readLoop consumes inbound frames until the connection drops or the
// manager is closed. The returned error describes why the connection
// ended.
func (m *Manager) readLoop(ctx context.Context) error {
	msgs := m.transport.Messages()

	// One refresh-and-retry per connection: a second token rejection
	// escalates to reconnect backoff.
	refreshed := false

	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := m.transport.Close(closeCtx); err != nil {
				m.log.Debug("transport close failed", "error", err)
			}
			cancel()
			return ctx.Err()

		case <-m.wake:
			m.registerAll(ctx)

		case frame, ok := <-msgs:
			if !ok {
				return errConnectionDropped
			}
			if err := m.handleFrame(ctx, frame, &refreshed); err != nil {
				return err
			}
		}
	}
}

// handleFrame routes one inbound frame. A non-nil return escalates to
// reconnection.
func (m *Manager) handleFrame(ctx context.Context, frame []byte, refreshed *bool) error {
	frameType, err := jsonparser.GetString(frame, "type")
	if err != nil {
		m.log.Warn("inbound frame without type field", "error", err)
		return nil
	}

	switch frameType {
	case frameAck:
		var ack ackFrame
		if err := m.unmarshaler.Unmarshal(frame, &ack); err != nil {
			m.log.Warn("malformed ack frame", "error", err)
			return nil
		}
		m.activate(ack.Ref)
		return nil

	case frameChange:
		var change changeFrame
		if err := m.unmarshaler.Unmarshal(frame, &change); err != nil {
			m.log.Warn("malformed change frame", "error", err)
			return nil
		}
		m.dispatch(change.ChangeEvent)
		return nil

	case frameError:
		var errFrame errorFrame
		if err := m.unmarshaler.Unmarshal(frame, &errFrame); err != nil {
			m.log.Warn("malformed error frame", "error", err)
			return nil
		}
		return m.handleErrorFrame(ctx, errFrame, refreshed)

	default:
		m.log.Warn("unknown frame type", "type", frameType)
		return nil
	}
}

func (m *Manager) handleErrorFrame(ctx context.Context, errFrame errorFrame, refreshed *bool) error {
	switch errFrame.Reason {
	case reasonTokenExpired:
		if *refreshed {
			// Already retried once on this connection.
			return ErrTokenExpired
		}
		*refreshed = true

		m.log.Debug("registration rejected for expired token, refreshing session")
		if _, err := m.auth.Refresh(ctx); err != nil {
			return fmt.Errorf("session refresh failed: %w", err)
		}

		m.mu.Lock()
		for _, sub := range m.subs {
			if errFrame.Ref == "" || sub.id == errFrame.Ref {
				sub.registered = false
			}
		}
		m.mu.Unlock()

		m.registerAll(ctx)
		return nil

	default:
		if errFrame.Ref == "" {
			return fmt.Errorf("realtime: connection error: %s: %s", errFrame.Reason, errFrame.Message)
		}

		// A channel-scoped error permanently invalidates that
		// subscription; the rest of the connection is unaffected.
		sub := m.findSub(errFrame.Ref)
		if sub == nil {
			return nil
		}
		err := ErrAccessRevoked
		if errFrame.Reason != reasonAccessRevoked {
			err = fmt.Errorf("realtime: channel error: %s: %s", errFrame.Reason, errFrame.Message)
		}
		m.log.Warn("subscription invalidated", "channel", sub.id, "reason", errFrame.Reason)
		m.closeSubscription(sub, err)
		return nil
	}
}

func (m *Manager) activate(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		if sub.id == ref && sub.state == SubPending {
			sub.state = SubActive
			m.log.Debug("subscription active", "channel", sub.id, "table", sub.table)
			return
		}
	}
}

func (m *Manager) findSub(ref string) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.id == ref {
			return sub
		}
	}
	return nil
}

// dispatch fans one event out to every matching active subscription in
// insertion order. Pending subscriptions never receive events; filtering
// is always applied client-side as a safety net even when the server
// filtered already.
func (m *Manager) dispatch(ev ChangeEvent) {
	m.mu.Lock()
	matched := make([]Callback, 0, 2)
	for _, sub := range m.subs {
		if sub.state == SubActive && sub.matches(ev) {
			matched = append(matched, sub.cb)
		}
	}
	m.mu.Unlock()

	for _, cb := range matched {
		cb(ev)
	}
}
