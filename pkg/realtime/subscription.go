package realtime

import (
	"context"
)

// SubscriptionState tracks a subscription through its lifecycle: pending
// until the server acknowledges the channel registration, active while
// events are dispatched, closed after unsubscribe or teardown.
type SubscriptionState int

const (
	SubPending SubscriptionState = iota
	SubActive
	SubClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case SubPending:
		return "pending"
	case SubActive:
		return "active"
	case SubClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Subscription is one logical channel multiplexed over the shared
// connection. It is created by Manager.Subscribe and acts as the handle
// for Unsubscribe.
type Subscription struct {
	id       string
	table    string
	events   []EventType
	filter   *ColumnFilter
	cb       Callback
	onClosed func(error)

	m *Manager

	// state and registered are guarded by m.mu.
	state      SubscriptionState
	registered bool
}

// SubscribeOption customizes a subscription at creation time.
type SubscribeOption func(*Subscription)

// WithOnClosed registers a callback invoked exactly once when the
// subscription is terminally closed by the manager (access revoked,
// manager teardown). It is not invoked on a caller-initiated Unsubscribe.
func WithOnClosed(fn func(error)) SubscribeOption {
	return func(s *Subscription) {
		s.onClosed = fn
	}
}

// ID returns the channel identifier, unique per manager instance.
func (s *Subscription) ID() string {
	return s.id
}

func (s *Subscription) Table() string {
	return s.table
}

func (s *Subscription) State() SubscriptionState {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.state
}

// Unsubscribe tears the channel down. See Manager.Unsubscribe.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	return s.m.Unsubscribe(ctx, s)
}

// matches reports whether the event should be dispatched to this
// subscription. Caller holds m.mu.
func (s *Subscription) matches(ev ChangeEvent) bool {
	if s.table != ev.Table {
		return false
	}

	if !s.matchesEvent(ev.Type) {
		return false
	}

	if s.filter != nil {
		record := ev.New
		if record == nil {
			record = ev.Old
		}
		if record == nil {
			return false
		}
		if !valueEqual(record[s.filter.Column], s.filter.Value) {
			return false
		}
	}

	return true
}

func (s *Subscription) matchesEvent(t EventType) bool {
	if len(s.events) == 0 {
		return true
	}
	for _, e := range s.events {
		if e == EventAll || e == t {
			return true
		}
	}
	return false
}

// valueEqual compares a decoded JSON value against a caller-supplied one.
// JSON numbers decode as float64, so numeric values are compared as floats
// to keep `Eq("id", 1)` matching `{"id": 1}`.
func valueEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
