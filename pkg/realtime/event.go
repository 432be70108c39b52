package realtime

import "time"

// EventType identifies the kind of change carried by a notification.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"

	// EventAll subscribes to every change on the table.
	EventAll EventType = "*"
)

// ChangeEvent is one change notification routed to matching subscriptions.
// It is transient: delivery is at-most-once with no history, so events lost
// during a connection gap are gone. Callers needing recovery re-query after
// reconnect.
type ChangeEvent struct {
	Table     string         `json:"table"`
	Type      EventType      `json:"event"`
	Old       map[string]any `json:"old,omitempty"`
	New       map[string]any `json:"new,omitempty"`
	Timestamp time.Time      `json:"ts"`
}

// ColumnFilter narrows a subscription to rows where a column equals a
// value. The filter is pushed to the server in the registration message and
// also applied client-side on dispatch as a safety net, regardless of what
// the transport delivers.
type ColumnFilter struct {
	Column string `json:"column"`
	Value  any    `json:"value"`
}

// Callback receives matching change events. Callbacks run sequentially on
// the manager's event goroutine and must not block.
type Callback func(ChangeEvent)
