package realtime

// Frame types of the message-level protocol spoken over the transport.
// Outbound: channel registration and teardown. Inbound: registration acks,
// channel errors, and change notifications.
const (
	frameRegister = "register"
	frameTeardown = "teardown"
	frameAck      = "ack"
	frameError    = "error"
	frameChange   = "change"
)

// Error frame reasons the manager reacts to.
const (
	reasonTokenExpired  = "token_expired"
	reasonAccessRevoked = "access_revoked"
)

type registerFrame struct {
	Type   string        `json:"type"`
	ID     string        `json:"id"`
	Ref    string        `json:"ref"`
	Table  string        `json:"table"`
	Events []EventType   `json:"events,omitempty"`
	Filter *ColumnFilter `json:"filter,omitempty"`
	Token  string        `json:"token,omitempty"`
}

type teardownFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Ref  string `json:"ref"`
}

type ackFrame struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Ref     string `json:"ref,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

type changeFrame struct {
	Type string `json:"type"`
	ChangeEvent
}
