package models

// Event types pushed to clients over the websocket. Each event kind has its
// own payload struct rather than an ad hoc map so the shape is enforced at
// compile time.
const (
	EventConnected      = "connected"
	EventAck            = "ack"
	EventMessageSent    = "message-sent"
	EventMessageFailed  = "message-failed"
	EventMessageNew     = "message-received"
	EventMessageDeliver = "message-delivered"
	EventMessageRead    = "message-read"
	EventStatusChanged  = "status-changed"
	EventError          = "error"
	EventPong           = "pong"
)

// Envelope wraps every outbound websocket event
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// AckPayload is the instant acknowledgment sent to the sender before
// persistence completes ("accepted", optimistic)
type AckPayload struct {
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
}

// SentPayload is the durable confirmation carrying the persisted id the
// client reconciles its optimistic entry against
type SentPayload struct {
	ClientID  string `json:"client_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// FailedPayload supersedes (never retracts) the optimistic ack when the
// write path fails after acceptance
type FailedPayload struct {
	ClientID string `json:"client_id"`
	Reason   string `json:"reason"`
}

// NewMessagePayload is the full message fanned out to each live recipient
// connection
type NewMessagePayload struct {
	Message *Message `json:"message"`
}

// DeliveredPayload notifies the sender of a delivery receipt
type DeliveredPayload struct {
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id"`
}

// ReadPayload notifies the sender of a read receipt, either for one message
// or a whole conversation
type ReadPayload struct {
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ReaderID       string `json:"reader_id"`
}

// StatusChangedPayload broadcasts a contact's presence transition
type StatusChangedPayload struct {
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

// ErrorPayload reports a request-level failure to the client
type ErrorPayload struct {
	Error string `json:"error"`
}
