package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MessageStatus tracks delivery progress. Transitions are monotonic:
// sent -> delivered -> read, never backward.
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// StatusRank orders delivery statuses for the monotonic update guard
func StatusRank(s MessageStatus) int {
	switch s {
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	}
	return 0
}

// MessageType distinguishes payload kinds
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Attachment references an uploaded file. Upload itself is handled elsewhere;
// messages only carry the reference.
type Attachment struct {
	URL      string `bson:"url" json:"url"`
	Name     string `bson:"name,omitempty" json:"name,omitempty"`
	MimeType string `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	Size     int64  `bson:"size,omitempty" json:"size,omitempty"`
}

// Message represents a chat message between two users
type Message struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SenderID    string             `bson:"sender_id" json:"sender_id"`
	RecipientID string             `bson:"recipient_id" json:"recipient_id"`

	// ConversationID is the pair key, stable regardless of direction
	ConversationID string `bson:"conversation_id" json:"conversation_id"`

	Type        MessageType  `bson:"type" json:"type"`
	Content     string       `bson:"content" json:"content"`
	Attachments []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`

	// ClientID is the client-generated idempotency id; a message carrying one
	// is never durably stored twice for the same (sender, client id).
	ClientID string `bson:"client_id" json:"client_id"`

	ReplyToID   string `bson:"reply_to_id,omitempty" json:"reply_to_id,omitempty"`
	ForwardedID string `bson:"forwarded_id,omitempty" json:"forwarded_id,omitempty"`

	Status      MessageStatus `bson:"status" json:"status"`
	DeliveredAt *time.Time    `bson:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	ReadAt      *time.Time    `bson:"read_at,omitempty" json:"read_at,omitempty"`

	// Soft deletion: DeletedForAll hides the message from both participants,
	// DeletedFor lists user ids that removed it only for themselves.
	DeletedForAll bool     `bson:"deleted_for_all" json:"deleted_for_all"`
	DeletedFor    []string `bson:"deleted_for,omitempty" json:"deleted_for,omitempty"`

	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// ConversationID builds the direction-independent pair key for two users
func ConversationID(a, b string) string {
	if a < b {
		return a + ":" + b
	}
	return b + ":" + a
}
