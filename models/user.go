package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PresenceStatus is the durable online/offline state of a user
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// User represents a chat user. Profile and contact-graph CRUD live elsewhere;
// this core reads users for login, presence persistence, contact broadcast
// and block checks.
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID   string             `bson:"user_id" json:"user_id"`
	Username string             `bson:"username" json:"username"`
	Email    string             `bson:"email" json:"email"`

	PasswordHash string `bson:"password_hash" json:"-"`

	IsActive bool `bson:"is_active" json:"is_active"`

	Status   PresenceStatus `bson:"status" json:"status"`
	LastSeen time.Time      `bson:"last_seen" json:"last_seen"`

	ContactIDs []string `bson:"contact_ids,omitempty" json:"contact_ids,omitempty"`
	BlockedIDs []string `bson:"blocked_ids,omitempty" json:"blocked_ids,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
