package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"chat-server/models"
)

// Presence carries out the side effects of online/offline transitions: it
// persists the durable status/last-seen on the user record and broadcasts a
// status-changed event to the user's live contacts. The transitions
// themselves (debounce, grace timer, single-fire) are decided by the
// ConnectionRegistry, which signals this type through PresenceSink.
type Presence struct {
	registry *ConnectionRegistry
	users    UserStore
}

func NewPresence(registry *ConnectionRegistry, users UserStore) *Presence {
	p := &Presence{registry: registry, users: users}
	registry.SetPresenceSink(p)
	return p
}

// HandleOnline implements PresenceSink
func (p *Presence) HandleOnline(userID string) {
	p.transition(userID, models.PresenceOnline)
}

// HandleOffline implements PresenceSink
func (p *Presence) HandleOffline(userID string) {
	p.transition(userID, models.PresenceOffline)
}

// ForceOffline implements PresenceController for the session lifecycle:
// explicit logout drops every connection, skips the grace timer and goes
// straight to offline.
func (p *Presence) ForceOffline(ctx context.Context, userID string) {
	p.registry.DropUser(userID)
	p.transition(userID, models.PresenceOffline)
}

func (p *Presence) transition(userID string, status models.PresenceStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	if err := p.users.SetPresence(ctx, userID, status, now); err != nil {
		slog.Error("Failed to persist presence", "error", err, "userID", userID, "status", status)
	}

	contacts, err := p.users.ContactIDs(ctx, userID)
	if err != nil {
		slog.Error("Failed to load contacts for presence broadcast", "error", err, "userID", userID)
		return
	}

	payload, err := json.Marshal(models.Envelope{
		Type: models.EventStatusChanged,
		Data: models.StatusChangedPayload{
			UserID:   userID,
			Status:   string(status),
			LastSeen: now.Unix(),
		},
		Timestamp: now.Unix(),
	})
	if err != nil {
		slog.Error("Failed to marshal presence event", "error", err)
		return
	}

	for _, contactID := range contacts {
		p.registry.SendToUser(contactID, payload)
	}

	slog.Info("Presence transition", "userID", userID, "status", status)
}
