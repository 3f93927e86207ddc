package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"chat-server/models"
)

// SendRequest is one outbound message from a connected sender
type SendRequest struct {
	SenderID           string
	SenderConnectionID string
	RecipientID        string
	Type               models.MessageType
	Content            string
	Attachments        []models.Attachment
	ClientID           string
	ReplyToID          string
	ForwardedID        string
}

// OfflineNotifier is the push-notification boundary for recipients with zero
// live connections. Delivery hands the message over and does not wait.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, recipientID string, message *models.Message)
}

// LogOfflineNotifier is the default no-push implementation
type LogOfflineNotifier struct{}

func (LogOfflineNotifier) NotifyOffline(ctx context.Context, recipientID string, message *models.Message) {
	slog.Info("Recipient offline, routing to notification queue",
		"recipientID", recipientID,
		"messageID", message.ID.Hex())
}

// Delivery validates, persists, acknowledges and fans out messages. The
// sender gets an instant optimistic ack before persistence completes, then a
// durable confirmation carrying the persisted id; the ack always precedes
// the confirmation because both travel the same ordered connection channel.
type Delivery struct {
	messages MessageStore
	users    UserStore
	registry *ConnectionRegistry
	offline  OfflineNotifier

	receiptDelay time.Duration
}

func NewDelivery(messages MessageStore, users UserStore, registry *ConnectionRegistry, offline OfflineNotifier, receiptDelay time.Duration) *Delivery {
	return &Delivery{
		messages:     messages,
		users:        users,
		registry:     registry,
		offline:      offline,
		receiptDelay: receiptDelay,
	}
}

// ValidateSend rejects a malformed request before any side effect
func ValidateSend(req *SendRequest) error {
	if req.RecipientID == "" {
		return &ValidationError{Field: "recipient_id", Reason: "missing"}
	}
	if req.ClientID == "" {
		return &ValidationError{Field: "client_id", Reason: "missing"}
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		return &ValidationError{Field: "content", Reason: "empty and no attachments"}
	}
	return nil
}

// Send runs the full per-message pipeline. Validation failures return before
// anything happens; failures after the optimistic ack emit a distinct
// message-failed event and never retract the ack.
func (d *Delivery) Send(ctx context.Context, req *SendRequest) error {
	if err := ValidateSend(req); err != nil {
		return err
	}

	// Instant optimistic ack to the originating connection only
	d.sendEvent(req.SenderID, req.SenderConnectionID, models.EventAck, models.AckPayload{
		ClientID: req.ClientID,
		Status:   "accepted",
	})

	message := d.buildMessage(req)

	// Persistence and recipient eligibility resolve in parallel; both must
	// land before the durable confirmation goes out
	eligibilityCh := make(chan error, 1)
	go func() {
		eligibilityCh <- d.checkEligibility(ctx, req.SenderID, req.RecipientID)
	}()

	persistErr := d.messages.Insert(ctx, message)
	eligibilityErr := <-eligibilityCh

	if persistErr == ErrDuplicateMessage {
		// At-least-once with client dedup: the id was already accepted and
		// processed, re-confirm with the stored row and stop
		existing, err := d.messages.FindByClientID(ctx, req.SenderID, req.ClientID)
		if err != nil {
			d.fail(req, "duplicate lookup failed")
			return nil
		}
		d.sendEvent(req.SenderID, req.SenderConnectionID, models.EventMessageSent, models.SentPayload{
			ClientID:  req.ClientID,
			MessageID: existing.ID.Hex(),
			Status:    string(existing.Status),
		})
		return nil
	}
	if persistErr != nil {
		slog.Error("Message persistence failed", "error", persistErr, "clientID", req.ClientID)
		d.fail(req, "persistence failed")
		return nil
	}
	if eligibilityErr != nil {
		// The row already persisted; remove it so a client retry does not hit
		// the duplicate path and get a contradicting confirmation
		if err := d.messages.Delete(ctx, message.ID); err != nil {
			slog.Error("Failed to delete ineligible message", "error", err, "messageID", message.ID.Hex())
		}
		d.fail(req, eligibilityErr.Error())
		return nil
	}

	// Durable confirmation with the real persisted id
	d.sendEvent(req.SenderID, req.SenderConnectionID, models.EventMessageSent, models.SentPayload{
		ClientID:  req.ClientID,
		MessageID: message.ID.Hex(),
		Status:    string(models.MessageSent),
	})

	d.fanOut(ctx, message)
	return nil
}

// fanOut delivers the message to every live recipient connection and, when
// at least one took it, schedules the delivery receipt after a short delay
// that absorbs ordering races with the durable confirmation on the client.
func (d *Delivery) fanOut(ctx context.Context, message *models.Message) {
	payload, err := marshalEvent(models.EventMessageNew, models.NewMessagePayload{Message: message})
	if err != nil {
		slog.Error("Failed to marshal fan-out payload", "error", err)
		return
	}

	sent := d.registry.SendToUser(message.RecipientID, payload)
	if sent == 0 {
		d.offline.NotifyOffline(ctx, message.RecipientID, message)
		return
	}

	slog.Info("Message fanned out",
		"messageID", message.ID.Hex(),
		"recipientID", message.RecipientID,
		"connections", sent)

	messageID := message.ID
	senderID := message.SenderID
	recipientID := message.RecipientID
	time.AfterFunc(d.receiptDelay, func() {
		receiptCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		advanced, err := d.messages.UpdateStatus(receiptCtx, messageID, models.MessageDelivered)
		if err != nil {
			slog.Error("Failed to mark message delivered", "error", err, "messageID", messageID.Hex())
			return
		}
		if !advanced {
			// Already read; the read receipt superseded the delivery one
			return
		}
		d.notifySender(senderID, models.EventMessageDeliver, models.DeliveredPayload{
			MessageID:   messageID.Hex(),
			RecipientID: recipientID,
		})
	})
}

// MarkRead marks one message read by its recipient and notifies the sender's
// live connections
func (d *Delivery) MarkRead(ctx context.Context, readerID string, messageID primitive.ObjectID) error {
	message, err := d.messages.MarkRead(ctx, messageID, readerID)
	if err != nil {
		return err
	}
	d.notifySender(message.SenderID, models.EventMessageRead, models.ReadPayload{
		MessageID: messageID.Hex(),
		ReaderID:  readerID,
	})
	return nil
}

// MarkConversationRead marks everything the reader received in the
// conversation as read and notifies the other participant
func (d *Delivery) MarkConversationRead(ctx context.Context, readerID, otherID string) (int64, error) {
	conversationID := models.ConversationID(readerID, otherID)
	count, err := d.messages.MarkConversationRead(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		d.notifySender(otherID, models.EventMessageRead, models.ReadPayload{
			ConversationID: conversationID,
			ReaderID:       readerID,
		})
	}
	return count, nil
}

func (d *Delivery) buildMessage(req *SendRequest) *models.Message {
	msgType := req.Type
	if msgType == "" {
		msgType = models.MessageText
	}
	return &models.Message{
		ID:             primitive.NewObjectID(),
		SenderID:       req.SenderID,
		RecipientID:    req.RecipientID,
		ConversationID: models.ConversationID(req.SenderID, req.RecipientID),
		Type:           msgType,
		Content:        req.Content,
		Attachments:    req.Attachments,
		ClientID:       req.ClientID,
		ReplyToID:      req.ReplyToID,
		ForwardedID:    req.ForwardedID,
		Status:         models.MessageSent,
		Timestamp:      time.Now(),
	}
}

func (d *Delivery) checkEligibility(ctx context.Context, senderID, recipientID string) error {
	recipient, err := d.users.GetByID(ctx, recipientID)
	if err != nil {
		if err == ErrRecipientNotFound {
			return ErrRecipientNotFound
		}
		return err
	}
	if !recipient.IsActive {
		return ErrRecipientInactive
	}
	blocking, err := d.users.IsBlocking(ctx, recipientID, senderID)
	if err != nil {
		return err
	}
	if blocking {
		return ErrRecipientBlocked
	}
	return nil
}

func (d *Delivery) fail(req *SendRequest, reason string) {
	d.sendEvent(req.SenderID, req.SenderConnectionID, models.EventMessageFailed, models.FailedPayload{
		ClientID: req.ClientID,
		Reason:   reason,
	})
}

func (d *Delivery) notifySender(senderID string, eventType string, data interface{}) {
	payload, err := marshalEvent(eventType, data)
	if err != nil {
		slog.Error("Failed to marshal sender event", "error", err, "type", eventType)
		return
	}
	d.registry.SendToUser(senderID, payload)
}

// sendEvent targets the originating connection; sends with no originating
// connection (the HTTP batch path) go to all of the sender's live ones
func (d *Delivery) sendEvent(userID, connectionID, eventType string, data interface{}) {
	payload, err := marshalEvent(eventType, data)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err, "type", eventType)
		return
	}
	if connectionID == "" {
		d.registry.SendToUser(userID, payload)
		return
	}
	if err := d.registry.SendToConnection(userID, connectionID, payload); err != nil {
		slog.Warn("Failed to deliver event to connection",
			"error", err,
			"userID", userID,
			"connectionID", connectionID,
			"type", eventType)
	}
}

func marshalEvent(eventType string, data interface{}) ([]byte, error) {
	return json.Marshal(models.Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}
