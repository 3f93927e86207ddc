package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"chat-server/models"
	"chat-server/services"
)

// WSRequest is an incoming websocket frame from a client
type WSRequest struct {
	Type string `json:"type"`

	// send-message
	RecipientID string              `json:"recipient_id,omitempty"`
	Content     string              `json:"content,omitempty"`
	ContentType string              `json:"content_type,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	ClientID    string              `json:"client_id,omitempty"`
	ReplyToID   string              `json:"reply_to_id,omitempty"`

	// mark-as-read: one message or a whole conversation
	MessageID        string `json:"message_id,omitempty"`
	ConversationWith string `json:"conversation_with,omitempty"`
}

type WebSocketHandler struct {
	registry *services.ConnectionRegistry
	delivery *services.Delivery
}

func NewWebSocketHandler(registry *services.ConnectionRegistry, delivery *services.Delivery) *WebSocketHandler {
	return &WebSocketHandler{registry: registry, delivery: delivery}
}

// Upgrade gates the HTTP-to-websocket upgrade
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handle runs one websocket connection: registers it with the registry
// (which drives presence), then pumps frames both ways until disconnect.
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		slog.Error("WebSocket connection without user id")
		c.Close()
		return
	}

	sessionID := ""
	if session, ok := c.Locals("session").(*models.Session); ok {
		sessionID = session.ID.Hex()
	}

	conn := &services.Connection{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		Send:      make(chan []byte, 256),
	}

	h.registry.Register(conn)
	defer h.registry.Unregister(userID, conn.ID)

	slog.Info("WebSocket connection established",
		"userID", userID,
		"connectionID", conn.ID)

	if welcome, err := json.Marshal(models.Envelope{
		Type:      models.EventConnected,
		Data:      fiber.Map{"connection_id": conn.ID},
		Timestamp: time.Now().Unix(),
	}); err == nil {
		c.WriteMessage(websocket.TextMessage, welcome)
	}

	go h.writePump(c, conn)
	h.readPump(c, conn)
}

func (h *WebSocketHandler) writePump(c *websocket.Conn, conn *services.Connection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case payload, ok := <-conn.Send:
			c.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Registry closed the channel
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Error("Failed to write WebSocket message", "error", err)
				return
			}

		case <-ticker.C:
			c.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) readPump(c *websocket.Conn, conn *services.Connection) {
	defer c.Close()

	c.SetReadLimit(512 * 1024)
	c.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, frame, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
		c.SetReadDeadline(time.Now().Add(60 * time.Second))

		var req WSRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			slog.Error("Failed to parse WebSocket frame", "error", err)
			continue
		}

		switch req.Type {
		case "ping":
			h.reply(conn, models.EventPong, nil)

		case "send-message":
			h.handleSend(conn, &req)

		case "mark-as-read":
			h.handleMarkRead(conn, &req)

		default:
			slog.Warn("Unknown WebSocket frame type",
				"type", req.Type,
				"userID", conn.UserID)
		}
	}
}

func (h *WebSocketHandler) handleSend(conn *services.Connection, req *WSRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := h.delivery.Send(ctx, &services.SendRequest{
		SenderID:           conn.UserID,
		SenderConnectionID: conn.ID,
		RecipientID:        req.RecipientID,
		Type:               models.MessageType(req.ContentType),
		Content:            req.Content,
		Attachments:        req.Attachments,
		ClientID:           req.ClientID,
		ReplyToID:          req.ReplyToID,
	})
	if err != nil {
		h.reply(conn, models.EventError, models.ErrorPayload{Error: err.Error()})
	}
}

func (h *WebSocketHandler) handleMarkRead(conn *services.Connection, req *WSRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case req.MessageID != "":
		id, err := primitive.ObjectIDFromHex(req.MessageID)
		if err != nil {
			h.reply(conn, models.EventError, models.ErrorPayload{Error: "invalid message_id"})
			return
		}
		if err := h.delivery.MarkRead(ctx, conn.UserID, id); err != nil {
			slog.Error("Failed to mark message read", "error", err, "messageID", req.MessageID)
			h.reply(conn, models.EventError, models.ErrorPayload{Error: "failed to mark read"})
		}

	case req.ConversationWith != "":
		if _, err := h.delivery.MarkConversationRead(ctx, conn.UserID, req.ConversationWith); err != nil {
			slog.Error("Failed to mark conversation read", "error", err)
			h.reply(conn, models.EventError, models.ErrorPayload{Error: "failed to mark read"})
		}

	default:
		h.reply(conn, models.EventError, models.ErrorPayload{Error: "message_id or conversation_with required"})
	}
}

// reply routes through the registry so the send is synchronized with any
// concurrent close of the connection
func (h *WebSocketHandler) reply(conn *services.Connection, eventType string, data interface{}) {
	payload, err := json.Marshal(models.Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return
	}
	_ = h.registry.SendToConnection(conn.UserID, conn.ID, payload)
}
