package handlers

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"chat-server/models"
	"chat-server/services"
)

// MessageHandler serves the HTTP read side of conversations plus message
// deletion; the live write path goes over the websocket.
type MessageHandler struct {
	messages services.MessageStore
}

func NewMessageHandler(messages services.MessageStore) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// GetConversation returns messages between the caller and a peer, newest
// first, with optional before-timestamp paging
func (h *MessageHandler) GetConversation(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	peerID := c.Params("peerID")

	limit := int64(50)
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			before = time.Unix(ts, 0)
		}
	}

	conversationID := models.ConversationID(userID, peerID)
	messages, err := h.messages.ListConversation(c.Context(), conversationID, userID, limit, before)
	if err != nil {
		slog.Error("Failed to list conversation", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load conversation",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"messages": messages,
	})
}

type DeleteMessageRequest struct {
	ForEveryone bool `json:"for_everyone"`
}

// DeleteMessage soft-deletes a message either for everyone (sender only) or
// just for the caller
func (h *MessageHandler) DeleteMessage(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	id, err := primitive.ObjectIDFromHex(c.Params("messageID"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid message id",
		})
	}

	var req DeleteMessageRequest
	_ = c.BodyParser(&req)

	message, err := h.messages.FindByID(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Message not found",
		})
	}
	if message.SenderID != userID && message.RecipientID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Message not found",
		})
	}

	if req.ForEveryone {
		if message.SenderID != userID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Only the sender can delete for everyone",
			})
		}
		if err := h.messages.DeleteForAll(c.Context(), id, userID); err != nil {
			slog.Error("Failed to delete message", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to delete message",
			})
		}
	} else {
		if err := h.messages.DeleteForUser(c.Context(), id, userID); err != nil {
			slog.Error("Failed to delete message", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to delete message",
			})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Deleted",
	})
}
