package handlers

import (
	"github.com/gofiber/fiber/v2"

	"chat-server/models"
	"chat-server/services"
)

// BatchHandler accepts many same-shape text messages in one request and
// feeds them to the bulk-persistence path. Acks and confirmations arrive on
// the sender's live websocket connections.
type BatchHandler struct {
	batcher *services.Batcher
}

func NewBatchHandler(batcher *services.Batcher) *BatchHandler {
	return &BatchHandler{batcher: batcher}
}

type BatchItem struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	ClientID    string `json:"client_id"`
}

type BatchRequest struct {
	Messages []BatchItem `json:"messages"`
}

func (h *BatchHandler) SendBatch(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req BatchRequest
	if err := c.BodyParser(&req); err != nil || len(req.Messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "messages array is required",
		})
	}

	rejected := make([]string, 0)
	accepted := 0
	for _, item := range req.Messages {
		err := h.batcher.Enqueue(&services.SendRequest{
			SenderID:    userID,
			RecipientID: item.RecipientID,
			Type:        models.MessageText,
			Content:     item.Content,
			ClientID:    item.ClientID,
		})
		if err != nil {
			rejected = append(rejected, item.ClientID)
			continue
		}
		accepted++
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": accepted,
		"rejected": rejected,
	})
}
