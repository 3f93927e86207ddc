package services

import (
	"context"
	"log/slog"
	"time"

	"chat-server/models"
)

// Batcher buffers same-shape text sends for a short window and persists each
// batch with one bulk write, trading a few milliseconds of latency for much
// higher write throughput under load. Per-message independence is preserved:
// one message's persistence failure fails only that message.
type Batcher struct {
	delivery *Delivery

	window  time.Duration
	maxSize int
	input   chan *SendRequest
}

func NewBatcher(delivery *Delivery, window time.Duration, maxSize int) *Batcher {
	return &Batcher{
		delivery: delivery,
		window:   window,
		maxSize:  maxSize,
		input:    make(chan *SendRequest, maxSize*4),
	}
}

// Enqueue validates and optimistically acks the request, then hands it to
// the flush loop. The ack semantics are identical to the direct path.
func (b *Batcher) Enqueue(req *SendRequest) error {
	if err := ValidateSend(req); err != nil {
		return err
	}

	b.delivery.sendEvent(req.SenderID, req.SenderConnectionID, models.EventAck, models.AckPayload{
		ClientID: req.ClientID,
		Status:   "accepted",
	})

	select {
	case b.input <- req:
		return nil
	default:
		// Back-pressure: fall back to the direct path rather than block the
		// transport goroutine
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			b.flushOne(ctx, req)
		}()
		return nil
	}
}

// Start runs the flush loop until ctx is cancelled
func (b *Batcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.window)
		defer ticker.Stop()

		pending := make([]*SendRequest, 0, b.maxSize)
		for {
			select {
			case <-ctx.Done():
				if len(pending) > 0 {
					b.flush(pending)
				}
				return
			case req := <-b.input:
				pending = append(pending, req)
				if len(pending) >= b.maxSize {
					b.flush(pending)
					pending = make([]*SendRequest, 0, b.maxSize)
				}
			case <-ticker.C:
				if len(pending) > 0 {
					b.flush(pending)
					pending = make([]*SendRequest, 0, b.maxSize)
				}
			}
		}
	}()
}

func (b *Batcher) flush(reqs []*SendRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	messages := make([]*models.Message, len(reqs))
	for i, req := range reqs {
		messages[i] = b.delivery.buildMessage(req)
	}

	failed, err := b.delivery.messages.InsertBatch(ctx, messages)
	if err != nil {
		slog.Error("Batch persistence failed entirely", "error", err, "size", len(reqs))
		for _, req := range reqs {
			b.delivery.fail(req, "persistence failed")
		}
		return
	}

	for i, req := range reqs {
		if insertErr, bad := failed[i]; bad {
			if insertErr == ErrDuplicateMessage {
				b.confirmDuplicate(ctx, req)
			} else {
				b.delivery.fail(req, "persistence failed")
			}
			continue
		}

		if err := b.delivery.checkEligibility(ctx, req.SenderID, req.RecipientID); err != nil {
			if delErr := b.delivery.messages.Delete(ctx, messages[i].ID); delErr != nil {
				slog.Error("Failed to delete ineligible message", "error", delErr, "messageID", messages[i].ID.Hex())
			}
			b.delivery.fail(req, err.Error())
			continue
		}

		b.delivery.sendEvent(req.SenderID, req.SenderConnectionID, models.EventMessageSent, models.SentPayload{
			ClientID:  req.ClientID,
			MessageID: messages[i].ID.Hex(),
			Status:    string(models.MessageSent),
		})
		b.delivery.fanOut(ctx, messages[i])
	}

	slog.Info("Batch flushed", "size", len(reqs), "failed", len(failed))
}

func (b *Batcher) flushOne(ctx context.Context, req *SendRequest) {
	message := b.delivery.buildMessage(req)
	if err := b.delivery.messages.Insert(ctx, message); err != nil {
		if err == ErrDuplicateMessage {
			b.confirmDuplicate(ctx, req)
			return
		}
		b.delivery.fail(req, "persistence failed")
		return
	}
	if err := b.delivery.checkEligibility(ctx, req.SenderID, req.RecipientID); err != nil {
		if delErr := b.delivery.messages.Delete(ctx, message.ID); delErr != nil {
			slog.Error("Failed to delete ineligible message", "error", delErr, "messageID", message.ID.Hex())
		}
		b.delivery.fail(req, err.Error())
		return
	}
	b.delivery.sendEvent(req.SenderID, req.SenderConnectionID, models.EventMessageSent, models.SentPayload{
		ClientID:  req.ClientID,
		MessageID: message.ID.Hex(),
		Status:    string(models.MessageSent),
	})
	b.delivery.fanOut(ctx, message)
}

func (b *Batcher) confirmDuplicate(ctx context.Context, req *SendRequest) {
	existing, err := b.delivery.messages.FindByClientID(ctx, req.SenderID, req.ClientID)
	if err != nil {
		b.delivery.fail(req, "duplicate lookup failed")
		return
	}
	b.delivery.sendEvent(req.SenderID, req.SenderConnectionID, models.EventMessageSent, models.SentPayload{
		ClientID:  req.ClientID,
		MessageID: existing.ID.Hex(),
		Status:    string(existing.Status),
	})
}
