package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chat-server/models"
)

// MessageStore persists chat messages. Duplicate client ids are rejected at
// the index level so an acknowledged message is never stored twice.
type MessageStore interface {
	Insert(ctx context.Context, message *models.Message) error
	InsertBatch(ctx context.Context, messages []*models.Message) (map[int]error, error)
	FindByClientID(ctx context.Context, senderID, clientID string) (*models.Message, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Message, error)
	UpdateStatus(ctx context.Context, id primitive.ObjectID, status models.MessageStatus) (bool, error)
	MarkRead(ctx context.Context, id primitive.ObjectID, readerID string) (*models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error)
	ListConversation(ctx context.Context, conversationID, viewerID string, limit int64, before time.Time) ([]*models.Message, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	DeleteForUser(ctx context.Context, id primitive.ObjectID, userID string) error
	DeleteForAll(ctx context.Context, id primitive.ObjectID, senderID string) error
}

type MongoMessageStore struct {
	collection *mongo.Collection
}

func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	return &MongoMessageStore{collection: db.Collection("messages")}
}

func (s *MongoMessageStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sender_id", Value: 1}, {Key: "client_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "status", Value: 1}},
		},
	}

	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}

func (s *MongoMessageStore) Insert(ctx context.Context, message *models.Message) error {
	if message.ID.IsZero() {
		message.ID = primitive.NewObjectID()
	}
	if _, err := s.collection.InsertOne(ctx, message); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// InsertBatch writes many messages with a single unordered InsertMany. One
// message's failure must not fail its batch-mates, so write errors are
// returned per input index instead of failing the call.
func (s *MongoMessageStore) InsertBatch(ctx context.Context, messages []*models.Message) (map[int]error, error) {
	docs := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		if m.ID.IsZero() {
			m.ID = primitive.NewObjectID()
		}
		docs = append(docs, m)
	}

	failed := make(map[int]error)
	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		bulkErr, ok := err.(mongo.BulkWriteException)
		if !ok {
			return nil, fmt.Errorf("failed to insert message batch: %w", err)
		}
		for _, we := range bulkErr.WriteErrors {
			if mongo.IsDuplicateKeyError(we.WriteError) {
				failed[we.Index] = ErrDuplicateMessage
			} else {
				failed[we.Index] = fmt.Errorf("failed to insert message: %s", we.Message)
			}
		}
	}
	return failed, nil
}

func (s *MongoMessageStore) FindByClientID(ctx context.Context, senderID, clientID string) (*models.Message, error) {
	return s.findOne(ctx, bson.M{"sender_id": senderID, "client_id": clientID})
}

func (s *MongoMessageStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Message, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoMessageStore) findOne(ctx context.Context, filter bson.M) (*models.Message, error) {
	var message models.Message
	err := s.collection.FindOne(ctx, filter).Decode(&message)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &message, nil
}

// UpdateStatus advances delivery status. The filter only matches rows in a
// strictly lower status, which makes the transition monotonic: a late
// "delivered" can never override "read". Returns whether a row advanced.
func (s *MongoMessageStore) UpdateStatus(ctx context.Context, id primitive.ObjectID, status models.MessageStatus) (bool, error) {
	set := bson.M{"status": status}
	now := time.Now()
	switch status {
	case models.MessageDelivered:
		set["delivered_at"] = now
	case models.MessageRead:
		set["read_at"] = now
	}

	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": lowerStatuses(status)}},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("failed to update message status: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

func lowerStatuses(status models.MessageStatus) []models.MessageStatus {
	rank := models.StatusRank(status)
	var lower []models.MessageStatus
	for _, s := range []models.MessageStatus{models.MessageSent, models.MessageDelivered} {
		if models.StatusRank(s) < rank {
			lower = append(lower, s)
		}
	}
	return lower
}

// MarkRead marks one message read by its recipient and returns the updated
// message so the sender can be notified
func (s *MongoMessageStore) MarkRead(ctx context.Context, id primitive.ObjectID, readerID string) (*models.Message, error) {
	message, err := s.findOne(ctx, bson.M{"_id": id, "recipient_id": readerID})
	if err != nil {
		return nil, err
	}
	if _, err := s.UpdateStatus(ctx, id, models.MessageRead); err != nil {
		return nil, err
	}
	message.Status = models.MessageRead
	return message, nil
}

func (s *MongoMessageStore) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	now := time.Now()
	result, err := s.collection.UpdateMany(ctx,
		bson.M{
			"conversation_id": conversationID,
			"recipient_id":    readerID,
			"status":          bson.M{"$in": []models.MessageStatus{models.MessageSent, models.MessageDelivered}},
		},
		bson.M{"$set": bson.M{"status": models.MessageRead, "read_at": now}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return result.ModifiedCount, nil
}

func (s *MongoMessageStore) ListConversation(ctx context.Context, conversationID, viewerID string, limit int64, before time.Time) ([]*models.Message, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"deleted_for_all": false,
		"deleted_for":     bson.M{"$ne": viewerID},
	}
	if !before.IsZero() {
		filter["timestamp"] = bson.M{"$lt": before}
	}

	cursor, err := s.collection.Find(ctx, filter,
		options.Find().SetSort(bson.M{"timestamp": -1}).SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*models.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

// Delete hard-deletes a message row. Used to unwind a persisted message whose
// recipient turned out ineligible, so a client retry is not misreported as a
// duplicate.
func (s *MongoMessageStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *MongoMessageStore) DeleteForUser(ctx context.Context, id primitive.ObjectID, userID string) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"deleted_for": userID}},
	)
	if err != nil {
		return fmt.Errorf("failed to delete message for user: %w", err)
	}
	return nil
}

// DeleteForAll hides the message from both participants; only the sender may
// do it
func (s *MongoMessageStore) DeleteForAll(ctx context.Context, id primitive.ObjectID, senderID string) error {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "sender_id": senderID},
		bson.M{"$set": bson.M{"deleted_for_all": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
