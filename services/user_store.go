package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"chat-server/models"
)

// UserStore is the slice of the user record this core reads and writes:
// login lookup, presence persistence, contact ids for broadcast and block
// checks. Profile CRUD is an external collaborator.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, userID string) (*models.User, error)
	SetPresence(ctx context.Context, userID string, status models.PresenceStatus, lastSeen time.Time) error
	ContactIDs(ctx context.Context, userID string) ([]string, error)
	IsBlocking(ctx context.Context, ownerID, otherID string) (bool, error)
}

type MongoUserStore struct {
	collection *mongo.Collection
}

func NewMongoUserStore(db *mongo.Database) *MongoUserStore {
	return &MongoUserStore{collection: db.Collection("users")}
}

func (s *MongoUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *MongoUserStore) GetByID(ctx context.Context, userID string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"user_id": userID})
}

func (s *MongoUserStore) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	err := s.collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *MongoUserStore) SetPresence(ctx context.Context, userID string, status models.PresenceStatus, lastSeen time.Time) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{
			"status":    status,
			"last_seen": lastSeen,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

func (s *MongoUserStore) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.ContactIDs, nil
}

func (s *MongoUserStore) IsBlocking(ctx context.Context, ownerID, otherID string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{
		"user_id":     ownerID,
		"blocked_ids": otherID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check block list: %w", err)
	}
	return count > 0, nil
}
