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

// SessionStore is the persisted record of sessions. The storage engine is an
// external collaborator; the lifecycle manager only depends on this surface.
type SessionStore interface {
	Insert(ctx context.Context, session *models.Session) error
	FindBySecretHash(ctx context.Context, hash string) (*models.Session, error)
	FindByRefreshCiphertext(ctx context.Context, ciphertext string) (*models.Session, error)
	FindActiveByDevice(ctx context.Context, userID, fingerprint, browserName, osName string) (*models.Session, error)
	HasFingerprint(ctx context.Context, userID, fingerprint string) (bool, error)
	RotateSecrets(ctx context.Context, id primitive.ObjectID, secretHash, refreshCiphertext string, expiresAt, refreshExpiresAt time.Time) error
	RotateSessionSecret(ctx context.Context, id primitive.ObjectID, secretHash string, expiresAt time.Time) error
	TouchActivity(ctx context.Context, id primitive.ObjectID) error
	MarkStatus(ctx context.Context, id primitive.ObjectID, status models.SessionStatus) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	RevokeAllForUser(ctx context.Context, userID string, exceptID primitive.ObjectID) (int64, error)
	ListActiveForUser(ctx context.Context, userID string) ([]*models.Session, error)
	ListRecentForUser(ctx context.Context, userID string, limit int64) ([]*models.Session, error)
	Sweep(ctx context.Context, retention time.Duration) (int64, error)
}

// MongoSessionStore backs SessionStore with the sessions collection
type MongoSessionStore struct {
	collection *mongo.Collection
}

func NewMongoSessionStore(db *mongo.Database) *MongoSessionStore {
	return &MongoSessionStore{collection: db.Collection("sessions")}
}

// EnsureIndexes creates the indexes the lookup paths depend on: unique on the
// hashed session secret and on the encrypted refresh secret, plus the
// per-user active scan and the expiry sweep.
func (s *MongoSessionStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.M{"secret_hash": 1},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.M{"refresh_ciphertext": 1},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "device.fingerprint", Value: 1}},
		},
		{
			Keys: bson.M{"refresh_expires_at": 1},
		},
	}

	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}
	return nil
}

func (s *MongoSessionStore) Insert(ctx context.Context, session *models.Session) error {
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	if _, err := s.collection.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *MongoSessionStore) FindBySecretHash(ctx context.Context, hash string) (*models.Session, error) {
	return s.findOne(ctx, bson.M{"secret_hash": hash})
}

func (s *MongoSessionStore) FindByRefreshCiphertext(ctx context.Context, ciphertext string) (*models.Session, error) {
	return s.findOne(ctx, bson.M{"refresh_ciphertext": ciphertext})
}

func (s *MongoSessionStore) FindActiveByDevice(ctx context.Context, userID, fingerprint, browserName, osName string) (*models.Session, error) {
	return s.findOne(ctx, bson.M{
		"user_id":             userID,
		"device.fingerprint":  fingerprint,
		"device.browser_name": browserName,
		"device.os_name":      osName,
		"status":              models.SessionActive,
	})
}

func (s *MongoSessionStore) findOne(ctx context.Context, filter bson.M) (*models.Session, error) {
	var session models.Session
	err := s.collection.FindOne(ctx, filter).Decode(&session)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// HasFingerprint reports whether any historical session for the user shares
// the fingerprint, regardless of status
func (s *MongoSessionStore) HasFingerprint(ctx context.Context, userID, fingerprint string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{
		"user_id":            userID,
		"device.fingerprint": fingerprint,
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check fingerprint history: %w", err)
	}
	return count > 0, nil
}

func (s *MongoSessionStore) RotateSecrets(ctx context.Context, id primitive.ObjectID, secretHash, refreshCiphertext string, expiresAt, refreshExpiresAt time.Time) error {
	now := time.Now()
	return s.updateOne(ctx, id, bson.M{
		"$set": bson.M{
			"secret_hash":        secretHash,
			"refresh_ciphertext": refreshCiphertext,
			"expires_at":         expiresAt,
			"refresh_expires_at": refreshExpiresAt,
			"last_activity":      now,
		},
		"$inc": bson.M{"activity_count": 1},
	})
}

func (s *MongoSessionStore) RotateSessionSecret(ctx context.Context, id primitive.ObjectID, secretHash string, expiresAt time.Time) error {
	return s.updateOne(ctx, id, bson.M{
		"$set": bson.M{
			"secret_hash":   secretHash,
			"expires_at":    expiresAt,
			"last_activity": time.Now(),
		},
		"$inc": bson.M{"activity_count": 1},
	})
}

func (s *MongoSessionStore) TouchActivity(ctx context.Context, id primitive.ObjectID) error {
	return s.updateOne(ctx, id, bson.M{
		"$set": bson.M{"last_activity": time.Now()},
		"$inc": bson.M{"activity_count": 1},
	})
}

func (s *MongoSessionStore) MarkStatus(ctx context.Context, id primitive.ObjectID, status models.SessionStatus) error {
	return s.updateOne(ctx, id, bson.M{
		"$set": bson.M{"status": status},
	})
}

func (s *MongoSessionStore) updateOne(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Delete hard-deletes the session row. Termination is a delete, not a soft
// flag.
func (s *MongoSessionStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *MongoSessionStore) RevokeAllForUser(ctx context.Context, userID string, exceptID primitive.ObjectID) (int64, error) {
	filter := bson.M{
		"user_id": userID,
		"status":  models.SessionActive,
	}
	if !exceptID.IsZero() {
		filter["_id"] = bson.M{"$ne": exceptID}
	}

	result, err := s.collection.UpdateMany(ctx, filter, bson.M{
		"$set": bson.M{"status": models.SessionRevoked},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	return result.ModifiedCount, nil
}

func (s *MongoSessionStore) ListActiveForUser(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.list(ctx, bson.M{
		"user_id":    userID,
		"status":     models.SessionActive,
		"expires_at": bson.M{"$gt": time.Now()},
	}, options.Find().SetSort(bson.M{"last_activity": -1}))
}

func (s *MongoSessionStore) ListRecentForUser(ctx context.Context, userID string, limit int64) ([]*models.Session, error) {
	return s.list(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(limit))
}

func (s *MongoSessionStore) list(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Session, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []*models.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}

// Sweep first marks refresh-expired active rows, then deletes terminal rows
// older than the retention window. The transitional marking keeps a short
// audit trail before the hard delete.
func (s *MongoSessionStore) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	now := time.Now()

	_, err := s.collection.UpdateMany(ctx,
		bson.M{
			"status":             models.SessionActive,
			"refresh_expires_at": bson.M{"$lt": now},
		},
		bson.M{"$set": bson.M{"status": models.SessionExpired}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired sessions: %w", err)
	}

	result, err := s.collection.DeleteMany(ctx, bson.M{
		"status":             bson.M{"$ne": models.SessionActive},
		"refresh_expires_at": bson.M{"$lt": now.Add(-retention)},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	return result.DeletedCount, nil
}
