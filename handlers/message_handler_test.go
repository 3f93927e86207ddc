package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"chat-server/models"
	"chat-server/services"
)

// stubMessageStore serves exactly one message for DeleteMessage tests
type stubMessageStore struct {
	message *models.Message

	deletedForAll bool
	deletedFor    []string
}

func (s *stubMessageStore) Insert(ctx context.Context, m *models.Message) error { return nil }
func (s *stubMessageStore) InsertBatch(ctx context.Context, ms []*models.Message) (map[int]error, error) {
	return nil, nil
}
func (s *stubMessageStore) FindByClientID(ctx context.Context, senderID, clientID string) (*models.Message, error) {
	return nil, mongo.ErrNoDocuments
}
func (s *stubMessageStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Message, error) {
	if s.message != nil && s.message.ID == id {
		return s.message, nil
	}
	return nil, mongo.ErrNoDocuments
}
func (s *stubMessageStore) UpdateStatus(ctx context.Context, id primitive.ObjectID, status models.MessageStatus) (bool, error) {
	return false, nil
}
func (s *stubMessageStore) MarkRead(ctx context.Context, id primitive.ObjectID, readerID string) (*models.Message, error) {
	return nil, mongo.ErrNoDocuments
}
func (s *stubMessageStore) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	return 0, nil
}
func (s *stubMessageStore) ListConversation(ctx context.Context, conversationID, viewerID string, limit int64, before time.Time) ([]*models.Message, error) {
	return nil, nil
}
func (s *stubMessageStore) Delete(ctx context.Context, id primitive.ObjectID) error { return nil }
func (s *stubMessageStore) DeleteForUser(ctx context.Context, id primitive.ObjectID, userID string) error {
	s.deletedFor = append(s.deletedFor, userID)
	return nil
}
func (s *stubMessageStore) DeleteForAll(ctx context.Context, id primitive.ObjectID, senderID string) error {
	s.deletedForAll = true
	return nil
}

func newDeleteApp(store services.MessageStore, callerID string) *fiber.App {
	app := fiber.New()
	handler := NewMessageHandler(store)
	app.Delete("/messages/:messageID", func(c *fiber.Ctx) error {
		c.Locals("user_id", callerID)
		return c.Next()
	}, handler.DeleteMessage)
	return app
}

func storedMessage() *models.Message {
	return &models.Message{
		ID:          primitive.NewObjectID(),
		SenderID:    "alice",
		RecipientID: "bob",
		Content:     "hello",
		Status:      models.MessageSent,
	}
}

func TestDeleteMessageUnknownID(t *testing.T) {
	store := &stubMessageStore{}
	app := newDeleteApp(store, "alice")

	req := httptest.NewRequest("DELETE", "/messages/"+primitive.NewObjectID().Hex(), nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDeleteMessageForEveryoneBySender(t *testing.T) {
	msg := storedMessage()
	store := &stubMessageStore{message: msg}
	app := newDeleteApp(store, "alice")

	req := httptest.NewRequest("DELETE", "/messages/"+msg.ID.Hex(),
		strings.NewReader(`{"for_everyone":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, store.deletedForAll)
}

func TestDeleteMessageForEveryoneByRecipientForbidden(t *testing.T) {
	msg := storedMessage()
	store := &stubMessageStore{message: msg}
	app := newDeleteApp(store, "bob")

	req := httptest.NewRequest("DELETE", "/messages/"+msg.ID.Hex(),
		strings.NewReader(`{"for_everyone":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.False(t, store.deletedForAll)
}

func TestDeleteMessageForSelfByRecipient(t *testing.T) {
	msg := storedMessage()
	store := &stubMessageStore{message: msg}
	app := newDeleteApp(store, "bob")

	req := httptest.NewRequest("DELETE", "/messages/"+msg.ID.Hex(), nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"bob"}, store.deletedFor)
}

func TestDeleteMessageByOutsider(t *testing.T) {
	msg := storedMessage()
	store := &stubMessageStore{message: msg}
	app := newDeleteApp(store, "mallory")

	req := httptest.NewRequest("DELETE", "/messages/"+msg.ID.Hex(), nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.False(t, store.deletedForAll)
	assert.Empty(t, store.deletedFor)
}
