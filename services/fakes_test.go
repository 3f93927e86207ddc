package services

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"chat-server/models"
)

// In-memory store fakes shared by the lifecycle, presence and delivery tests.

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[primitive.ObjectID]*models.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[primitive.ObjectID]*models.Session)}
}

func (f *fakeSessionStore) Insert(ctx context.Context, session *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	clone := *session
	f.sessions[session.ID] = &clone
	return nil
}

func (f *fakeSessionStore) FindBySecretHash(ctx context.Context, hash string) (*models.Session, error) {
	return f.find(func(s *models.Session) bool { return s.SecretHash == hash })
}

func (f *fakeSessionStore) FindByRefreshCiphertext(ctx context.Context, ciphertext string) (*models.Session, error) {
	return f.find(func(s *models.Session) bool { return s.RefreshCiphertext == ciphertext })
}

func (f *fakeSessionStore) FindActiveByDevice(ctx context.Context, userID, fingerprint, browserName, osName string) (*models.Session, error) {
	return f.find(func(s *models.Session) bool {
		return s.UserID == userID &&
			s.Device.Fingerprint == fingerprint &&
			s.Device.BrowserName == browserName &&
			s.Device.OSName == osName &&
			s.Status == models.SessionActive
	})
}

func (f *fakeSessionStore) find(match func(*models.Session) bool) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if match(s) {
			clone := *s
			return &clone, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (f *fakeSessionStore) HasFingerprint(ctx context.Context, userID, fingerprint string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.Device.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSessionStore) RotateSecrets(ctx context.Context, id primitive.ObjectID, secretHash, refreshCiphertext string, expiresAt, refreshExpiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.SecretHash = secretHash
	s.RefreshCiphertext = refreshCiphertext
	s.ExpiresAt = expiresAt
	s.RefreshExpiresAt = refreshExpiresAt
	s.LastActivity = time.Now()
	s.ActivityCount++
	return nil
}

func (f *fakeSessionStore) RotateSessionSecret(ctx context.Context, id primitive.ObjectID, secretHash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.SecretHash = secretHash
	s.ExpiresAt = expiresAt
	s.LastActivity = time.Now()
	s.ActivityCount++
	return nil
}

func (f *fakeSessionStore) TouchActivity(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastActivity = time.Now()
	s.ActivityCount++
	return nil
}

func (f *fakeSessionStore) MarkStatus(ctx context.Context, id primitive.ObjectID, status models.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Status = status
	return nil
}

func (f *fakeSessionStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessionStore) RevokeAllForUser(ctx context.Context, userID string, exceptID primitive.ObjectID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for id, s := range f.sessions {
		if s.UserID == userID && s.Status == models.SessionActive && id != exceptID {
			s.Status = models.SessionRevoked
			count++
		}
	}
	return count, nil
}

func (f *fakeSessionStore) ListActiveForUser(ctx context.Context, userID string) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Session
	for _, s := range f.sessions {
		if s.UserID == userID && s.Status == models.SessionActive && s.ExpiresAt.After(time.Now()) {
			clone := *s
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) ListRecentForUser(ctx context.Context, userID string, limit int64) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Session
	for _, s := range f.sessions {
		if s.UserID == userID && int64(len(out)) < limit {
			clone := *s
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeSessionStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeSessionStore) mutate(id primitive.ObjectID, fn func(*models.Session)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		fn(s)
	}
}

func (f *fakeSessionStore) get(id primitive.ObjectID) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		clone := *s
		return &clone
	}
	return nil
}

type presenceWrite struct {
	userID   string
	status   models.PresenceStatus
	lastSeen time.Time
}

type fakeUserStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	presence []presenceWrite
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	f := &fakeUserStore{users: make(map[string]*models.User)}
	for _, u := range users {
		f.users[u.UserID] = u
	}
	return f
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ErrRecipientNotFound
}

func (f *fakeUserStore) GetByID(ctx context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return nil, ErrRecipientNotFound
}

func (f *fakeUserStore) SetPresence(ctx context.Context, userID string, status models.PresenceStatus, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, presenceWrite{userID: userID, status: status, lastSeen: lastSeen})
	if u, ok := f.users[userID]; ok {
		u.Status = status
		u.LastSeen = lastSeen
	}
	return nil
}

func (f *fakeUserStore) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		return u.ContactIDs, nil
	}
	return nil, nil
}

func (f *fakeUserStore) IsBlocking(ctx context.Context, ownerID, otherID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[ownerID]; ok {
		for _, blocked := range u.BlockedIDs {
			if blocked == otherID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeUserStore) presenceWrites() []presenceWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]presenceWrite, len(f.presence))
	copy(out, f.presence)
	return out
}

type fakeMessageStore struct {
	mu          sync.Mutex
	messages    map[primitive.ObjectID]*models.Message
	insertCalls int
	failInsert  error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[primitive.ObjectID]*models.Message)}
}

func (f *fakeMessageStore) Insert(ctx context.Context, message *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.failInsert != nil {
		return f.failInsert
	}
	for _, m := range f.messages {
		if m.SenderID == message.SenderID && m.ClientID == message.ClientID {
			return ErrDuplicateMessage
		}
	}
	if message.ID.IsZero() {
		message.ID = primitive.NewObjectID()
	}
	clone := *message
	f.messages[message.ID] = &clone
	return nil
}

func (f *fakeMessageStore) InsertBatch(ctx context.Context, messages []*models.Message) (map[int]error, error) {
	failed := make(map[int]error)
	for i, m := range messages {
		if err := f.Insert(ctx, m); err != nil {
			failed[i] = err
		}
	}
	return failed, nil
}

func (f *fakeMessageStore) FindByClientID(ctx context.Context, senderID, clientID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.SenderID == senderID && m.ClientID == clientID {
			clone := *m
			return &clone, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeMessageStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[id]; ok {
		clone := *m
		return &clone, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeMessageStore) UpdateStatus(ctx context.Context, id primitive.ObjectID, status models.MessageStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return false, nil
	}
	if models.StatusRank(status) <= models.StatusRank(m.Status) {
		return false, nil
	}
	m.Status = status
	now := time.Now()
	switch status {
	case models.MessageDelivered:
		m.DeliveredAt = &now
	case models.MessageRead:
		m.ReadAt = &now
	}
	return true, nil
}

func (f *fakeMessageStore) MarkRead(ctx context.Context, id primitive.ObjectID, readerID string) (*models.Message, error) {
	f.mu.Lock()
	m, ok := f.messages[id]
	if !ok || m.RecipientID != readerID {
		f.mu.Unlock()
		return nil, mongo.ErrNoDocuments
	}
	f.mu.Unlock()

	if _, err := f.UpdateStatus(ctx, id, models.MessageRead); err != nil {
		return nil, err
	}
	return f.FindByID(ctx, id)
}

func (f *fakeMessageStore) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	f.mu.Lock()
	var ids []primitive.ObjectID
	for id, m := range f.messages {
		if m.ConversationID == conversationID && m.RecipientID == readerID && m.Status != models.MessageRead {
			ids = append(ids, id)
		}
	}
	f.mu.Unlock()

	for _, id := range ids {
		if _, err := f.UpdateStatus(ctx, id, models.MessageRead); err != nil {
			return 0, err
		}
	}
	return int64(len(ids)), nil
}

func (f *fakeMessageStore) ListConversation(ctx context.Context, conversationID, viewerID string, limit int64, before time.Time) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID && !m.DeletedForAll {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeMessageStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, id)
	return nil
}

func (f *fakeMessageStore) DeleteForUser(ctx context.Context, id primitive.ObjectID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[id]; ok {
		m.DeletedFor = append(m.DeletedFor, userID)
	}
	return nil
}

func (f *fakeMessageStore) DeleteForAll(ctx context.Context, id primitive.ObjectID, senderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[id]; ok && m.SenderID == senderID {
		m.DeletedForAll = true
		return nil
	}
	return mongo.ErrNoDocuments
}

func (f *fakeMessageStore) inserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertCalls
}

func (f *fakeMessageStore) stored() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// sinkRecorder captures presence transitions from the registry
type sinkRecorder struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (r *sinkRecorder) HandleOnline(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = append(r.online, userID)
}

func (r *sinkRecorder) HandleOffline(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = append(r.offline, userID)
}

func (r *sinkRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.online), len(r.offline)
}
