package services

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

const registryShards = 32

// Connection is one live transport channel. It belongs to exactly one user
// and one session, is owned by the registry for its lifetime and is never
// shared across users.
type Connection struct {
	ID        string
	UserID    string
	SessionID string
	Send      chan []byte
}

// PresenceSink receives the presence transitions the registry decides on.
// Callbacks run outside the registry's locks.
type PresenceSink interface {
	HandleOnline(userID string)
	HandleOffline(userID string)
}

type userRecord struct {
	conns        map[string]*Connection
	pendingGen   uint64
	offlineTimer *time.Timer
	lastActivity time.Time
}

func (r *userRecord) pending() bool { return r.offlineTimer != nil }

type registryShard struct {
	mu    sync.Mutex
	users map[string]*userRecord
}

// ConnectionRegistry is the authoritative in-memory map of user to live
// connections. It also owns the pending-offline grace timers: keeping timer
// scheduling and cancellation under the same lock as connection-count
// mutation is what prevents a cancel and a zero-crossing from interleaving
// incorrectly. State is sharded by user id so presence activity on one user
// never serializes another.
type ConnectionRegistry struct {
	shards [registryShards]*registryShard
	grace  time.Duration

	sinkMu sync.RWMutex
	sink   PresenceSink
}

func NewConnectionRegistry(grace time.Duration) *ConnectionRegistry {
	r := &ConnectionRegistry{grace: grace}
	for i := range r.shards {
		r.shards[i] = &registryShard{users: make(map[string]*userRecord)}
	}
	return r
}

func (r *ConnectionRegistry) SetPresenceSink(sink PresenceSink) {
	r.sinkMu.Lock()
	r.sink = sink
	r.sinkMu.Unlock()
}

func (r *ConnectionRegistry) shard(userID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return r.shards[h.Sum32()%registryShards]
}

// Register adds a connection to the user's live set. The first connection of
// a user with no pending offline timer produces an online transition; a
// reconnect inside the grace window only cancels the timer, treating it as
// continuity rather than a new online event.
func (r *ConnectionRegistry) Register(conn *Connection) {
	shard := r.shard(conn.UserID)

	shard.mu.Lock()
	rec := shard.users[conn.UserID]
	if rec == nil {
		rec = &userRecord{conns: make(map[string]*Connection)}
		shard.users[conn.UserID] = rec
	}

	wentOnline := false
	if len(rec.conns) == 0 {
		if rec.pending() {
			rec.offlineTimer.Stop()
			rec.offlineTimer = nil
			rec.pendingGen++
		} else {
			wentOnline = true
		}
	}
	rec.conns[conn.ID] = conn
	rec.lastActivity = time.Now()
	total := len(rec.conns)
	shard.mu.Unlock()

	slog.Info("Connection registered",
		"userID", conn.UserID,
		"connectionID", conn.ID,
		"liveConnections", total)

	if wentOnline {
		if sink := r.presenceSink(); sink != nil {
			sink.HandleOnline(conn.UserID)
		}
	}
}

// Unregister removes a connection. When the user's live set becomes empty an
// offline transition is scheduled, not fired: the grace timer absorbs
// reconnects and tab switches. Starting a timer always replaces any prior
// one, so at most one exists per user.
func (r *ConnectionRegistry) Unregister(userID, connectionID string) {
	shard := r.shard(userID)

	shard.mu.Lock()
	rec := shard.users[userID]
	if rec == nil {
		shard.mu.Unlock()
		return
	}
	conn, exists := rec.conns[connectionID]
	if !exists {
		shard.mu.Unlock()
		return
	}
	close(conn.Send)
	delete(rec.conns, connectionID)
	remaining := len(rec.conns)

	if remaining == 0 {
		if rec.pending() {
			rec.offlineTimer.Stop()
		}
		rec.pendingGen++
		gen := rec.pendingGen
		rec.offlineTimer = time.AfterFunc(r.grace, func() {
			r.graceElapsed(userID, gen)
		})
	}
	shard.mu.Unlock()

	slog.Info("Connection unregistered",
		"userID", userID,
		"connectionID", connectionID,
		"remainingConnections", remaining)
}

// graceElapsed fires the offline transition once the grace window passed
// with a still-empty live set. The generation guard discards stale timer
// fires that raced with a reconnect.
func (r *ConnectionRegistry) graceElapsed(userID string, gen uint64) {
	shard := r.shard(userID)

	shard.mu.Lock()
	rec := shard.users[userID]
	if rec == nil || rec.pendingGen != gen || !rec.pending() || len(rec.conns) > 0 {
		shard.mu.Unlock()
		return
	}
	rec.offlineTimer = nil
	delete(shard.users, userID)
	shard.mu.Unlock()

	if sink := r.presenceSink(); sink != nil {
		sink.HandleOffline(userID)
	}
}

// DropUser cancels any grace timer and closes every live connection of the
// user. Used by the presence machine for explicit logout, which bypasses the
// grace window entirely; the caller is responsible for the offline side
// effects.
func (r *ConnectionRegistry) DropUser(userID string) {
	shard := r.shard(userID)

	shard.mu.Lock()
	rec := shard.users[userID]
	if rec != nil {
		if rec.pending() {
			rec.offlineTimer.Stop()
			rec.offlineTimer = nil
		}
		rec.pendingGen++
		for id, conn := range rec.conns {
			close(conn.Send)
			delete(rec.conns, id)
		}
		delete(shard.users, userID)
	}
	shard.mu.Unlock()
}

// LiveConnections returns the ids of the user's live connections, reflecting
// the most recent register/unregister calls
func (r *ConnectionRegistry) LiveConnections(userID string) []string {
	shard := r.shard(userID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec := shard.users[userID]
	if rec == nil {
		return nil
	}
	ids := make([]string, 0, len(rec.conns))
	for id := range rec.conns {
		ids = append(ids, id)
	}
	return ids
}

// IsOnline reports the presence invariant: online iff live connections > 0
// or an offline timer is still pending
func (r *ConnectionRegistry) IsOnline(userID string) bool {
	shard := r.shard(userID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec := shard.users[userID]
	return rec != nil && (len(rec.conns) > 0 || rec.pending())
}

// SendToUser fans payload out to every live connection of the user and
// returns how many accepted it. Connections with a full buffer are skipped,
// not blocked on. Sends happen under the shard lock, the same lock that
// guards the close in Unregister and DropUser, so a send can never hit a
// closed channel.
func (r *ConnectionRegistry) SendToUser(userID string, payload []byte) int {
	shard := r.shard(userID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec := shard.users[userID]
	if rec == nil {
		return 0
	}

	sent := 0
	for _, conn := range rec.conns {
		select {
		case conn.Send <- payload:
			sent++
		default:
			slog.Warn("Connection buffer full, dropping payload",
				"userID", userID,
				"connectionID", conn.ID)
		}
	}
	return sent
}

// SendToConnection delivers payload to one specific connection. Like
// SendToUser, the send stays under the shard lock so it cannot race a close.
func (r *ConnectionRegistry) SendToConnection(userID, connectionID string, payload []byte) error {
	shard := r.shard(userID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	var conn *Connection
	if rec := shard.users[userID]; rec != nil {
		conn = rec.conns[connectionID]
	}
	if conn == nil {
		return ErrConnectionNotFound
	}
	select {
	case conn.Send <- payload:
		return nil
	default:
		return ErrConnectionBufferFull
	}
}

func (r *ConnectionRegistry) presenceSink() PresenceSink {
	r.sinkMu.RLock()
	defer r.sinkMu.RUnlock()
	return r.sink
}
