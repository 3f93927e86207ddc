package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGrace = 40 * time.Millisecond

func newTestRegistry() (*ConnectionRegistry, *sinkRecorder) {
	registry := NewConnectionRegistry(testGrace)
	sink := &sinkRecorder{}
	registry.SetPresenceSink(sink)
	return registry, sink
}

func testConn(userID, connID string) *Connection {
	return &Connection{
		ID:     connID,
		UserID: userID,
		Send:   make(chan []byte, 16),
	}
}

func TestFirstConnectionFiresOnline(t *testing.T) {
	registry, sink := newTestRegistry()

	registry.Register(testConn("alice", "c1"))

	online, offline := sink.counts()
	assert.Equal(t, 1, online)
	assert.Equal(t, 0, offline)
	assert.True(t, registry.IsOnline("alice"))
}

func TestSecondConnectionIsSilent(t *testing.T) {
	registry, sink := newTestRegistry()

	registry.Register(testConn("alice", "c1"))
	registry.Register(testConn("alice", "c2"))

	online, _ := sink.counts()
	assert.Equal(t, 1, online, "only the first connection produces an online event")
	assert.Len(t, registry.LiveConnections("alice"), 2)
}

func TestLastUnregisterSchedulesOfflineNotFiresIt(t *testing.T) {
	registry, sink := newTestRegistry()

	registry.Register(testConn("alice", "c1"))
	registry.Unregister("alice", "c1")

	// Inside the grace window the user is still reported online and no
	// offline event exists yet
	_, offline := sink.counts()
	assert.Equal(t, 0, offline)
	assert.True(t, registry.IsOnline("alice"))
	assert.Empty(t, registry.LiveConnections("alice"))

	// After the window elapses exactly one offline fires
	time.Sleep(3 * testGrace)
	_, offline = sink.counts()
	assert.Equal(t, 1, offline)
	assert.False(t, registry.IsOnline("alice"))
}

func TestReconnectWithinGraceEmitsNothing(t *testing.T) {
	registry, sink := newTestRegistry()

	registry.Register(testConn("alice", "c1"))
	registry.Unregister("alice", "c1")
	registry.Register(testConn("alice", "c2"))

	time.Sleep(3 * testGrace)

	online, offline := sink.counts()
	assert.Equal(t, 0, offline, "reconnect within grace must never produce an offline event")
	assert.Equal(t, 1, online, "continuity, not a new online event")
	assert.True(t, registry.IsOnline("alice"))
}

func TestManyConnectionsOneTimer(t *testing.T) {
	registry, sink := newTestRegistry()

	const n = 5
	for i := 0; i < n; i++ {
		registry.Register(testConn("alice", fmt.Sprintf("c%d", i)))
	}
	for i := 0; i < n; i++ {
		registry.Unregister("alice", fmt.Sprintf("c%d", i))
	}

	assert.Empty(t, registry.LiveConnections("alice"))

	time.Sleep(3 * testGrace)

	online, offline := sink.counts()
	assert.Equal(t, 1, online)
	assert.Equal(t, 1, offline, "N unregisters must collapse into one offline event")
}

func TestOfflineFiresOnce(t *testing.T) {
	registry, sink := newTestRegistry()

	registry.Register(testConn("alice", "c1"))
	registry.Unregister("alice", "c1")

	time.Sleep(6 * testGrace)

	_, offline := sink.counts()
	assert.Equal(t, 1, offline)
}

func TestDropUserClosesConnectionsWithoutSink(t *testing.T) {
	registry, sink := newTestRegistry()

	c1 := testConn("alice", "c1")
	c2 := testConn("alice", "c2")
	registry.Register(c1)
	registry.Register(c2)

	registry.DropUser("alice")

	assert.False(t, registry.IsOnline("alice"))
	assert.Empty(t, registry.LiveConnections("alice"))

	_, ok := <-c1.Send
	assert.False(t, ok, "dropped connections get their send channel closed")
	_, ok = <-c2.Send
	assert.False(t, ok)

	// The caller owns the offline side effects
	_, offline := sink.counts()
	assert.Equal(t, 0, offline)
}

func TestDropUserCancelsPendingTimer(t *testing.T) {
	registry, sink := newTestRegistry()

	registry.Register(testConn("alice", "c1"))
	registry.Unregister("alice", "c1")
	registry.DropUser("alice")

	time.Sleep(3 * testGrace)

	_, offline := sink.counts()
	assert.Equal(t, 0, offline, "drop swallows the scheduled grace-timer fire")
}

func TestSendToUserFansOutToAllConnections(t *testing.T) {
	registry, _ := newTestRegistry()

	c1 := testConn("alice", "c1")
	c2 := testConn("alice", "c2")
	registry.Register(c1)
	registry.Register(c2)

	sent := registry.SendToUser("alice", []byte("hello"))
	assert.Equal(t, 2, sent)

	assert.Equal(t, []byte("hello"), <-c1.Send)
	assert.Equal(t, []byte("hello"), <-c2.Send)
}

func TestSendToUserNobodyHome(t *testing.T) {
	registry, _ := newTestRegistry()
	assert.Equal(t, 0, registry.SendToUser("ghost", []byte("hello")))
}

func TestSendToConnection(t *testing.T) {
	registry, _ := newTestRegistry()

	c1 := testConn("alice", "c1")
	registry.Register(c1)

	require.NoError(t, registry.SendToConnection("alice", "c1", []byte("hi")))
	assert.Equal(t, []byte("hi"), <-c1.Send)

	err := registry.SendToConnection("alice", "nope", []byte("hi"))
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	full := &Connection{ID: "c2", UserID: "alice", Send: make(chan []byte)}
	registry.Register(full)
	err = registry.SendToConnection("alice", "c2", []byte("hi"))
	assert.ErrorIs(t, err, ErrConnectionBufferFull)
}

func TestShardsAreIndependent(t *testing.T) {
	registry, sink := newTestRegistry()

	for i := 0; i < 100; i++ {
		registry.Register(testConn(fmt.Sprintf("user%d", i), "c1"))
	}
	online, _ := sink.counts()
	assert.Equal(t, 100, online)

	for i := 0; i < 100; i++ {
		assert.True(t, registry.IsOnline(fmt.Sprintf("user%d", i)))
	}
}

func TestSendToUserDuringConnectionChurn(t *testing.T) {
	registry, _ := newTestRegistry()

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					registry.SendToUser("alice", []byte("x"))
					registry.SendToConnection("alice", "c1", []byte("x"))
				}
			}
		}()
	}

	// Sends racing register/unregister must never hit a closed channel
	for i := 0; i < 20000; i++ {
		registry.Register(testConn("alice", "c1"))
		registry.Unregister("alice", "c1")
	}
	close(done)
	wg.Wait()

	assert.Empty(t, registry.LiveConnections("alice"))
}
