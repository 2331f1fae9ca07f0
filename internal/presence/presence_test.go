package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/testutil"
)

func newTestTracker() (*Tracker, *testutil.ManualClock) {
	clock := testutil.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), 0)
	t := NewTracker(Config{
		HeartbeatTimeout: time.Minute,
		RoomIdleTimeout:  30 * time.Minute,
	}, WithNow(clock.Now))
	return t, clock
}

func TestJoinAndParticipants(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Join("room-1", "bob", Attributes{DisplayName: "Bob"})
	clock.Advance(time.Second)
	tr.Join("room-1", "alice", Attributes{DisplayName: "Alice", Color: "#f00"})
	tr.Join("room-2", "carol", Attributes{})

	got := tr.Participants("room-1")
	require.Len(t, got, 2)
	assert.Equal(t, "bob", got[0].ParticipantID)
	assert.Equal(t, "alice", got[1].ParticipantID)
	assert.Equal(t, "#f00", got[1].Attributes.Color)

	assert.Equal(t, []string{"room-1", "room-2"}, tr.Rooms())
	assert.Empty(t, tr.Participants("nowhere"))
}

func TestHeartbeat(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Join("room-1", "alice", Attributes{DisplayName: "Alice"})

	clock.Advance(30 * time.Second)
	cursor := 12
	rec, err := tr.Heartbeat("room-1", "alice", &Attributes{DisplayName: "Alice", Cursor: &cursor})
	require.NoError(t, err)
	assert.Equal(t, clock.Peek(), rec.LastHeartbeat)
	assert.Equal(t, 12, *rec.Attributes.Cursor)

	_, err = tr.Heartbeat("room-1", "mallory", nil)
	assert.True(t, errs.IsNotFound(err))
	_, err = tr.Heartbeat("room-9", "alice", nil)
	assert.True(t, errs.IsNotFound(err))
}

func TestLeave_CountsConnections(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Join("room-1", "alice", Attributes{})
	tr.Join("room-1", "alice", Attributes{})

	assert.False(t, tr.Leave("room-1", "alice"), "second tab still open")
	assert.Len(t, tr.Participants("room-1"), 1)
	assert.True(t, tr.Leave("room-1", "alice"))
	assert.Empty(t, tr.Participants("room-1"))
	assert.False(t, tr.Leave("room-1", "alice"))
}

func TestSweep_EvictsExpiredParticipants(t *testing.T) {
	tr, clock := newTestTracker()
	var (
		mu      sync.Mutex
		evicted []string
	)
	tr.OnEvict(func(room, participant string) {
		mu.Lock()
		defer mu.Unlock()
		evicted = append(evicted, room+"/"+participant)
	})

	tr.Join("room-1", "alice", Attributes{})
	tr.Join("room-1", "bob", Attributes{})
	clock.Advance(45 * time.Second)
	_, err := tr.Heartbeat("room-1", "bob", nil)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)

	n, expired := tr.Sweep()
	assert.Equal(t, 1, n)
	assert.Zero(t, expired)
	assert.Equal(t, []string{"room-1/alice"}, evicted)
	require.Len(t, tr.Participants("room-1"), 1)
	assert.Equal(t, "bob", tr.Participants("room-1")[0].ParticipantID)
}

func TestSweep_ExpiresIdleRooms(t *testing.T) {
	tr, clock := newTestTracker()
	var expired []string
	tr.OnRoomExpired(func(room string) { expired = append(expired, room) })

	tr.Join("room-1", "alice", Attributes{})
	tr.Leave("room-1", "alice")

	clock.Advance(29 * time.Minute)
	_, n := tr.Sweep()
	assert.Zero(t, n)
	assert.Equal(t, []string{"room-1"}, tr.Rooms())

	// Rejoining resets the idle timer.
	tr.Join("room-1", "alice", Attributes{})
	tr.Leave("room-1", "alice")
	clock.Advance(29 * time.Minute)
	_, n = tr.Sweep()
	assert.Zero(t, n)

	clock.Advance(time.Minute)
	_, n = tr.Sweep()
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"room-1"}, expired)
	assert.Empty(t, tr.Rooms())
}

func TestRun_StopsOnCancel(t *testing.T) {
	tr := NewTracker(Config{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
