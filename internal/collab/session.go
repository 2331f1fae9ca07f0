package collab

import (
	"context"
	"sync/atomic"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/crdt"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/presence"
)

// Session is one participant connection to a room.
//
// Messages from other participants arrive on Outbound. The room closes the
// channel when the session leaves, is evicted, falls too far behind, or the
// room shuts down; the transport then closes its connection.
type Session struct {
	id          string
	participant string
	room        *Room
	out         chan Message
	closed      atomic.Bool
	seq         uint64 // join order within the room, set on the room goroutine
}

func newSession(id, participant string, room *Room, buffer int) *Session {
	return &Session{
		id:          id,
		participant: participant,
		room:        room,
		out:         make(chan Message, buffer),
	}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// Participant returns the participant id.
func (s *Session) Participant() string { return s.participant }

// RoomID returns the artifact id of the room.
func (s *Session) RoomID() string { return s.room.id }

// Outbound delivers broadcasts from the room.
func (s *Session) Outbound() <-chan Message { return s.out }

// Sync answers sync step 1: it returns the operations the participant is
// missing given its state vector.
func (s *Session) Sync(ctx context.Context, sv crdt.StateVector) (Message, error) {
	var reply Message
	err := s.room.call(ctx, func() error {
		var err error
		reply, err = s.room.sync(sv)
		return err
	})
	return reply, err
}

// Update submits an encoded crdt.Update. On success the returned ack carries
// the room clock the update was persisted at.
func (s *Session) Update(ctx context.Context, update []byte) (Message, error) {
	var ack Message
	err := s.room.call(ctx, func() error {
		var err error
		ack, err = s.room.update(ctx, s, update)
		return err
	})
	return ack, err
}

// Awareness refreshes presence and relays the attributes to the room.
func (s *Session) Awareness(ctx context.Context, attrs presence.Attributes) error {
	return s.room.call(ctx, func() error {
		return s.room.awareness(s, attrs)
	})
}

// Heartbeat refreshes presence without relaying anything to the room. The
// transport calls it for keepalive traffic such as WebSocket pongs.
func (s *Session) Heartbeat(ctx context.Context) error {
	return s.room.call(ctx, func() error {
		s.room.touch(s, nil)
		return nil
	})
}

// Leave disconnects the session. Safe to call more than once.
func (s *Session) Leave(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	err := s.room.call(ctx, func() error {
		s.room.leave(s.id)
		return nil
	})
	if err == errRoomClosed {
		return nil
	}
	return err
}

// deliver is called on the room goroutine. It reports false when the
// session's buffer is full.
func (s *Session) deliver(m Message) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.out <- m:
		return true
	default:
		return false
	}
}

// close is called on the room goroutine.
func (s *Session) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.out)
	}
}
