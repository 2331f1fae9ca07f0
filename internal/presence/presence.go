// Package presence tracks who is connected to which collaborative room.
//
// Records are ephemeral and live only in memory. A background sweep evicts
// participants whose heartbeat expired and forgets rooms that stayed empty
// past the idle timeout; callbacks let the document engine react.
package presence

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/metrics"
)

// Defaults used when a Config field is zero.
const (
	DefaultHeartbeatTimeout = time.Minute
	DefaultRoomIdleTimeout  = 30 * time.Minute
	DefaultSweepInterval    = 10 * time.Second
)

// Attributes are the display hints a participant shares with the room.
type Attributes struct {
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Color       string `json:"color,omitempty" yaml:"color,omitempty"`
	Cursor      *int   `json:"cursor,omitempty" yaml:"cursor,omitempty"`
}

// Record is one participant's presence in a room.
type Record struct {
	RoomID        string     `json:"room_id" yaml:"room_id"`
	ParticipantID string     `json:"participant_id" yaml:"participant_id"`
	Attributes    Attributes `json:"attributes" yaml:"attributes"`
	JoinedAt      time.Time  `json:"joined_at" yaml:"joined_at"`
	LastHeartbeat time.Time  `json:"last_heartbeat" yaml:"last_heartbeat"`
}

// Config holds the tracker's timeouts.
type Config struct {
	HeartbeatTimeout time.Duration
	RoomIdleTimeout  time.Duration
	SweepInterval    time.Duration
}

type entry struct {
	Record
	conns int
}

type room struct {
	participants map[string]*entry
	emptySince   time.Time
}

// Tracker is safe for concurrent use.
type Tracker struct {
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	mu        sync.Mutex
	rooms     map[string]*room
	onEvict   []func(roomID, participantID string)
	onExpired []func(roomID string)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker creates a tracker. Zero timeouts take their defaults.
func NewTracker(cfg Config, opts ...Option) *Tracker {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.RoomIdleTimeout <= 0 {
		cfg.RoomIdleTimeout = DefaultRoomIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	t := &Tracker{
		cfg:    cfg,
		now:    time.Now,
		logger: zap.NewNop(),
		rooms:  make(map[string]*room),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnEvict registers a callback run after a participant's heartbeat expired.
func (t *Tracker) OnEvict(fn func(roomID, participantID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvict = append(t.onEvict, fn)
}

// OnRoomExpired registers a callback run after an empty room idled out.
func (t *Tracker) OnRoomExpired(fn func(roomID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpired = append(t.onExpired, fn)
}

// Join registers a connection of participantID in roomID. A participant may
// hold several connections; it stays present until the last one leaves.
func (t *Tracker) Join(roomID, participantID string, attrs Attributes) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	r, ok := t.rooms[roomID]
	if !ok {
		r = &room{participants: make(map[string]*entry)}
		t.rooms[roomID] = r
	}
	e, ok := r.participants[participantID]
	if !ok {
		e = &entry{Record: Record{RoomID: roomID, ParticipantID: participantID, JoinedAt: now}}
		r.participants[participantID] = e
	}
	e.conns++
	e.Attributes = attrs
	e.LastHeartbeat = now
	r.emptySince = time.Time{}

	t.publishLocked()
	return e.Record
}

// Heartbeat refreshes a participant. Non-nil attrs replace the display
// attributes.
func (t *Tracker) Heartbeat(roomID, participantID string, attrs *Attributes) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rooms[roomID]
	if !ok {
		return Record{}, errs.NotFound("room", roomID)
	}
	e, ok := r.participants[participantID]
	if !ok {
		return Record{}, errs.NotFound("participant", participantID)
	}
	e.LastHeartbeat = t.now()
	if attrs != nil {
		e.Attributes = *attrs
	}
	return e.Record, nil
}

// Leave drops one connection of a participant. It reports whether the
// participant is now gone from the room.
func (t *Tracker) Leave(roomID, participantID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rooms[roomID]
	if !ok {
		return false
	}
	e, ok := r.participants[participantID]
	if !ok {
		return false
	}
	e.conns--
	if e.conns > 0 {
		return false
	}
	delete(r.participants, participantID)
	if len(r.participants) == 0 {
		r.emptySince = t.now()
	}
	t.publishLocked()
	return true
}

// Participants returns a room's participants ordered by join time.
func (t *Tracker) Participants(roomID string) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := []Record{}
	r, ok := t.rooms[roomID]
	if !ok {
		return out
	}
	for _, e := range r.participants {
		out = append(out, e.Record)
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ParticipantID, b.ParticipantID)
	})
	return out
}

// Rooms returns the ids of every tracked room, sorted.
func (t *Tracker) Rooms() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.rooms))
	for id := range t.rooms {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

type eviction struct {
	room, participant string
}

// Sweep evicts expired participants and idle rooms once. Callbacks run after
// the tracker lock is released.
func (t *Tracker) Sweep() (evicted, expired int) {
	t.mu.Lock()
	now := t.now()
	var (
		evictions []eviction
		expiries  []string
	)
	for roomID, r := range t.rooms {
		for pid, e := range r.participants {
			if now.Sub(e.LastHeartbeat) > t.cfg.HeartbeatTimeout {
				delete(r.participants, pid)
				evictions = append(evictions, eviction{room: roomID, participant: pid})
				if len(r.participants) == 0 {
					r.emptySince = now
				}
			}
		}
		if len(r.participants) == 0 && now.Sub(r.emptySince) >= t.cfg.RoomIdleTimeout {
			delete(t.rooms, roomID)
			expiries = append(expiries, roomID)
		}
	}
	slices.SortFunc(evictions, func(a, b eviction) int {
		if c := strings.Compare(a.room, b.room); c != 0 {
			return c
		}
		return strings.Compare(a.participant, b.participant)
	})
	slices.Sort(expiries)
	onEvict := slices.Clone(t.onEvict)
	onExpired := slices.Clone(t.onExpired)
	t.publishLocked()
	t.mu.Unlock()

	for _, ev := range evictions {
		metrics.RecordEviction()
		t.logger.Info("presence expired",
			zap.String("room", ev.room),
			zap.String("participant", ev.participant),
		)
		for _, fn := range onEvict {
			fn(ev.room, ev.participant)
		}
	}
	for _, roomID := range expiries {
		t.logger.Info("room idle, forgetting", zap.String("room", roomID))
		for _, fn := range onExpired {
			fn(roomID)
		}
	}
	return len(evictions), len(expiries)
}

// Run sweeps on a fixed ticker until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *Tracker) publishLocked() {
	n := 0
	for _, r := range t.rooms {
		n += len(r.participants)
	}
	metrics.SetParticipants(n)
}
