// Package collab is the collaborative document engine.
//
// Each artifact's document lives in a room: one goroutine owning the CRDT
// replica, a FIFO mailbox and the connected sessions. Rooms load from the
// durable store on first join, persist every accepted update together with
// its audit entry before broadcasting it, snapshot periodically, and on
// close write a final snapshot and compact the update log. The store is the
// source of truth; a room is a cache that can be dropped at any time.
package collab

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/crdt"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/governance"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ledger"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/metrics"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/presence"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

// Config tunes room behaviour.
type Config struct {
	// SnapshotEvery triggers a snapshot after this many updates. Zero
	// disables automatic snapshots.
	SnapshotEvery int
	// DrainTimeout is how long an empty room waits for a reconnect.
	DrainTimeout time.Duration
	// LoadTimeout bounds loading a room from the store.
	LoadTimeout time.Duration
	// ScanDebounce is the content scan interval. Zero disables scanning.
	ScanDebounce time.Duration
	// Retention is the number of clock values kept below the latest
	// snapshot when a room compacts on close.
	Retention int64
	// SendBuffer is the per-session outbound queue length.
	SendBuffer int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotEvery: 100,
		DrainTimeout:  30 * time.Second,
		LoadTimeout:   5 * time.Second,
		ScanDebounce:  2 * time.Second,
		Retention:     0,
		SendBuffer:    64,
	}
}

// joinAttempts bounds retries when a join races a closing room.
const joinAttempts = 3

// Engine owns the open rooms.
type Engine struct {
	cfg      Config
	ledger   *ledger.Ledger
	guard    *governance.Guard
	scanner  governance.Scanner
	presence *presence.Tracker
	logger   *zap.Logger
	newID    func() string

	mu      sync.Mutex
	rooms   map[string]*Room
	closing bool
	flight  singleflight.Group
	pins    pinSet
}

// Option configures an Engine.
type Option func(*Engine)

// WithScanner enables content scanning.
func WithScanner(s governance.Scanner) Option {
	return func(e *Engine) { e.scanner = s }
}

// WithPresence connects a presence tracker. The engine registers for its
// eviction and room-expiry callbacks.
func WithPresence(t *presence.Tracker) Option {
	return func(e *Engine) { e.presence = t }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine creates a document engine.
func NewEngine(l *ledger.Ledger, guard *governance.Guard, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.Retention < 0 {
		cfg.Retention = 0
	}
	e := &Engine{
		cfg:    cfg,
		ledger: l,
		guard:  guard,
		logger: zap.NewNop(),
		newID:  ir.NewID,
		rooms:  make(map[string]*Room),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.presence != nil {
		e.presence.OnEvict(e.evict)
		e.presence.OnRoomExpired(e.expire)
	}
	return e
}

// Join connects a participant to the room of an artifact, loading the room
// from the store if needed.
func (e *Engine) Join(ctx context.Context, roomID, participantID string, attrs presence.Attributes) (*Session, error) {
	if roomID == "" || participantID == "" {
		return nil, errs.Validation("room and participant are required")
	}
	for attempt := 0; attempt < joinAttempts; attempt++ {
		r, err := e.open(ctx, roomID)
		if err != nil {
			return nil, err
		}
		s := newSession(e.newID(), participantID, r, e.cfg.SendBuffer)
		err = r.call(ctx, func() error {
			r.join(s, attrs)
			return nil
		})
		if errors.Is(err, errRoomClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, errs.Conflict("room %q is closing, retry", roomID)
}

// open returns the live room, loading it once even under concurrent joins.
func (e *Engine) open(ctx context.Context, roomID string) (*Room, error) {
	if r, err := e.lookup(roomID); r != nil || err != nil {
		return r, err
	}

	ch := e.flight.DoChan(roomID, func() (any, error) {
		if r, err := e.lookup(roomID); r != nil || err != nil {
			return r, err
		}
		loadCtx, cancel := context.WithTimeout(context.Background(), e.cfg.LoadTimeout)
		defer cancel()
		r, err := e.load(loadCtx, roomID)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		if e.closing {
			e.mu.Unlock()
			return nil, errs.Conflict("collaboration engine is shutting down")
		}
		e.rooms[roomID] = r
		e.mu.Unlock()

		go r.run()
		// A room nobody managed to join is closed like a drained one.
		time.AfterFunc(e.cfg.DrainTimeout, func() {
			r.post(func() {
				if r.State() == StateInitializing {
					r.close("abandoned")
				}
			})
		})
		metrics.RoomOpened()
		r.logger.Info("room loaded", zap.Int64("clock", r.clock.Current()), zap.Int("pending_snapshot", r.sinceSnapshot))
		return r, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Room), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) lookup(roomID string) (*Room, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return nil, errs.Conflict("collaboration engine is shutting down")
	}
	if r, ok := e.rooms[roomID]; ok && r.State() != StateClosed {
		return r, nil
	}
	return nil, nil
}

// load builds a room from the latest snapshot plus the updates after it.
// Any store failure, including the load timeout, is a persistence error:
// a room never serves state it could not read.
func (e *Engine) load(ctx context.Context, roomID string) (*Room, error) {
	art, err := e.ledger.Store().GetArtifact(ctx, roomID, false)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, err
		}
		return nil, errs.Persistence(err, "load room artifact")
	}

	r := newRoom(e, roomID, art.OrgID)
	last, pending, err := loadDoc(ctx, e.ledger.Store(), roomID, r.doc)
	if err != nil {
		return nil, errs.Persistence(err, "load room state")
	}
	r.clock = NewClockAt(last)
	r.sinceSnapshot = pending
	return r, nil
}

// loadDoc applies the persisted state of a room to doc and returns the last
// clock and the number of updates after the latest snapshot.
func loadDoc(ctx context.Context, st *store.Store, roomID string, doc *crdt.Doc) (last int64, pending int, err error) {
	err = st.InTx(ctx, func(tx *store.Tx) error {
		snap, ok, err := tx.LatestSnapshot(ctx, roomID)
		if err != nil {
			return err
		}
		if ok {
			u, err := crdt.Decode(snap.State)
			if err != nil {
				return errs.Wrap(errs.CodeInternal, err, "snapshot at clock %d is corrupt", snap.Clock)
			}
			if _, err := doc.Apply(u); err != nil {
				return err
			}
			last = snap.Clock
		}

		updates, err := tx.DocumentUpdatesSince(ctx, roomID, last)
		if err != nil {
			return err
		}
		for _, up := range updates {
			u, err := crdt.Decode(up.Payload)
			if err != nil {
				return errs.Wrap(errs.CodeInternal, err, "update at clock %d is corrupt", up.Clock)
			}
			if _, err := doc.Apply(u); err != nil {
				return err
			}
			last = up.Clock
		}
		pending = len(updates)
		return nil
	})
	return last, pending, err
}

// forget unregisters a closed room.
func (e *Engine) forget(r *Room) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.rooms[r.id]; ok && cur == r {
		delete(e.rooms, r.id)
	}
}

// evict is the presence callback for an expired heartbeat.
func (e *Engine) evict(roomID, participantID string) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	e.mu.Unlock()
	if ok {
		mark := r.joins.Load()
		r.post(func() { r.evict(participantID, mark) })
	}
}

// expire is the presence callback for an idle room. An empty room is
// closed at once instead of waiting for its drain timer.
func (e *Engine) expire(roomID string) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	e.mu.Unlock()
	if ok {
		r.post(func() {
			if len(r.sessions) == 0 {
				r.close("idle")
			}
		})
	}
}

// RoomStatus describes an open room.
type RoomStatus struct {
	RoomID   string `json:"room_id" yaml:"room_id"`
	State    string `json:"state" yaml:"state"`
	Clock    int64  `json:"clock" yaml:"clock"`
	Sessions int    `json:"sessions" yaml:"sessions"`
	Text     string `json:"-" yaml:"-"`
}

// Status reports on an open room. Closed rooms are not found.
func (e *Engine) Status(ctx context.Context, roomID string) (RoomStatus, error) {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	e.mu.Unlock()
	if !ok {
		return RoomStatus{}, errs.NotFound("room", roomID)
	}
	var st RoomStatus
	err := r.call(ctx, func() error {
		st = RoomStatus{
			RoomID:   r.id,
			State:    r.State().String(),
			Clock:    r.clock.Current(),
			Sessions: len(r.sessions),
			Text:     r.doc.Text(),
		}
		return nil
	})
	if errors.Is(err, errRoomClosed) {
		return RoomStatus{}, errs.NotFound("room", roomID)
	}
	return st, err
}

// Rooms lists the ids of open rooms.
func (e *Engine) Rooms() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.rooms))
	for id := range e.rooms {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Text returns the current document text of an artifact, from the open room
// when there is one and from the store otherwise.
func (e *Engine) Text(ctx context.Context, roomID string) (string, int64, error) {
	if st, err := e.Status(ctx, roomID); err == nil {
		return st.Text, st.Clock, nil
	}
	doc := crdt.New(roomSite)
	last, _, err := loadDoc(ctx, e.ledger.Store(), roomID, doc)
	if err != nil {
		return "", 0, err
	}
	return doc.Text(), last, nil
}

// Shutdown closes every room with a final snapshot and waits for the room
// goroutines to exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	rooms := make([]*Room, 0, len(e.rooms))
	for _, r := range e.rooms {
		rooms = append(rooms, r)
	}
	e.mu.Unlock()

	for _, r := range rooms {
		r.post(func() { r.close("shutdown") })
	}
	for _, r := range rooms {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
