package collab

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/crdt"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/governance"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/metrics"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/presence"
)

// State is a room's lifecycle stage.
type State int32

const (
	StateEmpty State = iota
	StateInitializing
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// errRoomClosed is returned to commands that reach a room after it closed.
// The engine reopens the room from the store and retries.
var errRoomClosed = errors.New("room closed")

// roomSite is the crdt site of the server replica. The room never authors
// operations; it only merges.
const roomSite = "room"

// backgroundTimeout bounds persistence triggered by timers rather than by
// a caller.
const backgroundTimeout = 10 * time.Second

// Room is the in-memory replica of one artifact's document. All mutable
// fields are owned by the room goroutine; other goroutines talk to it
// through the mailbox.
type Room struct {
	id     string
	orgID  string
	engine *Engine
	logger *zap.Logger

	mb    *mailbox
	done  chan struct{}
	state atomic.Int32
	clock *Clock

	doc           *crdt.Doc
	sessions      map[string]*Session
	joins         atomic.Uint64
	sinceSnapshot int
	dirty         bool
	scanning      bool
	escalated     bool
	drainGen      int
	drainTimer    *time.Timer
}

func newRoom(e *Engine, id, orgID string) *Room {
	r := &Room{
		id:       id,
		orgID:    orgID,
		engine:   e,
		logger:   e.logger.With(zap.String("room", id)),
		mb:       newMailbox(),
		done:     make(chan struct{}),
		clock:    NewClockAt(0),
		doc:      crdt.New(roomSite),
		sessions: make(map[string]*Session),
	}
	r.setState(StateInitializing)
	return r
}

// ID returns the artifact id of the room.
func (r *Room) ID() string { return r.id }

// State returns the current lifecycle stage.
func (r *Room) State() State { return State(r.state.Load()) }

// Clock returns the clock of the last persisted update.
func (r *Room) Clock() int64 { return r.clock.Current() }

// Done is closed once the room goroutine exited.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) setState(s State) {
	old := State(r.state.Swap(int32(s)))
	if old != s {
		r.logger.Debug("room state", zap.Stringer("from", old), zap.Stringer("to", s))
	}
}

// call runs fn on the room goroutine and waits for its result.
func (r *Room) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	ok := r.mb.Enqueue(func() {
		if r.State() == StateClosed {
			errc <- errRoomClosed
			return
		}
		errc <- fn()
	})
	if !ok {
		return errRoomClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues fn without waiting. Closed rooms drop it.
func (r *Room) post(fn func()) {
	r.mb.Enqueue(func() {
		if r.State() != StateClosed {
			fn()
		}
	})
}

func (r *Room) run() {
	defer close(r.done)

	var scan <-chan time.Time
	if r.engine.cfg.ScanDebounce > 0 {
		ticker := time.NewTicker(r.engine.cfg.ScanDebounce)
		defer ticker.Stop()
		scan = ticker.C
	}

	for {
		select {
		case _, open := <-r.mb.Wait():
			for {
				cmd, ok := r.mb.TryDequeue()
				if !ok {
					break
				}
				cmd()
				if r.State() == StateClosed {
					r.mb.Close()
				}
			}
			if !open || r.State() == StateClosed {
				r.mb.Close()
				for cmd, ok := r.mb.TryDequeue(); ok; cmd, ok = r.mb.TryDequeue() {
					cmd()
				}
				return
			}
		case <-scan:
			r.maybeScan()
		}
	}
}

func (r *Room) join(s *Session, attrs presence.Attributes) {
	s.seq = r.joins.Add(1)
	r.sessions[s.id] = s
	r.stopDrain()
	if r.State() != StateActive {
		r.setState(StateActive)
	}
	if r.engine.presence != nil {
		r.engine.presence.Join(r.id, s.participant, attrs)
	}
	r.logger.Info("participant joined",
		zap.String("participant", s.participant),
		zap.String("session", s.id),
		zap.Int("sessions", len(r.sessions)),
	)
}

func (r *Room) leave(sessionID string) {
	if !r.detach(sessionID, true) {
		return
	}
	if len(r.sessions) == 0 {
		r.startDrain()
	}
}

// detach removes a session and closes its outbound channel. Sessions dropped
// by a sweep have no presence entry left to release.
func (r *Room) detach(sessionID string, release bool) bool {
	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	delete(r.sessions, sessionID)
	s.close()
	if release && r.engine.presence != nil {
		r.engine.presence.Leave(r.id, s.participant)
	}
	r.logger.Info("participant left",
		zap.String("participant", s.participant),
		zap.String("session", s.id),
		zap.Int("sessions", len(r.sessions)),
	)
	return true
}

// evict drops the sessions of a participant whose presence expired. Only
// sessions that joined at or before mark are dropped; a reconnect that
// raced the sweep keeps its new session.
func (r *Room) evict(participant string, mark uint64) {
	dropped := 0
	for id, s := range r.sessions {
		if s.participant == participant && s.seq <= mark {
			r.detach(id, false)
			dropped++
		}
	}
	if dropped > 0 && len(r.sessions) == 0 {
		r.startDrain()
	}
}

func (r *Room) startDrain() {
	r.setState(StateDraining)
	r.drainGen++
	gen := r.drainGen
	r.drainTimer = time.AfterFunc(r.engine.cfg.DrainTimeout, func() {
		r.post(func() {
			if r.drainGen == gen && r.State() == StateDraining {
				r.close("drained")
			}
		})
	})
}

func (r *Room) stopDrain() {
	r.drainGen++
	if r.drainTimer != nil {
		r.drainTimer.Stop()
		r.drainTimer = nil
	}
}

// close persists a final snapshot, compacts and frees the room. Failures
// are logged: every acknowledged update is already durable in the log.
func (r *Room) close(reason string) {
	r.stopDrain()
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	if r.sinceSnapshot > 0 {
		if err := r.snapshot(ctx); err != nil {
			r.logger.Error("final snapshot failed", zap.Error(err))
		}
	}
	if _, err := r.engine.compact(ctx, roomSite, r.id, r.orgID, r.engine.cfg.Retention); err != nil {
		r.logger.Error("compaction on close failed", zap.Error(err))
	}

	for id := range r.sessions {
		r.detach(id, true)
	}
	r.setState(StateClosed)
	r.engine.forget(r)
	metrics.RoomClosed()
	r.logger.Info("room closed", zap.String("reason", reason), zap.Int64("clock", r.clock.Current()))
}

func (r *Room) sync(sv crdt.StateVector) (Message, error) {
	payload, err := crdt.Encode(r.doc.Diff(sv))
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:        MsgSyncStep2,
		Update:      payload,
		StateVector: r.doc.StateVector(),
		Clock:       r.clock.Current(),
	}, nil
}

// update runs the write path: validate, consult the gate, persist with its
// audit entry, apply, broadcast, acknowledge. A failure at any step leaves
// the document, the log and the other participants untouched.
func (r *Room) update(ctx context.Context, from *Session, raw []byte) (Message, error) {
	u, err := crdt.Decode(raw)
	if err != nil {
		metrics.RecordRoomUpdate("invalid")
		return Message{}, errs.Validation("malformed update: %v", err)
	}
	if err := r.doc.Check(u); err != nil {
		metrics.RecordRoomUpdate("invalid")
		return Message{}, errs.Validation("update rejected: %v", err)
	}
	missing := r.doc.Missing(u)
	if missing.Empty() {
		metrics.RecordRoomUpdate("duplicate")
		r.touch(from, nil)
		return Message{Type: MsgAck, Clock: r.clock.Current()}, nil
	}
	if err := r.doc.Contiguous(missing); err != nil {
		metrics.RecordRoomUpdate("invalid")
		return Message{}, errs.Validation("update rejected, resynchronise before resubmitting: %v", err)
	}

	if err := r.gate(ctx); err != nil {
		metrics.RecordRoomUpdate("denied")
		r.logger.Warn("update denied by governance gate",
			zap.String("participant", from.participant),
			zap.Error(err),
		)
		return Message{}, err
	}

	payload, err := crdt.Encode(missing)
	if err != nil {
		return Message{}, err
	}
	clock := r.clock.Peek()
	if err := r.engine.storeUpdate(ctx, r.orgID, r.id, from.participant, clock, payload, missing.Len()); err != nil {
		metrics.RecordRoomUpdate("error")
		return Message{}, err
	}
	r.clock.Next()
	if _, err := r.doc.Apply(missing); err != nil {
		// Checked above; reaching this means the replica is corrupt.
		return Message{}, fmt.Errorf("apply persisted update at clock %d: %w", clock, err)
	}
	metrics.RecordRoomUpdate("applied")

	r.broadcast(from.id, Message{Type: MsgUpdate, Update: payload, Clock: clock, Participant: from.participant})
	r.touch(from, nil)
	r.dirty = true
	r.sinceSnapshot++
	if every := r.engine.cfg.SnapshotEvery; every > 0 && r.sinceSnapshot >= every {
		if err := r.snapshot(ctx); err != nil {
			r.logger.Warn("automatic snapshot failed", zap.Error(err))
		}
	}
	return Message{Type: MsgAck, Clock: clock}, nil
}

// gate enforces the governance verdict. Once a scan finding has been
// escalated the gate is consulted on every write, even outside restricted
// mode.
func (r *Room) gate(ctx context.Context) error {
	if r.escalated {
		return r.engine.guard.CheckEscalated(ctx)
	}
	return r.engine.guard.Check(ctx)
}

func (r *Room) awareness(from *Session, attrs presence.Attributes) error {
	r.touch(from, &attrs)
	r.broadcast(from.id, Message{Type: MsgAwareness, Participant: from.participant, Awareness: &attrs})
	return nil
}

// touch refreshes the sender's heartbeat. A participant already swept is
// left alone: its eviction is queued behind this command and the client
// rejoins.
func (r *Room) touch(from *Session, attrs *presence.Attributes) {
	if r.engine.presence == nil || from.closed.Load() {
		return
	}
	if _, err := r.engine.presence.Heartbeat(r.id, from.participant, attrs); err != nil {
		r.logger.Debug("heartbeat for swept participant",
			zap.String("participant", from.participant),
			zap.Error(err),
		)
	}
}

// broadcast delivers m to every session except the sender. Sessions whose
// buffer is full are dropped; they resynchronise on reconnect.
func (r *Room) broadcast(except string, m Message) {
	for id, s := range r.sessions {
		if id == except {
			continue
		}
		if !s.deliver(m) {
			r.logger.Warn("dropping slow participant",
				zap.String("participant", s.participant),
				zap.String("session", id),
			)
			r.leave(id)
		}
	}
}

func (r *Room) snapshot(ctx context.Context) error {
	clock := r.clock.Current()
	if clock == 0 {
		return nil
	}
	state, err := crdt.Encode(r.doc.State())
	if err != nil {
		return err
	}
	if err := r.engine.storeSnapshot(ctx, r.orgID, r.id, clock, state, r.doc.Ops()); err != nil {
		return err
	}
	r.sinceSnapshot = 0
	return nil
}

// maybeScan hands the text to the content scanner when it changed since
// the last scan. The scan runs off the room goroutine; its result is posted
// back through the mailbox.
func (r *Room) maybeScan() {
	scanner := r.engine.scanner
	if scanner == nil || !r.dirty || r.scanning {
		return
	}
	text := r.doc.Text()
	r.dirty = false
	r.scanning = true

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		findings, err := scanner.Scan(ctx, text)
		if err != nil {
			r.logger.Warn("content scan failed", zap.Error(err))
		} else if len(findings) > 0 {
			if err := r.engine.guard.Gate().Escalate(ctx, r.id, findings); err != nil {
				r.logger.Error("escalation failed", zap.Error(err))
			}
		}
		r.post(func() { r.scanned(findings, err) })
	}()
}

func (r *Room) scanned(findings []governance.Finding, err error) {
	r.scanning = false
	if err != nil {
		r.dirty = true
		return
	}
	if len(findings) > 0 && !r.escalated {
		r.escalated = true
		types := make([]string, 0, len(findings))
		for _, f := range findings {
			types = append(types, f.Type)
		}
		r.logger.Warn("content escalated to governance gate", zap.Strings("finding_types", types))
	}
}
