package collab

import (
	"context"

	"go.uber.org/zap"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ledger"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/metrics"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

// storeUpdate appends an update at clock together with its audit entry.
// The audit payload carries a digest of the operations, never the text.
func (e *Engine) storeUpdate(ctx context.Context, orgID, roomID, actor string, clock int64, payload []byte, ops int) error {
	return e.ledger.Do(ctx, ledger.OrgScope(orgID), func(tx *store.Tx, app *ledger.Appender) error {
		err := tx.AppendDocumentUpdate(ctx, ir.DocumentUpdate{
			RoomID:    roomID,
			Clock:     clock,
			Payload:   payload,
			Actor:     actor,
			CreatedAt: e.ledger.Now(),
		})
		if err != nil {
			return err
		}
		_, err = app.Append(ctx, ledger.Event{
			Type:      ir.EventDocumentUpdated,
			Actor:     actor,
			SubjectID: roomID,
			Payload: map[string]any{
				"clock":         clock,
				"ops":           ops,
				"update_digest": ir.Digest(payload),
			},
		})
		return err
	})
}

// storeSnapshot persists a full-state checkpoint at clock.
func (e *Engine) storeSnapshot(ctx context.Context, orgID, roomID string, clock int64, state []byte, ops int) error {
	err := e.ledger.Do(ctx, ledger.OrgScope(orgID), func(tx *store.Tx, app *ledger.Appender) error {
		err := tx.InsertSnapshot(ctx, ir.DocumentSnapshot{
			RoomID:    roomID,
			Clock:     clock,
			State:     state,
			CreatedAt: e.ledger.Now(),
		})
		if err != nil {
			return err
		}
		_, err = app.Append(ctx, ledger.Event{
			Type:      ir.EventDocumentSnapshot,
			Actor:     roomSite,
			SubjectID: roomID,
			Payload: map[string]any{
				"clock":        clock,
				"ops":          ops,
				"state_digest": ir.Digest(state),
			},
		})
		return err
	})
	if err != nil {
		return err
	}
	metrics.RecordSnapshot()
	e.logger.Debug("snapshot stored", zap.String("room", roomID), zap.Int64("clock", clock))
	return nil
}

// CompactResult reports what a compaction removed.
type CompactResult struct {
	RoomID           string `json:"room_id" yaml:"room_id"`
	SnapshotClock    int64  `json:"snapshot_clock" yaml:"snapshot_clock"`
	Cutoff           int64  `json:"cutoff" yaml:"cutoff"`
	DeletedUpdates   int64  `json:"deleted_updates" yaml:"deleted_updates"`
	DeletedSnapshots int64  `json:"deleted_snapshots" yaml:"deleted_snapshots"`
}

// Compact deletes updates with clock < latestSnapshotClock - retention and
// the snapshots they made obsolete. It never deletes an update a pinned
// reader has yet to read. Rooms without a snapshot are left alone.
func (e *Engine) Compact(ctx context.Context, actor, roomID string, retention int64) (CompactResult, error) {
	if roomID == "" {
		return CompactResult{}, errs.Validation("room id is required")
	}
	if retention < 0 {
		return CompactResult{}, errs.Validation("retention must not be negative")
	}
	if err := e.guard.Check(ctx); err != nil {
		return CompactResult{}, err
	}
	art, err := e.ledger.Store().GetArtifact(ctx, roomID, true)
	if err != nil {
		return CompactResult{}, err
	}
	return e.compact(ctx, actor, roomID, art.OrgID, retention)
}

func (e *Engine) compact(ctx context.Context, actor, roomID, orgID string, retention int64) (CompactResult, error) {
	res := CompactResult{RoomID: roomID}
	err := e.ledger.Do(ctx, ledger.OrgScope(orgID), func(tx *store.Tx, app *ledger.Appender) error {
		snap, ok, err := tx.LatestSnapshot(ctx, roomID)
		if err != nil || !ok {
			return err
		}
		res.SnapshotClock = snap.Clock
		res.Cutoff = snap.Clock - retention
		if pinned, ok := e.pins.oldest(roomID); ok && pinned+1 < res.Cutoff {
			res.Cutoff = pinned + 1
		}
		if res.Cutoff <= 1 {
			return nil
		}

		if res.DeletedUpdates, err = tx.DeleteUpdatesBefore(ctx, roomID, res.Cutoff); err != nil {
			return err
		}
		if res.DeletedSnapshots, err = tx.DeleteSnapshotsBefore(ctx, roomID, res.Cutoff); err != nil {
			return err
		}
		if res.DeletedUpdates == 0 && res.DeletedSnapshots == 0 {
			return nil
		}
		_, err = app.Append(ctx, ledger.Event{
			Type:      ir.EventDocumentCompacted,
			Actor:     actor,
			SubjectID: roomID,
			Payload: map[string]any{
				"snapshot_clock":    res.SnapshotClock,
				"cutoff":            res.Cutoff,
				"deleted_updates":   res.DeletedUpdates,
				"deleted_snapshots": res.DeletedSnapshots,
			},
		})
		return err
	})
	if err != nil {
		return CompactResult{}, err
	}
	if res.DeletedUpdates > 0 || res.DeletedSnapshots > 0 {
		e.logger.Info("room compacted",
			zap.String("room", roomID),
			zap.Int64("cutoff", res.Cutoff),
			zap.Int64("deleted_updates", res.DeletedUpdates),
		)
	}
	return res, nil
}

// Pin protects updates after clock from compaction until release is called.
func (e *Engine) Pin(roomID string, clock int64) (release func()) {
	return e.pins.add(roomID, clock)
}

// UpdatesSince returns the persisted updates of a room after clock.
func (e *Engine) UpdatesSince(ctx context.Context, roomID string, clock int64) ([]ir.DocumentUpdate, error) {
	release := e.Pin(roomID, clock)
	defer release()
	return e.ledger.Store().DocumentUpdatesSince(ctx, roomID, clock)
}
