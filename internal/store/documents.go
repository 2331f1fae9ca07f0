package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
)

// AppendDocumentUpdate stores one incremental update at its clock value.
// A clock collision means two writers served the same room, which the room
// actor model rules out; it is reported as a conflict.
func (q queries) AppendDocumentUpdate(ctx context.Context, u ir.DocumentUpdate) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO document_updates (room_id, clock, payload, actor, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.RoomID, u.Clock, u.Payload, u.Actor, toNanos(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Conflict("room %q already has an update at clock %d", u.RoomID, u.Clock)
		}
		return errs.Persistence(err, "append document update")
	}
	return nil
}

// DocumentUpdatesSince returns every update with clock > after, in clock order.
func (q queries) DocumentUpdatesSince(ctx context.Context, roomID string, after int64) ([]ir.DocumentUpdate, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT room_id, clock, payload, actor, created_at
		FROM document_updates
		WHERE room_id = ? AND clock > ?
		ORDER BY clock ASC
	`, roomID, after)
	if err != nil {
		return nil, errs.Persistence(err, "query document updates")
	}
	defer rows.Close()

	updates := []ir.DocumentUpdate{}
	for rows.Next() {
		var (
			u         ir.DocumentUpdate
			createdAt int64
		)
		if err := rows.Scan(&u.RoomID, &u.Clock, &u.Payload, &u.Actor, &createdAt); err != nil {
			return nil, errs.Persistence(err, "scan document update")
		}
		u.CreatedAt = fromNanos(createdAt)
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence(err, "iterate document updates")
	}
	return updates, nil
}

// LatestSnapshot returns the newest snapshot of a room. ok is false when the
// room has never been snapshotted.
func (q queries) LatestSnapshot(ctx context.Context, roomID string) (snap ir.DocumentSnapshot, ok bool, err error) {
	var createdAt int64
	err = q.q.QueryRowContext(ctx, `
		SELECT room_id, clock, state, created_at
		FROM document_snapshots
		WHERE room_id = ?
		ORDER BY clock DESC
		LIMIT 1
	`, roomID).Scan(&snap.RoomID, &snap.Clock, &snap.State, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.DocumentSnapshot{}, false, nil
	}
	if err != nil {
		return ir.DocumentSnapshot{}, false, errs.Persistence(err, "read latest snapshot")
	}
	snap.CreatedAt = fromNanos(createdAt)
	return snap, true, nil
}

// InsertSnapshot records a full-state checkpoint. Re-snapshotting the same
// clock is a no-op.
func (q queries) InsertSnapshot(ctx context.Context, snap ir.DocumentSnapshot) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO document_snapshots (room_id, clock, state, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id, clock) DO NOTHING
	`, snap.RoomID, snap.Clock, snap.State, toNanos(snap.CreatedAt))
	if err != nil {
		return errs.Persistence(err, "insert snapshot")
	}
	return nil
}

// DeleteUpdatesBefore removes updates with clock < before and returns how
// many were deleted.
func (q queries) DeleteUpdatesBefore(ctx context.Context, roomID string, before int64) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		DELETE FROM document_updates WHERE room_id = ? AND clock < ?
	`, roomID, before)
	if err != nil {
		return 0, errs.Persistence(err, "delete document updates")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Persistence(err, "delete document updates")
	}
	return n, nil
}

// DeleteSnapshotsBefore removes superseded snapshots older than clock.
func (q queries) DeleteSnapshotsBefore(ctx context.Context, roomID string, before int64) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		DELETE FROM document_snapshots WHERE room_id = ? AND clock < ?
	`, roomID, before)
	if err != nil {
		return 0, errs.Persistence(err, "delete snapshots")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Persistence(err, "delete snapshots")
	}
	return n, nil
}

// DocumentRooms lists every room that has persisted state.
func (q queries) DocumentRooms(ctx context.Context) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT room_id FROM document_updates
		UNION
		SELECT room_id FROM document_snapshots
		ORDER BY room_id
	`)
	if err != nil {
		return nil, errs.Persistence(err, "query rooms")
	}
	defer rows.Close()

	rooms := []string{}
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, errs.Persistence(err, "scan room")
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence(err, "iterate rooms")
	}
	return rooms, nil
}

// DocumentUpdatesSince is the retrying auto-commit variant.
func (s *Store) DocumentUpdatesSince(ctx context.Context, roomID string, after int64) ([]ir.DocumentUpdate, error) {
	var out []ir.DocumentUpdate
	err := s.readRetry(ctx, "document updates", func() error {
		var err error
		out, err = s.queries.DocumentUpdatesSince(ctx, roomID, after)
		return err
	})
	return out, err
}

// LatestSnapshot is the retrying auto-commit variant.
func (s *Store) LatestSnapshot(ctx context.Context, roomID string) (ir.DocumentSnapshot, bool, error) {
	var (
		snap ir.DocumentSnapshot
		ok   bool
	)
	err := s.readRetry(ctx, "latest snapshot", func() error {
		var err error
		snap, ok, err = s.queries.LatestSnapshot(ctx, roomID)
		return err
	})
	return snap, ok, err
}
