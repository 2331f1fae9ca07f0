package store

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
)

func appendUpdates(t *testing.T, s *Store, room string, clocks ...int64) {
	t.Helper()
	for _, c := range clocks {
		u := ir.DocumentUpdate{
			RoomID:    room,
			Clock:     c,
			Payload:   []byte{byte(c)},
			Actor:     "user-1",
			CreatedAt: testEpoch.Add(time.Duration(c) * time.Second),
		}
		if err := s.AppendDocumentUpdate(context.Background(), u); err != nil {
			t.Fatalf("AppendDocumentUpdate(%d) failed: %v", c, err)
		}
	}
}

func TestDocumentUpdatesSince(t *testing.T) {
	s := createTestStore(t)
	appendUpdates(t, s, "room-1", 1, 2, 3)
	appendUpdates(t, s, "room-2", 1)

	got, err := s.DocumentUpdatesSince(context.Background(), "room-1", 1)
	if err != nil {
		t.Fatalf("DocumentUpdatesSince() failed: %v", err)
	}
	if len(got) != 2 || got[0].Clock != 2 || got[1].Clock != 3 {
		t.Errorf("DocumentUpdatesSince(1) = %+v", got)
	}
	if !bytes.Equal(got[0].Payload, []byte{2}) {
		t.Errorf("payload = %v", got[0].Payload)
	}
}

func TestAppendDocumentUpdate_ClockCollision(t *testing.T) {
	s := createTestStore(t)
	appendUpdates(t, s, "room-1", 1)

	err := s.AppendDocumentUpdate(context.Background(), ir.DocumentUpdate{
		RoomID: "room-1", Clock: 1, Payload: []byte{9}, Actor: "x", CreatedAt: testEpoch,
	})
	if !errs.IsConflict(err) {
		t.Errorf("collision error = %v, want conflict", err)
	}
}

func TestSnapshotsAndCompaction(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	appendUpdates(t, s, "room-1", 1, 2, 3, 4)

	if _, ok, err := s.LatestSnapshot(ctx, "room-1"); err != nil || ok {
		t.Fatalf("LatestSnapshot() on fresh room = ok %v, err %v", ok, err)
	}

	for _, c := range []int64{2, 3} {
		snap := ir.DocumentSnapshot{RoomID: "room-1", Clock: c, State: []byte{byte(c)}, CreatedAt: testEpoch}
		if err := s.InsertSnapshot(ctx, snap); err != nil {
			t.Fatalf("InsertSnapshot(%d) failed: %v", c, err)
		}
	}
	// Re-snapshotting an existing clock is accepted.
	if err := s.InsertSnapshot(ctx, ir.DocumentSnapshot{RoomID: "room-1", Clock: 3, State: []byte{3}, CreatedAt: testEpoch}); err != nil {
		t.Fatalf("repeat InsertSnapshot() failed: %v", err)
	}

	snap, ok, err := s.LatestSnapshot(ctx, "room-1")
	if err != nil || !ok {
		t.Fatalf("LatestSnapshot() = ok %v, err %v", ok, err)
	}
	if snap.Clock != 3 {
		t.Errorf("latest snapshot clock = %d, want 3", snap.Clock)
	}

	n, err := s.DeleteUpdatesBefore(ctx, "room-1", 3)
	if err != nil {
		t.Fatalf("DeleteUpdatesBefore() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d updates, want 2", n)
	}
	n, err = s.DeleteSnapshotsBefore(ctx, "room-1", 3)
	if err != nil {
		t.Fatalf("DeleteSnapshotsBefore() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d snapshots, want 1", n)
	}

	rest, err := s.DocumentUpdatesSince(ctx, "room-1", 0)
	if err != nil {
		t.Fatalf("DocumentUpdatesSince() failed: %v", err)
	}
	if len(rest) != 2 || rest[0].Clock != 3 {
		t.Errorf("remaining updates = %+v", rest)
	}

	rooms, err := s.DocumentRooms(ctx)
	if err != nil {
		t.Fatalf("DocumentRooms() failed: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != "room-1" {
		t.Errorf("DocumentRooms() = %v", rooms)
	}
}
