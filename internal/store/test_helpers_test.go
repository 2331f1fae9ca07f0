package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestArtifact creates a live artifact with minimal required fields.
func createTestArtifact(id, orgID string, offset time.Duration) ir.Artifact {
	at := testEpoch.Add(offset)
	return ir.Artifact{
		ID:        id,
		Type:      ir.ArtifactDataset,
		OrgID:     orgID,
		OwnerID:   "user-1",
		Metadata:  map[string]any{"title": id},
		Version:   1,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// mustInsertArtifact inserts a test artifact or fails the test.
func mustInsertArtifact(t *testing.T, s *Store, a ir.Artifact) {
	t.Helper()
	if err := s.InsertArtifact(context.Background(), a); err != nil {
		t.Fatalf("InsertArtifact(%s) failed: %v", a.ID, err)
	}
}

// createTestEdge creates an edge between two artifacts of org-1.
func createTestEdge(id, source, target string, offset time.Duration) ir.Edge {
	return ir.Edge{
		ID:        id,
		SourceID:  source,
		TargetID:  target,
		Relation:  ir.RelationDerivedFrom,
		OrgID:     "org-1",
		CreatedAt: testEpoch.Add(offset),
	}
}

// createTestAuditEntry builds an entry with a hash computed from prev.
func createTestAuditEntry(t *testing.T, scope string, seq int64, prev string) ir.AuditEntry {
	t.Helper()
	payload := map[string]any{"n": seq}
	canonical, digest, err := ir.PayloadDigest(payload)
	if err != nil {
		t.Fatalf("PayloadDigest failed: %v", err)
	}
	e := ir.AuditEntry{
		ScopeID:       scope,
		Seq:           seq,
		EventType:     ir.EventArtifactCreated,
		Actor:         "user-1",
		SubjectID:     "art-1",
		Payload:       payload,
		PayloadJSON:   string(canonical),
		PayloadDigest: digest,
		PreviousHash:  prev,
		RecordedAt:    testEpoch.Add(time.Duration(seq) * time.Second),
	}
	e.CurrentHash = ir.MustChainHash(e, prev)
	return e
}
