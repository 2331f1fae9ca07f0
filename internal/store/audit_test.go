package store

import (
	"context"
	"testing"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
)

func appendChain(t *testing.T, s *Store, scope string, n int) []ir.AuditEntry {
	t.Helper()
	ctx := context.Background()
	var entries []ir.AuditEntry
	prev := ir.GenesisHash
	for seq := int64(1); seq <= int64(n); seq++ {
		e := createTestAuditEntry(t, scope, seq, prev)
		if err := s.AppendAuditEntry(ctx, e); err != nil {
			t.Fatalf("AppendAuditEntry(seq=%d) failed: %v", seq, err)
		}
		entries = append(entries, e)
		prev = e.CurrentHash
	}
	return entries
}

func TestChainHead_EmptyScope(t *testing.T) {
	s := createTestStore(t)

	seq, hash, err := s.ChainHead(context.Background(), "org:none")
	if err != nil {
		t.Fatalf("ChainHead() failed: %v", err)
	}
	if seq != 0 || hash != ir.GenesisHash {
		t.Errorf("ChainHead() = (%d, %q), want (0, %q)", seq, hash, ir.GenesisHash)
	}
}

func TestAppendAuditEntry_AdvancesHead(t *testing.T) {
	s := createTestStore(t)
	entries := appendChain(t, s, "org:1", 3)

	seq, hash, err := s.ChainHead(context.Background(), "org:1")
	if err != nil {
		t.Fatalf("ChainHead() failed: %v", err)
	}
	if seq != 3 || hash != entries[2].CurrentHash {
		t.Errorf("ChainHead() = (%d, %q), want (3, %q)", seq, hash, entries[2].CurrentHash)
	}
}

func TestAppendAuditEntry_StaleHeadIsConflict(t *testing.T) {
	s := createTestStore(t)
	appendChain(t, s, "org:1", 2)

	// seq 4 skips 3: the head guard must refuse it.
	e := createTestAuditEntry(t, "org:1", 4, "whatever")
	err := s.InTx(context.Background(), func(tx *Tx) error {
		return tx.AppendAuditEntry(context.Background(), e)
	})
	if !errs.IsConflict(err) {
		t.Fatalf("gap append error = %v, want conflict", err)
	}

	// The rolled-back transaction left nothing behind.
	entries, err := s.AuditEntries(context.Background(), "org:1", AuditFilter{})
	if err != nil {
		t.Fatalf("AuditEntries() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
}

func TestAppendAuditEntry_DuplicateSeqIsConflict(t *testing.T) {
	s := createTestStore(t)
	entries := appendChain(t, s, "org:1", 1)

	err := s.AppendAuditEntry(context.Background(), entries[0])
	if !errs.IsConflict(err) {
		t.Errorf("duplicate seq error = %v, want conflict", err)
	}
}

func TestAuditEntries_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	want := appendChain(t, s, "org:1", 3)
	appendChain(t, s, "org:2", 1)

	got, err := s.AuditEntries(context.Background(), "org:1", AuditFilter{})
	if err != nil {
		t.Fatalf("AuditEntries() failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i].Seq != want[i].Seq || got[i].CurrentHash != want[i].CurrentHash {
			t.Errorf("entry %d = (%d, %s), want (%d, %s)", i, got[i].Seq, got[i].CurrentHash, want[i].Seq, want[i].CurrentHash)
		}
		if got[i].PayloadJSON != want[i].PayloadJSON {
			t.Errorf("entry %d payload = %s, want %s", i, got[i].PayloadJSON, want[i].PayloadJSON)
		}
		if !got[i].RecordedAt.Equal(want[i].RecordedAt) {
			t.Errorf("entry %d recorded_at = %v, want %v", i, got[i].RecordedAt, want[i].RecordedAt)
		}
		// Stored rows must rehash to the stored value.
		if h := ir.MustChainHash(got[i], got[i].PreviousHash); h != got[i].CurrentHash {
			t.Errorf("entry %d rehash = %s, want %s", i, h, got[i].CurrentHash)
		}
	}

	page, err := s.AuditEntries(context.Background(), "org:1", AuditFilter{AfterSeq: 1, Limit: 1})
	if err != nil {
		t.Fatalf("AuditEntries(page) failed: %v", err)
	}
	if len(page) != 1 || page[0].Seq != 2 {
		t.Errorf("page = %+v, want seq 2 only", page)
	}
}

func TestAuditScopesAndSubjectHistory(t *testing.T) {
	s := createTestStore(t)
	appendChain(t, s, "org:b", 2)
	appendChain(t, s, "org:a", 1)
	ctx := context.Background()

	scopes, err := s.AuditScopes(ctx)
	if err != nil {
		t.Fatalf("AuditScopes() failed: %v", err)
	}
	if len(scopes) != 2 || scopes[0] != "org:a" || scopes[1] != "org:b" {
		t.Errorf("AuditScopes() = %v", scopes)
	}

	history, err := s.SubjectHistory(ctx, "art-1")
	if err != nil {
		t.Fatalf("SubjectHistory() failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("SubjectHistory() = %d entries, want 3", len(history))
	}
	// seq 1 of both scopes share recorded_at; scope breaks the tie.
	if history[0].ScopeID != "org:a" || history[1].ScopeID != "org:b" || history[2].Seq != 2 {
		t.Errorf("history order = %+v", history)
	}
}
