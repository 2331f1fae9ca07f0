package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var (
		mu sync.Mutex
		n  int
	)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return New(st, WithNow(now))
}

func appendN(t *testing.T, l *Ledger, scope string, n int) []ir.AuditEntry {
	t.Helper()
	var out []ir.AuditEntry
	for i := 0; i < n; i++ {
		e, err := l.Append(context.Background(), scope, Event{
			Type:      ir.EventArtifactUpdated,
			Actor:     "user-1",
			SubjectID: "art-1",
			Payload:   map[string]any{"version": int64(i + 1), "title": "Cohort"},
		})
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestAppend_FirstEntryUsesGenesis(t *testing.T) {
	l := newTestLedger(t)
	entries := appendN(t, l, OrgScope("org-1"), 2)

	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, ir.GenesisHash, entries[0].PreviousHash)
	assert.Equal(t, int64(2), entries[1].Seq)
	assert.Equal(t, entries[0].CurrentHash, entries[1].PreviousHash)
	assert.Equal(t, `{"title":"Cohort","version":1}`, entries[0].PayloadJSON)
	assert.Equal(t, ir.Digest([]byte(entries[0].PayloadJSON)), entries[0].PayloadDigest)
}

func TestAppend_ScopesAreIndependent(t *testing.T) {
	l := newTestLedger(t)
	a := appendN(t, l, "org:a", 2)
	b := appendN(t, l, "org:b", 1)

	assert.Equal(t, int64(2), a[1].Seq)
	assert.Equal(t, int64(1), b[0].Seq)
	assert.Equal(t, ir.GenesisHash, b[0].PreviousHash)
}

func TestAppend_RejectsMissingType(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Append(context.Background(), "org:a", Event{Actor: "u"})
	assert.True(t, errs.IsValidation(err), "got %v", err)
}

func TestDo_RollbackConsumesNoSequence(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	scope := OrgScope("org-1")

	boom := errors.New("boom")
	err := l.Do(ctx, scope, func(tx *store.Tx, app *Appender) error {
		_, err := app.Append(ctx, Event{Type: ir.EventEdgeLinked, Actor: "u", SubjectID: "e1"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	e, err := l.Append(ctx, scope, Event{Type: ir.EventEdgeLinked, Actor: "u", SubjectID: "e2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Seq, "rolled back append must not consume a seq")
}

func TestAppend_ConcurrentWritersDoNotFork(t *testing.T) {
	l := newTestLedger(t)
	scope := OrgScope("org-1")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Append(context.Background(), scope, Event{
				Type: ir.EventDocumentUpdated, Actor: "u", SubjectID: "room", Payload: map[string]any{"i": i},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	report, err := l.Verify(context.Background(), scope)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 16, report.Entries)
	assert.Equal(t, int64(16), report.HeadSeq)
}

func TestVerify_EmptyScopeIsValid(t *testing.T) {
	l := newTestLedger(t)
	report, err := l.Verify(context.Background(), "org:none")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 0, report.Entries)
	assert.Equal(t, ir.GenesisHash, report.HeadHash)
}

func TestVerify_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		column string
		value  string
		reason string
	}{
		{"payload rewritten", "payload", `{"title":"Cohort","version":99}`, "payload digest mismatch"},
		{"payload non canonical", "payload", `{"version":2, "title":"Cohort"}`, "payload is not in canonical form"},
		{"current hash rewritten", "current_hash", "deadbeef", "current_hash mismatch"},
		{"actor rewritten", "actor", "mallory", "current_hash mismatch"},
		{"previous hash rewritten", "previous_hash", "GENESIS", "previous_hash does not match preceding entry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t)
			scope := OrgScope("org-1")
			appendN(t, l, scope, 4)

			_, err := l.Store().DB().Exec(
				`UPDATE audit_entries SET `+tt.column+` = ? WHERE scope_id = ? AND seq = 2`,
				tt.value, scope,
			)
			require.NoError(t, err)

			report, err := l.Verify(context.Background(), scope)
			require.Error(t, err)
			assert.True(t, errs.IsTamper(err), "got %v", err)
			assert.False(t, report.Valid)
			assert.Equal(t, int64(2), report.FirstDivergence)
			assert.Equal(t, []int64{2, 3, 4}, report.Divergent)
			assert.Equal(t, tt.reason, report.Reason)

			var e *errs.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, int64(2), e.Details["first_divergence"])
		})
	}
}

func TestVerify_DetectsDeletedEntry(t *testing.T) {
	l := newTestLedger(t)
	scope := OrgScope("org-1")
	appendN(t, l, scope, 3)

	_, err := l.Store().DB().Exec(`DELETE FROM audit_entries WHERE scope_id = ? AND seq = 2`, scope)
	require.NoError(t, err)

	report, err := l.Verify(context.Background(), scope)
	assert.True(t, errs.IsTamper(err))
	assert.Equal(t, int64(2), report.FirstDivergence)
	assert.Equal(t, []int64{3}, report.Divergent)
}

func TestVerify_DetectsTruncatedTail(t *testing.T) {
	l := newTestLedger(t)
	scope := OrgScope("org-1")
	appendN(t, l, scope, 3)

	_, err := l.Store().DB().Exec(`DELETE FROM audit_entries WHERE scope_id = ? AND seq = 3`, scope)
	require.NoError(t, err)

	report, err := l.Verify(context.Background(), scope)
	assert.True(t, errs.IsTamper(err))
	assert.Equal(t, int64(3), report.FirstDivergence)
	assert.Equal(t, []int64{3}, report.Divergent)
}

func TestVerify_DoesNotRewriteHistory(t *testing.T) {
	l := newTestLedger(t)
	scope := OrgScope("org-1")
	appendN(t, l, scope, 2)

	_, err := l.Store().DB().Exec(`UPDATE audit_entries SET actor = 'mallory' WHERE scope_id = ? AND seq = 1`, scope)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := l.Verify(context.Background(), scope)
		assert.True(t, errs.IsTamper(err))
	}

	entries, err := l.Entries(context.Background(), scope, store.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, "mallory", entries[0].Actor)
}

func TestVerifyAll(t *testing.T) {
	l := newTestLedger(t)
	appendN(t, l, "org:a", 2)
	appendN(t, l, "org:b", 2)

	reports, err := l.VerifyAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	_, err = l.Store().DB().Exec(`UPDATE audit_entries SET current_hash = 'x' WHERE scope_id = 'org:b' AND seq = 2`)
	require.NoError(t, err)

	reports, err = l.VerifyAll(context.Background())
	assert.True(t, errs.IsTamper(err))
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Valid)
	assert.False(t, reports[1].Valid)
}

func TestRecordVerification_AppendsChainVerified(t *testing.T) {
	l := newTestLedger(t)
	scope := OrgScope("org-1")
	appendN(t, l, scope, 2)

	report, entry, err := l.RecordVerification(context.Background(), scope, "auditor")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, ir.EventChainVerified, entry.EventType)
	assert.Equal(t, int64(3), entry.Seq)
	assert.Equal(t, true, entry.Payload["valid"])

	report, err = l.Verify(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Entries)
}

func TestHistory(t *testing.T) {
	l := newTestLedger(t)
	appendN(t, l, "org:a", 2)

	history, err := l.History(context.Background(), "art-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
