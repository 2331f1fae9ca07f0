package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
)

const auditColumns = `scope_id, seq, event_type, actor, subject_id, payload, payload_digest, previous_hash, current_hash, recorded_at`

// AuditFilter narrows AuditEntries.
type AuditFilter struct {
	SubjectID string
	AfterSeq  int64
	Limit     int
}

// ChainHead returns the tail of a chain scope. An empty scope reports
// seq 0 and the genesis sentinel.
func (q queries) ChainHead(ctx context.Context, scopeID string) (int64, string, error) {
	var (
		seq  int64
		hash string
	)
	err := q.q.QueryRowContext(ctx, `SELECT seq, hash FROM chain_heads WHERE scope_id = ?`, scopeID).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ir.GenesisHash, nil
	}
	if err != nil {
		return 0, "", errs.Persistence(err, "read chain head")
	}
	return seq, hash, nil
}

// AppendAuditEntry inserts an entry and advances the scope's tail pointer.
//
// The tail update is conditional on the previous seq so that a writer that
// computed its hash from a stale head fails with a conflict instead of
// forking the chain.
func (q queries) AppendAuditEntry(ctx context.Context, e ir.AuditEntry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO audit_entries
		(scope_id, seq, event_type, actor, subject_id, payload, payload_digest, previous_hash, current_hash, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ScopeID,
		e.Seq,
		string(e.EventType),
		e.Actor,
		e.SubjectID,
		e.PayloadJSON,
		e.PayloadDigest,
		e.PreviousHash,
		e.CurrentHash,
		toNanos(e.RecordedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Conflict("audit seq %d already exists in scope %q", e.Seq, e.ScopeID)
		}
		return errs.Persistence(err, "insert audit entry")
	}

	res, err := q.q.ExecContext(ctx, `
		INSERT INTO chain_heads (scope_id, seq, hash) VALUES (?, ?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET seq = excluded.seq, hash = excluded.hash
		WHERE chain_heads.seq = excluded.seq - 1
	`, e.ScopeID, e.Seq, e.CurrentHash)
	if err != nil {
		return errs.Persistence(err, "advance chain head")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Persistence(err, "advance chain head")
	}
	if n == 0 {
		return errs.Conflict("chain head for scope %q moved concurrently", e.ScopeID)
	}
	return nil
}

// AuditEntries returns a scope's entries in chain order.
func (q queries) AuditEntries(ctx context.Context, scopeID string, f AuditFilter) ([]ir.AuditEntry, error) {
	where := []string{"scope_id = ?", "seq > ?"}
	args := []any{scopeID, f.AfterSeq}
	if f.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, f.SubjectID)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_entries WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY seq ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return q.queryAudit(ctx, query, args...)
}

// SubjectHistory returns every entry about a subject across scopes ordered
// by time, then scope and seq.
func (q queries) SubjectHistory(ctx context.Context, subjectID string) ([]ir.AuditEntry, error) {
	return q.queryAudit(ctx, `SELECT `+auditColumns+` FROM audit_entries
		WHERE subject_id = ?
		ORDER BY recorded_at ASC, scope_id COLLATE BINARY ASC, seq ASC`, subjectID)
}

// AuditScopes lists every scope that has at least one entry.
func (q queries) AuditScopes(ctx context.Context) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT scope_id FROM chain_heads ORDER BY scope_id COLLATE BINARY ASC`)
	if err != nil {
		return nil, errs.Persistence(err, "query scopes")
	}
	defer rows.Close()

	scopes := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errs.Persistence(err, "scan scope")
		}
		scopes = append(scopes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence(err, "iterate scopes")
	}
	return scopes, nil
}

func (q queries) queryAudit(ctx context.Context, query string, args ...any) ([]ir.AuditEntry, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Persistence(err, "query audit entries")
	}
	defer rows.Close()

	entries := []ir.AuditEntry{}
	for rows.Next() {
		var (
			e          ir.AuditEntry
			eventType  string
			recordedAt int64
		)
		if err := rows.Scan(
			&e.ScopeID, &e.Seq, &eventType, &e.Actor, &e.SubjectID, &e.PayloadJSON,
			&e.PayloadDigest, &e.PreviousHash, &e.CurrentHash, &recordedAt,
		); err != nil {
			return nil, errs.Persistence(err, "scan audit entry")
		}
		e.EventType = ir.EventType(eventType)
		e.RecordedAt = fromNanos(recordedAt)
		// A payload that no longer parses is still returned: verification
		// must be able to report it as divergent rather than fail the read.
		if payload, err := ir.DecodeObject([]byte(e.PayloadJSON)); err == nil {
			e.Payload = payload
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence(err, "iterate audit entries")
	}
	return entries, nil
}

// AuditEntries is the retrying auto-commit variant.
func (s *Store) AuditEntries(ctx context.Context, scopeID string, f AuditFilter) ([]ir.AuditEntry, error) {
	var out []ir.AuditEntry
	err := s.readRetry(ctx, "audit entries", func() error {
		var err error
		out, err = s.queries.AuditEntries(ctx, scopeID, f)
		return err
	})
	return out, err
}

// SubjectHistory is the retrying auto-commit variant.
func (s *Store) SubjectHistory(ctx context.Context, subjectID string) ([]ir.AuditEntry, error) {
	var out []ir.AuditEntry
	err := s.readRetry(ctx, "subject history", func() error {
		var err error
		out, err = s.queries.SubjectHistory(ctx, subjectID)
		return err
	})
	return out, err
}
