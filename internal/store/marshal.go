package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
)

// marshalMetadata converts free-form metadata to canonical JSON TEXT.
// Canonical form keeps the stored text stable across rewrites so audit
// before/after values compare byte for byte.
func marshalMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

// unmarshalMetadata parses metadata TEXT, keeping numbers as json.Number
// to avoid float64 precision loss.
func unmarshalMetadata(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return map[string]any{}, nil
	}
	m, err := ir.DecodeObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}

// toNanos converts a wall-clock time to the stored representation.
func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// fromNanos converts a stored timestamp back to UTC time.
func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// nullableNanos converts an optional time.
func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullableNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isTransient reports whether err is lock contention worth retrying.
func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
