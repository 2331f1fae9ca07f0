package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
)

const artifactColumns = `id, type, org_id, owner_id, phi_risk, metadata, content, version, created_at, updated_at, deleted_at`

// ArtifactFilter narrows ListArtifacts.
type ArtifactFilter struct {
	OrgID          string
	Type           ir.ArtifactType
	IncludeDeleted bool
	Limit          int
}

// InsertArtifact writes a new artifact. Duplicate IDs are a conflict.
func (q queries) InsertArtifact(ctx context.Context, a ir.Artifact) error {
	metadata, err := marshalMetadata(a.Metadata)
	if err != nil {
		return err
	}

	_, err = q.q.ExecContext(ctx, `
		INSERT INTO artifacts
		(id, type, org_id, owner_id, phi_risk, metadata, content, version, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		string(a.Type),
		a.OrgID,
		a.OwnerID,
		boolToInt(a.PHIRisk),
		metadata,
		a.Content,
		a.Version,
		toNanos(a.CreatedAt),
		toNanos(a.UpdatedAt),
		nullableNanos(a.DeletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Conflict("artifact %q already exists", a.ID)
		}
		return errs.Persistence(err, "insert artifact")
	}
	return nil
}

// GetArtifact retrieves an artifact by ID. Soft-deleted artifacts are
// reported as not found unless includeDeleted is set.
func (q queries) GetArtifact(ctx context.Context, id string, includeDeleted bool) (ir.Artifact, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Artifact{}, errs.NotFound("artifact", id)
	}
	if err != nil {
		return ir.Artifact{}, err
	}
	if a.Deleted() && !includeDeleted {
		return ir.Artifact{}, errs.NotFound("artifact", id)
	}
	return a, nil
}

// ListArtifacts returns artifacts matching the filter ordered by
// created_at, id.
func (q queries) ListArtifacts(ctx context.Context, f ArtifactFilter) ([]ir.Artifact, error) {
	var (
		where []string
		args  []any
	)
	if f.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, f.OrgID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if !f.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}

	query := `SELECT ` + artifactColumns + ` FROM artifacts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id COLLATE BINARY ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Persistence(err, "query artifacts")
	}
	defer rows.Close()

	artifacts := []ir.Artifact{}
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence(err, "iterate artifacts")
	}
	return artifacts, nil
}

// UpdateArtifact overwrites the mutable columns of a live artifact.
// Returns not found if the artifact does not exist or is soft-deleted.
func (q queries) UpdateArtifact(ctx context.Context, a ir.Artifact) error {
	metadata, err := marshalMetadata(a.Metadata)
	if err != nil {
		return err
	}

	res, err := q.q.ExecContext(ctx, `
		UPDATE artifacts
		SET phi_risk = ?, metadata = ?, content = ?, version = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`,
		boolToInt(a.PHIRisk),
		metadata,
		a.Content,
		a.Version,
		toNanos(a.UpdatedAt),
		a.ID,
	)
	if err != nil {
		return errs.Persistence(err, "update artifact")
	}
	return expectOneRow(res, "artifact", a.ID)
}

// SoftDeleteArtifact sets the soft-delete marker. Edges are untouched.
func (q queries) SoftDeleteArtifact(ctx context.Context, id string, at time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE artifacts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL
	`, toNanos(at), id)
	if err != nil {
		return errs.Persistence(err, "soft delete artifact")
	}
	return expectOneRow(res, "artifact", id)
}

// GetArtifact is the retrying auto-commit variant.
func (s *Store) GetArtifact(ctx context.Context, id string, includeDeleted bool) (ir.Artifact, error) {
	var a ir.Artifact
	err := s.readRetry(ctx, "get artifact", func() error {
		var err error
		a, err = s.queries.GetArtifact(ctx, id, includeDeleted)
		return err
	})
	return a, err
}

// ListArtifacts is the retrying auto-commit variant.
func (s *Store) ListArtifacts(ctx context.Context, f ArtifactFilter) ([]ir.Artifact, error) {
	var out []ir.Artifact
	err := s.readRetry(ctx, "list artifacts", func() error {
		var err error
		out, err = s.queries.ListArtifacts(ctx, f)
		return err
	})
	return out, err
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (ir.Artifact, error) {
	var (
		a                    ir.Artifact
		artifactType         string
		phiRisk              int
		metadata             string
		createdAt, updatedAt int64
		deletedAt            sql.NullInt64
	)
	err := row.Scan(
		&a.ID, &artifactType, &a.OrgID, &a.OwnerID, &phiRisk, &metadata,
		&a.Content, &a.Version, &createdAt, &updatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Artifact{}, err
	}
	if err != nil {
		return ir.Artifact{}, errs.Persistence(err, "scan artifact")
	}

	a.Type = ir.ArtifactType(artifactType)
	a.PHIRisk = phiRisk != 0
	a.Metadata, err = unmarshalMetadata(metadata)
	if err != nil {
		return ir.Artifact{}, err
	}
	a.CreatedAt = fromNanos(createdAt)
	a.UpdatedAt = fromNanos(updatedAt)
	a.DeletedAt = fromNullableNanos(deletedAt)
	return a, nil
}

// expectOneRow converts "no rows affected" into a not-found error.
func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Persistence(err, "rows affected")
	}
	if n == 0 {
		return errs.NotFound(kind, id)
	}
	return nil
}
