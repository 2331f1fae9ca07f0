package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
)

const edgeColumns = `e.id, e.source_id, e.target_id, e.relation, e.org_id, e.created_at`

// liveEdgeJoin restricts an edge query to edges whose endpoints are both
// live (not soft-deleted).
const liveEdgeJoin = `
	FROM edges e
	JOIN artifacts s ON s.id = e.source_id AND s.deleted_at IS NULL
	JOIN artifacts t ON t.id = e.target_id AND t.deleted_at IS NULL
`

// InsertEdge writes a new edge. A second edge with the same
// (source, target, relation) is a conflict.
func (q queries) InsertEdge(ctx context.Context, e ir.Edge) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO edges (id, source_id, target_id, relation, org_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.SourceID,
		e.TargetID,
		string(e.Relation),
		e.OrgID,
		toNanos(e.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Conflict("edge %s -[%s]-> %s already exists", e.SourceID, e.Relation, e.TargetID).
				WithDetail("source_id", e.SourceID).
				WithDetail("target_id", e.TargetID).
				WithDetail("relation", string(e.Relation))
		}
		return errs.Persistence(err, "insert edge")
	}
	return nil
}

// GetEdge retrieves an edge by ID regardless of endpoint liveness.
func (q queries) GetEdge(ctx context.Context, id string) (ir.Edge, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges e WHERE e.id = ?`, id)
	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Edge{}, errs.NotFound("edge", id)
	}
	return e, err
}

// DeleteEdge removes an edge. Removal can never introduce a cycle.
func (q queries) DeleteEdge(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id)
	if err != nil {
		return errs.Persistence(err, "delete edge")
	}
	return expectOneRow(res, "edge", id)
}

// OutgoingEdges returns live edges whose source is artifactID, i.e. the
// links to its direct upstream neighbours.
func (q queries) OutgoingEdges(ctx context.Context, artifactID string) ([]ir.Edge, error) {
	return q.queryEdges(ctx, `SELECT `+edgeColumns+liveEdgeJoin+`
		WHERE e.source_id = ?
		ORDER BY e.created_at ASC, e.id COLLATE BINARY ASC`, artifactID)
}

// IncomingEdges returns live edges whose target is artifactID, i.e. the
// links from its direct downstream neighbours.
func (q queries) IncomingEdges(ctx context.Context, artifactID string) ([]ir.Edge, error) {
	return q.queryEdges(ctx, `SELECT `+edgeColumns+liveEdgeJoin+`
		WHERE e.target_id = ?
		ORDER BY e.created_at ASC, e.id COLLATE BINARY ASC`, artifactID)
}

// LiveEdges returns every live edge in an organisation.
func (q queries) LiveEdges(ctx context.Context, orgID string) ([]ir.Edge, error) {
	return q.queryEdges(ctx, `SELECT `+edgeColumns+liveEdgeJoin+`
		WHERE e.org_id = ?
		ORDER BY e.created_at ASC, e.id COLLATE BINARY ASC`, orgID)
}

// AllEdges returns every edge of an organisation including those touching
// soft-deleted artifacts. Used by audit replay tooling.
func (q queries) AllEdges(ctx context.Context, orgID string) ([]ir.Edge, error) {
	return q.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges e
		WHERE e.org_id = ?
		ORDER BY e.created_at ASC, e.id COLLATE BINARY ASC`, orgID)
}

func (q queries) queryEdges(ctx context.Context, query string, args ...any) ([]ir.Edge, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Persistence(err, "query edges")
	}
	defer rows.Close()

	edges := []ir.Edge{}
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence(err, "iterate edges")
	}
	return edges, nil
}

// GetEdge is the retrying auto-commit variant.
func (s *Store) GetEdge(ctx context.Context, id string) (ir.Edge, error) {
	var e ir.Edge
	err := s.readRetry(ctx, "get edge", func() error {
		var err error
		e, err = s.queries.GetEdge(ctx, id)
		return err
	})
	return e, err
}

// OutgoingEdges is the retrying auto-commit variant.
func (s *Store) OutgoingEdges(ctx context.Context, artifactID string) ([]ir.Edge, error) {
	var out []ir.Edge
	err := s.readRetry(ctx, "outgoing edges", func() error {
		var err error
		out, err = s.queries.OutgoingEdges(ctx, artifactID)
		return err
	})
	return out, err
}

// IncomingEdges is the retrying auto-commit variant.
func (s *Store) IncomingEdges(ctx context.Context, artifactID string) ([]ir.Edge, error) {
	var out []ir.Edge
	err := s.readRetry(ctx, "incoming edges", func() error {
		var err error
		out, err = s.queries.IncomingEdges(ctx, artifactID)
		return err
	})
	return out, err
}

// LiveEdges is the retrying auto-commit variant.
func (s *Store) LiveEdges(ctx context.Context, orgID string) ([]ir.Edge, error) {
	var out []ir.Edge
	err := s.readRetry(ctx, "live edges", func() error {
		var err error
		out, err = s.queries.LiveEdges(ctx, orgID)
		return err
	})
	return out, err
}

func scanEdge(row rowScanner) (ir.Edge, error) {
	var (
		e         ir.Edge
		relation  string
		createdAt int64
	)
	err := row.Scan(&e.ID, &e.SourceID, &e.TargetID, &relation, &e.OrgID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Edge{}, err
	}
	if err != nil {
		return ir.Edge{}, errs.Persistence(err, "scan edge")
	}
	e.Relation = ir.Relation(relation)
	e.CreatedAt = fromNanos(createdAt)
	return e, nil
}
