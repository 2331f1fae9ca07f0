// Package graph implements the provenance graph engine.
//
// Edges point from a derived artifact to its input: "analysis derived_from
// dataset" is stored as analysis -> dataset, so following outgoing edges
// walks upstream. The live graph (edges whose endpoints are both not
// soft-deleted) is kept acyclic: Link runs its reachability check and the
// insert inside one transaction while holding the organisation's scope lock,
// which is the same lock the audit ledger serializes appends on.
package graph

import (
	"context"

	"go.uber.org/zap"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/governance"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ledger"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/metrics"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

// DefaultMaxDepth bounds traversal when no limit is configured.
const DefaultMaxDepth = 10

// LinkInput describes a new edge.
type LinkInput struct {
	SourceID string
	TargetID string
	Relation ir.Relation
}

// Engine is the provenance graph engine.
type Engine struct {
	ledger   *ledger.Ledger
	guard    *governance.Guard
	maxDepth int
	newID    func() string
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth sets the traversal depth ceiling.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// WithIDGenerator overrides UUID generation for edges.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a graph engine.
func NewEngine(l *ledger.Ledger, guard *governance.Guard, opts ...Option) *Engine {
	e := &Engine{
		ledger:   l,
		guard:    guard,
		maxDepth: DefaultMaxDepth,
		newID:    ir.NewID,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxDepth returns the configured traversal ceiling.
func (e *Engine) MaxDepth() int {
	return e.maxDepth
}

// Link creates source -[relation]-> target.
//
// Errors: CYCLE for a self-loop or when target already reaches source;
// NOT_FOUND when an endpoint is missing or soft-deleted; VALIDATION for an
// unknown relation or endpoints in different organisations; CONFLICT when
// the same (source, target, relation) exists. On any error nothing is
// written, including the audit entry.
func (e *Engine) Link(ctx context.Context, actor string, in LinkInput) (ir.Edge, error) {
	edge, err := e.link(ctx, actor, in)
	switch {
	case err == nil:
		metrics.RecordLink("linked")
	case errs.IsCycle(err):
		metrics.RecordLink("cycle")
	case errs.IsConflict(err):
		metrics.RecordLink("conflict")
	default:
		metrics.RecordLink("error")
	}
	return edge, err
}

func (e *Engine) link(ctx context.Context, actor string, in LinkInput) (ir.Edge, error) {
	if in.SourceID == "" || in.TargetID == "" {
		return ir.Edge{}, errs.Validation("source_id and target_id are required")
	}
	if !ir.ValidRelations[in.Relation] {
		return ir.Edge{}, errs.Validation("unknown relation %q", in.Relation).WithDetail("relation", string(in.Relation))
	}
	if in.SourceID == in.TargetID {
		return ir.Edge{}, errs.Cycle(in.SourceID, in.TargetID, []string{in.SourceID, in.SourceID})
	}
	if err := e.guard.Check(ctx); err != nil {
		return ir.Edge{}, err
	}

	source, err := e.ledger.Store().GetArtifact(ctx, in.SourceID, false)
	if err != nil {
		return ir.Edge{}, err
	}

	edge := ir.Edge{
		ID:       e.newID(),
		SourceID: in.SourceID,
		TargetID: in.TargetID,
		Relation: in.Relation,
		OrgID:    source.OrgID,
	}

	err = e.ledger.Do(ctx, ledger.OrgScope(source.OrgID), func(tx *store.Tx, app *ledger.Appender) error {
		// Endpoints are re-read under the lock: a concurrent soft-delete
		// must not slip between the check and the insert.
		src, err := tx.GetArtifact(ctx, in.SourceID, false)
		if err != nil {
			return err
		}
		tgt, err := tx.GetArtifact(ctx, in.TargetID, false)
		if err != nil {
			return err
		}
		if src.OrgID != tgt.OrgID {
			return errs.Validation("cannot link artifacts of different organisations").
				WithDetail("source_org", src.OrgID).
				WithDetail("target_org", tgt.OrgID)
		}

		live, err := tx.LiveEdges(ctx, src.OrgID)
		if err != nil {
			return err
		}
		if path := newAdjacency(live).path(in.TargetID, in.SourceID); path != nil {
			return errs.Cycle(in.SourceID, in.TargetID, append([]string{in.SourceID}, path...))
		}

		edge.CreatedAt = e.ledger.Now()
		if err := tx.InsertEdge(ctx, edge); err != nil {
			return err
		}
		_, err = app.Append(ctx, ledger.Event{
			Type:      ir.EventEdgeLinked,
			Actor:     actor,
			SubjectID: edge.ID,
			Payload: map[string]any{
				"source_id": edge.SourceID,
				"target_id": edge.TargetID,
				"relation":  string(edge.Relation),
			},
		})
		return err
	})
	if err != nil {
		if errs.IsCycle(err) {
			e.logger.Info("link rejected: cycle",
				zap.String("source", in.SourceID),
				zap.String("target", in.TargetID),
				zap.String("relation", string(in.Relation)),
			)
		}
		return ir.Edge{}, err
	}

	e.logger.Info("edge linked",
		zap.String("edge", edge.ID),
		zap.String("source", edge.SourceID),
		zap.String("target", edge.TargetID),
		zap.String("relation", string(edge.Relation)),
		zap.String("actor", actor),
	)
	return edge, nil
}

// Unlink deletes an edge. Removing an edge never introduces a cycle.
func (e *Engine) Unlink(ctx context.Context, actor, edgeID string) (ir.Edge, error) {
	if edgeID == "" {
		return ir.Edge{}, errs.Validation("edge id is required")
	}
	if err := e.guard.Check(ctx); err != nil {
		return ir.Edge{}, err
	}

	edge, err := e.ledger.Store().GetEdge(ctx, edgeID)
	if err != nil {
		return ir.Edge{}, err
	}

	err = e.ledger.Do(ctx, ledger.OrgScope(edge.OrgID), func(tx *store.Tx, app *ledger.Appender) error {
		if err := tx.DeleteEdge(ctx, edgeID); err != nil {
			return err
		}
		_, err := app.Append(ctx, ledger.Event{
			Type:      ir.EventEdgeUnlinked,
			Actor:     actor,
			SubjectID: edge.ID,
			Payload: map[string]any{
				"source_id": edge.SourceID,
				"target_id": edge.TargetID,
				"relation":  string(edge.Relation),
			},
		})
		return err
	})
	if err != nil {
		return ir.Edge{}, err
	}

	e.logger.Info("edge unlinked", zap.String("edge", edge.ID), zap.String("actor", actor))
	return edge, nil
}
