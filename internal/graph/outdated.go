package graph

import (
	"context"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

// StaleUpstream is a direct upstream neighbour updated after the edge
// linking to it was created.
type StaleUpstream struct {
	EdgeID            string      `json:"edge_id" yaml:"edge_id"`
	UpstreamID        string      `json:"upstream_id" yaml:"upstream_id"`
	Relation          ir.Relation `json:"relation" yaml:"relation"`
	LinkedAt          time.Time   `json:"linked_at" yaml:"linked_at"`
	UpstreamUpdatedAt time.Time   `json:"upstream_updated_at" yaml:"upstream_updated_at"`
}

// OutdatedReport is the result of IsOutdated.
type OutdatedReport struct {
	ArtifactID string          `json:"artifact_id" yaml:"artifact_id"`
	Outdated   bool            `json:"outdated" yaml:"outdated"`
	Stale      []StaleUpstream `json:"stale" yaml:"stale"`
}

// IsOutdated performs the one-hop staleness check: id is outdated when any
// direct upstream neighbour was updated after the connecting edge was
// created. Staleness does not propagate; callers re-run the check per hop.
func (e *Engine) IsOutdated(ctx context.Context, id string) (OutdatedReport, error) {
	if id == "" {
		return OutdatedReport{}, errs.Validation("artifact id is required")
	}
	st := e.ledger.Store()
	if _, err := st.GetArtifact(ctx, id, false); err != nil {
		return OutdatedReport{}, err
	}

	upstream, err := st.OutgoingEdges(ctx, id)
	if err != nil {
		return OutdatedReport{}, err
	}

	report := OutdatedReport{ArtifactID: id, Stale: []StaleUpstream{}}
	for _, edge := range upstream {
		target, err := st.GetArtifact(ctx, edge.TargetID, false)
		if errs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return OutdatedReport{}, err
		}
		if stale, ok := staleness(edge, target); ok {
			report.Stale = append(report.Stale, stale)
		}
	}
	report.Outdated = len(report.Stale) > 0
	return report, nil
}

// Outdated returns the report of every outdated live artifact in an
// organisation, ordered like ListArtifacts.
func (e *Engine) Outdated(ctx context.Context, orgID string) ([]OutdatedReport, error) {
	if orgID == "" {
		return nil, errs.Validation("org id is required")
	}
	st := e.ledger.Store()
	live, err := st.LiveEdges(ctx, orgID)
	if err != nil {
		return nil, err
	}
	list, err := st.ListArtifacts(ctx, store.ArtifactFilter{OrgID: orgID})
	if err != nil {
		return nil, err
	}
	artifacts := make(map[string]ir.Artifact, len(list))
	for _, a := range list {
		artifacts[a.ID] = a
	}

	adj := newAdjacency(live)
	reports := []OutdatedReport{}
	for _, a := range list {
		report := OutdatedReport{ArtifactID: a.ID, Stale: []StaleUpstream{}}
		for _, edge := range adj.out[a.ID] {
			if stale, ok := staleness(edge, artifacts[edge.TargetID]); ok {
				report.Stale = append(report.Stale, stale)
			}
		}
		if len(report.Stale) > 0 {
			report.Outdated = true
			reports = append(reports, report)
		}
	}
	return reports, nil
}

func staleness(edge ir.Edge, upstream ir.Artifact) (StaleUpstream, bool) {
	if !upstream.UpdatedAt.After(edge.CreatedAt) {
		return StaleUpstream{}, false
	}
	return StaleUpstream{
		EdgeID:            edge.ID,
		UpstreamID:        upstream.ID,
		Relation:          edge.Relation,
		LinkedAt:          edge.CreatedAt,
		UpstreamUpdatedAt: upstream.UpdatedAt,
	}, true
}
