package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
)

func seedEdgeFixture(t *testing.T, s *Store) {
	t.Helper()
	for i, id := range []string{"ds", "an", "fig"} {
		mustInsertArtifact(t, s, createTestArtifact(id, "org-1", time.Duration(i)*time.Second))
	}
	ctx := context.Background()
	// fig derived_from an derived_from ds
	for _, e := range []ir.Edge{
		createTestEdge("e1", "an", "ds", time.Minute),
		createTestEdge("e2", "fig", "an", 2*time.Minute),
	} {
		if err := s.InsertEdge(ctx, e); err != nil {
			t.Fatalf("InsertEdge(%s) failed: %v", e.ID, err)
		}
	}
}

func TestInsertEdge_DuplicateIsConflict(t *testing.T) {
	s := createTestStore(t)
	seedEdgeFixture(t, s)

	err := s.InsertEdge(context.Background(), createTestEdge("e9", "an", "ds", time.Hour))
	if !errs.IsConflict(err) {
		t.Fatalf("duplicate edge error = %v, want conflict", err)
	}
	var e *errs.Error
	if !errors.As(err, &e) || e.Details["relation"] != "derived_from" {
		t.Errorf("conflict details = %+v", e)
	}
}

func TestOutgoingAndIncomingEdges(t *testing.T) {
	s := createTestStore(t)
	seedEdgeFixture(t, s)
	ctx := context.Background()

	out, err := s.OutgoingEdges(ctx, "an")
	if err != nil {
		t.Fatalf("OutgoingEdges() failed: %v", err)
	}
	if len(out) != 1 || out[0].TargetID != "ds" {
		t.Errorf("OutgoingEdges(an) = %+v", out)
	}

	in, err := s.IncomingEdges(ctx, "an")
	if err != nil {
		t.Fatalf("IncomingEdges() failed: %v", err)
	}
	if len(in) != 1 || in[0].SourceID != "fig" {
		t.Errorf("IncomingEdges(an) = %+v", in)
	}
}

func TestLiveEdges_SkipsDeletedEndpoints(t *testing.T) {
	s := createTestStore(t)
	seedEdgeFixture(t, s)
	ctx := context.Background()

	if err := s.SoftDeleteArtifact(ctx, "ds", testEpoch.Add(time.Hour)); err != nil {
		t.Fatalf("SoftDeleteArtifact() failed: %v", err)
	}

	live, err := s.LiveEdges(ctx, "org-1")
	if err != nil {
		t.Fatalf("LiveEdges() failed: %v", err)
	}
	if len(live) != 1 || live[0].ID != "e2" {
		t.Errorf("LiveEdges() = %+v, want only e2", live)
	}

	all, err := s.AllEdges(ctx, "org-1")
	if err != nil {
		t.Fatalf("AllEdges() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("AllEdges() returned %d edges, want 2", len(all))
	}
}

func TestDeleteEdge(t *testing.T) {
	s := createTestStore(t)
	seedEdgeFixture(t, s)
	ctx := context.Background()

	if err := s.DeleteEdge(ctx, "e1"); err != nil {
		t.Fatalf("DeleteEdge() failed: %v", err)
	}
	if _, err := s.GetEdge(ctx, "e1"); !errs.IsNotFound(err) {
		t.Errorf("GetEdge() after delete error = %v, want not found", err)
	}
	if err := s.DeleteEdge(ctx, "e1"); !errs.IsNotFound(err) {
		t.Errorf("second DeleteEdge() error = %v, want not found", err)
	}
}
