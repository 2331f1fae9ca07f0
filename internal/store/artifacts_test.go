package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
)

func TestInsertArtifact_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := createTestArtifact("ds-1", "org-1", 0)
	a.PHIRisk = true
	a.Content = "age,outcome"
	a.Metadata = map[string]any{"title": "Cohort", "rows": 120}
	mustInsertArtifact(t, s, a)

	got, err := s.GetArtifact(ctx, "ds-1", false)
	if err != nil {
		t.Fatalf("GetArtifact() failed: %v", err)
	}
	if got.Type != ir.ArtifactDataset || got.OrgID != "org-1" || !got.PHIRisk {
		t.Errorf("GetArtifact() = %+v", got)
	}
	if got.Content != "age,outcome" {
		t.Errorf("content = %q", got.Content)
	}
	if got.Metadata["title"] != "Cohort" {
		t.Errorf("metadata title = %v", got.Metadata["title"])
	}
	if got.Metadata["rows"] != json.Number("120") {
		t.Errorf("metadata rows = %#v, want json.Number(120)", got.Metadata["rows"])
	}
	if !got.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, a.CreatedAt)
	}
	if got.Deleted() {
		t.Error("new artifact reported as deleted")
	}
}

func TestInsertArtifact_DuplicateIsConflict(t *testing.T) {
	s := createTestStore(t)
	a := createTestArtifact("ds-1", "org-1", 0)
	mustInsertArtifact(t, s, a)

	err := s.InsertArtifact(context.Background(), a)
	if !errs.IsConflict(err) {
		t.Errorf("duplicate insert error = %v, want conflict", err)
	}
}

func TestGetArtifact_Missing(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetArtifact(context.Background(), "nope", true)
	if !errs.IsNotFound(err) {
		t.Errorf("GetArtifact() error = %v, want not found", err)
	}
}

func TestSoftDeleteArtifact_HidesFromDefaultReads(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustInsertArtifact(t, s, createTestArtifact("ds-1", "org-1", 0))

	at := testEpoch.Add(time.Hour)
	if err := s.SoftDeleteArtifact(ctx, "ds-1", at); err != nil {
		t.Fatalf("SoftDeleteArtifact() failed: %v", err)
	}

	if _, err := s.GetArtifact(ctx, "ds-1", false); !errs.IsNotFound(err) {
		t.Errorf("deleted artifact visible by default: err = %v", err)
	}

	got, err := s.GetArtifact(ctx, "ds-1", true)
	if err != nil {
		t.Fatalf("GetArtifact(includeDeleted) failed: %v", err)
	}
	if got.DeletedAt == nil || !got.DeletedAt.Equal(at) {
		t.Errorf("deleted_at = %v, want %v", got.DeletedAt, at)
	}

	// A second delete has nothing live to act on.
	if err := s.SoftDeleteArtifact(ctx, "ds-1", at); !errs.IsNotFound(err) {
		t.Errorf("second delete error = %v, want not found", err)
	}
}

func TestUpdateArtifact(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := createTestArtifact("ds-1", "org-1", 0)
	mustInsertArtifact(t, s, a)

	a.Content = "v2"
	a.Version = 2
	a.UpdatedAt = testEpoch.Add(time.Minute)
	if err := s.UpdateArtifact(ctx, a); err != nil {
		t.Fatalf("UpdateArtifact() failed: %v", err)
	}

	got, err := s.GetArtifact(ctx, "ds-1", false)
	if err != nil {
		t.Fatalf("GetArtifact() failed: %v", err)
	}
	if got.Version != 2 || got.Content != "v2" || !got.UpdatedAt.Equal(a.UpdatedAt) {
		t.Errorf("after update = %+v", got)
	}

	if err := s.SoftDeleteArtifact(ctx, "ds-1", testEpoch.Add(time.Hour)); err != nil {
		t.Fatalf("SoftDeleteArtifact() failed: %v", err)
	}
	a.Version = 3
	if err := s.UpdateArtifact(ctx, a); !errs.IsNotFound(err) {
		t.Errorf("update of deleted artifact error = %v, want not found", err)
	}
}

func TestListArtifacts_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a1 := createTestArtifact("a1", "org-1", 0)
	a2 := createTestArtifact("a2", "org-1", time.Second)
	a2.Type = ir.ArtifactManuscript
	a3 := createTestArtifact("a3", "org-2", 2*time.Second)
	for _, a := range []ir.Artifact{a1, a2, a3} {
		mustInsertArtifact(t, s, a)
	}
	if err := s.SoftDeleteArtifact(ctx, "a1", testEpoch.Add(time.Hour)); err != nil {
		t.Fatalf("SoftDeleteArtifact() failed: %v", err)
	}

	tests := []struct {
		name   string
		filter ArtifactFilter
		want   []string
	}{
		{"org live", ArtifactFilter{OrgID: "org-1"}, []string{"a2"}},
		{"org with deleted", ArtifactFilter{OrgID: "org-1", IncludeDeleted: true}, []string{"a1", "a2"}},
		{"by type", ArtifactFilter{Type: ir.ArtifactDataset}, []string{"a3"}},
		{"all", ArtifactFilter{IncludeDeleted: true}, []string{"a1", "a2", "a3"}},
		{"limit", ArtifactFilter{IncludeDeleted: true, Limit: 2}, []string{"a1", "a2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListArtifacts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListArtifacts() failed: %v", err)
			}
			var ids []string
			for _, a := range got {
				ids = append(ids, a.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ids = %v, want %v", ids, tt.want)
					break
				}
			}
		})
	}
}
