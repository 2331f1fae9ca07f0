package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/artifact"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/graph"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

type createArtifactRequest struct {
	ID       string         `json:"id" validate:"omitempty,uuid"`
	Type     string         `json:"type" validate:"required"`
	OrgID    string         `json:"org_id"`
	OwnerID  string         `json:"owner_id"`
	PHIRisk  bool           `json:"phi_risk"`
	Metadata map[string]any `json:"metadata"`
	Content  string         `json:"content"`
}

type updateArtifactRequest struct {
	Metadata map[string]any `json:"metadata"`
	Content  *string        `json:"content"`
	PHIRisk  *bool          `json:"phi_risk"`
}

type createEdgeRequest struct {
	SourceID string `json:"source_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
	Relation string `json:"relation" validate:"required"`
}

// createArtifact handles POST /artifacts. org_id and owner_id default to
// the caller.
func (s *Server) createArtifact(w http.ResponseWriter, r *http.Request) {
	var req createArtifactRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := principalFrom(r.Context())
	if req.OrgID == "" {
		req.OrgID = p.OrgID
	}
	if req.OwnerID == "" {
		req.OwnerID = p.ActorID
	}

	a, err := s.Artifacts.Create(r.Context(), p.ActorID, artifact.CreateInput{
		ID:       req.ID,
		Type:     ir.ArtifactType(req.Type),
		OrgID:    req.OrgID,
		OwnerID:  req.OwnerID,
		PHIRisk:  req.PHIRisk,
		Metadata: req.Metadata,
		Content:  req.Content,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, a)
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	includeDeleted, err := queryBool(r, "include_deleted")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.Artifacts.Get(r.Context(), chi.URLParam(r, "id"), artifact.GetOptions{IncludeDeleted: includeDeleted})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, a)
}

// listArtifacts handles GET /artifacts. org_id defaults to the caller's
// organisation.
func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeDeleted, err := queryBool(r, "include_deleted")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := store.ArtifactFilter{
		OrgID:          q.Get("org_id"),
		Type:           ir.ArtifactType(q.Get("type")),
		IncludeDeleted: includeDeleted,
		Limit:          int(limit),
	}
	if f.OrgID == "" {
		f.OrgID = principalFrom(r.Context()).OrgID
	}
	if f.OrgID == "" {
		s.writeError(w, r, errs.Validation("org_id is required"))
		return
	}
	list, err := s.Artifacts.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, list)
}

func (s *Server) updateArtifact(w http.ResponseWriter, r *http.Request) {
	var req updateArtifactRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.Artifacts.Update(r.Context(), principalFrom(r.Context()).ActorID, chi.URLParam(r, "id"), artifact.Patch{
		Metadata: req.Metadata,
		Content:  req.Content,
		PHIRisk:  req.PHIRisk,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, a)
}

func (s *Server) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := s.Artifacts.SoftDelete(r.Context(), principalFrom(r.Context()).ActorID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, a)
}

func (s *Server) artifactHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Artifacts.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, entries)
}

func (s *Server) artifactOutdated(w http.ResponseWriter, r *http.Request) {
	report, err := s.Graph.IsOutdated(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, report)
}

// artifactGraph handles GET /artifacts/{id}/graph?direction=&depth=.
func (s *Server) artifactGraph(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "depth")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dir := ir.Direction(r.URL.Query().Get("direction"))
	sg, err := s.Graph.Traverse(r.Context(), chi.URLParam(r, "id"), dir, int(depth))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, sg)
}

// artifactDocument returns the collaborative document text of an artifact.
func (s *Server) artifactDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Artifacts.Get(r.Context(), id, artifact.GetOptions{}); err != nil {
		s.writeError(w, r, err)
		return
	}
	text, clock, err := s.Collab.Text(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"artifact_id": id,
		"clock":       clock,
		"text":        text,
	})
}

func (s *Server) createEdge(w http.ResponseWriter, r *http.Request) {
	var req createEdgeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	edge, err := s.Graph.Link(r.Context(), principalFrom(r.Context()).ActorID, graph.LinkInput{
		SourceID: req.SourceID,
		TargetID: req.TargetID,
		Relation: ir.Relation(req.Relation),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, edge)
}

func (s *Server) deleteEdge(w http.ResponseWriter, r *http.Request) {
	edge, err := s.Graph.Unlink(r.Context(), principalFrom(r.Context()).ActorID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, edge)
}

func (s *Server) orgOutdated(w http.ResponseWriter, r *http.Request) {
	reports, err := s.Graph.Outdated(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, reports)
}

func (s *Server) orgIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.Graph.CheckIntegrity(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, report)
}

// verifyScope handles GET /audit/{scope}/verify. A broken chain answers
// with the TAMPER error and the full report in its details.
func (s *Server) verifyScope(w http.ResponseWriter, r *http.Request) {
	report, err := s.Ledger.Verify(r.Context(), chi.URLParam(r, "scope"))
	if errs.IsTamper(err) {
		s.writeErrorDetails(w, r, err, map[string]any{"report": report})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, report)
}

func (s *Server) scopeEntries(w http.ResponseWriter, r *http.Request) {
	after, err := queryInt(r, "after_seq")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.Ledger.Entries(r.Context(), chi.URLParam(r, "scope"), store.AuditFilter{
		SubjectID: r.URL.Query().Get("subject_id"),
		AfterSeq:  after,
		Limit:     int(limit),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, entries)
}

func (s *Server) roomStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Collab.Status(r.Context(), chi.URLParam(r, "artifactID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, st)
}

func (s *Server) roomPresence(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, s.Presence.Participants(chi.URLParam(r, "artifactID")))
}

// compactRoom handles POST /rooms/{artifactID}/compact?retention=.
func (s *Server) compactRoom(w http.ResponseWriter, r *http.Request) {
	retention, err := queryInt(r, "retention")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Collab.Compact(r.Context(), principalFrom(r.Context()).ActorID, chi.URLParam(r, "artifactID"), retention)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}
