// Package artifact implements the artifact store: versioned, soft-deletable
// research outputs whose every mutation is recorded in the audit ledger in
// the same transaction.
package artifact

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/governance"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ledger"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/metrics"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

// CreateInput describes a new artifact.
type CreateInput struct {
	ID       string
	Type     ir.ArtifactType
	OrgID    string
	OwnerID  string
	PHIRisk  bool
	Metadata map[string]any
	Content  string
}

// Patch lists the mutable fields of an artifact. Nil fields are left as is.
type Patch struct {
	Metadata map[string]any
	Content  *string
	PHIRisk  *bool
}

// GetOptions controls Get.
type GetOptions struct {
	IncludeDeleted bool
}

// ListFilter narrows List.
type ListFilter = store.ArtifactFilter

// Service is the artifact store.
type Service struct {
	ledger *ledger.Ledger
	guard  *governance.Guard
	newID  func() string
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator overrides UUID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates an artifact service. Timestamps come from the
// ledger's clock so that artifact and audit times agree.
func NewService(l *ledger.Ledger, guard *governance.Guard, opts ...Option) *Service {
	s := &Service{
		ledger: l,
		guard:  guard,
		newID:  ir.NewID,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and stores a new artifact at version 1.
func (s *Service) Create(ctx context.Context, actor string, in CreateInput) (ir.Artifact, error) {
	if err := validateCreate(in); err != nil {
		metrics.RecordArtifactMutation("create", "invalid")
		return ir.Artifact{}, err
	}
	if err := s.guard.Check(ctx); err != nil {
		metrics.RecordArtifactMutation("create", "denied")
		return ir.Artifact{}, err
	}

	metadata, err := ir.NormalizeJSON(in.Metadata)
	if err != nil {
		return ir.Artifact{}, errs.Wrap(errs.CodeValidation, err, "metadata must be a JSON object")
	}

	id := in.ID
	if id == "" {
		id = s.newID()
	}
	now := s.ledger.Now()
	a := ir.Artifact{
		ID:        id,
		Type:      in.Type,
		OrgID:     in.OrgID,
		OwnerID:   in.OwnerID,
		PHIRisk:   in.PHIRisk,
		Metadata:  metadata,
		Content:   in.Content,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.ledger.Do(ctx, ledger.OrgScope(a.OrgID), func(tx *store.Tx, app *ledger.Appender) error {
		if err := tx.InsertArtifact(ctx, a); err != nil {
			return err
		}
		_, err := app.Append(ctx, ledger.Event{
			Type:      ir.EventArtifactCreated,
			Actor:     actor,
			SubjectID: a.ID,
			Payload: map[string]any{
				"type":     string(a.Type),
				"owner_id": a.OwnerID,
				"phi_risk": a.PHIRisk,
				"metadata": a.Metadata,
				"content":  contentDigest(a.Content),
				"version":  a.Version,
			},
		})
		return err
	})
	if err != nil {
		metrics.RecordArtifactMutation("create", "error")
		return ir.Artifact{}, err
	}

	metrics.RecordArtifactMutation("create", "ok")
	s.logger.Info("artifact created",
		zap.String("artifact", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("org", a.OrgID),
		zap.String("actor", actor),
	)
	return a, nil
}

// Get returns an artifact. Soft-deleted artifacts are NOT_FOUND unless
// opts.IncludeDeleted is set.
func (s *Service) Get(ctx context.Context, id string, opts GetOptions) (ir.Artifact, error) {
	if id == "" {
		return ir.Artifact{}, errs.Validation("artifact id is required")
	}
	return s.ledger.Store().GetArtifact(ctx, id, opts.IncludeDeleted)
}

// List returns artifacts matching f.
func (s *Service) List(ctx context.Context, f ListFilter) ([]ir.Artifact, error) {
	if f.Type != "" && !ir.ValidArtifactTypes[f.Type] {
		return nil, errs.Validation("unknown artifact type %q", f.Type)
	}
	if f.Limit < 0 {
		return nil, errs.Validation("limit must not be negative")
	}
	return s.ledger.Store().ListArtifacts(ctx, f)
}

// Update applies patch to a live artifact, bumps its version and records
// the before and after values of every changed field.
func (s *Service) Update(ctx context.Context, actor, id string, patch Patch) (ir.Artifact, error) {
	if id == "" {
		return ir.Artifact{}, errs.Validation("artifact id is required")
	}
	if patch.Metadata == nil && patch.Content == nil && patch.PHIRisk == nil {
		return ir.Artifact{}, errs.Validation("patch is empty")
	}
	if err := s.guard.Check(ctx); err != nil {
		metrics.RecordArtifactMutation("update", "denied")
		return ir.Artifact{}, err
	}

	var metadata map[string]any
	if patch.Metadata != nil {
		var err error
		if metadata, err = ir.NormalizeJSON(patch.Metadata); err != nil {
			return ir.Artifact{}, errs.Wrap(errs.CodeValidation, err, "metadata must be a JSON object")
		}
	}

	current, err := s.ledger.Store().GetArtifact(ctx, id, false)
	if err != nil {
		return ir.Artifact{}, err
	}

	var updated ir.Artifact
	err = s.ledger.Do(ctx, ledger.OrgScope(current.OrgID), func(tx *store.Tx, app *ledger.Appender) error {
		// Re-read under the scope lock so concurrent patches serialize.
		before, err := tx.GetArtifact(ctx, id, false)
		if err != nil {
			return err
		}

		after := before
		beforeVals := map[string]any{}
		afterVals := map[string]any{}
		if metadata != nil {
			after.Metadata = metadata
			beforeVals["metadata"] = before.Metadata
			afterVals["metadata"] = metadata
		}
		if patch.Content != nil {
			after.Content = *patch.Content
			beforeVals["content"] = contentDigest(before.Content)
			afterVals["content"] = contentDigest(after.Content)
		}
		if patch.PHIRisk != nil {
			after.PHIRisk = *patch.PHIRisk
			beforeVals["phi_risk"] = before.PHIRisk
			afterVals["phi_risk"] = after.PHIRisk
		}
		after.Version = before.Version + 1
		after.UpdatedAt = s.ledger.Now()

		if err := tx.UpdateArtifact(ctx, after); err != nil {
			return err
		}
		if _, err := app.Append(ctx, ledger.Event{
			Type:      ir.EventArtifactUpdated,
			Actor:     actor,
			SubjectID: id,
			Payload: map[string]any{
				"before":  beforeVals,
				"after":   afterVals,
				"version": after.Version,
			},
		}); err != nil {
			return err
		}
		updated = after
		return nil
	})
	if err != nil {
		metrics.RecordArtifactMutation("update", "error")
		return ir.Artifact{}, err
	}

	metrics.RecordArtifactMutation("update", "ok")
	s.logger.Info("artifact updated",
		zap.String("artifact", id),
		zap.Int64("version", updated.Version),
		zap.String("actor", actor),
	)
	return updated, nil
}

// SoftDelete sets the soft-delete marker. Edges are left in place; they
// simply stop participating in traversal while an endpoint is deleted.
func (s *Service) SoftDelete(ctx context.Context, actor, id string) (ir.Artifact, error) {
	if id == "" {
		return ir.Artifact{}, errs.Validation("artifact id is required")
	}
	if err := s.guard.Check(ctx); err != nil {
		metrics.RecordArtifactMutation("delete", "denied")
		return ir.Artifact{}, err
	}

	current, err := s.ledger.Store().GetArtifact(ctx, id, false)
	if err != nil {
		return ir.Artifact{}, err
	}

	var deleted ir.Artifact
	err = s.ledger.Do(ctx, ledger.OrgScope(current.OrgID), func(tx *store.Tx, app *ledger.Appender) error {
		at := s.ledger.Now()
		if err := tx.SoftDeleteArtifact(ctx, id, at); err != nil {
			return err
		}
		if _, err := app.Append(ctx, ledger.Event{
			Type:      ir.EventArtifactDeleted,
			Actor:     actor,
			SubjectID: id,
			Payload: map[string]any{
				"deleted_at": at,
				"version":    current.Version,
			},
		}); err != nil {
			return err
		}
		var err error
		deleted, err = tx.GetArtifact(ctx, id, true)
		return err
	})
	if err != nil {
		metrics.RecordArtifactMutation("delete", "error")
		return ir.Artifact{}, err
	}

	metrics.RecordArtifactMutation("delete", "ok")
	s.logger.Info("artifact soft-deleted", zap.String("artifact", id), zap.String("actor", actor))
	return deleted, nil
}

// History returns the audit entries whose subject is the artifact. It works
// for soft-deleted artifacts too.
func (s *Service) History(ctx context.Context, id string) ([]ir.AuditEntry, error) {
	if _, err := s.ledger.Store().GetArtifact(ctx, id, true); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, id)
}

func validateCreate(in CreateInput) error {
	if !ir.ValidArtifactTypes[in.Type] {
		return errs.Validation("unknown artifact type %q", in.Type).WithDetail("type", string(in.Type))
	}
	if in.OrgID == "" {
		return errs.Validation("org_id is required")
	}
	if in.OwnerID == "" {
		return errs.Validation("owner_id is required")
	}
	if in.ID != "" {
		if _, err := uuid.Parse(in.ID); err != nil {
			return errs.Validation("id %q is not a UUID", in.ID)
		}
	}
	return nil
}

// contentDigest stands in for content in audit payloads. Artifact content
// may carry PHI, which must not be copied into the immutable ledger.
func contentDigest(content string) map[string]any {
	return map[string]any{
		"sha256": ir.Digest([]byte(content)),
		"length": int64(len(content)),
	}
}
