package ledger

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/metrics"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

// VerifyReport is the outcome of walking one chain.
//
// When Valid is false, FirstDivergence is the lowest seq whose stored values
// do not reproduce, and Divergent lists it together with every later seq:
// nothing after a broken link can be trusted.
type VerifyReport struct {
	ScopeID         string  `json:"scope_id" yaml:"scope_id"`
	Valid           bool    `json:"valid" yaml:"valid"`
	Entries         int     `json:"entries" yaml:"entries"`
	HeadSeq         int64   `json:"head_seq" yaml:"head_seq"`
	HeadHash        string  `json:"head_hash" yaml:"head_hash"`
	FirstDivergence int64   `json:"first_divergence,omitempty" yaml:"first_divergence,omitempty"`
	Divergent       []int64 `json:"divergent,omitempty" yaml:"divergent,omitempty"`
	Reason          string  `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Verify recomputes a scope from genesis. A broken chain returns the report
// together with a TAMPER error; the report is populated in both cases.
// Verify never modifies stored entries.
func (l *Ledger) Verify(ctx context.Context, scopeID string) (VerifyReport, error) {
	var (
		entries  []ir.AuditEntry
		headSeq  int64
		headHash string
	)
	// Read head and entries in one transaction so a concurrent append cannot
	// make a valid chain look truncated.
	err := l.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if headSeq, headHash, err = tx.ChainHead(ctx, scopeID); err != nil {
			return err
		}
		entries, err = tx.AuditEntries(ctx, scopeID, store.AuditFilter{})
		return err
	})
	if err != nil {
		metrics.RecordVerification("error")
		return VerifyReport{ScopeID: scopeID}, err
	}

	report := VerifyChain(scopeID, entries, headSeq, headHash)
	if report.Valid {
		metrics.RecordVerification("valid")
		return report, nil
	}

	metrics.RecordVerification("tampered")
	l.logger.Warn("audit chain divergence",
		zap.String("scope", scopeID),
		zap.Int64("first_divergence", report.FirstDivergence),
		zap.Int("divergent", len(report.Divergent)),
		zap.String("reason", report.Reason),
	)
	return report, errs.Tamper(scopeID, report.FirstDivergence, report.Reason).
		WithDetail("divergent", report.Divergent)
}

// VerifyChain checks entries (in seq order) against the stored tail pointer.
// It is pure so that tooling can verify exported chains offline.
func VerifyChain(scopeID string, entries []ir.AuditEntry, headSeq int64, headHash string) VerifyReport {
	report := VerifyReport{
		ScopeID:  scopeID,
		Valid:    true,
		Entries:  len(entries),
		HeadSeq:  headSeq,
		HeadHash: headHash,
	}

	prev := ir.GenesisHash
	for i, e := range entries {
		expectedSeq := int64(i + 1)
		if reason := checkEntry(e, expectedSeq, prev); reason != "" {
			report.Valid = false
			report.FirstDivergence = expectedSeq
			report.Reason = reason
			for _, rest := range entries[i:] {
				report.Divergent = append(report.Divergent, rest.Seq)
			}
			return report
		}
		prev = e.CurrentHash
	}

	lastSeq := int64(len(entries))
	switch {
	case headSeq > lastSeq:
		// Entries past the last stored row were removed.
		report.Valid = false
		report.FirstDivergence = lastSeq + 1
		report.Reason = fmt.Sprintf("chain truncated: head at seq %d, last entry seq %d", headSeq, lastSeq)
		for s := lastSeq + 1; s <= headSeq; s++ {
			report.Divergent = append(report.Divergent, s)
		}
	case headSeq != lastSeq || headHash != prev:
		report.Valid = false
		report.FirstDivergence = lastSeq
		if lastSeq == 0 {
			report.FirstDivergence = 1
		}
		report.Reason = "chain head does not match last entry"
		report.Divergent = []int64{report.FirstDivergence}
	}
	return report
}

// checkEntry returns a non-empty reason when e does not reproduce.
func checkEntry(e ir.AuditEntry, expectedSeq int64, prev string) string {
	if e.Seq != expectedSeq {
		return fmt.Sprintf("sequence gap: expected seq %d, found %d", expectedSeq, e.Seq)
	}
	if e.PreviousHash != prev {
		return "previous_hash does not match preceding entry"
	}

	// The stored payload must still be canonical; a rewritten payload that
	// happens to parse is caught here or by the digest below.
	payload, err := ir.DecodeObject([]byte(e.PayloadJSON))
	if err != nil {
		return "payload is not valid JSON"
	}
	canonical, err := ir.MarshalCanonical(payload)
	if err != nil || !bytes.Equal(canonical, []byte(e.PayloadJSON)) {
		return "payload is not in canonical form"
	}
	if ir.Digest(canonical) != e.PayloadDigest {
		return "payload digest mismatch"
	}

	recomputed, err := ir.ChainHash(e, prev)
	if err != nil {
		return "chain hash not computable"
	}
	if recomputed != e.CurrentHash {
		return "current_hash mismatch"
	}
	return ""
}

// VerifyAll verifies every scope. The returned error is the first tamper or
// persistence failure; reports cover every scope that could be read.
func (l *Ledger) VerifyAll(ctx context.Context) ([]VerifyReport, error) {
	scopes, err := l.store.AuditScopes(ctx)
	if err != nil {
		return nil, err
	}

	var (
		reports  []VerifyReport
		firstErr error
	)
	for _, scope := range scopes {
		report, err := l.Verify(ctx, scope)
		if err != nil && !errs.IsTamper(err) {
			return reports, err
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		reports = append(reports, report)
	}
	return reports, firstErr
}

// RecordVerification verifies a scope and appends a chain.verified entry
// describing the outcome. A tampered chain is still recorded so the
// detection itself becomes part of the trail.
func (l *Ledger) RecordVerification(ctx context.Context, scopeID, actor string) (VerifyReport, ir.AuditEntry, error) {
	report, verr := l.Verify(ctx, scopeID)
	if verr != nil && !errs.IsTamper(verr) {
		return report, ir.AuditEntry{}, verr
	}

	payload := map[string]any{
		"valid":     report.Valid,
		"entries":   int64(report.Entries),
		"head_seq":  report.HeadSeq,
		"head_hash": report.HeadHash,
	}
	if !report.Valid {
		payload["first_divergence"] = report.FirstDivergence
		payload["reason"] = report.Reason
	}

	entry, err := l.Append(ctx, scopeID, Event{
		Type:      ir.EventChainVerified,
		Actor:     actor,
		SubjectID: scopeID,
		Payload:   payload,
	})
	if err != nil {
		return report, ir.AuditEntry{}, err
	}
	return report, entry, verr
}
