// Package ledger implements the hash-chained audit ledger.
//
// Each chain scope is an independent append-only sequence. Appends to one
// scope are serialized by a keyed mutex and run inside the caller's store
// transaction, so an entry is durable exactly when the mutation it records
// is. Verification walks a scope from genesis and recomputes every hash.
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/keylock"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/metrics"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

// OrgScope returns the chain scope for an organisation. Every artifact, edge
// and document mutation of an organisation is recorded in this one chain.
func OrgScope(orgID string) string {
	return "org:" + orgID
}

// Event is the caller-supplied part of an audit entry.
type Event struct {
	Type      ir.EventType
	Actor     string
	SubjectID string
	Payload   map[string]any
}

// Ledger appends to and verifies audit chains.
type Ledger struct {
	store  *store.Store
	locks  *keylock.Map
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLocks shares a keyed mutex with other components that must hold the
// scope lock across their own checks (the graph engine's link path).
func WithLocks(locks *keylock.Map) Option {
	return func(l *Ledger) { l.locks = locks }
}

// WithNow overrides the wall clock used for recorded_at.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates a ledger over st.
func New(st *store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  st,
		locks:  &keylock.Map{},
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying store.
func (l *Ledger) Store() *store.Store {
	return l.store
}

// Locks returns the scope lock map.
func (l *Ledger) Locks() *keylock.Map {
	return l.locks
}

// Now returns the ledger's current time in UTC.
func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

// Appender appends entries to one scope inside an open transaction.
// It is only valid for the duration of the Do callback that produced it.
type Appender struct {
	tx       *store.Tx
	scopeID  string
	now      func() time.Time
	appended []ir.AuditEntry
}

// Append computes the chained hash for ev against the scope's current tail
// and inserts the entry.
func (a *Appender) Append(ctx context.Context, ev Event) (ir.AuditEntry, error) {
	if ev.Type == "" {
		return ir.AuditEntry{}, errs.Validation("audit event type is required")
	}

	headSeq, headHash, err := a.tx.ChainHead(ctx, a.scopeID)
	if err != nil {
		return ir.AuditEntry{}, err
	}

	canonical, digest, err := ir.PayloadDigest(ev.Payload)
	if err != nil {
		return ir.AuditEntry{}, errs.Wrap(errs.CodeValidation, err, "audit payload is not canonicalizable")
	}
	payload, err := ir.DecodeObject(canonical)
	if err != nil {
		return ir.AuditEntry{}, errs.Wrap(errs.CodeInternal, err, "decode canonical payload")
	}

	entry := ir.AuditEntry{
		ScopeID:       a.scopeID,
		Seq:           headSeq + 1,
		EventType:     ev.Type,
		Actor:         ev.Actor,
		SubjectID:     ev.SubjectID,
		Payload:       payload,
		PayloadJSON:   string(canonical),
		PayloadDigest: digest,
		PreviousHash:  headHash,
		RecordedAt:    a.now().UTC(),
	}
	entry.CurrentHash, err = ir.ChainHash(entry, headHash)
	if err != nil {
		return ir.AuditEntry{}, errs.Wrap(errs.CodeInternal, err, "compute chain hash")
	}

	if err := a.tx.AppendAuditEntry(ctx, entry); err != nil {
		return ir.AuditEntry{}, err
	}
	a.appended = append(a.appended, entry)
	return entry, nil
}

// Do runs fn in a store transaction while holding the scope lock. Entries
// appended through the Appender commit or roll back together with whatever
// else fn writes through tx.
func (l *Ledger) Do(ctx context.Context, scopeID string, fn func(tx *store.Tx, app *Appender) error) error {
	if scopeID == "" {
		return errs.Validation("audit scope is required")
	}

	unlock := l.locks.Lock(scopeID)
	defer unlock()

	var app *Appender
	err := l.store.InTx(ctx, func(tx *store.Tx) error {
		app = &Appender{tx: tx, scopeID: scopeID, now: l.Now}
		return fn(tx, app)
	})
	if err != nil {
		return err
	}

	for _, e := range app.appended {
		metrics.RecordAuditAppend(string(e.EventType))
		l.logger.Debug("audit entry appended",
			zap.String("scope", e.ScopeID),
			zap.Int64("seq", e.Seq),
			zap.String("event_type", string(e.EventType)),
			zap.String("subject", e.SubjectID),
		)
	}
	return nil
}

// Append records a single event in its own transaction.
func (l *Ledger) Append(ctx context.Context, scopeID string, ev Event) (ir.AuditEntry, error) {
	var entry ir.AuditEntry
	err := l.Do(ctx, scopeID, func(_ *store.Tx, app *Appender) error {
		var err error
		entry, err = app.Append(ctx, ev)
		return err
	})
	return entry, err
}

// Entries returns a scope's entries in chain order.
func (l *Ledger) Entries(ctx context.Context, scopeID string, f store.AuditFilter) ([]ir.AuditEntry, error) {
	return l.store.AuditEntries(ctx, scopeID, f)
}

// History returns every entry about a subject.
func (l *Ledger) History(ctx context.Context, subjectID string) ([]ir.AuditEntry, error) {
	return l.store.SubjectHistory(ctx, subjectID)
}
