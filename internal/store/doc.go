// Package store provides SQLite-backed durable storage for researchflow.
//
// The store is the single source of truth for:
//   - Artifacts: versioned, soft-deletable research outputs
//   - Edges: typed provenance links between artifacts
//   - Audit entries: per-scope hash chains plus their tail pointers
//   - Document updates and snapshots: the collaborative CRDT log
//
// # Transactions
//
// Mutations run through Store.InTx. The callback receives a *Tx exposing the
// same query methods as Store; audit entries and the mutation they describe
// are always written in one transaction, so a rejected operation never leaves
// a dangling audit record.
//
// The pool is limited to a single connection (SQLite allows one writer).
// Never call Store methods from inside an InTx callback; use the *Tx.
//
// # Deterministic Ordering
//
// All list queries include an explicit ORDER BY (seq, clock, or
// created_at + id) so results are identical across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Idempotent reads that fail with SQLITE_BUSY or SQLITE_LOCKED are retried
// with bounded exponential backoff; mutations are never retried here.
package store
