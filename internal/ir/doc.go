// Package ir provides the core record types shared by every researchflow
// package, plus canonical JSON and hashing used for audit identity.
//
// This package imports nothing internal. Storage, graph, ledger and
// collaboration packages all build on it.
//
// Key constraints:
//   - Canonical JSON (RFC 8785) is the ONLY serialization used for hashing
//   - Timestamps are UTC; hashed timestamps are Unix nanoseconds
//   - All JSON tags use snake_case
package ir
