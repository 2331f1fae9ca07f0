package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates deterministic UUID-shaped identifiers.
//
// The n-th call returns "00000000-0000-4000-8000-<n as 12 hex digits>", a
// valid version 4 layout, so code that validates ids accepts them and
// golden files stay byte-identical across runs.
//
// Thread-safety: safe for concurrent use.
type SequentialIDs struct {
	mu sync.Mutex
	n  uint64
}

// NewSequentialIDs creates a generator whose first id ends in ...001.
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

// Next returns the next id.
func (g *SequentialIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("00000000-0000-4000-8000-%012x", g.n)
}

// Reset restarts the sequence.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
