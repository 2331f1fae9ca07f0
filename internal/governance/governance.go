// Package governance is the boundary to the external content scanner and
// governance gate.
//
// The collaboration and artifact components never interpret scan results
// themselves: they hand findings to the gate and enforce its verdict.
package governance

import (
	"context"
	"sync"
)

// Mode is the gate's verdict on whether writes may proceed.
type Mode string

const (
	ModeAllow Mode = "ALLOW"
	ModeBlock Mode = "BLOCK"
)

// Finding locates a sensitive span without carrying its value.
type Finding struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// Scanner inspects document text.
type Scanner interface {
	Scan(ctx context.Context, text string) ([]Finding, error)
}

// Gate decides whether mutations may proceed.
type Gate interface {
	CheckMode(ctx context.Context) (Mode, error)
	Escalate(ctx context.Context, artifactID string, findings []Finding) error
}

// ScannerFunc adapts a function to the Scanner interface.
type ScannerFunc func(ctx context.Context, text string) ([]Finding, error)

// Scan calls f.
func (f ScannerFunc) Scan(ctx context.Context, text string) ([]Finding, error) {
	return f(ctx, text)
}

// NoopScanner never reports findings. Used for local runs.
type NoopScanner struct{}

// Scan implements Scanner.
func (NoopScanner) Scan(context.Context, string) ([]Finding, error) {
	return nil, nil
}

// Escalation is one finding report received by a StaticGate.
type Escalation struct {
	ArtifactID string
	Findings   []Finding
}

// StaticGate is an in-process gate with a settable mode. When
// BlockOnEscalate is set, the first escalation flips the mode to BLOCK,
// which mirrors how the hosted gate reacts to PHI findings.
type StaticGate struct {
	mu              sync.Mutex
	mode            Mode
	blockOnEscalate bool
	escalations     []Escalation
}

// NewStaticGate creates a gate starting in mode.
func NewStaticGate(mode Mode, blockOnEscalate bool) *StaticGate {
	return &StaticGate{mode: mode, blockOnEscalate: blockOnEscalate}
}

// CheckMode implements Gate.
func (g *StaticGate) CheckMode(context.Context) (Mode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode, nil
}

// Escalate implements Gate.
func (g *StaticGate) Escalate(_ context.Context, artifactID string, findings []Finding) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.escalations = append(g.escalations, Escalation{
		ArtifactID: artifactID,
		Findings:   append([]Finding(nil), findings...),
	})
	if g.blockOnEscalate {
		g.mode = ModeBlock
	}
	return nil
}

// SetMode changes the verdict.
func (g *StaticGate) SetMode(mode Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = mode
}

// Escalations returns a copy of every escalation received.
func (g *StaticGate) Escalations() []Escalation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Escalation(nil), g.escalations...)
}
