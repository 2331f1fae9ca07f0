package governance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
)

// Guard enforces the gate verdict for mutating operations.
//
// In restricted mode every write consults the gate and fails closed: a BLOCK
// verdict or an unreachable gate rejects the write with GATE_DENIED. Outside
// restricted mode writes only consult the gate once a finding has been
// escalated for the subject (see CheckEscalated).
type Guard struct {
	gate       Gate
	restricted bool
	logger     *zap.Logger
}

// NewGuard creates a guard. A nil logger is replaced by a no-op logger.
func NewGuard(gate Gate, restricted bool, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{gate: gate, restricted: restricted, logger: logger}
}

// Permissive returns a guard that never consults a gate unless a finding
// was escalated, in which case it allows.
func Permissive() *Guard {
	return NewGuard(NewStaticGate(ModeAllow, false), false, nil)
}

// Restricted reports whether every write consults the gate.
func (g *Guard) Restricted() bool {
	return g.restricted
}

// Gate returns the underlying gate.
func (g *Guard) Gate() Gate {
	return g.gate
}

// Check is called before every mutation.
func (g *Guard) Check(ctx context.Context) error {
	if !g.restricted {
		return nil
	}
	return g.consult(ctx)
}

// CheckEscalated is called before writes to a subject whose content was
// escalated. It consults the gate regardless of mode.
func (g *Guard) CheckEscalated(ctx context.Context) error {
	return g.consult(ctx)
}

func (g *Guard) consult(ctx context.Context) error {
	mode, err := g.gate.CheckMode(ctx)
	if err != nil {
		g.logger.Warn("governance gate unreachable, failing closed", zap.Error(err))
		return errs.GateDenied(fmt.Sprintf("gate unreachable: %v", err))
	}
	if mode != ModeAllow {
		return errs.GateDenied(fmt.Sprintf("mode %s", mode))
	}
	return nil
}
