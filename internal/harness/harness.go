package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/artifact"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/collab"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/crdt"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/governance"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/graph"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ledger"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/presence"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/testutil"
)

// Epoch is the manual clock's starting time.
var Epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

const (
	defaultActor    = "alice"
	shutdownTimeout = 10 * time.Second
)

// validIdentifier restricts tamper targets to plain column names.
var validIdentifier = regexp.MustCompile(`^[a-z_]+$`)

// Harness holds the components a scenario runs against.
type Harness struct {
	scenario  *Scenario
	store     *store.Store
	ledger    *ledger.Ledger
	gate      *governance.StaticGate
	guard     *governance.Guard
	artifacts *artifact.Service
	graph     *graph.Engine
	tracker   *presence.Tracker
	collab    *collab.Engine
	clock     *testutil.ManualClock
	ids       *testutil.SequentialIDs
	logger    *zap.Logger

	aliases map[string]string // alias -> id
	names   map[string]string // id -> alias
	peers   map[string]*peer  // room alias + "/" + participant
}

// peer is a participant's local replica in a room.
type peer struct {
	room        string
	participant string
	session     *collab.Session
	doc         *crdt.Doc
}

// Run executes a scenario in a fresh database and returns its result.
// An error means the scenario itself is broken (bad arguments, unknown
// aliases); failed expectations are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "researchflow-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h, err := newHarness(scenario, filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, path string) (*Harness, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario store: %w", err)
	}

	clock := testutil.NewManualClock(Epoch, time.Second)
	ids := testutil.NewSequentialIDs()
	logger := zap.NewNop()
	l := ledger.New(st, ledger.WithNow(clock.Now), ledger.WithLogger(logger))
	gate := governance.NewStaticGate(governance.ModeAllow, false)
	guard := governance.NewGuard(gate, scenario.Restricted, logger)

	h := &Harness{
		scenario:  scenario,
		store:     st,
		ledger:    l,
		gate:      gate,
		guard:     guard,
		artifacts: artifact.NewService(l, guard, artifact.WithIDGenerator(ids.Next), artifact.WithLogger(logger)),
		graph:     graph.NewEngine(l, guard, graph.WithIDGenerator(ids.Next), graph.WithMaxDepth(scenario.MaxDepth), graph.WithLogger(logger)),
		tracker:   presence.NewTracker(presence.Config{}, presence.WithNow(clock.Now), presence.WithLogger(logger)),
		clock:     clock,
		ids:       ids,
		logger:    logger,
		aliases:   make(map[string]string),
		names:     make(map[string]string),
		peers:     make(map[string]*peer),
	}
	h.collab = h.newCollab()
	return h, nil
}

func (h *Harness) newCollab() *collab.Engine {
	cfg := collab.Config{
		SnapshotEvery: h.scenario.Collab.SnapshotEvery,
		Retention:     h.scenario.Collab.Retention,
		DrainTimeout:  time.Hour,
	}
	return collab.NewEngine(h.ledger, h.guard, cfg,
		collab.WithPresence(h.tracker),
		collab.WithLogger(h.logger),
		collab.WithIDGenerator(h.ids.Next),
	)
}

func (h *Harness) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = h.collab.Shutdown(ctx)
	_ = h.store.Close()
}

// execute runs one step, records it and checks its expect clause.
func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	op := operations[step.Op]
	if step.Actor == "" {
		step.Actor = defaultActor
	}

	res, opErr := op(ctx, h, step)
	if opErr != nil && !isDomainError(opErr) {
		return opErr
	}
	h.drainPeers()

	ev := TraceEvent{Op: step.Op, As: step.As, Args: step.Args, Outcome: OutcomeOK, Result: res}
	if opErr != nil {
		ev.Outcome = string(errs.CodeOf(opErr))
	}
	result.addTrace(ev)

	label := fmt.Sprintf("step %d (%s)", index+1, step.Op)
	switch {
	case step.Expect == nil || step.Expect.Error == "":
		if opErr != nil {
			result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, opErr))
			return nil
		}
	case opErr == nil:
		result.AddError(fmt.Sprintf("%s: expected error %s, got success", label, step.Expect.Error))
		return nil
	case ev.Outcome != step.Expect.Error:
		result.AddError(fmt.Sprintf("%s: expected error %s, got %s: %v", label, step.Expect.Error, ev.Outcome, opErr))
		return nil
	}

	if step.Expect != nil && step.Expect.Result != nil && !matchSubset(step.Expect.Result, res) {
		result.AddError(fmt.Sprintf("%s: result mismatch: expected %v, got %v", label, step.Expect.Result, res))
	}
	return nil
}

// isDomainError separates classified outcomes, which are recorded in the
// trace, from harness failures such as a missing argument.
func isDomainError(err error) bool {
	return errs.CodeOf(err) != errs.CodeInternal
}

// drainPeers applies every pending broadcast to the local replicas and
// forgets peers whose session the room closed.
func (h *Harness) drainPeers() {
	for key, p := range h.peers {
	drain:
		for {
			select {
			case m, ok := <-p.session.Outbound():
				if !ok {
					delete(h.peers, key)
					break drain
				}
				if m.Type != collab.MsgUpdate {
					continue
				}
				if u, err := crdt.Decode(m.Update); err == nil {
					_, _ = p.doc.Apply(u)
				}
			default:
				break drain
			}
		}
	}
}

// bind records alias for id.
func (h *Harness) bind(alias, id string) {
	if alias == "" {
		return
	}
	h.aliases[alias] = id
	h.names[id] = alias
}

// resolve maps an alias to its id. Unknown names pass through unchanged so
// scenarios can refer to ids that do not exist.
func (h *Harness) resolve(alias string) string {
	if id, ok := h.aliases[alias]; ok {
		return id
	}
	return alias
}

// name maps an id back to its alias.
func (h *Harness) name(id string) string {
	if alias, ok := h.names[id]; ok {
		return alias
	}
	return id
}

func (h *Harness) orgScope() string {
	return ledger.OrgScope(h.scenario.Org)
}
