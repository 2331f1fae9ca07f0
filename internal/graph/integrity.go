package graph

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
)

// Cycle is a strongly connected component of the live graph.
type Cycle struct {
	Path    []string `json:"path" yaml:"path"`       // e.g. ["a", "b", "a"]
	Members []string `json:"members" yaml:"members"` // sorted component members
	Message string   `json:"message" yaml:"message"`
}

// IntegrityReport is the result of CheckIntegrity.
type IntegrityReport struct {
	OrgID   string  `json:"org_id" yaml:"org_id"`
	Nodes   int     `json:"nodes" yaml:"nodes"`
	Edges   int     `json:"edges" yaml:"edges"`
	Acyclic bool    `json:"acyclic" yaml:"acyclic"`
	Cycles  []Cycle `json:"cycles" yaml:"cycles"`
}

// CheckIntegrity re-verifies the acyclicity invariant over the whole live
// edge set of an organisation using Tarjan's strongly connected components.
// Link makes a cycle impossible; a non-empty result means the store was
// modified behind the engine's back. Restoring a soft-deleted artifact by
// hand is the usual way that happens.
func (e *Engine) CheckIntegrity(ctx context.Context, orgID string) (IntegrityReport, error) {
	if orgID == "" {
		return IntegrityReport{}, errs.Validation("org id is required")
	}
	live, err := e.ledger.Store().LiveEdges(ctx, orgID)
	if err != nil {
		return IntegrityReport{}, err
	}

	graph := newAdjacency(live).successors()
	report := IntegrityReport{
		OrgID:  orgID,
		Nodes:  len(graph),
		Edges:  len(live),
		Cycles: []Cycle{},
	}

	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			report.Cycles = append(report.Cycles, sccToCycle(scc, graph))
		}
	}
	report.Acyclic = len(report.Cycles) == 0

	if !report.Acyclic {
		e.logger.Error("provenance graph contains cycles",
			zap.String("org", orgID),
			zap.Int("cycles", len(report.Cycles)),
		)
	}
	return report, nil
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph map[string][]string) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so results are stable across runs.
func tarjanSCC(graph map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is the root of a component: pop it.
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// sccToCycle reconstructs a closed walk through a component, starting at
// its smallest member.
func sccToCycle(scc []string, graph map[string][]string) Cycle {
	members := slices.Clone(scc)
	slices.Sort(members)

	if len(members) == 1 {
		id := members[0]
		return Cycle{
			Path:    []string{id, id},
			Members: members,
			Message: fmt.Sprintf("self-referencing artifact: %s -> %s", id, id),
		}
	}

	inSCC := make(map[string]bool, len(members))
	for _, n := range members {
		inSCC[n] = true
	}

	start := members[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true
		var next string
		for _, neighbor := range graph[current] {
			if inSCC[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return Cycle{
		Path:    path,
		Members: members,
		Message: fmt.Sprintf("cycle detected: %s", strings.Join(path, " -> ")),
	}
}
