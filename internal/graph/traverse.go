package graph

import (
	"context"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/metrics"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

// Node is an artifact reached by a traversal.
type Node struct {
	Artifact ir.Artifact `json:"artifact" yaml:"artifact"`
	Depth    int         `json:"depth" yaml:"depth"`
}

// Subgraph is the result of Traverse. Nodes excludes the root and is in
// breadth-first order; Edges holds every edge followed to reach them.
type Subgraph struct {
	Root      ir.Artifact  `json:"root" yaml:"root"`
	Direction ir.Direction `json:"direction" yaml:"direction"`
	MaxDepth  int          `json:"max_depth" yaml:"max_depth"`
	Nodes     []Node       `json:"nodes" yaml:"nodes"`
	Edges     []ir.Edge    `json:"edges" yaml:"edges"`
	// Truncated is set when the depth bound stopped the walk while
	// unexplored neighbours remained.
	Truncated bool `json:"truncated" yaml:"truncated"`
}

// Traverse walks the live graph breadth-first from rootID. maxDepth 0
// selects the configured ceiling; larger values are clamped to it and
// negative values are rejected.
// Soft-deleted artifacts are neither returned nor walked through.
func (e *Engine) Traverse(ctx context.Context, rootID string, dir ir.Direction, maxDepth int) (Subgraph, error) {
	if rootID == "" {
		return Subgraph{}, errs.Validation("root id is required")
	}
	if dir == "" {
		dir = ir.DirectionBoth
	}
	if !ir.ValidDirections[dir] {
		return Subgraph{}, errs.Validation("unknown direction %q", dir).WithDetail("direction", string(dir))
	}
	if maxDepth < 0 {
		return Subgraph{}, errs.Validation("depth must not be negative").WithDetail("depth", maxDepth)
	}
	if maxDepth == 0 || maxDepth > e.maxDepth {
		maxDepth = e.maxDepth
	}

	st := e.ledger.Store()
	root, err := st.GetArtifact(ctx, rootID, false)
	if err != nil {
		return Subgraph{}, err
	}
	live, err := st.LiveEdges(ctx, root.OrgID)
	if err != nil {
		return Subgraph{}, err
	}
	artifacts, err := e.liveArtifacts(ctx, root.OrgID)
	if err != nil {
		return Subgraph{}, err
	}

	sg := Subgraph{
		Root:      root,
		Direction: dir,
		MaxDepth:  maxDepth,
		Nodes:     []Node{},
		Edges:     []ir.Edge{},
	}

	adj := newAdjacency(live)
	depth := map[string]int{rootID: 0}
	seenEdge := map[string]bool{}
	frontier := []string{rootID}

	for d := 1; len(frontier) > 0; d++ {
		if d > maxDepth {
			for _, id := range frontier {
				for _, s := range adj.neighbors(id, dir) {
					if _, seen := depth[s.node]; !seen {
						sg.Truncated = true
					}
				}
			}
			break
		}

		var next []string
		for _, id := range frontier {
			for _, s := range adj.neighbors(id, dir) {
				if !seenEdge[s.edge.ID] {
					seenEdge[s.edge.ID] = true
					sg.Edges = append(sg.Edges, s.edge)
				}
				if _, seen := depth[s.node]; seen {
					continue
				}
				a, ok := artifacts[s.node]
				if !ok {
					continue
				}
				depth[s.node] = d
				sg.Nodes = append(sg.Nodes, Node{Artifact: a, Depth: d})
				next = append(next, s.node)
			}
		}
		frontier = next
	}

	metrics.RecordTraversal(len(sg.Nodes))
	return sg, nil
}

func (e *Engine) liveArtifacts(ctx context.Context, orgID string) (map[string]ir.Artifact, error) {
	list, err := e.ledger.Store().ListArtifacts(ctx, store.ArtifactFilter{OrgID: orgID})
	if err != nil {
		return nil, err
	}
	out := make(map[string]ir.Artifact, len(list))
	for _, a := range list {
		out[a.ID] = a
	}
	return out, nil
}
