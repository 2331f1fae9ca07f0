package graph

import (
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
)

// adjacency indexes a set of live edges by endpoint. Edge slices keep the
// store's (created_at, id) order so walks are deterministic.
type adjacency struct {
	out map[string][]ir.Edge
	in  map[string][]ir.Edge
}

func newAdjacency(edges []ir.Edge) adjacency {
	adj := adjacency{
		out: make(map[string][]ir.Edge),
		in:  make(map[string][]ir.Edge),
	}
	for _, e := range edges {
		adj.out[e.SourceID] = append(adj.out[e.SourceID], e)
		adj.in[e.TargetID] = append(adj.in[e.TargetID], e)
	}
	return adj
}

// step is one hop of a walk: the edge followed and the node reached.
type step struct {
	edge ir.Edge
	node string
}

// neighbors returns the hops available from id in the given direction.
func (a adjacency) neighbors(id string, dir ir.Direction) []step {
	var steps []step
	if dir == ir.DirectionUpstream || dir == ir.DirectionBoth {
		for _, e := range a.out[id] {
			steps = append(steps, step{edge: e, node: e.TargetID})
		}
	}
	if dir == ir.DirectionDownstream || dir == ir.DirectionBoth {
		for _, e := range a.in[id] {
			steps = append(steps, step{edge: e, node: e.SourceID})
		}
	}
	return steps
}

// path returns the node sequence from -> ... -> to following outgoing
// edges, or nil when to is unreachable. Breadth-first, so the path is a
// shortest one.
func (a adjacency) path(from, to string) []string {
	parent := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			var rev []string
			for n := to; n != ""; n = parent[n] {
				rev = append(rev, n)
			}
			out := make([]string, len(rev))
			for i, n := range rev {
				out[len(rev)-1-i] = n
			}
			return out
		}
		for _, e := range a.out[cur] {
			if _, seen := parent[e.TargetID]; !seen {
				parent[e.TargetID] = cur
				queue = append(queue, e.TargetID)
			}
		}
	}
	return nil
}

// successors returns the graph as node -> upstream neighbour ids, with every
// endpoint present as a key.
func (a adjacency) successors() map[string][]string {
	g := make(map[string][]string)
	for src, edges := range a.out {
		for _, e := range edges {
			g[src] = append(g[src], e.TargetID)
			if _, ok := g[e.TargetID]; !ok {
				g[e.TargetID] = []string{}
			}
		}
	}
	return g
}
