package graph

import "math"

// Centrality parameters. Damped power iteration over weighted edges,
// analogous to weighted PageRank.
const (
	centralityDamping   = 0.85
	centralityTolerance = 1e-6
	centralityMaxRounds = 100
)

// ComputeCentrality re-scores every node in the graph. Run after a bulk
// reindex; incremental commits should prefer RescoreComponent.
func (g *Graph) ComputeCentrality() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rescoreLocked(g.allNodeIDsLocked())
}

// RescoreComponent re-scores only the connected component(s) containing
// the given seed nodes. This is the bounded approximation used after
// incremental updates: scores outside the component are left untouched.
func (g *Graph) RescoreComponent(seeds []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	member := make(map[string]bool)
	var stack []string
	for _, id := range seeds {
		if _, ok := g.nodes[id]; ok && !member[id] {
			member[id] = true
			stack = append(stack, id)
		}
	}

	// Undirected reachability: a component spans both edge directions.
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.outgoing[cur] {
			if !member[e.Dst] {
				member[e.Dst] = true
				stack = append(stack, e.Dst)
			}
		}
		for _, e := range g.incoming[cur] {
			if !member[e.Src] {
				member[e.Src] = true
				stack = append(stack, e.Src)
			}
		}
	}

	if len(member) == 0 {
		return
	}
	ids := make([]string, 0, len(member))
	for id := range member {
		ids = append(ids, id)
	}
	g.rescoreLocked(ids)
}

func (g *Graph) allNodeIDsLocked() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	return ids
}

// rescoreLocked runs damped power iteration restricted to the given node
// set. Edges leaving the set are ignored. Must be called with the write
// lock held.
func (g *Graph) rescoreLocked(ids []string) {
	n := len(ids)
	if n == 0 {
		return
	}

	idx := make(map[string]int, n)
	for i, id := range ids {
		idx[id] = i
	}

	// Out-weight totals per node, restricted to the set.
	outWeight := make([]float64, n)
	for i, id := range ids {
		for _, e := range g.outgoing[id] {
			if _, ok := idx[e.Dst]; ok {
				outWeight[i] += edgeWeight(e.Kind)
			}
		}
	}

	rank := make([]float64, n)
	next := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}

	base := (1.0 - centralityDamping) / float64(n)
	for round := 0; round < centralityMaxRounds; round++ {
		for i := range next {
			next[i] = base
		}

		// Mass from dangling nodes (no in-set outgoing edges) is
		// redistributed uniformly so the scores stay a distribution.
		var danglingMass float64
		for i := range ids {
			if outWeight[i] == 0 {
				danglingMass += rank[i]
			}
		}
		if danglingMass > 0 {
			share := centralityDamping * danglingMass / float64(n)
			for i := range next {
				next[i] += share
			}
		}

		for i, id := range ids {
			if outWeight[i] == 0 {
				continue
			}
			contrib := centralityDamping * rank[i] / outWeight[i]
			for _, e := range g.outgoing[id] {
				j, ok := idx[e.Dst]
				if !ok {
					continue
				}
				next[j] += contrib * edgeWeight(e.Kind)
			}
		}

		var delta float64
		for i := range rank {
			delta += math.Abs(next[i] - rank[i])
		}
		rank, next = next, rank
		if delta < centralityTolerance {
			break
		}
	}

	for i, id := range ids {
		if node, ok := g.nodes[id]; ok {
			node.Centrality = rank[i]
		}
	}
}
