package graph

import (
	"context"
	"sort"
)

// PathBetween finds a shortest directed path from src to dst, optionally
// restricted to the given edge kinds. The search runs breadth-first from
// both endpoints with unit edge weights; among equal-length paths the
// meeting node with the smallest ID wins, so the result is deterministic.
//
// The result is the ordered node sequence including both endpoints.
func (g *Graph) PathBetween(ctx context.Context, src, dst string, kinds ...EdgeKind) ([]*CodeNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[src]; !ok {
		return nil, ErrUnknownNode
	}
	if _, ok := g.nodes[dst]; !ok {
		return nil, ErrUnknownNode
	}
	if src == dst {
		return []*CodeNode{g.nodes[src]}, nil
	}

	fwd := &bfsState{parent: map[string]string{src: ""}, dist: map[string]int{src: 0}, frontier: []string{src}}
	bwd := &bfsState{parent: map[string]string{dst: ""}, dist: map[string]int{dst: 0}, frontier: []string{dst}}

	for len(fwd.frontier) > 0 && len(bwd.frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Expand the smaller frontier one full level.
		if len(fwd.frontier) <= len(bwd.frontier) {
			g.expandLevel(fwd, Outgoing, kinds)
		} else {
			g.expandLevel(bwd, Incoming, kinds)
		}

		if _, ok := meetingPoint(fwd, bwd); !ok {
			continue
		}

		// One more level on the opposite side closes the window in
		// which a shorter meeting could still be undiscovered.
		if len(fwd.frontier) <= len(bwd.frontier) {
			g.expandLevel(fwd, Outgoing, kinds)
		} else {
			g.expandLevel(bwd, Incoming, kinds)
		}

		meet, _ := meetingPoint(fwd, bwd)
		return g.assemblePath(meet, fwd, bwd), nil
	}

	return nil, ErrNoPath
}

type bfsState struct {
	parent   map[string]string
	dist     map[string]int
	frontier []string
	depth    int
}

// expandLevel advances one BFS level, visiting unseen neighbors in
// sorted order and recording the first (therefore smallest-ID) parent.
func (g *Graph) expandLevel(s *bfsState, dir Direction, kinds []EdgeKind) {
	sort.Strings(s.frontier)
	s.depth++
	var next []string
	for _, cur := range s.frontier {
		neighbors := make([]string, 0)
		for _, e := range g.neighborsLocked(cur, dir, kinds...) {
			if dir == Outgoing {
				neighbors = append(neighbors, e.Dst)
			} else {
				neighbors = append(neighbors, e.Src)
			}
		}
		sort.Strings(neighbors)
		for _, nb := range neighbors {
			if _, seen := s.parent[nb]; seen {
				continue
			}
			s.parent[nb] = cur
			s.dist[nb] = s.depth
			next = append(next, nb)
		}
	}
	s.frontier = next
}

// meetingPoint returns the node visited from both ends with the minimal
// combined distance, ties broken by smaller node ID.
func meetingPoint(fwd, bwd *bfsState) (string, bool) {
	var best string
	bestSum := -1
	for id, df := range fwd.dist {
		db, ok := bwd.dist[id]
		if !ok {
			continue
		}
		sum := df + db
		if bestSum < 0 || sum < bestSum || (sum == bestSum && id < best) {
			best, bestSum = id, sum
		}
	}
	return best, bestSum >= 0
}

// assemblePath stitches the two half-paths together at the meeting node.
func (g *Graph) assemblePath(meet string, fwd, bwd *bfsState) []*CodeNode {
	var front []string
	for cur := meet; cur != ""; cur = fwd.parent[cur] {
		front = append(front, cur)
	}
	// front is meet..src; reverse it.
	for i, j := 0, len(front)-1; i < j; i, j = i+1, j-1 {
		front[i], front[j] = front[j], front[i]
	}

	ids := front
	for cur := bwd.parent[meet]; cur != ""; cur = bwd.parent[cur] {
		ids = append(ids, cur)
	}

	path := make([]*CodeNode, 0, len(ids))
	for _, id := range ids {
		if n, ok := g.nodes[id]; ok {
			path = append(path, n)
		}
	}
	return path
}
