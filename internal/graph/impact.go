package graph

import (
	"context"
	"sort"
)

// ImpactSeverity classifies an affected node by hop distance.
type ImpactSeverity string

const (
	SeverityDirect     ImpactSeverity = "direct"     // 0-1 hops
	SeverityTransitive ImpactSeverity = "transitive" // 2-3 hops
	SeverityDistant    ImpactSeverity = "distant"    // 4+ hops
)

// SeverityFromHops derives severity from hop distance.
func SeverityFromHops(hops int) ImpactSeverity {
	switch {
	case hops <= 1:
		return SeverityDirect
	case hops <= 3:
		return SeverityTransitive
	default:
		return SeverityDistant
	}
}

// AffectedNode is one entry in an impact result.
type AffectedNode struct {
	Node      *CodeNode
	Depth     int
	Severity  ImpactSeverity
	EntryEdge EdgeKind
}

// ImpactResult is the blast radius of changing a node.
type ImpactResult struct {
	Target *CodeNode

	// Dependents are nodes reachable over reverse edges (callers of
	// callers, importers of importers), sorted by depth then ID. The
	// target itself appears at depth 0.
	Dependents []AffectedNode

	// TotalAffected counts Dependents.
	TotalAffected int
}

// Impact performs a breadth-first traversal of reverse edges from the
// target up to maxDepth hops. A node is reported at the smallest depth
// at which it is reachable; depth 0 is the target itself.
func (g *Graph) Impact(ctx context.Context, id string, maxDepth int) (*ImpactResult, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	target, ok := g.nodes[id]
	if !ok {
		return nil, ErrUnknownNode
	}

	result := &ImpactResult{Target: target}
	result.Dependents = append(result.Dependents, AffectedNode{
		Node:     target,
		Depth:    0,
		Severity: SeverityFromHops(0),
	})

	visited := map[string]bool{id: true}
	type frontierItem struct {
		id    string
		entry EdgeKind
	}
	frontier := []frontierItem{{id: id}}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next []frontierItem
		for _, item := range frontier {
			for _, e := range g.neighborsLocked(item.id, Incoming) {
				if visited[e.Src] {
					continue
				}
				visited[e.Src] = true

				entry := item.entry
				if entry == "" {
					entry = e.Kind
				}
				if node, ok := g.nodes[e.Src]; ok {
					result.Dependents = append(result.Dependents, AffectedNode{
						Node:      node,
						Depth:     depth,
						Severity:  SeverityFromHops(depth),
						EntryEdge: entry,
					})
				}
				next = append(next, frontierItem{id: e.Src, entry: entry})
			}
		}
		frontier = next
	}

	sort.Slice(result.Dependents, func(i, j int) bool {
		a, b := result.Dependents[i], result.Dependents[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		return a.Node.ID < b.Node.ID
	})
	result.TotalAffected = len(result.Dependents)
	return result, nil
}
