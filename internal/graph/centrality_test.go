package graph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCentrality_EmptyGraph(t *testing.T) {
	t.Parallel()

	g := New()
	g.ComputeCentrality() // must not panic
	assert.Equal(t, 0, g.NodeCount())
}

func TestComputeCentrality_HubRanksHighest(t *testing.T) {
	t.Parallel()

	// Three callers all call hub; hub calls nothing.
	g := New()
	hub := makeNode("hub.go", "hub", KindFunction)
	callers := []*CodeNode{
		makeNode("a.go", "a", KindFunction),
		makeNode("b.go", "b", KindFunction),
		makeNode("c.go", "c", KindFunction),
	}
	addNodes(t, g, append(callers, hub)...)

	txn := g.Update()
	for _, c := range callers {
		txn.AddEdge(NewEdge(c.ID, hub.ID, EdgeCalls, 0))
	}
	txn.Close()

	g.ComputeCentrality()

	hubScore := g.Node(hub.ID).Centrality
	for _, c := range callers {
		assert.Greater(t, hubScore, g.Node(c.ID).Centrality)
	}
}

func TestComputeCentrality_ScoresSumToOne(t *testing.T) {
	t.Parallel()

	g := New()
	a := makeNode("a.go", "a", KindFunction)
	b := makeNode("b.go", "b", KindFunction)
	c := makeNode("c.go", "c", KindFunction)
	addNodes(t, g, a, b, c)

	txn := g.Update()
	txn.AddEdge(NewEdge(a.ID, b.ID, EdgeCalls, 0))
	txn.AddEdge(NewEdge(b.ID, c.ID, EdgeCalls, 0))
	txn.AddEdge(NewEdge(c.ID, a.ID, EdgeCalls, 0)) // cycle
	txn.Close()

	g.ComputeCentrality()

	sum := g.Node(a.ID).Centrality + g.Node(b.ID).Centrality + g.Node(c.ID).Centrality
	assert.InDelta(t, 1.0, sum, 1e-4, "power iteration preserves the distribution")
}

func TestComputeCentrality_EdgeWeights(t *testing.T) {
	t.Parallel()

	// One caller splits its mass between a call target and a
	// reference target; the call edge weighs double.
	g := New()
	src := makeNode("s.go", "src", KindFunction)
	called := makeNode("a.go", "called", KindFunction)
	referenced := makeNode("b.go", "referenced", KindFunction)
	addNodes(t, g, src, called, referenced)

	txn := g.Update()
	txn.AddEdge(NewEdge(src.ID, called.ID, EdgeCalls, 0))
	txn.AddEdge(NewEdge(src.ID, referenced.ID, EdgeReferences, 0))
	txn.Close()

	g.ComputeCentrality()

	assert.Greater(t, g.Node(called.ID).Centrality, g.Node(referenced.ID).Centrality)
}

func TestRescoreComponent_OnlyTouchesComponent(t *testing.T) {
	t.Parallel()

	g := New()
	// Component 1: a → b. Component 2: x (isolated).
	a := makeNode("a.go", "a", KindFunction)
	b := makeNode("b.go", "b", KindFunction)
	x := makeNode("x.go", "x", KindFunction)
	addNodes(t, g, a, b, x)

	txn := g.Update()
	txn.AddEdge(NewEdge(a.ID, b.ID, EdgeCalls, 0))
	txn.SetCentrality(x.ID, 0.77)
	txn.Close()

	g.RescoreComponent([]string{a.ID})

	assert.Equal(t, 0.77, g.Node(x.ID).Centrality, "outside the component scores are untouched")
	assert.Greater(t, g.Node(b.ID).Centrality, 0.0)
	assert.Greater(t, g.Node(b.ID).Centrality, g.Node(a.ID).Centrality)
}

func TestRescoreComponent_SpansBothDirections(t *testing.T) {
	t.Parallel()

	g := New()
	a := makeNode("a.go", "a", KindFunction)
	b := makeNode("b.go", "b", KindFunction)
	c := makeNode("c.go", "c", KindFunction)
	addNodes(t, g, a, b, c)

	txn := g.Update()
	txn.AddEdge(NewEdge(a.ID, b.ID, EdgeCalls, 0))
	txn.AddEdge(NewEdge(c.ID, b.ID, EdgeCalls, 0))
	txn.Close()

	// Seeding from a must still reach c through b's incoming side.
	g.RescoreComponent([]string{a.ID})

	require.False(t, math.IsNaN(g.Node(c.ID).Centrality))
	assert.Greater(t, g.Node(b.ID).Centrality, g.Node(c.ID).Centrality)
}
