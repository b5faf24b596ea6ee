package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pathIDs(path []*CodeNode) []string {
	ids := make([]string, 0, len(path))
	for _, n := range path {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestPathBetween_Linear(t *testing.T) {
	t.Parallel()

	g := New()
	a := makeNode("a.go", "a", KindFunction)
	b := makeNode("b.go", "b", KindFunction)
	c := makeNode("c.go", "c", KindFunction)
	addNodes(t, g, a, b, c)

	txn := g.Update()
	txn.AddEdge(NewEdge(a.ID, b.ID, EdgeCalls, 0))
	txn.AddEdge(NewEdge(b.ID, c.ID, EdgeCalls, 0))
	txn.Close()

	path, err := g.PathBetween(context.Background(), a.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, pathIDs(path))
}

func TestPathBetween_SameNode(t *testing.T) {
	t.Parallel()

	g := New()
	a := makeNode("a.go", "a", KindFunction)
	addNodes(t, g, a)

	path, err := g.PathBetween(context.Background(), a.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, pathIDs(path))
}

func TestPathBetween_DiamondShortestAndDeterministic(t *testing.T) {
	t.Parallel()

	// a → b → d and a → c → d: both are two-edge paths; repeated
	// queries must pick the same one.
	g := New()
	a := makeNode("a.go", "a", KindFunction)
	b := makeNode("b.go", "b", KindFunction)
	c := makeNode("c.go", "c", KindFunction)
	d := makeNode("d.go", "d", KindFunction)
	addNodes(t, g, a, b, c, d)

	txn := g.Update()
	txn.AddEdge(NewEdge(a.ID, b.ID, EdgeCalls, 0))
	txn.AddEdge(NewEdge(b.ID, d.ID, EdgeCalls, 0))
	txn.AddEdge(NewEdge(a.ID, c.ID, EdgeCalls, 0))
	txn.AddEdge(NewEdge(c.ID, d.ID, EdgeCalls, 0))
	txn.Close()

	first, err := g.PathBetween(context.Background(), a.ID, d.ID)
	require.NoError(t, err)
	require.Len(t, first, 3, "shortest path has two edges")

	for i := 0; i < 5; i++ {
		again, err := g.PathBetween(context.Background(), a.ID, d.ID)
		require.NoError(t, err)
		assert.Equal(t, pathIDs(first), pathIDs(again))
	}

	// The intermediate is the smaller of b and c by ID.
	want := b.ID
	if c.ID < b.ID {
		want = c.ID
	}
	assert.Equal(t, want, first[1].ID)
}

func TestPathBetween_ShortcutBeatsLongPath(t *testing.T) {
	t.Parallel()

	// a → b → c → d plus a direct a → d.
	g := New()
	a := makeNode("a.go", "a", KindFunction)
	b := makeNode("b.go", "b", KindFunction)
	c := makeNode("c.go", "c", KindFunction)
	d := makeNode("d.go", "d", KindFunction)
	addNodes(t, g, a, b, c, d)

	txn := g.Update()
	txn.AddEdge(NewEdge(a.ID, b.ID, EdgeCalls, 0))
	txn.AddEdge(NewEdge(b.ID, c.ID, EdgeCalls, 0))
	txn.AddEdge(NewEdge(c.ID, d.ID, EdgeCalls, 0))
	txn.AddEdge(NewEdge(a.ID, d.ID, EdgeCalls, 0))
	txn.Close()

	path, err := g.PathBetween(context.Background(), a.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, d.ID}, pathIDs(path))
}

func TestPathBetween_NoPath(t *testing.T) {
	t.Parallel()

	g := New()
	a := makeNode("a.go", "a", KindFunction)
	b := makeNode("b.go", "b", KindFunction)
	addNodes(t, g, a, b)

	_, err := g.PathBetween(context.Background(), a.ID, b.ID)
	assert.ErrorIs(t, err, ErrNoPath)

	// Directed: an edge b → a does not connect a to b.
	txn := g.Update()
	txn.AddEdge(NewEdge(b.ID, a.ID, EdgeCalls, 0))
	txn.Close()

	_, err = g.PathBetween(context.Background(), a.ID, b.ID)
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestPathBetween_KindFilter(t *testing.T) {
	t.Parallel()

	g := New()
	a := makeNode("a.go", "a", KindFunction)
	b := makeNode("b.go", "b", KindFunction)
	addNodes(t, g, a, b)

	txn := g.Update()
	txn.AddEdge(NewEdge(a.ID, b.ID, EdgeReferences, 0))
	txn.Close()

	_, err := g.PathBetween(context.Background(), a.ID, b.ID, EdgeCalls)
	assert.ErrorIs(t, err, ErrNoPath, "filtered subgraph has no calls edge")

	path, err := g.PathBetween(context.Background(), a.ID, b.ID, EdgeReferences)
	require.NoError(t, err)
	assert.Len(t, path, 2)
}

func TestPathBetween_UnknownEndpoint(t *testing.T) {
	t.Parallel()

	g := New()
	a := makeNode("a.go", "a", KindFunction)
	addNodes(t, g, a)

	_, err := g.PathBetween(context.Background(), a.ID, "missing")
	assert.ErrorIs(t, err, ErrUnknownNode)

	_, err = g.PathBetween(context.Background(), "missing", a.ID)
	assert.ErrorIs(t, err, ErrUnknownNode)
}
