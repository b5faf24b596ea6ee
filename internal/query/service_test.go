package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/graph"
)

type focusRecorder struct {
	nodeID string
	file   string
	line   int
	count  int
}

func (f *focusRecorder) EmitFocus(nodeID, file string, line int) {
	f.nodeID, f.file, f.line = nodeID, file, line
	f.count++
}

func seedGraph(t *testing.T) (*graph.Graph, map[string]*graph.CodeNode) {
	t.Helper()

	g := graph.New()
	nodes := map[string]*graph.CodeNode{}
	mk := func(file, name string, kind graph.NodeKind) *graph.CodeNode {
		qualified := file + "::" + name
		n := &graph.CodeNode{
			ID:            graph.NodeID(file, qualified, kind),
			Kind:          kind,
			Name:          name,
			QualifiedName: qualified,
			FilePath:      file,
			LineStart:     1,
			LineEnd:       2,
			Language:      "go",
		}
		nodes[name] = n
		return n
	}

	handler := mk("h.go", "Handler", graph.KindFunction)
	serve := mk("s.go", "Serve", graph.KindFunction)
	router := mk("r.go", "Router", graph.KindStruct)

	txn := g.Update()
	for _, n := range []*graph.CodeNode{handler, serve, router} {
		txn.AddNode(n)
		txn.InsertSymbol(n.QualifiedName, n.ID)
	}
	txn.AddEdge(graph.NewEdge(serve.ID, handler.ID, graph.EdgeCalls, 0))
	txn.AddEdge(graph.NewEdge(router.ID, handler.ID, graph.EdgeReferences, 0))
	txn.Close()

	return g, nodes
}

func TestService_GetInfo(t *testing.T) {
	t.Parallel()

	g, _ := seedGraph(t)
	svc := New(t.TempDir(), g, nil)

	info, err := svc.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, info.NodeCount)
	assert.Equal(t, 2, info.EdgeCount)
}

func TestService_Discover(t *testing.T) {
	t.Parallel()

	g, nodes := seedGraph(t)
	svc := New(t.TempDir(), g, nil)

	refs, err := svc.Discover(context.Background(), "Handler", 10)
	require.NoError(t, err)
	require.NotEmpty(t, refs)
	assert.Equal(t, nodes["Handler"].ID, refs[0].ID)
	assert.Equal(t, "exact name match", refs[0].Reason)

	_, err = svc.Discover(context.Background(), "  ", 10)
	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, CodeInvalidParams, qerr.Code)
}

func TestService_DiscoverNotIndexed(t *testing.T) {
	t.Parallel()

	svc := New(t.TempDir(), graph.New(), nil)
	_, err := svc.Discover(context.Background(), "anything", 5)

	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, CodeNotIndexed, qerr.Code)
}

func TestService_ImpactEmitsFocus(t *testing.T) {
	t.Parallel()

	g, nodes := seedGraph(t)
	rec := &focusRecorder{}
	svc := New(t.TempDir(), g, rec)

	resp, err := svc.Impact(context.Background(), nodes["Handler"].ID, 2)
	require.NoError(t, err)

	// Handler + its two dependents.
	assert.Equal(t, 3, resp.TotalAffected)
	assert.Equal(t, nodes["Handler"].ID, resp.Target.ID)
	assert.Equal(t, 1, rec.count)
	assert.Equal(t, nodes["Handler"].ID, rec.nodeID)

	_, err = svc.Impact(context.Background(), "missing", 2)
	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, CodeUnknownNode, qerr.Code)
}

func TestService_NodeGetGroupsEdges(t *testing.T) {
	t.Parallel()

	g, nodes := seedGraph(t)
	svc := New(t.TempDir(), g, nil)

	detail, err := svc.NodeGet(context.Background(), nodes["Handler"].ID)
	require.NoError(t, err)

	assert.Equal(t, "Handler", detail.Name)
	require.Len(t, detail.Edges, 2, "incoming calls and references groups")
	for _, group := range detail.Edges {
		assert.Equal(t, "incoming", group.Direction)
		assert.Len(t, group.Nodes, 1)
	}
}

func TestService_Search(t *testing.T) {
	t.Parallel()

	g, nodes := seedGraph(t)
	svc := New(t.TempDir(), g, nil)

	refs, err := svc.Search(context.Background(), "router", "", 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, nodes["Router"].ID, refs[0].ID)

	// Kind filter excludes non-matching kinds.
	refs, err = svc.Search(context.Background(), "router", "function", 10)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestService_FindPath(t *testing.T) {
	t.Parallel()

	g, nodes := seedGraph(t)
	svc := New(t.TempDir(), g, nil)

	path, err := svc.FindPath(context.Background(), nodes["Serve"].ID, nodes["Handler"].ID)
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, nodes["Serve"].ID, path[0].ID)
	assert.Equal(t, nodes["Handler"].ID, path[1].ID)
}

func TestService_Context(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "h.go"),
		[]byte("package h\n\nfunc Handler() {}\n"), 0o644))

	g, _ := seedGraph(t)
	svc := New(root, g, nil)

	resp, err := svc.Context(context.Background(), "fix the Handler bug", 4000, false)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Nodes)
	assert.Equal(t, "Handler", resp.Nodes[0].Name)
	assert.Greater(t, resp.Nodes[0].TokenCount, 0)
	assert.LessOrEqual(t, resp.TotalTokens, 4000)

	// A tiny budget returns fewer nodes.
	small, err := svc.Context(context.Background(), "fix the Handler bug", 1, false)
	require.NoError(t, err)
	assert.Empty(t, small.Nodes)
}

func TestService_Timeout(t *testing.T) {
	t.Parallel()

	g, _ := seedGraph(t)
	svc := New(t.TempDir(), g, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := svc.GetInfo(ctx)
	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, CodeTimeout, qerr.Code)
}

func TestService_FocusRelay(t *testing.T) {
	t.Parallel()

	g, _ := seedGraph(t)
	rec := &focusRecorder{}
	svc := New(t.TempDir(), g, rec)

	svc.Focus("some-node", "a.go", 12)
	assert.Equal(t, 1, rec.count)
	assert.Equal(t, "some-node", rec.nodeID)
	assert.Equal(t, "a.go", rec.file)
	assert.Equal(t, 12, rec.line)
}
