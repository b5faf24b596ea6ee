package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/events"
	"github.com/lattice-dev/lattice/internal/graph"
)

func seededGraph(t *testing.T) *graph.Graph {
	t.Helper()

	g := graph.New()
	n := &graph.CodeNode{
		ID:            graph.NodeID("a.go", "a.go::foo", graph.KindFunction),
		Kind:          graph.KindFunction,
		Name:          "foo",
		QualifiedName: "a.go::foo",
		FilePath:      "a.go",
		LineStart:     1,
		LineEnd:       2,
		Language:      "go",
	}
	txn := g.Update()
	txn.AddNode(n)
	txn.PutFileRecord(&graph.FileRecord{Path: "a.go", Language: "go"})
	txn.Close()
	return g
}

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var e events.Envelope
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestHub_NewSubscriberGetsSnapshot(t *testing.T) {
	t.Parallel()

	h := New(Config{}, seededGraph(t))
	conn := dialHub(t, h)

	e := readEnvelope(t, conn)
	assert.Equal(t, events.TypeGraphUpdate, e.Type)

	var up events.GraphUpdate
	require.NoError(t, json.Unmarshal(e.Payload, &up))
	assert.False(t, up.IsDelta)
	assert.Equal(t, 1, up.NodeCount)
	require.Len(t, up.Nodes, 1)
	assert.Equal(t, "foo", up.Nodes[0].Name)
	assert.Equal(t, []string{"a.go"}, up.ChangedFiles)
}

func TestHub_BroadcastReachesSubscribers(t *testing.T) {
	t.Parallel()

	h := New(Config{}, seededGraph(t))
	conn := dialHub(t, h)
	_ = readEnvelope(t, conn) // snapshot

	// Wait until the subscriber is registered before broadcasting.
	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	h.Broadcast(events.Wrap(events.TypeFocusNode, events.FocusNode{
		NodeID: "n1", File: "a.go", Line: 3,
	}))

	e := readEnvelope(t, conn)
	assert.Equal(t, events.TypeFocusNode, e.Type)

	var focus events.FocusNode
	require.NoError(t, json.Unmarshal(e.Payload, &focus))
	assert.Equal(t, "n1", focus.NodeID)
	assert.Equal(t, 3, focus.Line)
}

func TestHub_DropsClosedSubscribers(t *testing.T) {
	t.Parallel()

	h := New(Config{}, seededGraph(t))
	conn := dialHub(t, h)
	_ = readEnvelope(t, conn)

	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return h.SubscriberCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestHub_KindFilter(t *testing.T) {
	t.Parallel()

	h := New(Config{}, seededGraph(t))

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?kinds=FocusNode"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	// A GraphUpdate is filtered out; the focus event arrives first.
	h.Broadcast(events.Wrap(events.TypeGraphUpdate, events.GraphUpdate{IsDelta: true}))
	h.Broadcast(events.Wrap(events.TypeFocusNode, events.FocusNode{NodeID: "n2"}))

	e := readEnvelope(t, conn)
	assert.Equal(t, events.TypeFocusNode, e.Type, "no snapshot, no update: the subscriber only wants focus events")
}

func TestConfig_Addr(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "127.0.0.1:8723", Config{Port: 8723}.Addr())
	assert.Equal(t, "0.0.0.0:8723", Config{Port: 8723, Headless: true}.Addr())
}
