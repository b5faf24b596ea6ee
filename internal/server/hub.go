// Package server hosts the broadcast endpoint: a websocket hub that
// fans commit, focus, and status events out to subscribers (visualizer,
// editor plug-in). It is a pure consumer of the coordinator's event
// channel.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lattice-dev/lattice/internal/events"
	"github.com/lattice-dev/lattice/internal/graph"
)

// Config holds hub settings.
type Config struct {
	// Port to listen on.
	Port int

	// Headless binds to all interfaces instead of loopback.
	Headless bool
}

// Addr returns the bind address.
func (c Config) Addr() string {
	host := "127.0.0.1"
	if c.Headless {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// Hub broadcasts envelopes to websocket subscribers.
type Hub struct {
	cfg   Config
	graph *graph.Graph

	mu   sync.Mutex
	subs map[*subscriber]bool

	upgrader websocket.Upgrader
}

type subscriber struct {
	conn  *websocket.Conn
	send  chan events.Envelope
	kinds map[events.Type]bool // nil means every kind
}

func (s *subscriber) wants(t events.Type) bool {
	return s.kinds == nil || s.kinds[t]
}

// New creates a hub over the given graph. The graph is only read to
// build the snapshot sent to new subscribers.
func New(cfg Config, g *graph.Graph) *Hub {
	return &Hub{
		cfg:   cfg,
		graph: g,
		subs:  make(map[*subscriber]bool),
		upgrader: websocket.Upgrader{
			// The hub serves local tools; origin checks are the
			// reverse proxy's job in headless deployments.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving the /ws endpoint.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	return mux
}

// Run serves the websocket endpoint and pumps the event stream until
// the context is cancelled.
func (h *Hub) Run(ctx context.Context, stream <-chan events.Envelope) error {
	ln, err := net.Listen("tcp", h.cfg.Addr())
	if err != nil {
		return fmt.Errorf("binding broadcast endpoint: %w", err)
	}

	srv := &http.Server{Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	go h.pump(ctx, stream)

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Broadcast sends one envelope to every subscriber. Events are shed per
// slow subscriber rather than blocking the stream.
func (h *Hub) Broadcast(e events.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.send <- e:
		default:
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) pump(ctx context.Context, stream <-chan events.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-stream:
			if !ok {
				return
			}
			h.Broadcast(e)
		}
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := &subscriber{
		conn:  conn,
		send:  make(chan events.Envelope, 64),
		kinds: parseKinds(r.URL.Query().Get("kinds")),
	}

	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()

	// New subscribers start from a full snapshot so they never have to
	// reconstruct state from deltas.
	if sub.wants(events.TypeGraphUpdate) {
		sub.send <- h.snapshot()
	}

	go h.writeLoop(sub)
	go h.readLoop(sub)
}

// parseKinds reads the optional "kinds" query parameter, a
// comma-separated list of event types the subscriber wants. Empty
// subscribes to everything.
func parseKinds(raw string) map[events.Type]bool {
	if raw == "" {
		return nil
	}
	kinds := make(map[events.Type]bool)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			kinds[events.Type(part)] = true
		}
	}
	return kinds
}

// snapshot builds a non-delta GraphUpdate with the embedded node and
// edge lists.
func (h *Hub) snapshot() events.Envelope {
	nodes, edges, files := h.graph.Snapshot()

	update := events.GraphUpdate{
		IsDelta:   false,
		NodeCount: len(nodes),
		EdgeCount: len(edges),
	}
	for i := range files {
		update.ChangedFiles = append(update.ChangedFiles, files[i].Path)
	}
	for i := range nodes {
		n := &nodes[i]
		update.Nodes = append(update.Nodes, events.NodeSummary{
			ID:         n.ID,
			Name:       n.Name,
			Kind:       string(n.Kind),
			File:       n.FilePath,
			LineStart:  n.LineStart,
			LineEnd:    n.LineEnd,
			Language:   n.Language,
			Centrality: n.Centrality,
		})
	}
	for i := range edges {
		e := &edges[i]
		update.Edges = append(update.Edges, events.EdgeSummary{
			Source: e.Src,
			Target: e.Dst,
			Kind:   string(e.Kind),
		})
	}
	return events.Wrap(events.TypeGraphUpdate, update)
}

func (h *Hub) writeLoop(sub *subscriber) {
	defer h.drop(sub)
	for e := range sub.send {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readLoop drains the connection so closes and pings are processed;
// subscribers do not send application messages.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.drop(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	if h.subs[sub] {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
	_ = sub.conn.Close()
}
