// Package query exposes the graph's typed query contract. The RPC
// transport and the MCP bridge are thin shells over this service; all
// IDs and kinds are strings on the wire.
package query

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lattice-dev/lattice/internal/graph"
)

// Error codes surfaced to the transport.
const (
	CodeInvalidParams = "invalid_params"
	CodeUnknownNode   = "unknown_node"
	CodeNotIndexed    = "not_indexed"
	CodeTimeout       = "timeout"
)

// Error is a structured query error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errInvalid(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// FocusSink receives fire-and-forget focus events for rebroadcast.
type FocusSink interface {
	EmitFocus(nodeID, file string, line int)
}

// Service answers queries against the live graph.
type Service struct {
	root  string
	graph *graph.Graph
	focus FocusSink
}

// New creates a query service. root is used to read source spans when a
// caller asks for them; focus may be nil.
func New(root string, g *graph.Graph, focus FocusSink) *Service {
	return &Service{root: root, graph: g, focus: focus}
}

// Info is the graph.info response.
type Info struct {
	NodeCount   int       `json:"node_count"`
	EdgeCount   int       `json:"edge_count"`
	Languages   []string  `json:"languages"`
	LastIndexed time.Time `json:"last_indexed"`
}

// GetInfo reports graph size and language coverage.
func (s *Service) GetInfo(ctx context.Context) (*Info, error) {
	if err := mapCtxErr(ctx); err != nil {
		return nil, err
	}
	stats := s.graph.Stats()
	return &Info{
		NodeCount:   stats.NodeCount,
		EdgeCount:   stats.EdgeCount,
		Languages:   stats.Languages,
		LastIndexed: stats.LastIndexed,
	}, nil
}

// NodeRef is the compact node shape returned by discovery and search.
type NodeRef struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	File       string  `json:"file"`
	Line       int     `json:"line"`
	Score      float64 `json:"score,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Centrality float64 `json:"centrality,omitempty"`
}

func toRef(n *graph.CodeNode) NodeRef {
	return NodeRef{
		ID:         n.ID,
		Name:       n.Name,
		Kind:       string(n.Kind),
		File:       n.FilePath,
		Line:       n.LineStart,
		Centrality: n.Centrality,
	}
}

// Discover returns entry points for a task: name matches ranked by match
// quality and centrality, with a short reason per hit.
func (s *Service) Discover(ctx context.Context, queryText string, limit int) ([]NodeRef, error) {
	if err := mapCtxErr(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, errInvalid("query must not be empty")
	}
	if s.graph.NodeCount() == 0 {
		return nil, &Error{Code: CodeNotIndexed, Message: "no index yet, run a full index first"}
	}
	if limit <= 0 {
		limit = 10
	}

	var out []NodeRef
	for _, ranked := range s.graph.FindByName(queryText, limit) {
		ref := toRef(ranked.Node)
		ref.Score = ranked.Score
		ref.Reason = matchReason(ranked.Node, queryText)
		out = append(out, ref)
	}
	return out, nil
}

func matchReason(n *graph.CodeNode, q string) string {
	name := strings.ToLower(n.Name)
	ql := strings.ToLower(q)
	switch {
	case name == ql:
		return "exact name match"
	case strings.HasPrefix(name, ql):
		return "name prefix match"
	case strings.Contains(name, ql):
		return "name contains query"
	default:
		return "qualified name match"
	}
}

// Dependent is one affected node in an impact response.
type Dependent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	File         string `json:"file"`
	Line         int    `json:"line"`
	Relationship string `json:"relationship"`
	Depth        int    `json:"depth"`
	Severity     string `json:"severity"`
}

// ImpactResponse is the blast radius of a change.
type ImpactResponse struct {
	Target        NodeRef     `json:"target"`
	Dependents    []Dependent `json:"dependents"`
	TotalAffected int         `json:"total_affected"`
}

// Impact answers "what breaks if I change this?".
func (s *Service) Impact(ctx context.Context, nodeID string, maxDepth int) (*ImpactResponse, error) {
	if err := mapCtxErr(ctx); err != nil {
		return nil, err
	}
	if nodeID == "" {
		return nil, errInvalid("node_id must not be empty")
	}
	if maxDepth < 0 {
		return nil, errInvalid("max_depth must be non-negative")
	}
	if maxDepth == 0 {
		maxDepth = 3
	}

	res, err := s.graph.Impact(ctx, nodeID, maxDepth)
	if err != nil {
		return nil, mapGraphErr(err)
	}

	resp := &ImpactResponse{
		Target:        toRef(res.Target),
		TotalAffected: res.TotalAffected,
	}
	for _, a := range res.Dependents {
		resp.Dependents = append(resp.Dependents, Dependent{
			ID:           a.Node.ID,
			Name:         a.Node.Name,
			Kind:         string(a.Node.Kind),
			File:         a.Node.FilePath,
			Line:         a.Node.LineStart,
			Relationship: string(a.EntryEdge),
			Depth:        a.Depth,
			Severity:     string(a.Severity),
		})
	}

	if s.focus != nil {
		s.focus.EmitFocus(res.Target.ID, res.Target.FilePath, res.Target.LineStart)
	}
	return resp, nil
}

// ContextNode is one budgeted node in a context response.
type ContextNode struct {
	NodeRef
	QualifiedName string `json:"qualified_name"`
	Signature     string `json:"signature,omitempty"`
	Source        string `json:"source,omitempty"`
	TokenCount    int    `json:"token_count"`
}

// ContextResponse is a token-budgeted working set for a task.
type ContextResponse struct {
	Nodes       []ContextNode `json:"nodes"`
	TotalTokens int           `json:"total_tokens"`
}

// Context assembles the most relevant nodes for a task description,
// ranked by match quality and centrality, cut off at maxTokens.
func (s *Service) Context(ctx context.Context, task string, maxTokens int, includeSource bool) (*ContextResponse, error) {
	if err := mapCtxErr(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(task) == "" {
		return nil, errInvalid("task must not be empty")
	}
	if maxTokens <= 0 {
		maxTokens = 4000
	}

	// Gather candidates across the task's words, dedup by node.
	byID := make(map[string]graph.RankedNode)
	for _, word := range strings.Fields(task) {
		if len(word) < 3 {
			continue
		}
		for _, ranked := range s.graph.FindByName(word, 50) {
			if prev, ok := byID[ranked.Node.ID]; !ok || ranked.Score > prev.Score {
				byID[ranked.Node.ID] = ranked
			}
		}
	}

	candidates := make([]graph.RankedNode, 0, len(byID))
	for _, rn := range byID {
		candidates = append(candidates, rn)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Node.ID < candidates[j].Node.ID
	})

	resp := &ContextResponse{}
	for _, rn := range candidates {
		node := rn.Node
		cn := ContextNode{
			NodeRef:       toRef(node),
			QualifiedName: node.QualifiedName,
			Signature:     node.Signature,
		}
		cn.Score = rn.Score

		if includeSource {
			cn.Source = s.readSpan(node)
		}
		cn.TokenCount = estimateTokens(cn)

		if resp.TotalTokens+cn.TokenCount > maxTokens {
			break
		}
		resp.Nodes = append(resp.Nodes, cn)
		resp.TotalTokens += cn.TokenCount
	}
	return resp, nil
}

// estimateTokens approximates tokens at four bytes each, the usual
// planning heuristic for code.
func estimateTokens(cn ContextNode) int {
	size := len(cn.QualifiedName) + len(cn.Signature) + len(cn.Source) + 32
	return size / 4
}

func (s *Service) readSpan(n *graph.CodeNode) string {
	content, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(n.FilePath)))
	if err != nil {
		return ""
	}
	lines := strings.Split(string(content), "\n")
	if n.LineStart < 1 || n.LineStart > len(lines) {
		return ""
	}
	end := n.LineEnd
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[n.LineStart-1:end], "\n")
}

// EdgeGroup groups incident edges by direction and kind.
type EdgeGroup struct {
	Direction string    `json:"direction"`
	Kind      string    `json:"kind"`
	Nodes     []NodeRef `json:"nodes"`
}

// NodeDetail is the full node record with grouped incident edges.
type NodeDetail struct {
	NodeRef
	QualifiedName string      `json:"qualified_name"`
	LineEnd       int         `json:"line_end"`
	Language      string      `json:"language"`
	Signature     string      `json:"signature,omitempty"`
	Edges         []EdgeGroup `json:"edges"`
}

// NodeGet returns one node with its incident edges grouped by direction
// and kind.
func (s *Service) NodeGet(ctx context.Context, nodeID string) (*NodeDetail, error) {
	if err := mapCtxErr(ctx); err != nil {
		return nil, err
	}
	if nodeID == "" {
		return nil, errInvalid("node_id must not be empty")
	}

	node := s.graph.Node(nodeID)
	if node == nil {
		return nil, &Error{Code: CodeUnknownNode, Message: nodeID}
	}

	detail := &NodeDetail{
		NodeRef:       toRef(node),
		QualifiedName: node.QualifiedName,
		LineEnd:       node.LineEnd,
		Language:      node.Language,
		Signature:     node.Signature,
	}

	for _, dir := range []graph.Direction{graph.Outgoing, graph.Incoming} {
		dirName := "outgoing"
		if dir == graph.Incoming {
			dirName = "incoming"
		}
		groups := make(map[graph.EdgeKind][]NodeRef)
		for _, e := range s.graph.Neighbors(nodeID, dir) {
			other := e.Dst
			if dir == graph.Incoming {
				other = e.Src
			}
			if n := s.graph.Node(other); n != nil {
				groups[e.Kind] = append(groups[e.Kind], toRef(n))
			}
		}

		kinds := make([]graph.EdgeKind, 0, len(groups))
		for k := range groups {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		for _, k := range kinds {
			detail.Edges = append(detail.Edges, EdgeGroup{
				Direction: dirName,
				Kind:      string(k),
				Nodes:     groups[k],
			})
		}
	}
	return detail, nil
}

// Search is plain text search over node names with an optional kind
// filter.
func (s *Service) Search(ctx context.Context, queryText, kind string, limit int) ([]NodeRef, error) {
	if err := mapCtxErr(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, errInvalid("query must not be empty")
	}
	if limit <= 0 {
		limit = 20
	}

	var kinds []graph.NodeKind
	if kind != "" {
		kinds = append(kinds, graph.NodeKind(kind))
	}

	var out []NodeRef
	for _, ranked := range s.graph.FindByName(queryText, limit, kinds...) {
		ref := toRef(ranked.Node)
		ref.Score = ranked.Score
		out = append(out, ref)
	}
	return out, nil
}

// FindPath returns a shortest node sequence from start to end.
func (s *Service) FindPath(ctx context.Context, startID, endID string) ([]NodeRef, error) {
	if err := mapCtxErr(ctx); err != nil {
		return nil, err
	}
	if startID == "" || endID == "" {
		return nil, errInvalid("start_id and end_id must not be empty")
	}

	path, err := s.graph.PathBetween(ctx, startID, endID)
	if err != nil {
		return nil, mapGraphErr(err)
	}

	out := make([]NodeRef, 0, len(path))
	for _, n := range path {
		out = append(out, toRef(n))
	}
	return out, nil
}

// Focus relays a spotlight event to subscribers, unchanged.
func (s *Service) Focus(nodeID, file string, line int) {
	if s.focus != nil {
		s.focus.EmitFocus(nodeID, file, line)
	}
}

func mapCtxErr(ctx context.Context) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Code: CodeTimeout, Message: "query timed out"}
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return nil
}

func mapGraphErr(err error) error {
	switch {
	case errors.Is(err, graph.ErrUnknownNode):
		return &Error{Code: CodeUnknownNode, Message: err.Error()}
	case errors.Is(err, graph.ErrNoPath):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeTimeout, Message: "query timed out"}
	}
	return err
}
