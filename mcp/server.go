// Package mcp provides the MCP (Model Context Protocol) bridge for
// Lattice. It is a thin shell over the query service: agents discover
// entry points, pull budgeted context, and run impact analysis. Impact
// lookups and the focus tool spotlight the node for connected
// visualizers; the other tools do not.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lattice-dev/lattice/internal/query"
)

// Server is the MCP bridge.
type Server struct {
	svc    *query.Service
	server *mcp.Server
}

// Tool describes one MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// NewServer creates the bridge over a query service.
func NewServer(svc *query.Service) *Server {
	s := &Server{svc: svc}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "lattice",
		Version: "0.1.0",
	}, nil)

	return s
}

// ListTools returns the bridge's tool set.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        "lattice_discover",
			Description: "Find entry points in the code graph for a task. Returns ranked symbols with the reason each matched.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string", Description: "What you are looking for"},
					"limit": {Type: "integer", Description: "Maximum number of results"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "lattice_context",
			Description: "Assemble a token-budgeted working set of graph nodes relevant to a task description.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"task":           {Type: "string", Description: "Task description"},
					"max_tokens":     {Type: "integer", Description: "Token budget"},
					"include_source": {Type: "boolean", Description: "Embed source spans"},
				},
				Required: []string{"task"},
			},
		},
		{
			Name:        "lattice_impact",
			Description: "Blast radius analysis: which symbols depend, directly or transitively, on a given node.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"node_id":   {Type: "string", Description: "Target node ID"},
					"max_depth": {Type: "integer", Description: "Maximum hop distance"},
				},
				Required: []string{"node_id"},
			},
		},
		{
			Name:        "lattice_path",
			Description: "Shortest dependency path between two nodes in the graph.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"start_id": {Type: "string", Description: "Start node ID"},
					"end_id":   {Type: "string", Description: "End node ID"},
				},
				Required: []string{"start_id", "end_id"},
			},
		},
		{
			Name:        "lattice_info",
			Description: "Graph statistics: node and edge counts, languages, last index time.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
		{
			Name:        "lattice_focus",
			Description: "Spotlight a node in connected visualizers. Fire-and-forget.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"node_id": {Type: "string", Description: "Node ID to focus"},
					"file":    {Type: "string", Description: "File path"},
					"line":    {Type: "integer", Description: "Line number"},
				},
				Required: []string{"node_id"},
			},
		},
	}
}

// CallTool dispatches one tool invocation.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "lattice_discover":
		return s.handleDiscover(ctx, args)
	case "lattice_context":
		return s.handleContext(ctx, args)
	case "lattice_impact":
		return s.handleImpact(ctx, args)
	case "lattice_path":
		return s.handlePath(ctx, args)
	case "lattice_info":
		return s.handleInfo(ctx)
	case "lattice_focus":
		return s.handleFocus(args)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (s *Server) handleDiscover(ctx context.Context, args map[string]any) (string, error) {
	q, _ := args["query"].(string)
	limit := intArg(args, "limit", 10)

	refs, err := s.svc.Discover(ctx, q, limit)
	if err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return fmt.Sprintf("No matches for %q.", q), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d entry point(s) for %q:\n\n", len(refs), q)
	for _, ref := range refs {
		fmt.Fprintf(&b, "- %s (%s) %s:%d — %s [id: %s]\n",
			ref.Name, ref.Kind, ref.File, ref.Line, ref.Reason, ref.ID)
	}
	return b.String(), nil
}

func (s *Server) handleContext(ctx context.Context, args map[string]any) (string, error) {
	task, _ := args["task"].(string)
	maxTokens := intArg(args, "max_tokens", 4000)
	includeSource, _ := args["include_source"].(bool)

	resp, err := s.svc.Context(ctx, task, maxTokens, includeSource)
	if err != nil {
		return "", err
	}
	if len(resp.Nodes) == 0 {
		return "No relevant nodes found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Context for %q (%d tokens):\n\n", task, resp.TotalTokens)
	for _, n := range resp.Nodes {
		fmt.Fprintf(&b, "## %s (%s, centrality %.4f)\n%s:%d\n",
			n.QualifiedName, n.Kind, n.Centrality, n.File, n.Line)
		if n.Signature != "" {
			fmt.Fprintf(&b, "    %s\n", n.Signature)
		}
		if n.Source != "" {
			fmt.Fprintf(&b, "```\n%s\n```\n", n.Source)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (s *Server) handleImpact(ctx context.Context, args map[string]any) (string, error) {
	nodeID, _ := args["node_id"].(string)
	maxDepth := intArg(args, "max_depth", 3)

	resp, err := s.svc.Impact(ctx, nodeID, maxDepth)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Impact of changing %s (%s):\n", resp.Target.Name, resp.Target.File)
	fmt.Fprintf(&b, "Blast radius: %d node(s)\n\n", resp.TotalAffected)
	for _, d := range resp.Dependents {
		if d.Depth == 0 {
			continue
		}
		fmt.Fprintf(&b, "- [%s, depth %d] %s (%s) %s:%d via %s\n",
			d.Severity, d.Depth, d.Name, d.Kind, d.File, d.Line, d.Relationship)
	}
	return b.String(), nil
}

func (s *Server) handlePath(ctx context.Context, args map[string]any) (string, error) {
	startID, _ := args["start_id"].(string)
	endID, _ := args["end_id"].(string)

	path, err := s.svc.FindPath(ctx, startID, endID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Path (%d node(s)):\n", len(path))
	for i, n := range path {
		fmt.Fprintf(&b, "%d. %s (%s) %s:%d\n", i+1, n.Name, n.Kind, n.File, n.Line)
	}
	return b.String(), nil
}

func (s *Server) handleInfo(ctx context.Context) (string, error) {
	info, err := s.svc.GetInfo(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Nodes: %d\nEdges: %d\nLanguages: %s\nLast indexed: %s\n",
		info.NodeCount, info.EdgeCount, strings.Join(info.Languages, ", "),
		info.LastIndexed.Format("2006-01-02 15:04:05")), nil
}

func (s *Server) handleFocus(args map[string]any) (string, error) {
	nodeID, _ := args["node_id"].(string)
	if nodeID == "" {
		return "", fmt.Errorf("node_id is required")
	}
	file, _ := args["file"].(string)
	line := intArg(args, "line", 0)

	s.svc.Focus(nodeID, file, line)
	return "ok", nil
}

// Run serves JSON-RPC over stdio until EOF or cancellation.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if stdin == nil || stdout == nil {
		return fmt.Errorf("stdin and stdout must not be nil")
	}

	reader := bufio.NewReader(stdin)
	encoder := json.NewEncoder(stdout)
	// MCP requires compact JSON, one message per line.

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		var req map[string]any
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}

		resp := s.handleRequest(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			return err
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req map[string]any) map[string]any {
	method, _ := req["method"].(string)
	id := req["id"]

	switch method {
	case "initialize":
		return s.handleInitialize(id)
	case "tools/list":
		return s.handleToolsList(id)
	case "tools/call":
		return s.handleToolsCall(ctx, id, req)
	default:
		return errorResponse(id, -32601, "Method not found: "+method)
	}
}

func (s *Server) handleInitialize(id any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo": map[string]any{
				"name":    "lattice",
				"version": "0.1.0",
			},
			"capabilities": map[string]any{
				"tools": map[string]any{
					"listChanged": false,
				},
			},
		},
	}
}

func (s *Server) handleToolsList(id any) map[string]any {
	tools := s.ListTools()
	toolList := make([]map[string]any, len(tools))
	for i, tool := range tools {
		schema, _ := json.Marshal(tool.InputSchema)
		var schemaMap map[string]any
		_ = json.Unmarshal(schema, &schemaMap)

		toolList[i] = map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": schemaMap,
		}
	}

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"tools": toolList,
		},
	}
}

func (s *Server) handleToolsCall(ctx context.Context, id any, req map[string]any) map[string]any {
	params, _ := req["params"].(map[string]any)
	if params == nil {
		return errorResponse(id, -32602, "Invalid params")
	}

	name, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)

	result, err := s.CallTool(ctx, name, args)
	if err != nil {
		return errorResponse(id, -32000, err.Error())
	}

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result": map[string]any{
			"content": []map[string]any{
				{
					"type": "text",
					"text": result,
				},
			},
		},
	}
}

func errorResponse(id any, code int, message string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}
