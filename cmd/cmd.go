// Package cmd provides CLI command implementations for Lattice.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/indexer"
	"github.com/lattice-dev/lattice/internal/lang"
	"github.com/lattice-dev/lattice/internal/query"
	"github.com/lattice-dev/lattice/internal/server"
	"github.com/lattice-dev/lattice/internal/store"
	"github.com/lattice-dev/lattice/internal/watcher"
	"github.com/lattice-dev/lattice/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// env bundles everything a command needs after setup.
type env struct {
	root        string
	registry    *lang.Registry
	graph       *graph.Graph
	store       *store.Store
	coordinator *indexer.Coordinator
}

func (e *env) close() {
	if e.store != nil {
		_ = e.store.Close()
	}
}

// setup opens (or creates) the project's store and wires the pipeline.
func setup(path, ignoreFile string, rerankThreshold int, withStore bool) (*env, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("accessing %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	registry, err := lang.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("building language registry: %w", err)
	}

	if ignoreFile == "" {
		ignoreFile = filepath.Join(root, ".gitignore")
	}
	patterns, err := indexer.LoadIgnoreFile(ignoreFile)
	if err != nil {
		return nil, fmt.Errorf("loading ignore rules: %w", err)
	}

	e := &env{root: root, registry: registry, graph: graph.New()}

	if withStore {
		dir := filepath.Join(root, ".lattice", "graph")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		e.store, err = store.Open(dir)
		if err != nil {
			return nil, err
		}
	}

	e.coordinator = indexer.New(indexer.Config{
		Root:            root,
		IgnorePatterns:  patterns,
		RerankThreshold: rerankThreshold,
	}, registry, e.graph, e.store)

	return e, nil
}

func printSummary(s *indexer.CommitSummary, g *graph.Graph, verbose bool) {
	stats := g.Stats()
	color.Green("✓ Index complete")
	fmt.Printf("  Files:     %d\n", stats.FileCount)
	fmt.Printf("  Nodes:     %d\n", stats.NodeCount)
	fmt.Printf("  Edges:     %d\n", stats.EdgeCount)
	fmt.Printf("  Duration:  %.2fs\n", s.Duration.Seconds())

	if len(s.Diagnostics) > 0 {
		fmt.Printf("  Warnings:  %d\n", len(s.Diagnostics))
		if verbose {
			for _, d := range s.Diagnostics {
				fmt.Printf("    %s\n", d)
			}
		}
	}
}

// IndexCmd builds or rebuilds the full graph for a project tree.
type IndexCmd struct {
	Path            string `arg:"" optional:"" default:"." help:"Project root"`
	IgnoreFile      string `help:"Gitignore-style exclusion file"`
	RerankThreshold int    `default:"50" help:"Min changed nodes for full rerank"`
	NoStore         bool   `help:"Skip persistence (in-memory only)"`
	Verbose         bool   `short:"v" help:"Print per-file diagnostics"`
}

// Run executes the index command.
func (c *IndexCmd) Run() error {
	e, err := setup(c.Path, c.IgnoreFile, c.RerankThreshold, !c.NoStore)
	if err != nil {
		return err
	}
	defer e.close()

	color.Green("Indexing %s", e.root)
	summary, err := e.coordinator.FullIndex(context.Background())
	if err != nil {
		return fmt.Errorf("indexing: %w", err)
	}

	printSummary(summary, e.graph, c.Verbose)
	return nil
}

// WatchCmd indexes, then re-indexes incrementally on file changes.
type WatchCmd struct {
	Path            string        `arg:"" optional:"" default:"." help:"Project root"`
	IgnoreFile      string        `help:"Gitignore-style exclusion file"`
	RerankThreshold int           `default:"50" help:"Min changed nodes for full rerank"`
	Debounce        time.Duration `default:"50ms" help:"Watcher quiet window"`
}

// Run executes the watch command.
func (c *WatchCmd) Run() error {
	e, err := setup(c.Path, c.IgnoreFile, c.RerankThreshold, true)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := e.coordinator.LoadOrIndex(ctx); err != nil {
		return err
	}

	stats := e.graph.Stats()
	color.Green("Watching %s (%d nodes, Ctrl+C to stop)", e.root, stats.NodeCount)

	err = e.coordinator.Watch(ctx, watcher.WithDebounce(c.Debounce))
	if err == context.Canceled {
		return nil
	}
	return err
}

// ServeCmd runs the broadcast endpoint alongside the watcher.
type ServeCmd struct {
	Path            string        `arg:"" optional:"" default:"." help:"Project root"`
	Port            int           `default:"8723" help:"Broadcast endpoint port"`
	Headless        bool          `help:"Bind to all interfaces instead of loopback"`
	IgnoreFile      string        `help:"Gitignore-style exclusion file"`
	RerankThreshold int           `default:"50" help:"Min changed nodes for full rerank"`
	Debounce        time.Duration `default:"50ms" help:"Watcher quiet window"`
}

// Run executes the serve command.
func (c *ServeCmd) Run() error {
	e, err := setup(c.Path, c.IgnoreFile, c.RerankThreshold, true)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := e.coordinator.LoadOrIndex(ctx); err != nil {
		return err
	}

	hub := server.New(server.Config{Port: c.Port, Headless: c.Headless}, e.graph)

	errc := make(chan error, 2)
	go func() { errc <- hub.Run(ctx, e.coordinator.Events()) }()
	go func() { errc <- e.coordinator.Watch(ctx, watcher.WithDebounce(c.Debounce)) }()

	color.Green("Serving ws://%s/ws over %s", server.Config{Port: c.Port, Headless: c.Headless}.Addr(), e.root)

	err = <-errc
	if err == context.Canceled {
		return nil
	}
	return err
}

// MCPCmd starts the MCP bridge on stdio.
type MCPCmd struct {
	Path string `arg:"" optional:"" default:"." help:"Project root"`
}

// Run executes the mcp command.
func (c *MCPCmd) Run() error {
	e, err := setup(c.Path, "", 0, true)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := e.coordinator.LoadOrIndex(ctx); err != nil {
		return err
	}

	svc := query.New(e.root, e.graph, e.coordinator)
	bridge := mcp.NewServer(svc)

	err = bridge.Run(ctx, os.Stdin, os.Stdout)
	if err == context.Canceled {
		return nil
	}
	return err
}

// QueryCmd searches node names.
type QueryCmd struct {
	Query string `arg:"" help:"Search query"`
	Kind  string `help:"Restrict to a node kind"`
	Limit int    `short:"n" default:"20" help:"Maximum results"`
	Path  string `default:"." help:"Project root"`
}

// Run executes the query command.
func (c *QueryCmd) Run() error {
	e, err := setup(c.Path, "", 0, true)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	if _, err := e.coordinator.LoadOrIndex(ctx); err != nil {
		return err
	}

	svc := query.New(e.root, e.graph, nil)
	refs, err := svc.Search(ctx, c.Query, c.Kind, c.Limit)
	if err != nil {
		return err
	}

	if len(refs) == 0 {
		fmt.Printf("No matches for %q\n", c.Query)
		return nil
	}
	for _, ref := range refs {
		fmt.Printf("%-30s %-10s %s:%d\n", ref.Name, ref.Kind, ref.File, ref.Line)
	}
	return nil
}

// ImpactCmd prints the blast radius of a symbol.
type ImpactCmd struct {
	Symbol string `arg:"" help:"Symbol name or node ID"`
	Depth  int    `default:"3" help:"Maximum traversal depth"`
	Path   string `default:"." help:"Project root"`
}

// Run executes the impact command.
func (c *ImpactCmd) Run() error {
	e, err := setup(c.Path, "", 0, true)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	if _, err := e.coordinator.LoadOrIndex(ctx); err != nil {
		return err
	}

	svc := query.New(e.root, e.graph, nil)
	nodeID, err := resolveSymbolArg(ctx, svc, e.graph, c.Symbol)
	if err != nil {
		return err
	}

	resp, err := svc.Impact(ctx, nodeID, c.Depth)
	if err != nil {
		return err
	}

	color.Green("Impact of %s (%s)", resp.Target.Name, resp.Target.File)
	fmt.Printf("Blast radius: %d node(s)\n", resp.TotalAffected)
	for _, d := range resp.Dependents {
		if d.Depth == 0 {
			continue
		}
		fmt.Printf("  [%-10s d=%d] %-30s %s:%d via %s\n",
			d.Severity, d.Depth, d.Name, d.File, d.Line, d.Relationship)
	}
	return nil
}

// PathCmd prints a shortest dependency path between two symbols.
type PathCmd struct {
	From string `arg:"" help:"Start symbol name or node ID"`
	To   string `arg:"" help:"End symbol name or node ID"`
	Path string `default:"." help:"Project root"`
}

// Run executes the path command.
func (c *PathCmd) Run() error {
	e, err := setup(c.Path, "", 0, true)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	if _, err := e.coordinator.LoadOrIndex(ctx); err != nil {
		return err
	}

	svc := query.New(e.root, e.graph, nil)
	fromID, err := resolveSymbolArg(ctx, svc, e.graph, c.From)
	if err != nil {
		return err
	}
	toID, err := resolveSymbolArg(ctx, svc, e.graph, c.To)
	if err != nil {
		return err
	}

	path, err := svc.FindPath(ctx, fromID, toID)
	if err != nil {
		return err
	}

	for i, n := range path {
		fmt.Printf("%d. %s (%s) %s:%d\n", i+1, n.Name, n.Kind, n.File, n.Line)
	}
	return nil
}

// InfoCmd prints graph statistics.
type InfoCmd struct {
	Path string `arg:"" optional:"" default:"." help:"Project root"`
}

// Run executes the info command.
func (c *InfoCmd) Run() error {
	e, err := setup(c.Path, "", 0, true)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	if _, err := e.coordinator.LoadOrIndex(ctx); err != nil {
		return err
	}

	svc := query.New(e.root, e.graph, nil)
	info, err := svc.GetInfo(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Nodes:        %d\n", info.NodeCount)
	fmt.Printf("Edges:        %d\n", info.EdgeCount)
	fmt.Printf("Languages:    %v\n", info.Languages)
	fmt.Printf("Last indexed: %s\n", info.LastIndexed.Format(time.RFC3339))
	return nil
}

// CleanCmd deletes the persisted graph.
type CleanCmd struct {
	Path string `arg:"" optional:"" default:"." help:"Project root"`
}

// Run executes the clean command.
func (c *CleanCmd) Run() error {
	root, err := filepath.Abs(c.Path)
	if err != nil {
		return err
	}
	dir := filepath.Join(root, ".lattice")
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	color.Green("Removed %s", dir)
	return nil
}

// resolveSymbolArg accepts either a node ID or a symbol name, resolving
// names through search.
func resolveSymbolArg(ctx context.Context, svc *query.Service, g *graph.Graph, arg string) (string, error) {
	if g.Node(arg) != nil {
		return arg, nil
	}

	refs, err := svc.Search(ctx, arg, "", 1)
	if err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return "", fmt.Errorf("no symbol matching %q", arg)
	}
	return refs[0].ID, nil
}

// CLI is the root command set.
type CLI struct {
	Version kong.VersionFlag `help:"Show version information"`

	Index  IndexCmd  `cmd:"" help:"Index a project tree into a code graph"`
	Watch  WatchCmd  `cmd:"" help:"Watch mode with incremental re-indexing"`
	Serve  ServeCmd  `cmd:"" help:"Watch and publish commit events over websocket"`
	MCP    MCPCmd    `cmd:"" help:"Start the MCP bridge (stdio transport)"`
	Query  QueryCmd  `cmd:"" help:"Search the code graph"`
	Impact ImpactCmd `cmd:"" help:"Show blast radius of changing a symbol"`
	Path   PathCmd   `cmd:"" help:"Shortest dependency path between two symbols"`
	Info   InfoCmd   `cmd:"" help:"Show graph statistics"`
	Clean  CleanCmd  `cmd:"" help:"Delete the persisted graph"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and runs the selected command.
func (c *CLI) Execute(args []string) error {
	kongCtx := kong.Parse(c,
		kong.Name("lattice"),
		kong.Description("Persistent code property graph indexer"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)

	return kongCtx.Run()
}
