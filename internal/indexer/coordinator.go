// Package indexer drives the indexing pipeline: walk → parse → extract
// → resolve → commit → broadcast. Parse and extract run in a bounded
// worker pool; commits are applied by a single writer in one exclusive
// critical section.
package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-dev/lattice/internal/events"
	"github.com/lattice-dev/lattice/internal/extract"
	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/lang"
	"github.com/lattice-dev/lattice/internal/parser"
	"github.com/lattice-dev/lattice/internal/resolve"
	"github.com/lattice-dev/lattice/internal/store"
	"github.com/lattice-dev/lattice/internal/watcher"
)

// Config holds coordinator settings.
type Config struct {
	// Root is the project root; all graph identity is relative to it.
	Root string

	// IgnorePatterns is the caller-supplied ignore ruleset.
	IgnorePatterns []gitignore.Pattern

	// RerankThreshold is the minimum number of changed nodes that
	// triggers a full centrality recomputation on an incremental
	// commit. Below it, only the affected component is re-scored.
	RerankThreshold int

	// RerankInterval forces a full rerank when this much time passed
	// since the last one, regardless of churn.
	RerankInterval time.Duration

	// Workers bounds the parse/extract pool. Defaults to NumCPU.
	Workers int
}

func (c *Config) defaults() {
	if c.RerankThreshold <= 0 {
		c.RerankThreshold = 50
	}
	if c.RerankInterval <= 0 {
		c.RerankInterval = 5 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
}

// CommitSummary is the coordinator's output per commit: the changed node
// identifier lists that feed the broadcast channel.
type CommitSummary struct {
	Added    []string
	Modified []string
	Removed  []string

	ChangedFiles []string
	EdgesAdded   int
	Diagnostics  []graph.Diagnostic
	Duration     time.Duration

	// NoOp is set when every changed file was hash-identical.
	NoOp bool
}

// Coordinator orchestrates the pipeline over one project tree.
type Coordinator struct {
	cfg       Config
	registry  *lang.Registry
	graph     *graph.Graph
	store     *store.Store
	extractor *extract.Extractor
	resolver  *resolve.Resolver

	// aliases keeps each file's import alias table across commits so
	// the resolver can expand references from unchanged files.
	aliases map[string]map[string]string

	// commitMu serializes commits: the pipeline is single-writer.
	commitMu sync.Mutex

	events     chan events.Envelope
	lastRerank time.Time
}

// New creates a coordinator. The store may be nil for purely in-memory
// indexing (tests, one-shot queries).
func New(cfg Config, registry *lang.Registry, g *graph.Graph, st *store.Store) *Coordinator {
	cfg.defaults()
	return &Coordinator{
		cfg:       cfg,
		registry:  registry,
		graph:     g,
		store:     st,
		extractor: extract.New(),
		resolver:  resolve.New(nil),
		aliases:   make(map[string]map[string]string),
		events:    make(chan events.Envelope, 64),
	}
}

// Graph exposes the coordinator's graph for the query layer.
func (c *Coordinator) Graph() *graph.Graph {
	return c.graph
}

// Events is the broadcast channel: one GraphUpdate per commit plus
// status and focus events, emitted after the commit lock is released
// and in commit order.
func (c *Coordinator) Events() <-chan events.Envelope {
	return c.events
}

// EmitFocus rebroadcasts an agent's focus event unchanged.
func (c *Coordinator) EmitFocus(nodeID, file string, line int) {
	c.emit(events.Wrap(events.TypeFocusNode, events.FocusNode{NodeID: nodeID, File: file, Line: line}))
}

func (c *Coordinator) emit(e events.Envelope) {
	select {
	case c.events <- e:
	default:
		// Slow subscribers shed events rather than stalling commits.
	}
}

func (c *Coordinator) status(phase events.Phase, processed, total int, current string) {
	c.emit(events.Wrap(events.TypeIndexerStatus, events.IndexerStatus{
		Phase:          phase,
		FilesProcessed: processed,
		FilesTotal:     total,
		CurrentFile:    current,
	}))
}

// FullIndex walks the tree, indexes every supported file, resolves,
// ranks, commits in one batch, and notifies subscribers.
func (c *Coordinator) FullIndex(ctx context.Context) (*CommitSummary, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	start := time.Now()
	summary := &CommitSummary{}

	c.status(events.PhaseScanning, 0, 0, "")
	files, err := WalkTree(c.cfg.Root, c.registry, c.cfg.IgnorePatterns)
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", c.cfg.Root, err)
	}

	c.status(events.PhaseParsing, 0, len(files), "")
	extractions, diags, err := c.parseAll(ctx, files)
	if err != nil {
		return nil, err
	}
	summary.Diagnostics = append(summary.Diagnostics, diags...)

	txn := c.graph.Update()

	// A rescan reconciles: files that vanished since the last walk
	// lose their nodes before the fresh extractions land.
	walked := make(map[string]bool, len(files))
	for i := range files {
		walked[files[i].RelPath] = true
	}
	for _, rel := range c.knownFilesNotIn(txn, walked) {
		c.removeFile(txn, rel, summary)
	}

	var refs []extract.UnresolvedRef
	for _, fx := range extractions {
		c.diffExtraction(txn, fx, fileHash(files, fx.Path), summary)
		refs = append(refs, fx.Refs...)
	}

	c.status(events.PhaseResolving, len(files), len(files), "")
	res := c.resolver.Run(txn, refs, c.aliases)
	summary.EdgesAdded += res.EdgesAdded
	summary.Diagnostics = append(summary.Diagnostics, res.Diagnostics...)
	txn.Close()

	c.status(events.PhaseRanking, len(files), len(files), "")
	c.graph.ComputeCentrality()
	c.lastRerank = time.Now()

	if err := c.flushFull(); err != nil {
		return nil, err
	}

	for _, fx := range extractions {
		summary.ChangedFiles = append(summary.ChangedFiles, fx.Path)
	}
	sort.Strings(summary.ChangedFiles)
	summary.Duration = time.Since(start)

	c.broadcastCommit(summary, false)
	c.status(events.PhaseReady, len(files), len(files), "")
	return summary, nil
}

// ApplyBatch applies one watcher batch incrementally. A RescanRequired
// batch falls back to a full walk.
func (c *Coordinator) ApplyBatch(ctx context.Context, b watcher.Batch) (*CommitSummary, error) {
	if b.RescanRequired {
		return c.FullIndex(ctx)
	}

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	start := time.Now()
	summary := &CommitSummary{}

	changed := append(append([]string{}, b.Created...), b.Modified...)
	deleted := append([]string{}, b.Deleted...)

	// Read and hash the changed files. Vanished files are deletions;
	// hash-identical files take the no-op fast path.
	var files []FileEntry
	for _, rel := range changed {
		rel = filepath.ToSlash(rel)
		if !c.registry.Supported(rel) {
			continue
		}

		abs := filepath.Join(c.cfg.Root, filepath.FromSlash(rel))
		content, err := os.ReadFile(abs)
		if os.IsNotExist(err) {
			deleted = append(deleted, rel)
			continue
		}
		if err != nil {
			summary.Diagnostics = append(summary.Diagnostics, graph.Diagnostic{
				Code: "io_error", File: rel, Message: err.Error(),
			})
			continue
		}

		entry := newFileEntry(abs, rel, c.registry, content)
		if fr := c.graph.FileRecordFor(rel); fr != nil && bytes.Equal(fr.ContentHash, entry.Hash) {
			continue
		}
		files = append(files, entry)
	}

	// Deduplicate and drop unsupported deletions.
	deleted = dedupeSupportedOrKnown(deleted, c.registry, c.graph)

	if len(files) == 0 && len(deleted) == 0 {
		summary.NoOp = true
		summary.Duration = time.Since(start)
		return summary, nil
	}

	c.status(events.PhaseParsing, 0, len(files), "")
	extractions, diags, err := c.parseAll(ctx, files)
	if err != nil {
		return nil, err
	}
	summary.Diagnostics = append(summary.Diagnostics, diags...)

	txn := c.graph.Update()

	for _, rel := range deleted {
		c.removeFile(txn, rel, summary)
	}

	var refs []extract.UnresolvedRef
	for _, fx := range extractions {
		c.diffExtraction(txn, fx, fileHash(files, fx.Path), summary)
		refs = append(refs, fx.Refs...)
	}

	c.status(events.PhaseResolving, len(files), len(files), "")
	res := c.resolver.Run(txn, refs, c.aliases)
	summary.EdgesAdded += res.EdgesAdded
	summary.Diagnostics = append(summary.Diagnostics, res.Diagnostics...)

	// Newly visible FQNs may satisfy references that went dangling in
	// earlier commits.
	newFQNs := make([]string, 0, len(txn.Changes().PutSymbols))
	for fqn := range txn.Changes().PutSymbols {
		newFQNs = append(newFQNs, fqn)
	}
	sort.Strings(newFQNs)
	summary.EdgesAdded += c.resolver.Reclaim(txn, newFQNs)

	changes := txn.Changes()
	batch := c.stageBatch(changes)
	txn.Close()

	c.rerank(summary, changes)

	if c.store != nil && batch != nil {
		if err := c.store.Apply(batch); err != nil {
			return nil, err
		}
	}

	for _, fx := range extractions {
		summary.ChangedFiles = append(summary.ChangedFiles, fx.Path)
	}
	summary.ChangedFiles = append(summary.ChangedFiles, deleted...)
	sort.Strings(summary.ChangedFiles)
	summary.Duration = time.Since(start)

	c.broadcastCommit(summary, true)
	c.status(events.PhaseReady, len(files), len(files), "")
	return summary, nil
}

// Watch runs the watcher loop until the context is cancelled, applying
// each debounced batch as one commit.
func (c *Coordinator) Watch(ctx context.Context, opts ...watcher.Option) error {
	opts = append(opts, watcher.WithIgnore(NewIgnoreMatcher(c.cfg.IgnorePatterns)))
	w, err := watcher.New(c.cfg.Root, opts...)
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	go func() { _ = w.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-w.Batches():
			if !ok {
				return nil
			}
			if b.Empty() {
				continue
			}
			if _, err := c.ApplyBatch(ctx, b); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				// Commit failures after retry are fatal.
				if errors.Is(err, store.ErrCommitFailed) {
					return err
				}
			}
		}
	}
}

// LoadOrIndex restores the graph from the store, falling back to a full
// reindex when the store is empty or its schema version mismatches.
func (c *Coordinator) LoadOrIndex(ctx context.Context) (*CommitSummary, error) {
	if c.store == nil {
		return c.FullIndex(ctx)
	}

	res, err := c.store.Load()
	if errors.Is(err, store.ErrSchemaMismatch) {
		if rerr := c.store.Reset(); rerr != nil {
			return nil, rerr
		}
		return c.FullIndex(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(res.Nodes) == 0 {
		return c.FullIndex(ctx)
	}

	txn := c.graph.Update()
	for i := range res.Nodes {
		txn.AddNode(&res.Nodes[i])
	}
	for i := range res.Edges {
		txn.AddEdge(&res.Edges[i])
	}
	for _, entry := range res.Symbols {
		txn.InsertSymbol(entry.FQN, entry.NodeID)
	}
	for i := range res.Files {
		fr := res.Files[i]
		txn.PutFileRecord(&fr)
		c.resolver.AddFile(fr.Path)
	}
	txn.Close()

	summary := &CommitSummary{Diagnostics: res.Diagnostics}
	c.status(events.PhaseReady, len(res.Files), len(res.Files), "")
	return summary, nil
}

// ---- pipeline stages ----

// parseAll runs parse+extract for every entry in a bounded worker pool.
// Per-file failures become diagnostics, never errors.
func (c *Coordinator) parseAll(ctx context.Context, files []FileEntry) ([]*extract.FileExtraction, []graph.Diagnostic, error) {
	var (
		mu          sync.Mutex
		extractions []*extract.FileExtraction
		diags       []graph.Diagnostic
	)

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(c.cfg.Workers)

	for i := range files {
		entry := files[i]
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			p := parser.New(c.registry)
			tree, err := p.Parse(ctx, entry.RelPath, entry.Content)
			if err != nil {
				var pf *parser.ParseFailure
				mu.Lock()
				defer mu.Unlock()
				switch {
				case errors.As(err, &pf):
					diags = append(diags, graph.Diagnostic{
						Code: "parse_failure", File: entry.RelPath, Line: pf.Line,
						Message: fmt.Sprintf("syntax error at column %d, file skipped", pf.Column),
					})
					return nil
				case errors.Is(err, parser.ErrUnsupportedLanguage):
					return nil
				default:
					return err
				}
			}
			defer tree.Close()

			fx := c.extractor.Run(tree)

			mu.Lock()
			extractions = append(extractions, fx)
			mu.Unlock()
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(extractions, func(i, j int) bool { return extractions[i].Path < extractions[j].Path })
	return extractions, diags, nil
}

// knownFilesNotIn lists indexed file paths absent from the walked set.
func (c *Coordinator) knownFilesNotIn(txn *graph.Txn, walked map[string]bool) []string {
	var out []string
	for _, rel := range txn.FilePaths() {
		if !walked[rel] {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

// diffExtraction computes {added, removed, kept} against the cached node
// set and applies the surgical update (incremental path).
func (c *Coordinator) diffExtraction(txn *graph.Txn, fx *extract.FileExtraction, hash []byte, summary *CommitSummary) {
	oldIDs := make(map[string]bool)
	if fr := txn.FileRecord(fx.Path); fr != nil {
		for _, id := range fr.NodeIDs {
			oldIDs[id] = true
		}
	} else {
		for _, id := range txn.NodesByFile(fx.Path) {
			oldIDs[id] = true
		}
	}

	newIDs := make(map[string]bool, len(fx.Nodes))
	ids := make([]string, 0, len(fx.Nodes))
	for i := range fx.Nodes {
		newIDs[fx.Nodes[i].ID] = true
		ids = append(ids, fx.Nodes[i].ID)
	}

	// Removed nodes: symbol table first (remove-then-insert order),
	// then the node itself; incoming edges become dangling refs.
	for id := range oldIDs {
		if newIDs[id] {
			continue
		}
		c.removeNode(txn, id)
		summary.Removed = append(summary.Removed, id)
	}

	// Added and kept nodes. Kept nodes refresh attributes in place but
	// their outgoing edges are rebuilt from this extraction's refs.
	for i := range fx.Nodes {
		n := fx.Nodes[i]
		if oldIDs[n.ID] {
			txn.RemoveOutgoingEdges(n.ID)
			txn.Dangling().DropOrigin(n.ID)
			summary.Modified = append(summary.Modified, n.ID)
		} else {
			summary.Added = append(summary.Added, n.ID)
		}
		txn.AddNode(&n)

		if !txn.InsertSymbol(n.QualifiedName, n.ID) {
			summary.Diagnostics = append(summary.Diagnostics, collisionDiag(&n))
		}
		if n.ID != fx.ModuleID {
			txn.AddEdge(graph.NewEdge(fx.ModuleID, n.ID, graph.EdgeDefines, 0))
		}
	}

	txn.PutFileRecord(&graph.FileRecord{
		Path:          fx.Path,
		ContentHash:   hash,
		Language:      fx.Language,
		NodeIDs:       ids,
		LastIndexedAt: time.Now().UTC(),
	})
	c.aliases[fx.Path] = fx.Aliases
	c.resolver.AddFile(fx.Path)
}

// removeFile removes every node a deleted file owned.
func (c *Coordinator) removeFile(txn *graph.Txn, rel string, summary *CommitSummary) {
	for _, id := range txn.NodesByFile(rel) {
		c.removeNode(txn, id)
		summary.Removed = append(summary.Removed, id)
	}
	txn.DeleteFileRecord(rel)
	delete(c.aliases, rel)
	c.resolver.RemoveFile(rel)
}

// removeNode removes one node: symbol entries go first so the table
// always reflects one coherent snapshot, then the node and its edges.
// Sources of severed incoming edges are parked in the dangling index so
// re-adding the symbol restores them.
func (c *Coordinator) removeNode(txn *graph.Txn, id string) {
	node := txn.Node(id)
	if node == nil {
		return
	}
	fqn := node.QualifiedName

	txn.RemoveSymbolsByNode(id)
	txn.Dangling().DropOrigin(id)

	for _, severed := range txn.RemoveNode(id) {
		if txn.Node(severed.Src) == nil {
			continue
		}
		txn.Dangling().Park(severed.Src, []string{fqn}, severed.Kind, severed.ByteOffset)
	}
}

// rerank applies the centrality policy: full recomputation past the
// churn threshold or the time bound, affected-component otherwise.
func (c *Coordinator) rerank(summary *CommitSummary, changes *graph.ChangeLog) {
	churn := len(summary.Added) + len(summary.Removed)
	if churn == 0 && len(summary.Modified) == 0 {
		return
	}

	if churn >= c.cfg.RerankThreshold || time.Since(c.lastRerank) > c.cfg.RerankInterval {
		c.graph.ComputeCentrality()
		c.lastRerank = time.Now()
		return
	}

	seeds := make([]string, 0, len(changes.PutNodes))
	for id := range changes.PutNodes {
		seeds = append(seeds, id)
	}
	sort.Strings(seeds)
	c.graph.RescoreComponent(seeds)
}

// stageBatch turns a change log into a store batch. Returns nil when
// there is nothing to persist or no store.
func (c *Coordinator) stageBatch(changes *graph.ChangeLog) *store.Batch {
	if c.store == nil {
		return nil
	}

	batch := c.store.NewBatch()
	for _, n := range changes.PutNodes {
		batch.PutNode(n)
	}
	for id := range changes.RemovedNodes {
		batch.DeleteNode(id)
	}
	for _, e := range changes.PutEdges {
		batch.PutEdge(e)
	}
	for id := range changes.RemovedEdges {
		batch.DeleteEdge(id)
	}
	for _, fr := range changes.PutFiles {
		batch.PutFile(fr)
	}
	for path := range changes.RemovedFiles {
		batch.DeleteFile(path)
	}
	for fqn, id := range changes.PutSymbols {
		batch.PutSymbol(fqn, id)
	}
	for fqn := range changes.RemovedSyms {
		batch.DeleteSymbol(fqn)
	}
	if batch.Len() == 0 {
		return nil
	}
	return batch
}

// flushFull rewrites the entire store from the post-ranking snapshot.
func (c *Coordinator) flushFull() error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Reset(); err != nil {
		return err
	}

	nodes, edges, files := c.graph.Snapshot()
	batch := c.store.NewBatch()
	for i := range nodes {
		batch.PutNode(&nodes[i])
	}
	for i := range edges {
		batch.PutEdge(&edges[i])
	}
	for i := range files {
		batch.PutFile(&files[i])
	}
	for _, entry := range c.graph.SymbolEntries() {
		batch.PutSymbol(entry.FQN, entry.NodeID)
	}
	return c.store.Apply(batch)
}

func (c *Coordinator) broadcastCommit(summary *CommitSummary, isDelta bool) {
	stats := c.graph.Stats()
	c.emit(events.Wrap(events.TypeGraphUpdate, events.GraphUpdate{
		IsDelta:      isDelta,
		NodeCount:    stats.NodeCount,
		EdgeCount:    stats.EdgeCount,
		ChangedFiles: summary.ChangedFiles,
		Added:        summary.Added,
		Modified:     summary.Modified,
		Removed:      summary.Removed,
	}))
}

// ---- helpers ----

func newFileEntry(abs, rel string, registry *lang.Registry, content []byte) FileEntry {
	sum := hashBytes(content)
	return FileEntry{
		Path:     abs,
		RelPath:  rel,
		Language: registry.LanguageForPath(rel),
		Content:  content,
		Hash:     sum,
	}
}

func fileHash(files []FileEntry, rel string) []byte {
	for i := range files {
		if files[i].RelPath == rel {
			return files[i].Hash
		}
	}
	return nil
}

func collisionDiag(n *graph.CodeNode) graph.Diagnostic {
	return graph.Diagnostic{
		Code: "symbol_collision",
		File: n.FilePath,
		Line: n.LineStart,
		Message: fmt.Sprintf("%q already defined elsewhere, first definition wins",
			n.QualifiedName),
	}
}

func dedupeSupportedOrKnown(paths []string, registry *lang.Registry, g *graph.Graph) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rel := range paths {
		rel = filepath.ToSlash(rel)
		if seen[rel] {
			continue
		}
		seen[rel] = true
		if registry.Supported(rel) || g.FileRecordFor(rel) != nil {
			out = append(out, rel)
		}
	}
	return out
}
