// Package resolve implements the second pass of indexing: turning the
// extractor's unresolved references into concrete graph edges once all
// nodes of a commit batch are in place.
package resolve

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/lattice-dev/lattice/internal/extract"
	"github.com/lattice-dev/lattice/internal/graph"
)

// Result summarizes one resolver invocation.
type Result struct {
	// EdgesAdded counts edges created from references.
	EdgesAdded int

	// Missed counts references that resolved to nothing and were
	// parked in the dangling index.
	Missed int

	// Diagnostics carries one resolve_miss entry per missed ref.
	Diagnostics []graph.Diagnostic
}

// Resolver resolves references against the symbol table inside a commit
// transaction. It keeps the set of known file paths so module specifiers
// ("./a", "pkg.mod") can be mapped onto indexed files.
type Resolver struct {
	known map[string]bool
}

// New creates a resolver seeded with the known file paths.
func New(knownFiles []string) *Resolver {
	r := &Resolver{known: make(map[string]bool, len(knownFiles))}
	for _, f := range knownFiles {
		r.known[f] = true
	}
	return r
}

// AddFile registers a newly indexed file path.
func (r *Resolver) AddFile(p string) { r.known[p] = true }

// RemoveFile forgets a deleted file path.
func (r *Resolver) RemoveFile(p string) { delete(r.known, p) }

// Run resolves a batch of references. aliases maps file path → local
// alias table from that file's extraction. Must be called inside the
// commit transaction, after the batch's nodes and symbols are in place.
//
// Resolution order per reference: local scope, imported aliases, global
// symbol table by exact FQN, then a last-segment fallback preferring the
// origin's language bucket with lexicographic tie-breaking. References
// that resolve to nothing are parked in the dangling index and counted;
// they are not errors.
func (r *Resolver) Run(txn *graph.Txn, refs []extract.UnresolvedRef, aliases map[string]map[string]string) Result {
	var res Result
	for _, ref := range refs {
		fileAliases := aliases[ref.File]
		if r.resolveOne(txn, ref, fileAliases) {
			res.EdgesAdded++
			continue
		}

		txn.Dangling().Park(ref.OriginID, r.candidateFQNs(ref, fileAliases), ref.Kind, ref.ByteOffset)
		res.Missed++
		res.Diagnostics = append(res.Diagnostics, graph.Diagnostic{
			Code:    "resolve_miss",
			File:    ref.File,
			Line:    ref.Line,
			Message: fmt.Sprintf("unresolved %s reference %q", ref.Kind, ref.Target),
		})
	}
	return res
}

// Reclaim retries references parked under the given FQNs, which have
// just become resolvable. Returns the number of edges created.
func (r *Resolver) Reclaim(txn *graph.Txn, fqns []string) int {
	added := 0
	for _, fqn := range fqns {
		targetID, ok := txn.Symbols().Resolve(fqn)
		if !ok {
			continue
		}

		// Refs wait either on the exact FQN or, for bare-name
		// fallbacks, on the trailing symbol name.
		parkedRefs := txn.Dangling().Take(fqn)
		if last := graph.LastSegment(fqn); last != fqn {
			parkedRefs = append(parkedRefs, txn.Dangling().Take(last)...)
		}
		for _, parked := range parkedRefs {
			if parked.OriginID == targetID {
				continue
			}
			if txn.Node(parked.OriginID) == nil {
				continue
			}
			if txn.AddEdge(graph.NewEdge(parked.OriginID, targetID, parked.Kind, parked.ByteOffset)) {
				added++
			}
		}
	}
	return added
}

func (r *Resolver) resolveOne(txn *graph.Txn, ref extract.UnresolvedRef, fileAliases map[string]string) bool {
	symbols := txn.Symbols()

	// 1. Local scope: same enclosing class/namespace, then same file.
	for _, fqn := range r.localCandidates(txn, ref) {
		if id, ok := symbols.Resolve(fqn); ok {
			return r.addEdge(txn, ref, id, ref.Kind)
		}
	}

	// 2. Imported aliases recorded for the origin file.
	for _, fqn := range r.aliasCandidates(ref, fileAliases) {
		if id, ok := symbols.Resolve(fqn); ok {
			return r.addEdge(txn, ref, id, ref.Kind)
		}
	}

	// 3. Global symbol table by exact FQN.
	if id, ok := symbols.Resolve(ref.Target); ok {
		return r.addEdge(txn, ref, id, ref.Kind)
	}

	// Import specifiers additionally probe the file-path space.
	if ref.Kind == graph.EdgeImports {
		for _, p := range r.moduleFileCandidates(ref.File, ref.Target) {
			if id, ok := symbols.Resolve(p); ok {
				return r.addEdge(txn, ref, id, ref.Kind)
			}
		}
		return false
	}

	// 4. Last-segment fallback for bare names: prefer the origin's
	// language bucket, then the lexicographically smallest FQN.
	entries := symbols.ScanLastSegment(ref.Target)
	if len(entries) == 0 {
		return false
	}
	origin := txn.Node(ref.OriginID)
	pick := pickEntry(txn, entries, origin)
	if pick == "" {
		return false
	}

	// A member access bound only by name is best-effort: record it as
	// a plain reference rather than claiming an exact call edge.
	kind := ref.Kind
	if ref.Style == extract.StyleMember && kind == graph.EdgeCalls {
		kind = graph.EdgeReferences
	}
	return r.addEdge(txn, ref, pick, kind)
}

func (r *Resolver) addEdge(txn *graph.Txn, ref extract.UnresolvedRef, targetID string, kind graph.EdgeKind) bool {
	if targetID == ref.OriginID {
		// A ref that resolves back to its own origin (direct recursion
		// or a name collision) adds no edge: self-loops are not recorded.
		return false
	}
	return txn.AddEdge(graph.NewEdge(ref.OriginID, targetID, kind, ref.ByteOffset))
}

// localCandidates builds FQNs for step 1: file-level scope and, when the
// origin is a member, the enclosing owner's scope.
func (r *Resolver) localCandidates(txn *graph.Txn, ref extract.UnresolvedRef) []string {
	var out []string
	if origin := txn.Node(ref.OriginID); origin != nil {
		qn := origin.QualifiedName
		// dir/a.go::Owner.method → dir/a.go::Owner.target
		if sep := strings.Index(qn, "::"); sep >= 0 {
			local := qn[sep+2:]
			if dot := strings.LastIndex(local, "."); dot >= 0 {
				out = append(out, qn[:sep+2]+local[:dot]+"."+ref.Target)
			}
		}
	}
	out = append(out, ref.File+"::"+ref.Target)
	if ref.Qualifier != "" {
		out = append(out, ref.File+"::"+ref.Qualifier+"."+ref.Target)
	}
	return out
}

// aliasCandidates expands an alias table entry into FQN candidates.
func (r *Resolver) aliasCandidates(ref extract.UnresolvedRef, fileAliases map[string]string) []string {
	var out []string

	expand := func(expansion string) {
		// "modpath.symbol" or bare "modpath".
		modPath, symbol := expansion, ""
		if dot := strings.LastIndex(expansion, "."); dot >= 0 {
			modPath, symbol = expansion[:dot], expansion[dot+1:]
		}
		for _, file := range r.moduleFileCandidates(ref.File, modPath) {
			if symbol != "" {
				out = append(out, file+"::"+symbol)
			}
			out = append(out, file+"::"+ref.Target)
		}
	}

	if expansion, ok := fileAliases[ref.Target]; ok {
		expand(expansion)
	}
	if ref.Qualifier != "" {
		if expansion, ok := fileAliases[ref.Qualifier]; ok {
			// obj.method() where obj is an imported module alias:
			// the target lives in the aliased module.
			for _, file := range r.moduleFileCandidates(ref.File, expansion) {
				out = append(out, file+"::"+ref.Target)
			}
		}
	}
	return out
}

// candidateFQNs lists the FQNs a missed reference could be satisfied by,
// for the dangling index.
func (r *Resolver) candidateFQNs(ref extract.UnresolvedRef, fileAliases map[string]string) []string {
	out := []string{ref.File + "::" + ref.Target, ref.Target}
	if ref.Qualifier != "" {
		out = append(out, ref.File+"::"+ref.Qualifier+"."+ref.Target)
	}
	if ref.Kind == graph.EdgeImports {
		out = append(out, r.moduleFileCandidates(ref.File, ref.Target)...)
	}
	out = append(out, r.aliasCandidates(ref, fileAliases)...)
	return dedupe(out)
}

// moduleFileCandidates maps a module specifier to known file paths. It
// handles relative specifiers ("./a"), dotted module paths ("pkg.mod"),
// path-separated packages ("a/b/pkg"), and "::"-separated module paths.
func (r *Resolver) moduleFileCandidates(originFile, spec string) []string {
	var probes []string

	dir := path.Dir(originFile)
	switch {
	case strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../"):
		base := path.Clean(path.Join(dir, spec))
		probes = append(probes, withExtensions(base)...)
	case strings.Contains(spec, "::"):
		base := strings.ReplaceAll(strings.TrimPrefix(spec, "crate::"), "::", "/")
		probes = append(probes, withExtensions(base)...)
		probes = append(probes, withExtensions(path.Join("src", base))...)
		probes = append(probes, withExtensions(path.Join(dir, base))...)
	case strings.Contains(spec, "/"):
		// Package paths: probe the trailing directory for files.
		probes = append(probes, withExtensions(spec)...)
		probes = append(probes, r.packageDirFiles(spec)...)
	default:
		base := strings.ReplaceAll(spec, ".", "/")
		probes = append(probes, withExtensions(base)...)
		probes = append(probes, withExtensions(path.Join(dir, base))...)
	}

	var out []string
	for _, p := range probes {
		if r.known[p] {
			out = append(out, p)
		}
	}
	return dedupe(out)
}

// packageDirFiles returns known files living in a directory whose path
// matches the specifier's trailing segments, sorted for determinism.
func (r *Resolver) packageDirFiles(spec string) []string {
	suffix := "/" + path.Base(spec)
	var out []string
	for file := range r.known {
		d := path.Dir(file)
		if d == spec || strings.HasSuffix(d, suffix) {
			out = append(out, file)
		}
	}
	sort.Strings(out)
	return out
}

var probeExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".py", ".go", ".rs"}

func withExtensions(base string) []string {
	out := make([]string, 0, len(probeExtensions)+3)
	if path.Ext(base) != "" {
		out = append(out, base)
	}
	for _, ext := range probeExtensions {
		out = append(out, base+ext)
	}
	out = append(out, path.Join(base, "index.ts"), path.Join(base, "index.js"), path.Join(base, "__init__.py"))
	return out
}

// pickEntry implements the deterministic fallback choice: candidates in
// the origin's language bucket win, then the smallest FQN.
func pickEntry(txn *graph.Txn, entries []graph.SymbolEntry, origin *graph.CodeNode) string {
	if origin != nil {
		for _, e := range entries {
			if n := txn.Node(e.NodeID); n != nil && n.Language == origin.Language {
				return e.NodeID
			}
		}
	}
	// entries are sorted by FQN already.
	return entries[0].NodeID
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
