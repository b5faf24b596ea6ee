// Package extract walks parsed syntax trees with the language's
// extraction patterns and emits typed symbol records plus unresolved
// references. Extraction is a pure function of the tree and the file
// path: it never consults the graph or the symbol table, which keeps it
// idempotent and parallelizable across files.
package extract

import (
	"bytes"
	"crypto/sha256"
	"path/filepath"
	"sort"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/lang"
	"github.com/lattice-dev/lattice/internal/parser"
)

// RefStyle describes how a reference was written at the use site.
type RefStyle string

const (
	// StyleBare is an unqualified name: foo().
	StyleBare RefStyle = "bare"
	// StyleQualified is a package- or module-qualified name: pkg.Foo().
	StyleQualified RefStyle = "qualified"
	// StyleMember is a member access through a receiver: obj.foo().
	StyleMember RefStyle = "member"
)

// UnresolvedRef is an extractor output for a name used but not defined
// locally: a call target, a superclass, an imported symbol. It lives
// until the resolver consumes it.
type UnresolvedRef struct {
	// OriginID is the referencing node.
	OriginID string

	// Target is the textual name at the use site (receiver stripped).
	Target string

	// Qualifier is the receiver or package prefix for qualified and
	// member references, "" for bare ones.
	Qualifier string

	// Kind is the edge kind the reference would create.
	Kind graph.EdgeKind

	// Style records how the reference was written.
	Style RefStyle

	// File and Line locate the use site; ByteOffset is the byte
	// position of the referencing token.
	File       string
	Line       int
	ByteOffset uint32
}

// FileExtraction is everything extracted from one file.
type FileExtraction struct {
	Path     string
	Language string

	// ModuleID is the synthetic module node representing the file
	// itself. It owns file-level imports and calls.
	ModuleID string

	// Nodes are the extracted entities, module node included.
	Nodes []graph.CodeNode

	// Refs are the unresolved references found in the file.
	Refs []UnresolvedRef

	// Aliases maps local names introduced by imports to the module
	// path or symbol they stand for, e.g. {"foo": "./a.foo"}.
	Aliases map[string]string

	// ContentHash is the SHA-256 of the full source.
	ContentHash []byte
}

// Extractor runs a language's extraction patterns over parsed trees.
type Extractor struct{}

// New creates an extractor.
func New() *Extractor {
	return &Extractor{}
}

// Run extracts nodes and references from a parsed tree.
func (x *Extractor) Run(tree *parser.Tree) *FileExtraction {
	spec := tree.Spec
	source := tree.Source
	path := tree.Path

	sum := sha256.Sum256(source)
	out := &FileExtraction{
		Path:        path,
		Language:    string(spec.Language),
		Aliases:     make(map[string]string),
		ContentHash: sum[:],
	}

	// Synthetic module node: the file itself. Imports and file-level
	// calls hang off it.
	moduleNode := graph.CodeNode{
		Kind:          graph.KindModule,
		Name:          filepath.Base(path),
		QualifiedName: path,
		FilePath:      path,
		LineStart:     1,
		LineEnd:       1 + bytes.Count(source, []byte{'\n'}),
		Language:      string(spec.Language),
		ContentHash:   sum[:],
	}
	moduleNode.ID = graph.NodeID(path, moduleNode.QualifiedName, moduleNode.Kind)
	out.ModuleID = moduleNode.ID

	symbols := x.extractSymbols(tree, spec, source, path)
	out.Nodes = append(out.Nodes, moduleNode)
	out.Nodes = append(out.Nodes, symbols...)

	x.extractImports(tree, spec, source, path, out)
	x.extractCalls(tree, spec, source, path, symbols, out)
	x.extractHeritage(tree, spec, source, path, symbols, out)

	return out
}

// declaration is an intermediate symbol before qualification.
type declaration struct {
	name      string
	kind      graph.NodeKind
	startLine int
	endLine   int
	startByte uint
	endByte   uint
	signature string
}

func (x *Extractor) extractSymbols(tree *parser.Tree, spec *lang.Spec, source []byte, path string) []graph.CodeNode {
	var decls []declaration

	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()

	matches := qc.Matches(spec.Symbols, tree.Root(), source)
	names := spec.Symbols.CaptureNames()

	for m := matches.Next(); m != nil; m = matches.Next() {
		var name string
		var kind graph.NodeKind
		var declNode *tree_sitter.Node

		for i := range m.Captures {
			capture := &m.Captures[i]
			capName := names[capture.Index]
			if capName == "name" {
				name = capture.Node.Utf8Text(source)
				continue
			}
			if k, ok := spec.KindMap[capName]; ok {
				kind = k
				declNode = &capture.Node
			}
		}
		if name == "" || kind == "" || declNode == nil {
			continue
		}

		decls = append(decls, declaration{
			name:      name,
			kind:      kind,
			startLine: int(declNode.StartPosition().Row) + 1,
			endLine:   int(declNode.EndPosition().Row) + 1,
			startByte: declNode.StartByte(),
			endByte:   declNode.EndByte(),
			signature: firstLine(source, declNode.StartByte()),
		})
	}

	return qualify(decls, source, path, string(spec.Language))
}

// qualify applies the scoping rule set: a declaration nested inside a
// class-like declaration's span becomes a member qualified under the
// owner's FQN; everything else qualifies under the file path. Functions
// nested in classes become methods.
func qualify(decls []declaration, source []byte, path, language string) []graph.CodeNode {
	owners := make([]declaration, 0)
	for _, d := range decls {
		if isOwnerKind(d.kind) {
			owners = append(owners, d)
		}
	}

	nodes := make([]graph.CodeNode, 0, len(decls))
	seen := make(map[string]bool)
	for _, d := range decls {
		owner, hasOwner := smallestOwner(owners, d)

		kind := d.kind
		qualified := path + "::" + d.name
		if hasOwner {
			qualified = path + "::" + owner.name + "." + d.name
			if kind == graph.KindFunction {
				kind = graph.KindMethod
			}
		}

		id := graph.NodeID(path, qualified, kind)
		if seen[id] {
			continue
		}
		seen[id] = true

		span := source[d.startByte:min(d.endByte, uint(len(source)))]
		sum := sha256.Sum256(span)

		nodes = append(nodes, graph.CodeNode{
			ID:            id,
			Kind:          kind,
			Name:          d.name,
			QualifiedName: qualified,
			FilePath:      path,
			LineStart:     d.startLine,
			LineEnd:       d.endLine,
			Signature:     d.signature,
			Language:      language,
			ContentHash:   sum[:],
		})
	}

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].LineStart != nodes[j].LineStart {
			return nodes[i].LineStart < nodes[j].LineStart
		}
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}

func isOwnerKind(k graph.NodeKind) bool {
	switch k {
	case graph.KindClass, graph.KindStruct, graph.KindInterface, graph.KindTrait, graph.KindEnum, graph.KindImpl:
		return true
	}
	return false
}

// smallestOwner finds the tightest class-like declaration that starts
// before d and ends at or after d's end. A member may end exactly where
// its owner ends (the last method of a Python class body).
func smallestOwner(owners []declaration, d declaration) (declaration, bool) {
	var best declaration
	found := false
	for _, o := range owners {
		if o.startByte >= d.startByte || o.endByte < d.endByte {
			continue
		}
		if !found || (o.endByte-o.startByte) < (best.endByte-best.startByte) {
			best = o
			found = true
		}
	}
	return best, found
}

func (x *Extractor) extractImports(tree *parser.Tree, spec *lang.Spec, source []byte, path string, out *FileExtraction) {
	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()

	q := spec.Imports
	matches := qc.Matches(q, tree.Root(), source)
	names := q.CaptureNames()

	seen := make(map[string]bool)
	for m := matches.Next(); m != nil; m = matches.Next() {
		var modPath, alias, symbol string
		var line int
		var offset uint32

		for i := range m.Captures {
			capture := &m.Captures[i]
			text := capture.Node.Utf8Text(source)
			switch names[capture.Index] {
			case "source":
				modPath = strings.Trim(text, `"'`)
				line = int(capture.Node.StartPosition().Row) + 1
				offset = uint32(capture.Node.StartByte())
			case "alias":
				alias = text
			case "symbol":
				symbol = text
			}
		}
		if modPath == "" {
			continue
		}

		switch {
		case symbol != "" && alias != "":
			out.Aliases[alias] = modPath + "." + symbol
		case symbol != "":
			out.Aliases[symbol] = modPath + "." + symbol
		case alias != "":
			out.Aliases[alias] = modPath
		default:
			out.Aliases[defaultImportName(modPath)] = modPath
		}

		// One import reference per module path, however many symbols
		// or query patterns matched the statement.
		if seen[modPath] {
			continue
		}
		seen[modPath] = true

		out.Refs = append(out.Refs, UnresolvedRef{
			OriginID:   out.ModuleID,
			Target:     modPath,
			Kind:       graph.EdgeImports,
			Style:      StyleQualified,
			File:       path,
			Line:       line,
			ByteOffset: offset,
		})
	}
}

// defaultImportName is the local name an unaliased import introduces:
// the text after the last "/", "::" or "." separator ("os.path" gives
// "path", "./a.js" gives "js").
func defaultImportName(modPath string) string {
	name := modPath
	for _, sep := range []string{"/", "::", "."} {
		if idx := strings.LastIndex(name, sep); idx >= 0 {
			name = name[idx+len(sep):]
		}
	}
	return name
}

func (x *Extractor) extractCalls(tree *parser.Tree, spec *lang.Spec, source []byte, path string, symbols []graph.CodeNode, out *FileExtraction) {
	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()

	q := spec.Calls
	matches := qc.Matches(q, tree.Root(), source)
	names := q.CaptureNames()

	for m := matches.Next(); m != nil; m = matches.Next() {
		var callee, receiver string
		var line int
		var offset uint32

		for i := range m.Captures {
			capture := &m.Captures[i]
			text := capture.Node.Utf8Text(source)
			switch names[capture.Index] {
			case "callee":
				callee = text
				line = int(capture.Node.StartPosition().Row) + 1
				offset = uint32(capture.Node.StartByte())
			case "receiver":
				receiver = text
			}
		}
		if callee == "" {
			continue
		}

		style := StyleBare
		if receiver != "" {
			style = StyleMember
		}

		out.Refs = append(out.Refs, UnresolvedRef{
			OriginID:   enclosingSymbol(symbols, line, out.ModuleID),
			Target:     callee,
			Qualifier:  receiver,
			Kind:       graph.EdgeCalls,
			Style:      style,
			File:       path,
			Line:       line,
			ByteOffset: offset,
		})
	}
}

func (x *Extractor) extractHeritage(tree *parser.Tree, spec *lang.Spec, source []byte, path string, symbols []graph.CodeNode, out *FileExtraction) {
	q := spec.Heritage
	if q == nil {
		return
	}

	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()

	matches := qc.Matches(q, tree.Root(), source)
	names := q.CaptureNames()

	for m := matches.Next(); m != nil; m = matches.Next() {
		var owner, base, iface string
		var line int
		var offset uint32

		for i := range m.Captures {
			capture := &m.Captures[i]
			text := capture.Node.Utf8Text(source)
			switch names[capture.Index] {
			case "owner":
				owner = text
			case "base":
				base = text
				line = int(capture.Node.StartPosition().Row) + 1
				offset = uint32(capture.Node.StartByte())
			case "iface":
				iface = text
				line = int(capture.Node.StartPosition().Row) + 1
				offset = uint32(capture.Node.StartByte())
			}
		}
		if owner == "" {
			continue
		}

		originID := symbolIDByName(symbols, owner, out.ModuleID)
		if base != "" {
			out.Refs = append(out.Refs, UnresolvedRef{
				OriginID:   originID,
				Target:     base,
				Kind:       graph.EdgeExtends,
				Style:      StyleBare,
				File:       path,
				Line:       line,
				ByteOffset: offset,
			})
		}
		if iface != "" {
			out.Refs = append(out.Refs, UnresolvedRef{
				OriginID:   originID,
				Target:     iface,
				Kind:       graph.EdgeImplements,
				Style:      StyleBare,
				File:       path,
				Line:       line,
				ByteOffset: offset,
			})
		}
	}
}

// enclosingSymbol attributes a use site to the smallest symbol whose
// span contains the line, defaulting to the module node.
func enclosingSymbol(symbols []graph.CodeNode, line int, moduleID string) string {
	bestID := moduleID
	bestSpan := -1
	for i := range symbols {
		s := &symbols[i]
		if s.LineStart > line || s.LineEnd < line {
			continue
		}
		span := s.LineEnd - s.LineStart
		if bestSpan < 0 || span < bestSpan {
			bestID = s.ID
			bestSpan = span
		}
	}
	return bestID
}

func symbolIDByName(symbols []graph.CodeNode, name, fallback string) string {
	for i := range symbols {
		if symbols[i].Name == name {
			return symbols[i].ID
		}
	}
	return fallback
}

func firstLine(source []byte, start uint) string {
	if start >= uint(len(source)) {
		return ""
	}
	rest := source[start:]
	if idx := bytes.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(string(rest))
}
