// Package graph provides the code property graph for Lattice.
//
// It defines the node and edge types that represent code-level entities
// (functions, classes, modules, etc.) and the relationships between them
// (calls, imports, extends, etc.), plus the in-memory multigraph, the
// global symbol table, and the ranking/traversal algorithms that operate
// over them.
package graph

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NodeKind represents the type of a graph node.
type NodeKind string

const (
	KindFunction    NodeKind = "function"
	KindMethod      NodeKind = "method"
	KindClass       NodeKind = "class"
	KindInterface   NodeKind = "interface"
	KindStruct      NodeKind = "struct"
	KindEnum        NodeKind = "enum"
	KindTrait       NodeKind = "trait"
	KindImpl        NodeKind = "impl"
	KindModule      NodeKind = "module"
	KindImport      NodeKind = "import"
	KindVariable    NodeKind = "variable"
	KindConstant    NodeKind = "constant"
	KindField       NodeKind = "field"
	KindConstructor NodeKind = "constructor"
	KindProperty    NodeKind = "property"
	KindMacro       NodeKind = "macro"
	KindNamespace   NodeKind = "namespace"
	KindMixin       NodeKind = "mixin"
)

// EdgeKind represents the type of relationship between graph nodes.
type EdgeKind string

const (
	EdgeCalls          EdgeKind = "calls"
	EdgeImports        EdgeKind = "imports"
	EdgeImplements     EdgeKind = "implements"
	EdgeExtends        EdgeKind = "extends"
	EdgeDefines        EdgeKind = "defines"
	EdgeReferences     EdgeKind = "references"
	EdgeFlowsTo        EdgeKind = "flows_to"
	EdgeDataDependency EdgeKind = "data_dependency"
)

// nodeNamespace seeds the deterministic node identifier derivation.
// Changing it invalidates every stored graph, so it is part of the schema.
var nodeNamespace = uuid.MustParse("6e1f6f54-9a20-47c2-8f6b-0f4b1c3a9d11")

// NodeID derives the stable 128-bit identifier for a node from its file
// path, fully qualified name, and kind. The same triple always produces
// the same identifier across reindexes and processes.
func NodeID(filePath, qualifiedName string, kind NodeKind) string {
	data := filePath + "\x00" + qualifiedName + "\x00" + string(kind)
	return uuid.NewSHA1(nodeNamespace, []byte(data)).String()
}

// EdgeID derives the identifier for an edge from its endpoints and kind.
// Multi-edges between the same ordered pair are allowed when kinds differ.
func EdgeID(src, dst string, kind EdgeKind) string {
	return fmt.Sprintf("%s/%s/%s", src, kind, dst)
}

// CodeNode represents a code entity in the graph.
type CodeNode struct {
	// ID is the stable identifier derived by NodeID.
	ID string

	// Kind is the entity kind.
	Kind NodeKind

	// Name is the local symbol name.
	Name string

	// QualifiedName is the FQN within the language namespace,
	// e.g. "pkg/a.go::Server.Start".
	QualifiedName string

	// FilePath is the repo-relative path of the owning file.
	FilePath string

	// LineStart and LineEnd delimit the entity's span (1-based, inclusive).
	LineStart int
	LineEnd   int

	// Signature is the first line of the declaration, if captured.
	Signature string

	// Language is the source language (e.g. "go", "python").
	Language string

	// Centrality is the importance score from the last ranking pass.
	Centrality float64

	// ContentHash is the SHA-256 of the extracted source span.
	ContentHash []byte
}

// Edge represents a directed, typed relationship between two nodes.
type Edge struct {
	// ID is derived by EdgeID.
	ID string

	// Src and Dst are node IDs.
	Src string
	Dst string

	// Kind is the relationship kind.
	Kind EdgeKind

	// ByteOffset is the source byte offset of the referencing token,
	// 0 when unknown. Used for diagnostics only.
	ByteOffset uint32
}

// NewEdge creates an edge with its derived ID.
func NewEdge(src, dst string, kind EdgeKind, byteOffset uint32) *Edge {
	return &Edge{
		ID:         EdgeID(src, dst, kind),
		Src:        src,
		Dst:        dst,
		Kind:       kind,
		ByteOffset: byteOffset,
	}
}

// FileRecord is the authoritative set of nodes a file owns. It drives
// surgical removal when the file changes or disappears.
type FileRecord struct {
	Path          string
	ContentHash   []byte
	Language      string
	NodeIDs       []string
	LastIndexedAt time.Time
}

// Diagnostic records a non-fatal problem encountered while indexing.
type Diagnostic struct {
	// Code classifies the problem: parse_failure, symbol_collision,
	// resolve_miss, store_corruption, io_error.
	Code string

	// File is the repo-relative path involved, if any.
	File string

	// Line is the 1-based line, 0 when unknown.
	Line int

	// Message is a one-line human-readable description.
	Message string
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s: %s:%d: %s", d.Code, d.File, d.Line, d.Message)
	}
	if d.File != "" {
		return fmt.Sprintf("%s: %s: %s", d.Code, d.File, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Code, d.Message)
}

// edgeWeight returns the centrality weight for an edge kind.
func edgeWeight(kind EdgeKind) float64 {
	switch kind {
	case EdgeCalls, EdgeImports:
		return 1.0
	case EdgeReferences:
		return 0.5
	default:
		return 0.75
	}
}
