// Package parser turns source bytes into concrete syntax trees using the
// grammars registered in the language registry. It supports incremental
// reparse given a previous tree and a byte-edit descriptor, falling back
// to a full parse on any mismatch.
package parser

import (
	"context"
	"errors"
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/lattice-dev/lattice/internal/lang"
)

// ErrUnsupportedLanguage is returned for files whose extension is not in
// the registry. Such files are skipped silently by the pipeline.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ParseFailure reports a grammar error with its location. The file is
// skipped and the failure is recorded as a diagnostic.
type ParseFailure struct {
	Path   string
	Line   int
	Column int
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("parse failure in %s at %d:%d", e.Path, e.Line, e.Column)
}

// Edit describes a byte-range replacement applied to a previously parsed
// source, enabling incremental reparse.
type Edit struct {
	Start  uint
	OldEnd uint
	NewEnd uint
}

// Tree wraps a parsed syntax tree with the source it was parsed from.
type Tree struct {
	TS     *tree_sitter.Tree
	Source []byte
	Spec   *lang.Spec
	Path   string
}

// Close releases the underlying tree-sitter tree.
func (t *Tree) Close() {
	if t != nil && t.TS != nil {
		t.TS.Close()
	}
}

// Root returns the root syntax node.
func (t *Tree) Root() *tree_sitter.Node {
	return t.TS.RootNode()
}

// Parser parses files against the registry's grammars. It is not safe
// for concurrent use; the coordinator creates one per worker.
type Parser struct {
	registry *lang.Registry
}

// New creates a parser over the given registry.
func New(registry *lang.Registry) *Parser {
	return &Parser{registry: registry}
}

// Parse produces a syntax tree for the file, or a *ParseFailure when the
// grammar rejects the source. Returns ErrUnsupportedLanguage for
// unregistered extensions. Deterministic for a given grammar version.
func (p *Parser) Parse(ctx context.Context, path string, source []byte) (*Tree, error) {
	spec, ok := p.registry.ForPath(path)
	if !ok {
		return nil, ErrUnsupportedLanguage
	}
	return p.parseWith(ctx, spec, path, source, nil)
}

// Reparse accelerates parsing after a single edit by reusing the prior
// tree. When prev has no syntax tree, or the edit does not line up with
// the new source length, it falls back to a full parse of prev's file. A
// nil prev carries no path, so Reparse then returns ErrUnsupportedLanguage.
// Whether source belongs to prev's file is not checked.
func (p *Parser) Reparse(ctx context.Context, prev *Tree, edit Edit, source []byte) (*Tree, error) {
	if prev == nil || prev.TS == nil {
		return p.Parse(ctx, prevPath(prev), source)
	}

	expected := uint(len(prev.Source)) - (edit.OldEnd - edit.Start) + (edit.NewEnd - edit.Start)
	if edit.OldEnd < edit.Start || edit.NewEnd < edit.Start ||
		edit.OldEnd > uint(len(prev.Source)) || expected != uint(len(source)) {
		return p.parseWith(ctx, prev.Spec, prev.Path, source, nil)
	}

	prev.TS.Edit(&tree_sitter.InputEdit{
		StartByte:      edit.Start,
		OldEndByte:     edit.OldEnd,
		NewEndByte:     edit.NewEnd,
		StartPosition:  pointAt(prev.Source, edit.Start),
		OldEndPosition: pointAt(prev.Source, edit.OldEnd),
		NewEndPosition: pointAt(source, edit.NewEnd),
	})

	return p.parseWith(ctx, prev.Spec, prev.Path, source, prev.TS)
}

func prevPath(prev *Tree) string {
	if prev == nil {
		return ""
	}
	return prev.Path
}

func (p *Parser) parseWith(ctx context.Context, spec *lang.Spec, path string, source []byte, old *tree_sitter.Tree) (*Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(spec.Grammar); err != nil {
		return nil, fmt.Errorf("setting %s grammar: %w", spec.Language, err)
	}

	tree := parser.Parse(source, old)
	if tree == nil {
		return nil, &ParseFailure{Path: path}
	}

	root := tree.RootNode()
	if root.HasError() {
		line, col := firstErrorPosition(root)
		tree.Close()
		return nil, &ParseFailure{Path: path, Line: line, Column: col}
	}

	return &Tree{TS: tree, Source: source, Spec: spec, Path: path}, nil
}

// firstErrorPosition walks to the first ERROR or MISSING node and
// returns its 1-based line and column.
func firstErrorPosition(root *tree_sitter.Node) (int, int) {
	cursor := root.Walk()
	defer cursor.Close()

	var line, col int
	var walk func() bool
	walk = func() bool {
		node := cursor.Node()
		if node.IsError() || node.IsMissing() {
			pos := node.StartPosition()
			line, col = int(pos.Row)+1, int(pos.Column)+1
			return true
		}
		if cursor.GotoFirstChild() {
			for {
				if walk() {
					return true
				}
				if !cursor.GotoNextSibling() {
					break
				}
			}
			cursor.GotoParent()
		}
		return false
	}

	if walk() {
		return line, col
	}
	pos := root.StartPosition()
	return int(pos.Row) + 1, int(pos.Column) + 1
}

// pointAt converts a byte offset into a row/column Point by scanning for
// newlines. Offsets past the end clamp to the final position.
func pointAt(source []byte, offset uint) tree_sitter.Point {
	if offset > uint(len(source)) {
		offset = uint(len(source))
	}
	var row, col uint
	for _, b := range source[:offset] {
		if b == '\n' {
			row++
			col = 0
		} else {
			col++
		}
	}
	return tree_sitter.Point{Row: row, Column: col}
}
