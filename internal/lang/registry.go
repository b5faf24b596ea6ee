// Package lang provides the language registry: a frozen table mapping
// file extensions to tree-sitter grammars and declarative extraction
// patterns. Adding a language is adding a row; nothing in the registry
// mutates after construction.
package lang

import (
	"fmt"
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/lattice-dev/lattice/internal/graph"
)

// Language identifies a supported source language.
type Language string

const (
	Go         Language = "go"
	Python     Language = "python"
	TypeScript Language = "typescript"
	JavaScript Language = "javascript"
	Rust       Language = "rust"
)

// Spec bundles everything the pipeline needs for one language: the
// grammar, the compiled extraction queries, and the mapping from capture
// names to node kinds.
type Spec struct {
	Language Language
	Grammar  *tree_sitter.Language

	// Compiled queries. Heritage may be nil for languages without
	// class heritage syntax.
	Symbols  *tree_sitter.Query
	Imports  *tree_sitter.Query
	Calls    *tree_sitter.Query
	Heritage *tree_sitter.Query

	// KindMap translates a declaration capture name to a node kind.
	KindMap map[string]graph.NodeKind
}

// Registry is the frozen extension → Spec table.
type Registry struct {
	byExt  map[string]*Spec
	byLang map[Language]*Spec
}

// row is one declarative registry entry before query compilation.
type row struct {
	language   Language
	extensions []string
	grammar    *tree_sitter.Language
	symbols    string
	imports    string
	calls      string
	heritage   string
	kinds      map[string]graph.NodeKind
}

// defaultKinds maps the shared capture vocabulary to node kinds.
var defaultKinds = map[string]graph.NodeKind{
	"function":  graph.KindFunction,
	"method":    graph.KindMethod,
	"class":     graph.KindClass,
	"interface": graph.KindInterface,
	"struct":    graph.KindStruct,
	"enum":      graph.KindEnum,
	"trait":     graph.KindTrait,
	"impl":      graph.KindImpl,
	"module":    graph.KindModule,
	"variable":  graph.KindVariable,
	"constant":  graph.KindConstant,
	"macro":     graph.KindMacro,
	"namespace": graph.KindNamespace,
	"mixin":     graph.KindMixin,
}

// NewRegistry compiles the built-in language table. It fails only on a
// query that does not match its grammar, which is a programming error
// caught by the registry tests.
func NewRegistry() (*Registry, error) {
	rows := []row{
		{
			language:   Go,
			extensions: []string{".go"},
			grammar:    tree_sitter.NewLanguage(tree_sitter_go.Language()),
			symbols:    goSymbols,
			imports:    goImports,
			calls:      goCalls,
			heritage:   goHeritage,
			kinds:      defaultKinds,
		},
		{
			language:   Python,
			extensions: []string{".py"},
			grammar:    tree_sitter.NewLanguage(tree_sitter_python.Language()),
			symbols:    pythonSymbols,
			imports:    pythonImports,
			calls:      pythonCalls,
			heritage:   pythonHeritage,
			kinds:      defaultKinds,
		},
		{
			language:   TypeScript,
			extensions: []string{".ts"},
			grammar:    tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()),
			symbols:    typescriptSymbols,
			imports:    typescriptImports,
			calls:      typescriptCalls,
			heritage:   typescriptHeritage,
			kinds:      defaultKinds,
		},
		{
			language:   TypeScript,
			extensions: []string{".tsx"},
			grammar:    tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()),
			symbols:    typescriptSymbols,
			imports:    typescriptImports,
			calls:      typescriptCalls,
			heritage:   typescriptHeritage,
			kinds:      defaultKinds,
		},
		{
			language:   JavaScript,
			extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
			grammar:    tree_sitter.NewLanguage(tree_sitter_javascript.Language()),
			symbols:    javascriptSymbols,
			imports:    javascriptImports,
			calls:      javascriptCalls,
			heritage:   javascriptHeritage,
			kinds:      defaultKinds,
		},
		{
			language:   Rust,
			extensions: []string{".rs"},
			grammar:    tree_sitter.NewLanguage(tree_sitter_rust.Language()),
			symbols:    rustSymbols,
			imports:    rustImports,
			calls:      rustCalls,
			heritage:   rustHeritage,
			kinds:      defaultKinds,
		},
	}

	r := &Registry{
		byExt:  make(map[string]*Spec),
		byLang: make(map[Language]*Spec),
	}

	for _, row := range rows {
		spec, err := compileRow(row)
		if err != nil {
			return nil, fmt.Errorf("compiling %s queries: %w", row.language, err)
		}
		for _, ext := range row.extensions {
			r.byExt[ext] = spec
		}
		if _, ok := r.byLang[row.language]; !ok {
			r.byLang[row.language] = spec
		}
	}

	return r, nil
}

func compileRow(row row) (*Spec, error) {
	spec := &Spec{
		Language: row.language,
		Grammar:  row.grammar,
		KindMap:  row.kinds,
	}

	var err error
	if spec.Symbols, err = compileQuery(row.grammar, row.symbols); err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	if spec.Imports, err = compileQuery(row.grammar, row.imports); err != nil {
		return nil, fmt.Errorf("imports: %w", err)
	}
	if spec.Calls, err = compileQuery(row.grammar, row.calls); err != nil {
		return nil, fmt.Errorf("calls: %w", err)
	}
	if strings.TrimSpace(row.heritage) != "" {
		if spec.Heritage, err = compileQuery(row.grammar, row.heritage); err != nil {
			return nil, fmt.Errorf("heritage: %w", err)
		}
	}
	return spec, nil
}

func compileQuery(grammar *tree_sitter.Language, src string) (*tree_sitter.Query, error) {
	q, qerr := tree_sitter.NewQuery(grammar, src)
	if qerr != nil {
		return nil, qerr
	}
	return q, nil
}

// ForPath returns the Spec for a file path's extension, or false when
// the extension is not registered.
func (r *Registry) ForPath(path string) (*Spec, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	spec, ok := r.byExt[ext]
	return spec, ok
}

// ForLanguage returns the Spec for a language name.
func (r *Registry) ForLanguage(language Language) (*Spec, bool) {
	spec, ok := r.byLang[language]
	return spec, ok
}

// LanguageForPath returns the language for a path, or "" if unsupported.
func (r *Registry) LanguageForPath(path string) Language {
	if spec, ok := r.ForPath(path); ok {
		return spec.Language
	}
	return ""
}

// Supported reports whether the extension of path is registered.
func (r *Registry) Supported(path string) bool {
	_, ok := r.ForPath(path)
	return ok
}

// Extensions returns the registered extensions, for diagnostics.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}
