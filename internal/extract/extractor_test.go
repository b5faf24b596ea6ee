package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/lang"
	"github.com/lattice-dev/lattice/internal/parser"
)

func extractSource(t *testing.T, path, src string) *FileExtraction {
	t.Helper()

	registry, err := lang.NewRegistry()
	require.NoError(t, err)

	tree, err := parser.New(registry).Parse(context.Background(), path, []byte(src))
	require.NoError(t, err)
	defer tree.Close()

	return New().Run(tree)
}

func findNode(fx *FileExtraction, name string, kind graph.NodeKind) *graph.CodeNode {
	for i := range fx.Nodes {
		if fx.Nodes[i].Name == name && fx.Nodes[i].Kind == kind {
			return &fx.Nodes[i]
		}
	}
	return nil
}

func TestExtract_GoFunctionsAndTypes(t *testing.T) {
	t.Parallel()

	src := `package web

type Server struct {
	addr string
}

type Handler interface {
	Handle()
}

func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

func (s *Server) Start() error {
	return listen(s.addr)
}
`
	fx := extractSource(t, "pkg/web/server.go", src)

	require.NotNil(t, findNode(fx, "Server", graph.KindStruct))
	require.NotNil(t, findNode(fx, "Handler", graph.KindInterface))

	fn := findNode(fx, "NewServer", graph.KindFunction)
	require.NotNil(t, fn)
	assert.Equal(t, "pkg/web/server.go::NewServer", fn.QualifiedName)
	assert.Equal(t, "go", fn.Language)
	assert.Contains(t, fn.Signature, "func NewServer")
	assert.GreaterOrEqual(t, fn.LineEnd, fn.LineStart)
	assert.NotEmpty(t, fn.ContentHash)

	method := findNode(fx, "Start", graph.KindMethod)
	require.NotNil(t, method)

	// The call inside Start is attributed to Start, not the module.
	var callRef *UnresolvedRef
	for i := range fx.Refs {
		if fx.Refs[i].Target == "listen" {
			callRef = &fx.Refs[i]
		}
	}
	require.NotNil(t, callRef)
	assert.Equal(t, method.ID, callRef.OriginID)
	assert.Equal(t, graph.EdgeCalls, callRef.Kind)
	assert.Equal(t, StyleBare, callRef.Style)
}

func TestExtract_ModuleNode(t *testing.T) {
	t.Parallel()

	fx := extractSource(t, "a.py", "x = 1\n")

	mod := findNode(fx, "a.py", graph.KindModule)
	require.NotNil(t, mod)
	assert.Equal(t, mod.ID, fx.ModuleID)
	assert.Equal(t, "a.py", mod.QualifiedName)
	assert.Equal(t, 1, mod.LineStart)
}

func TestExtract_PythonClassScoping(t *testing.T) {
	t.Parallel()

	src := `class Account:
    def __init__(self, owner):
        self.owner = owner

    def deposit(self, amount):
        self.balance += amount

def standalone():
    pass
`
	fx := extractSource(t, "bank.py", src)

	account := findNode(fx, "Account", graph.KindClass)
	require.NotNil(t, account)

	// Functions nested in a class become methods under the class FQN.
	deposit := findNode(fx, "deposit", graph.KindMethod)
	require.NotNil(t, deposit)
	assert.Equal(t, "bank.py::Account.deposit", deposit.QualifiedName)

	standalone := findNode(fx, "standalone", graph.KindFunction)
	require.NotNil(t, standalone)
	assert.Equal(t, "bank.py::standalone", standalone.QualifiedName)
}

func TestExtract_PythonHeritage(t *testing.T) {
	t.Parallel()

	src := `class Base:
    pass

class Child(Base):
    pass
`
	fx := extractSource(t, "models.py", src)

	child := findNode(fx, "Child", graph.KindClass)
	require.NotNil(t, child)

	var extends *UnresolvedRef
	for i := range fx.Refs {
		if fx.Refs[i].Kind == graph.EdgeExtends {
			extends = &fx.Refs[i]
		}
	}
	require.NotNil(t, extends)
	assert.Equal(t, child.ID, extends.OriginID)
	assert.Equal(t, "Base", extends.Target)
}

func TestExtract_TypeScriptImportsAndCalls(t *testing.T) {
	t.Parallel()

	src := `import { foo } from './a';
import * as util from './util';

foo();
util.helper();
`
	fx := extractSource(t, "b.ts", src)

	// Import refs hang off the module node.
	var importRefs []UnresolvedRef
	for _, r := range fx.Refs {
		if r.Kind == graph.EdgeImports {
			importRefs = append(importRefs, r)
		}
	}
	require.Len(t, importRefs, 2)
	for _, r := range importRefs {
		assert.Equal(t, fx.ModuleID, r.OriginID)
	}

	// Aliases record both named and namespace imports.
	assert.Equal(t, "./a.foo", fx.Aliases["foo"])
	assert.Equal(t, "./util", fx.Aliases["util"])

	var bare, member *UnresolvedRef
	for i := range fx.Refs {
		r := &fx.Refs[i]
		if r.Kind != graph.EdgeCalls {
			continue
		}
		switch r.Target {
		case "foo":
			bare = r
		case "helper":
			member = r
		}
	}
	require.NotNil(t, bare)
	assert.Equal(t, StyleBare, bare.Style)
	assert.Equal(t, fx.ModuleID, bare.OriginID)

	require.NotNil(t, member)
	assert.Equal(t, StyleMember, member.Style)
	assert.Equal(t, "util", member.Qualifier)
}

func TestExtract_TypeScriptSymbols(t *testing.T) {
	t.Parallel()

	src := `export function greet(name: string): string {
	return "hi " + name;
}

export class Greeter {
	greet(): string {
		return greet("world");
	}
}

export interface Named {
	name: string;
}

const shortcut = () => 42;
`
	fx := extractSource(t, "greeter.ts", src)

	assert.NotNil(t, findNode(fx, "greet", graph.KindFunction))
	assert.NotNil(t, findNode(fx, "Greeter", graph.KindClass))
	assert.NotNil(t, findNode(fx, "Named", graph.KindInterface))
	assert.NotNil(t, findNode(fx, "shortcut", graph.KindFunction))

	// The class method qualifies under the class.
	method := findNode(fx, "greet", graph.KindMethod)
	require.NotNil(t, method)
	assert.Equal(t, "greeter.ts::Greeter.greet", method.QualifiedName)
}

func TestExtract_Idempotent(t *testing.T) {
	t.Parallel()

	src := "package p\n\nfunc a() { b() }\n\nfunc b() {}\n"
	first := extractSource(t, "p.go", src)
	second := extractSource(t, "p.go", src)

	require.Equal(t, len(first.Nodes), len(second.Nodes))
	for i := range first.Nodes {
		assert.Equal(t, first.Nodes[i].ID, second.Nodes[i].ID)
		assert.Equal(t, first.Nodes[i].ContentHash, second.Nodes[i].ContentHash)
	}
	assert.Equal(t, len(first.Refs), len(second.Refs))
}

func TestExtract_RustSymbols(t *testing.T) {
	t.Parallel()

	src := `struct Point {
    x: f64,
}

trait Shape {
    fn area(&self) -> f64;
}

fn origin() -> Point {
    Point { x: 0.0 }
}
`
	fx := extractSource(t, "src/geo.rs", src)

	assert.NotNil(t, findNode(fx, "Point", graph.KindStruct))
	assert.NotNil(t, findNode(fx, "Shape", graph.KindTrait))
	assert.NotNil(t, findNode(fx, "origin", graph.KindFunction))
}
