package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_CompilesAllQueries(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry()
	require.NoError(t, err, "every built-in query must compile against its grammar")
	require.NotNil(t, r)
}

func TestRegistry_ForPath(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry()
	require.NoError(t, err)

	cases := []struct {
		path string
		want Language
	}{
		{"main.go", Go},
		{"pkg/server.go", Go},
		{"app.py", Python},
		{"src/index.ts", TypeScript},
		{"src/App.tsx", TypeScript},
		{"lib/util.js", JavaScript},
		{"lib/util.jsx", JavaScript},
		{"lib/util.mjs", JavaScript},
		{"src/lib.rs", Rust},
		{"UPPER.GO", Go},
	}
	for _, tc := range cases {
		spec, ok := r.ForPath(tc.path)
		require.True(t, ok, tc.path)
		assert.Equal(t, tc.want, spec.Language, tc.path)
		assert.NotNil(t, spec.Grammar)
		assert.NotNil(t, spec.Symbols)
		assert.NotNil(t, spec.Imports)
		assert.NotNil(t, spec.Calls)
	}
}

func TestRegistry_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry()
	require.NoError(t, err)

	for _, path := range []string{"README.md", "a.txt", "Makefile", "style.css"} {
		_, ok := r.ForPath(path)
		assert.False(t, ok, path)
		assert.False(t, r.Supported(path))
		assert.Equal(t, Language(""), r.LanguageForPath(path))
	}
}

func TestRegistry_HeritageOptional(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry()
	require.NoError(t, err)

	goSpec, _ := r.ForPath("a.go")
	assert.Nil(t, goSpec.Heritage, "Go has no class heritage syntax")

	pySpec, _ := r.ForPath("a.py")
	assert.NotNil(t, pySpec.Heritage)
}
