package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string, opts ...Option) *Watcher {
	t.Helper()

	opts = append([]Option{WithDebounce(50 * time.Millisecond)}, opts...)
	w, err := New(root, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Run(ctx) }()

	// Give the watcher a moment to arm before mutating the tree.
	time.Sleep(100 * time.Millisecond)
	return w
}

func nextBatch(t *testing.T, w *Watcher) Batch {
	t.Helper()
	select {
	case b := <-w.Batches():
		return b
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a batch")
		return Batch{}
	}
}

func TestWatcher_CreateModifyDelete(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := startWatcher(t, root)

	path := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n"), 0o644))

	b := nextBatch(t, w)
	SortBatch(&b)
	assert.Equal(t, []string{"a.go"}, b.Created)
	assert.False(t, b.RescanRequired)

	require.NoError(t, os.WriteFile(path, []byte("package a // edited\n"), 0o644))
	b = nextBatch(t, w)
	assert.Contains(t, b.Modified, "a.go")

	require.NoError(t, os.Remove(path))
	b = nextBatch(t, w)
	assert.Contains(t, b.Deleted, "a.go")
}

func TestWatcher_DebounceCoalescesSamePath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n"), 0o644))

	w := startWatcher(t, root)

	// A burst of writes inside the quiet window yields one batch with
	// one entry for the path.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("package a\n// rev\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	b := nextBatch(t, w)
	count := 0
	for _, p := range b.Modified {
		if p == "a.go" {
			count++
		}
	}
	assert.Equal(t, 1, count, "successive events on one path coalesce")
}

func TestWatcher_BatchesMultiplePaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"), []byte("package b\n"), 0o644))

	b := nextBatch(t, w)
	SortBatch(&b)
	assert.Equal(t, []string{"a.go", "b.go"}, b.Created)
}

func TestWatcher_IgnoreRules(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	matcher := gitignore.NewMatcher([]gitignore.Pattern{
		gitignore.ParsePattern("*.log", nil),
	})
	w := startWatcher(t, root, WithIgnore(matcher))

	require.NoError(t, os.WriteFile(filepath.Join(root, "noise.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.go"), []byte("package k\n"), 0o644))

	b := nextBatch(t, w)
	SortBatch(&b)
	assert.Equal(t, []string{"kept.go"}, b.Created)
}

func TestWatcher_AlwaysIgnoredDirs(t *testing.T) {
	t.Parallel()

	assert.True(t, alwaysIgnored(".git"))
	assert.True(t, alwaysIgnored(filepath.Join("node_modules", "pkg", "index.js")))
	assert.True(t, alwaysIgnored(".lattice"))
	assert.False(t, alwaysIgnored("src"))
	assert.False(t, alwaysIgnored(filepath.Join("pkg", "a.go")))
}

func TestBatch_Empty(t *testing.T) {
	t.Parallel()

	assert.True(t, Batch{}.Empty())
	assert.False(t, Batch{Created: []string{"a"}}.Empty())
	assert.False(t, Batch{RescanRequired: true}.Empty())
}
