// Package watcher detects file-system changes under a project tree,
// debounces them into batches, and hands typed deltas to the indexing
// coordinator. It never parses anything itself.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DefaultDebounce is the quiet window that closes a batch.
const DefaultDebounce = 50 * time.Millisecond

// Batch is one debounced set of changes, with paths relative to the
// watched root. Paths within a batch are in arrival order; consumers
// must not depend on ordering (commits are idempotent relative to final
// file state).
type Batch struct {
	Created  []string
	Modified []string
	Deleted  []string

	// RescanRequired signals that the watcher lost track of events
	// (e.g. too many open handles) and the consumer must fall back to
	// a full walk. The path slices are empty when set.
	RescanRequired bool
}

// Empty reports whether the batch carries no work.
func (b Batch) Empty() bool {
	return !b.RescanRequired && len(b.Created) == 0 && len(b.Modified) == 0 && len(b.Deleted) == 0
}

// Watcher watches a tree and emits change batches.
type Watcher struct {
	root     string
	matcher  gitignore.Matcher
	debounce time.Duration
	out      chan Batch
	fs       *fsnotify.Watcher
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the quiet window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnore supplies the ignore ruleset. The ruleset is configuration:
// the watcher applies it but does not construct it.
func WithIgnore(matcher gitignore.Matcher) Option {
	return func(w *Watcher) { w.matcher = matcher }
}

// New creates a watcher over root. Call Run to start it.
func New(root string, opts ...Option) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     root,
		debounce: DefaultDebounce,
		// The channel is bounded: when the consumer lags, successive
		// events on the same path coalesce in the pending batch
		// rather than blocking the listener.
		out: make(chan Batch, 16),
		fs:  fs,
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addRecursive(root); err != nil {
		fs.Close()
		return nil, err
	}
	return w, nil
}

// Batches is the output channel. Closed when Run returns.
func (w *Watcher) Batches() <-chan Batch {
	return w.out
}

// Run pumps events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.out)
	defer w.fs.Close()

	// pending accumulates per-path state between flushes. Latest event
	// per path wins, which both coalesces bursts and absorbs
	// create-then-modify sequences from editors.
	type change int
	const (
		created change = iota
		modified
		deleted
	)
	pending := make(map[string]change)
	order := make([]string, 0)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		var batch Batch
		for _, path := range order {
			c, ok := pending[path]
			if !ok {
				continue
			}
			switch c {
			case created:
				batch.Created = append(batch.Created, path)
			case modified:
				batch.Modified = append(batch.Modified, path)
			case deleted:
				batch.Deleted = append(batch.Deleted, path)
			}
		}
		select {
		case w.out <- batch:
			pending = make(map[string]change)
			order = order[:0]
		default:
			// The consumer is behind: keep the pending state so later
			// events on the same paths coalesce into it, and retry after
			// the next quiet window.
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}

			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil || w.ignored(rel, false) {
				continue
			}

			// New directories join the watch set immediately so
			// files created inside them are not missed.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
					continue
				}
			}

			var c change
			switch {
			case event.Op.Has(fsnotify.Create):
				c = created
			case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
				c = deleted
			case event.Op.Has(fsnotify.Write):
				c = modified
			default:
				continue
			}

			prev, seen := pending[rel]
			if !seen {
				order = append(order, rel)
			}
			switch {
			case !seen:
				pending[rel] = c
			case c == deleted:
				pending[rel] = deleted
			case prev == created:
				// A write right after a create is still a create.
			case prev == deleted && c == created:
				// Deleted then recreated nets out to a modify.
				pending[rel] = modified
			default:
				pending[rel] = c
			}
			timer.Reset(w.debounce)

		case _, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			// Watcher-level errors mean events may have been lost;
			// the consumer must rescan.
			pending = make(map[string]change)
			order = order[:0]
			select {
			case w.out <- Batch{RescanRequired: true}:
			case <-ctx.Done():
				return ctx.Err()
			}

		case <-timer.C:
			flush()
		}
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(w.root, path)
		if rerr != nil {
			return rerr
		}
		if rel != "." && w.ignored(rel, true) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *Watcher) ignored(rel string, isDir bool) bool {
	if alwaysIgnored(rel) {
		return true
	}
	if w.matcher == nil {
		return false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	return w.matcher.Match(parts, isDir)
}

// alwaysIgnored covers directories no project wants indexed regardless
// of the supplied ruleset.
func alwaysIgnored(rel string) bool {
	first := rel
	if idx := strings.IndexByte(rel, filepath.Separator); idx >= 0 {
		first = rel[:idx]
	}
	switch first {
	case ".git", ".lattice", "node_modules", "__pycache__", ".venv", "venv", "target", "dist", "build", "vendor":
		return true
	}
	return false
}

// SortBatch orders a batch's path lists. Only used by tests and logs;
// consumers do not rely on ordering.
func SortBatch(b *Batch) {
	sort.Strings(b.Created)
	sort.Strings(b.Modified)
	sort.Strings(b.Deleted)
}
