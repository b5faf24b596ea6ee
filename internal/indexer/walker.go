package indexer

import (
	"crypto/sha256"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/lattice-dev/lattice/internal/lang"
)

// FileEntry is one source file discovered by the walker.
type FileEntry struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the path relative to the project root, with forward
	// slashes. All graph identity derives from RelPath.
	RelPath string

	// Language is the registered language for the extension.
	Language lang.Language

	// Content is the file content.
	Content []byte

	// Hash is the SHA-256 of Content.
	Hash []byte
}

// Default patterns excluded in addition to the caller-supplied ruleset.
var defaultIgnorePatterns = []string{
	".git/",
	".lattice/",
	"node_modules/",
	"__pycache__/",
	".venv/",
	"venv/",
	"target/",
	"dist/",
	"build/",
	"vendor/",
	".DS_Store",
}

// WalkTree walks root and returns every registered source file that the
// ignore rules admit.
func WalkTree(root string, registry *lang.Registry, patterns []gitignore.Pattern) ([]FileEntry, error) {
	matcher := NewIgnoreMatcher(patterns)

	var entries []FileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && matcher.Match(splitPath(rel), true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !registry.Supported(path) {
			return nil
		}
		if matcher.Match(splitPath(rel), false) {
			return nil
		}

		content, rerr := os.ReadFile(path)
		if rerr != nil {
			return rerr
		}

		entries = append(entries, FileEntry{
			Path:     path,
			RelPath:  rel,
			Language: registry.LanguageForPath(path),
			Content:  content,
			Hash:     hashBytes(content),
		})
		return nil
	})
	return entries, err
}

// NewIgnoreMatcher combines the built-in exclusions with caller
// patterns.
func NewIgnoreMatcher(patterns []gitignore.Pattern) gitignore.Matcher {
	all := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(patterns))
	for _, p := range defaultIgnorePatterns {
		all = append(all, gitignore.ParsePattern(p, nil))
	}
	all = append(all, patterns...)
	return gitignore.NewMatcher(all)
}

// LoadIgnoreFile parses a gitignore-style file into patterns. A missing
// file yields no patterns: the ignore ruleset is optional configuration.
func LoadIgnoreFile(path string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}

func splitPath(rel string) []string {
	return strings.Split(rel, "/")
}

func hashBytes(content []byte) []byte {
	sum := sha256.Sum256(content)
	return sum[:]
}
