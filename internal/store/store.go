// Package store provides durable, atomic persistence of graph state on
// top of BadgerDB. A commit is one write batch; load restores the whole
// graph in a single keyspace pass.
package store

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/lattice-dev/lattice/internal/graph"
)

// SchemaVersion gates persisted layouts. Increment on any breaking
// change to node kinds, edge kinds, or key layout; a mismatch on load
// triggers a full rebuild instead of an online migration.
const SchemaVersion = 1

// Key prefixes for the logical keyspaces.
const (
	prefixNode = "node/"
	prefixEdge = "edge/"
	prefixFile = "file/"
	prefixSym  = "sym/"

	keySchemaVersion = "meta/schema_version"
	keyLastCommit    = "meta/last_commit"
)

var (
	// ErrSchemaMismatch is returned by Load when the on-disk schema
	// version differs from SchemaVersion.
	ErrSchemaMismatch = errors.New("store schema version mismatch")

	// ErrCommitFailed is returned when an atomic batch is refused
	// twice. The in-memory graph remains at its pre-commit state.
	ErrCommitFailed = errors.New("commit failed")
)

// Store is the badger-backed persistence layer. It is internally
// thread-safe; batches are serialized by the coordinator.
type Store struct {
	db *badger.DB
}

// Open opens or creates the database at dir and stamps the schema
// version on first use.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithNumCompactors(2).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchemaVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchemaVersion() error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badger.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(strconv.Itoa(SchemaVersion)))
		}
		return err
	})
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Batch is a set of put/delete operations applied atomically.
type Batch struct {
	puts    map[string][]byte
	deletes map[string]bool
	err     error
}

// NewBatch creates an empty batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{
		puts:    make(map[string][]byte),
		deletes: make(map[string]bool),
	}
}

// PutNode stages a node write.
func (b *Batch) PutNode(n *graph.CodeNode) {
	b.encode(prefixNode+n.ID, n)
}

// DeleteNode stages a node delete.
func (b *Batch) DeleteNode(id string) {
	b.delete(prefixNode + id)
}

// PutEdge stages an edge write under edge/<src>/<kind>/<dst>.
func (b *Batch) PutEdge(e *graph.Edge) {
	b.encode(prefixEdge+e.ID, e)
}

// DeleteEdge stages an edge delete.
func (b *Batch) DeleteEdge(id string) {
	b.delete(prefixEdge + id)
}

// PutFile stages a file record write.
func (b *Batch) PutFile(fr *graph.FileRecord) {
	b.encode(prefixFile+fr.Path, fr)
}

// DeleteFile stages a file record delete.
func (b *Batch) DeleteFile(path string) {
	b.delete(prefixFile + path)
}

// PutSymbol stages a symbol table entry. Values are plain UTF-8 node
// IDs, not gob.
func (b *Batch) PutSymbol(fqn, nodeID string) {
	b.puts[prefixSym+fqn] = []byte(nodeID)
	delete(b.deletes, prefixSym+fqn)
}

// DeleteSymbol stages a symbol table entry delete.
func (b *Batch) DeleteSymbol(fqn string) {
	b.delete(prefixSym + fqn)
}

// Len returns the number of staged operations.
func (b *Batch) Len() int {
	return len(b.puts) + len(b.deletes)
}

func (b *Batch) encode(key string, v any) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		b.err = err
		return
	}
	b.puts[key] = buf.Bytes()
	delete(b.deletes, key)
}

func (b *Batch) delete(key string) {
	b.deletes[key] = true
	delete(b.puts, key)
}

// Apply writes the batch atomically and syncs. On a refused batch it
// retries once, then surfaces ErrCommitFailed.
func (s *Store) Apply(b *Batch) error {
	if b.err != nil {
		return fmt.Errorf("%w: encoding batch: %v", ErrCommitFailed, b.err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if lastErr = s.applyOnce(b); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrCommitFailed, lastErr)
}

func (s *Store) applyOnce(b *Batch) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for key, val := range b.puts {
		if err := wb.Set([]byte(key), val); err != nil {
			return err
		}
	}
	for key := range b.deletes {
		if err := wb.Delete([]byte(key)); err != nil {
			return err
		}
	}
	if err := wb.Set([]byte(keyLastCommit), []byte(time.Now().UTC().Format(time.RFC3339Nano))); err != nil {
		return err
	}

	if err := wb.Flush(); err != nil {
		return err
	}
	return s.db.Sync()
}

// LoadResult carries everything restored from disk plus per-record
// corruption diagnostics.
type LoadResult struct {
	Nodes       []graph.CodeNode
	Edges       []graph.Edge
	Files       []graph.FileRecord
	Symbols     []graph.SymbolEntry
	LastCommit  time.Time
	Diagnostics []graph.Diagnostic
}

// Load restores the entire graph state in one pass. Corrupt node or
// edge records are reported and dropped; the load continues. A schema
// version mismatch aborts with ErrSchemaMismatch.
func (s *Store) Load() (*LoadResult, error) {
	res := &LoadResult{}

	err := s.db.View(func(txn *badger.Txn) error {
		if err := checkSchema(txn); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())

			err := item.Value(func(val []byte) error {
				switch {
				case len(key) > len(prefixNode) && key[:len(prefixNode)] == prefixNode:
					var n graph.CodeNode
					if err := gobDecode(val, &n); err != nil {
						res.corrupt(key, err)
						return nil
					}
					res.Nodes = append(res.Nodes, n)
				case len(key) > len(prefixEdge) && key[:len(prefixEdge)] == prefixEdge:
					var e graph.Edge
					if err := gobDecode(val, &e); err != nil {
						res.corrupt(key, err)
						return nil
					}
					res.Edges = append(res.Edges, e)
				case len(key) > len(prefixFile) && key[:len(prefixFile)] == prefixFile:
					var fr graph.FileRecord
					if err := gobDecode(val, &fr); err != nil {
						res.corrupt(key, err)
						return nil
					}
					res.Files = append(res.Files, fr)
				case len(key) > len(prefixSym) && key[:len(prefixSym)] == prefixSym:
					res.Symbols = append(res.Symbols, graph.SymbolEntry{
						FQN:    key[len(prefixSym):],
						NodeID: string(val),
					})
				case key == keyLastCommit:
					if t, err := time.Parse(time.RFC3339Nano, string(val)); err == nil {
						res.LastCommit = t
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *LoadResult) corrupt(key string, err error) {
	r.Diagnostics = append(r.Diagnostics, graph.Diagnostic{
		Code:    "store_corruption",
		Message: fmt.Sprintf("dropping unreadable record %s: %v", key, err),
	})
}

func checkSchema(txn *badger.Txn) error {
	item, err := txn.Get([]byte(keySchemaVersion))
	if err == badger.ErrKeyNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		v, err := strconv.Atoi(string(val))
		if err != nil || v != SchemaVersion {
			return fmt.Errorf("%w: on-disk %s, want %d", ErrSchemaMismatch, val, SchemaVersion)
		}
		return nil
	})
}

// Reset drops every key and restamps the schema version. Used when a
// schema mismatch forces a full rebuild.
func (s *Store) Reset() error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("resetting store: %w", err)
	}
	return s.ensureSchemaVersion()
}

func gobDecode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
