package graph

import (
	"sort"
	"strconv"
	"strings"
)

// SymbolTable maps fully qualified names to node identifiers.
//
// A single FQN maps to exactly one node. On collision the first entry
// wins and the loser is recorded so the caller can emit a diagnostic;
// shadowed entries are remembered so that removing the winner promotes
// the next definition on a later commit.
//
// The table carries no lock of its own: it lives inside the Graph's lock
// domain and is only mutated through a Txn.
type SymbolTable struct {
	byFQN map[string]string

	// shadowed holds colliding definitions per FQN in arrival order.
	shadowed map[string][]string
}

// NewSymbolTable creates an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byFQN:    make(map[string]string),
		shadowed: make(map[string][]string),
	}
}

// Insert registers fqn → id. If the FQN is already taken by a different
// node the existing entry is kept, the new one is parked as shadowed, and
// Insert reports false so the caller can log a SymbolCollision.
func (s *SymbolTable) Insert(fqn, id string) bool {
	if existing, ok := s.byFQN[fqn]; ok {
		if existing == id {
			return true
		}
		s.shadowed[fqn] = append(s.shadowed[fqn], id)
		return false
	}
	s.byFQN[fqn] = id
	return true
}

// Resolve returns the node ID for an exact FQN.
func (s *SymbolTable) Resolve(fqn string) (string, bool) {
	id, ok := s.byFQN[fqn]
	return id, ok
}

// RemoveByNode drops every entry pointing at the node, promoting the
// oldest shadowed definition where one exists. Returns the FQNs that no
// longer resolve to this node (for dangling-reference bookkeeping).
func (s *SymbolTable) RemoveByNode(id string) []string {
	var freed []string
	for fqn, owner := range s.byFQN {
		if owner != id {
			continue
		}
		if next, ok := s.promote(fqn); ok {
			s.byFQN[fqn] = next
		} else {
			delete(s.byFQN, fqn)
		}
		freed = append(freed, fqn)
	}

	// The node may also be parked as a shadowed loser.
	for fqn, losers := range s.shadowed {
		kept := losers[:0]
		for _, loser := range losers {
			if loser != id {
				kept = append(kept, loser)
			}
		}
		if len(kept) == 0 {
			delete(s.shadowed, fqn)
		} else {
			s.shadowed[fqn] = kept
		}
	}

	sort.Strings(freed)
	return freed
}

func (s *SymbolTable) promote(fqn string) (string, bool) {
	losers := s.shadowed[fqn]
	if len(losers) == 0 {
		return "", false
	}
	next := losers[0]
	if len(losers) == 1 {
		delete(s.shadowed, fqn)
	} else {
		s.shadowed[fqn] = losers[1:]
	}
	return next, true
}

// ScanPrefix returns all (fqn, id) pairs whose FQN starts with the
// prefix, sorted by FQN for determinism.
func (s *SymbolTable) ScanPrefix(prefix string) []SymbolEntry {
	var out []SymbolEntry
	for fqn, id := range s.byFQN {
		if strings.HasPrefix(fqn, prefix) {
			out = append(out, SymbolEntry{FQN: fqn, NodeID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQN < out[j].FQN })
	return out
}

// ScanLastSegment returns entries whose final path segment equals name.
// Segments are delimited by "." after the "::" file separator.
func (s *SymbolTable) ScanLastSegment(name string) []SymbolEntry {
	var out []SymbolEntry
	for fqn, id := range s.byFQN {
		if LastSegment(fqn) == name {
			out = append(out, SymbolEntry{FQN: fqn, NodeID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQN < out[j].FQN })
	return out
}

// Len returns the number of resolvable FQNs.
func (s *SymbolTable) Len() int {
	return len(s.byFQN)
}

// All returns every entry sorted by FQN. Used when flushing to the store.
func (s *SymbolTable) All() []SymbolEntry {
	out := make([]SymbolEntry, 0, len(s.byFQN))
	for fqn, id := range s.byFQN {
		out = append(out, SymbolEntry{FQN: fqn, NodeID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQN < out[j].FQN })
	return out
}

// SymbolEntry is one row of the symbol table.
type SymbolEntry struct {
	FQN    string
	NodeID string
}

// LastSegment extracts the trailing name from an FQN such as
// "dir/a.go::Server.Start" → "Start".
func LastSegment(fqn string) string {
	s := fqn
	if idx := strings.LastIndex(s, "::"); idx >= 0 {
		s = s[idx+2:]
	}
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		s = s[idx+1:]
	}
	return s
}

// DanglingIndex tracks unresolved references by the FQN candidates they
// were waiting on. When a symbol with a matching FQN appears, the parked
// references are retried without rescanning the whole graph.
type DanglingIndex struct {
	byFQN map[string]map[string]*DanglingRef
	byID  map[string]*DanglingRef
	next  uint64
}

// DanglingRef is an unresolved reference parked until its target appears.
type DanglingRef struct {
	// Key uniquely identifies the parked reference within the index.
	Key string

	// OriginID is the referencing node.
	OriginID string

	// Candidates are the FQN expansions that would satisfy the reference.
	Candidates []string

	// Kind is the edge kind to create on resolution.
	Kind EdgeKind

	// ByteOffset locates the referencing token for diagnostics.
	ByteOffset uint32
}

// NewDanglingIndex creates an empty index.
func NewDanglingIndex() *DanglingIndex {
	return &DanglingIndex{
		byFQN: make(map[string]map[string]*DanglingRef),
		byID:  make(map[string]*DanglingRef),
	}
}

// Park records an unresolved reference under each of its candidate FQNs.
func (d *DanglingIndex) Park(originID string, candidates []string, kind EdgeKind, byteOffset uint32) {
	d.next++
	ref := &DanglingRef{
		Key:        originID + "#" + string(kind) + "#" + strconv.FormatUint(d.next, 10),
		OriginID:   originID,
		Candidates: append([]string(nil), candidates...),
		Kind:       kind,
		ByteOffset: byteOffset,
	}
	d.byID[ref.Key] = ref
	for _, fqn := range candidates {
		if d.byFQN[fqn] == nil {
			d.byFQN[fqn] = make(map[string]*DanglingRef)
		}
		d.byFQN[fqn][ref.Key] = ref
	}
}

// Take removes and returns every reference waiting on the given FQN,
// sorted by key for determinism.
func (d *DanglingIndex) Take(fqn string) []*DanglingRef {
	waiting := d.byFQN[fqn]
	if len(waiting) == 0 {
		return nil
	}
	out := make([]*DanglingRef, 0, len(waiting))
	for _, ref := range waiting {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	for _, ref := range out {
		d.remove(ref)
	}
	return out
}

// DropOrigin discards every parked reference originating from a node.
// Called when the origin node itself is removed.
func (d *DanglingIndex) DropOrigin(originID string) {
	var doomed []*DanglingRef
	for _, ref := range d.byID {
		if ref.OriginID == originID {
			doomed = append(doomed, ref)
		}
	}
	for _, ref := range doomed {
		d.remove(ref)
	}
}

// Len returns the number of parked references.
func (d *DanglingIndex) Len() int {
	return len(d.byID)
}

func (d *DanglingIndex) remove(ref *DanglingRef) {
	delete(d.byID, ref.Key)
	for _, fqn := range ref.Candidates {
		if m := d.byFQN[fqn]; m != nil {
			delete(m, ref.Key)
			if len(m) == 0 {
				delete(d.byFQN, fqn)
			}
		}
	}
}
