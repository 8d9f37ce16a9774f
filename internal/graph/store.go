// Package graph holds the authoritative node and edge collections of a canvas.
//
// The store performs structural mutation only. Every operation is total: a
// replace or remove that targets a missing id is a no-op, never an error.
// Referential integrity on node deletion is the one rule the store enforces
// itself, so a removed node never leaves edges behind.
package graph

import (
	"sync"

	"github.com/rendis/flowarch/pkg/schema"
)

// Store is an in-memory graph guarded by a RWMutex. The session is its only
// writer; presentation shells read concurrently through Snapshot.
type Store struct {
	mu      sync.RWMutex
	nodes   []schema.Node
	edges   []schema.Edge
	version uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		nodes: []schema.Node{},
		edges: []schema.Edge{},
	}
}

// AppendNode adds n at the end of the node sequence.
func (s *Store) AppendNode(n schema.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = append(s.nodes, n)
	s.version++
}

// ReplaceNode swaps the node sharing n.ID, keeping its position in the
// sequence. Returns false when no such node exists.
func (s *Store) ReplaceNode(n schema.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.nodes {
		if s.nodes[i].ID == n.ID {
			s.nodes[i] = n
			s.version++
			return true
		}
	}
	return false
}

// RemoveNode deletes the node with id together with every edge that
// references it. Returns false when the node was not present; dangling edges
// pointing at id are still removed in that case.
func (s *Store) RemoveNode(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	kept := s.nodes[:0]
	for _, n := range s.nodes {
		if n.ID == id {
			found = true
			continue
		}
		kept = append(kept, n)
	}
	s.nodes = kept

	removed := s.removeEdgesLocked(func(e schema.Edge) bool { return e.References(id) })
	if found || removed > 0 {
		s.version++
	}
	return found
}

// AppendEdge adds e unless an edge with the same id already exists.
func (s *Store) AppendEdge(e schema.Edge) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.edges {
		if existing.ID == e.ID {
			return false
		}
	}
	s.edges = append(s.edges, e)
	s.version++
	return true
}

// RemoveEdges drops every edge matching pred and returns how many went.
func (s *Store) RemoveEdges(pred func(schema.Edge) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.removeEdgesLocked(pred)
	if n > 0 {
		s.version++
	}
	return n
}

func (s *Store) removeEdgesLocked(pred func(schema.Edge) bool) int {
	kept := s.edges[:0]
	removed := 0
	for _, e := range s.edges {
		if pred(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.edges = kept
	return removed
}

// Replace swaps the whole graph for snap (import).
func (s *Store) Replace(snap schema.Snapshot) {
	c := snap.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = c.Nodes
	s.edges = c.Edges
	s.version++
}

// Clear empties both collections.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = []schema.Node{}
	s.edges = []schema.Edge{}
	s.version++
}

// Snapshot returns a deep copy of the current graph.
func (s *Store) Snapshot() schema.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return schema.Snapshot{Nodes: s.nodes, Edges: s.edges}.Clone()
}

// Node looks up a node by id.
func (s *Store) Node(id string) (schema.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return schema.Node{}, false
}

// Counts returns the number of nodes and edges.
func (s *Store) Counts() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.nodes), len(s.edges)
}

// Version is a monotonic counter bumped by every effective mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.version
}
