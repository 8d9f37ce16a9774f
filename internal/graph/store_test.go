package graph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowarch/pkg/schema"
)

func node(id string) schema.Node {
	return schema.Node{ID: id, Label: id, ShapeKind: schema.ShapeProcess, Color: "blue"}
}

func edge(src, dst string) schema.Edge {
	return schema.Edge{ID: schema.EdgeID(src, dst), Source: src, Target: dst}
}

func TestStore_AppendKeepsInsertionOrder(t *testing.T) {
	s := NewStore()
	s.AppendNode(node("c"))
	s.AppendNode(node("a"))
	s.AppendNode(node("b"))

	snap := s.Snapshot()
	require.Len(t, snap.Nodes, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{snap.Nodes[0].ID, snap.Nodes[1].ID, snap.Nodes[2].ID})
}

func TestStore_ReplaceNode(t *testing.T) {
	s := NewStore()
	s.AppendNode(node("a"))
	s.AppendNode(node("b"))

	updated := node("a")
	updated.Label = "Renamed"
	assert.True(t, s.ReplaceNode(updated))

	got, ok := s.Node("a")
	require.True(t, ok)
	assert.Equal(t, "Renamed", got.Label)
	assert.Equal(t, "a", s.Snapshot().Nodes[0].ID, "replace keeps position in sequence")

	before := s.Version()
	assert.False(t, s.ReplaceNode(node("missing")))
	assert.Equal(t, before, s.Version(), "no-op must not bump version")
}

func TestStore_RemoveNodeCascades(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"a", "b", "c"} {
		s.AppendNode(node(id))
	}
	s.AppendEdge(edge("a", "b"))
	s.AppendEdge(edge("b", "c"))
	s.AppendEdge(edge("c", "a"))

	assert.True(t, s.RemoveNode("b"))

	snap := s.Snapshot()
	assert.Len(t, snap.Nodes, 2)
	require.Len(t, snap.Edges, 1)
	assert.Equal(t, "edge-c-a", snap.Edges[0].ID)
	for _, e := range snap.Edges {
		assert.False(t, e.References("b"))
	}
}

func TestStore_RemoveMissingNodeStillDropsDanglingEdges(t *testing.T) {
	s := NewStore()
	s.AppendNode(node("a"))
	s.AppendEdge(edge("a", "ghost"))

	assert.False(t, s.RemoveNode("ghost"))
	_, edges := s.Counts()
	assert.Zero(t, edges)
}

func TestStore_AppendEdgeDeduplicates(t *testing.T) {
	s := NewStore()
	assert.True(t, s.AppendEdge(edge("a", "b")))
	assert.False(t, s.AppendEdge(edge("a", "b")))
	assert.True(t, s.AppendEdge(edge("b", "a")))

	_, edges := s.Counts()
	assert.Equal(t, 2, edges)
}

func TestStore_RemoveEdges(t *testing.T) {
	s := NewStore()
	s.AppendEdge(edge("a", "b"))
	s.AppendEdge(edge("a", "c"))
	s.AppendEdge(edge("b", "c"))

	n := s.RemoveEdges(func(e schema.Edge) bool { return e.Source == "a" })
	assert.Equal(t, 2, n)
	assert.Zero(t, s.RemoveEdges(func(e schema.Edge) bool { return false }))
}

func TestStore_ReplaceAndClear(t *testing.T) {
	s := NewStore()
	s.AppendNode(node("old"))

	imported := schema.Snapshot{
		Nodes: []schema.Node{node("x"), node("y")},
		Edges: []schema.Edge{edge("x", "y")},
	}
	s.Replace(imported)
	assert.True(t, imported.Equal(s.Snapshot()))

	imported.Nodes[0].Label = "mutated after import"
	got, _ := s.Node("x")
	assert.Equal(t, "x", got.Label, "store must not alias the imported slices")

	s.Clear()
	snap := s.Snapshot()
	assert.NotNil(t, snap.Nodes)
	assert.NotNil(t, snap.Edges)
	assert.Empty(t, snap.Nodes)
	assert.Empty(t, snap.Edges)
}

func TestStore_SnapshotIsDetached(t *testing.T) {
	s := NewStore()
	s.AppendNode(node("a"))

	snap := s.Snapshot()
	snap.Nodes[0].Label = "changed"

	got, _ := s.Node("a")
	assert.Equal(t, "a", got.Label)
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.AppendNode(node("n"))
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = s.Snapshot()
				_, _ = s.Counts()
			}
		}()
	}
	wg.Wait()

	nodes, _ := s.Counts()
	assert.Equal(t, 200, nodes)
	assert.Equal(t, uint64(200), s.Version())
}
