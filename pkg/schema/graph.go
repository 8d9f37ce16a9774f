package schema

import "strings"

// ShapeKind classifies how a node is drawn.
type ShapeKind string

const (
	ShapeProcess  ShapeKind = "process"
	ShapeDecision ShapeKind = "decision"
	ShapeStart    ShapeKind = "start"
	ShapeEnd      ShapeKind = "end"
)

// ShapeKinds lists every valid shape kind in declaration order.
func ShapeKinds() []ShapeKind {
	return []ShapeKind{ShapeProcess, ShapeDecision, ShapeStart, ShapeEnd}
}

// Valid reports whether k is one of the four known kinds.
func (k ShapeKind) Valid() bool {
	switch k {
	case ShapeProcess, ShapeDecision, ShapeStart, ShapeEnd:
		return true
	}
	return false
}

// Diamond reports whether the renderer should draw the node as a decision diamond.
func (k ShapeKind) Diamond() bool { return k == ShapeDecision }

// DefaultColor is the color assigned when none (or an unknown one) is given.
const DefaultColor = "blue"

// palette maps semantic color names to the hex values renderers use.
var palette = map[string]string{
	"blue":   "#3b82f6",
	"green":  "#10b981",
	"amber":  "#f59e0b",
	"rose":   "#f43f5e",
	"purple": "#a855f7",
	"slate":  "#64748b",
}

// Colors returns the known semantic color names.
func Colors() []string {
	return []string{"blue", "green", "amber", "rose", "purple", "slate"}
}

// NormalizeColor lower-cases name and falls back to DefaultColor when the
// name is empty or not part of the palette.
func NormalizeColor(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := palette[name]; ok {
		return name
	}
	return DefaultColor
}

// ColorHex returns the hex value for a semantic color name.
func ColorHex(name string) string {
	return palette[NormalizeColor(name)]
}

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single diagram box. ID is immutable once assigned.
type Node struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Position  Position  `json:"position"`
	ShapeKind ShapeKind `json:"shapeKind"`
	Color     string    `json:"color"`
}

// Edge is a directed connection between two node ids.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// EdgeID derives the deterministic edge id for a source/target pair.
func EdgeID(source, target string) string {
	return "edge-" + source + "-" + target
}

// References reports whether the edge touches nodeID at either end.
func (e Edge) References(nodeID string) bool {
	return e.Source == nodeID || e.Target == nodeID
}

// Snapshot is the full graph state. It doubles as the export file format.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// EmptySnapshot returns a snapshot whose collections marshal as [] rather than null.
func EmptySnapshot() Snapshot {
	return Snapshot{Nodes: []Node{}, Edges: []Edge{}}
}

// Clone returns a deep copy with non-nil collections.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Nodes: make([]Node, len(s.Nodes)),
		Edges: make([]Edge, len(s.Edges)),
	}
	copy(out.Nodes, s.Nodes)
	copy(out.Edges, s.Edges)
	return out
}

// Equal compares both collections element-wise, order included.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.Nodes) != len(other.Nodes) || len(s.Edges) != len(other.Edges) {
		return false
	}
	for i := range s.Nodes {
		if s.Nodes[i] != other.Nodes[i] {
			return false
		}
	}
	for i := range s.Edges {
		if s.Edges[i] != other.Edges[i] {
			return false
		}
	}
	return true
}

// NodeIndex maps node ids to their position in Nodes.
func (s Snapshot) NodeIndex() map[string]int {
	idx := make(map[string]int, len(s.Nodes))
	for i, n := range s.Nodes {
		idx[n.ID] = i
	}
	return idx
}

// DanglingEdges returns the edges whose source or target is not a known node.
func (s Snapshot) DanglingEdges() []Edge {
	idx := s.NodeIndex()
	var out []Edge
	for _, e := range s.Edges {
		_, src := idx[e.Source]
		_, dst := idx[e.Target]
		if !src || !dst {
			out = append(out, e)
		}
	}
	return out
}

// IsolatedNodes returns nodes that no edge references.
func (s Snapshot) IsolatedNodes() []Node {
	linked := make(map[string]bool, len(s.Edges)*2)
	for _, e := range s.Edges {
		linked[e.Source] = true
		linked[e.Target] = true
	}
	var out []Node
	for _, n := range s.Nodes {
		if !linked[n.ID] {
			out = append(out, n)
		}
	}
	return out
}
