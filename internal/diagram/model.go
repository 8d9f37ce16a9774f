// Package diagram renders canvas snapshots as Mermaid, ASCII and Graphviz images.
package diagram

import "github.com/rendis/flowarch/pkg/schema"

// DefaultTitle is used when a model is built without an explicit title.
const DefaultTitle = "Flow Architecture"

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title    string
	Nodes    []*Node
	Edges    []Edge
	Levels   [][]string
	Dangling []Edge
}

// Node is one canvas element placed on a level.
type Node struct {
	ID       string
	Label    string
	Shape    schema.ShapeKind
	Color    string
	Position schema.Position
	Level    int
}

// Edge is a directed link between two nodes.
type Edge struct {
	ID    string
	From  string
	To    string
	Label string
}

// Empty reports whether the model has nothing to draw.
func (m *DiagramModel) Empty() bool {
	return m == nil || len(m.Nodes) == 0
}

// Node looks up a node by id.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
