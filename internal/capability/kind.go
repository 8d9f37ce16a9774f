// Package capability is the fixed set of operations the agent may invoke on
// the canvas. Names are a closed enum; anything outside it is rejected with
// UNKNOWN_CAPABILITY so the caller can report it back to the model.
package capability

import "github.com/rendis/flowarch/pkg/schema"

// Kind names one of the six capabilities.
type Kind string

const (
	AddNode        Kind = "addNode"
	UpdateNode     Kind = "updateNode"
	DeleteNode     Kind = "deleteNode"
	ConnectNodes   Kind = "connectNodes"
	ClearCanvas    Kind = "clearCanvas"
	GetCanvasState Kind = "getCanvasState"
)

// Kinds returns every capability in declaration order.
func Kinds() []Kind {
	return []Kind{AddNode, UpdateNode, DeleteNode, ConnectNodes, ClearCanvas, GetCanvasState}
}

// ParseKind maps a wire name to its Kind.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(name); k {
	case AddNode, UpdateNode, DeleteNode, ConnectNodes, ClearCanvas, GetCanvasState:
		return k, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeUnknownCapability, "Unknown tool: %s", name).
		WithDetails(map[string]any{"capability": name})
}

// Mutates reports whether the capability can change the graph.
func (k Kind) Mutates() bool {
	return k != GetCanvasState
}

func (k Kind) String() string { return string(k) }
