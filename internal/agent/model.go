package agent

import (
	"context"

	"github.com/rendis/flowarch/internal/capability"
)

// Request is everything sent to the model in one round.
type Request struct {
	SystemInstruction string
	History           []Turn
	Tools             []capability.Declaration
}

// Reply is the model's answer: text and call parts in the order produced.
type Reply struct {
	Parts []Part
}

// Turn wraps the reply as a model history turn.
func (r *Reply) Turn() Turn {
	parts := make([]Part, len(r.Parts))
	copy(parts, r.Parts)
	return Turn{Role: RoleModel, Parts: parts}
}

// Model is a remote language model that can request capability calls.
type Model interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
}

// Invoker executes capabilities. *capability.Layer satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (capability.Result, error)
}
