package expressions

import "context"

// Engine evaluates expressions against canvas data.
// Three implementations: CEL (capability guards), GoJQ (canvas queries), Expr (lint rules).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
