package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/flowarch/pkg/schema"
)

const (
	// DefaultQueryLimit caps how many values one canvas query may emit.
	DefaultQueryLimit = 1000

	queryCacheSize = 64
)

// GoJQEngine answers jq queries over the canvas for the shells, e.g.
// ".nodes | map(.label)" or ".edges | length". Safe for concurrent use.
type GoJQEngine struct {
	mu    sync.Mutex
	codes map[string]*gojq.Code
	limit int
}

// NewGoJQEngine creates an engine with DefaultQueryLimit.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{codes: make(map[string]*gojq.Code), limit: DefaultQueryLimit}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string { return "jq" }

// Query runs expression over the canvas snapshot. No output yields nil, one
// output is returned as is and several are returned as []any.
func (e *GoJQEngine) Query(ctx context.Context, expression string, snap schema.Snapshot) (any, error) {
	return e.Evaluate(ctx, expression, CanvasData(snap))
}

// Evaluate runs expression with data as its input document.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	code, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	var out []any
	iter := code.RunWithContext(ctx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, queryError(schema.ErrCodeExecution, "query failed", expression, err)
		}
		if len(out) == e.limit {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"query %q produced more than %d results", expression, e.limit).
				WithDetails(map[string]any{"expression": expression, "limit": e.limit})
		}
		out = append(out, v)
	}

	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	default:
		return out, nil
	}
}

// compile parses expression once. The cache is dropped wholesale when full;
// shells issue few distinct queries.
func (e *GoJQEngine) compile(expression string) (*gojq.Code, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if code, ok := e.codes[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, queryError(schema.ErrCodeValidation, "jq parse error", expression, err)
	}
	// No environment: $ENV and env stay empty.
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, queryError(schema.ErrCodeValidation, "jq compile error", expression, err)
	}

	if len(e.codes) >= queryCacheSize {
		clear(e.codes)
	}
	e.codes[expression] = code
	return code, nil
}

func queryError(code, what, expression string, err error) *schema.FlowError {
	return schema.NewErrorf(code, "%s in %q: %s", what, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

var _ Engine = (*GoJQEngine)(nil)
