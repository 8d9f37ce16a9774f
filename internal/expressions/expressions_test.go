package expressions

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowarch/pkg/schema"
)

func sampleCanvas() schema.Snapshot {
	return schema.Snapshot{
		Nodes: []schema.Node{
			{ID: "a", Label: "Start", Position: schema.Position{X: 100, Y: 100}, ShapeKind: schema.ShapeStart, Color: "green"},
			{ID: "b", Label: "Work", Position: schema.Position{X: 350, Y: 100}, ShapeKind: schema.ShapeProcess, Color: "blue"},
			{ID: "c", Label: "Orphan", Position: schema.Position{X: 100, Y: 250}, ShapeKind: schema.ShapeProcess, Color: "slate"},
		},
		Edges: []schema.Edge{
			{ID: "edge-a-b", Source: "a", Target: "b"},
			{ID: "edge-b-ghost", Source: "b", Target: "ghost"},
		},
	}
}

func TestEngines_ImplementEngine(t *testing.T) {
	cel, err := NewCELEngine()
	require.NoError(t, err)

	for _, e := range []Engine{cel, NewGoJQEngine(), NewExprEngine()} {
		assert.NotEmpty(t, e.Name())
	}
}

func TestCanvasData_NumbersAreFloat(t *testing.T) {
	data := CanvasData(sampleCanvas())
	nodes, ok := data["nodes"].([]any)
	require.True(t, ok)
	require.Len(t, nodes, 3)

	first := nodes[0].(map[string]any)
	assert.Equal(t, float64(100), first["position"].(map[string]any)["x"])
	assert.Equal(t, "start", first["shapeKind"])
}

func TestCanvasData_EmptySnapshot(t *testing.T) {
	data := CanvasData(schema.Snapshot{})
	assert.Equal(t, []any{}, data["nodes"])
	assert.Equal(t, []any{}, data["edges"])
}

// --- CEL guards ---

func TestCEL_AllowOnArgs(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	ok, err := e.Allow(context.Background(), `args.label.size() <= 5`, map[string]any{"label": "Short"}, sampleCanvas())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Allow(context.Background(), `args.label.size() <= 5`, map[string]any{"label": "Much too long"}, sampleCanvas())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCEL_AllowOnCanvas(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	ok, err := e.Allow(context.Background(), `size(canvas.nodes) < 3`, nil, sampleCanvas())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.Allow(context.Background(), `canvas.nodes.exists(n, n.id == args.id)`, map[string]any{"id": "b"}, sampleCanvas())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCEL_NonBooleanGuard(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Allow(context.Background(), `size(canvas.nodes)`, nil, sampleCanvas())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	err = e.Compile(`args.label ==`)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestCEL_ConcurrentCache(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := e.Allow(context.Background(), `size(canvas.edges) == 2`, nil, sampleCanvas())
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
}

// --- jq queries ---

func TestJQ_Query(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Query(context.Background(), `.nodes | map(.label)`, sampleCanvas())
	require.NoError(t, err)
	assert.Equal(t, []any{"Start", "Work", "Orphan"}, out)

	out, err = e.Query(context.Background(), `.edges | length`, sampleCanvas())
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}

func TestJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Query(context.Background(), `.nodes[] | select(.shapeKind == "process") | .id`, sampleCanvas())
	require.NoError(t, err)
	assert.Equal(t, []any{"b", "c"}, out)

	out, err = e.Query(context.Background(), `.nodes[] | select(.color == "rose")`, sampleCanvas())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestJQ_ResultLimit(t *testing.T) {
	e := NewGoJQEngine()
	e.limit = 3

	out, err := e.Query(context.Background(), `range(3)`, sampleCanvas())
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2}, out)

	_, err = e.Query(context.Background(), `range(10)`, sampleCanvas())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	assert.Contains(t, err.Error(), "more than 3 results")
}

func TestJQ_CacheStaysBounded(t *testing.T) {
	e := NewGoJQEngine()
	for i := 0; i < queryCacheSize+5; i++ {
		_, err := e.Query(context.Background(), fmt.Sprintf(".nodes | length + %d", i), sampleCanvas())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, len(e.codes), queryCacheSize)
}

func TestJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Query(context.Background(), `.nodes[`, sampleCanvas())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = e.Query(context.Background(), `.nodes | error("boom")`, sampleCanvas())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))
}

func TestJQ_EnvIsSandboxed(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Query(context.Background(), `$ENV | length`, sampleCanvas())
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

// --- expr rules ---

func TestExpr_Check(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	tests := []struct {
		rule string
		want bool
	}{
		{`count(nodes, .shapeKind == "start") <= 1`, true},
		{`len(dangling) == 0`, false},
		{`len(isolated) == 1`, true},
		{`all(nodes, .label != "")`, true},
	}
	for _, tc := range tests {
		t.Run(tc.rule, func(t *testing.T) {
			ok, err := e.Check(ctx, tc.rule, sampleCanvas())
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestExpr_NonBooleanRule(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Check(context.Background(), `len(nodes)`, sampleCanvas())
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestExpr_CancelledContext(t *testing.T) {
	e := NewExprEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Evaluate(ctx, `true`, nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCancelled))
}
