package diagnostics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowarch/pkg/schema"
)

func canvas() schema.Snapshot {
	return schema.Snapshot{
		Nodes: []schema.Node{
			{ID: "a", Label: "Start", ShapeKind: schema.ShapeStart},
			{ID: "b", Label: "Work", ShapeKind: schema.ShapeProcess},
			{ID: "c", Label: "Orphan", ShapeKind: schema.ShapeProcess},
		},
		Edges: []schema.Edge{
			{ID: "edge-a-b", Source: "a", Target: "b"},
			{ID: "edge-b-ghost", Source: "b", Target: "ghost"},
		},
	}
}

func codes(issues []schema.ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Code)
	}
	return out
}

type stubRules struct {
	results map[string]bool
	err     error
}

func (s stubRules) Check(_ context.Context, rule string, _ schema.Snapshot) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.results[rule], nil
}

func TestCheck_BuiltIns(t *testing.T) {
	res := NewChecker().Check(context.Background(), canvas())

	assert.True(t, res.Valid(), "diagnostics never produce errors")
	assert.Equal(t, []string{CodeDanglingEdge, CodeIsolatedNode}, codes(res.Warnings))
	assert.Equal(t, "edges[1]", res.Warnings[0].Path)
	assert.Contains(t, res.Warnings[0].Message, "missing target ghost")
	assert.Equal(t, "nodes[2]", res.Warnings[1].Path)
	assert.Contains(t, res.Warnings[1].Message, `"Orphan"`)
}

func TestCheck_BothEndsMissing(t *testing.T) {
	snap := schema.Snapshot{Edges: []schema.Edge{{ID: "e", Source: "x", Target: "y"}}}
	res := NewChecker().Check(context.Background(), snap)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "source x and target y")
}

func TestCheck_CleanCanvas(t *testing.T) {
	assert.True(t, NewChecker().Check(context.Background(), schema.EmptySnapshot()).Empty())

	single := schema.Snapshot{Nodes: []schema.Node{{ID: "a", Label: "Only"}}}
	assert.True(t, NewChecker().Check(context.Background(), single).Empty(), "a lone node is not isolated")
}

func TestCheck_IsolatedDisabled(t *testing.T) {
	res := NewChecker(WithIsolatedNodes(false)).Check(context.Background(), canvas())
	assert.Equal(t, []string{CodeDanglingEdge}, codes(res.Warnings))
}

func TestCheck_Rules(t *testing.T) {
	engine := stubRules{results: map[string]bool{"pass": true, "fail": false}}
	c := NewChecker(WithIsolatedNodes(false), WithRules(engine,
		Rule{Name: "ok", When: "pass"},
		Rule{Name: "needs_end", When: "fail", Message: "add an end node"},
		Rule{When: "fail"},
	))

	res := c.Check(context.Background(), schema.EmptySnapshot())
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "rules.needs_end", res.Warnings[0].Path)
	assert.Equal(t, "add an end node", res.Warnings[0].Message)
	assert.Equal(t, "rules[2]", res.Warnings[1].Path)
	assert.Equal(t, "rule #3 failed", res.Warnings[1].Message)
	assert.Len(t, c.Rules(), 3)
}

func TestCheck_RuleErrorsBecomeWarnings(t *testing.T) {
	c := NewChecker(WithRules(stubRules{err: errors.New("boom")}, Rule{Name: "broken", When: "x"}))
	res := c.Check(context.Background(), schema.EmptySnapshot())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, CodeRuleError, res.Warnings[0].Code)
	assert.Contains(t, res.Warnings[0].Message, "boom")
}

func TestDefaultChecker_ExprRules(t *testing.T) {
	c := NewDefaultChecker([]Rule{
		{Name: "has_start", When: `any(nodes, .shapeKind == "start")`, Message: "no start node"},
		{Name: "has_end", When: `any(nodes, .shapeKind == "end")`, Message: "no end node"},
		{Name: "no_dangling", When: `len(dangling) == 0`, Message: "dangling links"},
	}, nil)

	res := c.Check(context.Background(), canvas())
	var msgs []string
	for _, w := range res.Warnings {
		if w.Code == CodeRuleFailed {
			msgs = append(msgs, w.Message)
		}
	}
	assert.Equal(t, []string{"no end node", "dangling links"}, msgs)
}

func TestSummary(t *testing.T) {
	assert.Empty(t, Summary(nil))
	assert.Empty(t, Summary(&schema.ValidationResult{}))

	res := NewChecker().Check(context.Background(), canvas())
	out := Summary(res)
	assert.Contains(t, out, "Diagram check:")
	assert.Contains(t, out, "\n- link edge-b-ghost points to missing target ghost")
}
