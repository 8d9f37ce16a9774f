// Package diagnostics inspects the canvas after each agent turn and reports
// structural issues the model left behind.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rendis/flowarch/internal/expressions"
	"github.com/rendis/flowarch/pkg/schema"
)

// Issue codes reported by the built-in checks.
const (
	CodeDanglingEdge = "DANGLING_EDGE"
	CodeIsolatedNode = "ISOLATED_NODE"
	CodeRuleFailed   = "RULE_FAILED"
	CodeRuleError    = "RULE_ERROR"
)

// Rule is a user-configured expr predicate. When evaluates to true for a
// healthy canvas; a false result produces a warning with Message.
type Rule struct {
	Name    string `koanf:"name" json:"name"`
	When    string `koanf:"when" json:"when"`
	Message string `koanf:"message" json:"message"`
}

// RuleChecker evaluates a rule expression against a snapshot.
type RuleChecker interface {
	Check(ctx context.Context, rule string, snap schema.Snapshot) (bool, error)
}

// Checker runs the built-in checks and the configured rules.
type Checker struct {
	rules   []Rule
	engine  RuleChecker
	logger  *slog.Logger
	isolate bool
}

// Option configures a Checker.
type Option func(*Checker)

// WithRules adds expr rules evaluated by engine.
func WithRules(engine RuleChecker, rules ...Rule) Option {
	return func(c *Checker) {
		c.engine = engine
		c.rules = append(c.rules, rules...)
	}
}

// WithIsolatedNodes toggles the isolated-node warning. A single node on the
// canvas is never reported.
func WithIsolatedNodes(enabled bool) Option {
	return func(c *Checker) { c.isolate = enabled }
}

// WithLogger sets the logger for rule evaluation failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

// NewChecker creates a Checker with isolated-node warnings enabled.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{isolate: true, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDefaultChecker wires the configured rules to a fresh expr engine.
func NewDefaultChecker(rules []Rule, logger *slog.Logger) *Checker {
	opts := []Option{}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	if len(rules) > 0 {
		opts = append(opts, WithRules(expressions.NewExprEngine(), rules...))
	}
	return NewChecker(opts...)
}

// Rules returns the configured rules.
func (c *Checker) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Check inspects snap. Every finding is a warning: the canvas is never
// rejected, only annotated.
func (c *Checker) Check(ctx context.Context, snap schema.Snapshot) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	idx := snap.NodeIndex()
	for i, e := range snap.Edges {
		var missing []string
		if _, ok := idx[e.Source]; !ok {
			missing = append(missing, "source "+e.Source)
		}
		if _, ok := idx[e.Target]; !ok {
			missing = append(missing, "target "+e.Target)
		}
		if len(missing) > 0 {
			result.AddWarning(fmt.Sprintf("edges[%d]", i), CodeDanglingEdge,
				fmt.Sprintf("link %s points to missing %s", e.ID, strings.Join(missing, " and ")))
		}
	}

	if c.isolate && len(snap.Nodes) > 1 {
		for _, n := range snap.IsolatedNodes() {
			result.AddWarning(fmt.Sprintf("nodes[%d]", idx[n.ID]), CodeIsolatedNode,
				fmt.Sprintf("component %q is not linked to anything", n.Label))
		}
	}

	for i, rule := range c.rules {
		if c.engine == nil {
			break
		}
		path := fmt.Sprintf("rules[%d]", i)
		if rule.Name != "" {
			path = "rules." + rule.Name
		}
		ok, err := c.engine.Check(ctx, rule.When, snap)
		if err != nil {
			c.logger.WarnContext(ctx, "diagnostic rule failed", "rule", rule.Name, "error", err)
			result.AddWarning(path, CodeRuleError, fmt.Sprintf("rule %s could not be evaluated: %s", ruleName(rule, i), err))
			continue
		}
		if !ok {
			msg := rule.Message
			if msg == "" {
				msg = fmt.Sprintf("rule %s failed", ruleName(rule, i))
			}
			result.AddWarning(path, CodeRuleFailed, msg)
		}
	}

	return result
}

// Summary renders warnings as one transcript line each, prefixed for display.
func Summary(result *schema.ValidationResult) string {
	if result == nil || result.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Diagram check:")
	for _, issue := range result.Errors {
		b.WriteString("\n- " + issue.Message)
	}
	for _, issue := range result.Warnings {
		b.WriteString("\n- " + issue.Message)
	}
	return b.String()
}

func ruleName(r Rule, i int) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("#%d", i+1)
}
