package capability

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/flowarch/internal/graph"
	"github.com/rendis/flowarch/internal/observability"
	"github.com/rendis/flowarch/pkg/schema"
)

// StatusSuccess is the status of every successful mutation result.
const StatusSuccess = "success"

// Result is the structured outcome of a capability. Mutations fill Status and
// (except clearCanvas) ID; getCanvasState fills Snapshot.
type Result struct {
	Status   string           `json:"status,omitempty"`
	ID       string           `json:"id,omitempty"`
	Snapshot *schema.Snapshot `json:"-"`
}

// Map renders the result as the payload reported back to the model.
func (r Result) Map() map[string]any {
	if r.Snapshot != nil {
		snap := r.Snapshot.Clone()
		return map[string]any{"nodes": snap.Nodes, "edges": snap.Edges}
	}
	out := map[string]any{"status": r.Status}
	if r.ID != "" {
		out["id"] = r.ID
	}
	return out
}

// ErrorPayload renders a capability failure as the payload reported back to
// the model.
func ErrorPayload(err error) map[string]any {
	msg := err.Error()
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		msg = fe.Message
	}
	return map[string]any{
		"error": msg,
		"code":  schema.CodeOf(err),
	}
}

// Guard decides whether an invocation may run. *expressions.CELEngine
// satisfies it.
type Guard interface {
	Allow(ctx context.Context, expression string, args map[string]any, snap schema.Snapshot) (bool, error)
}

// Option configures a Layer.
type Option func(*Layer)

// WithIDGenerator replaces the node id generator.
func WithIDGenerator(fn func() string) Option {
	return func(l *Layer) { l.newID = fn }
}

// WithGuards installs per-capability admission predicates.
func WithGuards(g Guard, rules map[Kind]string) Option {
	return func(l *Layer) {
		l.guard = g
		l.rules = rules
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Layer) { l.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.Metrics) Option {
	return func(l *Layer) { l.metrics = m }
}

// Layer executes capabilities against a graph store. Invocations are applied
// synchronously and in call order, so a getCanvasState issued after a
// mutation in the same batch always observes it.
type Layer struct {
	store   *graph.Store
	newID   func() string
	guard   Guard
	rules   map[Kind]string
	logger  *slog.Logger
	metrics observability.Metrics
}

// New creates a Layer over store.
func New(store *graph.Store, opts ...Option) *Layer {
	l := &Layer{
		store:   store,
		newID:   func() string { return "node-" + uuid.NewString() },
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the graph the layer mutates.
func (l *Layer) Store() *graph.Store { return l.store }

// Invoke runs the capability called name. Unknown names, invalid arguments and
// guard rejections come back as *schema.FlowError; none of them touch the graph.
func (l *Layer) Invoke(ctx context.Context, name string, args map[string]any) (Result, error) {
	ctx, span := observability.StartCapabilitySpan(ctx, name)

	res, err := l.invoke(ctx, name, args)

	observability.EndSpanWithError(span, err)
	l.metrics.RecordCapability(ctx, name, err == nil)
	if err != nil {
		l.logger.WarnContext(ctx, "capability failed",
			slog.String("capability", name),
			slog.String("code", schema.CodeOf(err)),
			slog.String("error", err.Error()),
		)
	} else {
		l.logger.DebugContext(ctx, "capability applied",
			slog.String("capability", name),
			slog.String("id", res.ID),
		)
	}
	return res, err
}

func (l *Layer) invoke(ctx context.Context, name string, args map[string]any) (Result, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, schema.NewError(schema.ErrCodeCancelled, "invocation cancelled").WithCause(err)
	}

	switch kind {
	case AddNode:
		var a AddNodeArgs
		if err := l.prepare(ctx, kind, args, &a); err != nil {
			return Result{}, err
		}
		return l.addNode(a), nil
	case UpdateNode:
		var a UpdateNodeArgs
		if err := l.prepare(ctx, kind, args, &a); err != nil {
			return Result{}, err
		}
		return l.updateNode(a), nil
	case DeleteNode:
		var a DeleteNodeArgs
		if err := l.prepare(ctx, kind, args, &a); err != nil {
			return Result{}, err
		}
		return l.deleteNode(a), nil
	case ConnectNodes:
		var a ConnectNodesArgs
		if err := l.prepare(ctx, kind, args, &a); err != nil {
			return Result{}, err
		}
		return l.connectNodes(a), nil
	case ClearCanvas:
		if err := l.admit(ctx, kind, args); err != nil {
			return Result{}, err
		}
		l.store.Clear()
		return Result{Status: StatusSuccess}, nil
	case GetCanvasState:
		if err := l.admit(ctx, kind, args); err != nil {
			return Result{}, err
		}
		snap := l.store.Snapshot()
		return Result{Snapshot: &snap}, nil
	}
	// ParseKind only yields the kinds handled above.
	return Result{}, schema.NewErrorf(schema.ErrCodeUnknownCapability, "Unknown tool: %s", name)
}

func (l *Layer) prepare(ctx context.Context, kind Kind, args map[string]any, out any) error {
	if err := decodeArgs(kind, args, out); err != nil {
		return err
	}
	return l.admit(ctx, kind, args)
}

func (l *Layer) admit(ctx context.Context, kind Kind, args map[string]any) error {
	if l.guard == nil {
		return nil
	}
	rule, ok := l.rules[kind]
	if !ok || rule == "" {
		return nil
	}
	allowed, err := l.guard.Allow(ctx, rule, args, l.store.Snapshot())
	if err != nil {
		return err
	}
	if !allowed {
		return schema.NewErrorf(schema.ErrCodeGuardRejected, "%s rejected by guard: %s", kind, rule).
			WithDetails(map[string]any{"capability": string(kind), "guard": rule})
	}
	return nil
}

func (l *Layer) addNode(a AddNodeArgs) Result {
	n := schema.Node{
		ID:        l.newID(),
		Label:     a.Label,
		Position:  schema.Position{X: DefaultX, Y: DefaultY},
		ShapeKind: schema.ShapeProcess,
		Color:     schema.NormalizeColor(a.Color),
	}
	if a.X != nil {
		n.Position.X = *a.X
	}
	if a.Y != nil {
		n.Position.Y = *a.Y
	}
	if a.Type != "" {
		n.ShapeKind = schema.ShapeKind(a.Type)
	}
	l.store.AppendNode(n)
	return Result{Status: StatusSuccess, ID: n.ID}
}

func (l *Layer) updateNode(a UpdateNodeArgs) Result {
	n, ok := l.store.Node(a.ID)
	if !ok {
		return Result{Status: StatusSuccess, ID: a.ID}
	}
	if a.Label != nil {
		n.Label = *a.Label
	}
	if a.X != nil {
		n.Position.X = *a.X
	}
	if a.Y != nil {
		n.Position.Y = *a.Y
	}
	if a.Color != nil {
		n.Color = schema.NormalizeColor(*a.Color)
	}
	l.store.ReplaceNode(n)
	return Result{Status: StatusSuccess, ID: a.ID}
}

func (l *Layer) deleteNode(a DeleteNodeArgs) Result {
	l.store.RemoveNode(a.ID)
	return Result{Status: StatusSuccess, ID: a.ID}
}

func (l *Layer) connectNodes(a ConnectNodesArgs) Result {
	e := schema.Edge{
		ID:     schema.EdgeID(a.SourceID, a.TargetID),
		Source: a.SourceID,
		Target: a.TargetID,
		Label:  a.Label,
	}
	l.store.AppendEdge(e)
	return Result{Status: StatusSuccess, ID: e.ID}
}
