// Package session owns one chat-driven canvas: the graph store, the
// capability layer, the agent loop, the model history and the transcript.
// Presentation shells hold a *Session and never touch those parts directly.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowarch/internal/agent"
	"github.com/rendis/flowarch/internal/capability"
	"github.com/rendis/flowarch/internal/diagnostics"
	"github.com/rendis/flowarch/internal/expressions"
	"github.com/rendis/flowarch/internal/graph"
	"github.com/rendis/flowarch/internal/logging"
	"github.com/rendis/flowarch/internal/observability"
	"github.com/rendis/flowarch/internal/store"
	"github.com/rendis/flowarch/internal/streaming"
	"github.com/rendis/flowarch/internal/validation"
	"github.com/rendis/flowarch/pkg/schema"
)

// WelcomeMessage opens every new transcript.
const WelcomeMessage = "Hello! I am your Flow Architect. Describe a process, a system or an idea and I will map it out on the canvas for you."

// Config holds per-session settings. Zero values select defaults.
type Config struct {
	ID                string
	Title             string
	MaxRounds         int
	MaxHistoryTurns   int
	SnapshotRetention int
}

// Deps holds the collaborators a Session needs. Model is required.
type Deps struct {
	Model       agent.Model
	Store       store.Store
	Hub         streaming.EventHub
	Validator   validation.Validator
	Checker     *diagnostics.Checker
	Guard       capability.Guard
	GuardRules  map[capability.Kind]string
	IDGenerator func() string
	Logger      *slog.Logger
	Metrics     observability.Metrics
}

// Session coordinates one canvas. Submissions are serialized with a reject
// policy: while a turn runs, Submit, Invoke and Import fail with BUSY.
type Session struct {
	id        string
	title     string
	retention int

	graph     *graph.Store
	layer     *capability.Layer
	loop      *agent.Loop
	history   *agent.History
	validator validation.Validator
	checker   *diagnostics.Checker
	jq        *expressions.GoJQEngine
	store     store.Store
	hub       streaming.EventHub
	logger    *slog.Logger

	busy   atomic.Bool
	saveMu sync.Mutex

	mu       sync.RWMutex
	messages []agent.Message
	activity string
	turns    uint64
	saved    saveMarks
}

// New creates a session with an empty canvas and the welcome message.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Model == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "session requires a model")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NoopMetrics{}
	}
	if deps.Validator == nil {
		v, err := validation.NewSnapshotValidator()
		if err != nil {
			return nil, fmt.Errorf("session: snapshot validator: %w", err)
		}
		deps.Validator = v
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	s := &Session{
		id:        cfg.ID,
		title:     cfg.Title,
		retention: cfg.SnapshotRetention,
		graph:     graph.NewStore(),
		history:   agent.NewHistory(cfg.MaxHistoryTurns),
		validator: deps.Validator,
		checker:   deps.Checker,
		jq:        expressions.NewGoJQEngine(),
		store:     deps.Store,
		hub:       deps.Hub,
		logger:    deps.Logger,
	}

	opts := []capability.Option{
		capability.WithLogger(s.logger),
		capability.WithMetrics(deps.Metrics),
	}
	if deps.IDGenerator != nil {
		opts = append(opts, capability.WithIDGenerator(deps.IDGenerator))
	}
	if deps.Guard != nil && len(deps.GuardRules) > 0 {
		opts = append(opts, capability.WithGuards(deps.Guard, deps.GuardRules))
	}
	s.layer = capability.New(s.graph, opts...)
	s.loop = agent.NewLoop(deps.Model, s.layer, agent.LoopConfig{
		MaxRounds: cfg.MaxRounds,
		Logger:    s.logger,
		Metrics:   deps.Metrics,
	})

	s.messages = []agent.Message{{
		Role:    agent.MessageAssistant,
		Content: WelcomeMessage,
		At:      time.Now().UTC(),
	}}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Title returns the session title.
func (s *Session) Title() string { return s.title }

// MaxRounds returns the per-message round budget.
func (s *Session) MaxRounds() int { return s.loop.MaxRounds() }

// Hub returns the event hub, or nil when none is attached.
func (s *Session) Hub() streaming.EventHub { return s.hub }

// Submit runs one user message through the agent loop. Blank text fails with
// VALIDATION_ERROR and a concurrent submission with BUSY; neither touches the
// transcript. A model failure ends the turn with an "Agent Error" message and
// is returned; history gathered before the failure is kept.
func (s *Session) Submit(ctx context.Context, text string) (agent.Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return agent.Outcome{}, schema.NewError(schema.ErrCodeValidation, "message is empty")
	}
	if !s.acquire() {
		return agent.Outcome{}, busyError()
	}
	defer s.release(ctx)

	turnID := uuid.NewString()
	ctx = logging.WithTurnID(logging.WithSessionID(ctx, s.id), turnID)
	ctx, span := observability.StartTurnSpan(ctx, s.id, turnID)

	s.addMessage(ctx, agent.Message{Role: agent.MessageUser, Content: text, At: time.Now().UTC()})
	s.publish(ctx, schema.EventTurnStarted, map[string]any{"turn_id": turnID})

	before := s.graph.Version()
	out, err := s.loop.Run(ctx, s.history, text, agent.ObserverFuncs{
		OnMessage:  func(m agent.Message) { s.addMessage(ctx, m) },
		OnActivity: func(a string) { s.setActivity(ctx, a) },
	})

	s.mu.Lock()
	s.turns++
	s.mu.Unlock()

	if s.graph.Version() != before {
		s.publishGraph(ctx)
	}
	// A failed turn already carries its Agent Error entry.
	if out.Stop != schema.StopModelError {
		s.runDiagnostics(ctx)
	}
	s.publish(ctx, schema.EventTurnCompleted, map[string]any{"turn_id": turnID, "outcome": out})
	observability.EndSpanWithError(span, err)

	if s.store != nil {
		if serr := s.Save(ctx); serr != nil {
			s.logger.ErrorContext(ctx, "save after turn failed", slog.String("error", serr.Error()))
		}
	}
	return out, err
}

// Invoke runs a single capability outside the agent loop (MCP clients, shell
// commands). It shares the BUSY policy with Submit and leaves the history and
// transcript alone.
func (s *Session) Invoke(ctx context.Context, name string, args map[string]any) (capability.Result, error) {
	if !s.acquire() {
		return capability.Result{}, busyError()
	}
	defer s.release(ctx)

	ctx = logging.WithSessionID(ctx, s.id)
	before := s.graph.Version()
	res, err := s.layer.Invoke(ctx, name, args)
	if s.graph.Version() != before {
		s.publishGraph(ctx)
	}
	return res, err
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []agent.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agent.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// History returns a copy of the model-facing conversation log.
func (s *Session) History() []agent.Turn { return s.history.Turns() }

// Processing reports whether a turn is running.
func (s *Session) Processing() bool { return s.busy.Load() }

// Activity returns the transient activity string, empty when idle.
func (s *Session) Activity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activity
}

// Snapshot returns a copy of the canvas.
func (s *Session) Snapshot() schema.Snapshot { return s.graph.Snapshot() }

// Counts returns the number of nodes and edges on the canvas.
func (s *Session) Counts() (nodes, edges int) { return s.graph.Counts() }

// StatusLine renders the canvas counters shown by the shells.
func (s *Session) StatusLine() string {
	nodes, edges := s.graph.Counts()
	return FormatStatus(nodes, edges)
}

// FormatStatus renders "<n> Components • <m> Links".
func FormatStatus(nodes, edges int) string {
	return fmt.Sprintf("%d Components • %d Links", nodes, edges)
}

// Query evaluates a jq expression over the canvas JSON.
func (s *Session) Query(ctx context.Context, expr string) (any, error) {
	return s.jq.Query(ctx, expr, s.graph.Snapshot())
}

// Check runs the diagram checks against the current canvas. Without a
// configured checker only the built-in checks run.
func (s *Session) Check(ctx context.Context) *schema.ValidationResult {
	checker := s.checker
	if checker == nil {
		checker = diagnostics.NewChecker(diagnostics.WithLogger(s.logger))
	}
	return checker.Check(ctx, s.graph.Snapshot())
}

// AddSystemMessage appends a system entry to the transcript.
func (s *Session) AddSystemMessage(ctx context.Context, text string) {
	s.addMessage(ctx, agent.Message{Role: agent.MessageSystem, Content: text, At: time.Now().UTC()})
}

func (s *Session) acquire() bool {
	if !s.busy.CompareAndSwap(false, true) {
		return false
	}
	s.publish(context.Background(), schema.EventProcessing, true)
	return true
}

func (s *Session) release(ctx context.Context) {
	s.busy.Store(false)
	s.publish(context.WithoutCancel(ctx), schema.EventProcessing, false)
}

func busyError() error {
	return schema.NewError(schema.ErrCodeBusy, "a turn is already running; wait for it to finish")
}

func (s *Session) runDiagnostics(ctx context.Context) {
	if s.checker == nil {
		return
	}
	result := s.checker.Check(ctx, s.graph.Snapshot())
	if result.Empty() {
		return
	}
	s.publish(ctx, schema.EventDiagnostics, result)
	s.AddSystemMessage(ctx, diagnostics.Summary(result))
}

func (s *Session) addMessage(ctx context.Context, m agent.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	s.publish(ctx, schema.EventMessage, m)
}

func (s *Session) setActivity(ctx context.Context, a string) {
	s.mu.Lock()
	s.activity = a
	s.mu.Unlock()
	s.publish(ctx, schema.EventActivity, a)
}

func (s *Session) publishGraph(ctx context.Context) {
	nodes, edges := s.graph.Counts()
	s.publish(ctx, schema.EventGraphChanged, map[string]any{
		"version": s.graph.Version(),
		"nodes":   nodes,
		"edges":   edges,
	})
}

func (s *Session) publish(ctx context.Context, eventType string, payload any) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
		SessionID: s.id,
		EventType: eventType,
		Payload:   payload,
	}); err != nil {
		s.logger.DebugContext(ctx, "publish failed", slog.String("event", eventType), slog.String("error", err.Error()))
	}
}
