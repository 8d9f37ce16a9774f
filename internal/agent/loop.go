// Package agent drives the bounded conversation between the user, a remote
// model and the capability layer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/flowarch/internal/capability"
	"github.com/rendis/flowarch/internal/logging"
	"github.com/rendis/flowarch/internal/observability"
	"github.com/rendis/flowarch/pkg/schema"
)

// DefaultMaxRounds is the per-message round budget.
const DefaultMaxRounds = 6

// LoopConfig configures a Loop. Zero values select defaults.
type LoopConfig struct {
	MaxRounds         int
	SystemInstruction string
	Tools             []capability.Declaration
	Logger            *slog.Logger
	Metrics           observability.Metrics
}

// Outcome summarizes one Run.
type Outcome struct {
	Rounds int               `json:"rounds"`
	Calls  int               `json:"calls"`
	Failed int               `json:"failed"`
	Stop   schema.StopReason `json:"stop"`
}

// Loop runs user messages through the model until it stops requesting
// capabilities or the round budget is spent.
type Loop struct {
	model       Model
	invoker     Invoker
	maxRounds   int
	instruction string
	tools       []capability.Declaration
	logger      *slog.Logger
	metrics     observability.Metrics
}

// NewLoop creates a Loop.
func NewLoop(model Model, invoker Invoker, cfg LoopConfig) *Loop {
	l := &Loop{
		model:       model,
		invoker:     invoker,
		maxRounds:   cfg.MaxRounds,
		instruction: cfg.SystemInstruction,
		tools:       cfg.Tools,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
	if l.maxRounds <= 0 {
		l.maxRounds = DefaultMaxRounds
	}
	if l.instruction == "" {
		l.instruction = SystemInstruction
	}
	if l.tools == nil {
		l.tools = capability.Declarations()
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.metrics == nil {
		l.metrics = observability.NoopMetrics{}
	}
	return l
}

// MaxRounds returns the round budget.
func (l *Loop) MaxRounds() int { return l.maxRounds }

// Run processes one user message. Every turn it produces is appended to h as
// it happens, so the history stays usable whatever the exit path. The only
// error returned is a failed model request; capability failures are reported
// back to the model and never end the turn.
func (l *Loop) Run(ctx context.Context, h *History, userText string, obs Observer) (Outcome, error) {
	if obs == nil {
		obs = ObserverFuncs{}
	}
	defer obs.Activity("")

	h.Append(UserText(userText))
	if dropped := h.Trim(); dropped > 0 {
		l.logger.DebugContext(ctx, "history trimmed", slog.Int("dropped_turns", dropped))
	}

	var out Outcome
	for out.Rounds < l.maxRounds {
		out.Rounds++
		rctx := logging.WithRound(ctx, out.Rounds)
		rctx, span := observability.StartRoundSpan(rctx, out.Rounds)

		obs.Activity(ActivityReasoning)
		reply, err := l.generate(rctx, h)
		if err != nil {
			observability.EndSpanWithError(span, err)
			out.Stop = schema.StopModelError
			l.finish(ctx, out)
			return out, l.fail(rctx, err, obs)
		}

		h.Append(reply.Turn())
		calls := reply.Turn().Calls()

		if text := reply.Turn().Text(); text != "" {
			obs.Message(Message{
				Role:     MessageAssistant,
				Content:  text,
				Planning: len(calls) > 0,
				At:       time.Now().UTC(),
			})
		}

		if len(calls) == 0 {
			observability.EndSpanWithError(span, nil)
			out.Stop = schema.StopCompleted
			l.finish(ctx, out)
			return out, nil
		}

		h.Append(l.execute(rctx, calls, obs, &out))
		observability.EndSpanWithError(span, nil)
	}

	out.Stop = schema.StopRoundLimit
	l.logger.WarnContext(ctx, "round limit reached", slog.Int("rounds", out.Rounds))
	l.finish(ctx, out)
	return out, nil
}

func (l *Loop) generate(ctx context.Context, h *History) (*Reply, error) {
	start := time.Now()
	reply, err := l.model.Generate(ctx, Request{
		SystemInstruction: l.instruction,
		History:           h.Turns(),
		Tools:             l.tools,
	})
	l.metrics.RecordModelCall(ctx, time.Since(start), err)
	if err == nil && reply == nil {
		err = schema.NewError(schema.ErrCodeModel, "model returned no reply")
	}
	return reply, err
}

// execute runs the batch in request order and builds the results turn.
func (l *Loop) execute(ctx context.Context, calls []Call, obs Observer, out *Outcome) Turn {
	results := Turn{Role: RoleUser, Parts: make([]Part, 0, len(calls))}

	for _, call := range calls {
		obs.Activity(fmt.Sprintf(activityDrawing, call.Name))
		out.Calls++

		var payload map[string]any
		status := "[OK]"
		res, err := l.invoker.Invoke(ctx, call.Name, call.Args)
		if err != nil {
			out.Failed++
			status = "[FAILED]"
			payload = capability.ErrorPayload(err)
		} else {
			payload = res.Map()
		}

		obs.Message(Message{
			Role:    MessageSystem,
			Content: fmt.Sprintf("Capability: %s %s", call.Name, status),
			At:      time.Now().UTC(),
		})
		results.Parts = append(results.Parts, Part{Response: &Response{
			ID:     call.ID,
			Name:   call.Name,
			Result: payload,
		}})
	}
	return results
}

// fail surfaces a model failure as a single assistant message and returns it
// to the caller as a MODEL_ERROR unless it already carries a code.
func (l *Loop) fail(ctx context.Context, err error, obs Observer) error {
	msg := err.Error()
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		msg = fe.Message
	} else {
		fe = schema.NewError(schema.ErrCodeModel, msg).WithCause(err)
	}

	l.logger.ErrorContext(ctx, "model request failed",
		slog.String("code", fe.Code),
		slog.String("error", msg),
	)
	obs.Message(Message{
		Role:    MessageAssistant,
		Content: "Agent Error: " + msg,
		At:      time.Now().UTC(),
	})
	return fe
}

func (l *Loop) finish(ctx context.Context, out Outcome) {
	l.metrics.RecordTurn(ctx, out.Rounds, string(out.Stop))
	l.logger.InfoContext(ctx, "turn finished",
		slog.Int("rounds", out.Rounds),
		slog.Int("calls", out.Calls),
		slog.Int("failed", out.Failed),
		slog.String("stop", string(out.Stop)),
	)
}
