// Package llmtest provides a deterministic agent.Model for tests and offline demos.
package llmtest

import (
	"context"
	"sync"

	"github.com/rendis/flowarch/internal/agent"
	"github.com/rendis/flowarch/pkg/schema"
)

// Step is one scripted model answer: either a reply or an error.
type Step struct {
	Reply *agent.Reply
	Err   error
}

// Scripted replays a queue of steps and records every request it receives.
// When the queue runs dry it answers with Fallback, or with an empty reply
// (which ends the turn) when Fallback is nil.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []agent.Request

	// Fallback, if set, produces the reply once the queue is exhausted.
	Fallback func(req agent.Request) (*agent.Reply, error)
}

// New creates a Scripted model.
func New(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Push appends more steps.
func (s *Scripted) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Generate implements agent.Model.
func (s *Scripted) Generate(ctx context.Context, req agent.Request) (*agent.Reply, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var (
		step Step
		ok   bool
	)
	if len(s.steps) > 0 {
		step, s.steps, ok = s.steps[0], s.steps[1:], true
	}
	fallback := s.Fallback
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeCancelled, "model request cancelled").WithCause(err)
	}
	if ok {
		if step.Err != nil {
			return nil, step.Err
		}
		return step.Reply, nil
	}
	if fallback != nil {
		return fallback(req)
	}
	return &agent.Reply{}, nil
}

// Requests returns a copy of every request received so far.
func (s *Scripted) Requests() []agent.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agent.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns how many times Generate was invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Text builds a reply holding a single text part.
func Text(text string) Step {
	return Step{Reply: &agent.Reply{Parts: []agent.Part{{Text: text}}}}
}

// CallsStep builds a reply that requests the given capability calls, optionally
// preceded by planning text.
func CallsStep(text string, calls ...agent.Call) Step {
	parts := make([]agent.Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, agent.Part{Text: text})
	}
	for i := range calls {
		c := calls[i]
		parts = append(parts, agent.Part{Call: &c})
	}
	return Step{Reply: &agent.Reply{Parts: parts}}
}

// Fail builds a step whose request fails with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Forever answers every request with the same call, so a turn only ends at
// the round limit.
func Forever(call agent.Call) func(agent.Request) (*agent.Reply, error) {
	return func(agent.Request) (*agent.Reply, error) {
		c := call
		return &agent.Reply{Parts: []agent.Part{{Call: &c}}}, nil
	}
}
