package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/flowarch/internal/agent"
	"github.com/rendis/flowarch/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of test requests allowed in half-open state.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// Breaker guards a single remote endpoint.
type Breaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              BreakerConfig
	now                 func() time.Time
}

// NewBreaker creates a closed breaker. Non-positive config fields take defaults.
func NewBreaker(config BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = def.HalfOpenMax
	}
	return &Breaker{config: config, now: time.Now}
}

// Allow returns nil if a request may proceed, or a CIRCUIT_OPEN error.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		elapsed := b.now().Sub(b.lastFailureTime)
		if elapsed >= b.config.Cooldown {
			b.state = CircuitHalfOpen
			b.halfOpenAttempts = 1 // this request counts as the first test request
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"model unavailable: %d consecutive failures, retry in %s",
			b.consecutiveFailures, (b.config.Cooldown - elapsed).Round(time.Second)).
			WithDetails(map[string]any{
				"consecutive_failures": b.consecutiveFailures,
				"state":                b.state.String(),
				"cooldown_remaining":   (b.config.Cooldown - elapsed).String(),
			})

	case CircuitHalfOpen:
		if b.halfOpenAttempts >= b.config.HalfOpenMax {
			return schema.NewError(schema.ErrCodeCircuitOpen,
				"model unavailable: recovery probe already in flight")
		}
		b.halfOpenAttempts++
		return nil
	}
	return nil
}

// RecordSuccess closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.halfOpenAttempts = 0
	b.state = CircuitClosed
}

// RecordFailure counts a failure and returns the new state.
func (b *Breaker) RecordFailure() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailureTime = b.now()

	if b.state == CircuitHalfOpen || b.consecutiveFailures >= b.config.FailureThreshold {
		b.state = CircuitOpen
	}
	return b.state
}

// ReleaseProbe hands back a half-open probe slot whose request was abandoned
// before the endpoint answered. The next Allow may probe again.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen && b.halfOpenAttempts > 0 {
		b.halfOpenAttempts--
	}
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen && b.now().Sub(b.lastFailureTime) >= b.config.Cooldown {
		b.state = CircuitHalfOpen
		b.halfOpenAttempts = 0
	}
	return b.state
}

// Guarded wraps a model with a per-request timeout and a circuit breaker.
type Guarded struct {
	inner   agent.Model
	timeout time.Duration
	breaker *Breaker
	logger  *slog.Logger
}

// NewGuarded wraps inner. timeout 0 disables the deadline; a nil breaker
// disables fail-fast.
func NewGuarded(inner agent.Model, timeout time.Duration, breaker *Breaker, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{inner: inner, timeout: timeout, breaker: breaker, logger: logger}
}

// Generate implements agent.Model.
func (g *Guarded) Generate(ctx context.Context, req agent.Request) (*agent.Reply, error) {
	if g.breaker != nil {
		if err := g.breaker.Allow(); err != nil {
			return nil, err
		}
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	reply, err := g.inner.Generate(callCtx, req)
	if err == nil {
		if g.breaker != nil {
			g.breaker.RecordSuccess()
		}
		return reply, nil
	}

	// The caller giving up says nothing about the endpoint's health.
	if ctx.Err() != nil {
		if g.breaker != nil {
			g.breaker.ReleaseProbe()
		}
		return nil, schema.NewError(schema.ErrCodeCancelled, "model request cancelled").WithCause(err)
	}

	if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
		err = schema.NewErrorf(schema.ErrCodeTimeout, "model did not answer within %s", g.timeout).WithCause(err)
	}
	if g.breaker != nil {
		if state := g.breaker.RecordFailure(); state == CircuitOpen {
			g.logger.WarnContext(ctx, "model circuit opened", slog.String("error", err.Error()))
		}
	}
	return nil, err
}
