package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/rendis/flowarch/internal/agent"
	"github.com/rendis/flowarch/pkg/schema"
)

// Backoff strategies.
const (
	BackoffNone        = "none"
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy bounds how often a failed model request is repeated.
type RetryPolicy struct {
	// Attempts is the total number of requests, including the first.
	Attempts int
	Delay    time.Duration
	Backoff  string
	MaxDelay time.Duration
}

// DefaultRetryPolicy retries once after a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, Delay: time.Second, Backoff: BackoffExponential, MaxDelay: 10 * time.Second}
}

// Retrying repeats transient model failures according to a RetryPolicy.
type Retrying struct {
	inner  agent.Model
	policy RetryPolicy
	logger *slog.Logger
	wait   func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps inner. Attempts below 1 are treated as 1.
func NewRetrying(inner agent.Model, policy RetryPolicy, logger *slog.Logger) *Retrying {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{inner: inner, policy: policy, logger: logger, wait: waitForBackoff}
}

// Generate implements agent.Model.
func (r *Retrying) Generate(ctx context.Context, req agent.Request) (*agent.Reply, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(r.policy, attempt-1)
			r.logger.WarnContext(ctx, "retrying model request",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			if err := r.wait(ctx, delay); err != nil {
				return nil, schema.NewError(schema.ErrCodeCancelled, "model request cancelled").WithCause(err)
			}
		}
		reply, err := r.inner.Generate(ctx, req)
		if err == nil {
			return reply, nil
		}
		if !IsRetryableError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// IsRetryableError classifies whether a model failure is worth repeating.
// Timeouts and network errors are; cancellation, an open circuit and
// request-shape errors are not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		switch flowErr.Code {
		case schema.ErrCodeTimeout:
			return true
		case schema.ErrCodeCircuitOpen, schema.ErrCodeCancelled, schema.ErrCodeValidation:
			return false
		}
		if flowErr.Cause != nil {
			return IsRetryableError(flowErr.Cause)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
		"resource exhausted",
		"503",
		"429",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ComputeBackoff returns the delay before retry number attempt (zero based),
// capped at MaxDelay.
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case BackoffExponential:
		delay = policy.Delay << attempt
	case BackoffLinear:
		delay = policy.Delay * time.Duration(attempt+1)
	default:
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && (delay > policy.MaxDelay || delay <= 0) {
		delay = policy.MaxDelay
	}
	return delay
}

func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
