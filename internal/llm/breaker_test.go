package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowarch/internal/agent"
	"github.com/rendis/flowarch/internal/llm/llmtest"
	"github.com/rendis/flowarch/pkg/schema"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(BreakerConfig{FailureThreshold: threshold, Cooldown: cooldown, HalfOpenMax: 1})
	b.now = clock.now
	return b, clock
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		assert.Equal(t, CircuitClosed, b.RecordFailure())
	}
	require.NoError(t, b.Allow())
	assert.Equal(t, CircuitOpen, b.RecordFailure())

	err := b.Allow()
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCircuitOpen))
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	require.Error(t, b.Allow())

	clock.advance(time.Minute)
	assert.Equal(t, CircuitHalfOpen, b.State())
	require.NoError(t, b.Allow(), "first probe allowed")
	assert.Error(t, b.Allow(), "second probe rejected")

	b.RecordSuccess()
	assert.Equal(t, CircuitClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(2, time.Second)
	b.RecordFailure()
	b.RecordFailure()

	clock.advance(2 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, CircuitOpen, b.RecordFailure())
	assert.Equal(t, "open", b.State().String())
}

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	assert.Equal(t, DefaultBreakerConfig(), b.config)
}

type slowModel struct{}

func (slowModel) Generate(ctx context.Context, _ agent.Request) (*agent.Reply, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGuarded_Timeout(t *testing.T) {
	g := NewGuarded(slowModel{}, 10*time.Millisecond, nil, nil)

	_, err := g.Generate(context.Background(), agent.Request{})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGuarded_CallerCancelDoesNotTripBreaker(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1})
	g := NewGuarded(slowModel{}, 0, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Generate(ctx, agent.Request{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeCancelled))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestGuarded_CancelledProbeFreesHalfOpenSlot(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	inner := llmtest.New(
		llmtest.Fail(errors.New("503 service unavailable")),
		llmtest.Text("abandoned"), // consumed by the cancelled request
		llmtest.Text("recovered"),
	)
	g := NewGuarded(inner, 0, b, nil)

	_, err := g.Generate(context.Background(), agent.Request{})
	require.Error(t, err)
	require.Equal(t, CircuitOpen, b.State())

	clock.advance(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx, agent.Request{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeCancelled))
	assert.Equal(t, CircuitHalfOpen, b.State())

	reply, err := g.Generate(context.Background(), agent.Request{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply.Parts[0].Text)
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, 3, inner.Calls())
}

func TestBreaker_ReleaseProbeOutsideHalfOpen(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	b.ReleaseProbe()
	assert.Equal(t, CircuitClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestGuarded_FailFastWhenOpen(t *testing.T) {
	inner := llmtest.New(
		llmtest.Fail(errors.New("boom")),
		llmtest.Fail(errors.New("boom")),
		llmtest.Text("never reached"),
	)
	g := NewGuarded(inner, 0, NewBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour}), nil)

	for i := 0; i < 2; i++ {
		_, err := g.Generate(context.Background(), agent.Request{})
		require.Error(t, err)
	}
	_, err := g.Generate(context.Background(), agent.Request{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeCircuitOpen))
	assert.Equal(t, 2, inner.Calls(), "open circuit must not reach the model")
}

func TestGuarded_PassThrough(t *testing.T) {
	inner := llmtest.New(llmtest.Text("hi"))
	g := NewGuarded(inner, time.Second, NewBreaker(BreakerConfig{}), nil)

	reply, err := g.Generate(context.Background(), agent.Request{})
	require.NoError(t, err)
	assert.Equal(t, "hi", reply.Parts[0].Text)
}
