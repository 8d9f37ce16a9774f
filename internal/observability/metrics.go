package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records agent loop metrics.
type Metrics interface {
	// RecordTurn records a completed user turn: how many rounds it used and why it stopped.
	RecordTurn(ctx context.Context, rounds int, stop string)

	// RecordCapability records one capability invocation.
	RecordCapability(ctx context.Context, name string, ok bool)

	// RecordModelCall records the latency of one remote model request.
	RecordModelCall(ctx context.Context, latency time.Duration, err error)
}

type otelMetrics struct {
	rounds       metric.Int64Histogram
	capabilities metric.Int64Counter
	modelLatency metric.Float64Histogram
	modelErrors  metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("flowarch")

	rounds, err := meter.Int64Histogram("flowarch.rounds",
		metric.WithDescription("Model rounds used per user turn"),
	)
	if err != nil {
		return nil, err
	}

	capabilities, err := meter.Int64Counter("flowarch.capability.calls",
		metric.WithDescription("Number of capability invocations"),
	)
	if err != nil {
		return nil, err
	}

	modelLatency, err := meter.Float64Histogram("flowarch.model.latency_ms",
		metric.WithDescription("Remote model latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	modelErrors, err := meter.Int64Counter("flowarch.model.errors",
		metric.WithDescription("Number of failed model requests"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		rounds:       rounds,
		capabilities: capabilities,
		modelLatency: modelLatency,
		modelErrors:  modelErrors,
	}, nil
}

// NewMetrics returns a Metrics backed by the global OTel meter provider.
// If metrics initialization fails, returns a no-op recorder.
func NewMetrics() Metrics {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordTurn(ctx context.Context, rounds int, stop string) {
	m.rounds.Record(ctx, int64(rounds), metric.WithAttributes(attribute.String("stop", stop)))
}

func (m *otelMetrics) RecordCapability(ctx context.Context, name string, ok bool) {
	m.capabilities.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", name),
		attribute.Bool("ok", ok),
	))
}

func (m *otelMetrics) RecordModelCall(ctx context.Context, latency time.Duration, err error) {
	m.modelLatency.Record(ctx, float64(latency.Milliseconds()))
	if err != nil {
		m.modelErrors.Add(ctx, 1)
	}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordTurn(context.Context, int, string)             {}
func (NoopMetrics) RecordCapability(context.Context, string, bool)      {}
func (NoopMetrics) RecordModelCall(context.Context, time.Duration, error) {}
