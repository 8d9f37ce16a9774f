package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("flowarch")

	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		tracer = otel.Tracer("flowarch")
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestTurnRoundCapabilitySpansNest(t *testing.T) {
	exporter := setupTracingTest(t)

	ctx, turn := StartTurnSpan(context.Background(), "sess-1", "turn-1")
	rctx, round := StartRoundSpan(ctx, 1)
	_, capSpan := StartCapabilitySpan(rctx, "addNode")
	EndSpanWithError(capSpan, nil)
	EndSpanWithError(round, nil)
	EndSpanWithError(turn, errors.New("model down"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	require.Contains(t, byName, "flowarch.capability.addNode")
	require.Contains(t, byName, "flowarch.round")
	require.Contains(t, byName, "flowarch.turn")

	assert.Equal(t, byName["flowarch.round"].SpanContext.SpanID(), byName["flowarch.capability.addNode"].Parent.SpanID())
	assert.Equal(t, byName["flowarch.turn"].SpanContext.SpanID(), byName["flowarch.round"].Parent.SpanID())
	assert.Equal(t, codes.Error, byName["flowarch.turn"].Status.Code)
	assert.Equal(t, codes.Ok, byName["flowarch.round"].Status.Code)
}

func TestEndSpanWithError_NilSpan(t *testing.T) {
	assert.NotPanics(t, func() { EndSpanWithError(nil, errors.New("x")) })
}

func TestMetricsRecorded(t *testing.T) {
	reader := setupMetricsTest(t)

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordTurn(ctx, 3, "completed")
	m.RecordCapability(ctx, "addNode", true)
	m.RecordCapability(ctx, "explode", false)
	m.RecordModelCall(ctx, 120*time.Millisecond, errors.New("timeout"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	calls := findMetric(&rm, "flowarch.capability.calls")
	require.NotNil(t, calls)
	sum, ok := calls.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)

	assert.NotNil(t, findMetric(&rm, "flowarch.rounds"))
	assert.NotNil(t, findMetric(&rm, "flowarch.model.latency_ms"))
	assert.NotNil(t, findMetric(&rm, "flowarch.model.errors"))
}

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNoopMetrics(t *testing.T) {
	var m Metrics = NoopMetrics{}
	assert.NotPanics(t, func() {
		m.RecordTurn(context.Background(), 1, "completed")
		m.RecordCapability(context.Background(), "x", true)
		m.RecordModelCall(context.Background(), time.Second, nil)
	})
}
