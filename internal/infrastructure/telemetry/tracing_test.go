package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ecomhub/gateway/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordSpans swaps the global provider for an in-memory recorder for
// the duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[string]interface{} {
	m := make(map[string]interface{})
	for _, attr := range s.Attributes() {
		m[string(attr.Key)] = attr.Value.AsInterface()
	}
	return m
}

func TestStartSpan(t *testing.T) {
	sr := recordSpans(t)

	_, span := telemetry.StartSpan(context.Background(), "pipeline.route")
	require.NotNil(t, span)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline.route", spans[0].Name())
	assert.Equal(t, trace.SpanKindInternal, spans[0].SpanKind())
}

func TestStartSpan_Options(t *testing.T) {
	sr := recordSpans(t)

	_, span := telemetry.StartSpan(context.Background(), "upstream.forward",
		telemetry.WithAttribute(telemetry.SpanAttrService, "orders"),
		telemetry.WithSpanKind(trace.SpanKindClient),
	)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	assert.Equal(t, "orders", spanAttrs(spans[0])["service"])
}

func TestStartServiceSpan_Naming(t *testing.T) {
	sr := recordSpans(t)

	_, span := telemetry.StartServiceSpan(context.Background(), "command_bus", "dispatch")
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "command_bus.dispatch", spans[0].Name())
}

func TestSetAttributes_TypeConversion(t *testing.T) {
	sr := recordSpans(t)

	_, span := telemetry.StartSpan(context.Background(), "op")
	telemetry.SetAttributes(span,
		"string", "value",
		"int", 42,
		"int64", int64(100),
		"float64", 3.14,
		"bool", true,
		"string_slice", []string{"a", "b"},
		"int_slice", []int{1, 2, 3},
		"int64_slice", []int64{10, 20},
		"float64_slice", []float64{1.1, 2.2},
		"bool_slice", []bool{true, false},
	)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)

	attrs := spanAttrs(spans[0])
	assert.GreaterOrEqual(t, len(attrs), 10)
	assert.Equal(t, "value", attrs["string"])
	assert.Equal(t, int64(42), attrs["int"])
	assert.Equal(t, true, attrs["bool"])
}

func TestSetAttributes_MalformedPairs(t *testing.T) {
	sr := recordSpans(t)

	_, span := telemetry.StartSpan(context.Background(), "op")
	// Trailing key without a value and a non-string key are dropped
	telemetry.SetAttributes(span,
		"key1", "value1",
		123, "not-a-string-key",
		"orphan",
	)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Len(t, spans[0].Attributes(), 1)
}

func TestSetAttribute_Stringer(t *testing.T) {
	sr := recordSpans(t)

	workflowID := uuid.New()
	_, span := telemetry.StartSpan(context.Background(), "op")
	telemetry.SetAttribute(span, telemetry.SpanAttrWorkflowID, workflowID)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, workflowID.String(), spanAttrs(spans[0])["workflow_id"])
}

func TestRecordError(t *testing.T) {
	sr := recordSpans(t)

	_, span := telemetry.StartSpan(context.Background(), "op")
	telemetry.RecordError(span, errors.New("upstream timed out"))
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "upstream timed out", spans[0].Status().Description)

	events := spans[0].Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "exception", events[0].Name)
}

func TestRecordError_NilErrorKeepsStatus(t *testing.T) {
	sr := recordSpans(t)

	_, span := telemetry.StartSpan(context.Background(), "op")
	telemetry.RecordError(span, nil)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
}

func TestSetOK(t *testing.T) {
	sr := recordSpans(t)

	_, span := telemetry.StartSpan(context.Background(), "op")
	telemetry.SetOK(span)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestAddEvent(t *testing.T) {
	sr := recordSpans(t)

	_, span := telemetry.StartSpan(context.Background(), "op")
	telemetry.AddEvent(span, "step_completed",
		"step_name", "reserve_inventory",
		"step_index", 2,
	)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)

	events := spans[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "step_completed", events[0].Name)

	attrs := make(map[string]interface{})
	for _, attr := range events[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}
	assert.Equal(t, "reserve_inventory", attrs["step_name"])
	assert.Equal(t, int64(2), attrs["step_index"])
}

func TestNilSpanHelpersDoNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		telemetry.RecordError(nil, errors.New("dropped"))
		telemetry.SetAttributes(nil, "key", "value")
		telemetry.SetAttribute(nil, "key", "value")
		telemetry.SetOK(nil)
		telemetry.AddEvent(nil, "event", "key", "value")
	})
}

func TestSpanContextHelpers(t *testing.T) {
	recordSpans(t)
	ctx := context.Background()

	// Without a span the id helpers return empty strings
	assert.Empty(t, telemetry.GetTraceID(ctx))
	assert.Empty(t, telemetry.GetSpanID(ctx))

	ctx, span := telemetry.StartSpan(ctx, "op")
	defer span.End()

	assert.Len(t, telemetry.GetTraceID(ctx), 32)
	assert.Len(t, telemetry.GetSpanID(ctx), 16)

	assert.Equal(t, span.SpanContext().SpanID(),
		telemetry.SpanFromContext(ctx).SpanContext().SpanID())

	fresh := telemetry.ContextWithSpan(context.Background(), span)
	assert.Equal(t, span.SpanContext().SpanID(),
		telemetry.SpanFromContext(fresh).SpanContext().SpanID())
}

func TestNestedSpans_ShareTrace(t *testing.T) {
	sr := recordSpans(t)

	ctx, parent := telemetry.StartSpan(context.Background(), "saga.run")
	_, child := telemetry.StartSpan(ctx, "saga.step")
	child.End()
	parent.End()

	spans := sr.Ended()
	require.Len(t, spans, 2)

	byName := make(map[string]sdktrace.ReadOnlySpan)
	for _, s := range spans {
		byName[s.Name()] = s
	}
	parentSpan := byName["saga.run"]
	childSpan := byName["saga.step"]
	require.NotNil(t, parentSpan)
	require.NotNil(t, childSpan)

	assert.Equal(t, parentSpan.SpanContext().TraceID(), childSpan.SpanContext().TraceID())
	assert.Equal(t, parentSpan.SpanContext().SpanID(), childSpan.Parent().SpanID())
}
