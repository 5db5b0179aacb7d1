package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the application tracer all helper spans come from.
const TracerName = "gateway"

// Span attribute keys used on application traces. Metric attribute
// keys live in metrics.go as attribute.Key values; these are the
// string forms for spans.
const (
	SpanAttrService    = "service"
	SpanAttrCallerID   = "caller_id"
	SpanAttrAPIVersion = "api_version"
	SpanAttrUpstream   = "upstream_url"

	SpanAttrCommandType = "command_type"
	SpanAttrQueryType   = "query_type"
	SpanAttrAggregateID = "aggregate_id"
	SpanAttrEventType   = "event_type"

	SpanAttrWorkflowID = "workflow_id"
	SpanAttrSagaID     = "saga_id"
	SpanAttrSagaType   = "saga_type"
	SpanAttrStepIndex  = "step_index"
	SpanAttrStepName   = "step_name"
)

type spanOptions struct {
	attributes []attribute.KeyValue
	kind       trace.SpanKind
}

// SpanOption configures StartSpan.
type SpanOption func(*spanOptions)

// WithAttribute attaches one attribute at span start.
func WithAttribute(key string, value interface{}) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, toAttribute(key, value))
	}
}

// WithSpanKind overrides the default internal span kind.
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(opts *spanOptions) {
		opts.kind = kind
	}
}

// StartSpan opens a span on the global tracer. The caller owns the
// returned span and must End it.
//
//	ctx, span := telemetry.StartSpan(ctx, "workflow.start")
//	defer span.End()
func StartSpan(ctx context.Context, spanName string, opts ...SpanOption) (context.Context, trace.Span) {
	options := &spanOptions{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(options)
	}

	startOpts := []trace.SpanStartOption{trace.WithSpanKind(options.kind)}
	if len(options.attributes) > 0 {
		startOpts = append(startOpts, trace.WithAttributes(options.attributes...))
	}
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, spanName, startOpts...)
}

// StartServiceSpan opens a span named {service}.{method}, e.g.
// "command_bus.dispatch".
func StartServiceSpan(ctx context.Context, service, method string, opts ...SpanOption) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, method), opts...)
}

// pairsToAttributes converts alternating key/value arguments. Pairs
// whose key is not a string are dropped.
func pairsToAttributes(keyValues []interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, toAttribute(key, keyValues[i+1]))
	}
	return attrs
}

// SetAttributes sets attributes on a span from alternating key/value
// pairs.
//
//	telemetry.SetAttributes(span,
//	    "workflow_id", workflowID,
//	    "step_count", len(steps),
//	)
func SetAttributes(span trace.Span, keyValues ...interface{}) {
	if span == nil {
		return
	}
	span.SetAttributes(pairsToAttributes(keyValues)...)
}

// SetAttribute sets a single attribute on the span.
func SetAttribute(span trace.Span, key string, value interface{}) {
	if span == nil {
		return
	}
	span.SetAttributes(toAttribute(key, value))
}

// RecordError records the error on the span and flips its status to
// error. Nil span or nil error is a no-op.
func RecordError(span trace.Span, err error, opts ...trace.EventOption) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span status Ok. Spans without an error status
// already count as successful, so this is rarely needed.
func SetOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// AddEvent attaches a timestamped event with alternating key/value
// attributes.
//
//	telemetry.AddEvent(span, "breaker_opened",
//	    "service", serviceName,
//	    "failure_count", failures,
//	)
func AddEvent(span trace.Span, name string, keyValues ...interface{}) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(pairsToAttributes(keyValues)...))
}

// SpanFromContext returns the span carried by the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// ContextWithSpan stores the span on the context.
func ContextWithSpan(ctx context.Context, span trace.Span) context.Context {
	return trace.ContextWithSpan(ctx, span)
}

// GetTraceID returns the current trace id, empty when there is no
// valid span.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	if id := span.SpanContext().TraceID(); id.IsValid() {
		return id.String()
	}
	return ""
}

// GetSpanID returns the current span id, empty when there is no valid
// span.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	if id := span.SpanContext().SpanID(); id.IsValid() {
		return id.String()
	}
	return ""
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	k := attribute.Key(key)
	switch v := value.(type) {
	case string:
		return k.String(v)
	case int:
		return k.Int(v)
	case int64:
		return k.Int64(v)
	case float64:
		return k.Float64(v)
	case bool:
		return k.Bool(v)
	case []string:
		return k.StringSlice(v)
	case []int:
		return k.IntSlice(v)
	case []int64:
		return k.Int64Slice(v)
	case []float64:
		return k.Float64Slice(v)
	case []bool:
		return k.BoolSlice(v)
	case fmt.Stringer:
		return k.String(v.String())
	default:
		return k.String(fmt.Sprint(v))
	}
}
