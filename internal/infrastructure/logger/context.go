package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	// LoggerKey carries the request-scoped logger.
	LoggerKey contextKey = "logger"
	// RequestIDKey carries the id assigned by the RequestID middleware.
	RequestIDKey contextKey = "request_id"
	// CallerIDKey carries the authenticated caller id once auth ran.
	CallerIDKey contextKey = "caller_id"
	// ServiceKey carries the resolved downstream service name.
	ServiceKey contextKey = "service"
)

// WithContext attaches the logger to the context.
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext returns the attached logger, or a nop logger when the
// context never went through WithContext.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// stamp stores value under key and returns the context plus a logger
// carrying the same field, so log lines and context stay in sync.
func stamp(ctx context.Context, logger *zap.Logger, key contextKey, value string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, key, value)
	enriched := logger.With(zap.String(string(key), value))
	return WithContext(ctx, enriched), enriched
}

// WithRequestID records the request id on both context and logger.
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	return stamp(ctx, logger, RequestIDKey, requestID)
}

// WithCallerID records the authenticated caller on both context and logger.
func WithCallerID(ctx context.Context, logger *zap.Logger, callerID string) (context.Context, *zap.Logger) {
	return stamp(ctx, logger, CallerIDKey, callerID)
}

// WithService records the target downstream service on both context and logger.
func WithService(ctx context.Context, logger *zap.Logger, service string) (context.Context, *zap.Logger) {
	return stamp(ctx, logger, ServiceKey, service)
}

func stringValue(ctx context.Context, key contextKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// GetRequestID returns the request id, empty when unset.
func GetRequestID(ctx context.Context) string { return stringValue(ctx, RequestIDKey) }

// GetCallerID returns the authenticated caller id, empty when unset.
func GetCallerID(ctx context.Context) string { return stringValue(ctx, CallerIDKey) }

// GetService returns the target downstream service name, empty when unset.
func GetService(ctx context.Context) string { return stringValue(ctx, ServiceKey) }

// spanContext returns the active span context when it is valid.
func spanContext(ctx context.Context) (trace.SpanContext, bool) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return trace.SpanContext{}, false
	}
	sc := span.SpanContext()
	return sc, sc.IsValid()
}

// GetTraceID returns the active trace id, empty outside a recorded span.
func GetTraceID(ctx context.Context) string {
	if sc, ok := spanContext(ctx); ok {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID returns the active span id, empty outside a recorded span.
func GetSpanID(ctx context.Context) string {
	if sc, ok := spanContext(ctx); ok {
		return sc.SpanID().String()
	}
	return ""
}

// WithTraceContext adds trace_id and span_id fields from the active
// span, or returns the logger unchanged when there is none.
func WithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	sc, ok := spanContext(ctx)
	if !ok {
		return logger
	}
	return logger.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// ContextLogger logs with automatic correlation: every entry picks up
// trace_id, span_id, request_id, caller_id and service from the
// context at log time.
type ContextLogger struct {
	ctx    context.Context
	logger *zap.Logger
}

// L returns a ContextLogger over the context's attached logger.
// Usage: logger.L(ctx).Info("message", zap.String("key", "value"))
func L(ctx context.Context) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: FromContext(ctx)}
}

// WithLogger returns a ContextLogger over an explicit logger instead
// of the one attached to the context.
func WithLogger(ctx context.Context, logger *zap.Logger) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: logger}
}

func (cl *ContextLogger) enrichedLogger() *zap.Logger {
	l := cl.logger
	if l == nil {
		l = zap.NewNop()
	}
	l = WithTraceContext(cl.ctx, l)
	for _, key := range []contextKey{RequestIDKey, CallerIDKey, ServiceKey} {
		if v := stringValue(cl.ctx, key); v != "" {
			l = l.With(zap.String(string(key), v))
		}
	}
	return l
}

// With returns a child ContextLogger carrying extra fields.
func (cl *ContextLogger) With(fields ...zap.Field) *ContextLogger {
	return &ContextLogger{ctx: cl.ctx, logger: cl.logger.With(fields...)}
}

func (cl *ContextLogger) Debug(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Debug(msg, fields...)
}

func (cl *ContextLogger) Info(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Info(msg, fields...)
}

func (cl *ContextLogger) Warn(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Warn(msg, fields...)
}

func (cl *ContextLogger) Error(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Error(msg, fields...)
}

func (cl *ContextLogger) Fatal(msg string, fields ...zap.Field) {
	cl.enrichedLogger().Fatal(msg, fields...)
}

// Zap returns the enriched *zap.Logger for callers that need one.
func (cl *ContextLogger) Zap() *zap.Logger {
	return cl.enrichedLogger()
}
