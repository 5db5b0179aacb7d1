package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxRequestIDLength caps the request id copied into span attributes,
// so an oversized inbound header cannot bloat trace storage.
const MaxRequestIDLength = 128

// TracingConfig configures the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

func DefaultTracingConfig() TracingConfig {
	return TracingConfig{ServiceName: "gateway", Enabled: true}
}

// Tracing builds the tracing middleware with default configuration.
func Tracing() gin.HandlerFunc {
	return TracingWithConfig(DefaultTracingConfig())
}

// TracingWithConfig wraps otelgin, which names spans "METHOD route"
// after the route pattern, and annotates each span with the request id
// and, when auth ran first, the caller id.
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	otelMiddleware := otelgin.Middleware(cfg.ServiceName)
	return func(c *gin.Context) {
		otelMiddleware(c)

		if span := trace.SpanFromContext(c.Request.Context()); span.IsRecording() {
			annotateSpan(c, span)
		}
	}
}

func annotateSpan(c *gin.Context, span trace.Span) {
	if requestID := GetRequestID(c); requestID != "" {
		if len(requestID) > MaxRequestIDLength {
			requestID = requestID[:MaxRequestIDLength]
		}
		span.SetAttributes(attribute.String("request_id", requestID))
	}

	if callerID := GetJWTCallerID(c); callerID != "" {
		span.SetAttributes(attribute.String("caller_id", callerID))
	}
}

// statusMessage condenses an HTTP error status into the span status
// description.
func statusMessage(statusCode int) string {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return "Internal Server Error"
	case statusCode == http.StatusUnauthorized:
		return "Unauthorized"
	case statusCode == http.StatusForbidden:
		return "Forbidden"
	case statusCode == http.StatusNotFound:
		return "Not Found"
	case statusCode == http.StatusTooManyRequests:
		return "Rate Limited"
	default:
		return "Client Error"
	}
}

// SpanErrorMarker flags the active span as errored for 4xx and 5xx
// responses. Chain it after Tracing so the span already exists.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		if statusCode := c.Writer.Status(); statusCode >= http.StatusBadRequest {
			span.SetStatus(codes.Error, statusMessage(statusCode))
			span.SetAttributes(attribute.Int("http.status_code", statusCode))
		}
	}
}

// TracingAttributeInjector re-annotates the span once auth has run, so
// the caller id lands on spans even though Tracing sits earlier in the
// chain. Chain it after both Tracing and the JWT middleware.
func TracingAttributeInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		if span := trace.SpanFromContext(c.Request.Context()); span.IsRecording() {
			annotateSpan(c, span)
		}
		c.Next()
	}
}
