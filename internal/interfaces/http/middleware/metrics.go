package middleware

import (
	"time"

	"github.com/ecomhub/gateway/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetricsConfig configures the HTTP metrics middleware.
type HTTPMetricsConfig struct {
	MeterProvider *telemetry.MeterProvider
	ServiceName   string
	Enabled       bool
}

func DefaultHTTPMetricsConfig() HTTPMetricsConfig {
	return HTTPMetricsConfig{ServiceName: "gateway", Enabled: true}
}

// httpMetrics bundles the instruments covering the gateway's own HTTP
// surface. Per-service routing metrics live in the routing pipeline
// and carry the upstream service label instead.
type httpMetrics struct {
	requestTotal    *telemetry.Counter
	requestDuration *telemetry.Histogram
	requestSize     *telemetry.Histogram
	responseSize    *telemetry.Histogram
	activeRequests  metric.Int64UpDownCounter
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	m := &httpMetrics{}
	var err error

	if m.requestTotal, err = telemetry.NewCounter(meter,
		"http_server_request_total",
		"Total number of HTTP requests",
		"{request}",
	); err != nil {
		return nil, err
	}

	histograms := []struct {
		target **telemetry.Histogram
		opts   telemetry.HistogramOpts
	}{
		{&m.requestDuration, telemetry.HistogramOpts{
			Name:        "http_server_request_duration_seconds",
			Description: "HTTP request latency distribution in seconds",
			Unit:        "s",
			Boundaries:  telemetry.HTTPDurationBuckets,
		}},
		{&m.requestSize, telemetry.HistogramOpts{
			Name:        "http_server_request_size_bytes",
			Description: "HTTP request body size distribution in bytes",
			Unit:        "By",
			Boundaries:  []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
		}},
		{&m.responseSize, telemetry.HistogramOpts{
			Name:        "http_server_response_size_bytes",
			Description: "HTTP response body size distribution in bytes",
			Unit:        "By",
			Boundaries:  []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000, 1000000, 5000000},
		}},
	}
	for _, h := range histograms {
		if *h.target, err = telemetry.NewHistogram(meter, h.opts); err != nil {
			return nil, err
		}
	}

	if m.activeRequests, err = meter.Int64UpDownCounter(
		"http_server_active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func passthrough(c *gin.Context) { c.Next() }

// HTTPMetrics instruments the gateway's HTTP surface: request counts
// with method, route, status and caller labels, latency and size
// histograms, and an in-flight gauge. Disabled or failed setup falls
// back to a passthrough.
func HTTPMetrics(cfg HTTPMetricsConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.MeterProvider == nil || !cfg.MeterProvider.IsEnabled() {
		return passthrough
	}
	return HTTPMetricsWithMeter(cfg.MeterProvider.Meter("http.server"), true)
}

// HTTPMetricsWithMeter builds the middleware on an existing meter,
// which tests use to pair it with a manual reader.
func HTTPMetricsWithMeter(meter metric.Meter, enabled bool) gin.HandlerFunc {
	if !enabled {
		return passthrough
	}

	metrics, err := newHTTPMetrics(meter)
	if err != nil {
		return passthrough
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		requestSize := c.Request.ContentLength

		metrics.activeRequests.Add(ctx, 1)
		c.Next()
		metrics.activeRequests.Add(ctx, -1)

		// Labels use the route pattern, not the raw path; the proxy
		// catch-all would otherwise explode cardinality
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		method := c.Request.Method

		requestAttrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(method),
			telemetry.AttrHTTPRoute.String(route),
			telemetry.AttrHTTPStatusCode.Int(c.Writer.Status()),
		}
		if callerID := GetJWTCallerID(c); callerID != "" {
			requestAttrs = append(requestAttrs, telemetry.AttrCallerID.String(callerID))
		}
		metrics.requestTotal.Inc(ctx, requestAttrs...)

		// Histograms keep only method and route
		baseAttrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(method),
			telemetry.AttrHTTPRoute.String(route),
		}
		metrics.requestDuration.RecordDuration(ctx, time.Since(start), baseAttrs...)
		if requestSize > 0 {
			metrics.requestSize.Record(ctx, float64(requestSize), baseAttrs...)
		}
		if responseSize := c.Writer.Size(); responseSize > 0 {
			metrics.responseSize.Record(ctx, float64(responseSize), baseAttrs...)
		}
	}
}

// HTTPMetricsStatusGroup buckets a status code by class.
func HTTPMetricsStatusGroup(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "other"
	}
}
