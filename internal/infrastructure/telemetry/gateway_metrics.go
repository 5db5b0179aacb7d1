// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// GatewayMetrics provides request-level metrics for the gateway.
// It tracks proxied requests, policy decisions (rate limiting, circuit
// breaking, caching), command/query dispatch, and orchestration outcomes.
type GatewayMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Proxy metrics
	requestTotal        *Counter   // gateway_request_total
	requestDuration     *Histogram // gateway_request_duration_seconds
	rateLimitedTotal    *Counter   // gateway_rate_limited_total
	breakerRejectsTotal *Counter   // gateway_breaker_rejected_total
	upstreamErrorTotal  *Counter   // gateway_upstream_error_total
	cacheRequestTotal   *Counter   // gateway_cache_request_total

	// CQRS metrics
	commandTotal *Counter // gateway_command_total
	queryTotal   *Counter // gateway_query_total

	// Orchestration metrics
	workflowTotal *Counter // gateway_workflow_total
	sagaTotal     *Counter // gateway_saga_total

	// Gauge metrics (point-in-time values)
	breakerState *Gauge // gateway_breaker_state

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	// Data provider for periodic collection
	breakerProvider BreakerStateProvider
}

// BreakerStateProvider provides circuit breaker state for periodic metrics
// collection. This interface lets the telemetry layer observe breaker health
// without depending on the gateway application layer directly.
type BreakerStateProvider interface {
	// BreakerStates returns the current breaker state per registered service.
	// States are "closed", "open", or "half_open".
	BreakerStates(ctx context.Context) (map[string]string, error)
}

// GatewayMetricsConfig holds configuration for gateway metrics.
type GatewayMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 15 seconds
	BreakerProvider BreakerStateProvider
}

// NewGatewayMetrics creates a new GatewayMetrics instance.
func NewGatewayMetrics(cfg GatewayMetricsConfig) (*GatewayMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gm := &GatewayMetrics{
		meter:           cfg.Meter,
		logger:          logger,
		stopChan:        make(chan struct{}),
		breakerProvider: cfg.BreakerProvider,
	}

	var err error

	gm.requestTotal, err = NewCounter(
		cfg.Meter,
		"gateway_request_total",
		"Total number of proxied requests",
		"{request}",
	)
	if err != nil {
		return nil, err
	}

	gm.requestDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "gateway_request_duration_seconds",
		Description: "Proxied request latency distribution in seconds",
		Unit:        "s",
		Boundaries:  HTTPDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	gm.rateLimitedTotal, err = NewCounter(
		cfg.Meter,
		"gateway_rate_limited_total",
		"Total number of requests rejected by rate limiting",
		"{request}",
	)
	if err != nil {
		return nil, err
	}

	gm.breakerRejectsTotal, err = NewCounter(
		cfg.Meter,
		"gateway_breaker_rejected_total",
		"Total number of requests rejected by an open circuit breaker",
		"{request}",
	)
	if err != nil {
		return nil, err
	}

	gm.upstreamErrorTotal, err = NewCounter(
		cfg.Meter,
		"gateway_upstream_error_total",
		"Total number of upstream call failures",
		"{request}",
	)
	if err != nil {
		return nil, err
	}

	gm.cacheRequestTotal, err = NewCounter(
		cfg.Meter,
		"gateway_cache_request_total",
		"Total number of cacheable requests by hit/miss outcome",
		"{request}",
	)
	if err != nil {
		return nil, err
	}

	gm.commandTotal, err = NewCounter(
		cfg.Meter,
		"gateway_command_total",
		"Total number of dispatched commands",
		"{command}",
	)
	if err != nil {
		return nil, err
	}

	gm.queryTotal, err = NewCounter(
		cfg.Meter,
		"gateway_query_total",
		"Total number of dispatched queries",
		"{query}",
	)
	if err != nil {
		return nil, err
	}

	gm.workflowTotal, err = NewCounter(
		cfg.Meter,
		"gateway_workflow_total",
		"Total number of workflow executions by final status",
		"{workflow}",
	)
	if err != nil {
		return nil, err
	}

	gm.sagaTotal, err = NewCounter(
		cfg.Meter,
		"gateway_saga_total",
		"Total number of saga executions by final status",
		"{saga}",
	)
	if err != nil {
		return nil, err
	}

	gm.breakerState, err = NewGauge(
		cfg.Meter,
		"gateway_breaker_state",
		"Current circuit breaker state per service (0=closed, 1=half_open, 2=open)",
		"{state}",
	)
	if err != nil {
		return nil, err
	}

	return gm, nil
}

// =============================================================================
// Proxy Metrics
// =============================================================================

// RequestOutcome labels the terminal result of a proxied request.
type RequestOutcome string

const (
	OutcomeSuccess       RequestOutcome = "success"
	OutcomeAuthRejected  RequestOutcome = "auth_rejected"
	OutcomeRateLimited   RequestOutcome = "rate_limited"
	OutcomeBreakerOpen   RequestOutcome = "breaker_open"
	OutcomeUpstreamError RequestOutcome = "upstream_error"
	OutcomeCacheHit      RequestOutcome = "cache_hit"
	OutcomeNotFound      RequestOutcome = "not_found"
)

// RecordRequest records a completed proxied request with its latency.
func (gm *GatewayMetrics) RecordRequest(ctx context.Context, service, method string, statusCode int, outcome RequestOutcome, duration time.Duration) {
	gm.requestTotal.Inc(ctx,
		AttrService.String(service),
		AttrHTTPMethod.String(method),
		AttrHTTPStatusCode.Int(statusCode),
		AttrOutcome.String(string(outcome)),
	)
	gm.requestDuration.RecordDuration(ctx, duration,
		AttrService.String(service),
		AttrHTTPMethod.String(method),
	)
}

// RecordRateLimited records a request rejected by the rate limiter.
func (gm *GatewayMetrics) RecordRateLimited(ctx context.Context, service, callerID string) {
	gm.rateLimitedTotal.Inc(ctx,
		AttrService.String(service),
		AttrCallerID.String(callerID),
	)
}

// RecordBreakerRejected records a request rejected by an open breaker.
func (gm *GatewayMetrics) RecordBreakerRejected(ctx context.Context, service string) {
	gm.breakerRejectsTotal.Inc(ctx, AttrService.String(service))
}

// RecordUpstreamError records an upstream call failure.
func (gm *GatewayMetrics) RecordUpstreamError(ctx context.Context, service string) {
	gm.upstreamErrorTotal.Inc(ctx, AttrService.String(service))
}

// RecordCacheLookup records a response cache lookup outcome for a GET request.
func (gm *GatewayMetrics) RecordCacheLookup(ctx context.Context, service string, hit bool) {
	gm.cacheRequestTotal.Inc(ctx,
		AttrService.String(service),
		AttrCacheHit.Bool(hit),
	)
}

// =============================================================================
// CQRS Metrics
// =============================================================================

// DispatchOutcome labels the result of a command or query dispatch.
type DispatchOutcome string

const (
	DispatchSuccess DispatchOutcome = "success"
	DispatchFailed  DispatchOutcome = "failed"
)

// RecordCommand records a command dispatch.
func (gm *GatewayMetrics) RecordCommand(ctx context.Context, commandType string, outcome DispatchOutcome) {
	gm.commandTotal.Inc(ctx,
		AttrCommandType.String(commandType),
		AttrOutcome.String(string(outcome)),
	)
}

// RecordQuery records a query dispatch with its cache outcome.
func (gm *GatewayMetrics) RecordQuery(ctx context.Context, queryType string, cacheHit bool) {
	gm.queryTotal.Inc(ctx,
		AttrQueryType.String(queryType),
		AttrCacheHit.Bool(cacheHit),
	)
}

// =============================================================================
// Orchestration Metrics
// =============================================================================

// RecordWorkflow records a workflow reaching a terminal status.
func (gm *GatewayMetrics) RecordWorkflow(ctx context.Context, status string) {
	gm.workflowTotal.Inc(ctx, AttrWorkflowStatus.String(status))
}

// RecordSaga records a saga reaching a terminal status.
func (gm *GatewayMetrics) RecordSaga(ctx context.Context, sagaType, status string) {
	gm.sagaTotal.Inc(ctx,
		AttrSagaType.String(sagaType),
		AttrSagaStatus.String(status),
	)
}

// =============================================================================
// Periodic Collection
// =============================================================================

// breakerStateValue maps a breaker state name to its gauge value.
func breakerStateValue(state string) int64 {
	switch state {
	case "open":
		return 2
	case "half_open":
		return 1
	default:
		return 0
	}
}

// SetBreakerProvider attaches the breaker state source. The routing
// service both consumes this meter and provides breaker states, so the
// provider arrives after construction. Must be called before
// StartPeriodicCollection.
func (gm *GatewayMetrics) SetBreakerProvider(provider BreakerStateProvider) {
	gm.breakerProvider = provider
}

// StartPeriodicCollection starts periodic collection of breaker state gauges.
// This is non-blocking - use Stop() to stop collection.
func (gm *GatewayMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	gm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 15 * time.Second
		}

		go gm.runPeriodicCollection(ctx, interval)
	})
}

// runPeriodicCollection runs the periodic collection loop.
func (gm *GatewayMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	gm.collectBreakerStates(ctx)

	for {
		select {
		case <-gm.stopChan:
			gm.logger.Info("Stopping periodic gateway metrics collection")
			return
		case <-ctx.Done():
			gm.logger.Info("Context cancelled, stopping periodic gateway metrics collection")
			return
		case <-ticker.C:
			gm.collectBreakerStates(ctx)
		}
	}
}

// collectBreakerStates records the current breaker state for every service.
func (gm *GatewayMetrics) collectBreakerStates(ctx context.Context) {
	if gm.breakerProvider == nil {
		gm.logger.Debug("No breaker provider configured, skipping breaker state collection")
		return
	}

	states, err := gm.breakerProvider.BreakerStates(ctx)
	if err != nil {
		gm.logger.Error("Failed to get breaker states for metrics collection", zap.Error(err))
		return
	}

	for service, state := range states {
		gm.breakerState.Record(ctx, breakerStateValue(state),
			AttrService.String(service),
			AttrBreakerState.String(state),
		)
	}
}

// Stop stops the periodic collection.
func (gm *GatewayMetrics) Stop() {
	gm.stopOnce.Do(func() {
		close(gm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewGatewayMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
