package gateway

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// BreakerState is the circuit breaker FSM state for one service.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSnapshot is a point-in-time view of one service's breaker.
type BreakerSnapshot struct {
	Service             string       `json:"service"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	OpenedAt            time.Time    `json:"openedAt,omitzero"`
	RetryAt             time.Time    `json:"retryAt,omitzero"`
}

// CircuitBreaker gates admission to downstream services. State is tracked
// per service name with no cross-service sharing.
type CircuitBreaker interface {
	Allow(service string) bool
	RecordSuccess(service string)
	RecordFailure(service string)
	Snapshot(service string) BreakerSnapshot
}

// RateLimiter enforces the per-(service, caller) hourly quota. A limit of
// RateLimitUnlimited always allows.
type RateLimiter interface {
	Acquire(ctx context.Context, service, caller string, limit int) (RateLimitDecision, error)
}

// ServiceRegistry stores service descriptors. Get returns
// shared.ErrNotFound when the name is unknown.
type ServiceRegistry interface {
	Register(ctx context.Context, descriptor *ServiceDescriptor) error
	Get(ctx context.Context, name string) (*ServiceDescriptor, error)
	List(ctx context.Context) ([]*ServiceDescriptor, error)
	Deregister(ctx context.Context, name string) error
}

// ResponseCache stores successful GET envelopes keyed by service and
// resource path.
type ResponseCache interface {
	Get(ctx context.Context, service, resourcePath string) (*Envelope, bool, error)
	Set(ctx context.Context, service, resourcePath string, envelope *Envelope, ttl time.Duration) error
}

// RequestMetric is one routed request, recorded after the response is
// assembled.
type RequestMetric struct {
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"requestId"`
	Service        string    `json:"service"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	StatusCode     int       `json:"statusCode"`
	ResponseTimeMs float64   `json:"responseTimeMs"`
	CallerID       string    `json:"callerId"`
	Version        string    `json:"version"`
}

// EndpointCount is one entry of a top-endpoints ranking.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int    `json:"count"`
}

// MetricsSummary aggregates recorded metrics for one service over a
// trailing window of hour buckets.
type MetricsSummary struct {
	Service           string          `json:"service"`
	WindowHours       int             `json:"windowHours"`
	TotalRequests     int             `json:"totalRequests"`
	AvgResponseTimeMs float64         `json:"avgResponseTimeMs"`
	ErrorRate         float64         `json:"errorRate"`
	TopEndpoints      []EndpointCount `json:"topEndpoints"`
	StatusCodes       map[string]int  `json:"statusCodes"`
}

// MetricsRecorder persists per-request metrics into hour buckets and
// aggregates them on demand.
type MetricsRecorder interface {
	Record(ctx context.Context, metric RequestMetric) error
	Aggregate(ctx context.Context, service string, hours int) (*MetricsSummary, error)
}

// ForwardRequest is the downstream-bound shape of an inbound proxy call.
type ForwardRequest struct {
	Method       string
	ResourcePath string
	Query        url.Values
	Headers      http.Header
	Body         []byte
}

// ForwardResult is the raw downstream response.
type ForwardResult struct {
	StatusCode     int
	Headers        http.Header
	Body           []byte
	ResponseTimeMs float64
}

// Forwarder performs the actual downstream calls: Forward proxies an
// inbound request, Invoke posts an orchestration action payload.
type Forwarder interface {
	Forward(ctx context.Context, descriptor *ServiceDescriptor, req *ForwardRequest) (*ForwardResult, error)
	Invoke(ctx context.Context, descriptor *ServiceDescriptor, action string, payload map[string]any, timeout time.Duration) (map[string]any, error)
}

// HealthProber checks a descriptor's health endpoint.
type HealthProber interface {
	Healthy(ctx context.Context, descriptor *ServiceDescriptor) bool
}
