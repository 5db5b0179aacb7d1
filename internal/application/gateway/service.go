// Package gateway implements the routing pipeline of the ingress
// gateway: parse, authenticate, rate limit, discover, admit, forward,
// plus the response caching and request metrics around it, and the
// administrative operations on the routing state.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/ecomhub/gateway/internal/domain/shared"
	"github.com/ecomhub/gateway/internal/infrastructure/auth"
	"github.com/ecomhub/gateway/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Headers injected into every forwarded request.
const (
	headerRequestID        = "X-Request-ID"
	headerServiceVersion   = "X-Service-Version"
	headerGatewayTimestamp = "X-Gateway-Timestamp"
)

// anonymousCaller identifies requests that carry no authenticated subject.
const anonymousCaller = "anonymous"

// hopByHopHeaders are connection-scoped and never forwarded downstream.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// RouterConfig contains the routing pipeline settings.
type RouterConfig struct {
	APIVersions        []string      // accepted path versions
	DefaultVersion     string        // assumed when the path omits a known version
	DefaultRateLimit   int           // hourly quota for services without a descriptor
	ResponseCacheTTL   time.Duration // successful GET cache lifetime
	MetricsWindowHours int           // default aggregation window
	HealthCheckEnabled bool          // probe downstream health before forwarding
	BlacklistTTL       time.Duration // fallback retention for revoked tokens
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		APIVersions:        []string{"v1", "v2", "v3"},
		DefaultVersion:     gateway.DefaultVersion,
		DefaultRateLimit:   gateway.DefaultRateLimitPerHour,
		ResponseCacheTTL:   5 * time.Minute,
		MetricsWindowHours: 24,
		BlacklistTTL:       24 * time.Hour,
	}
}

// Service routes inbound API calls through the admission pipeline.
type Service struct {
	registry  gateway.ServiceRegistry
	breaker   gateway.CircuitBreaker
	limiter   gateway.RateLimiter
	responses gateway.ResponseCache
	metrics   gateway.MetricsRecorder
	forwarder gateway.Forwarder
	prober    gateway.HealthProber
	tokens    *auth.JWTService
	blacklist auth.TokenBlacklist
	config    RouterConfig
	logger    *zap.Logger

	versions  map[string]struct{}
	telemetry *telemetry.GatewayMetrics
	nowFunc   func() time.Time
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithRouteMetrics attaches the OpenTelemetry gateway instruments.
func WithRouteMetrics(m *telemetry.GatewayMetrics) Option {
	return func(s *Service) {
		s.telemetry = m
	}
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// NewService creates the routing service.
func NewService(
	registry gateway.ServiceRegistry,
	breaker gateway.CircuitBreaker,
	limiter gateway.RateLimiter,
	responses gateway.ResponseCache,
	metrics gateway.MetricsRecorder,
	forwarder gateway.Forwarder,
	prober gateway.HealthProber,
	tokens *auth.JWTService,
	blacklist auth.TokenBlacklist,
	config RouterConfig,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultRouterConfig()
	if len(config.APIVersions) == 0 {
		config.APIVersions = defaults.APIVersions
	}
	if config.DefaultVersion == "" {
		config.DefaultVersion = defaults.DefaultVersion
	}
	if config.DefaultRateLimit == 0 {
		config.DefaultRateLimit = defaults.DefaultRateLimit
	}
	if config.ResponseCacheTTL <= 0 {
		config.ResponseCacheTTL = defaults.ResponseCacheTTL
	}
	if config.MetricsWindowHours <= 0 {
		config.MetricsWindowHours = defaults.MetricsWindowHours
	}
	if config.BlacklistTTL <= 0 {
		config.BlacklistTTL = defaults.BlacklistTTL
	}

	versions := make(map[string]struct{}, len(config.APIVersions))
	for _, v := range config.APIVersions {
		versions[v] = struct{}{}
	}

	s := &Service{
		registry:  registry,
		breaker:   breaker,
		limiter:   limiter,
		responses: responses,
		metrics:   metrics,
		forwarder: forwarder,
		prober:    prober,
		tokens:    tokens,
		blacklist: blacklist,
		config:    config,
		logger:    logger,
		versions:  versions,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Route runs one inbound call through the pipeline. The returned
// envelope is ready for the wire; a non-nil *gateway.Error means the
// request was rejected and nothing was forwarded.
func (s *Service) Route(ctx context.Context, req RouteRequest) (*gateway.Envelope, *gateway.Error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "gateway", "route")
	defer span.End()

	started := s.nowFunc()

	parsed, gwErr := s.parse(req)
	if gwErr != nil {
		telemetry.RecordError(span, gwErr)
		return nil, gwErr
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrService, parsed.Service,
		telemetry.SpanAttrAPIVersion, parsed.Version,
	)

	// Authentication and rate limiting read the descriptor leniently;
	// the strict lookup that turns an unknown name into
	// SERVICE_NOT_FOUND happens after them, in discovery order
	descriptor := s.lookupDescriptor(ctx, parsed.Service)

	caller, gwErr := s.authenticate(ctx, descriptor, parsed.Headers)
	if gwErr != nil {
		telemetry.RecordError(span, gwErr)
		s.observe(ctx, parsed, gwErr.Status, telemetry.OutcomeAuthRejected, started)
		return nil, gwErr
	}
	parsed.Caller = caller
	telemetry.SetAttributes(span, telemetry.SpanAttrCallerID, caller)

	if gwErr := s.rateLimit(ctx, descriptor, parsed.Service, caller); gwErr != nil {
		telemetry.RecordError(span, gwErr)
		if s.telemetry != nil {
			s.telemetry.RecordRateLimited(ctx, parsed.Service, caller)
		}
		s.observe(ctx, parsed, gwErr.Status, telemetry.OutcomeRateLimited, started)
		return nil, gwErr
	}

	// A cached GET skips discovery, admission and forwarding entirely.
	// The entry is returned verbatim so responses round-trip unchanged.
	if parsed.Method == http.MethodGet {
		if envelope, ok := s.cachedResponse(ctx, parsed); ok {
			if s.telemetry != nil {
				s.telemetry.RecordCacheLookup(ctx, parsed.Service, true)
			}
			s.recordRequestMetric(ctx, parsed, envelope.StatusCode, elapsedMs(started, s.nowFunc()))
			s.observe(ctx, parsed, envelope.StatusCode, telemetry.OutcomeCacheHit, started)
			return envelope, nil
		}
		if s.telemetry != nil {
			s.telemetry.RecordCacheLookup(ctx, parsed.Service, false)
		}
	}

	if descriptor == nil {
		gwErr := gateway.ErrServiceNotFound(parsed.Service)
		telemetry.RecordError(span, gwErr)
		s.observe(ctx, parsed, gwErr.Status, telemetry.OutcomeNotFound, started)
		return nil, gwErr
	}
	if s.config.HealthCheckEnabled && !s.prober.Healthy(ctx, descriptor) {
		gwErr := gateway.ErrServiceNotFound(parsed.Service)
		telemetry.RecordError(span, gwErr)
		s.logger.Warn("service failed health probe",
			zap.String("service", parsed.Service),
			zap.String("base_url", descriptor.BaseURL),
		)
		s.observe(ctx, parsed, gwErr.Status, telemetry.OutcomeNotFound, started)
		return nil, gwErr
	}

	if descriptor.CircuitBreakerEnabled && !s.breaker.Allow(parsed.Service) {
		gwErr := gateway.ErrServiceUnavailable(parsed.Service)
		telemetry.RecordError(span, gwErr)
		if s.telemetry != nil {
			s.telemetry.RecordBreakerRejected(ctx, parsed.Service)
		}
		s.observe(ctx, parsed, gwErr.Status, telemetry.OutcomeBreakerOpen, started)
		return nil, gwErr
	}

	forward := s.transformRequest(parsed, descriptor)
	telemetry.SetAttributes(span, telemetry.SpanAttrUpstream, descriptor.BaseURL)

	result, err := s.forwarder.Forward(ctx, descriptor, forward)
	if err != nil {
		if ctx.Err() != nil {
			// The caller is gone; neither the breaker nor the metrics
			// may charge this to the service. If this was a half-open
			// trial the breaker re-admits a fresh one after the next
			// cooldown.
			return nil, gateway.ErrUpstream(http.StatusBadGateway, "Upstream request aborted", err)
		}
		if descriptor.CircuitBreakerEnabled {
			s.breaker.RecordFailure(parsed.Service)
		}
		gwErr := gateway.ErrUpstream(http.StatusBadGateway, "Upstream request failed", err)
		telemetry.RecordError(span, gwErr)
		s.logger.Error("downstream call failed",
			zap.String("service", parsed.Service),
			zap.String("request_id", parsed.RequestID),
			zap.Error(err),
		)
		if s.telemetry != nil {
			s.telemetry.RecordUpstreamError(ctx, parsed.Service)
		}
		s.observe(ctx, parsed, gwErr.Status, telemetry.OutcomeUpstreamError, started)
		return nil, gwErr
	}
	if descriptor.CircuitBreakerEnabled {
		s.breaker.RecordSuccess(parsed.Service)
	}

	envelope := s.transformResponse(parsed, result)

	if parsed.Method == http.MethodGet && envelope.StatusCode >= 200 && envelope.StatusCode < 300 {
		if err := s.responses.Set(ctx, parsed.Service, parsed.ResourcePath, envelope, s.config.ResponseCacheTTL); err != nil {
			s.logger.Warn("failed to cache response",
				zap.String("service", parsed.Service),
				zap.Error(err),
			)
		}
	}

	s.recordRequestMetric(ctx, parsed, envelope.StatusCode, result.ResponseTimeMs)
	s.observe(ctx, parsed, envelope.StatusCode, telemetry.OutcomeSuccess, started)

	s.logger.Debug("request routed",
		zap.String("service", parsed.Service),
		zap.String("method", parsed.Method),
		zap.String("request_id", parsed.RequestID),
		zap.Int("status_code", envelope.StatusCode),
	)
	return envelope, nil
}

// lookupDescriptor fetches the descriptor, treating unknown names as
// nil. Registry errors other than not-found are logged and treated as
// unknown too; discovery turns that into SERVICE_NOT_FOUND.
func (s *Service) lookupDescriptor(ctx context.Context, name string) *gateway.ServiceDescriptor {
	descriptor, err := s.registry.Get(ctx, name)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Error("service registry lookup failed",
				zap.String("service", name),
				zap.Error(err),
			)
		}
		return nil
	}
	return descriptor
}

// authenticate resolves the caller identity. The blacklist is consulted
// before the signature verdict is honored, so a revoked token stays
// rejected even while it still validates.
func (s *Service) authenticate(ctx context.Context, descriptor *gateway.ServiceDescriptor, headers http.Header) (string, *gateway.Error) {
	if descriptor == nil || !descriptor.AuthRequired {
		return anonymousCaller, nil
	}

	authHeader := headers.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", gateway.ErrUnauthorized(gateway.ReasonMissingToken, "Missing or invalid authorization header")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	blacklisted, err := s.blacklist.Contains(ctx, token)
	if err != nil {
		// A broken blacklist store must not lock every caller out
		s.logger.Warn("token blacklist check failed", zap.Error(err))
	}
	if blacklisted {
		return "", gateway.ErrUnauthorized(gateway.ReasonTokenBlacklisted, "Token is blacklisted")
	}

	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return "", gateway.ErrUnauthorized(gateway.ReasonTokenExpired, "Token has expired")
		}
		return "", gateway.ErrUnauthorized(gateway.ReasonTokenInvalid, "Invalid token")
	}

	return claims.Caller(), nil
}

// rateLimit charges the request against the caller's hourly quota.
// Services without a descriptor are limited at the configured default.
func (s *Service) rateLimit(ctx context.Context, descriptor *gateway.ServiceDescriptor, service, caller string) *gateway.Error {
	limit := s.config.DefaultRateLimit
	if descriptor != nil {
		limit = descriptor.RateLimitPerHour
	}

	decision, err := s.limiter.Acquire(ctx, service, caller, limit)
	if err != nil {
		// Fail open: a broken counter store must not take down ingress
		s.logger.Warn("rate limit check failed",
			zap.String("service", service),
			zap.String("caller_id", caller),
			zap.Error(err),
		)
		return nil
	}
	if !decision.Allowed {
		return gateway.ErrRateLimited(decision)
	}
	return nil
}

func (s *Service) cachedResponse(ctx context.Context, parsed *parsedRequest) (*gateway.Envelope, bool) {
	envelope, ok, err := s.responses.Get(ctx, parsed.Service, parsed.ResourcePath)
	if err != nil {
		s.logger.Warn("response cache lookup failed",
			zap.String("service", parsed.Service),
			zap.Error(err),
		)
		return nil, false
	}
	return envelope, ok
}

// transformRequest builds the downstream request: inbound headers minus
// the connection-scoped ones and Authorization, plus the gateway's own.
func (s *Service) transformRequest(parsed *parsedRequest, descriptor *gateway.ServiceDescriptor) *gateway.ForwardRequest {
	headers := make(http.Header, len(parsed.Headers)+3)
	for name, values := range parsed.Headers {
		if dropHeader(name) {
			continue
		}
		for _, value := range values {
			headers.Add(name, value)
		}
	}
	headers.Set(headerRequestID, parsed.RequestID)
	headers.Set(headerServiceVersion, descriptor.Version)
	headers.Set(headerGatewayTimestamp, parsed.Timestamp.UTC().Format(time.RFC3339))

	return &gateway.ForwardRequest{
		Method:       parsed.Method,
		ResourcePath: parsed.ResourcePath,
		Query:        parsed.Query,
		Headers:      headers,
		Body:         parsed.Body,
	}
}

// dropHeader reports whether an inbound header must not reach the
// downstream service.
func dropHeader(name string) bool {
	canonical := http.CanonicalHeaderKey(name)
	if canonical == "Authorization" {
		return true
	}
	_, hop := hopByHopHeaders[canonical]
	return hop
}

// transformResponse wraps the downstream result in the gateway envelope.
func (s *Service) transformResponse(parsed *parsedRequest, result *gateway.ForwardResult) *gateway.Envelope {
	return &gateway.Envelope{
		StatusCode: result.StatusCode,
		Data:       decodeBody(result),
		Meta: &gateway.Meta{
			RequestID:      parsed.RequestID,
			Version:        parsed.Version,
			Service:        parsed.Service,
			ResponseTimeMs: result.ResponseTimeMs,
			Timestamp:      s.nowFunc().UTC().Format(time.RFC3339),
		},
	}
}

// decodeBody keeps JSON bodies structured and falls back to text for
// everything else.
func decodeBody(result *gateway.ForwardResult) any {
	if len(result.Body) == 0 {
		return nil
	}
	contentType := result.Headers.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var data any
		if err := json.Unmarshal(result.Body, &data); err == nil {
			return data
		}
	}
	return string(result.Body)
}

// recordRequestMetric appends the hour-bucket record for a served
// request. Recording failures are logged, never surfaced.
func (s *Service) recordRequestMetric(ctx context.Context, parsed *parsedRequest, statusCode int, responseTimeMs float64) {
	metric := gateway.RequestMetric{
		Timestamp:      parsed.Timestamp,
		RequestID:      parsed.RequestID,
		Service:        parsed.Service,
		Method:         parsed.Method,
		Path:           parsed.ResourcePath,
		StatusCode:     statusCode,
		ResponseTimeMs: responseTimeMs,
		CallerID:       parsed.Caller,
		Version:        parsed.Version,
	}
	if err := s.metrics.Record(ctx, metric); err != nil {
		s.logger.Warn("failed to record request metric",
			zap.String("service", parsed.Service),
			zap.String("request_id", parsed.RequestID),
			zap.Error(err),
		)
	}
}

// observe feeds the OpenTelemetry request counters when wired.
func (s *Service) observe(ctx context.Context, parsed *parsedRequest, statusCode int, outcome telemetry.RequestOutcome, started time.Time) {
	if s.telemetry == nil {
		return
	}
	s.telemetry.RecordRequest(ctx, parsed.Service, parsed.Method, statusCode, outcome, s.nowFunc().Sub(started))
}

func elapsedMs(from, to time.Time) float64 {
	return float64(to.Sub(from)) / float64(time.Millisecond)
}
