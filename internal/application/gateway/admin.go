package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/ecomhub/gateway/internal/domain/shared"
	"github.com/ecomhub/gateway/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// RegisterService validates, defaults, and stores a descriptor.
// Re-registering a name replaces the previous descriptor.
func (s *Service) RegisterService(ctx context.Context, descriptor *gateway.ServiceDescriptor) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "gateway", "register_service")
	defer span.End()

	if descriptor == nil {
		return shared.NewDomainError("INVALID_INPUT", "Service descriptor is required")
	}
	if err := descriptor.Validate(); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	descriptor.ApplyDefaults()
	telemetry.SetAttributes(span, telemetry.SpanAttrService, descriptor.Name)

	if err := s.registry.Register(ctx, descriptor); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to register service %q: %w", descriptor.Name, err)
	}

	s.logger.Info("service registered",
		zap.String("service", descriptor.Name),
		zap.String("base_url", descriptor.BaseURL),
		zap.Bool("auth_required", descriptor.AuthRequired),
		zap.Int("rate_limit_per_hour", descriptor.RateLimitPerHour),
	)
	return nil
}

// GetService returns one registered descriptor.
func (s *Service) GetService(ctx context.Context, name string) (*gateway.ServiceDescriptor, error) {
	return s.registry.Get(ctx, name)
}

// ListServices returns all registered descriptors.
func (s *Service) ListServices(ctx context.Context) ([]*gateway.ServiceDescriptor, error) {
	return s.registry.List(ctx)
}

// DeregisterService removes a descriptor. The service's breaker and
// rate counters are left to expire on their own.
func (s *Service) DeregisterService(ctx context.Context, name string) error {
	if err := s.registry.Deregister(ctx, name); err != nil {
		return err
	}
	s.logger.Info("service deregistered", zap.String("service", name))
	return nil
}

// BreakerSnapshot reports the circuit state for one registered service.
func (s *Service) BreakerSnapshot(ctx context.Context, name string) (gateway.BreakerSnapshot, error) {
	// Every name has a breaker (closed by default); require the service
	// to exist so typos surface as not-found instead of a healthy circuit
	if _, err := s.registry.Get(ctx, name); err != nil {
		return gateway.BreakerSnapshot{}, err
	}
	return s.breaker.Snapshot(name), nil
}

// BreakerStates reports the breaker state of every registered service,
// feeding the periodic telemetry collection.
func (s *Service) BreakerStates(ctx context.Context) (map[string]string, error) {
	descriptors, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	states := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		states[d.Name] = string(s.breaker.Snapshot(d.Name).State)
	}
	return states, nil
}

// ServiceMetrics aggregates the hour-bucket records for one service
// over a trailing window.
func (s *Service) ServiceMetrics(ctx context.Context, service string, hours int) (*gateway.MetricsSummary, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "gateway", "service_metrics")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrService, service)

	if strings.TrimSpace(service) == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "Service name is required")
	}
	if hours <= 0 {
		hours = s.config.MetricsWindowHours
	}

	summary, err := s.metrics.Aggregate(ctx, service, hours)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to aggregate metrics for %q: %w", service, err)
	}
	return summary, nil
}

// BlacklistToken revokes a bearer token for its remaining lifetime.
// Tokens that no longer validate have nothing to revoke.
func (s *Service) BlacklistToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return shared.NewDomainError("INVALID_INPUT", "Token is required")
	}

	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return shared.NewDomainError("INVALID_INPUT", "Token is not valid, nothing to revoke")
	}

	ttl := claims.GetRemainingTTL()
	if ttl <= 0 {
		ttl = s.config.BlacklistTTL
	}
	if err := s.blacklist.Add(ctx, token, ttl); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	s.logger.Info("token blacklisted",
		zap.String("caller_id", claims.Caller()),
		zap.Duration("ttl", ttl),
	)
	return nil
}

// Ensure Service can feed the periodic breaker-state collection
var _ telemetry.BreakerStateProvider = (*Service)(nil)
