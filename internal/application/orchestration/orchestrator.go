// Package orchestration runs multi-step workflows and sagas across
// registered downstream services. Instances execute asynchronously on
// the shared worker pool; steps within one instance run strictly in
// order and every transition is persisted, so admin reads always see
// the latest observed progress.
package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
)

// OrchestratorConfig holds settings shared by the workflow and saga
// orchestrators.
type OrchestratorConfig struct {
	// DefaultStepTimeout bounds a step that does not set timeoutMs.
	DefaultStepTimeout time.Duration
}

// DefaultOrchestratorConfig returns the default orchestrator settings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		DefaultStepTimeout: 30 * time.Second,
	}
}

// stepRunner executes one orchestration action against a registered
// service, honoring that service's circuit breaker. Rollbacks and
// compensating actions go through the same path as forward steps.
type stepRunner struct {
	registry  gateway.ServiceRegistry
	breaker   gateway.CircuitBreaker
	forwarder gateway.Forwarder
}

func (r *stepRunner) invoke(ctx context.Context, service, action string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	descriptor, err := r.registry.Get(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("service %q is not registered: %w", service, err)
	}

	gated := descriptor.CircuitBreakerEnabled
	if gated && !r.breaker.Allow(service) {
		return nil, fmt.Errorf("circuit breaker open for service %q", service)
	}

	output, err := r.forwarder.Invoke(ctx, descriptor, action, payload, timeout)
	if err != nil {
		if gated {
			r.breaker.RecordFailure(service)
		}
		return nil, err
	}
	if gated {
		r.breaker.RecordSuccess(service)
	}
	return output, nil
}
