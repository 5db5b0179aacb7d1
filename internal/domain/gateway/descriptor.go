// Package gateway holds the domain model of the ingress gateway: downstream
// service descriptors, the typed error taxonomy, the response envelope, and
// the contracts the routing pipeline depends on.
package gateway

import (
	"strings"
	"time"

	"github.com/ecomhub/gateway/internal/domain/shared"
)

// Registration defaults applied when a descriptor omits a field.
const (
	DefaultHealthEndpoint   = "/health"
	DefaultTimeout          = 30 * time.Second
	DefaultRetryCount       = 3
	DefaultRateLimitPerHour = 1000
	DefaultVersion          = "v1"

	// RateLimitUnlimited disables hourly limiting for a service.
	RateLimitUnlimited = -1
)

// ServiceDescriptor describes a downstream service known to the gateway.
// A descriptor is immutable once registered; re-registering the same name
// replaces it.
type ServiceDescriptor struct {
	Name                  string
	BaseURL               string
	HealthEndpoint        string
	Timeout               time.Duration
	RetryCount            int
	AuthRequired          bool
	CircuitBreakerEnabled bool
	RateLimitPerHour      int
	Version               string
}

// ApplyDefaults fills unset optional fields. Boolean fields cannot be
// defaulted here because false is a valid explicit choice; the DTO layer
// resolves absent booleans to true before constructing the descriptor.
func (d *ServiceDescriptor) ApplyDefaults() {
	if d.HealthEndpoint == "" {
		d.HealthEndpoint = DefaultHealthEndpoint
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.RetryCount <= 0 {
		d.RetryCount = DefaultRetryCount
	}
	if d.RateLimitPerHour == 0 {
		d.RateLimitPerHour = DefaultRateLimitPerHour
	}
	if d.Version == "" {
		d.Version = DefaultVersion
	}
}

// Validate checks the mandatory fields.
func (d *ServiceDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return shared.NewDomainError("INVALID_INPUT", "Service name is required")
	}
	if strings.TrimSpace(d.BaseURL) == "" {
		return shared.NewDomainError("INVALID_INPUT", "Service base URL is required")
	}
	return nil
}

// Unlimited reports whether the descriptor opts out of rate limiting.
func (d *ServiceDescriptor) Unlimited() bool {
	return d.RateLimitPerHour == RateLimitUnlimited
}

// NewServiceDescriptor creates a descriptor with registration defaults.
func NewServiceDescriptor(name, baseURL string) *ServiceDescriptor {
	d := &ServiceDescriptor{
		Name:                  name,
		BaseURL:               strings.TrimRight(baseURL, "/"),
		AuthRequired:          true,
		CircuitBreakerEnabled: true,
	}
	d.ApplyDefaults()
	return d
}
