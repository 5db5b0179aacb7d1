package handler

import (
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
)

// ServiceResponse represents a registered service in API responses
type ServiceResponse struct {
	Name                  string `json:"name"`
	BaseURL               string `json:"baseUrl"`
	HealthEndpoint        string `json:"healthEndpoint"`
	TimeoutMs             int    `json:"timeoutMs"`
	RetryCount            int    `json:"retryCount"`
	AuthRequired          bool   `json:"authRequired"`
	CircuitBreakerEnabled bool   `json:"circuitBreakerEnabled"`
	RateLimitPerHour      int    `json:"rateLimitPerHour"`
	Version               string `json:"version"`
}

func toServiceResponse(d *gateway.ServiceDescriptor) ServiceResponse {
	return ServiceResponse{
		Name:                  d.Name,
		BaseURL:               d.BaseURL,
		HealthEndpoint:        d.HealthEndpoint,
		TimeoutMs:             int(d.Timeout / time.Millisecond),
		RetryCount:            d.RetryCount,
		AuthRequired:          d.AuthRequired,
		CircuitBreakerEnabled: d.CircuitBreakerEnabled,
		RateLimitPerHour:      d.RateLimitPerHour,
		Version:               d.Version,
	}
}

func toServiceResponses(descriptors []*gateway.ServiceDescriptor) []ServiceResponse {
	responses := make([]ServiceResponse, 0, len(descriptors))
	for _, d := range descriptors {
		responses = append(responses, toServiceResponse(d))
	}
	return responses
}
