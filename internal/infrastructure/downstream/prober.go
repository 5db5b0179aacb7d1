package downstream

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
)

// healthProbeTimeout bounds a single probe regardless of the
// descriptor's forwarding timeout
const healthProbeTimeout = 5 * time.Second

// HTTPHealthProber implements gateway.HealthProber with a GET against
// the descriptor's health endpoint. Only a 200 counts as healthy; any
// error or other status does not.
type HTTPHealthProber struct {
	client *http.Client
}

// NewHTTPHealthProber creates a new health prober
func NewHTTPHealthProber() *HTTPHealthProber {
	return &HTTPHealthProber{
		client: &http.Client{Timeout: healthProbeTimeout},
	}
}

// Healthy probes the service's health endpoint
func (p *HTTPHealthProber) Healthy(ctx context.Context, descriptor *gateway.ServiceDescriptor) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptor.BaseURL+descriptor.HealthEndpoint, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode == http.StatusOK
}

// Ensure HTTPHealthProber implements HealthProber
var _ gateway.HealthProber = (*HTTPHealthProber)(nil)
