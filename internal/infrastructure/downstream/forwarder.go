// Package downstream performs the actual HTTP calls to registered
// services: proxying inbound requests and invoking orchestration
// actions. Timeouts are applied per call from the descriptor or step,
// never on the shared client.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"go.uber.org/zap"
)

// maxResponseSize is the maximum allowed downstream response size (10MB)
const maxResponseSize = 10 * 1024 * 1024

// HTTPForwarder implements gateway.Forwarder over a shared net/http
// client. Downstream HTTP error statuses are returned as results, not
// errors; errors mean the call itself failed.
type HTTPForwarder struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPForwarder creates a new HTTP forwarder
func NewHTTPForwarder(logger *zap.Logger) *HTTPForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPForwarder{
		client: &http.Client{},
		logger: logger,
	}
}

// Forward proxies an inbound request to the descriptor's base URL with
// the descriptor timeout applied
func (f *HTTPForwarder) Forward(ctx context.Context, descriptor *gateway.ServiceDescriptor, req *gateway.ForwardRequest) (*gateway.ForwardResult, error) {
	target := descriptor.BaseURL + "/" + req.ResourcePath
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	if descriptor.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, descriptor.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build downstream request: %w", err)
	}
	for name, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("downstream call to %s failed: %w", descriptor.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", descriptor.Name, err)
	}

	return &gateway.ForwardResult{
		StatusCode:     resp.StatusCode,
		Headers:        resp.Header,
		Body:           raw,
		ResponseTimeMs: time.Since(start).Seconds() * 1000,
	}, nil
}

// Invoke posts an orchestration action payload to the service and
// decodes the JSON response. Non-2xx statuses are errors here: an
// orchestration step either succeeded or it did not.
func (f *HTTPForwarder) Invoke(ctx context.Context, descriptor *gateway.ServiceDescriptor, action string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action payload: %w", err)
	}

	if timeout <= 0 {
		timeout = descriptor.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target := descriptor.BaseURL + "/" + action
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to build action request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("action %s on %s failed: %w", action, descriptor.Name, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", descriptor.Name, err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("action %s on %s returned HTTP %d", action, descriptor.Name, resp.StatusCode)
	}

	result := map[string]any{}
	if len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, &result); err != nil {
			return nil, fmt.Errorf("failed to decode response from %s: %w", descriptor.Name, err)
		}
	}
	return result, nil
}

// Ensure HTTPForwarder implements Forwarder
var _ gateway.Forwarder = (*HTTPForwarder)(nil)
