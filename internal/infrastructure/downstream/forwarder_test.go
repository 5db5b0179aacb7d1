package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func descriptorFor(baseURL string) *gateway.ServiceDescriptor {
	d := gateway.NewServiceDescriptor("orders", baseURL)
	d.Timeout = 2 * time.Second
	return d
}

func TestHTTPForwarder_Forward(t *testing.T) {
	var received *http.Request
	var receivedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Clone(context.Background())
		receivedBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer server.Close()

	forwarder := NewHTTPForwarder(zap.NewNop())

	req := &gateway.ForwardRequest{
		Method:       http.MethodPost,
		ResourcePath: "orders/42/items",
		Query:        url.Values{"expand": []string{"true"}},
		Headers: http.Header{
			"X-Request-Id":        []string{"req-1"},
			"X-Service-Version":   []string{"v1"},
			"X-Gateway-Timestamp": []string{"2025-06-01T12:00:00Z"},
		},
		Body: []byte(`{"sku":"widget"}`),
	}

	result, err := forwarder.Forward(context.Background(), descriptorFor(server.URL), req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, []byte(`{"id":"42"}`), result.Body)
	assert.Equal(t, "application/json", result.Headers.Get("Content-Type"))
	assert.Greater(t, result.ResponseTimeMs, 0.0)

	require.NotNil(t, received)
	assert.Equal(t, http.MethodPost, received.Method)
	assert.Equal(t, "/orders/42/items", received.URL.Path)
	assert.Equal(t, "true", received.URL.Query().Get("expand"))
	assert.Equal(t, "req-1", received.Header.Get("X-Request-Id"))
	assert.Equal(t, "v1", received.Header.Get("X-Service-Version"))
	assert.Equal(t, []byte(`{"sku":"widget"}`), receivedBody)
}

func TestHTTPForwarder_Forward_DownstreamErrorStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	forwarder := NewHTTPForwarder(zap.NewNop())

	result, err := forwarder.Forward(context.Background(), descriptorFor(server.URL), &gateway.ForwardRequest{
		Method:       http.MethodGet,
		ResourcePath: "orders",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
}

func TestHTTPForwarder_Forward_DescriptorTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	forwarder := NewHTTPForwarder(zap.NewNop())
	descriptor := descriptorFor(server.URL)
	descriptor.Timeout = 20 * time.Millisecond

	_, err := forwarder.Forward(context.Background(), descriptor, &gateway.ForwardRequest{
		Method:       http.MethodGet,
		ResourcePath: "orders",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTPForwarder_Forward_UnreachableService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // no listener anymore

	forwarder := NewHTTPForwarder(zap.NewNop())

	_, err := forwarder.Forward(context.Background(), descriptorFor(server.URL), &gateway.ForwardRequest{
		Method:       http.MethodGet,
		ResourcePath: "orders",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "downstream call to orders failed")
}

func TestHTTPForwarder_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reserve_inventory", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "order-1", payload["orderId"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"reservationId":"res-9"}`))
	}))
	defer server.Close()

	forwarder := NewHTTPForwarder(zap.NewNop())

	result, err := forwarder.Invoke(context.Background(), descriptorFor(server.URL), "reserve_inventory",
		map[string]any{"orderId": "order-1"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "res-9", result["reservationId"])
}

func TestHTTPForwarder_Invoke_NilPayloadSendsEmptyObject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{}`, string(body))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	forwarder := NewHTTPForwarder(zap.NewNop())

	_, err := forwarder.Invoke(context.Background(), descriptorFor(server.URL), "ping", nil, time.Second)
	require.NoError(t, err)
}

func TestHTTPForwarder_Invoke_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conflict", http.StatusConflict)
	}))
	defer server.Close()

	forwarder := NewHTTPForwarder(zap.NewNop())

	_, err := forwarder.Invoke(context.Background(), descriptorFor(server.URL), "reserve_inventory", nil, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 409")
}

func TestHTTPForwarder_Invoke_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	forwarder := NewHTTPForwarder(zap.NewNop())

	_, err := forwarder.Invoke(context.Background(), descriptorFor(server.URL), "slow_action", nil, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTPForwarder_Invoke_EmptyResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	forwarder := NewHTTPForwarder(zap.NewNop())

	result, err := forwarder.Invoke(context.Background(), descriptorFor(server.URL), "fire_and_forget", nil, time.Second)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestHTTPHealthProber(t *testing.T) {
	t.Run("healthy on 200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		prober := NewHTTPHealthProber()
		assert.True(t, prober.Healthy(context.Background(), descriptorFor(server.URL)))
	})

	t.Run("unhealthy on non-200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		prober := NewHTTPHealthProber()
		assert.False(t, prober.Healthy(context.Background(), descriptorFor(server.URL)))
	})

	t.Run("unhealthy when unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		prober := NewHTTPHealthProber()
		assert.False(t, prober.Healthy(context.Background(), descriptorFor(server.URL)))
	})

	t.Run("custom health endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/status/live" {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		descriptor := descriptorFor(server.URL)
		descriptor.HealthEndpoint = "/status/live"

		prober := NewHTTPHealthProber()
		assert.True(t, prober.Healthy(context.Background(), descriptor))
	})
}
