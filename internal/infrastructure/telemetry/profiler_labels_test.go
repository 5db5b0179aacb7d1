package telemetry_test

import (
	"context"
	"runtime/pprof"
	"strings"
	"sync"
	"testing"

	"github.com/ecomhub/gateway/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithProfilingLabels_AlwaysCallsFn(t *testing.T) {
	ctx := context.Background()

	for name, labels := range map[string]map[string]string{
		"nil labels":   nil,
		"empty map":    {},
		"normal set":   {"handler": "ProxyHandler", "method": "GET", "route": "/api/orders/v1/list"},
		"all filtered": {"request_id": "req-abc", "trace_id": "trace-1"},
		"empty values": {"handler": "", "": "value"},
		"long value":   {"handler": strings.Repeat("x", 200)},
	} {
		t.Run(name, func(t *testing.T) {
			called := false
			telemetry.WithProfilingLabels(ctx, labels, func(c context.Context) {
				called = true
				assert.NotNil(t, c)
			})
			assert.True(t, called)
		})
	}
}

func TestWithPprofLabels_AttachesLabels(t *testing.T) {
	telemetry.WithPprofLabels(context.Background(), map[string]string{
		"handler":    "ProxyHandler",
		"request_id": "req-1", // high cardinality, must be dropped
	}, func(c context.Context) {
		value, ok := pprof.Label(c, "handler")
		require.True(t, ok)
		assert.Equal(t, "ProxyHandler", value)

		_, ok = pprof.Label(c, "request_id")
		assert.False(t, ok)
	})
}

func TestWithPprofLabels_NoLabels(t *testing.T) {
	called := false
	telemetry.WithPprofLabels(context.Background(), nil, func(c context.Context) {
		called = true
	})
	assert.True(t, called)
}

func TestProfilingScope_Builder(t *testing.T) {
	scope := telemetry.NewProfilingScope(nil).
		WithHandler("ProxyHandler").
		WithRoute("/api/orders/v1/list").
		WithMethod("GET").
		WithService("orders").
		WithOperation("RouteRequest").
		WithRegion("upstream_call").
		WithLabel("custom_key", "custom_value")

	labels := scope.Labels()
	assert.Equal(t, "ProxyHandler", labels[telemetry.ProfilingLabelHandler])
	assert.Equal(t, "/api/orders/v1/list", labels[telemetry.ProfilingLabelRoute])
	assert.Equal(t, "GET", labels[telemetry.ProfilingLabelMethod])
	assert.Equal(t, "orders", labels[telemetry.ProfilingLabelService])
	assert.Equal(t, "RouteRequest", labels[telemetry.ProfilingLabelOperation])
	assert.Equal(t, "upstream_call", labels[telemetry.ProfilingLabelRegion])
	assert.Equal(t, "custom_value", labels["custom_key"])

	// Later calls overwrite
	scope.WithHandler("OtherHandler")
	assert.Equal(t, "OtherHandler", scope.Labels()["handler"])
}

func TestProfilingScope_CopiesBothWays(t *testing.T) {
	initial := map[string]string{"handler": "InitialHandler"}
	scope := telemetry.NewProfilingScope(initial)

	// Mutating the source map does not reach the scope
	initial["handler"] = "Mutated"
	assert.Equal(t, "InitialHandler", scope.Labels()["handler"])

	// Mutating the returned map does not reach the scope either
	out := scope.Labels()
	out["handler"] = "Mutated"
	assert.Equal(t, "InitialHandler", scope.Labels()["handler"])
}

func TestProfilingScope_Run(t *testing.T) {
	called := false
	telemetry.NewProfilingScope(nil).
		WithHandler("CommandHandler").
		WithMethod("POST").
		Run(context.Background(), func(c context.Context) {
			called = true
		})
	assert.True(t, called)
}

func TestProxyRequestLabels(t *testing.T) {
	labels := telemetry.ProxyRequestLabels("orders", "GET", "v2")
	assert.Equal(t, map[string]string{
		"service":     "orders",
		"method":      "GET",
		"api_version": "v2",
	}, labels)

	// Empty fields are omitted entirely
	assert.Len(t, telemetry.ProxyRequestLabels("orders", "GET", ""), 2)
	assert.Len(t, telemetry.ProxyRequestLabels("orders", "", ""), 1)
	assert.Empty(t, telemetry.ProxyRequestLabels("", "", ""))
}

func TestOperationAndRegionLabels(t *testing.T) {
	labels := telemetry.OperationLabels("DispatchCommand", map[string]string{"method": "POST"})
	assert.Equal(t, "DispatchCommand", labels[telemetry.ProfilingLabelOperation])
	assert.Equal(t, "POST", labels["method"])
	assert.Len(t, labels, 2)

	labels = telemetry.RegionLabels("db_query", map[string]string{"table": "api_events"})
	assert.Equal(t, "db_query", labels[telemetry.ProfilingLabelRegion])
	assert.Equal(t, "api_events", labels["table"])
	assert.Len(t, labels, 2)

	assert.Len(t, telemetry.OperationLabels("LoadEvents", nil), 1)
}

func TestHighCardinalityLabelSet(t *testing.T) {
	for _, label := range []string{
		"request_id", "trace_id", "span_id", "correlation_id",
		"aggregate_id", "workflow_id", "saga_id",
	} {
		assert.True(t, telemetry.HighCardinalityLabels[label], "label %s", label)
	}
	assert.Equal(t, 128, telemetry.MaxLabelValueLength)
}

func TestLabelKeyNormalization(t *testing.T) {
	// Keys with spaces, dashes or uppercase go through pprof labels in
	// snake_case form
	telemetry.WithPprofLabels(context.Background(), map[string]string{
		"My Key":    "a",
		"other-key": "b",
	}, func(c context.Context) {
		value, ok := pprof.Label(c, "my_key")
		require.True(t, ok)
		assert.Equal(t, "a", value)

		value, ok = pprof.Label(c, "other_key")
		require.True(t, ok)
		assert.Equal(t, "b", value)
	})
}

func TestNestedProfilingLabels(t *testing.T) {
	var outerCalled, innerCalled bool

	telemetry.WithProfilingLabels(context.Background(),
		map[string]string{"handler": "ProxyHandler"},
		func(outer context.Context) {
			outerCalled = true
			telemetry.WithProfilingLabels(outer,
				map[string]string{"region": "upstream_call"},
				func(inner context.Context) {
					innerCalled = true
				})
		})

	assert.True(t, outerCalled)
	assert.True(t, innerCalled)
}

func TestWithProfilingLabels_PreservesContextValues(t *testing.T) {
	type contextKey string
	key := contextKey("k")
	ctx := context.WithValue(context.Background(), key, "v")

	telemetry.WithProfilingLabels(ctx, map[string]string{"handler": "H"}, func(c context.Context) {
		assert.Equal(t, "v", c.Value(key))
	})
}

func TestWithProfilingLabels_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			telemetry.WithProfilingLabels(context.Background(),
				map[string]string{"handler": "H"},
				func(context.Context) {})
		}()
	}
	wg.Wait()
}
