package metrics

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 13, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func metricFor(service, method, path string, status int, responseMs float64) gateway.RequestMetric {
	return gateway.RequestMetric{
		Timestamp:      time.Date(2025, 6, 1, 13, 30, 0, 0, time.UTC),
		RequestID:      "req-1",
		Service:        service,
		Method:         method,
		Path:           path,
		StatusCode:     status,
		ResponseTimeMs: responseMs,
		CallerID:       "client-1",
		Version:        "v1",
	}
}

func TestBucketKey(t *testing.T) {
	at := time.Date(2025, 6, 1, 13, 30, 45, 0, time.UTC)
	assert.Equal(t, "apimetrics:2025-06-01-13", bucketKey(at))
}

func TestBucketKey_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	local := time.Date(2025, 6, 1, 21, 30, 0, 0, loc)
	assert.Equal(t, "apimetrics:2025-06-01-13", bucketKey(local))
}

func TestInMemoryMetricsRecorder_Aggregate(t *testing.T) {
	clock := newFakeClock()
	recorder := NewInMemoryMetricsRecorder(WithInMemoryClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, recorder.Record(ctx, metricFor("orders", "GET", "products/1", 200, 10)))
	require.NoError(t, recorder.Record(ctx, metricFor("orders", "GET", "products/1", 200, 20)))
	require.NoError(t, recorder.Record(ctx, metricFor("orders", "POST", "orders", 500, 30)))
	require.NoError(t, recorder.Record(ctx, metricFor("inventory", "GET", "stock/1", 200, 5)))

	summary, err := recorder.Aggregate(ctx, "orders", 1)
	require.NoError(t, err)

	assert.Equal(t, "orders", summary.Service)
	assert.Equal(t, 1, summary.WindowHours)
	assert.Equal(t, 3, summary.TotalRequests)
	assert.InDelta(t, 20.0, summary.AvgResponseTimeMs, 0.001)
	assert.InDelta(t, 1.0/3.0, summary.ErrorRate, 0.001)
	assert.Equal(t, map[string]int{"200": 2, "500": 1}, summary.StatusCodes)

	require.Len(t, summary.TopEndpoints, 2)
	assert.Equal(t, gateway.EndpointCount{Endpoint: "GET products/1", Count: 2}, summary.TopEndpoints[0])
	assert.Equal(t, gateway.EndpointCount{Endpoint: "POST orders", Count: 1}, summary.TopEndpoints[1])
}

func TestInMemoryMetricsRecorder_EmptyWindow(t *testing.T) {
	recorder := NewInMemoryMetricsRecorder()

	summary, err := recorder.Aggregate(context.Background(), "ghost", 24)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.TotalRequests)
	assert.Zero(t, summary.AvgResponseTimeMs)
	assert.Zero(t, summary.ErrorRate)
	assert.NotNil(t, summary.TopEndpoints)
	assert.Empty(t, summary.TopEndpoints)
	assert.NotNil(t, summary.StatusCodes)
	assert.Empty(t, summary.StatusCodes)
}

func TestInMemoryMetricsRecorder_WindowSelectsBuckets(t *testing.T) {
	clock := newFakeClock()
	recorder := NewInMemoryMetricsRecorder(WithInMemoryClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, recorder.Record(ctx, metricFor("orders", "GET", "old", 200, 10)))

	// Move into the next hour bucket
	clock.Advance(70 * time.Minute)
	require.NoError(t, recorder.Record(ctx, metricFor("orders", "GET", "new", 200, 10)))

	recent, err := recorder.Aggregate(ctx, "orders", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, recent.TotalRequests)
	assert.Equal(t, "GET new", recent.TopEndpoints[0].Endpoint)

	wide, err := recorder.Aggregate(ctx, "orders", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, wide.TotalRequests)
}

func TestInMemoryMetricsRecorder_PrunesExpiredBuckets(t *testing.T) {
	clock := newFakeClock()
	recorder := NewInMemoryMetricsRecorder(WithInMemoryClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, recorder.Record(ctx, metricFor("orders", "GET", "stale", 200, 10)))

	// Beyond the bucket retention, the next write prunes the stale bucket
	clock.Advance(3 * time.Hour)
	require.NoError(t, recorder.Record(ctx, metricFor("orders", "GET", "fresh", 200, 10)))

	summary, err := recorder.Aggregate(ctx, "orders", 24)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalRequests)
	assert.Equal(t, "GET fresh", summary.TopEndpoints[0].Endpoint)
}

func TestSummarize_TopEndpointsCapped(t *testing.T) {
	var metrics []gateway.RequestMetric
	for i := 0; i < 12; i++ {
		path := fmt.Sprintf("endpoint-%02d", i)
		// endpoint-00 appears most often, endpoint-11 least
		for n := 0; n < 12-i; n++ {
			metrics = append(metrics, metricFor("orders", "GET", path, 200, 1))
		}
	}

	summary := summarize("orders", 1, metrics)

	require.Len(t, summary.TopEndpoints, 10)
	assert.Equal(t, "GET endpoint-00", summary.TopEndpoints[0].Endpoint)
	assert.Equal(t, 12, summary.TopEndpoints[0].Count)
	assert.Equal(t, "GET endpoint-09", summary.TopEndpoints[9].Endpoint)
}

func TestSummarize_DeterministicTieBreak(t *testing.T) {
	metrics := []gateway.RequestMetric{
		metricFor("orders", "GET", "beta", 200, 1),
		metricFor("orders", "GET", "alpha", 200, 1),
	}

	summary := summarize("orders", 1, metrics)

	require.Len(t, summary.TopEndpoints, 2)
	assert.Equal(t, "GET alpha", summary.TopEndpoints[0].Endpoint)
	assert.Equal(t, "GET beta", summary.TopEndpoints[1].Endpoint)
}

func TestRecorderInterfaces(t *testing.T) {
	var _ gateway.MetricsRecorder = NewInMemoryMetricsRecorder()
	var _ gateway.MetricsRecorder = NewRedisMetricsRecorder(nil)
}
