// Package metrics records one entry per routed request into hour-bucketed
// Redis lists and aggregates them on demand. Buckets expire after two
// hours of inactivity, so aggregation windows wider than the retention
// only see what is still present.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/redis/go-redis/v9"
)

const (
	hourBucketLayout = "2006-01-02-15"
	keyPrefix        = "apimetrics:"

	// BucketTTL is how long an hour bucket survives after its last write.
	BucketTTL = 2 * time.Hour

	topEndpointLimit = 10
)

// bucketKey returns the Redis key of the hour bucket containing t.
// Buckets are computed in UTC so instances in different timezones share
// them.
func bucketKey(t time.Time) string {
	return keyPrefix + t.UTC().Format(hourBucketLayout)
}

// summarize aggregates collected metrics into the summary shape served
// by the admin API. Endpoints are ranked by count with the endpoint name
// as tie-break so the ordering is deterministic.
func summarize(service string, hours int, metrics []gateway.RequestMetric) *gateway.MetricsSummary {
	summary := &gateway.MetricsSummary{
		Service:      service,
		WindowHours:  hours,
		TopEndpoints: make([]gateway.EndpointCount, 0),
		StatusCodes:  make(map[string]int),
	}

	if len(metrics) == 0 {
		return summary
	}

	var totalResponseTime float64
	errorCount := 0
	endpointCounts := make(map[string]int)

	for _, m := range metrics {
		totalResponseTime += m.ResponseTimeMs
		if m.StatusCode >= 400 {
			errorCount++
		}
		endpointCounts[m.Method+" "+m.Path]++
		summary.StatusCodes[fmt.Sprintf("%d", m.StatusCode)]++
	}

	summary.TotalRequests = len(metrics)
	summary.AvgResponseTimeMs = totalResponseTime / float64(len(metrics))
	summary.ErrorRate = float64(errorCount) / float64(len(metrics))

	for endpoint, count := range endpointCounts {
		summary.TopEndpoints = append(summary.TopEndpoints, gateway.EndpointCount{
			Endpoint: endpoint,
			Count:    count,
		})
	}
	sort.Slice(summary.TopEndpoints, func(i, j int) bool {
		if summary.TopEndpoints[i].Count != summary.TopEndpoints[j].Count {
			return summary.TopEndpoints[i].Count > summary.TopEndpoints[j].Count
		}
		return summary.TopEndpoints[i].Endpoint < summary.TopEndpoints[j].Endpoint
	})
	if len(summary.TopEndpoints) > topEndpointLimit {
		summary.TopEndpoints = summary.TopEndpoints[:topEndpointLimit]
	}

	return summary
}

// RedisMetricsRecorder implements gateway.MetricsRecorder using Redis
// lists, one per hour bucket shared by all services.
type RedisMetricsRecorder struct {
	client    *redis.Client
	nowFunc   func() time.Time
	retention time.Duration
}

// Option configures a RedisMetricsRecorder
type Option func(*RedisMetricsRecorder)

// WithClock overrides the time source, used by tests
func WithClock(nowFunc func() time.Time) Option {
	return func(r *RedisMetricsRecorder) {
		r.nowFunc = nowFunc
	}
}

// WithRetention overrides how long an hour bucket survives after its
// last write
func WithRetention(ttl time.Duration) Option {
	return func(r *RedisMetricsRecorder) {
		if ttl > 0 {
			r.retention = ttl
		}
	}
}

// NewRedisMetricsRecorder creates a recorder on top of an existing
// Redis client
func NewRedisMetricsRecorder(client *redis.Client, opts ...Option) *RedisMetricsRecorder {
	r := &RedisMetricsRecorder{
		client:    client,
		nowFunc:   time.Now,
		retention: BucketTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends a metric to the current hour bucket and refreshes the
// bucket TTL
func (r *RedisMetricsRecorder) Record(ctx context.Context, metric gateway.RequestMetric) error {
	raw, err := json.Marshal(metric)
	if err != nil {
		return fmt.Errorf("failed to encode request metric: %w", err)
	}

	key := bucketKey(r.nowFunc())
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		pipe.Expire(ctx, key, r.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record request metric: %w", err)
	}
	return nil
}

// Aggregate reads the trailing hour buckets, keeps the entries of the
// requested service and summarizes them. Entries that fail to decode
// are skipped.
func (r *RedisMetricsRecorder) Aggregate(ctx context.Context, service string, hours int) (*gateway.MetricsSummary, error) {
	now := r.nowFunc()
	var collected []gateway.RequestMetric

	for i := 0; i < hours; i++ {
		key := bucketKey(now.Add(-time.Duration(i) * time.Hour))
		entries, err := r.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read metrics bucket %s: %w", key, err)
		}
		for _, entry := range entries {
			var metric gateway.RequestMetric
			if err := json.Unmarshal([]byte(entry), &metric); err != nil {
				continue
			}
			if metric.Service == service {
				collected = append(collected, metric)
			}
		}
	}

	return summarize(service, hours, collected), nil
}

// Ensure RedisMetricsRecorder implements MetricsRecorder
var _ gateway.MetricsRecorder = (*RedisMetricsRecorder)(nil)

// InMemoryMetricsRecorder implements gateway.MetricsRecorder with a
// process-local bucket map, mirroring the Redis TTL by pruning buckets
// older than the retention on every write.
type InMemoryMetricsRecorder struct {
	nowFunc func() time.Time

	mu      sync.RWMutex
	buckets map[string][]gateway.RequestMetric
	touched map[string]time.Time
}

// InMemoryOption configures an InMemoryMetricsRecorder
type InMemoryOption func(*InMemoryMetricsRecorder)

// WithInMemoryClock overrides the time source, used by tests
func WithInMemoryClock(nowFunc func() time.Time) InMemoryOption {
	return func(r *InMemoryMetricsRecorder) {
		r.nowFunc = nowFunc
	}
}

// NewInMemoryMetricsRecorder creates a new in-memory recorder
func NewInMemoryMetricsRecorder(opts ...InMemoryOption) *InMemoryMetricsRecorder {
	r := &InMemoryMetricsRecorder{
		nowFunc: time.Now,
		buckets: make(map[string][]gateway.RequestMetric),
		touched: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends a metric to the current hour bucket
func (r *InMemoryMetricsRecorder) Record(_ context.Context, metric gateway.RequestMetric) error {
	now := r.nowFunc()
	key := bucketKey(now)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buckets[key] = append(r.buckets[key], metric)
	r.touched[key] = now

	for k, last := range r.touched {
		if now.Sub(last) > BucketTTL {
			delete(r.buckets, k)
			delete(r.touched, k)
		}
	}
	return nil
}

// Aggregate summarizes the trailing hour buckets for one service
func (r *InMemoryMetricsRecorder) Aggregate(_ context.Context, service string, hours int) (*gateway.MetricsSummary, error) {
	now := r.nowFunc()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var collected []gateway.RequestMetric
	for i := 0; i < hours; i++ {
		key := bucketKey(now.Add(-time.Duration(i) * time.Hour))
		for _, metric := range r.buckets[key] {
			if metric.Service == service {
				collected = append(collected, metric)
			}
		}
	}

	return summarize(service, hours, collected), nil
}

// Ensure InMemoryMetricsRecorder implements MetricsRecorder
var _ gateway.MetricsRecorder = (*InMemoryMetricsRecorder)(nil)
