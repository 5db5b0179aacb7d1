// Package ratelimit enforces per-(service, caller) hourly quotas. Counters
// live in fixed hour buckets: a request at 13:59 and one at 14:01 land in
// different buckets, so quotas reset on the hour rather than sliding.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/redis/go-redis/v9"
)

// hourBucketLayout formats the UTC hour a counter belongs to
const hourBucketLayout = "2006-01-02-15"

const keyPrefix = "ratelimit:"

func bucketKey(service, caller string, now time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, service, caller, now.UTC().Format(hourBucketLayout))
}

func resetTime(now time.Time) time.Time {
	return now.UTC().Truncate(time.Hour).Add(time.Hour)
}

// RedisRateLimiter implements gateway.RateLimiter on Redis INCR counters
// with an hour TTL. Counters are shared across gateway instances.
type RedisRateLimiter struct {
	client  *redis.Client
	nowFunc func() time.Time
}

// Option configures a limiter's time source
type Option func(*RedisRateLimiter)

// WithClock overrides the time source, used in tests
func WithClock(now func() time.Time) Option {
	return func(l *RedisRateLimiter) {
		l.nowFunc = now
	}
}

// NewRedisRateLimiter creates a rate limiter backed by an existing Redis client
func NewRedisRateLimiter(client *redis.Client, opts ...Option) *RedisRateLimiter {
	l := &RedisRateLimiter{
		client:  client,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire counts the request against the caller's hourly quota. A limit of
// gateway.RateLimitUnlimited never touches the store. Store errors are
// returned alongside an allowing decision so the caller can fail open.
func (l *RedisRateLimiter) Acquire(ctx context.Context, service, caller string, limit int) (gateway.RateLimitDecision, error) {
	if limit == gateway.RateLimitUnlimited {
		return gateway.RateLimitDecision{Allowed: true, Limit: limit, Remaining: -1}, nil
	}

	now := l.nowFunc()
	key := bucketKey(service, caller, now)

	// INCR and the expiry travel in one MULTI/EXEC so a counter can
	// never exist without a TTL. ExpireNX only arms the clock on the
	// bucket's first hit; the counter disappears one hour later
	// regardless of traffic.
	var count *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, time.Hour)
		return nil
	})
	if err != nil {
		return gateway.RateLimitDecision{Allowed: true, Limit: limit},
			fmt.Errorf("failed to count against rate limit bucket: %w", err)
	}

	return decide(int(count.Val()), limit, now), nil
}

// Ensure RedisRateLimiter implements gateway.RateLimiter
var _ gateway.RateLimiter = (*RedisRateLimiter)(nil)

func decide(count, limit int, now time.Time) gateway.RateLimitDecision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return gateway.RateLimitDecision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetTime(now),
	}
}

// InMemoryRateLimiter provides a process-local implementation for tests
// and single-instance deployments without Redis. Counters reset when the
// hour bucket rolls over.
type InMemoryRateLimiter struct {
	nowFunc func() time.Time

	mu     sync.Mutex
	bucket string
	counts map[string]int
}

// InMemoryOption configures an in-memory limiter
type InMemoryOption func(*InMemoryRateLimiter)

// WithInMemoryClock overrides the time source, used in tests
func WithInMemoryClock(now func() time.Time) InMemoryOption {
	return func(l *InMemoryRateLimiter) {
		l.nowFunc = now
	}
}

// NewInMemoryRateLimiter creates an in-memory rate limiter
func NewInMemoryRateLimiter(opts ...InMemoryOption) *InMemoryRateLimiter {
	l := &InMemoryRateLimiter{
		nowFunc: time.Now,
		counts:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire counts the request against the caller's hourly quota
func (l *InMemoryRateLimiter) Acquire(_ context.Context, service, caller string, limit int) (gateway.RateLimitDecision, error) {
	if limit == gateway.RateLimitUnlimited {
		return gateway.RateLimitDecision{Allowed: true, Limit: limit, Remaining: -1}, nil
	}

	now := l.nowFunc()
	bucket := now.UTC().Format(hourBucketLayout)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Drop all counters from the previous hour on rollover
	if l.bucket != bucket {
		l.bucket = bucket
		l.counts = make(map[string]int)
	}

	key := service + ":" + caller
	l.counts[key]++

	return decide(l.counts[key], limit, now), nil
}

// Ensure InMemoryRateLimiter implements gateway.RateLimiter
var _ gateway.RateLimiter = (*InMemoryRateLimiter)(nil)
