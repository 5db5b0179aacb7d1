package cqrs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ecomhub/gateway/internal/domain/cqrs"
	"github.com/ecomhub/gateway/internal/domain/shared"
	"github.com/ecomhub/gateway/internal/infrastructure/cache"
	"github.com/ecomhub/gateway/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// QueryCacheTTL bounds how long a query result is served from cache.
const QueryCacheTTL = 5 * time.Minute

// QueryBus routes queries to their registered handler with a cache-aside
// read path. The cache key covers the query type and filters only:
// queries differing solely in pagination or projections share an entry,
// matching the coarseness of the original system.
type QueryBus struct {
	cache   cache.Store
	logger  *zap.Logger
	metrics *telemetry.GatewayMetrics
	ttl     time.Duration

	mu       sync.RWMutex
	handlers map[string]cqrs.QueryHandler
}

// QueryBusOption configures a QueryBus
type QueryBusOption func(*QueryBus)

// WithQueryMetrics records dispatch outcomes on the gateway meter
func WithQueryMetrics(metrics *telemetry.GatewayMetrics) QueryBusOption {
	return func(b *QueryBus) {
		b.metrics = metrics
	}
}

// WithQueryCacheTTL overrides the cache TTL, used in tests
func WithQueryCacheTTL(ttl time.Duration) QueryBusOption {
	return func(b *QueryBus) {
		b.ttl = ttl
	}
}

// NewQueryBus creates a query bus. A nil store disables caching.
func NewQueryBus(store cache.Store, logger *zap.Logger, opts ...QueryBusOption) *QueryBus {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &QueryBus{
		cache:    store,
		logger:   logger,
		ttl:      QueryCacheTTL,
		handlers: make(map[string]cqrs.QueryHandler),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// RegisterQueryHandler registers the handler for a query type.
// Registering the same type again replaces the previous handler.
func (b *QueryBus) RegisterQueryHandler(queryType string, handler cqrs.QueryHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[queryType] = handler
}

func (b *QueryBus) handler(queryType string) (cqrs.QueryHandler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handler, ok := b.handlers[queryType]
	return handler, ok
}

// Query dispatches a query: cache lookup → handler → cache fill.
// Cache transport errors are logged and treated as misses; a failing
// cache never fails a query.
func (b *QueryBus) Query(ctx context.Context, q cqrs.Query) (any, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "query_bus", "query")
	defer span.End()

	telemetry.SetAttribute(span, telemetry.SpanAttrQueryType, q.Type)

	result, cacheHit, err := b.query(ctx, q)
	if b.metrics != nil && err == nil {
		b.metrics.RecordQuery(ctx, q.Type, cacheHit)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttribute(span, "cache_hit", cacheHit)
	return result, nil
}

func (b *QueryBus) query(ctx context.Context, q cqrs.Query) (any, bool, error) {
	if err := q.Validate(); err != nil {
		return nil, false, err
	}

	key, keyErr := queryCacheKey(q)
	if keyErr != nil {
		// Unencodable filters cannot be cached; run the handler directly
		b.logger.Warn("failed to build query cache key",
			zap.String("query_type", q.Type),
			zap.Error(keyErr),
		)
	}

	if b.cache != nil && keyErr == nil {
		if result, ok := b.cachedResult(ctx, q.Type, key); ok {
			return result, true, nil
		}
	}

	handler, ok := b.handler(q.Type)
	if !ok {
		return nil, false, fmt.Errorf("no handler registered for query %q: %w", q.Type, shared.ErrHandlerNotFound)
	}

	result, err := handler.Handle(ctx, q)
	if err != nil {
		return nil, false, fmt.Errorf("query %q failed: %w", q.Type, err)
	}

	if b.cache != nil && keyErr == nil {
		b.storeResult(ctx, q.Type, key, result)
	}

	return result, false, nil
}

func (b *QueryBus) cachedResult(ctx context.Context, queryType, key string) (any, bool) {
	raw, ok, err := b.cache.Get(ctx, key)
	if err != nil {
		b.logger.Warn("query cache lookup failed",
			zap.String("query_type", queryType),
			zap.Error(err),
		)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		b.logger.Warn("discarding undecodable query cache entry",
			zap.String("query_type", queryType),
			zap.Error(err),
		)
		return nil, false
	}
	return result, true
}

func (b *QueryBus) storeResult(ctx context.Context, queryType, key string, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		b.logger.Warn("query result not cacheable",
			zap.String("query_type", queryType),
			zap.Error(err),
		)
		return
	}
	if err := b.cache.Set(ctx, key, raw, b.ttl); err != nil {
		b.logger.Warn("failed to store query cache entry",
			zap.String("query_type", queryType),
			zap.Error(err),
		)
	}
}

// queryCacheKey derives the cache key from the query type and filters.
// encoding/json writes map keys in sorted order, so the marshaled filter
// document is canonical and equal filters always hash identically.
func queryCacheKey(q cqrs.Query) (string, error) {
	filters, err := json.Marshal(q.Filters)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(filters)
	return q.Type + ":" + hex.EncodeToString(sum[:]), nil
}
