package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StoreFactory creates cache stores backed by Redis when it is
// reachable, optionally falling back to in-memory stores when it is not
type StoreFactory struct {
	client                *redis.Client
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to an in-memory
// store when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewStoreFactory creates a new factory. The Redis client may be nil
// when Redis is not configured; fallback rules then apply.
func NewStoreFactory(client *redis.Client, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		client:                client,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Create builds a store namespaced with the given key prefix. Redis is
// probed once with a short timeout; an unreachable Redis either falls
// back to in-memory or fails, depending on the fallback setting.
func (f *StoreFactory) Create(keyPrefix string) (Store, error) {
	if f.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := f.client.Ping(ctx).Err(); err == nil {
			f.logger.Info("using Redis cache store", zap.String("key_prefix", keyPrefix))
			return NewRedisStore(f.client, keyPrefix), nil
		} else if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("Redis required for caching but unavailable: %w", err)
		} else {
			f.logger.Warn("Redis unavailable, falling back to in-memory cache store. "+
				"Cached entries will not be shared across gateway instances.",
				zap.String("key_prefix", keyPrefix),
				zap.Error(err),
			)
		}
	} else if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for caching but not configured")
	}

	return NewInMemoryStore(), nil
}
