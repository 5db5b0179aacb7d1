package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
)

// ResponseCache implements gateway.ResponseCache on top of a Store.
// Envelopes are serialized as JSON; the cache key is the service name
// plus the resource path, so the same path under two services never
// shares an entry.
type ResponseCache struct {
	store Store
}

// NewResponseCache creates a response cache over the given store
func NewResponseCache(store Store) *ResponseCache {
	return &ResponseCache{store: store}
}

// Get returns the cached envelope for a service and resource path.
// A miss is reported with ok=false and a nil error.
func (c *ResponseCache) Get(ctx context.Context, service, resourcePath string) (*gateway.Envelope, bool, error) {
	raw, ok, err := c.store.Get(ctx, responseKey(service, resourcePath))
	if err != nil || !ok {
		return nil, false, err
	}

	var envelope gateway.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached response: %w", err)
	}
	return &envelope, true, nil
}

// Set stores an envelope with the given TTL
func (c *ResponseCache) Set(ctx context.Context, service, resourcePath string, envelope *gateway.Envelope, ttl time.Duration) error {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode response for caching: %w", err)
	}
	return c.store.Set(ctx, responseKey(service, resourcePath), raw, ttl)
}

func responseKey(service, resourcePath string) string {
	return service + ":" + resourcePath
}

// Ensure ResponseCache implements gateway.ResponseCache
var _ gateway.ResponseCache = (*ResponseCache)(nil)
