// Package cache provides the byte-level key/value stores behind the
// gateway response cache and the query-side read cache. Redis is the
// distributed implementation; the in-memory one is suitable for
// single-instance deployments and testing.
package cache

import (
	"context"
	"time"
)

// Key prefixes for the two cache consumers. Each consumer gets its own
// prefixed Store so keys never collide.
const (
	ResponseCachePrefix = "respcache:"
	QueryCachePrefix    = "querycache:"
)

// Store is a TTL-bounded byte store. Get reports a miss with ok=false
// and a nil error; errors are reserved for transport failures. A ttl of
// zero or less stores the value without expiration.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}
