package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBlacklist revokes bearer tokens before their natural expiry.
// The gateway blacklists the raw token string as presented in the
// Authorization header, so the check runs before any signature work.
type TokenBlacklist interface {
	// Add puts a token on the blacklist for the given TTL
	Add(ctx context.Context, token string, ttl time.Duration) error

	// Contains checks if a token is blacklisted
	Contains(ctx context.Context, token string) (bool, error)
}

// RedisTokenBlacklist implements TokenBlacklist using Redis
type RedisTokenBlacklist struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisTokenBlacklist creates a token blacklist backed by an existing Redis client
func NewRedisTokenBlacklist(client *redis.Client) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{
		client:    client,
		keyPrefix: "blacklist:",
	}
}

func (b *RedisTokenBlacklist) key(token string) string {
	return b.keyPrefix + token
}

// Add puts a token on the blacklist for the given TTL
func (b *RedisTokenBlacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.key(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to add token to blacklist: %w", err)
	}
	return nil
}

// Contains checks if a token is blacklisted
func (b *RedisTokenBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	exists, err := b.client.Exists(ctx, b.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return exists > 0, nil
}

// Ensure RedisTokenBlacklist implements TokenBlacklist
var _ TokenBlacklist = (*RedisTokenBlacklist)(nil)

// InMemoryTokenBlacklist provides an in-memory implementation for tests and
// single-instance deployments without Redis.
type InMemoryTokenBlacklist struct {
	mu     sync.Mutex
	tokens map[string]time.Time // token -> expiration time
}

// NewInMemoryTokenBlacklist creates a new in-memory token blacklist
func NewInMemoryTokenBlacklist() *InMemoryTokenBlacklist {
	return &InMemoryTokenBlacklist{
		tokens: make(map[string]time.Time),
	}
}

// Add puts a token on the blacklist for the given TTL
func (b *InMemoryTokenBlacklist) Add(_ context.Context, token string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[token] = time.Now().Add(ttl)
	return nil
}

// Contains checks if a token is blacklisted (and the entry has not expired)
func (b *InMemoryTokenBlacklist) Contains(_ context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiration, exists := b.tokens[token]
	if !exists {
		return false, nil
	}

	if time.Now().After(expiration) {
		delete(b.tokens, token)
		return false, nil
	}

	return true, nil
}

// Ensure InMemoryTokenBlacklist implements TokenBlacklist
var _ TokenBlacklist = (*InMemoryTokenBlacklist)(nil)
