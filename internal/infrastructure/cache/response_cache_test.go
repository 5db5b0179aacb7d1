package cache

import (
	"context"
	"testing"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCache_RoundTrip(t *testing.T) {
	store := NewInMemoryStore()
	defer store.Close()
	cache := NewResponseCache(store)
	ctx := context.Background()

	envelope := &gateway.Envelope{
		StatusCode: 200,
		Data:       map[string]any{"id": "42", "name": "widget"},
		Meta: &gateway.Meta{
			RequestID:      "req-1",
			Version:        "v1",
			Service:        "orders",
			ResponseTimeMs: 12.5,
			Timestamp:      "2025-06-01T12:00:00Z",
		},
	}

	t.Run("miss before set", func(t *testing.T) {
		_, ok, err := cache.Get(ctx, "orders", "products/42")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("hit after set", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "orders", "products/42", envelope, 5*time.Minute))

		found, ok, err := cache.Get(ctx, "orders", "products/42")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 200, found.StatusCode)
		require.NotNil(t, found.Meta)
		assert.Equal(t, "req-1", found.Meta.RequestID)
		assert.Equal(t, "orders", found.Meta.Service)

		data, isMap := found.Data.(map[string]any)
		require.True(t, isMap)
		assert.Equal(t, "widget", data["name"])
	})

	t.Run("same path under another service is independent", func(t *testing.T) {
		_, ok, err := cache.Get(ctx, "inventory", "products/42")
		require.NoError(t, err)
		assert.False(t, ok, "cache entries must be keyed per service")
	})

	t.Run("expired entry is a miss", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "orders", "products/99", envelope, 10*time.Millisecond))

		time.Sleep(20 * time.Millisecond)

		_, ok, err := cache.Get(ctx, "orders", "products/99")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestResponseCache_CorruptEntry(t *testing.T) {
	store := NewInMemoryStore()
	defer store.Close()
	cache := NewResponseCache(store)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "orders:products/1", []byte("not-json"), 1*time.Hour))

	_, ok, err := cache.Get(ctx, "orders", "products/1")
	assert.Error(t, err)
	assert.False(t, ok)
}
