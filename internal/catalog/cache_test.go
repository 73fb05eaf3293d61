package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheFetchJSONPopulatesOnce(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(ctx context.Context) (any, error) {
		loads++
		return Medication{ID: 1, Name: "Amoxicillin"}, nil
	}

	key, err := cache.BuildKey(ctx, "catalog", "medication", "1")
	require.NoError(t, err)

	var first Medication
	require.NoError(t, cache.FetchJSON(ctx, key, &first, loader))
	var second Medication
	require.NoError(t, cache.FetchJSON(ctx, key, &second, loader))

	require.Equal(t, 1, loads)
	require.Equal(t, "Amoxicillin", second.Name)
}

func TestCacheBumpInvalidatesKeys(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	before, err := cache.BuildKey(ctx, "catalog", "medication", "1")
	require.NoError(t, err)
	require.NoError(t, cache.Bump(ctx))
	after, err := cache.BuildKey(ctx, "catalog", "medication", "1")
	require.NoError(t, err)

	require.NotEqual(t, before, after)
}

func TestNilCacheFallsThroughToLoader(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	var med Medication
	err := cache.FetchJSON(ctx, "any", &med, func(ctx context.Context) (any, error) {
		return Medication{ID: 9, Name: "Paracetamol"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(9), med.ID)
	require.NoError(t, cache.Bump(ctx))
}
