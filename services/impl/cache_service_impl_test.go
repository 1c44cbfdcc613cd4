package impl

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doc-catalog/services"
)

func newTestCache(t *testing.T) (services.CacheService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logrus.New()
	log.SetOutput(testWriter{t})
	return NewCacheService(client, logrus.NewEntry(log)), mr
}

func TestCacheSetGetRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", []byte("value"), time.Minute))

	data, hit, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("value"), data)
}

func TestCacheMiss(t *testing.T) {
	cache, _ := newTestCache(t)

	data, hit, err := cache.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, data)
}

func TestCacheExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", []byte("value"), time.Second))
	mr.FastForward(2 * time.Second)

	_, hit, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheDelete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", []byte("value"), time.Minute))
	require.NoError(t, cache.Delete(ctx, "key"))

	_, hit, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheDeletePrefix(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "search:one", []byte("1"), time.Minute))
	require.NoError(t, cache.Set(ctx, "search:two", []byte("2"), time.Minute))
	require.NoError(t, cache.Set(ctx, "facets:enhanced:all", []byte("3"), time.Minute))

	require.NoError(t, cache.DeletePrefix(ctx, "search:"))

	_, hit, _ := cache.Get(ctx, "search:one")
	assert.False(t, hit)
	_, hit, _ = cache.Get(ctx, "search:two")
	assert.False(t, hit)
	_, hit, _ = cache.Get(ctx, "facets:enhanced:all")
	assert.True(t, hit)
}

func TestCacheFallsBackToMemoryOnOutage(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	mr.Close()

	// Writes land in process memory when Redis is down; reads degrade to
	// that memory rather than failing.
	require.NoError(t, cache.Set(ctx, "key", []byte("value"), time.Minute))

	data, hit, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("value"), data)

	health := cache.Health(ctx)
	assert.False(t, health.OK)
}

func TestCacheNilClientIsMemoryOnly(t *testing.T) {
	log := logrus.New()
	log.SetOutput(testWriter{t})
	cache := NewCacheService(nil, logrus.NewEntry(log))
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", []byte("value"), time.Minute))
	_, hit, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, hit)

	assert.False(t, cache.Health(ctx).OK)
}

func TestHashQueryDeterministic(t *testing.T) {
	a := HashQuery("contract|Legal||relevance|desc|1|12")
	b := HashQuery("contract|Legal||relevance|desc|1|12")
	c := HashQuery("contract|Legal||relevance|desc|2|12")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}
