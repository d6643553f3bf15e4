package rag

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

func setupRedisCache(t *testing.T, capacity int) (*miniredis.Miniredis, *ResultCache) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	cache := NewResultCache(capacity, NewRedisClient(config.RedisConfig{Addr: mr.Addr()}), zap.NewNop())
	return mr, cache
}

func testAnswer(text string) *CachedAnswer {
	return &CachedAnswer{
		Answer:     text,
		Confidence: 80,
		Sources:    []string{"docs/selector.md"},
	}
}

func TestResultCache_SetGet(t *testing.T) {
	cache := NewResultCache(16, nil, zap.NewNop())
	ctx := context.Background()

	cache.Set(ctx, "ragflow:result:abc", testAnswer("the answer"), time.Minute)

	got, err := cache.Get(ctx, "ragflow:result:abc")
	require.NoError(t, err)
	assert.Equal(t, "the answer", got.Answer)
	assert.Equal(t, 80, got.Confidence)
	assert.Equal(t, []string{"docs/selector.md"}, got.Sources)
	assert.False(t, got.StoredAt.IsZero())

	_, err = cache.Get(ctx, "ragflow:result:unknown")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestResultCache_Expiry(t *testing.T) {
	cache := NewResultCache(16, nil, zap.NewNop())
	ctx := context.Background()

	cache.Set(ctx, "k", testAnswer("short lived"), 10*time.Millisecond)

	_, err := cache.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = cache.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestResultCache_RedisTierBackfill(t *testing.T) {
	mr, first := setupRedisCache(t, 16)
	defer mr.Close()

	ctx := context.Background()
	first.Set(ctx, "ragflow:result:shared", testAnswer("from redis"), time.Minute)

	// a second replica sharing the same redis sees the entry
	second := NewResultCache(16, NewRedisClient(config.RedisConfig{Addr: mr.Addr()}), zap.NewNop())
	got, err := second.Get(ctx, "ragflow:result:shared")
	require.NoError(t, err)
	assert.Equal(t, "from redis", got.Answer)

	// and the hit backfilled its local tier
	size, _, _ := second.Stats()
	assert.Equal(t, 1, size)
}

func TestNewRedisClient_TLS(t *testing.T) {
	plain := NewRedisClient(config.RedisConfig{Addr: "localhost:6379"})
	assert.Nil(t, plain.Options().TLSConfig)

	secured := NewRedisClient(config.RedisConfig{Addr: "localhost:6380", TLS: true})
	require.NotNil(t, secured.Options().TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), secured.Options().TLSConfig.MinVersion)
}

func TestResultCache_RedisDownDegradesToMiss(t *testing.T) {
	mr, cache := setupRedisCache(t, 16)
	mr.Close()

	ctx := context.Background()

	cache.Set(ctx, "k", testAnswer("still stored locally"), time.Minute)

	got, err := cache.Get(ctx, "k")
	require.NoError(t, err, "local tier must keep working when redis is down")
	assert.Equal(t, "still stored locally", got.Answer)

	_, err = cache.Get(ctx, "never-set")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestResultCache_Invalidate(t *testing.T) {
	mr, cache := setupRedisCache(t, 16)
	defer mr.Close()

	ctx := context.Background()
	cache.Set(ctx, "ragflow:result:a", testAnswer("a"), time.Minute)
	cache.Set(ctx, "ragflow:result:b", testAnswer("b"), time.Minute)

	cache.Invalidate(ctx)

	_, err := cache.Get(ctx, "ragflow:result:a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = cache.Get(ctx, "ragflow:result:b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Empty(t, mr.Keys())
}

func TestResultCache_LRURecency(t *testing.T) {
	cache := NewResultCache(2, nil, zap.NewNop())
	ctx := context.Background()

	cache.Set(ctx, "a", testAnswer("a"), time.Minute)
	cache.Set(ctx, "b", testAnswer("b"), time.Minute)

	// touch a so b becomes the eviction candidate
	_, err := cache.Get(ctx, "a")
	require.NoError(t, err)

	cache.Set(ctx, "c", testAnswer("c"), time.Minute)

	_, err = cache.Get(ctx, "a")
	assert.NoError(t, err)
	_, err = cache.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = cache.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestResultCache_NotifyEvictions(t *testing.T) {
	cache := NewResultCache(2, nil, zap.NewNop())
	ctx := context.Background()

	var notified int
	cache.NotifyEvictions(func() { notified++ })

	for i := 0; i < 5; i++ {
		cache.Set(ctx, fmt.Sprintf("k%d", i), testAnswer("v"), time.Minute)
	}

	_, _, evictions := cache.Stats()
	assert.Equal(t, uint64(3), evictions)
	assert.Equal(t, 3, notified)
}

func TestResultCache_ConcurrentAccess(t *testing.T) {
	cache := NewResultCache(32, nil, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", j%40)
				cache.Set(ctx, key, testAnswer(key), time.Minute)
				cache.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	size, capacity, _ := cache.Stats()
	assert.LessOrEqual(t, size, capacity)
}

func TestTTLForIntent(t *testing.T) {
	cfg := config.DefaultCacheConfig()

	tests := []struct {
		intent Intent
		want   time.Duration
	}{
		{IntentCode, 90 * time.Second},
		{IntentStatus, 3 * time.Minute},
		{IntentExplain, 10 * time.Minute},
		{IntentObjective, 15 * time.Minute},
		{IntentGeneral, 10 * time.Minute},
		{Intent("unknown"), cfg.DefaultTTL},
	}

	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			assert.Equal(t, tt.want, TTLForIntent(cfg, tt.intent))
		})
	}
}

func TestTTLForIntent_ZeroFallsBack(t *testing.T) {
	cfg := config.DefaultCacheConfig()
	cfg.CodeTTL = 0
	assert.Equal(t, cfg.DefaultTTL, TTLForIntent(cfg, IntentCode))
}

func TestProperty_LRUCapacityBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("size never exceeds capacity and the newest key survives", prop.ForAll(
		func(capacity, inserts int) bool {
			cache := newLRUCache(capacity)
			expires := time.Now().Add(time.Minute)

			for i := 0; i < inserts; i++ {
				cache.set(fmt.Sprintf("k%d", i), &CachedAnswer{Answer: "v", ExpiresAt: expires})
			}

			size, _, evictions := cache.stats()
			if size > capacity {
				return false
			}
			if inserts > 0 {
				if _, ok := cache.get(fmt.Sprintf("k%d", inserts-1)); !ok {
					return false
				}
			}
			if inserts > capacity {
				// oldest key must have been evicted first
				if _, ok := cache.get("k0"); ok {
					return false
				}
				return evictions == uint64(inserts-capacity)
			}
			return evictions == 0
		},
		gen.IntRange(1, 16),
		gen.IntRange(0, 64),
	))

	properties.TestingRun(t)
}
