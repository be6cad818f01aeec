package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/consolegrid/internal/domain"
)

// TestCacheConcurrentAccess tests concurrent access to cache with race detection
func TestCacheConcurrentAccess(t *testing.T) {
	cache := NewShardedCache[*domain.Organisation](16, time.Hour)
	ctx := context.Background()

	numGoroutines := 50
	numOperations := 100
	var wg sync.WaitGroup

	// Concurrent writes
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				key := fmt.Sprintf("organisation:%d", id*numOperations+j)
				err := cache.Set(ctx, key, &domain.Organisation{ID: int64(id*numOperations + j)})
				assert.NoError(t, err)
			}
		}(i)
	}

	// Concurrent reads
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				key := fmt.Sprintf("organisation:%d", id*numOperations+j)
				if org, ok := cache.Get(ctx, key); ok {
					assert.Equal(t, int64(id*numOperations+j), org.ID)
				}
			}
		}(i)
	}

	// Concurrent deletes
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOperations; j += 2 {
				_ = cache.Delete(ctx, fmt.Sprintf("organisation:%d", id*numOperations+j))
			}
		}(i)
	}

	wg.Wait()
}

// TestCacheExpiry tests TTL handling with a controlled clock
func TestCacheExpiry(t *testing.T) {
	cache := NewShardedCache[string](4, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", "first"))
	v, ok := cache.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "first", v)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get(ctx, "a")
	assert.False(t, ok, "expired entry must not be returned")

	stats := cache.Stats()
	assert.Equal(t, 1, stats.TotalItems, "expired entry stays until cleanup")

	require.NoError(t, cache.CleanExpired(ctx))
	assert.Equal(t, 0, cache.Stats().TotalItems)
}

// TestCacheCancelledContext tests that a cancelled context short-circuits
func TestCacheCancelledContext(t *testing.T) {
	cache := NewShardedCache[string](4, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, cache.Set(ctx, "a", "v"))
	cancel()

	_, ok := cache.Get(ctx, "a")
	assert.False(t, ok)
	assert.Error(t, cache.Set(ctx, "b", "v"))
	assert.Error(t, cache.Delete(ctx, "a"))
	assert.Error(t, cache.CleanExpired(ctx))
}

// TestCacheCleanupWorker tests the background cleanup loop
func TestCacheCleanupWorker(t *testing.T) {
	cache := NewShardedCache[string](4, 10*time.Millisecond)
	cache.cleanupInterval = 10 * time.Millisecond
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, cache.Set(ctx, fmt.Sprintf("k%d", i), "v"))
	}

	cache.StartCleanupWorker()
	cache.StartCleanupWorker() // второй вызов ничего не делает
	defer cache.StopCleanupWorker()

	assert.Eventually(t, func() bool {
		return cache.Stats().TotalItems == 0
	}, time.Second, 10*time.Millisecond)

	cache.StopCleanupWorker()
	cache.StopCleanupWorker()
}

// TestCacheSharding tests that keys spread across shards
func TestCacheSharding(t *testing.T) {
	cache := NewShardedCache[int](8, time.Hour)
	ctx := context.Background()

	for i := 0; i < 800; i++ {
		require.NoError(t, cache.Set(ctx, fmt.Sprintf("organisation:%d", i), i))
	}

	stats := cache.Stats()
	assert.Equal(t, 8, stats.ShardCount)
	assert.Equal(t, 800, stats.TotalItems)

	used := 0
	for _, s := range stats.ShardStats {
		if s.ItemCount > 0 {
			used++
		}
	}
	assert.Greater(t, used, 4, "FNV should spread keys over most shards")
}

// TestCacheDefaults tests constructor fallbacks
func TestCacheDefaults(t *testing.T) {
	cache := NewShardedCache[string](0, 0)
	assert.Equal(t, defaultShardCount, cache.Stats().ShardCount)
	assert.Equal(t, defaultTTL, cache.ttl)
}
