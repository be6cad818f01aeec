package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/your-org/consolegrid/internal/domain"
)

const (
	defaultShardCount      = 16
	defaultTTL             = 15 * time.Minute
	defaultCleanupInterval = 1 * time.Minute
)

// item is a cached value with its expiry
type item[V any] struct {
	value     V
	expiresAt time.Time
}

func (it *item[V]) expired(now time.Time) bool {
	return now.After(it.expiresAt)
}

// shard is a single shard of the cache with its own lock
type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]*item[V]
}

// ShardedCache is a thread-safe TTL cache split into independently locked shards
type ShardedCache[V any] struct {
	shards          []*shard[V]
	ttl             time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	cleanupMu      sync.Mutex
	cleanupRunning bool
	cleanupStop    chan struct{}
	cleanupWg      sync.WaitGroup
}

// NewShardedCache creates a cache; ttl <= 0 falls back to the default TTL
func NewShardedCache[V any](shardCount int, ttl time.Duration) *ShardedCache[V] {
	if shardCount < 1 {
		shardCount = defaultShardCount
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	shards := make([]*shard[V], shardCount)
	for i := range shards {
		shards[i] = &shard[V]{items: make(map[string]*item[V])}
	}

	return &ShardedCache[V]{
		shards:          shards,
		ttl:             ttl,
		cleanupInterval: defaultCleanupInterval,
		now:             time.Now,
	}
}

func (c *ShardedCache[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get implements domain.Cache
func (c *ShardedCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if ctx.Err() != nil {
		return zero, false
	}

	s := c.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[key]
	if !ok || it.expired(c.now()) {
		// expired entries are left for the cleanup worker
		return zero, false
	}
	return it.value, true
}

// Set implements domain.Cache
func (c *ShardedCache[V]) Set(ctx context.Context, key string, value V) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = &item[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// Delete implements domain.Cache
func (c *ShardedCache[V]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

// CleanExpired implements domain.Cache
func (c *ShardedCache[V]) CleanExpired(ctx context.Context) error {
	for _, s := range c.shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := c.now()
		s.mu.Lock()
		for key, it := range s.items {
			if it.expired(now) {
				delete(s.items, key)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// StartCleanupWorker periodically removes expired entries until StopCleanupWorker
func (c *ShardedCache[V]) StartCleanupWorker() {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	if c.cleanupRunning {
		return
	}
	c.cleanupRunning = true
	c.cleanupStop = make(chan struct{})

	c.cleanupWg.Add(1)
	go c.cleanupWorker(c.cleanupStop)
}

// StopCleanupWorker stops the cleanup worker and waits for it
func (c *ShardedCache[V]) StopCleanupWorker() {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	if !c.cleanupRunning {
		return
	}
	close(c.cleanupStop)
	c.cleanupWg.Wait()
	c.cleanupRunning = false
}

func (c *ShardedCache[V]) cleanupWorker(stop <-chan struct{}) {
	defer c.cleanupWg.Done()

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = c.CleanExpired(ctx)
			cancel()
		}
	}
}

// Stats returns per-shard item counts
func (c *ShardedCache[V]) Stats() Stats {
	stats := Stats{
		ShardCount: len(c.shards),
		ShardStats: make([]ShardStat, len(c.shards)),
	}

	now := c.now()
	for i, s := range c.shards {
		s.mu.RLock()
		count := len(s.items)
		expired := 0
		for _, it := range s.items {
			if it.expired(now) {
				expired++
			}
		}
		s.mu.RUnlock()

		stats.ShardStats[i] = ShardStat{Index: i, ItemCount: count, ExpiredCount: expired}
		stats.TotalItems += count
	}
	return stats
}

// Stats represents cache statistics
type Stats struct {
	ShardCount int
	TotalItems int
	ShardStats []ShardStat
}

// ShardStat represents statistics for a single shard
type ShardStat struct {
	Index        int
	ItemCount    int
	ExpiredCount int
}

var _ domain.Cache[*domain.Organisation] = (*ShardedCache[*domain.Organisation])(nil)
