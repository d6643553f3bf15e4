package rag

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/internal/tlsutil"
)

// ErrCacheMiss signals the key is absent or its entry has expired.
var ErrCacheMiss = errors.New("cache miss")

// CachedAnswer is the value stored per cache key. Entries are read-only once
// written; a slot changes only through expiry, eviction or explicit
// invalidation.
type CachedAnswer struct {
	Answer     string    `json:"answer"`
	Confidence int       `json:"confidence"`
	Sources    []string  `json:"sources"`
	StoredAt   time.Time `json:"stored_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ResultCache is the two-tier query result cache: a capacity-bounded
// in-process LRU tier plus an optional Redis tier shared across replicas.
// It is the only state shared between concurrent requests, so every
// operation is safe for concurrent use. Backend failures are logged and
// surfaced as misses, never as request errors.
type ResultCache struct {
	local  *lruCache
	redis  *redis.Client
	logger *zap.Logger
}

// NewResultCache builds the cache. rdb may be nil to run the local tier
// alone.
func NewResultCache(capacity int, rdb *redis.Client, logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{
		local:  newLRUCache(capacity),
		redis:  rdb,
		logger: logger.With(zap.String("component", "result_cache")),
	}
}

// NewRedisClient builds a go-redis client from config for use as the shared
// cache tier.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	return redis.NewClient(opts)
}

// TTLForIntent picks the per-intent result TTL: volatile intents (status,
// code) expire quickly, stable ones (explain, objective) live longer.
// Unset or non-positive values fall back to the default TTL.
func TTLForIntent(cfg config.CacheConfig, intent Intent) time.Duration {
	var ttl time.Duration
	switch intent {
	case IntentCode:
		ttl = cfg.CodeTTL
	case IntentStatus:
		ttl = cfg.StatusTTL
	case IntentExplain:
		ttl = cfg.ExplainTTL
	case IntentObjective:
		ttl = cfg.ObjectiveTTL
	case IntentGeneral:
		ttl = cfg.GeneralTTL
	}
	if ttl <= 0 {
		ttl = cfg.DefaultTTL
	}
	return ttl
}

// Get returns the cached answer for key or ErrCacheMiss. A Redis hit
// backfills the local tier with the entry's remaining lifetime.
func (c *ResultCache) Get(ctx context.Context, key string) (*CachedAnswer, error) {
	if entry, ok := c.local.get(key); ok {
		c.logger.Debug("local cache hit", zap.String("key", key))
		return entry, nil
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var entry CachedAnswer
			if uerr := json.Unmarshal(data, &entry); uerr == nil && time.Now().Before(entry.ExpiresAt) {
				c.local.set(key, &entry)
				c.logger.Debug("redis cache hit", zap.String("key", key))
				return &entry, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}
	}

	return nil, ErrCacheMiss
}

// Set stores answer under key with the given TTL in both tiers. Failures in
// the Redis tier are logged and absorbed.
func (c *ResultCache) Set(ctx context.Context, key string, answer *CachedAnswer, ttl time.Duration) {
	answer.StoredAt = time.Now()
	answer.ExpiresAt = answer.StoredAt.Add(ttl)

	c.local.set(key, answer)

	if c.redis != nil {
		data, err := json.Marshal(answer)
		if err != nil {
			c.logger.Warn("cache entry marshal failed", zap.Error(err))
			return
		}
		if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
			c.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// Invalidate flushes the local tier and deletes every namespaced key from
// the Redis tier.
func (c *ResultCache) Invalidate(ctx context.Context) {
	c.local.clear()

	if c.redis != nil {
		iter := c.redis.Scan(ctx, 0, cacheKeyPrefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
				c.logger.Warn("redis delete failed", zap.String("key", iter.Val()), zap.Error(err))
			}
		}
		if err := iter.Err(); err != nil {
			c.logger.Warn("redis scan failed", zap.Error(err))
		}
	}

	c.logger.Info("result cache invalidated")
}

// Stats reports local tier occupancy and the number of evictions so far.
func (c *ResultCache) Stats() (size, capacity int, evictions uint64) {
	return c.local.stats()
}

// NotifyEvictions registers fn to run once per local-tier eviction. fn runs
// under the cache lock and must not call back into the cache. Register before
// the cache is shared between goroutines.
func (c *ResultCache) NotifyEvictions(fn func()) {
	c.local.onEvict = fn
}

// ============================================================
// Local LRU tier (doubly-linked list, O(1) operations)
// ============================================================

type lruCache struct {
	mu        sync.RWMutex
	capacity  int
	items     map[string]*lruNode
	head      *lruNode // most recently used
	tail      *lruNode // least recently used
	evictions uint64
	onEvict   func()
}

type lruNode struct {
	key       string
	answer    *CachedAnswer
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		items:    make(map[string]*lruNode),
	}
}

func (c *lruCache) get(key string) (*CachedAnswer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}

	if time.Now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.items, key)
		return nil, false
	}

	c.moveToHead(node)
	return node.answer, true
}

func (c *lruCache) set(key string, answer *CachedAnswer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		node.answer = answer
		node.expiresAt = answer.ExpiresAt
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode{
		key:       key,
		answer:    answer,
		expiresAt: answer.ExpiresAt,
	}
	c.items[key] = node
	c.addToHead(node)
}

func (c *lruCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruNode)
	c.head = nil
	c.tail = nil
}

func (c *lruCache) stats() (size, capacity int, evictions uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items), c.capacity, c.evictions
}

func (c *lruCache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *lruCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *lruCache) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	c.removeNode(c.tail)
	c.evictions++
	if c.onEvict != nil {
		c.onEvict()
	}
}
