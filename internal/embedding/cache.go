package embedding

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/tabi/internal/fingerprint"
	"github.com/hyperjump/tabi/internal/metrics"
	"github.com/hyperjump/tabi/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is the number of embeddings kept in memory when no capacity is configured.
const DefaultCacheSize = 1000

// lruCache is an LRU map from text fingerprint to embedding.
type lruCache struct {
	capacity int
	items    map[string]*list.Element
	order    *list.List
	mu       sync.Mutex
}

type lruEntry struct {
	key   string
	value []float32
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *lruCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*lruEntry).value, true
	}
	return nil, false
}

func (c *lruCache) set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*lruEntry).value = value
		return
	}

	c.items[key] = c.order.PushFront(&lruEntry{key: key, value: value})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *lruCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// CacheStats reports embedding cache activity.
type CacheStats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	HitRatio float64 `json:"hit_ratio"`
}

// Cache memoizes embeddings by the SHA-256 of their text and normalizes every
// vector to the configured dimension. Concurrent requests for the same text
// share a single embedder call. Cache satisfies Embedder so it can stand in
// for the embedder it wraps.
type Cache struct {
	embedder Embedder
	dim      int
	entries  *lruCache
	group    singleflight.Group
	hits     atomic.Int64
	misses   atomic.Int64
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCapacity bounds the number of cached embeddings.
func WithCapacity(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.entries = newLRUCache(n)
		}
	}
}

// WithMetrics records hits and misses on m.
func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger for the cache.
func WithLogger(l *zap.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// NewCache wraps embedder with a cache producing vectors of dim elements.
func NewCache(embedder Embedder, dim int, opts ...CacheOption) *Cache {
	c := &Cache{
		embedder: embedder,
		dim:      dim,
		entries:  newLRUCache(DefaultCacheSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.LoggerOrNop(c.logger)
	return c
}

// GetOrCompute returns the embedding for text, calling the embedder only on a
// cache miss. Embedder errors are returned unchanged and nothing is cached.
func (c *Cache) GetOrCompute(ctx context.Context, text string) ([]float32, error) {
	key := fingerprint.Text(text)
	if vec, ok := c.entries.get(key); ok {
		c.hits.Add(1)
		c.metrics.EmbeddingCacheHit()
		return clone(vec), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if vec, ok := c.entries.get(key); ok {
			return vec, nil
		}
		c.misses.Add(1)
		c.metrics.EmbeddingCacheMiss()
		raw, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(raw) != c.dim {
			c.logger.Debug("Resizing embedding",
				zap.Int("from", len(raw)),
				zap.Int("to", c.dim))
		}
		vec := Normalize(raw, c.dim)
		c.entries.set(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(v.([]float32)), nil
}

// Embed is GetOrCompute.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.GetOrCompute(ctx, text)
}

// EmbedBatch embeds each text through the cache.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.GetOrCompute(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the normalized vector width.
func (c *Cache) Dimensions() int {
	return c.dim
}

// Close closes the wrapped embedder.
func (c *Cache) Close() error {
	return c.embedder.Close()
}

// Stats returns hit, miss and size counters.
func (c *Cache) Stats() CacheStats {
	stats := CacheStats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Size:     c.entries.len(),
		Capacity: c.entries.capacity,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRatio = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Clear drops every cached embedding and resets the counters.
func (c *Cache) Clear() {
	c.entries.clear()
	c.hits.Store(0)
	c.misses.Store(0)
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
