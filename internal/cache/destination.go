package cache

import (
	"strings"
	"time"

	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/pkg/utils"
)

// DefaultDestinationTTL is how long destination data is kept.
const DefaultDestinationTTL = 30 * 24 * time.Hour

// DestinationCache caches per-destination side data. It is unbounded unless
// a maximum size is configured.
type DestinationCache struct {
	store *Store[models.DestinationData]
}

// NewDestinationCache creates a destination cache in dir.
func NewDestinationCache(dir string, ttl time.Duration, maxSize, evictBatch int, opts ...Option) (*DestinationCache, error) {
	if ttl <= 0 {
		ttl = DefaultDestinationTTL
	}
	store, err := NewStore[models.DestinationData](Config{
		Name:       "destination",
		Dir:        dir,
		DefaultTTL: ttl,
		MaxSize:    maxSize,
		EvictBatch: evictBatch,
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &DestinationCache{store: store}, nil
}

// NormalizeDestination lower-cases and trims name and joins its words with
// underscores.
func NormalizeDestination(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

// Get returns the data cached for destination.
func (c *DestinationCache) Get(destination string) (*models.DestinationData, bool) {
	key := NormalizeDestination(destination)
	if key == "" {
		return nil, false
	}
	data, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	return &data, true
}

// Put caches data for destination for the default TTL. Blank names are ignored.
func (c *DestinationCache) Put(destination string, data *models.DestinationData) {
	key := NormalizeDestination(destination)
	if key == "" {
		return
	}
	c.store.Put(key, *data, 0)
}

// Destinations returns the display names of all cached destinations.
func (c *DestinationCache) Destinations() []string {
	keys := c.store.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = utils.TitleWords(strings.ReplaceAll(k, "_", " "))
	}
	return out
}

// Store exposes the underlying store for maintenance.
func (c *DestinationCache) Store() *Store[models.DestinationData] {
	return c.store
}
