package cache

import (
	"fmt"
	"time"

	"github.com/hyperjump/tabi/internal/fingerprint"
	"github.com/hyperjump/tabi/internal/models"
)

// Response cache defaults.
const (
	DefaultResponseTTL     = 7 * 24 * time.Hour
	DefaultResponseMaxSize = 1000
)

// ResponseCache caches full proposal responses keyed by the normalized
// inquiry text and request parameters.
type ResponseCache struct {
	store *Store[models.ProposalResponse]
}

// NewResponseCache creates a response cache in dir. Zero ttl and maxSize use
// the defaults.
func NewResponseCache(dir string, ttl time.Duration, maxSize, evictBatch int, opts ...Option) (*ResponseCache, error) {
	if ttl <= 0 {
		ttl = DefaultResponseTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultResponseMaxSize
	}
	store, err := NewStore[models.ProposalResponse](Config{
		Name:       "response",
		Dir:        dir,
		DefaultTTL: ttl,
		MaxSize:    maxSize,
		EvictBatch: evictBatch,
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &ResponseCache{store: store}, nil
}

// Key returns the cache key for an inquiry and its parameters.
func (c *ResponseCache) Key(text string, params map[string]any) (string, error) {
	key, err := fingerprint.Key(text, params)
	if err != nil {
		return "", fmt.Errorf("response cache key: %w", err)
	}
	return key, nil
}

// Get returns the cached response for text and params.
func (c *ResponseCache) Get(text string, params map[string]any) (*models.ProposalResponse, bool) {
	key, err := c.Key(text, params)
	if err != nil {
		return nil, false
	}
	resp, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	return &resp, true
}

// Put caches resp for the default TTL.
func (c *ResponseCache) Put(text string, params map[string]any, resp *models.ProposalResponse) error {
	return c.PutWithTTL(text, params, resp, 0)
}

// PutWithTTL caches resp for ttl.
func (c *ResponseCache) PutWithTTL(text string, params map[string]any, resp *models.ProposalResponse, ttl time.Duration) error {
	key, err := c.Key(text, params)
	if err != nil {
		return err
	}
	c.store.Put(key, *resp, ttl)
	return nil
}

// Store exposes the underlying store for maintenance.
func (c *ResponseCache) Store() *Store[models.ProposalResponse] {
	return c.store
}
