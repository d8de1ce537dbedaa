// Package cache provides a two-tier (memory and disk) key/value cache with
// TTL expiry and least-recently-accessed eviction, plus the response and
// destination caches built on it.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/tabi/internal/fingerprint"
	"github.com/hyperjump/tabi/internal/metrics"
	"github.com/hyperjump/tabi/pkg/utils"
	"go.uber.org/zap"
)

// DefaultEvictBatch is how many entries are evicted at a time when a store
// grows past its maximum size.
const DefaultEvictBatch = 10

const fileExt = ".json"

// Entry is a cached payload with its bookkeeping.
type Entry[T any] struct {
	Key          string    `json:"key"`
	Payload      T         `json:"payload"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccessCount  int64     `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

func (e *Entry[T]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Config configures a Store.
type Config struct {
	// Name labels log lines and metrics.
	Name string
	// Dir holds one JSON file per entry. Empty keeps the store in memory only.
	Dir        string
	DefaultTTL time.Duration
	// MaxSize bounds the number of entries. Zero means unbounded.
	MaxSize    int
	EvictBatch int
}

// Stats describes a store.
type Stats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	MaxSize int    `json:"max_size"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
}

// Store is a key/payload cache with expiry and bounded size. Every entry is
// held in memory and, when Dir is set, mirrored to its own file. Disk I/O
// for one key is serialized; different keys proceed independently.
type Store[T any] struct {
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*Entry[T]
	// evicting counts pending file deletions per key. A key with a pending
	// deletion is not reloaded from disk.
	evicting map[string]int
	hits     int64
	misses   int64

	locks keyLocks
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records lookups and evictions on m under the store's name.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewStore creates a store and its directory. It does not read existing
// entries; call LoadAll for that.
func NewStore[T any](cfg Config, opts ...Option) (*Store[T], error) {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.EvictBatch <= 0 {
		cfg.EvictBatch = DefaultEvictBatch
	}
	if cfg.Name == "" {
		cfg.Name = "cache"
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &Store[T]{
		cfg:      cfg,
		now:      o.now,
		logger:   utils.LoggerOrNop(o.logger).With(zap.String("cache", cfg.Name)),
		metrics:  o.metrics,
		entries:  make(map[string]*Entry[T]),
		evicting: make(map[string]int),
		locks:    keyLocks{locks: make(map[string]*keyLock)},
	}, nil
}

// Get returns the payload for key. An entry missing from memory is looked
// up on disk. Expired entries are deleted and reported as misses.
func (s *Store[T]) Get(key string) (T, bool) {
	var zero T
	now := s.now()

	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()

	if !ok {
		loaded, victims, err := s.load(key, now)
		for _, k := range victims {
			s.deleteEvicted(k)
		}
		if err != nil {
			s.recordLookup(false)
			return zero, false
		}
		e = loaded
	}

	s.mu.Lock()
	if e.expired(now) {
		removed := s.entries[key] == e
		if removed {
			delete(s.entries, key)
			s.markEvictingLocked(key)
		}
		s.misses++
		s.mu.Unlock()
		if removed {
			s.deleteEvicted(key)
		}
		s.metrics.CacheEviction(s.cfg.Name, "expired", 1)
		s.metrics.CacheLookup(s.cfg.Name, false)
		return zero, false
	}
	e.AccessCount++
	e.LastAccessed = now
	payload := e.Payload
	s.hits++
	s.mu.Unlock()
	s.metrics.CacheLookup(s.cfg.Name, true)
	return payload, true
}

func (s *Store[T]) recordLookup(hit bool) {
	s.mu.Lock()
	if hit {
		s.hits++
	} else {
		s.misses++
	}
	s.mu.Unlock()
	s.metrics.CacheLookup(s.cfg.Name, hit)
}

// Put stores payload under key for ttl, replacing any existing entry. A ttl
// of zero uses the store's default. If a disk write fails the entry is still
// served from memory.
func (s *Store[T]) Put(key string, payload T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	now := s.now()
	e := &Entry[T]{
		Key:          key,
		Payload:      payload,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
	}

	s.mu.Lock()
	s.entries[key] = e
	victims := s.evictLocked(now, key)
	s.mu.Unlock()

	s.writeCurrent(e)
	for _, k := range victims {
		s.deleteEvicted(k)
	}
}

// evictLocked drops expired entries and then, while the store is above
// MaxSize, the EvictBatch least recently accessed ones; keep sorts as the
// most recent. It returns the keys whose files must be deleted. s.mu must
// be held.
func (s *Store[T]) evictLocked(now time.Time, keep string) []string {
	if s.cfg.MaxSize <= 0 || len(s.entries) <= s.cfg.MaxSize {
		return nil
	}
	var victims []string
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			s.markEvictingLocked(k)
			victims = append(victims, k)
		}
	}
	if n := len(victims); n > 0 {
		s.metrics.CacheEviction(s.cfg.Name, "expired", n)
	}
	if len(s.entries) <= s.cfg.MaxSize {
		return victims
	}

	live := make([]*Entry[T], 0, len(s.entries))
	for _, e := range s.entries {
		live = append(live, e)
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].Key == keep || live[j].Key == keep {
			return live[j].Key == keep && live[i].Key != keep
		}
		if live[i].LastAccessed.Equal(live[j].LastAccessed) {
			return live[i].Key < live[j].Key
		}
		return live[i].LastAccessed.Before(live[j].LastAccessed)
	})
	evicted := 0
	for len(s.entries) > s.cfg.MaxSize {
		for i := 0; i < s.cfg.EvictBatch && evicted < len(live); i++ {
			k := live[evicted].Key
			delete(s.entries, k)
			s.markEvictingLocked(k)
			victims = append(victims, k)
			evicted++
		}
	}
	s.metrics.CacheEviction(s.cfg.Name, "lru", evicted)
	s.logger.Debug("Evicted cache entries", zap.Int("count", evicted))
	return victims
}

// Remove deletes key from memory and disk and reports whether it was present.
func (s *Store[T]) Remove(key string) bool {
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()
	if s.cfg.Dir != "" {
		if _, err := os.Stat(s.path(key)); err == nil {
			ok = true
		}
	}
	s.deleteFile(key)
	return ok
}

// Clear deletes every entry, including files not loaded into memory, and
// returns how many entries were removed.
func (s *Store[T]) Clear() int {
	s.mu.Lock()
	keys := make(map[string]struct{}, len(s.entries))
	for k := range s.entries {
		keys[k] = struct{}{}
	}
	s.entries = make(map[string]*Entry[T])
	s.hits, s.misses = 0, 0
	s.mu.Unlock()

	n := len(keys)
	for k := range keys {
		s.deleteFile(k)
	}
	if s.cfg.Dir == "" {
		return n
	}
	files, err := filepath.Glob(filepath.Join(s.cfg.Dir, "*"+fileExt))
	if err != nil {
		return n
	}
	for _, f := range files {
		if err := os.Remove(f); err == nil {
			n++
		}
	}
	return n
}

// LoadAll reads every entry file into memory, deleting expired and
// unreadable ones, then evicts down to MaxSize. It returns the number of
// entries loaded and kept.
func (s *Store[T]) LoadAll() int {
	if s.cfg.Dir == "" {
		return 0
	}
	files, err := filepath.Glob(filepath.Join(s.cfg.Dir, "*"+fileExt))
	if err != nil {
		s.logger.Warn("Failed to list cache dir", zap.Error(err))
		return 0
	}
	now := s.now()
	loaded, expired := 0, 0
	for _, f := range files {
		e, err := readEntryFile[T](f)
		if err != nil {
			s.logger.Warn("Removing corrupt cache file", zap.String("file", f), zap.Error(err))
			_ = os.Remove(f)
			continue
		}
		if e.expired(now) || filepath.Base(f) != fileName(e.Key) {
			expired++
			_ = os.Remove(f)
			continue
		}
		s.mu.Lock()
		if _, ok := s.entries[e.Key]; !ok {
			s.entries[e.Key] = e
			loaded++
		}
		s.mu.Unlock()
	}
	if expired > 0 {
		s.metrics.CacheEviction(s.cfg.Name, "expired", expired)
	}

	s.mu.Lock()
	victims := s.evictLocked(now, "")
	s.mu.Unlock()
	for _, k := range victims {
		s.deleteEvicted(k)
	}
	if loaded -= len(victims); loaded < 0 {
		loaded = 0
	}

	s.logger.Info("Loaded cache entries",
		zap.Int("loaded", loaded),
		zap.Int("expired", expired),
		zap.Int("evicted", len(victims)))
	return loaded
}

// PurgeExpired deletes every expired entry and returns how many were removed.
func (s *Store[T]) PurgeExpired() int {
	now := s.now()
	s.mu.Lock()
	var victims []string
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			s.markEvictingLocked(k)
			victims = append(victims, k)
		}
	}
	s.mu.Unlock()
	for _, k := range victims {
		s.deleteEvicted(k)
	}
	if len(victims) > 0 {
		s.metrics.CacheEviction(s.cfg.Name, "expired", len(victims))
	}
	return len(victims)
}

// Flush rewrites every in-memory entry to disk, persisting access counts.
func (s *Store[T]) Flush() {
	s.mu.Lock()
	snapshot := make([]Entry[T], 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, *e)
	}
	s.mu.Unlock()
	for i := range snapshot {
		s.writeEntry(&snapshot[i])
	}
}

// Len returns the number of entries in memory, expired or not.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the keys of unexpired in-memory entries in sorted order.
func (s *Store[T]) Keys() []string {
	now := s.now()
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Stats returns the store's counters.
func (s *Store[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Name:    s.cfg.Name,
		Entries: len(s.entries),
		MaxSize: s.cfg.MaxSize,
		Hits:    s.hits,
		Misses:  s.misses,
	}
}

func fileName(key string) string {
	return fingerprint.Text(key) + fileExt
}

func (s *Store[T]) path(key string) string {
	return filepath.Join(s.cfg.Dir, fileName(key))
}

// load reads key's file and inserts it into memory, returning the keys it
// evicted to stay within MaxSize. The read and insert happen under the key
// lock so a pending eviction of key cannot be undone by a concurrent reload.
func (s *Store[T]) load(key string, now time.Time) (*Entry[T], []string, error) {
	if s.cfg.Dir == "" {
		return nil, nil, os.ErrNotExist
	}
	unlock := s.locks.lock(key)
	defer unlock()

	s.mu.Lock()
	if cur, ok := s.entries[key]; ok {
		s.mu.Unlock()
		return cur, nil, nil
	}
	pending := s.evicting[key] > 0
	s.mu.Unlock()
	if pending {
		return nil, nil, os.ErrNotExist
	}

	e, err := readEntryFile[T](s.path(key))
	if err == nil && e.Key != key {
		err = fmt.Errorf("entry key %q does not match %q", e.Key, key)
	}
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
			s.removeFileIfAbsent(key)
		}
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[key]; ok {
		// a concurrent Put won
		return cur, nil, nil
	}
	s.entries[key] = e
	return e, s.evictLocked(now, key), nil
}

func readEntryFile[T any](path string) (*Entry[T], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e Entry[T]
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &e, nil
}

func (s *Store[T]) writeEntry(e *Entry[T]) {
	if s.cfg.Dir == "" {
		return
	}
	unlock := s.locks.lock(e.Key)
	defer unlock()
	if err := writeFileAtomic(s.path(e.Key), e); err != nil {
		s.logger.Warn("Cache write failed, entry kept in memory only",
			zap.String("key", utils.Truncate(e.Key, 80)),
			zap.Error(err))
	}
}

// writeCurrent writes e unless a later Put has already replaced it.
func (s *Store[T]) writeCurrent(e *Entry[T]) {
	if s.cfg.Dir == "" {
		return
	}
	unlock := s.locks.lock(e.Key)
	defer unlock()
	s.mu.Lock()
	current := s.entries[e.Key] == e
	snapshot := *e
	s.mu.Unlock()
	if !current {
		return
	}
	if err := writeFileAtomic(s.path(e.Key), &snapshot); err != nil {
		s.logger.Warn("Cache write failed, entry kept in memory only",
			zap.String("key", utils.Truncate(e.Key, 80)),
			zap.Error(err))
	}
}

func (s *Store[T]) markEvictingLocked(key string) {
	if s.cfg.Dir != "" {
		s.evicting[key]++
	}
}

// deleteEvicted removes the file of a key taken out of memory by eviction or
// expiry. The file is kept if the key has been stored again since.
func (s *Store[T]) deleteEvicted(key string) {
	if s.cfg.Dir == "" {
		return
	}
	unlock := s.locks.lock(key)
	defer unlock()
	s.mu.Lock()
	if s.evicting[key]--; s.evicting[key] <= 0 {
		delete(s.evicting, key)
	}
	s.mu.Unlock()
	s.removeFileIfAbsent(key)
}

// removeFileIfAbsent deletes key's file unless key is in memory. The key
// lock must be held.
func (s *Store[T]) removeFileIfAbsent(key string) {
	s.mu.Lock()
	_, present := s.entries[key]
	s.mu.Unlock()
	if present {
		return
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to delete cache file", zap.Error(err))
	}
}

func (s *Store[T]) deleteFile(key string) {
	if s.cfg.Dir == "" {
		return
	}
	unlock := s.locks.lock(key)
	defer unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to delete cache file", zap.Error(err))
	}
}

func writeFileAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(path), fileExt)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// keyLocks hands out one mutex per key, dropping it when unused.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
