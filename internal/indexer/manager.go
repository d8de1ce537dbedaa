// Package indexer keeps the package collection and its nearest-neighbor
// index consistent under incremental updates.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/hyperjump/tabi/internal/embedding"
	"github.com/hyperjump/tabi/internal/metrics"
	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/internal/vector"
	"github.com/hyperjump/tabi/pkg/utils"
	"go.uber.org/zap"
)

// Defaults for the rebuild policy.
const (
	DefaultRebuildInterval  = 10
	DefaultRebuildThreshold = 10
)

// ErrDimensionMismatch is returned when an embedding does not match the index width.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Config controls the index manager.
type Config struct {
	Dimensions int
	Metric     string
	// RebuildInterval forces a full rebuild on every Nth mutating batch.
	RebuildInterval int
	// RebuildThreshold forces a full rebuild when a batch updates more
	// than this many existing packages.
	RebuildThreshold int
	// StatePath is where the collection is persisted. Empty disables persistence.
	StatePath string
}

// IndexFactory builds an empty index.
type IndexFactory func(metric string, dimensions int) (vector.Index, error)

// Manager owns the package collection, its vectors and the index built
// over them. Index positions are slot positions: slot i holds the package
// whose vector is vector i. Removed packages leave a nil slot until the
// next rebuild compacts them away.
type Manager struct {
	cfg      Config
	embedder embedding.Embedder
	newIndex IndexFactory
	logger   *zap.Logger
	metrics  *metrics.Metrics

	// writeMu serializes mutations so embedding calls can run without
	// holding mu.
	writeMu sync.Mutex

	mu           sync.RWMutex
	slots        []*models.Package
	vectors      [][]float32
	positions    map[string]int
	fingerprints map[string]string
	tombstones   int
	index        vector.Index
	updateCount  int
	lastUpdated  time.Time
	lastRebuild  time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records rebuilds, appends and sizes on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithIndexFactory replaces vector.NewIndex.
func WithIndexFactory(f IndexFactory) Option {
	return func(m *Manager) { m.newIndex = f }
}

// NewManager creates a manager and loads any persisted state from
// cfg.StatePath. Missing or unreadable state starts an empty collection.
func NewManager(cfg Config, embedder embedding.Embedder, opts ...Option) (*Manager, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if cfg.RebuildInterval <= 0 {
		cfg.RebuildInterval = DefaultRebuildInterval
	}
	if cfg.RebuildThreshold <= 0 {
		cfg.RebuildThreshold = DefaultRebuildThreshold
	}
	m := &Manager{
		cfg:          cfg,
		embedder:     embedder,
		newIndex:     vector.NewIndex,
		positions:    make(map[string]int),
		fingerprints: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = utils.LoggerOrNop(m.logger)
	if _, err := m.newIndex(cfg.Metric, cfg.Dimensions); err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	m.load()
	return m, nil
}

// BatchResult summarizes one AddOrUpdate call.
type BatchResult struct {
	Added   int  `json:"added"`
	Updated int  `json:"updated"`
	Skipped int  `json:"skipped"`
	Failed  int  `json:"failed"`
	Rebuilt bool `json:"rebuilt"`
}

// Mutated reports whether the batch changed the collection.
func (r *BatchResult) Mutated() bool {
	return r.Added+r.Updated > 0
}

type pending struct {
	pkg         *models.Package
	fingerprint string
	vector      []float32
	position    int // -1 for new packages
}

// AddOrUpdate embeds and stores packages. A package with an unknown ID is
// appended; a known ID with a changed fingerprint is re-embedded and
// overwritten in place; an unchanged package is skipped without calling the
// embedder. texts optionally supplies the embedding text per package; an
// empty or missing entry uses Package.EmbeddingText. A package whose
// embedding fails is logged and counted in Failed; the rest of the batch
// proceeds.
func (m *Manager) AddOrUpdate(ctx context.Context, pkgs []*models.Package, texts []string) (*BatchResult, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	res := &BatchResult{}
	var work []*pending
	seen := make(map[string]int)
	// refresh holds unchanged-fingerprint packages whose other fields may
	// still differ from the stored copy.
	refresh := make(map[string]*models.Package)
	for i, in := range pkgs {
		if in == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pkg := *in
		pkg.EnsureID()
		fp := pkg.Fingerprint()

		// Only writers mutate the maps and writeMu is held.
		pos, known := m.positions[pkg.ID]
		if known && m.fingerprints[pkg.ID] == fp {
			dropEarlier(work, seen, pkg.ID)
			refresh[pkg.ID] = &pkg
			res.Skipped++
			continue
		}
		if !known {
			pos = -1
		}

		text := ""
		if i < len(texts) {
			text = texts[i]
		}
		if text == "" {
			text = pkg.EmbeddingText()
		}
		vec, err := m.embedder.Embed(ctx, text)
		if err == nil && len(vec) != m.cfg.Dimensions {
			err = fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), m.cfg.Dimensions)
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			m.logger.Warn("Skipping package, embedding failed",
				zap.String("id", pkg.ID),
				zap.String("name", pkg.Name),
				zap.Error(err))
			continue
		}
		dropEarlier(work, seen, pkg.ID)
		delete(refresh, pkg.ID)
		seen[pkg.ID] = len(work)
		work = append(work, &pending{pkg: &pkg, fingerprint: fp, vector: vec, position: pos})
	}

	m.mu.Lock()
	var appended [][]float32
	for _, p := range work {
		if p == nil {
			continue
		}
		if p.position >= 0 {
			m.slots[p.position] = p.pkg
			m.vectors[p.position] = p.vector
			res.Updated++
		} else {
			m.positions[p.pkg.ID] = len(m.slots)
			m.slots = append(m.slots, p.pkg)
			m.vectors = append(m.vectors, p.vector)
			appended = append(appended, p.vector)
			res.Added++
		}
		m.fingerprints[p.pkg.ID] = p.fingerprint
	}
	refreshed := m.refreshLocked(refresh)
	if !res.Mutated() {
		var snap *state
		if refreshed > 0 {
			snap = m.snapshotLocked()
		}
		m.mu.Unlock()
		if snap != nil {
			m.persist(snap)
			m.logger.Debug("Refreshed unchanged packages", zap.Int("count", refreshed))
		}
		return res, nil
	}

	m.updateCount++
	m.lastUpdated = time.Now()
	switch {
	case m.index == nil,
		m.updateCount%m.cfg.RebuildInterval == 0,
		res.Updated > m.cfg.RebuildThreshold,
		// an earlier rebuild failed and positions no longer line up
		m.index.Size() != len(m.slots)-len(appended):
		res.Rebuilt = m.rebuildLocked() == nil
	case len(appended) > 0:
		if err := m.index.Add(appended); err != nil {
			m.logger.Warn("Incremental append failed, rebuilding", zap.Error(err))
			res.Rebuilt = m.rebuildLocked() == nil
		} else {
			m.metrics.IndexAppend()
		}
	}
	m.metrics.SetIndexSize(len(m.positions), len(m.vectors))
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snap)
	m.logger.Debug("Batch applied",
		zap.Int("added", res.Added),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Bool("rebuilt", res.Rebuilt))
	return res, nil
}

// refreshLocked replaces stored copies of skipped packages whose
// non-fingerprinted fields changed. It neither embeds nor counts as a
// mutating batch. Returns the number of slots replaced.
func (m *Manager) refreshLocked(pkgs map[string]*models.Package) int {
	n := 0
	for id, pkg := range pkgs {
		pos, ok := m.positions[id]
		if !ok || reflect.DeepEqual(m.slots[pos], pkg) {
			continue
		}
		m.slots[pos] = pkg
		n++
	}
	return n
}

// dropEarlier discards an earlier pending entry for id so the last
// occurrence in a batch wins.
func dropEarlier(work []*pending, seen map[string]int, id string) {
	if j, ok := seen[id]; ok {
		work[j] = nil
		delete(seen, id)
	}
}

// Remove unmaps id and tombstones its slot. The vector stays in the index
// until the next rebuild but is never returned by Search.
func (m *Manager) Remove(ctx context.Context, id string) bool {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	pos, ok := m.positions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.positions, id)
	delete(m.fingerprints, id)
	m.slots[pos] = nil
	m.tombstones++
	m.updateCount++
	m.lastUpdated = time.Now()
	if m.updateCount%m.cfg.RebuildInterval == 0 {
		_ = m.rebuildLocked()
	}
	m.metrics.SetIndexSize(len(m.positions), len(m.vectors))
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snap)
	m.logger.Debug("Package removed", zap.String("id", id))
	return true
}

// Rebuild forces a full rebuild, compacting removed slots.
func (m *Manager) Rebuild(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	err := m.rebuildLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.persist(snap)
	return nil
}

// rebuildLocked builds a fresh index over the live slots and swaps it in
// together with the compacted collections. On failure nothing changes and
// the previous index keeps serving. m.mu must be held for writing.
func (m *Manager) rebuildLocked() error {
	start := time.Now()
	live := len(m.slots) - m.tombstones
	slots := make([]*models.Package, 0, live)
	vectors := make([][]float32, 0, live)
	positions := make(map[string]int, live)
	for i, pkg := range m.slots {
		if pkg == nil {
			continue
		}
		positions[pkg.ID] = len(slots)
		slots = append(slots, pkg)
		vectors = append(vectors, m.vectors[i])
	}

	idx, err := m.newIndex(m.cfg.Metric, m.cfg.Dimensions)
	if err == nil && len(vectors) > 0 {
		err = idx.Add(vectors)
	}
	m.metrics.IndexRebuild(err)
	if err != nil {
		m.logger.Error("Index rebuild failed, keeping previous index", zap.Error(err))
		return fmt.Errorf("rebuild index: %w", err)
	}

	m.slots = slots
	m.vectors = vectors
	m.positions = positions
	m.tombstones = 0
	m.index = idx
	m.lastRebuild = time.Now()
	m.logger.Info("Index rebuilt",
		zap.Int("vectors", idx.Size()),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Hit is one search result from the index.
type Hit struct {
	Package  *models.Package
	Distance float64
	Position int
}

// Search returns up to k live packages nearest to query, by ascending
// distance. An empty collection yields no hits and no error. Returned
// packages are shared and must not be modified.
func (m *Manager) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.index == nil || m.index.Size() == 0 || k <= 0 {
		return nil, nil
	}
	neighbors, err := m.index.Search(query, k+m.tombstones)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	hits := make([]Hit, 0, k)
	for _, n := range neighbors {
		if n.Position < 0 || n.Position >= len(m.slots) || m.slots[n.Position] == nil {
			continue
		}
		hits = append(hits, Hit{Package: m.slots[n.Position], Distance: n.Distance, Position: n.Position})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Get returns the stored package for id.
func (m *Manager) Get(id string) (*models.Package, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	return m.slots[pos], true
}

// Documents returns the live packages in position order.
func (m *Manager) Documents() []*models.Package {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Package, 0, len(m.positions))
	for _, pkg := range m.slots {
		if pkg != nil {
			out = append(out, pkg)
		}
	}
	return out
}

// Stats describes the manager's state.
type Stats struct {
	Documents   int                   `json:"documents"`
	Vectors     int                   `json:"vectors"`
	IndexSize   int                   `json:"index_size"`
	Tombstones  int                   `json:"tombstones"`
	UpdateCount int                   `json:"update_count"`
	Metric      string                `json:"metric"`
	Dimensions  int                   `json:"dimensions"`
	LastUpdated time.Time             `json:"last_updated,omitzero"`
	LastRebuild time.Time             `json:"last_rebuild,omitzero"`
	Embedding   *embedding.CacheStats `json:"embedding_cache,omitempty"`
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	s := Stats{
		Documents:   len(m.positions),
		Vectors:     len(m.vectors),
		Tombstones:  m.tombstones,
		UpdateCount: m.updateCount,
		Metric:      m.cfg.Metric,
		Dimensions:  m.cfg.Dimensions,
		LastUpdated: m.lastUpdated,
		LastRebuild: m.lastRebuild,
	}
	if m.index != nil {
		s.IndexSize = m.index.Size()
		s.Metric = m.index.Type()
	}
	m.mu.RUnlock()
	if c, ok := m.embedder.(*embedding.Cache); ok {
		es := c.Stats()
		s.Embedding = &es
	}
	return s
}
