// Package ingest moves catalog files into the package store and the vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/tabi/internal/catalog"
	"github.com/hyperjump/tabi/internal/indexer"
	"github.com/hyperjump/tabi/internal/metrics"
	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/internal/storage"
	"github.com/hyperjump/tabi/pkg/utils"
)

// reindexPage is how many stored packages Reindex sends per batch.
const reindexPage = 200

// Index is the subset of indexer.Manager the service writes to.
type Index interface {
	AddOrUpdate(ctx context.Context, pkgs []*models.Package, texts []string) (*indexer.BatchResult, error)
	Remove(ctx context.Context, id string) bool
}

// Result summarizes an ingestion run.
type Result struct {
	Files   int  `json:"files"`
	Added   int  `json:"added"`
	Updated int  `json:"updated"`
	Skipped int  `json:"skipped"`
	Failed  int  `json:"failed"`
	Removed int  `json:"removed"`
	Rebuilt bool `json:"rebuilt"`
}

func (r *Result) merge(b *indexer.BatchResult) {
	if b == nil {
		return
	}
	r.Added += b.Added
	r.Updated += b.Updated
	r.Skipped += b.Skipped
	r.Failed += b.Failed
	r.Rebuilt = r.Rebuilt || b.Rebuilt
}

func (r *Result) add(o *Result) {
	r.Files += o.Files
	r.Added += o.Added
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Removed += o.Removed
	r.Rebuilt = r.Rebuilt || o.Rebuilt
}

// Service keeps the SQLite catalog and the vector index in step.
type Service struct {
	store   storage.Storage
	index   Index
	loader  *catalog.Loader
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = utils.LoggerOrNop(l) }
}

// WithMetrics records ingestion outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = mt }
}

// WithLoader replaces the default catalog loader.
func WithLoader(l *catalog.Loader) Option {
	return func(s *Service) {
		if l != nil {
			s.loader = l
		}
	}
}

// NewService creates an ingestion service.
func NewService(store storage.Storage, index Index, opts ...Option) *Service {
	s := &Service{store: store, index: index, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.loader == nil {
		s.loader = catalog.NewLoader(catalog.WithLogger(s.logger))
	}
	return s
}

// IngestFile loads the catalog at path, stores its packages and indexes them.
// Packages that were previously ingested from the same file but are no
// longer in it are removed from both the store and the index.
func (s *Service) IngestFile(ctx context.Context, path string) (*Result, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	s.logger.Debug("Ingesting catalog file", zap.String("path", absPath))

	pkgs, err := s.loader.LoadFile(ctx, absPath)
	if err != nil {
		return nil, err
	}
	previous, err := s.store.PackageIDsBySource(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("list previous packages: %w", err)
	}

	res, err := s.upsert(ctx, pkgs)
	if err != nil {
		return nil, err
	}
	res.Files = 1

	current := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		current[p.ID] = true
	}
	for _, id := range previous {
		if current[id] {
			continue
		}
		if _, err := s.DeletePackage(ctx, id); err != nil {
			return res, err
		}
		res.Removed++
	}

	s.logger.Info("Catalog file ingested",
		zap.String("path", absPath),
		zap.Int("packages", len(pkgs)),
		zap.Int("added", res.Added),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int("removed", res.Removed))
	return res, nil
}

// IngestPaths ingests every catalog file under paths. A path may be a file or
// a directory searched with patterns. Files that fail are logged and counted;
// the error lists every failure.
func (s *Service) IngestPaths(ctx context.Context, paths, patterns []string) (*Result, error) {
	total := &Result{}
	var errs []error
	for _, root := range paths {
		files, err := catalog.Discover(root, patterns)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", root, err))
			continue
		}
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			res, err := s.IngestFile(ctx, file)
			if err != nil {
				s.logger.Warn("Catalog file failed", zap.String("path", file), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", file, err))
				continue
			}
			total.add(res)
		}
	}
	return total, errors.Join(errs...)
}

// UpsertPackages stores and indexes packages submitted directly.
func (s *Service) UpsertPackages(ctx context.Context, pkgs []*models.Package) (*Result, error) {
	return s.upsert(ctx, pkgs)
}

// RemoveFile removes every package that was ingested from path.
func (s *Service) RemoveFile(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	ids, err := s.store.DeleteBySource(ctx, absPath)
	if err != nil {
		return 0, fmt.Errorf("delete packages: %w", err)
	}
	for _, id := range ids {
		s.index.Remove(ctx, id)
	}
	s.metrics.Ingested("removed", len(ids))
	s.logger.Info("Catalog file removed", zap.String("path", absPath), zap.Int("packages", len(ids)))
	return len(ids), nil
}

// DeletePackage removes one package from the store and the index.
func (s *Service) DeletePackage(ctx context.Context, id string) (bool, error) {
	removed, err := s.store.DeletePackage(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete package %s: %w", id, err)
	}
	if s.index.Remove(ctx, id) {
		removed = true
	}
	if removed {
		s.metrics.Ingested("removed", 1)
	}
	return removed, nil
}

// Reindex sends every stored package through the index. Unchanged packages
// are skipped by change detection, so only missing or edited ones are embedded.
func (s *Service) Reindex(ctx context.Context) (*Result, error) {
	total := &Result{}
	for offset := 0; ; offset += reindexPage {
		pkgs, err := s.store.ListPackages(ctx, offset, reindexPage)
		if err != nil {
			return total, fmt.Errorf("list packages: %w", err)
		}
		if len(pkgs) == 0 {
			break
		}
		batch, err := s.index.AddOrUpdate(ctx, pkgs, nil)
		total.merge(batch)
		if err != nil {
			return total, err
		}
		if len(pkgs) < reindexPage {
			break
		}
	}
	s.record(total)
	s.logger.Info("Reindex complete",
		zap.Int("added", total.Added),
		zap.Int("updated", total.Updated),
		zap.Int("skipped", total.Skipped),
		zap.Int("failed", total.Failed))
	return total, nil
}

func (s *Service) upsert(ctx context.Context, pkgs []*models.Package) (*Result, error) {
	for _, p := range pkgs {
		if p == nil {
			continue
		}
		p.EnsureID()
		if err := s.store.UpsertPackage(ctx, p); err != nil {
			return nil, fmt.Errorf("store package %s: %w", p.ID, err)
		}
	}
	res := &Result{}
	batch, err := s.index.AddOrUpdate(ctx, pkgs, nil)
	res.merge(batch)
	if err != nil {
		return res, fmt.Errorf("index packages: %w", err)
	}
	s.record(res)
	return res, nil
}

func (s *Service) record(r *Result) {
	s.metrics.Ingested("added", r.Added)
	s.metrics.Ingested("updated", r.Updated)
	s.metrics.Ingested("skipped", r.Skipped)
	s.metrics.Ingested("failed", r.Failed)
}
