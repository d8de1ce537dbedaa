// Package catalog loads travel packages from catalog files on disk.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/pkg/utils"
)

// ErrUnsupportedFormat is returned for catalog files that are neither JSON nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported catalog format")

// DefaultConcurrency bounds LoadAll's parallel file reads.
const DefaultConcurrency = 4

// Loader reads catalog files and normalizes their records into packages.
type Loader struct {
	logger      *zap.Logger
	concurrency int
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger used to report skipped records.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) { ld.logger = utils.LoggerOrNop(l) }
}

// WithConcurrency sets how many files LoadAll reads at once.
func WithConcurrency(n int) Option {
	return func(ld *Loader) {
		if n > 0 {
			ld.concurrency = n
		}
	}
}

// NewLoader returns a Loader.
func NewLoader(opts ...Option) *Loader {
	ld := &Loader{logger: zap.NewNop(), concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Supported reports whether path has a catalog extension LoadFile understands.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".xlsx":
		return true
	}
	return false
}

// LoadFile reads the catalog at path. Every returned package has an ID and
// its Source set to path. Records that cannot be normalized are skipped.
func (ld *Loader) LoadFile(ctx context.Context, path string) ([]*models.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ld.LoadBytes(content, strings.ToLower(filepath.Ext(path)), path)
}

// LoadBytes parses catalog content with the given extension (".json" or
// ".xlsx"). source is recorded on every package.
func (ld *Loader) LoadBytes(content []byte, ext, source string) ([]*models.Package, error) {
	var (
		records []map[string]any
		err     error
	)
	switch ext {
	case ".json":
		records, err = parseJSON(content)
	case ".xlsx":
		records, err = parseExcel(content)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	pkgs := make([]*models.Package, 0, len(records))
	for i, rec := range records {
		p, err := models.NormalizePackage(rec)
		if err != nil {
			ld.logger.Warn("Skipping catalog record",
				zap.String("source", source),
				zap.Int("record", i),
				zap.Error(err))
			continue
		}
		p.Source = source
		pkgs = append(pkgs, p)
	}
	return pkgs, nil
}

// LoadAll loads every path concurrently. Packages are returned in path order,
// then file order. The first failing file aborts the load.
func (ld *Loader) LoadAll(ctx context.Context, paths []string) ([]*models.Package, error) {
	results := make([][]*models.Package, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ld.concurrency)
	for i, path := range paths {
		g.Go(func() error {
			pkgs, err := ld.LoadFile(gctx, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = pkgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*models.Package
	for _, pkgs := range results {
		out = append(out, pkgs...)
	}
	return out, nil
}
