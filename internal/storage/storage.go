// Package storage persists the package catalog of record.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/tabi/internal/models"
)

// ErrNotFound is returned when a package ID is not stored.
var ErrNotFound = errors.New("package not found")

// Storage defines package catalog operations.
type Storage interface {
	// UpsertPackage inserts or replaces a package keyed by its ID.
	UpsertPackage(ctx context.Context, pkg *models.Package) error
	GetPackage(ctx context.Context, id string) (*models.Package, error)
	// DeletePackage reports whether a row was removed.
	DeletePackage(ctx context.Context, id string) (bool, error)
	ListPackages(ctx context.Context, offset, limit int) ([]*models.Package, error)
	CountPackages(ctx context.Context) (int64, error)

	// Source operations
	PackageIDsBySource(ctx context.Context, source string) ([]string, error)
	DeleteBySource(ctx context.Context, source string) ([]string, error)
	Sources(ctx context.Context) ([]string, error)

	Close() error
}
