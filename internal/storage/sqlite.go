package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/tabi/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS packages (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		location TEXT,
		fingerprint TEXT NOT NULL,
		package_json TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_packages_source ON packages(source);
	CREATE INDEX IF NOT EXISTS idx_packages_location ON packages(location);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertPackage inserts pkg or replaces the stored row with the same ID.
// created_at survives replacement. The package must have an ID.
func (s *SQLiteStorage) UpsertPackage(ctx context.Context, pkg *models.Package) error {
	if pkg.ID == "" {
		return errors.New("package ID is required")
	}
	body, err := json.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("failed to marshal package: %w", err)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO packages (id, name, location, fingerprint, package_json, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			fingerprint = excluded.fingerprint,
			package_json = excluded.package_json,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		pkg.ID, pkg.Name, pkg.Location, pkg.Fingerprint(), string(body), pkg.Source, now, now,
	)
	return err
}

// GetPackage returns a package by ID, or ErrNotFound.
func (s *SQLiteStorage) GetPackage(ctx context.Context, id string) (*models.Package, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT package_json FROM packages WHERE id = ?`, id,
	).Scan(&body)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodePackage(body)
}

// DeletePackage removes a package by ID.
func (s *SQLiteStorage) DeletePackage(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM packages WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ListPackages returns packages ordered by ID with offset and limit.
// A limit <= 0 returns every package after offset.
func (s *SQLiteStorage) ListPackages(ctx context.Context, offset, limit int) ([]*models.Package, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT package_json FROM packages ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pkgs []*models.Package
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		pkg, err := decodePackage(body)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, rows.Err()
}

// CountPackages returns the total number of packages.
func (s *SQLiteStorage) CountPackages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM packages`).Scan(&count)
	return count, err
}

// PackageIDsBySource returns the IDs of packages loaded from source, sorted.
func (s *SQLiteStorage) PackageIDsBySource(ctx context.Context, source string) ([]string, error) {
	return queryStrings(ctx, s.db, `SELECT id FROM packages WHERE source = ? ORDER BY id`, source)
}

// DeleteBySource removes every package loaded from source and returns their IDs.
func (s *SQLiteStorage) DeleteBySource(ctx context.Context, source string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids, err := queryStrings(ctx, tx, `SELECT id FROM packages WHERE source = ? ORDER BY id`, source)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE source = ?`, source); err != nil {
		return nil, err
	}
	return ids, tx.Commit()
}

// Sources returns the distinct non-empty sources of stored packages, sorted.
func (s *SQLiteStorage) Sources(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, s.db, `SELECT DISTINCT source FROM packages WHERE source != '' ORDER BY source`)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func decodePackage(body string) (*models.Package, error) {
	var pkg models.Package
	if err := json.Unmarshal([]byte(body), &pkg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal package: %w", err)
	}
	return &pkg, nil
}
