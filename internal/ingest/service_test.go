package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/tabi/internal/embedding"
	"github.com/hyperjump/tabi/internal/indexer"
	"github.com/hyperjump/tabi/internal/models"
	"github.com/hyperjump/tabi/internal/storage"
)

const testDim = 32

type fixture struct {
	svc   *Service
	store *storage.SQLiteStorage
	index *indexer.Manager
	mock  *embedding.MockEmbedder
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "packages.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	mock := embedding.NewMockEmbedder(testDim)
	index, err := indexer.NewManager(indexer.Config{Dimensions: testDim}, mock)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{svc: NewService(store, index), store: store, index: index, mock: mock, dir: dir}
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, "catalogs", name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const twoPackages = `[
	{"id": "bali", "name": "Bali Beach", "location": "Bali", "description": "beach resort"},
	{"id": "alps", "name": "Alps Trek", "location": "Zermatt", "description": "mountain hiking"}
]`

func TestIngestFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.write(t, "a.json", twoPackages)

	res, err := f.svc.IngestFile(ctx, path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if res.Files != 1 || res.Added != 2 {
		t.Errorf("result = %+v", res)
	}
	if n, _ := f.store.CountPackages(ctx); n != 2 {
		t.Errorf("stored %d packages, want 2", n)
	}
	if _, ok := f.index.Get("bali"); !ok {
		t.Error("bali not indexed")
	}
	stored, err := f.store.GetPackage(ctx, "alps")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Source != path {
		t.Errorf("source = %q, want %q", stored.Source, path)
	}

	calls := f.mock.Calls()
	res, err = f.svc.IngestFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 2 || f.mock.Calls() != calls {
		t.Errorf("re-ingest of unchanged file = %+v, embed calls %d", res, f.mock.Calls()-calls)
	}
}

func TestIngestFile_removesDisappeared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.write(t, "a.json", twoPackages)
	if _, err := f.svc.IngestFile(ctx, path); err != nil {
		t.Fatal(err)
	}

	f.write(t, "a.json", `[{"id": "bali", "name": "Bali Beach", "location": "Bali", "description": "beach resort and spa"}]`)
	res, err := f.svc.IngestFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 || res.Removed != 1 {
		t.Errorf("result = %+v, want 1 updated and 1 removed", res)
	}
	if _, ok := f.index.Get("alps"); ok {
		t.Error("alps should be gone from the index")
	}
	if n, _ := f.store.CountPackages(ctx); n != 1 {
		t.Errorf("stored %d packages, want 1", n)
	}
}

func TestIngestFile_errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.IngestFile(ctx, filepath.Join(f.dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := f.svc.IngestFile(ctx, f.dir); err == nil {
		t.Error("expected error for directory")
	}
	bad := f.write(t, "bad.json", "{nope")
	if _, err := f.svc.IngestFile(ctx, bad); err == nil {
		t.Error("expected error for malformed catalog")
	}
}

func TestIngestPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.json", twoPackages)
	f.write(t, "nested/b.json", `[{"id": "kyoto", "name": "Kyoto Culture", "location": "Kyoto"}]`)
	f.write(t, "broken.json", "[")

	res, err := f.svc.IngestPaths(ctx, []string{filepath.Join(f.dir, "catalogs")}, nil)
	if err == nil {
		t.Error("expected joined error for the broken file")
	}
	if res.Files != 2 || res.Added != 3 {
		t.Errorf("result = %+v", res)
	}
}

func TestRemoveFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.write(t, "a.json", twoPackages)
	if _, err := f.svc.IngestFile(ctx, path); err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.RemoveFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}
	if st := f.index.Stats(); st.Documents != 0 {
		t.Errorf("index still has %d documents", st.Documents)
	}
}

func TestUpsertAndDeletePackage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.UpsertPackages(ctx, []*models.Package{{Name: "Lisbon Lights", Location: "Lisbon"}, nil})
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 1 {
		t.Errorf("result = %+v", res)
	}
	id := models.DerivePackageID("Lisbon Lights", "Lisbon")
	if _, err := f.store.GetPackage(ctx, id); err != nil {
		t.Errorf("derived ID not stored: %v", err)
	}

	removed, err := f.svc.DeletePackage(ctx, id)
	if err != nil || !removed {
		t.Fatalf("DeletePackage = %v, %v", removed, err)
	}
	removed, _ = f.svc.DeletePackage(ctx, id)
	if removed {
		t.Error("second delete should report false")
	}
}

func TestReindex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, p := range []*models.Package{
		{ID: "x", Name: "X"},
		{ID: "y", Name: "Y"},
	} {
		if err := f.store.UpsertPackage(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	res, err := f.svc.Reindex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 2 {
		t.Errorf("first reindex = %+v", res)
	}
	res, err = f.svc.Reindex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 2 || res.Added != 0 {
		t.Errorf("second reindex = %+v", res)
	}
}

func TestUpsertPackages_refreshesIndexedCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bali := func(duration, country string) []*models.Package {
		return []*models.Package{{ID: "bali", Name: "Bali Beach", Location: "Bali", Description: "beach resort", Duration: duration, Country: country}}
	}
	if _, err := f.svc.UpsertPackages(ctx, bali("5 days", "Unknown")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpsertPackages(ctx, bali("7 days", "Indonesia")); err != nil {
		t.Fatal(err)
	}

	stored, err := f.store.GetPackage(ctx, "bali")
	if err != nil {
		t.Fatal(err)
	}
	indexed, ok := f.index.Get("bali")
	if !ok {
		t.Fatal("bali not indexed")
	}
	if indexed.Duration != stored.Duration || indexed.Country != stored.Country {
		t.Errorf("index copy %q/%q, stored %q/%q", indexed.Duration, indexed.Country, stored.Duration, stored.Country)
	}
	if f.mock.Calls() != 1 {
		t.Errorf("embedder calls = %d, want 1", f.mock.Calls())
	}
}
