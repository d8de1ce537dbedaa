package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/tabi/internal/models"
)

func openStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_CRUD(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	pkg := &models.Package{
		ID:          "bali-1",
		Name:        "Bali Escape",
		Location:    "Bali",
		Description: "Beaches and temples",
		Price:       models.Price{Amount: 1200, Currency: "USD"},
		Activities:  []models.Activity{{Name: "Surfing", Included: true}},
		Source:      "catalog.json",
	}
	if err := store.UpsertPackage(ctx, pkg); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetPackage(ctx, "bali-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Bali Escape" || got.Price.Amount != 1200 || len(got.Activities) != 1 {
		t.Errorf("got %+v", got)
	}

	pkg.Name = "Bali Escape Deluxe"
	if err := store.UpsertPackage(ctx, pkg); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetPackage(ctx, "bali-1")
	if got.Name != "Bali Escape Deluxe" {
		t.Errorf("expected updated name, got %s", got.Name)
	}
	if n, _ := store.CountPackages(ctx); n != 1 {
		t.Errorf("upsert should replace, count = %d", n)
	}

	removed, err := store.DeletePackage(ctx, "bali-1")
	if err != nil || !removed {
		t.Fatalf("DeletePackage = %v, %v", removed, err)
	}
	removed, _ = store.DeletePackage(ctx, "bali-1")
	if removed {
		t.Error("second delete should report nothing removed")
	}
	if _, err := store.GetPackage(ctx, "bali-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_RequiresID(t *testing.T) {
	store := openStore(t)
	if err := store.UpsertPackage(context.Background(), &models.Package{Name: "x"}); err == nil {
		t.Error("expected error for package without ID")
	}
}

func TestSQLiteStorage_KeepsCreatedAt(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return t0 }
	_ = store.UpsertPackage(ctx, &models.Package{ID: "a", Name: "A"})
	store.now = func() time.Time { return t0.Add(time.Hour) }
	_ = store.UpsertPackage(ctx, &models.Package{ID: "a", Name: "A2"})

	var created, updated time.Time
	err := store.db.QueryRowContext(ctx, `SELECT created_at, updated_at FROM packages WHERE id = 'a'`).Scan(&created, &updated)
	if err != nil {
		t.Fatal(err)
	}
	if !created.Equal(t0) || !updated.Equal(t0.Add(time.Hour)) {
		t.Errorf("created=%v updated=%v", created, updated)
	}
}

func TestSQLiteStorage_List(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		if err := store.UpsertPackage(ctx, &models.Package{ID: id, Name: id}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListPackages(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "a" || all[2].ID != "c" {
		t.Errorf("all = %v", ids(all))
	}

	page, err := store.ListPackages(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "b" {
		t.Errorf("page = %v", ids(page))
	}
}

func TestSQLiteStorage_Sources(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	pkgs := []*models.Package{
		{ID: "1", Name: "one", Source: "a.json"},
		{ID: "2", Name: "two", Source: "a.json"},
		{ID: "3", Name: "three", Source: "b.xlsx"},
		{ID: "4", Name: "four"},
	}
	for _, p := range pkgs {
		if err := store.UpsertPackage(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.PackageIDsBySource(ctx, "a.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("PackageIDsBySource = %v", got)
	}

	sources, err := store.Sources(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 || sources[0] != "a.json" || sources[1] != "b.xlsx" {
		t.Errorf("Sources = %v", sources)
	}

	removed, err := store.DeleteBySource(ctx, "a.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Errorf("DeleteBySource removed %v", removed)
	}
	if n, _ := store.CountPackages(ctx); n != 2 {
		t.Errorf("count after DeleteBySource = %d, want 2", n)
	}
	if got, _ := store.PackageIDsBySource(ctx, "a.json"); len(got) != 0 {
		t.Errorf("expected no packages left for a.json, got %v", got)
	}
}

func ids(pkgs []*models.Package) []string {
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.ID
	}
	return out
}
