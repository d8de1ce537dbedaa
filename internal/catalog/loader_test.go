package catalog

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFile_jsonArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packages.json")
	writeFile(t, path, `[
		{"id": "p1", "name": "Bali Escape", "destination": "Bali", "price": "1,200", "activities": ["Beach day", "Snorkeling"]},
		{"name": "Alps Trek", "location": "Zermatt", "price": {"amount": 2400, "currency": "CHF"}}
	]`)

	pkgs, err := NewLoader().LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("got %d packages, want 2", len(pkgs))
	}
	if pkgs[0].ID != "p1" || pkgs[0].Location != "Bali" || pkgs[0].Price.Amount != 1200 {
		t.Errorf("first package = %+v", pkgs[0])
	}
	if len(pkgs[0].Activities) != 2 {
		t.Errorf("activities = %+v", pkgs[0].Activities)
	}
	if pkgs[1].ID == "" {
		t.Error("second package should get a derived ID")
	}
	if pkgs[1].Price.Currency != "CHF" {
		t.Errorf("currency = %q", pkgs[1].Price.Currency)
	}
	for _, p := range pkgs {
		if p.Source != path {
			t.Errorf("source = %q, want %q", p.Source, path)
		}
	}
}

func TestLoadFile_jsonWrapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	writeFile(t, path, `{"packages": [{"id": "a", "name": "A"}, {"description": "no id or name"}]}`)

	pkgs, err := NewLoader().LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(pkgs) != 1 || pkgs[0].ID != "a" {
		t.Errorf("got %+v, want only package a", pkgs)
	}
}

func TestLoadFile_invalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	writeFile(t, path, `[{"id": `)
	if _, err := NewLoader().LoadFile(context.Background(), path); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestLoadFile_unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, path, "hello")
	_, err := NewLoader().LoadFile(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestLoadFile_missing(t *testing.T) {
	_, err := NewLoader().LoadFile(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"ID", "Name", "Destination", "Price", "Activities", "Description"},
		{"x1", "Maldives Retreat", "Maldives", "3500", "Beach; Diving; Spa", "Overwater villas"},
		{"", "Kyoto Culture", "Kyoto", "1800", "Temples, Museum tour", ""},
		{},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	pkgs, err := NewLoader().LoadBytes(buf.Bytes(), ".xlsx", "sheet.xlsx")
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("got %d packages, want 2", len(pkgs))
	}
	if pkgs[0].ID != "x1" || pkgs[0].Location != "Maldives" || pkgs[0].Price.Amount != 3500 {
		t.Errorf("first = %+v", pkgs[0])
	}
	if got := pkgs[0].ActivityNames(); len(got) != 3 || got[1] != "Diving" {
		t.Errorf("activities = %v", got)
	}
	if got := pkgs[1].ActivityNames(); len(got) != 2 || got[1] != "Museum tour" {
		t.Errorf("activities = %v", got)
	}
	if pkgs[1].ID == "" {
		t.Error("derived ID missing")
	}
}

func TestLoadAll_order(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"c.json", "a.json", "b.json"} {
		p := filepath.Join(dir, name)
		writeFile(t, p, `[{"id": "`+name+`", "name": "N"}]`)
		paths = append(paths, p)
	}

	pkgs, err := NewLoader(WithConcurrency(2)).LoadAll(context.Background(), paths)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	want := []string{"c.json", "a.json", "b.json"}
	if len(pkgs) != len(want) {
		t.Fatalf("got %d packages", len(pkgs))
	}
	for i, id := range want {
		if pkgs[i].ID != id {
			t.Errorf("pkgs[%d].ID = %q, want %q", i, pkgs[i].ID, id)
		}
	}
}

func TestLoadAll_failure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	writeFile(t, good, `[{"id": "g", "name": "G"}]`)
	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, `not json`)

	if _, err := NewLoader().LoadAll(context.Background(), []string{good, bad}); err == nil {
		t.Error("expected error when one file fails")
	}
}

func TestLoadFile_cancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	writeFile(t, path, `[]`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLoader().LoadFile(ctx, path); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
