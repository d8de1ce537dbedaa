package search

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hyperjump/tabi/internal/embedding"
	"github.com/hyperjump/tabi/internal/indexer"
	"github.com/hyperjump/tabi/internal/models"
)

const dim = 256

func newTestEngine(t *testing.T, boost bool, pkgs ...*models.Package) (*Engine, *embedding.MockEmbedder) {
	t.Helper()
	mock := embedding.NewMockEmbedder(dim)
	cache := embedding.NewCache(mock, dim)
	m, err := indexer.NewManager(indexer.Config{Dimensions: dim}, cache)
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) > 0 {
		if _, err := m.AddOrUpdate(context.Background(), pkgs, nil); err != nil {
			t.Fatal(err)
		}
	}
	return NewEngine(m, cache, Config{Dimensions: dim, CategoryBoost: boost}), mock
}

func beachAndMountain() []*models.Package {
	return []*models.Package{
		{ID: "A", Name: "Beach Getaway", Description: "sunny beaches"},
		{ID: "B", Name: "Mountain Trek", Description: "alpine hiking"},
	}
}

func TestEngine_BeachQueryPrefersBeach(t *testing.T) {
	engine, _ := newTestEngine(t, true, beachAndMountain()...)
	resp, err := engine.Search(context.Background(), &models.SearchQuery{Query: "beach vacation", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].Package.ID != "A" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if resp.Category != "beach" || resp.Results[0].Boost != 0.5 {
		t.Errorf("category=%q boost=%v", resp.Category, resp.Results[0].Boost)
	}
	if resp.Degraded {
		t.Error("unexpected degraded response")
	}
}

func TestEngine_ChangeDetectionThroughSearch(t *testing.T) {
	engine, mock := newTestEngine(t, true, beachAndMountain()...)
	m := engine.index.(*indexer.Manager)
	before := mock.Calls()

	if _, err := m.AddOrUpdate(context.Background(), beachAndMountain()[:1], nil); err != nil {
		t.Fatal(err)
	}
	if mock.Calls() != before {
		t.Errorf("identical resubmit made %d embedder calls", mock.Calls()-before)
	}
	changed := beachAndMountain()[0]
	changed.Description = "sunny beaches, calm lagoons"
	if _, err := m.AddOrUpdate(context.Background(), []*models.Package{changed}, nil); err != nil {
		t.Fatal(err)
	}
	if mock.Calls() != before+1 {
		t.Errorf("changed resubmit made %d embedder calls, want 1", mock.Calls()-before)
	}
}

func TestEngine_NoRerankWithoutCategory(t *testing.T) {
	engine, _ := newTestEngine(t, true, beachAndMountain()...)
	resp, err := engine.Search(context.Background(), &models.SearchQuery{Query: "alpine trek", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Category != "" {
		t.Errorf("category = %q", resp.Category)
	}
	for _, r := range resp.Results {
		if r.Boost != 0 || r.Score != r.Similarity {
			t.Errorf("unexpected boost on %s: %+v", r.Package.ID, r)
		}
	}
	if len(resp.Results) != 2 || resp.Results[1].Similarity != 0 {
		t.Errorf("farthest candidate should score 0: %+v", resp.Results)
	}
}

func TestEngine_DisableRerank(t *testing.T) {
	engine, _ := newTestEngine(t, true, beachAndMountain()...)
	resp, _ := engine.Search(context.Background(), &models.SearchQuery{Query: "beach", Limit: 2, DisableRerank: true})
	if resp.Category != "" {
		t.Error("rerank should be skipped")
	}
	engine, _ = newTestEngine(t, false, beachAndMountain()...)
	resp, _ = engine.Search(context.Background(), &models.SearchQuery{Query: "beach", Limit: 2})
	if resp.Category != "" {
		t.Error("category boost disabled in config")
	}
}

func TestEngine_EmptyIndex(t *testing.T) {
	engine, _ := newTestEngine(t, true)
	resp, err := engine.Search(context.Background(), &models.SearchQuery{Query: "beach"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 0 || resp.Results == nil {
		t.Errorf("resp = %+v", resp)
	}
}

func TestEngine_FallbackOnEmbedderFailure(t *testing.T) {
	engine, mock := newTestEngine(t, true, beachAndMountain()...)
	mock.FailOn("storm")
	resp, err := engine.Search(context.Background(), &models.SearchQuery{Query: "storm chasing", Limit: 2})
	if err != nil {
		t.Fatalf("fallback should keep search available: %v", err)
	}
	if !resp.Degraded || resp.Total != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestEngine_InvalidQuery(t *testing.T) {
	engine, _ := newTestEngine(t, true)
	if _, err := engine.Search(context.Background(), &models.SearchQuery{}); err == nil {
		t.Error("expected error for empty query")
	}
	if err := ProcessQuery(nil); err == nil {
		t.Error("expected error for nil query")
	}
}

type failingIndex struct{}

func (failingIndex) Search(ctx context.Context, q []float32, k int) ([]indexer.Hit, error) {
	return nil, errors.New("boom")
}

func TestEngine_IndexError(t *testing.T) {
	engine := NewEngine(failingIndex{}, embedding.NewMockEmbedder(8), Config{})
	if _, err := engine.Search(context.Background(), &models.SearchQuery{Query: "x"}); err == nil {
		t.Error("expected index error")
	}
}

type recordingIndex struct{ k int }

func (r *recordingIndex) Search(ctx context.Context, q []float32, k int) ([]indexer.Hit, error) {
	r.k = k
	return nil, nil
}

func TestEngine_Overfetch(t *testing.T) {
	idx := &recordingIndex{}
	engine := NewEngine(idx, embedding.NewMockEmbedder(8), Config{})
	_, _ = engine.Search(context.Background(), &models.SearchQuery{Query: "x", Limit: 3})
	if idx.k != 6 {
		t.Errorf("requested %d candidates, want 6", idx.k)
	}
}

func TestSimilarities(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"empty", nil, []float64{}},
		{"all zero", []float64{0, 0}, []float64{1, 1}},
		{"relative", []float64{0, 1, 2}, []float64{1, 0.5, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarities(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d", len(got))
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-12 {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestEngine_ConfiguredLimits(t *testing.T) {
	idx := &recordingIndex{}
	engine := NewEngine(idx, embedding.NewMockEmbedder(8), Config{DefaultLimit: 2, MaxLimit: 4, OverfetchFactor: 3})

	q := &models.SearchQuery{Query: "x"}
	_, _ = engine.Search(context.Background(), q)
	if idx.k != 6 {
		t.Errorf("default: k=%d", idx.k)
	}
	q = &models.SearchQuery{Query: "x", Limit: 50}
	_, _ = engine.Search(context.Background(), q)
	if idx.k != 12 {
		t.Errorf("capped: k=%d", idx.k)
	}
}

func TestEngine_LeavesCallerQueryUntouched(t *testing.T) {
	engine := NewEngine(&recordingIndex{}, embedding.NewMockEmbedder(8), Config{DefaultLimit: 2, MaxLimit: 4})
	for _, limit := range []int{0, 50} {
		q := &models.SearchQuery{Query: "x", Limit: limit}
		if _, err := engine.Search(context.Background(), q); err != nil {
			t.Fatal(err)
		}
		if q.Limit != limit {
			t.Errorf("Limit changed from %d to %d", limit, q.Limit)
		}
	}
}

type staticIndex struct{ hits []indexer.Hit }

func (s *staticIndex) Search(ctx context.Context, q []float32, k int) ([]indexer.Hit, error) {
	if k > len(s.hits) {
		k = len(s.hits)
	}
	return s.hits[:k], nil
}

func filterCandidates() *staticIndex {
	pkgs := []*models.Package{
		{ID: "p1", Name: "Kuta Surf", Location: "Bali", Country: "Indonesia", Price: models.Price{Amount: 900}},
		{ID: "p2", Name: "Ubud Retreat", Location: "Bali", Country: "Indonesia", Price: models.Price{Amount: 2500}},
		{ID: "p3", Name: "Phuket Sands", Location: "Phuket", Country: "Thailand", Price: models.Price{Amount: 800}},
		{ID: "p4", Name: "Krabi Cliffs", Location: "Krabi", Country: "Thailand", Price: models.Price{Amount: 700}},
	}
	idx := &staticIndex{}
	for i, p := range pkgs {
		idx.hits = append(idx.hits, indexer.Hit{Package: p, Distance: float64(i), Position: i})
	}
	return idx
}

func resultIDs(resp *models.SearchResponse) []string {
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.Package.ID
	}
	return ids
}

func TestEngine_QueryFilterRefillsFromOverfetch(t *testing.T) {
	engine := NewEngine(filterCandidates(), embedding.NewMockEmbedder(8), Config{})
	resp, err := engine.Search(context.Background(), &models.SearchQuery{
		Query:  "quiet escape",
		Limit:  2,
		Filter: &models.PackageFilter{Country: "thailand"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := resultIDs(resp)
	if len(got) != 2 || got[0] != "p3" || got[1] != "p4" {
		t.Fatalf("results = %v, want [p3 p4]", got)
	}
	if resp.Results[0].Rank != 1 || resp.Results[1].Rank != 2 {
		t.Errorf("ranks = %d, %d", resp.Results[0].Rank, resp.Results[1].Rank)
	}
	// Similarity stays relative to the whole candidate pool.
	if math.Abs(resp.Results[1].Similarity) > 1e-12 {
		t.Errorf("p4 similarity = %v, want 0", resp.Results[1].Similarity)
	}
}

func TestEngine_FilterCombinations(t *testing.T) {
	tests := []struct {
		name   string
		filter *models.PackageFilter
		opts   []Option
		want   []string
	}{
		{"no filter", nil, nil, []string{"p1", "p2"}},
		{"location", &models.PackageFilter{Location: "bal"}, nil, []string{"p1", "p2"}},
		{"max price", &models.PackageFilter{MaxPrice: 850}, nil, []string{"p3", "p4"}},
		{"option", nil, []Option{WithFilter(func(p *models.Package) bool { return p.ID != "p1" })}, []string{"p2", "p3"}},
		{"option and query", &models.PackageFilter{MaxPrice: 1000},
			[]Option{WithFilter(func(p *models.Package) bool { return p.ID != "p1" })}, []string{"p3", "p4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(filterCandidates(), embedding.NewMockEmbedder(8), Config{}, tt.opts...)
			resp, err := engine.Search(context.Background(), &models.SearchQuery{Query: "quiet escape", Limit: 2, Filter: tt.filter})
			if err != nil {
				t.Fatal(err)
			}
			got := resultIDs(resp)
			if len(got) != len(tt.want) {
				t.Fatalf("results = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("results = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
