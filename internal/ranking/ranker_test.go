package ranking

import (
	"math"
	"testing"

	"github.com/hyperjump/tabi/internal/models"
)

func TestDetectCategory(t *testing.T) {
	tests := []struct {
		query string
		want  string
		found bool
	}{
		{"beach vacation", "beach", true},
		{"Seaside escape for two", "beach", true},
		{"OCEAN view", "beach", true},
		{"hiking in the alps", "mountain", true},
		{"nature retreat", "mountain", true},
		{"urban weekend", "city", true},
		{"museum tour", "city", true},
		{"a beach near a mountain", "beach", true}, // declaration order wins
		{"romantic honeymoon", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, ok := DetectCategory(tt.query)
			if ok != tt.found || got.Name != tt.want {
				t.Errorf("DetectCategory(%q) = %q, %v; want %q, %v", tt.query, got.Name, ok, tt.want, tt.found)
			}
		})
	}
}

func TestRanker_Boost(t *testing.T) {
	r := NewRanker(nil)
	beach, _ := DetectCategory("beach")
	mountain, _ := DetectCategory("mountain")
	city, _ := DetectCategory("city")

	tests := []struct {
		name string
		pkg  *models.Package
		cat  Category
		want float64
	}{
		{"name", &models.Package{Name: "Beach Getaway"}, beach, 0.5},
		{"description", &models.Package{Description: "white sand BEACHES"}, beach, 0.5},
		{"activity", &models.Package{Name: "Island Hop", Activities: []models.Activity{{Name: "Beach volleyball"}}}, beach, 0.3},
		{"hik marker", &models.Package{Activities: []models.Activity{{Name: "Hiking"}}}, mountain, 0.3},
		{"sight marker", &models.Package{Activities: []models.Activity{{Name: "Sightseeing tour"}}}, city, 0.3},
		{"primary beats activity", &models.Package{Name: "Mountain Lodge", Activities: []models.Activity{{Name: "Hiking"}}}, mountain, 0.5},
		{"none", &models.Package{Name: "Mountain Trek", Description: "alpine hiking"}, beach, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Boost(tt.pkg, tt.cat); got != tt.want {
				t.Errorf("Boost = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRanker_Rerank(t *testing.T) {
	r := NewRanker(nil)
	beach, _ := DetectCategory("beach vacation")
	results := []*models.SearchResult{
		{Package: &models.Package{ID: "B", Name: "Mountain Trek", Description: "alpine hiking"}, Similarity: 1},
		{Package: &models.Package{ID: "C", Name: "Paris Lights"}, Similarity: 0.4},
		{Package: &models.Package{ID: "D", Name: "Rome Walks"}, Similarity: 0.4},
		{Package: &models.Package{ID: "A", Name: "Beach Getaway", Description: "sunny beaches"}, Similarity: 0.6},
	}
	r.Rerank(results, beach)

	wantOrder := []string{"A", "B", "C", "D"}
	for i, id := range wantOrder {
		if results[i].Package.ID != id {
			t.Fatalf("position %d = %s, want %s", i, results[i].Package.ID, id)
		}
		if results[i].Rank != i+1 {
			t.Errorf("rank of %s = %d", id, results[i].Rank)
		}
	}
	if results[0].Boost != 0.5 || math.Abs(results[0].Score-1.1) > 1e-9 {
		t.Errorf("A boost=%v score=%v", results[0].Boost, results[0].Score)
	}
}

func TestRankingConfig_ApplyDefaults(t *testing.T) {
	c := &RankingConfig{PrimaryBoost: 1}
	c.ApplyDefaults()
	if c.PrimaryBoost != 1 || c.ActivityBoost != 0.3 || len(c.Categories) != 3 {
		t.Errorf("config = %+v", c)
	}

	custom := NewRanker(&RankingConfig{Categories: []Category{{Name: "ski", QueryKeywords: []string{"ski"}, Keyword: "ski"}}})
	if got, ok := custom.Detect("ski trip"); !ok || got.Name != "ski" {
		t.Errorf("custom Detect = %v, %v", got, ok)
	}
	if _, ok := custom.Detect("beach"); ok {
		t.Error("custom categories replace the defaults")
	}
}
