package ranking

import (
	"sort"
	"strings"

	"github.com/hyperjump/tabi/internal/models"
)

// Ranker applies category boosts to search candidates.
type Ranker struct {
	config *RankingConfig
}

// NewRanker creates a new Ranker with the given configuration.
func NewRanker(config *RankingConfig) *Ranker {
	if config == nil {
		config = DefaultRankingConfig()
	}
	config.ApplyDefaults()
	return &Ranker{config: config}
}

// Detect returns the category the query belongs to, if any.
func (r *Ranker) Detect(query string) (Category, bool) {
	return Detect(r.config.Categories, query)
}

// Boost returns the boost pkg earns for category c: the primary boost when
// c's keyword is in the name or description, else the activity boost when an
// activity name contains one of c's markers, else zero.
func (r *Ranker) Boost(pkg *models.Package, c Category) float64 {
	kw := strings.ToLower(c.Keyword)
	if kw != "" && (strings.Contains(strings.ToLower(pkg.Name), kw) ||
		strings.Contains(strings.ToLower(pkg.Description), kw)) {
		return r.config.PrimaryBoost
	}
	for _, a := range pkg.Activities {
		name := strings.ToLower(a.Name)
		for _, marker := range c.ActivityMarkers {
			if strings.Contains(name, strings.ToLower(marker)) {
				return r.config.ActivityBoost
			}
		}
	}
	return 0
}

// Rerank sets Boost and Score on each result for category c and sorts the
// results by Score, highest first. Equal scores keep their incoming order.
// Rank is renumbered from 1.
func (r *Ranker) Rerank(results []*models.SearchResult, c Category) {
	for _, res := range results {
		res.Boost = r.Boost(res.Package, c)
		res.Score = res.Similarity + res.Boost
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	for i, res := range results {
		res.Rank = i + 1
	}
}
