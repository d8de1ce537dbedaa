// Package ranking reranks semantic search candidates by travel category.
package ranking

import "strings"

// Category is a travel category recognized in queries.
type Category struct {
	Name string `yaml:"name"`
	// QueryKeywords select the category when any appears in the query.
	QueryKeywords []string `yaml:"query_keywords"`
	// Keyword earns the primary boost when it appears in a package's name
	// or description.
	Keyword string `yaml:"keyword"`
	// ActivityMarkers earn the activity boost when any appears in an
	// activity name.
	ActivityMarkers []string `yaml:"activity_markers"`
}

// DefaultCategories returns the beach, mountain and city groups.
func DefaultCategories() []Category {
	return []Category{
		{
			Name:            "beach",
			QueryKeywords:   []string{"beach", "seaside", "ocean"},
			Keyword:         "beach",
			ActivityMarkers: []string{"beach"},
		},
		{
			Name:            "mountain",
			QueryKeywords:   []string{"mountain", "hiking", "nature"},
			Keyword:         "mountain",
			ActivityMarkers: []string{"hik", "mountain"},
		},
		{
			Name:            "city",
			QueryKeywords:   []string{"city", "urban", "museum"},
			Keyword:         "city",
			ActivityMarkers: []string{"museum", "sight"},
		},
	}
}

// Detect returns the first category whose query keywords occur in query,
// matching case-insensitively on substrings.
func Detect(categories []Category, query string) (Category, bool) {
	q := strings.ToLower(query)
	for _, c := range categories {
		for _, kw := range c.QueryKeywords {
			if strings.Contains(q, strings.ToLower(kw)) {
				return c, true
			}
		}
	}
	return Category{}, false
}

// DetectCategory is Detect over DefaultCategories.
func DetectCategory(query string) (Category, bool) {
	return Detect(DefaultCategories(), query)
}
