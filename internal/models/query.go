package models

import (
	"errors"
	"strings"
)

const (
	// DefaultSearchLimit is used when a query does not set Limit.
	DefaultSearchLimit = 5
	// MaxSearchLimit caps Limit.
	MaxSearchLimit = 100
)

// ErrEmptyQuery is returned by Validate for a blank query.
var ErrEmptyQuery = errors.New("query cannot be empty")

// SearchQuery represents a package search request.
type SearchQuery struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
	// DisableRerank skips category boosting and returns pure similarity order.
	DisableRerank bool `json:"disable_rerank,omitempty"`
	// Filter drops candidates before the top Limit are chosen.
	Filter *PackageFilter `json:"filter,omitempty"`
}

// PackageFilter restricts search candidates. Zero fields match everything.
type PackageFilter struct {
	// Location matches case-insensitively as a substring of Package.Location.
	Location string `json:"location,omitempty"`
	// Country matches Package.Country case-insensitively.
	Country  string  `json:"country,omitempty"`
	MaxPrice float64 `json:"max_price,omitempty"`
}

// Empty reports whether f matches every package.
func (f *PackageFilter) Empty() bool {
	return f == nil || (strings.TrimSpace(f.Location) == "" && strings.TrimSpace(f.Country) == "" && f.MaxPrice <= 0)
}

// Match reports whether p passes the filter.
func (f *PackageFilter) Match(p *Package) bool {
	if f.Empty() {
		return true
	}
	if p == nil {
		return false
	}
	if loc := strings.ToLower(strings.TrimSpace(f.Location)); loc != "" &&
		!strings.Contains(strings.ToLower(p.Location), loc) {
		return false
	}
	if c := strings.TrimSpace(f.Country); c != "" && !strings.EqualFold(strings.TrimSpace(p.Country), c) {
		return false
	}
	if f.MaxPrice > 0 && p.Price.Amount > f.MaxPrice {
		return false
	}
	return true
}

// Validate ensures the search query has valid fields and sets defaults.
// Returns an error if the query is empty; otherwise normalizes limit.
func (q *SearchQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return ErrEmptyQuery
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	if q.Limit > MaxSearchLimit {
		q.Limit = MaxSearchLimit
	}
	return nil
}
