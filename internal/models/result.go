package models

// SearchResult represents a single package hit.
type SearchResult struct {
	Package *Package `json:"package"`
	// Score is Similarity plus Boost; results are ordered by it.
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
	Boost      float64 `json:"boost"`
	Distance   float64 `json:"distance"`
	Rank       int     `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results []*SearchResult `json:"results"`
	Total   int             `json:"total"`
	Query   string          `json:"query"`
	// Category is the detected category group used for reranking, if any.
	Category  string `json:"category,omitempty"`
	QueryTime int64  `json:"query_time_ms"`
	// Degraded is set when the query embedding came from the fallback
	// generator because the embedding service failed.
	Degraded bool `json:"degraded,omitempty"`
}

// Packages returns the packages of the results in rank order.
func (r *SearchResponse) Packages() []*Package {
	out := make([]*Package, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.Package)
	}
	return out
}
