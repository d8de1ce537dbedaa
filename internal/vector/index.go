// Package vector provides exact nearest-neighbor indexes over dense vectors.
package vector

// Index is an append-only nearest-neighbor index. Vectors are addressed by
// their insertion position; there is no point update or delete, so replacing
// or dropping a vector means building a new index.
type Index interface {
	Add(vectors [][]float32) error
	// Search returns up to k neighbors ordered by ascending distance.
	Search(query []float32, k int) ([]Neighbor, error)
	Size() int
	Dimensions() int
	Type() string
}

// Neighbor is a single search hit: the insertion position of the vector and
// its distance from the query.
type Neighbor struct {
	Position int
	Distance float64
}
