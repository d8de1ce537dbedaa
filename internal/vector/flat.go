package vector

import (
	"fmt"
	"sort"
	"sync"
)

// distanceFunc returns the distance between a stored vector and the query.
type distanceFunc func(stored, query []float32) float64

// flatIndex is an exact brute-force index parameterized by its distance.
type flatIndex struct {
	kind       IndexType
	dimensions int
	distance   distanceFunc
	vectors    [][]float32
	mu         sync.RWMutex
}

// FlatL2Index scores by squared Euclidean distance.
type FlatL2Index struct{ flatIndex }

// FlatIPIndex scores by 1 - inner product, which for unit vectors is the
// cosine distance.
type FlatIPIndex struct{ flatIndex }

// NewFlatL2Index creates an empty L2 index for vectors of the given dimension.
func NewFlatL2Index(dimensions int) (*FlatL2Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatL2Index{flatIndex{
		kind:       IndexTypeL2,
		dimensions: dimensions,
		distance:   SquaredL2,
	}}, nil
}

// NewFlatIPIndex creates an empty inner-product index for vectors of the given dimension.
func NewFlatIPIndex(dimensions int) (*FlatIPIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIPIndex{flatIndex{
		kind:       IndexTypeIP,
		dimensions: dimensions,
		distance:   IPDistance,
	}}, nil
}

// Type returns the index type identifier.
func (f *flatIndex) Type() string {
	return string(f.kind)
}

// Dimensions returns the vector width the index accepts.
func (f *flatIndex) Dimensions() int {
	return f.dimensions
}

// Size returns the number of vectors in the index.
func (f *flatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Add appends copies of vectors. Either all vectors are added or none are.
func (f *flatIndex) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dimensions {
			return fmt.Errorf("vector %d dimension mismatch: got %d, expected %d", i, len(v), f.dimensions)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		vec := make([]float32, f.dimensions)
		copy(vec, v)
		f.vectors = append(f.vectors, vec)
	}
	return nil
}

// Search returns the k nearest vectors. Ties keep insertion order.
func (f *flatIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}
	hits := make([]Neighbor, len(f.vectors))
	for i, vec := range f.vectors {
		hits[i] = Neighbor{Position: i, Distance: f.distance(vec, query)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}
