package vector

import "github.com/viant/vec/search"

// InnerProduct returns the dot product of a and b, or 0 when their widths differ.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// SquaredL2 returns the squared Euclidean distance between stored and query.
func SquaredL2(stored, query []float32) float64 {
	d := float64(search.Float32s(stored).EuclideanDistance(query))
	return d * d
}

// IPDistance returns 1 - dot, the cosine distance for unit vectors.
func IPDistance(stored, query []float32) float64 {
	return 1 - InnerProduct(stored, query)
}
