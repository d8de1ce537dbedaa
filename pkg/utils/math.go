package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := 1.0 / math.Sqrt(sum)
	for i := range x {
		x[i] = float32(float64(x[i]) * norm)
	}
}

// Resize returns a copy of x with exactly dim elements: truncated when x is
// longer, zero-padded when shorter.
func Resize(x []float32, dim int) []float32 {
	out := make([]float32, dim)
	copy(out, x)
	return out
}
