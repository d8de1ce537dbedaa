package embedding

import (
	"math/rand"

	"github.com/hyperjump/tabi/pkg/utils"
)

// Normalize returns vec as a vector of exactly dim elements. A vector of a
// different width is truncated or zero-padded and then re-normalized to unit
// length; a vector already of width dim is copied unchanged.
func Normalize(vec []float32, dim int) []float32 {
	if len(vec) == dim {
		out := make([]float32, dim)
		copy(out, vec)
		return out
	}
	out := utils.Resize(vec, dim)
	utils.NormalizeL2(out)
	return out
}

// Fallback returns a deterministic unit-length pseudo-embedding for text,
// seeded from the sum of its code points. It keeps retrieval available when
// the embedding service is down; it carries no semantic meaning.
func Fallback(text string, dim int) []float32 {
	var seed int64
	for _, r := range text {
		seed += int64(r)
	}
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, dim)
	for i := range out {
		out[i] = float32(rng.NormFloat64())
	}
	utils.NormalizeL2(out)
	return out
}
