// Package embedding provides text embedding clients, dimension normalization
// and a content-addressed embedding cache.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations may return
// vectors whose width differs from the configured dimension; callers pass
// results through Normalize before storing or comparing them.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
