package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/hyperjump/tabi/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. Each token of the text
// is hashed into one of the vector's buckets (feature hashing), so texts that
// share words land close together. It counts calls and can be told to fail
// for texts containing a marker.
type MockEmbedder struct {
	dimensions int

	mu     sync.Mutex
	calls  int
	failOn []string
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// FailOn makes Embed return an error for any text containing marker.
func (e *MockEmbedder) FailOn(marker string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failOn = append(e.failOn, marker)
}

// Calls returns the number of Embed calls made so far, including failed ones.
func (e *MockEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Embed returns a deterministic embedding based on the text's tokens.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	failOn := append([]string(nil), e.failOn...)
	e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, marker := range failOn {
		if strings.Contains(text, marker) {
			return nil, fmt.Errorf("mock embedder: refusing text containing %q", marker)
		}
	}

	emb := make([]float32, e.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		emb[HashString(tok)%e.dimensions]++
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// HashString returns a non-negative polynomial hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		// -MinInt overflows back to MinInt
		h = 0
	}
	return h
}
