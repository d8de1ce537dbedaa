package embedding

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	dim   int
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float32, e.dim)
	for i := range v {
		v[i] = float32(len(text) + i)
	}
	return v, nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int { return e.dim }
func (e *countingEmbedder) Close() error    { return nil }

func (e *countingEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func TestLRUCache_GetSet(t *testing.T) {
	c := newLRUCache(2)
	if v, ok := c.get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.set("a", []float32{1, 2, 3})
	v, ok := c.get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("get: got %v, %v", v, ok)
	}
	c.set("b", []float32{4, 5})
	c.get("a")
	c.set("c", []float32{6}) // evicts b, a was touched
	if _, ok := c.get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("expected a to remain")
	}
	if c.len() != 2 {
		t.Errorf("len = %d, want 2", c.len())
	}
}

func TestCache_GetOrComputeMemoizes(t *testing.T) {
	emb := &countingEmbedder{dim: 4}
	c := NewCache(emb, 4)
	ctx := context.Background()

	first, err := c.GetOrCompute(ctx, "beach resort")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.GetOrCompute(ctx, "beach resort")
	if err != nil {
		t.Fatal(err)
	}
	if emb.Calls() != 1 {
		t.Errorf("embedder calls = %d, want 1", emb.Calls())
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 || stats.HitRatio != 0.5 {
		t.Errorf("stats = %+v", stats)
	}

	// Callers may mutate the result without corrupting the cache.
	first[0] = -1
	again, _ := c.GetOrCompute(ctx, "beach resort")
	if again[0] == -1 {
		t.Error("cache returned an aliased slice")
	}
}

func TestCache_NormalizesDimension(t *testing.T) {
	tests := []struct {
		name   string
		native int
	}{
		{"wider", 8},
		{"narrower", 2},
		{"exact", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCache(&countingEmbedder{dim: tt.native}, 4)
			v, err := c.GetOrCompute(context.Background(), "x")
			if err != nil {
				t.Fatal(err)
			}
			if len(v) != 4 {
				t.Errorf("len = %d, want 4", len(v))
			}
		})
	}
}

func TestCache_ErrorNotCached(t *testing.T) {
	sentinel := errors.New("service down")
	emb := &countingEmbedder{dim: 4, err: sentinel}
	c := NewCache(emb, 4)

	if _, err := c.GetOrCompute(context.Background(), "x"); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	emb.err = nil
	if _, err := c.GetOrCompute(context.Background(), "x"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if emb.Calls() != 2 {
		t.Errorf("embedder calls = %d, want 2", emb.Calls())
	}
}

func TestCache_CapacityAndClear(t *testing.T) {
	c := NewCache(&countingEmbedder{dim: 2}, 2, WithCapacity(3))
	ctx := context.Background()
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		if _, err := c.GetOrCompute(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	if got := c.Stats().Size; got != 3 {
		t.Errorf("size = %d, want 3", got)
	}
	c.Clear()
	if got := c.Stats(); got.Size != 0 || got.Misses != 0 {
		t.Errorf("stats after clear = %+v", got)
	}
}

func TestCache_ConcurrentSameText(t *testing.T) {
	emb := &countingEmbedder{dim: 4}
	c := NewCache(emb, 4)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetOrCompute(context.Background(), "same"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	// singleflight plus the cache keeps this well below one call per goroutine.
	if emb.Calls() < 1 || emb.Calls() > 16 {
		t.Errorf("calls = %d", emb.Calls())
	}
	if c.Stats().Size != 1 {
		t.Errorf("size = %d, want 1", c.Stats().Size)
	}
}

func TestCache_SatisfiesEmbedder(t *testing.T) {
	var e Embedder = NewCache(NewMockEmbedder(16), 16)
	vs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 2 || e.Dimensions() != 16 {
		t.Errorf("got %d vectors, dim %d", len(vs), e.Dimensions())
	}
	var sum float64
	for _, x := range vs[0] {
		sum += float64(x * x)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("norm^2 = %f, want 1", sum)
	}
}
