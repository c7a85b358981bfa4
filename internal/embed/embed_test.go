package embed

import (
	"context"
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLocalEmbedderDeterministic(t *testing.T) {
	e := NewLocalEmbedder(128)
	ctx := context.Background()

	a, err := e.Embed(ctx, "strong positive correlation between gaming and weather")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(ctx, "strong positive correlation between gaming and weather")
	if err != nil {
		t.Fatalf("Embed (repeat): %v", err)
	}

	if len(a) != 128 {
		t.Fatalf("vector length = %d, want 128", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestLocalEmbedderNormalized(t *testing.T) {
	e := NewLocalEmbedder(64)

	vec, err := e.Embed(context.Background(), "music streams and rainfall")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("squared norm = %v, want 1", norm)
	}
}

func TestLocalEmbedderSimilarTextsScoreHigher(t *testing.T) {
	e := NewLocalEmbedder(256)
	ctx := context.Background()

	base, _ := e.Embed(ctx, "gaming players and weather temperature correlation")
	near, _ := e.Embed(ctx, "correlation between weather temperature and gaming players")
	far, _ := e.Embed(ctx, "jazz saxophone improvisation techniques")

	if CosineSimilarity(base, near) <= CosineSimilarity(base, far) {
		t.Errorf("paraphrase scored %v, unrelated scored %v",
			CosineSimilarity(base, near), CosineSimilarity(base, far))
	}
}

func TestLocalEmbedderBatch(t *testing.T) {
	e := NewLocalEmbedder(32)

	texts := []string{"one", "two", "three"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}

	// Batch output matches per-text embedding.
	single, _ := e.Embed(context.Background(), "two")
	for i := range single {
		if vecs[1][i] != single[i] {
			t.Fatalf("batch vector differs from single embedding at %d", i)
		}
	}
}

func TestLocalEmbedderDefaults(t *testing.T) {
	e := NewLocalEmbedder(0)
	vec, err := e.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 256 {
		t.Errorf("default dims = %d, want 256", len(vec))
	}
	if e.Model() != "local-hash-v1" {
		t.Errorf("model = %q", e.Model())
	}
	if !e.Available() {
		t.Error("local embedder reported unavailable")
	}
}
