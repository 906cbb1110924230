package retrieval

import "testing"

func TestEmbedNeverFailsWithoutEndpoint(t *testing.T) {
	p := NewEmbeddingProvider("", 8)
	vec := p.Embed("hello world")
	if len(vec) != 8 {
		t.Fatalf("expected dimension 8, got %d", len(vec))
	}
}

func TestEmbedIsDeterministic(t *testing.T) {
	p := NewEmbeddingProvider("", 16)
	a := p.Embed("find users by phone number")
	b := p.Embed("find users by phone number")
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("fallback embedding not deterministic at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEmbedDiffersForDifferentText(t *testing.T) {
	p := NewEmbeddingProvider("", 16)
	a := p.Embed("alpha")
	b := p.Embed("beta")
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected different fallback vectors for different input text")
	}
}

func TestEmbedBatchPreservesOrderAndLength(t *testing.T) {
	p := NewEmbeddingProvider("", 16)
	texts := []string{"one", "two", "three"}
	vectors := p.EmbedBatch(texts)
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	for i, text := range texts {
		want := p.Embed(text)
		got := vectors[i]
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("vector %d (%q) mismatch at index %d", i, text, j)
			}
		}
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	p := NewEmbeddingProvider("", 16)
	if got := p.EmbedBatch(nil); got != nil {
		t.Fatalf("expected nil for empty batch, got %v", got)
	}
}

func TestNewEmbeddingProviderClampsLowDimension(t *testing.T) {
	p := NewEmbeddingProvider("", 1)
	vec := p.Embed("x")
	if len(vec) != defaultFallbackDim {
		t.Fatalf("expected clamped dimension %d, got %d", defaultFallbackDim, len(vec))
	}
}
