package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockEmbedder is a deterministic embedder: the same text always embeds to
// the same unit vector, different texts to different vectors. Tests can pin
// exact vectors per content to control similarity.
type MockEmbedder struct {
	dim int

	mu      sync.Mutex
	vectors map[string][]float32
}

// NewMockEmbedder creates a MockEmbedder producing dim-wide vectors.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{dim: dim, vectors: make(map[string][]float32)}
}

// SetVector pins the vector returned for a given content string.
func (e *MockEmbedder) SetVector(content string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[content] = vec
}

// RegisterEmbedder registers the mock as a Genkit embedder and returns the
// ai.Embedder handle tests hand to stores. The embedder name is
// "mock/test-embedder".
func (e *MockEmbedder) RegisterEmbedder(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, "mock/test-embedder", &ai.EmbedderOptions{
		Label:      "Mock Test Embedder",
		Dimensions: e.dim,
	}, e.embed)
}

func (e *MockEmbedder) embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: e.vectorFor(documentText(doc))}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// vectorFor derives a deterministic unit vector from the text.
func (e *MockEmbedder) vectorFor(text string) []float32 {
	e.mu.Lock()
	if v, ok := e.vectors[text]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()

	vec := make([]float32, e.dim)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	var norm float64
	for i := range vec {
		// xorshift keeps the sequence deterministic per seed.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float32(int64(seed%2000)-1000) / 1000
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func documentText(doc *ai.Document) string {
	var text string
	for _, part := range doc.Content {
		text += part.Text
	}
	return text
}
