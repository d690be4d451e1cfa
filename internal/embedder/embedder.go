// Package embedder provides clients that convert text into dense vector
// embeddings. Each implementation talks to a different backend (Ollama,
// OpenAI, Azure OpenAI) via plain HTTP — no additional SDK dependencies.
//
// The embedding dimension is a hard contract: the vector index is created
// with the embedder's dimension at ingestion time, and every later query
// must produce vectors of the same length. A mismatch is a configuration
// error surfaced at startup, never a runtime surprise.
package embedder

import (
	"context"
	"fmt"
)

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the output vector length this embedder is
	// configured for. The index dimension must match it exactly.
	Dimensions() int
}

// EmbedOne embeds a single text and returns its vector. It exists because
// the query path almost always embeds exactly one string.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder: expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}
