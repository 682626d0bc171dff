package embed

import (
	"context"
	"errors"
)

// EmbedMode specifies the type of embedding to generate.
type EmbedMode string

const (
	// EmbedModeQuery generates embeddings optimized for search queries.
	EmbedModeQuery EmbedMode = "query"

	// EmbedModePassage generates embeddings optimized for document passages.
	// Use this for code chunks and anything else that gets stored.
	EmbedModePassage EmbedMode = "passage"
)

var (
	// ErrEmptyInput is returned when Embed is called without texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrNotInitialized is returned by providers used before Initialize.
	ErrNotInitialized = errors.New("provider not initialized: call Initialize() first")

	// ErrEmbeddingFailed wraps failures reported by the embedding service.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider defines the interface for embedding text into vectors.
type Provider interface {
	// Initialize prepares the provider and blocks until ready.
	// Must be called before Embed().
	Initialize(ctx context.Context) error

	// Health reports whether the backing service is reachable.
	Health(ctx context.Context) error

	// Embed converts texts into vectors, one per input, in input order.
	Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error)

	// Dimensions returns the dimensionality of the vectors produced.
	Dimensions() int

	// Model identifies the embedding model. Content records store it so an
	// index built with another model can be recognised.
	Model() string

	// Close releases any resources held by the provider.
	Close() error
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, p Provider, text string, mode EmbedMode) ([]float32, error) {
	vectors, err := p.Embed(ctx, []string{text}, mode)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, errors.Join(ErrEmbeddingFailed, errors.New("provider returned no vector"))
	}
	return vectors[0], nil
}
