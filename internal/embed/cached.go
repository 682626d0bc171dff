package embed

import (
	"context"
	"fmt"

	"github.com/maypok86/otter"
)

// CachedProvider memoises query embeddings. Search queries repeat far more
// often than passages, and passages are already deduplicated by content
// hash before they reach the provider, so only EmbedModeQuery is cached.
type CachedProvider struct {
	Provider
	cache otter.Cache[string, []float32]
}

// NewCachedProvider wraps p with a query cache holding up to capacity
// vectors.
func NewCachedProvider(p Provider, capacity int) (*CachedProvider, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("query cache capacity must be > 0, got %d", capacity)
	}
	cache, err := otter.MustBuilder[string, []float32](capacity).
		CollectStats().
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query cache: %w", err)
	}
	return &CachedProvider{Provider: p, cache: cache}, nil
}

func (c *CachedProvider) Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error) {
	if mode != EmbedModeQuery {
		return c.Provider.Embed(ctx, texts, mode)
	}
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = v
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.Provider.Embed(ctx, missing, mode)
	if err != nil {
		return nil, err
	}
	for j, v := range vectors {
		out[missingIdx[j]] = v
		c.cache.Set(missing[j], v)
	}
	return out, nil
}

// HitRatio reports the cache hit ratio since creation.
func (c *CachedProvider) HitRatio() float64 {
	return c.cache.Stats().Ratio()
}

func (c *CachedProvider) Close() error {
	c.cache.Close()
	return c.Provider.Close()
}

var _ Provider = (*CachedProvider)(nil)
