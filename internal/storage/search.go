package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/embed"
	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// SearchResult is a ranked content record.
type SearchResult struct {
	ContentRecord
	Score float32
}

// SearchOptions narrows a branch-scoped search.
type SearchOptions struct {
	Limit    int
	Language string
	// PathPrefix keeps only results under this path.
	PathPrefix string
}

const defaultSearchLimit = 10

// Search ranks content records visible on branch by similarity to vector.
// Branch is applied as a filter over hidden_branches; content records carry
// no branch of their own.
func (idx *Index) Search(ctx context.Context, branch string, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	if branch == "" {
		return nil, errors.New("search requires a branch")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	g := idx.gate(branch)
	g.RLock()
	defer g.RUnlock()

	var extra []vectorstore.Condition
	if opts.Language != "" {
		extra = append(extra, vectorstore.MatchValue(FieldLanguage, opts.Language))
	}
	filter := visibleOnBranch(branch, extra...)

	// Over-fetch when a prefix is applied in memory.
	fetch := limit
	if opts.PathPrefix != "" {
		fetch = limit * 4
	}
	hits, err := idx.store.Search(ctx, idx.collection, vector, fetch, filter)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, min(limit, len(hits)))
	for _, h := range hits {
		rec := ContentFromPoint(h.Point)
		if opts.PathPrefix != "" && !strings.HasPrefix(rec.Path, opts.PathPrefix) {
			continue
		}
		out = append(out, SearchResult{ContentRecord: rec, Score: h.Score})
		if len(out) == limit {
			break
		}
	}
	idx.logger.Debug(ctx, "branch search",
		zap.String("branch", branch), zap.Int("limit", limit), zap.Int("results", len(out)))
	return out, nil
}

// SearchText embeds query and runs Search.
func (idx *Index) SearchText(ctx context.Context, branch, query string, opts SearchOptions) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty query")
	}
	vector, err := embed.EmbedOne(ctx, idx.embedder, query, embed.EmbedModeQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return idx.Search(ctx, branch, vector, opts)
}
