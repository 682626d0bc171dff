// Package vectorstore defines the vector database contract used by the
// indexer and provides embedded (chromem-go) and remote (Qdrant) backends.
package vectorstore

import (
	"context"
)

// Point is a stored vector with its payload.
// Payload values are normalized to string, int64, float64, bool or []string.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	Point
	Score float32
}

// ScrollRequest pages through a collection in id order.
type ScrollRequest struct {
	Filter *Filter
	Limit  int
	// Offset is the next-page token returned by the previous call; empty starts at the beginning.
	Offset      string
	WithVectors bool
}

// Store is a vector database holding named collections.
type Store interface {
	Health(ctx context.Context) error

	EnsureCollection(ctx context.Context, name string, dimensions int) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	DeleteCollection(ctx context.Context, name string) error

	// Upsert writes points durably; existing ids are replaced.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Get returns the points that exist among ids, with vectors. Missing ids are omitted.
	Get(ctx context.Context, collection string, ids []string) ([]Point, error)
	Delete(ctx context.Context, collection string, ids []string) error
	// SetPayload merges payload keys into an existing point without touching
	// its vector. Unknown ids return ErrPointNotFound.
	SetPayload(ctx context.Context, collection string, id string, payload map[string]any) error

	// Scroll returns one page and the offset of the next page ("" when exhausted).
	Scroll(ctx context.Context, collection string, req ScrollRequest) ([]Point, string, error)
	Search(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) ([]ScoredPoint, error)
	Count(ctx context.Context, collection string, filter *Filter) (int, error)

	Close() error
}

// DefaultScrollLimit is the page size used by ScrollAll.
const DefaultScrollLimit = 256

// scanner is implemented by stores that can stream a filtered collection
// more cheaply than page by page.
type scanner interface {
	scan(ctx context.Context, collection string, filter *Filter, withVectors bool, fn func([]Point) error) error
}

// ScrollAll pages through every point matching filter and calls fn for each
// page. Iteration stops at the first error.
func ScrollAll(ctx context.Context, s Store, collection string, filter *Filter, withVectors bool, fn func([]Point) error) error {
	if sc, ok := s.(scanner); ok {
		return sc.scan(ctx, collection, filter, withVectors, fn)
	}
	offset := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, next, err := s.Scroll(ctx, collection, ScrollRequest{
			Filter:      filter,
			Limit:       DefaultScrollLimit,
			Offset:      offset,
			WithVectors: withVectors,
		})
		if err != nil {
			return err
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		offset = next
	}
}
