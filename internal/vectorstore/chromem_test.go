package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for ChromemStore:
// - Collections are created idempotently and can be dropped
// - Upsert replaces by id and rejects wrong dimensions
// - Get omits unknown ids and returns vectors
// - Scroll pages in id order, honors filters and returns a next offset
// - Search ranks by similarity and applies filters after ranking
// - Count with and without filters
// - Path-pinned filters read through the path index, which follows
//   upserts, payload changes and deletes made before and after it is built
// - ScrollAll streams a large collection in full pages, in id order
// - Operations on a missing collection return ErrCollectionNotFound

const testDims = 4

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore("", nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(context.Background(), "code", testDims))
	return s
}

func vec(values ...float32) []float32 {
	return values
}

func TestChromemStore_CollectionLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	require.NoError(t, s.EnsureCollection(ctx, "code", testDims))

	ok, err := s.CollectionExists(ctx, "code")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.DeleteCollection(ctx, "code"))
	ok, err = s.CollectionExists(ctx, "code")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Count(ctx, "code", nil)
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	var vde *VectorDatabaseError
	assert.ErrorAs(t, err, &vde)
	assert.False(t, IsRetryable(err))
}

func TestChromemStore_UpsertGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, "code", []Point{
		{ID: "a", Vector: vec(1, 0, 0, 0), Payload: map[string]any{"path": "a.go", "hidden_branches": []string{}}},
		{ID: "b", Vector: vec(0, 1, 0, 0), Payload: map[string]any{"path": "b.go"}},
	}))

	// replace a
	require.NoError(t, s.Upsert(ctx, "code", []Point{
		{ID: "a", Vector: vec(1, 0, 0, 0), Payload: map[string]any{"path": "a.go", "hidden_branches": []string{"dev"}}},
	}))

	points, err := s.Get(ctx, "code", []string{"a", "missing"})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, []string{"dev"}, Strings(points[0].Payload, "hidden_branches"))
	assert.Len(t, points[0].Vector, testDims)

	n, err := s.Count(ctx, "code", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Delete(ctx, "code", []string{"b", "never-existed"}))
	n, err = s.Count(ctx, "code", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = s.Upsert(ctx, "code", []Point{{ID: "c", Vector: vec(1, 2), Payload: nil}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChromemStore_ScrollPagesInIDOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	var points []Point
	for i := 0; i < 7; i++ {
		kind := "content"
		if i%2 == 1 {
			kind = "visibility"
		}
		points = append(points, Point{
			ID:      fmt.Sprintf("id-%02d", i),
			Vector:  vec(float32(i+1), 1, 0, 0),
			Payload: map[string]any{"type": kind},
		})
	}
	require.NoError(t, s.Upsert(ctx, "code", points))

	page, next, err := s.Scroll(ctx, "code", ScrollRequest{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "id-00", page[0].ID)
	assert.Equal(t, "id-03", next)
	assert.Nil(t, page[0].Vector)

	page, next, err = s.Scroll(ctx, "code", ScrollRequest{Limit: 10, Offset: next, WithVectors: true})
	require.NoError(t, err)
	assert.Len(t, page, 4)
	assert.Empty(t, next)
	assert.NotNil(t, page[0].Vector)

	var content []string
	err = ScrollAll(ctx, s, "code", &Filter{Must: []Condition{MatchValue("type", "content")}}, false, func(p []Point) error {
		for _, pt := range p {
			content = append(content, pt.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-00", "id-02", "id-04", "id-06"}, content)

	n, err := s.Count(ctx, "code", &Filter{Must: []Condition{MatchValue("type", "visibility")}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestChromemStore_SearchFiltersAfterRanking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, "code", []Point{
		{ID: "near-hidden", Vector: vec(1, 0, 0, 0), Payload: map[string]any{"hidden_branches": []string{"main"}}},
		{ID: "near", Vector: vec(0.9, 0.1, 0, 0), Payload: map[string]any{"hidden_branches": []string{}}},
		{ID: "far", Vector: vec(0, 0, 1, 0), Payload: map[string]any{"hidden_branches": []string{}}},
	}))

	hits, err := s.Search(ctx, "code", vec(1, 0, 0, 0), 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near-hidden", hits[0].ID)

	hits, err = s.Search(ctx, "code", vec(1, 0, 0, 0), 2, &Filter{MustNot: []Condition{MatchValue("hidden_branches", "main")}})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].ID)
	assert.Equal(t, "far", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestChromemStore_EmptyCollection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	hits, err := s.Search(ctx, "code", vec(1, 0, 0, 0), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	page, next, err := s.Scroll(ctx, "code", ScrollRequest{})
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Empty(t, next)
}

func TestChromemStore_Persistent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, "code", testDims))
	require.NoError(t, s.Upsert(ctx, "code", []Point{{ID: "a", Vector: vec(1, 0, 0, 0), Payload: map[string]any{"path": "a.go"}}}))

	reopened, err := NewChromemStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, reopened.EnsureCollection(ctx, "code", testDims))
	points, err := reopened.Get(ctx, "code", []string{"a"})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "a.go", String(points[0].Payload, "path"))
}

func TestOpen_UnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Options{Backend: "faiss"}, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)

	s, err := Open(context.Background(), Options{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ChromemStore{}, s)
}

func TestChromemStore_SetPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, "code", []Point{
		{ID: "a", Vector: vec(0, 0, 1, 0), Payload: map[string]any{"path": "a.go", "hidden_branches": []string{}}},
	}))
	require.NoError(t, s.SetPayload(ctx, "code", "a", map[string]any{"hidden_branches": []string{"dev"}}))

	points, err := s.Get(ctx, "code", []string{"a"})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "a.go", String(points[0].Payload, "path"))
	assert.Equal(t, []string{"dev"}, Strings(points[0].Payload, "hidden_branches"))
	assert.InDelta(t, 1.0, points[0].Vector[2], 1e-6)

	err = s.SetPayload(ctx, "code", "missing", map[string]any{"x": 1})
	assert.ErrorIs(t, err, ErrPointNotFound)
}

func TestChromemStore_PathLookups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	byPath := func(path string) []string {
		t.Helper()
		var ids []string
		filter := &Filter{Must: []Condition{MatchValue("type", "content"), MatchValue("path", path)}}
		err := ScrollAll(ctx, s, "code", filter, false, func(p []Point) error {
			for _, pt := range p {
				ids = append(ids, pt.ID)
			}
			return nil
		})
		require.NoError(t, err)
		return ids
	}

	// written before the index exists
	require.NoError(t, s.Upsert(ctx, "code", []Point{
		{ID: "a1", Vector: vec(1, 0, 0, 0), Payload: map[string]any{"type": "content", "path": "a.go"}},
		{ID: "a0", Vector: vec(0, 1, 0, 0), Payload: map[string]any{"type": "content", "path": "a.go"}},
		{ID: "b0", Vector: vec(0, 0, 1, 0), Payload: map[string]any{"type": "content", "path": "b.go"}},
		{ID: "v0", Vector: vec(0, 0, 0, 1), Payload: map[string]any{"type": "visibility", "path": "a.go"}},
	}))
	assert.Equal(t, []string{"a0", "a1"}, byPath("a.go"))

	// written after it is built
	require.NoError(t, s.Upsert(ctx, "code", []Point{
		{ID: "a2", Vector: vec(1, 1, 0, 0), Payload: map[string]any{"type": "content", "path": "a.go"}},
	}))
	require.NoError(t, s.SetPayload(ctx, "code", "a1", map[string]any{"path": "c.go"}))
	require.NoError(t, s.Delete(ctx, "code", []string{"a0"}))

	assert.Equal(t, []string{"a2"}, byPath("a.go"))
	assert.Equal(t, []string{"a1"}, byPath("c.go"))
	assert.Empty(t, byPath("missing.go"))

	page, next, err := s.Scroll(ctx, "code", ScrollRequest{
		Filter: &Filter{Must: []Condition{MatchValue("path", "a.go")}},
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a2", page[0].ID)
	assert.Equal(t, "v0", next)

	n, err := s.Count(ctx, "code", &Filter{Must: []Condition{MatchValue("path", "a.go")}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// a recreated collection starts with an empty index
	require.NoError(t, s.DeleteCollection(ctx, "code"))
	require.NoError(t, s.EnsureCollection(ctx, "code", testDims))
	assert.Empty(t, byPath("a.go"))
}

func TestChromemStore_ScrollAllFullPages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	const total = 2*DefaultScrollLimit + 10
	points := make([]Point, total)
	for i := range points {
		points[i] = Point{
			ID:      fmt.Sprintf("id-%04d", i),
			Vector:  vec(float32(i%7+1), 1, 0, 0),
			Payload: map[string]any{"type": "content", "path": fmt.Sprintf("f%d.go", i%50)},
		}
	}
	require.NoError(t, s.Upsert(ctx, "code", points))

	var sizes []int
	var ids []string
	err := ScrollAll(ctx, s, "code", &Filter{Must: []Condition{MatchValue("type", "content")}}, true, func(p []Point) error {
		sizes = append(sizes, len(p))
		for _, pt := range p {
			assert.Len(t, pt.Vector, testDims)
			ids = append(ids, pt.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{DefaultScrollLimit, DefaultScrollLimit, 10}, sizes)
	require.Len(t, ids, total)
	assert.True(t, sort.StringsAreSorted(ids))
}
