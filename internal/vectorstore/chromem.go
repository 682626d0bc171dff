package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/logging"
)

const payloadMetadataKey = "payload"

// Payload fields copied into flat chromem metadata so queries can narrow
// with a where map before any payload is decoded.
const (
	typeMetadataKey = "type"
	pathMetadataKey = "path"
)

var flatMetadataKeys = []string{typeMetadataKey, pathMetadataKey}

// ChromemStore is an embedded Store backed by chromem-go.
// chromem has no id listing, so Scroll, Count and filtered Search enumerate
// a collection through a similarity query narrowed by the flat metadata keys
// and apply the rest of the filter in memory. Lookups by path go through an
// in-memory path index instead.
type ChromemStore struct {
	db     *chromem.DB
	logger *logging.Logger

	mu   sync.RWMutex
	dims map[string]int

	pathsMu sync.Mutex
	paths   map[string]*pathIndex
}

// NewChromemStore opens a store. An empty path keeps everything in memory;
// otherwise collections are persisted under path.
func NewChromemStore(path string, logger *logging.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, newError("open", "", fmt.Errorf("failed to open chromem db at %s: %w", path, err))
		}
	}

	return &ChromemStore{
		db:     db,
		logger: logger.Named("chromem"),
		dims:   make(map[string]int),
		paths:  make(map[string]*pathIndex),
	}, nil
}

// noEmbedding keeps chromem from calling a remote embedder; every document
// and query we send already carries its vector.
func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("embeddings must be supplied by the caller")
}

func (s *ChromemStore) Health(_ context.Context) error {
	return nil
}

func (s *ChromemStore) EnsureCollection(_ context.Context, name string, dimensions int) error {
	if dimensions <= 0 {
		return newError("ensure_collection", name, fmt.Errorf("invalid dimensions %d", dimensions))
	}
	if _, err := s.db.GetOrCreateCollection(name, nil, noEmbedding); err != nil {
		return newError("ensure_collection", name, err)
	}
	s.mu.Lock()
	s.dims[name] = dimensions
	s.mu.Unlock()
	return nil
}

func (s *ChromemStore) CollectionExists(_ context.Context, name string) (bool, error) {
	return s.db.GetCollection(name, noEmbedding) != nil, nil
}

func (s *ChromemStore) DeleteCollection(_ context.Context, name string) error {
	if s.db.GetCollection(name, noEmbedding) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return newError("delete_collection", name, err)
	}
	s.mu.Lock()
	delete(s.dims, name)
	s.mu.Unlock()
	s.pathsMu.Lock()
	delete(s.paths, name)
	s.pathsMu.Unlock()
	return nil
}

func (s *ChromemStore) collection(op, name string) (*chromem.Collection, error) {
	c := s.db.GetCollection(name, noEmbedding)
	if c == nil {
		return nil, newError(op, name, ErrCollectionNotFound)
	}
	return c, nil
}

func (s *ChromemStore) dimensions(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims[name]
}

func (s *ChromemStore) Upsert(ctx context.Context, collection string, points []Point) error {
	c, err := s.collection("upsert", collection)
	if err != nil {
		return err
	}
	dims := s.dimensions(collection)

	for _, p := range points {
		if dims > 0 && len(p.Vector) != dims {
			return newError("upsert", collection,
				fmt.Errorf("%w: point %s has %d, collection expects %d", ErrDimensionMismatch, p.ID, len(p.Vector), dims))
		}
		encoded, err := encodePayload(p.Payload)
		if err != nil {
			return newError("upsert", collection, err)
		}
		doc := chromem.Document{
			ID:        p.ID,
			Content:   String(p.Payload, "content"),
			Embedding: append([]float32(nil), p.Vector...),
			Metadata:  documentMetadata(encoded, p.Payload),
		}
		if err := c.AddDocument(ctx, doc); err != nil {
			return newError("upsert", collection, err)
		}
		s.indexPath(collection, p.ID, String(p.Payload, pathMetadataKey))
	}
	return nil
}

func (s *ChromemStore) Get(ctx context.Context, collection string, ids []string) ([]Point, error) {
	c, err := s.collection("get", collection)
	if err != nil {
		return nil, err
	}

	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		doc, err := c.GetByID(ctx, id)
		if err != nil {
			// chromem only fails GetByID for unknown ids
			continue
		}
		p, err := pointFromDocument(doc.ID, doc.Embedding, doc.Metadata)
		if err != nil {
			return nil, newError("get", collection, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *ChromemStore) Delete(ctx context.Context, collection string, ids []string) error {
	c, err := s.collection("delete", collection)
	if err != nil {
		return err
	}

	existing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := c.GetByID(ctx, id); err == nil {
			existing = append(existing, id)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := c.Delete(ctx, nil, nil, existing...); err != nil {
		return newError("delete", collection, err)
	}
	s.unindexPaths(collection, existing)
	return nil
}

func (s *ChromemStore) SetPayload(ctx context.Context, collection string, id string, payload map[string]any) error {
	c, err := s.collection("set_payload", collection)
	if err != nil {
		return err
	}
	doc, err := c.GetByID(ctx, id)
	if err != nil {
		return newError("set_payload", collection, fmt.Errorf("%w: %s", ErrPointNotFound, id))
	}
	current, err := decodePayload(doc.Metadata[payloadMetadataKey])
	if err != nil {
		return newError("set_payload", collection, err)
	}
	for k, v := range normalizePayload(payload) {
		current[k] = v
	}
	encoded, err := encodePayload(current)
	if err != nil {
		return newError("set_payload", collection, err)
	}
	doc.Metadata = documentMetadata(encoded, current)
	doc.Content = String(current, "content")
	if err := c.AddDocument(ctx, doc); err != nil {
		return newError("set_payload", collection, err)
	}
	s.indexPath(collection, id, String(current, pathMetadataKey))
	return nil
}

// listAll returns every point in the collection that matches where, ordered
// by similarity to vector, or by id when vector is nil. Only the flat
// metadata keys are checked; callers apply the full filter.
func (s *ChromemStore) listAll(ctx context.Context, op, collection string, vector []float32, where map[string]string) ([]ScoredPoint, error) {
	c, err := s.collection(op, collection)
	if err != nil {
		return nil, err
	}
	total := c.Count()
	if total == 0 {
		return nil, nil
	}

	byID := vector == nil
	if byID {
		dims := s.dimensions(collection)
		if dims <= 0 {
			return nil, newError(op, collection, errors.New("collection dimensions unknown; call EnsureCollection first"))
		}
		vector = make([]float32, dims)
		vector[0] = 1
	}

	results, err := c.QueryEmbedding(ctx, vector, total, where, nil)
	if err != nil {
		return nil, newError(op, collection, err)
	}

	out := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		p, err := pointFromDocument(r.ID, nil, r.Metadata)
		if err != nil {
			s.logger.Warn(ctx, "skipping point with unreadable payload",
				zap.String("collection", collection), zap.String("id", r.ID), zap.Error(err))
			continue
		}
		out = append(out, ScoredPoint{Point: p, Score: r.Similarity})
	}
	if byID {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	return out, nil
}

func (s *ChromemStore) Scroll(ctx context.Context, collection string, req ScrollRequest) ([]Point, string, error) {
	all, err := s.candidates(ctx, "scroll", collection, req.Filter)
	if err != nil {
		return nil, "", err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultScrollLimit
	}

	start := 0
	if req.Offset != "" {
		start = sort.Search(len(all), func(i int) bool { return all[i].ID >= req.Offset })
	}

	page := make([]Point, 0, limit)
	next := ""
	for i := start; i < len(all); i++ {
		if !req.Filter.Matches(all[i].Payload) {
			continue
		}
		if len(page) == limit {
			next = all[i].ID
			break
		}
		page = append(page, all[i])
	}

	if req.WithVectors && len(page) > 0 {
		if err := s.attachVectors(ctx, collection, page); err != nil {
			return nil, "", err
		}
	}
	return page, next, nil
}

// scan lists the collection once and hands fn the matching points in pages,
// where paging through Scroll would enumerate the collection per page.
func (s *ChromemStore) scan(ctx context.Context, collection string, filter *Filter, withVectors bool, fn func([]Point) error) error {
	all, err := s.candidates(ctx, "scroll", collection, filter)
	if err != nil {
		return err
	}
	page := make([]Point, 0, DefaultScrollLimit)
	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		if withVectors {
			if err := s.attachVectors(ctx, collection, page); err != nil {
				return err
			}
		}
		if err := fn(page); err != nil {
			return err
		}
		page = make([]Point, 0, DefaultScrollLimit)
		return nil
	}
	for _, p := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !filter.Matches(p.Payload) {
			continue
		}
		page = append(page, p)
		if len(page) == DefaultScrollLimit {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// candidates returns the points filter can match, sorted by id. A filter
// pinned to one path reads only that path's ids.
func (s *ChromemStore) candidates(ctx context.Context, op, collection string, filter *Filter) ([]Point, error) {
	if path, ok := pinnedPath(filter); ok {
		ids, err := s.idsForPath(ctx, op, collection, path)
		if err != nil {
			return nil, err
		}
		points, err := s.Get(ctx, collection, ids)
		if err != nil {
			return nil, err
		}
		for i := range points {
			points[i].Vector = nil
		}
		sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })
		return points, nil
	}

	scored, err := s.listAll(ctx, op, collection, nil, whereFor(filter))
	if err != nil {
		return nil, err
	}
	out := make([]Point, len(scored))
	for i, sp := range scored {
		out[i] = sp.Point
	}
	return out, nil
}

func (s *ChromemStore) attachVectors(ctx context.Context, collection string, points []Point) error {
	c, err := s.collection("scroll", collection)
	if err != nil {
		return err
	}
	for i := range points {
		doc, err := c.GetByID(ctx, points[i].ID)
		if err != nil {
			continue
		}
		points[i].Vector = doc.Embedding
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) ([]ScoredPoint, error) {
	if len(vector) == 0 {
		return nil, newError("search", collection, errors.New("empty query vector"))
	}
	all, err := s.listAll(ctx, "search", collection, vector, whereFor(filter))
	if err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, limit)
	for _, sp := range all {
		if len(out) == limit {
			break
		}
		if filter.Matches(sp.Payload) {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (s *ChromemStore) Count(ctx context.Context, collection string, filter *Filter) (int, error) {
	if filter == nil {
		c, err := s.collection("count", collection)
		if err != nil {
			return 0, err
		}
		return c.Count(), nil
	}
	all, err := s.candidates(ctx, "count", collection, filter)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range all {
		if filter.Matches(p.Payload) {
			n++
		}
	}
	return n, nil
}

func (s *ChromemStore) Close() error {
	return nil
}

func pointFromDocument(id string, embedding []float32, metadata map[string]string) (Point, error) {
	payload, err := decodePayload(metadata[payloadMetadataKey])
	if err != nil {
		return Point{}, err
	}
	return Point{ID: id, Vector: embedding, Payload: payload}, nil
}

func documentMetadata(encoded string, payload map[string]any) map[string]string {
	md := map[string]string{payloadMetadataKey: encoded}
	for _, key := range flatMetadataKeys {
		if v, ok := payload[key].(string); ok {
			md[key] = v
		}
	}
	return md
}

// whereFor extracts the equality conditions chromem can evaluate natively.
func whereFor(filter *Filter) map[string]string {
	if filter == nil {
		return nil
	}
	var where map[string]string
	for _, c := range filter.Must {
		v, ok := c.Match.(string)
		if c.IsEmpty || !ok || !slices.Contains(flatMetadataKeys, c.Field) {
			continue
		}
		if where == nil {
			where = make(map[string]string)
		}
		where[c.Field] = v
	}
	return where
}

func pinnedPath(filter *Filter) (string, bool) {
	if filter == nil {
		return "", false
	}
	for _, c := range filter.Must {
		if v, ok := c.Match.(string); ok && !c.IsEmpty && c.Field == pathMetadataKey {
			return v, true
		}
	}
	return "", false
}

var (
	_ Store   = (*ChromemStore)(nil)
	_ scanner = (*ChromemStore)(nil)
)
