package vectorstore

import (
	"context"
	"sort"
)

// pathIndex maps the path payload field to the ids stored under it.
type pathIndex struct {
	byPath map[string]map[string]struct{}
	byID   map[string]string
}

func newPathIndex() *pathIndex {
	return &pathIndex{
		byPath: make(map[string]map[string]struct{}),
		byID:   make(map[string]string),
	}
}

func (pi *pathIndex) set(id, path string) {
	pi.remove(id)
	if path == "" {
		return
	}
	ids, ok := pi.byPath[path]
	if !ok {
		ids = make(map[string]struct{})
		pi.byPath[path] = ids
	}
	ids[id] = struct{}{}
	pi.byID[id] = path
}

func (pi *pathIndex) remove(id string) {
	path, ok := pi.byID[id]
	if !ok {
		return
	}
	delete(pi.byID, id)
	ids := pi.byPath[path]
	delete(ids, id)
	if len(ids) == 0 {
		delete(pi.byPath, path)
	}
}

func (pi *pathIndex) ids(path string) []string {
	out := make([]string, 0, len(pi.byPath[path]))
	for id := range pi.byPath[path] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// idsForPath returns the ids stored under path. The index for a collection
// is built from one full listing the first time it is needed and kept up to
// date by every write after that.
func (s *ChromemStore) idsForPath(ctx context.Context, op, collection, path string) ([]string, error) {
	if _, err := s.collection(op, collection); err != nil {
		return nil, err
	}

	s.pathsMu.Lock()
	defer s.pathsMu.Unlock()
	pi, ok := s.paths[collection]
	if !ok {
		all, err := s.listAll(ctx, op, collection, nil, nil)
		if err != nil {
			return nil, err
		}
		pi = newPathIndex()
		for _, sp := range all {
			pi.set(sp.ID, String(sp.Payload, pathMetadataKey))
		}
		s.paths[collection] = pi
	}
	return pi.ids(path), nil
}

// indexPath records a write. Collections whose index is not built yet are
// skipped; the first lookup lists them in full.
func (s *ChromemStore) indexPath(collection, id, path string) {
	s.pathsMu.Lock()
	defer s.pathsMu.Unlock()
	if pi, ok := s.paths[collection]; ok {
		pi.set(id, path)
	}
}

func (s *ChromemStore) unindexPaths(collection string, ids []string) {
	s.pathsMu.Lock()
	defer s.pathsMu.Unlock()
	pi, ok := s.paths[collection]
	if !ok {
		return
	}
	for _, id := range ids {
		pi.remove(id)
	}
}
