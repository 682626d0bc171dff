package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// FileState is what the index knows about a file as seen from one branch.
type FileState struct {
	Path            string
	FileHash        string
	FileSize        int64
	FilesystemMTime time.Time
	IndexedAt       time.Time
	Chunks          int
	// Conflicted is set when the branch sees more than one version of the
	// file: two chunks at the same position or chunks from different file
	// hashes. A branch that was first indexed after others diverged starts
	// out this way.
	Conflicted bool
}

// Unchanged reports whether a file with the given size and modification time
// can be skipped. Modification times within buffer of the stored one are
// treated as equal to tolerate filesystem timestamp granularity.
func (s FileState) Unchanged(size int64, modTime time.Time, buffer time.Duration) bool {
	if s.FilesystemMTime.IsZero() || size != s.FileSize {
		return false
	}
	d := modTime.Sub(s.FilesystemMTime)
	if d < 0 {
		d = -d
	}
	return d <= buffer
}

// FileStates returns the indexed state of every path visible on branch.
func (idx *Index) FileStates(ctx context.Context, branch string) (map[string]FileState, error) {
	out := make(map[string]FileState)
	positions := make(map[string]map[int]bool)
	err := vectorstore.ScrollAll(ctx, idx.store, idx.collection, visibleOnBranch(branch), false, func(page []vectorstore.Point) error {
		for _, p := range page {
			rec := ContentFromPoint(p)
			if positions[rec.Path] == nil {
				positions[rec.Path] = make(map[int]bool)
			}
			st, ok := out[rec.Path]
			if !ok {
				st = FileState{
					Path:            rec.Path,
					FileHash:        rec.FileHash,
					FileSize:        rec.FileSize,
					FilesystemMTime: rec.FilesystemMTime,
					IndexedAt:       rec.IndexedAt,
				}
			}
			st.Chunks++
			if positions[rec.Path][rec.ChunkIndex] || rec.FileHash != st.FileHash {
				st.Conflicted = true
			}
			positions[rec.Path][rec.ChunkIndex] = true
			// The oldest mtime wins so a partially refreshed file is re-checked.
			if rec.FilesystemMTime.Before(st.FilesystemMTime) {
				st.FilesystemMTime = rec.FilesystemMTime
			}
			if rec.IndexedAt.After(st.IndexedAt) {
				st.IndexedAt = rec.IndexedAt
			}
			out[rec.Path] = st
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VisiblePaths returns the set of paths visible on branch.
func (idx *Index) VisiblePaths(ctx context.Context, branch string) (map[string]bool, error) {
	states, err := idx.FileStates(ctx, branch)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(states))
	for p := range states {
		out[p] = true
	}
	return out, nil
}

// TouchFile records modTime on the chunks of path visible on branch, so the
// next reconcile takes the fast path for a file whose content did not change.
func (idx *Index) TouchFile(ctx context.Context, branch, path string, modTime time.Time) error {
	recs, err := idx.visibleForPath(ctx, branch, path)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.FilesystemMTime.Equal(modTime) {
			continue
		}
		idx.locks.Lock(rec.ID)
		err := idx.store.SetPayload(ctx, idx.collection, rec.ID, map[string]any{FieldFilesystemMTime: unixNano(modTime)})
		idx.locks.Unlock(rec.ID)
		if err != nil && !errors.Is(err, vectorstore.ErrPointNotFound) {
			return err
		}
	}
	return nil
}
