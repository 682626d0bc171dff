package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// IsOrphan reports whether no branch in knownBranches can see rec.
// With no known branches nothing is considered orphaned.
func IsOrphan(rec ContentRecord, knownBranches []string) bool {
	if len(knownBranches) == 0 {
		return false
	}
	for _, b := range knownBranches {
		if rec.VisibleOn(b) {
			return false
		}
	}
	return true
}

// CleanupOrphans physically deletes content records hidden on every known
// branch. Each candidate is re-read under its lock before deletion so a
// record made visible concurrently survives.
func (idx *Index) CleanupOrphans(ctx context.Context, knownBranches []string) (int, error) {
	if len(knownBranches) == 0 {
		return 0, nil
	}

	var candidates []string
	err := vectorstore.ScrollAll(ctx, idx.store, idx.collection, contentFilter(), false, func(page []vectorstore.Point) error {
		for _, p := range page {
			if IsOrphan(ContentFromPoint(p), knownBranches) {
				candidates = append(candidates, p.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		n, err := idx.deleteIfOrphan(ctx, id, knownBranches)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}

	if deleted > 0 {
		idx.logger.Info(ctx, "removed orphaned content",
			zap.Int("deleted", deleted), zap.Strings("known_branches", knownBranches))
	}
	return deleted, nil
}

func (idx *Index) deleteIfOrphan(ctx context.Context, id string, knownBranches []string) (int, error) {
	idx.locks.Lock(id)
	defer idx.locks.Unlock(id)

	recs, err := idx.getRecords(ctx, []string{id})
	if err != nil {
		return 0, err
	}
	rec, ok := recs[id]
	if !ok || !IsOrphan(rec, knownBranches) {
		return 0, nil
	}
	if err := idx.store.Delete(ctx, idx.collection, []string{id}); err != nil {
		return 0, err
	}
	return 1, nil
}

// HideBranchEverywhere adds branch to the hidden set of every content record.
// Used when a branch is deleted so its content becomes eligible for cleanup.
func (idx *Index) HideBranchEverywhere(ctx context.Context, branch string) (int, error) {
	var ids []string
	err := vectorstore.ScrollAll(ctx, idx.store, idx.collection, visibleOnBranch(branch), false, func(page []vectorstore.Point) error {
		for _, p := range page {
			ids = append(ids, p.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	hidden := 0
	for _, id := range ids {
		idx.locks.Lock(id)
		got, err := idx.hideIDs(ctx, branch, []string{id})
		idx.locks.Unlock(id)
		if err != nil {
			return hidden, err
		}
		hidden += len(got)
	}
	return hidden, nil
}
