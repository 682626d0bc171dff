package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/mvp-joe/code-indexer/internal/git"
	"github.com/mvp-joe/code-indexer/internal/reindex"
	"github.com/mvp-joe/code-indexer/internal/storage"
)

// FileChanges is the difference between the files on disk and what the
// index shows for a branch.
type FileChanges struct {
	Added     []string // on disk, not visible on the branch
	Modified  []string // visible with a different file hash, or in more than one version
	Deleted   []string // visible on the branch, no longer on disk
	Unchanged []string // same hash (mtime may have drifted)

	// Drifted are unchanged files whose mtime moved; their stored mtime
	// should be refreshed so the next run takes the fast path.
	Drifted map[string]time.Time
}

// ToProcess returns added and modified paths.
func (fc *FileChanges) ToProcess() []string {
	out := make([]string, 0, len(fc.Added)+len(fc.Modified))
	out = append(out, fc.Added...)
	return append(out, fc.Modified...)
}

// ChangeSet converts the file-level diff into the decision engine's input.
func (fc *FileChanges) ChangeSet(totalFiles int) reindex.ChangeSet {
	cs := reindex.NewChangeSetFromPaths(fc.Modified, fc.Added, fc.Deleted, totalFiles)
	cs.DirectoriesAdded, cs.DirectoriesRemoved = git.DirectoryChanges(
		slices.Concat(fc.Modified, fc.Unchanged, fc.Deleted),
		slices.Concat(fc.Modified, fc.Unchanged, fc.Added),
	)
	return cs
}

// ChangeDetector compares filesystem state to index state.
type ChangeDetector struct {
	rootDir      string
	safetyBuffer time.Duration
}

// NewChangeDetector creates a detector. Modification times within
// safetyBuffer of the stored one count as unchanged without hashing.
func NewChangeDetector(rootDir string, safetyBuffer time.Duration) *ChangeDetector {
	return &ChangeDetector{rootDir: rootDir, safetyBuffer: safetyBuffer}
}

// DetectChanges implements the change detection algorithm with mtime optimization.
//
// Algorithm:
//  1. For each discovered file, stat it and look up the indexed state
//  2. Not indexed: Added; more than one version visible: Modified
//  3. Same size and mtime within the safety buffer: Unchanged (fast path, no read)
//  4. Otherwise hash the file: same hash is Unchanged (drift), different is Modified
//  5. Indexed paths not discovered: Deleted
func (cd *ChangeDetector) DetectChanges(ctx context.Context, files []DiscoveredFile, indexed map[string]storage.FileState) (*FileChanges, error) {
	changes := &FileChanges{Drifted: make(map[string]time.Time)}
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen[f.Path] = true

		state, ok := indexed[f.Path]
		if !ok {
			changes.Added = append(changes.Added, f.Path)
			continue
		}
		if state.Conflicted {
			changes.Modified = append(changes.Modified, f.Path)
			continue
		}

		absPath := filepath.Join(cd.rootDir, filepath.FromSlash(f.Path))
		info, err := os.Stat(absPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat file %s: %w", f.Path, err)
		}

		if state.Unchanged(info.Size(), info.ModTime(), cd.safetyBuffer) {
			changes.Unchanged = append(changes.Unchanged, f.Path)
			continue
		}

		diskHash, err := calculateHashForFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate hash for %s: %w", f.Path, err)
		}
		if diskHash == state.FileHash {
			changes.Unchanged = append(changes.Unchanged, f.Path)
			changes.Drifted[f.Path] = info.ModTime()
			continue
		}
		changes.Modified = append(changes.Modified, f.Path)
	}

	for path := range indexed {
		if !seen[path] {
			changes.Deleted = append(changes.Deleted, path)
		}
	}
	sort.Strings(changes.Deleted)
	return changes, nil
}
