package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/logging"
	"github.com/mvp-joe/code-indexer/internal/reindex"
)

// AnalyzeOptions controls change analysis.
type AnalyzeOptions struct {
	// IncludeWorkingTree folds uncommitted changes (staged, unstaged and
	// untracked files) into the result.
	IncludeWorkingTree bool
}

// ChangeAnalyzer turns repository history into a reindex.ChangeSet.
type ChangeAnalyzer struct {
	repo   *Repository
	logger *logging.Logger
}

// NewChangeAnalyzer creates an analyzer over repo.
func NewChangeAnalyzer(repo *Repository, logger *logging.Logger) *ChangeAnalyzer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ChangeAnalyzer{repo: repo, logger: logger.Named("git")}
}

// AnalyzeCommitsBack compares HEAD~n with HEAD.
func (a *ChangeAnalyzer) AnalyzeCommitsBack(ctx context.Context, n int, opts AnalyzeOptions) (reindex.ChangeSet, error) {
	if n <= 0 {
		return a.AnalyzeSince(ctx, "HEAD", opts)
	}
	return a.AnalyzeSince(ctx, fmt.Sprintf("HEAD~%d", n), opts)
}

// AnalyzeSince compares the tree at sinceRef with HEAD. Renames are
// detected and reported as file moves rather than delete/add pairs. An empty
// sinceRef treats every file at HEAD as added.
func (a *ChangeAnalyzer) AnalyzeSince(ctx context.Context, sinceRef string, opts AnalyzeOptions) (reindex.ChangeSet, error) {
	a.repo.mu.Lock()
	cs, err := a.diff(ctx, sinceRef)
	a.repo.mu.Unlock()
	if err != nil {
		return reindex.ChangeSet{}, err
	}

	if opts.IncludeWorkingTree && a.repo.HeadCommit() != "" {
		status, err := a.repo.Status()
		if err != nil {
			return reindex.ChangeSet{}, err
		}
		cs = mergeWorkingTree(cs, status, a.repo.root)
	}

	if cs.TotalFiles <= 0 {
		cs.TotalFiles = reindex.EstimateTotalFiles(cs.ChangeCount())
	}

	a.logger.Debug(ctx, "analyzed changes",
		zap.String("since", sinceRef),
		zap.Int("changed", len(cs.FilesChanged)),
		zap.Int("added", len(cs.FilesAdded)),
		zap.Int("deleted", len(cs.FilesDeleted)),
		zap.Int("moves", len(cs.FileMoves)),
		zap.Int("total_files", cs.TotalFiles))
	return cs, nil
}

func (a *ChangeAnalyzer) diff(ctx context.Context, sinceRef string) (reindex.ChangeSet, error) {
	var cs reindex.ChangeSet

	head, err := a.repo.repo.Head()
	if err != nil {
		// no commits yet: nothing committed to compare
		return cs, nil
	}
	headTree, err := a.repo.commitTree(head.Hash().String())
	if err != nil {
		return cs, err
	}
	baseTree, err := a.repo.commitTree(sinceRef)
	if err != nil {
		return cs, err
	}

	newFiles, err := treeFiles(headTree)
	if err != nil {
		return cs, fmt.Errorf("failed to list files at HEAD: %w", err)
	}
	cs.TotalFiles = len(newFiles)

	if baseTree == nil {
		cs.FilesAdded = newFiles
		cs.DirectoriesAdded = directoriesOf(newFiles)
		return cs, nil
	}

	oldFiles, err := treeFiles(baseTree)
	if err != nil {
		return cs, fmt.Errorf("failed to list files at %s: %w", sinceRef, err)
	}

	changes, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return cs, fmt.Errorf("failed to diff %s..HEAD: %w", sinceRef, err)
	}

	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return cs, fmt.Errorf("failed to classify change: %w", err)
		}
		switch action {
		case merkletrie.Insert:
			cs.FilesAdded = append(cs.FilesAdded, change.To.Name)
		case merkletrie.Delete:
			cs.FilesDeleted = append(cs.FilesDeleted, change.From.Name)
		case merkletrie.Modify:
			if change.From.Name != change.To.Name {
				cs.FileMoves = append(cs.FileMoves, reindex.FileMove{From: change.From.Name, To: change.To.Name})
				// the old path disappears and the new one must be indexed
				cs.FilesDeleted = append(cs.FilesDeleted, change.From.Name)
				cs.FilesAdded = append(cs.FilesAdded, change.To.Name)
				continue
			}
			cs.FilesChanged = append(cs.FilesChanged, change.To.Name)
		}
	}

	cs.DirectoriesAdded, cs.DirectoriesRemoved = DirectoryChanges(oldFiles, newFiles)
	return cs, nil
}

func mergeWorkingTree(cs reindex.ChangeSet, status WorktreeStatus, root string) reindex.ChangeSet {
	seen := make(map[string]bool, cs.ChangeCount())
	for _, p := range cs.AllPaths() {
		seen[p] = true
	}

	paths := make([]string, 0, len(status))
	for p := range status {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if seen[p] {
			continue
		}
		switch {
		case status[p] == StatusUntracked:
			cs.FilesAdded = append(cs.FilesAdded, p)
			cs.TotalFiles++
		case !exists(filepath.Join(root, filepath.FromSlash(p))):
			cs.FilesDeleted = append(cs.FilesDeleted, p)
		default:
			cs.FilesChanged = append(cs.FilesChanged, p)
		}
	}
	return cs
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
