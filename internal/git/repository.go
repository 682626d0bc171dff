package git

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotRepository is returned when a path is not inside a git worktree.
var ErrNotRepository = errors.New("not a git repository")

// Repository reads branch, tree and worktree state through go-git.
// Methods are safe for concurrent use; go-git's storer is not, so calls
// are serialized.
type Repository struct {
	mu   sync.Mutex
	repo *gogit.Repository
	root string
}

// OpenRepository opens the repository containing path.
func OpenRepository(path string) (*Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
		}
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("repository at %s has no worktree: %w", path, err)
	}
	return &Repository{repo: repo, root: wt.Filesystem.Root()}, nil
}

// Root returns the worktree root.
func (r *Repository) Root() string {
	return r.root
}

// CurrentBranch returns the checked out branch, "detached-{short-hash}" on a
// detached HEAD, or "unknown" for a repository without commits.
func (r *Repository) CurrentBranch() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.repo.Head()
	if err != nil {
		// unborn branch: HEAD still names it
		if ref, err := r.repo.Storer.Reference(plumbing.HEAD); err == nil && ref.Type() == plumbing.SymbolicReference {
			return ref.Target().Short()
		}
		return "unknown"
	}
	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return "detached-" + head.Hash().String()[:7]
}

// HeadCommit returns the HEAD commit hash, or "" for a repository without
// commits.
func (r *Repository) HeadCommit() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

// Branches returns local branch names in sorted order.
func (r *Repository) Branches() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	iter, err := r.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	var out []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		out = append(out, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// TrackedFiles returns the paths in the index, slash separated and sorted.
// Staged additions count as tracked; untracked files do not.
func (r *Repository) TrackedFiles() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	out := make([]string, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		out = append(out, filepath.ToSlash(e.Name))
	}
	sort.Strings(out)
	return out, nil
}

// commitTree resolves a revision to its tree. An empty revision yields a nil
// tree, which diffs as "everything added".
func (r *Repository) commitTree(rev string) (*object.Tree, error) {
	if rev == "" {
		return nil, nil
	}
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", rev, err)
	}
	commit, err := r.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree of %s: %w", hash, err)
	}
	return tree, nil
}

func treeFiles(tree *object.Tree) ([]string, error) {
	if tree == nil {
		return nil, nil
	}
	var out []string
	iter := tree.Files()
	defer iter.Close()
	for {
		f, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f.Name)
	}
	return out, nil
}
