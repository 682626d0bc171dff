package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// TestRepo is a go-git repository in a temp dir for tests in this and
// dependent packages.
type TestRepo struct {
	T    testing.TB
	Dir  string
	Repo *gogit.Repository
}

// NewTestRepo initializes an empty repository on branch main.
func NewTestRepo(t testing.TB) *TestRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)
	return &TestRepo{T: t, Dir: dir, Repo: repo}
}

// Write creates or replaces a file relative to the worktree root.
func (r *TestRepo) Write(path, content string) {
	r.T.Helper()
	full := filepath.Join(r.Dir, filepath.FromSlash(path))
	require.NoError(r.T, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(r.T, os.WriteFile(full, []byte(content), 0o644))
}

// Remove deletes a file from the worktree.
func (r *TestRepo) Remove(path string) {
	r.T.Helper()
	require.NoError(r.T, os.Remove(filepath.Join(r.Dir, filepath.FromSlash(path))))
}

// Add stages paths.
func (r *TestRepo) Add(paths ...string) {
	r.T.Helper()
	wt, err := r.Repo.Worktree()
	require.NoError(r.T, err)
	for _, p := range paths {
		_, err := wt.Add(p)
		require.NoError(r.T, err)
	}
}

// Commit stages everything, including deletions, and commits.
func (r *TestRepo) Commit(msg string) string {
	r.T.Helper()
	wt, err := r.Repo.Worktree()
	require.NoError(r.T, err)
	require.NoError(r.T, wt.AddWithOptions(&gogit.AddOptions{All: true}))
	hash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(r.T, err)
	return hash.String()
}

// Checkout switches to branch, creating it from HEAD when create is set.
func (r *TestRepo) Checkout(branch string, create bool) {
	r.T.Helper()
	wt, err := r.Repo.Worktree()
	require.NoError(r.T, err)
	require.NoError(r.T, wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
	}))
}
