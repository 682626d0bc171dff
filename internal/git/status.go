package git

import (
	"fmt"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
)

// WorkingStatus is the git state of a file's on-disk content at index time.
type WorkingStatus string

const (
	StatusCommitted WorkingStatus = "committed"
	StatusStaged    WorkingStatus = "staged"
	StatusUnstaged  WorkingStatus = "unstaged"
	StatusUntracked WorkingStatus = "untracked"
)

// WorktreeStatus maps paths with uncommitted state to their WorkingStatus.
// Paths absent from the map are committed.
type WorktreeStatus map[string]WorkingStatus

// Of returns the status of path.
func (s WorktreeStatus) Of(path string) WorkingStatus {
	if st, ok := s[path]; ok {
		return st
	}
	return StatusCommitted
}

// Untracked returns the untracked paths.
func (s WorktreeStatus) Untracked() []string {
	var out []string
	for p, st := range s {
		if st == StatusUntracked {
			out = append(out, p)
		}
	}
	return out
}

// Status reads the worktree status. A modified tracked file is unstaged even
// when an older version of it is staged.
func (r *Repository) Status() (WorktreeStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	st, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree status: %w", err)
	}

	out := make(WorktreeStatus, len(st))
	for path, fs := range st {
		if ws, ok := classify(fs); ok {
			out[filepath.ToSlash(path)] = ws
		}
	}
	return out, nil
}

func classify(fs *gogit.FileStatus) (WorkingStatus, bool) {
	switch {
	case fs.Worktree == gogit.Untracked || fs.Staging == gogit.Untracked:
		return StatusUntracked, true
	case fs.Worktree != gogit.Unmodified:
		return StatusUnstaged, true
	case fs.Staging != gogit.Unmodified:
		return StatusStaged, true
	}
	return "", false
}
