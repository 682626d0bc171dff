package git

import (
	"context"
	"os/exec"
	"strings"
)

// Operations runs the git binary for the probes that identify a project
// before a go-git Repository is opened. They also work in linked worktrees
// and submodules, which go-git does not open.
type Operations interface {
	// RemoteURL returns the git remote URL.
	// Tries 'origin' first, then falls back to first available remote.
	RemoteURL(ctx context.Context, projectPath string) string

	// WorktreeRoot returns the git worktree root path.
	// Falls back to projectPath if not a git repository.
	WorktreeRoot(ctx context.Context, projectPath string) string
}

// gitOps is the real implementation using exec.Command.
type gitOps struct{}

// NewOperations returns the default git operations implementation.
func NewOperations() Operations {
	return &gitOps{}
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

func (g *gitOps) RemoteURL(ctx context.Context, projectPath string) string {
	if url, err := run(ctx, projectPath, "remote", "get-url", "origin"); err == nil {
		return url
	}

	// Fallback: first remote
	output, err := run(ctx, projectPath, "remote")
	if err != nil {
		return ""
	}
	remotes := strings.Split(output, "\n")
	if len(remotes) > 0 && remotes[0] != "" {
		url, _ := run(ctx, projectPath, "remote", "get-url", remotes[0])
		return url
	}
	return ""
}

func (g *gitOps) WorktreeRoot(ctx context.Context, projectPath string) string {
	root, err := run(ctx, projectPath, "rev-parse", "--show-toplevel")
	if err != nil {
		return projectPath
	}
	return root
}
