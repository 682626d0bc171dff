package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/mvp-joe/code-indexer/internal/git"
)

// ProjectKey identifies a project independent of where it is checked out
// for the remote half and dependent on it for the worktree half.
// Format: {remoteHash}-{worktreeHash} where each hash is 8 chars.
func ProjectKey(ctx context.Context, ops git.Operations, projectPath string) string {
	return remoteHash(ops.RemoteURL(ctx, projectPath)) + "-" + hashString(ops.WorktreeRoot(ctx, projectPath))[:8]
}

// CollectionName derives the default vector collection for a project key.
func CollectionName(projectKey string) string {
	return "cidx_" + strings.ReplaceAll(projectKey, "-", "_")
}

// DefaultRoot is the directory holding per-project metadata databases.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "code-indexer")
	}
	return filepath.Join(home, ".code-indexer", "cache")
}

// MetadataPath returns the metadata database path for a project key under
// root. An empty root means DefaultRoot().
func MetadataPath(root, projectKey string) string {
	if root == "" {
		root = DefaultRoot()
	}
	return filepath.Join(root, projectKey, "metadata.db")
}

// remoteHash returns an 8-char hash of the normalized remote URL, or
// "00000000" if no remote is configured.
func remoteHash(remote string) string {
	if remote == "" {
		return "00000000"
	}
	return hashString(normalizeRemoteURL(remote))[:8]
}

// normalizeRemoteURL normalizes git remote URLs to a canonical form.
// Strips protocols, converts SSH format to path format, removes .git suffix.
// Examples:
//   - https://github.com/user/repo.git -> github.com/user/repo
//   - git@github.com:user/repo.git -> github.com/user/repo
func normalizeRemoteURL(remote string) string {
	remote = strings.TrimSpace(remote)

	for _, prefix := range []string{"https://", "http://", "ssh://", "git://"} {
		remote = strings.TrimPrefix(remote, prefix)
	}

	// Strip .git suffix before handling git@ to avoid issues
	remote = strings.TrimSuffix(remote, ".git")

	// git@github.com:user/repo -> github.com/user/repo
	if strings.HasPrefix(remote, "git@") {
		remote = strings.TrimPrefix(remote, "git@")
		remote = strings.Replace(remote, ":", "/", 1)
	}

	return remote
}

// hashString returns SHA-256 hash of the input string as hex.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
