package cache

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mvp-joe/code-indexer/internal/git"
)

func TestNormalizeRemoteURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		remote string
		want   string
	}{
		{"https with .git", "https://github.com/user/repo.git", "github.com/user/repo"},
		{"https without .git", "https://github.com/user/repo", "github.com/user/repo"},
		{"ssh shorthand", "git@github.com:user/repo.git", "github.com/user/repo"},
		{"ssh scheme", "ssh://git@github.com/user/repo.git", "github.com/user/repo"},
		{"whitespace", "  https://gitlab.com/group/repo.git\n", "gitlab.com/group/repo"},
		{"http", "http://example.com/repo", "example.com/repo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, normalizeRemoteURL(tt.remote))
		})
	}
}

func TestProjectKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ops := git.NewMockGitOps()
	ops.Root = "/work/repo"
	key := ProjectKey(ctx, ops, "/work/repo/sub")
	parts := strings.Split(key, "-")
	assert.Len(t, parts, 2)
	assert.Len(t, parts[0], 8)
	assert.Len(t, parts[1], 8)

	// ssh and https forms of the same remote share a remote hash
	ops2 := git.NewMockGitOps()
	ops2.Root = "/work/repo"
	ops2.Remote = "git@github.com:user/repo.git"
	assert.Equal(t, key, ProjectKey(ctx, ops2, "/work/repo"))

	ops3 := git.NewMockGitOps()
	ops3.Root = "/elsewhere/repo"
	assert.NotEqual(t, key, ProjectKey(ctx, ops3, "/elsewhere/repo"))

	noRemote := git.NewMockGitOps()
	noRemote.Remote = ""
	assert.True(t, strings.HasPrefix(ProjectKey(ctx, noRemote, "/x"), "00000000-"))
}

func TestCollectionNameAndPaths(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cidx_abcd1234_ef567890", CollectionName("abcd1234-ef567890"))
	assert.Equal(t, filepath.Join("/root", "k", "metadata.db"), MetadataPath("/root", "k"))
	assert.Equal(t, filepath.Join(DefaultRoot(), "k", "metadata.db"), MetadataPath("", "k"))
}
