package git

import (
	"context"
	"fmt"
)

// MockGitOps is a mock implementation of Operations for testing.
type MockGitOps struct {
	Remote string
	Root   string
}

// NewMockGitOps creates a mock with sensible defaults.
func NewMockGitOps() *MockGitOps {
	return &MockGitOps{
		Remote: "https://github.com/user/repo.git",
		Root:   "/tmp/test-repo",
	}
}

func (m *MockGitOps) RemoteURL(_ context.Context, _ string) string {
	return m.Remote
}

func (m *MockGitOps) WorktreeRoot(_ context.Context, projectPath string) string {
	if m.Root == "" {
		return projectPath
	}
	return m.Root
}

// String returns a human-readable representation of the mock state.
func (m *MockGitOps) String() string {
	return fmt.Sprintf("MockGitOps{remote=%s, root=%s}", m.Remote, m.Root)
}

var _ Operations = (*MockGitOps)(nil)
