package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/code-indexer/internal/storage"
)

// TEST PLAN: ChangeDetector
//
// The ChangeDetector compares files on disk to what the index shows for a branch:
// - Added: discovered, not indexed
// - Modified: different hash than indexed
// - Deleted: indexed, not discovered
// - Unchanged: same hash; mtime drift is reported so it can be refreshed
//
// Key optimization: mtime fast path. Same size and an mtime inside the
// safety buffer skip hashing entirely.
//
// Test Cases:
// 1. No changes (fast path, nothing hashed)
// 2. Added, modified and deleted together
// 3. Mtime drift with identical content
// 4. Size change forces a hash even with the same mtime
// 5. Context cancellation
// 6. A file visible in more than one version is modified even on the fast path

type detectorFixture struct {
	root    string
	files   []DiscoveredFile
	indexed map[string]storage.FileState
}

func newDetectorFixture(t *testing.T, contents map[string]string) *detectorFixture {
	t.Helper()
	f := &detectorFixture{root: t.TempDir(), indexed: make(map[string]storage.FileState)}
	for path, content := range contents {
		abs := filepath.Join(f.root, path)
		writeFile(t, abs, content)
		info, err := os.Stat(abs)
		require.NoError(t, err)
		f.files = append(f.files, DiscoveredFile{Path: path, Size: info.Size()})
		f.indexed[path] = storage.FileState{
			Path:            path,
			FileHash:        calculateChecksum([]byte(content)),
			FileSize:        info.Size(),
			FilesystemMTime: info.ModTime(),
		}
	}
	return f
}

func TestChangeDetector_NoChanges(t *testing.T) {
	t.Parallel()
	f := newDetectorFixture(t, map[string]string{"a.go": "package a\n", "b.go": "package b\n"})

	// Corrupt the stored hashes: the fast path must not look at them.
	for p, s := range f.indexed {
		s.FileHash = "stale"
		f.indexed[p] = s
	}

	changes, err := NewChangeDetector(f.root, time.Second).DetectChanges(context.Background(), f.files, f.indexed)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a.go", "b.go"}, changes.Unchanged)
	assert.Empty(t, changes.ToProcess())
	assert.Empty(t, changes.Deleted)
	assert.Empty(t, changes.Drifted)
	assert.True(t, changes.ChangeSet(2).IsEmpty())
}

func TestChangeDetector_ConflictedIsModified(t *testing.T) {
	t.Parallel()
	f := newDetectorFixture(t, map[string]string{"a.go": "package a\n", "b.go": "package b\n"})

	st := f.indexed["a.go"]
	st.Conflicted = true
	f.indexed["a.go"] = st

	changes, err := NewChangeDetector(f.root, time.Second).DetectChanges(context.Background(), f.files, f.indexed)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go"}, changes.Modified)
	assert.Equal(t, []string{"b.go"}, changes.Unchanged)
}

func TestChangeDetector_MixedOperations(t *testing.T) {
	t.Parallel()
	f := newDetectorFixture(t, map[string]string{
		"keep.go":   "package keep\n",
		"modify.go": "package modify\n",
	})
	f.indexed["gone.go"] = storage.FileState{Path: "gone.go", FileHash: "x"}

	writeFile(t, filepath.Join(f.root, "modify.go"), "package modify\n\nfunc Changed() {}\n")
	writeFile(t, filepath.Join(f.root, "new.go"), "package new\n")
	files := append(f.files, DiscoveredFile{Path: "new.go"})

	changes, err := NewChangeDetector(f.root, time.Second).DetectChanges(context.Background(), files, f.indexed)
	require.NoError(t, err)

	assert.Equal(t, []string{"new.go"}, changes.Added)
	assert.Equal(t, []string{"modify.go"}, changes.Modified)
	assert.Equal(t, []string{"gone.go"}, changes.Deleted)
	assert.Equal(t, []string{"keep.go"}, changes.Unchanged)
	assert.Equal(t, []string{"new.go", "modify.go"}, changes.ToProcess())

	cs := changes.ChangeSet(3)
	assert.Equal(t, 3, cs.ChangeCount())
	assert.Equal(t, 3, cs.TotalFiles)
}

func TestChangeDetector_MtimeDrift(t *testing.T) {
	t.Parallel()
	f := newDetectorFixture(t, map[string]string{"a.go": "package a\n"})

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(f.root, "a.go"), later, later))

	changes, err := NewChangeDetector(f.root, time.Second).DetectChanges(context.Background(), f.files, f.indexed)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go"}, changes.Unchanged)
	assert.Empty(t, changes.Modified)
	require.Contains(t, changes.Drifted, "a.go")
	assert.WithinDuration(t, later, changes.Drifted["a.go"], time.Second)
}

func TestChangeDetector_SafetyBuffer(t *testing.T) {
	t.Parallel()
	f := newDetectorFixture(t, map[string]string{"a.go": "package a\n"})

	s := f.indexed["a.go"]
	s.FilesystemMTime = s.FilesystemMTime.Add(-500 * time.Millisecond)
	s.FileHash = "stale"
	f.indexed["a.go"] = s

	changes, err := NewChangeDetector(f.root, time.Second).DetectChanges(context.Background(), f.files, f.indexed)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, changes.Unchanged, "sub-second drift stays on the fast path")

	changes, err = NewChangeDetector(f.root, 0).DetectChanges(context.Background(), f.files, f.indexed)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, changes.Modified, "without a buffer the stale hash is noticed")
}

func TestChangeDetector_SizeChangeForcesHash(t *testing.T) {
	t.Parallel()
	f := newDetectorFixture(t, map[string]string{"a.go": "package a\n"})

	abs := filepath.Join(f.root, "a.go")
	info, err := os.Stat(abs)
	require.NoError(t, err)
	writeFile(t, abs, "package a\n\nvar X = 1\n")
	require.NoError(t, os.Chtimes(abs, info.ModTime(), info.ModTime()))

	changes, err := NewChangeDetector(f.root, time.Second).DetectChanges(context.Background(), f.files, f.indexed)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, changes.Modified)
}

func TestChangeDetector_ContextCancellation(t *testing.T) {
	t.Parallel()
	f := newDetectorFixture(t, map[string]string{"a.go": "package a\n"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewChangeDetector(f.root, time.Second).DetectChanges(ctx, f.files, f.indexed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileChanges_ChangeSetDirectories(t *testing.T) {
	t.Parallel()

	fc := &FileChanges{
		Added:     []string{"cmd/new/main.go"},
		Modified:  []string{"pkg/a.go"},
		Deleted:   []string{"legacy/old.go"},
		Unchanged: []string{"pkg/b.go"},
	}
	cs := fc.ChangeSet(4)
	assert.Equal(t, []string{"cmd", "cmd/new"}, cs.DirectoriesAdded)
	assert.Equal(t, []string{"legacy"}, cs.DirectoriesRemoved)
}
