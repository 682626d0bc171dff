package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/code-indexer/internal/cache"
	"github.com/mvp-joe/code-indexer/internal/embed"
	"github.com/mvp-joe/code-indexer/internal/git"
	"github.com/mvp-joe/code-indexer/internal/logging"
	"github.com/mvp-joe/code-indexer/internal/reindex"
	"github.com/mvp-joe/code-indexer/internal/storage"
	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

const testDims = 16

// roomySystem keeps RecommendedStrategy at in_place.
var roomySystem = &reindex.SystemContext{AvailableMemoryMB: 8192, CPUCores: 4}

type testEnv struct {
	root     string
	store    *vectorstore.ChromemStore
	provider *embed.MockProvider
	meta     *cache.MetadataStore
	logger   *logging.TestLogger
	orch     *Orchestrator
}

// newTestEnv builds an orchestrator over root with an in-memory store.
// repo may be nil for a project without git.
func newTestEnv(t *testing.T, root string, repo *git.Repository) *testEnv {
	t.Helper()
	store, err := vectorstore.NewChromemStore("", nil)
	require.NoError(t, err)
	meta, err := cache.OpenMetadataStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	provider := embed.NewMockProvider(testDims)
	logger := logging.NewTestLogger()

	cfg := DefaultConfig(root)
	cfg.Workers = 2
	cfg.Verify = storage.VerifyPolicy{MaxAttempts: 2, InitialBackoff: 1, MaxBackoff: 1}

	orch, err := NewOrchestrator(cfg, Dependencies{
		Store:    store,
		Embedder: provider,
		Meta:     meta,
		Repo:     repo,
		Logger:   logger.Logger,
	})
	require.NoError(t, err)

	return &testEnv{root: root, store: store, provider: provider, meta: meta, logger: logger, orch: orch}
}

func (e *testEnv) sync(t *testing.T, req SyncRequest) *Report {
	t.Helper()
	if req.System == nil {
		req.System = roomySystem
	}
	report, err := e.orch.Sync(context.Background(), req)
	require.NoError(t, err)
	return report
}

func (e *testEnv) visiblePaths(t *testing.T, branch string) map[string]bool {
	t.Helper()
	idx, err := e.orch.ActiveIndex()
	require.NoError(t, err)
	paths, err := idx.VisiblePaths(context.Background(), branch)
	require.NoError(t, err)
	return paths
}

func (e *testEnv) fileHash(t *testing.T, branch, path string) string {
	t.Helper()
	idx, err := e.orch.ActiveIndex()
	require.NoError(t, err)
	states, err := idx.FileStates(context.Background(), branch)
	require.NoError(t, err)
	return states[path].FileHash
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestIndex(t *testing.T) (*storage.Index, *embed.MockProvider) {
	t.Helper()
	store, err := vectorstore.NewChromemStore("", nil)
	require.NoError(t, err)
	provider := embed.NewMockProvider(testDims)
	idx := storage.NewIndex(store, "code", provider, nil)
	require.NoError(t, idx.EnsureCollection(context.Background()))
	return idx, provider
}

// recordingProgress captures callbacks.
type recordingProgress struct {
	NoOpProgressReporter
	mu        sync.Mutex
	decisions []bool
	processed []string
	embedded  map[string][]embed.BatchProgress
	reports   []*Report
}

func (r *recordingProgress) OnEmbeddingProgress(path string, progress embed.BatchProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.embedded == nil {
		r.embedded = make(map[string][]embed.BatchProgress)
	}
	r.embedded[path] = append(r.embedded[path], progress)
}

func (r *recordingProgress) OnDecision(d reindex.Decision) {
	r.decisions = append(r.decisions, d.ShouldReindex)
}

func (r *recordingProgress) OnFileProcessed(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, path)
}

func (r *recordingProgress) OnComplete(report *Report) {
	r.reports = append(r.reports, report)
}
