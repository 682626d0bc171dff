package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for MetadataStore:
// - Schema is created on open and reopening an existing file keeps data
// - State keys round trip; missing keys read as ""
// - Last successful run is absent on a new store and set by MarkSuccessfulRun
// - Active collection falls back until set
// - Branch registry upserts keep the first-indexed timestamp
// - Run history is ordered newest first; LastFullRun skips incremental and failed runs

func newTestStore(t *testing.T) *MetadataStore {
	t.Helper()
	s, err := OpenMetadataStore(filepath.Join(t.TempDir(), "meta", "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMetadataStore_State(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	v, err := s.State(KeySchemaVersion)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)

	v, err = s.State("missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetState(KeyEmbeddingModel, "bge"))
	require.NoError(t, s.SetState(KeyEmbeddingModel, "bge-v2"))
	v, err = s.State(KeyEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "bge-v2", v)
}

func TestMetadataStore_LastSuccessfulRun(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, ok, err := s.LastSuccessfulRun()
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkSuccessfulRun(at))
	got, ok, err := s.LastSuccessfulRun()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(got))

	require.NoError(t, s.SetState(KeyLastSuccessfulRun, "garbage"))
	_, _, err = s.LastSuccessfulRun()
	assert.Error(t, err)
}

func TestMetadataStore_ActiveCollection(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	name, err := s.ActiveCollection("default")
	require.NoError(t, err)
	assert.Equal(t, "default", name)

	require.NoError(t, s.SetActiveCollection("blue"))
	name, err = s.ActiveCollection("default")
	require.NoError(t, err)
	assert.Equal(t, "blue", name)
}

func TestMetadataStore_Branches(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)
	require.NoError(t, s.UpsertBranch("main", "aaa", 10, first))
	require.NoError(t, s.UpsertBranch("dev", "bbb", 3, first))
	require.NoError(t, s.UpsertBranch("main", "ccc", 12, later))

	branches, err := s.KnownBranches()
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "dev", branches[0].Name)

	main, err := s.Branch("main")
	require.NoError(t, err)
	require.NotNil(t, main)
	assert.Equal(t, "ccc", main.LastCommit)
	assert.Equal(t, 12, main.FileCount)
	assert.True(t, first.Equal(main.FirstIndexedAt))
	assert.True(t, later.Equal(main.LastIndexedAt))

	require.NoError(t, s.ForgetBranch("dev"))
	missing, err := s.Branch("dev")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMetadataStore_Runs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	runs := []RunRecord{
		{OperationID: "1", Branch: "main", Mode: "full", Strategy: "in_place", TriggerReasons: []string{"user_requested"},
			Status: RunCompleted, StartedAt: base, FinishedAt: base.Add(6 * time.Minute)},
		{OperationID: "2", Branch: "main", Mode: "incremental", Strategy: "incremental",
			Status: RunCompleted, StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Minute)},
		{OperationID: "3", Branch: "main", Mode: "full", Strategy: "blue_green",
			Status: RunFailed, Error: "boom", StartedAt: base.Add(2 * time.Hour), FinishedAt: base.Add(2*time.Hour + time.Minute)},
	}
	for _, r := range runs {
		id, err := s.RecordRun(r)
		require.NoError(t, err)
		assert.Positive(t, id)
	}

	recent, err := s.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "3", recent[0].OperationID)
	assert.Equal(t, RunFailed, recent[0].Status)
	assert.Equal(t, "boom", recent[0].Error)
	assert.Empty(t, recent[1].TriggerReasons)

	last, err := s.LastFullRun()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "1", last.OperationID)
	assert.Equal(t, []string{"user_requested"}, last.TriggerReasons)
	assert.Equal(t, 6*time.Minute, last.Duration())
}

func TestMetadataStore_Reopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "metadata.db")

	s, err := OpenMetadataStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SetActiveCollection("kept"))
	require.NoError(t, s.Close())

	s, err = OpenMetadataStore(path)
	require.NoError(t, err)
	defer s.Close()
	name, err := s.ActiveCollection("")
	require.NoError(t, err)
	assert.Equal(t, "kept", name)
}

func TestMetadataStore_InMemory(t *testing.T) {
	t.Parallel()
	s, err := OpenMetadataStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetState("k", "v"))
	v, err := s.State("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}
