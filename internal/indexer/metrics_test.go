package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/code-indexer/internal/cache"
	"github.com/mvp-joe/code-indexer/internal/embed"
	"github.com/mvp-joe/code-indexer/internal/storage"
)

// Test Plan for MetricsCollector:
// - Empty index: perfect accuracy, zero documents, no corruption
// - Populated index: self-retrieval probe finds every sample, documents counted
// - Age comes from the last successful run
// - Corruption: stored dims or model differ, vectors of the wrong size,
//   metadata remembers documents the store lost

func newMetricsFixture(t *testing.T, files int) (*storage.Index, *cache.MetadataStore) {
	t.Helper()
	idx, _ := newTestIndex(t)
	for i := range files {
		content := fmt.Sprintf("package p%d\n\nfunc F%d() int { return %d }", i, i, i)
		_, err := idx.IndexFile(context.Background(), "main", storage.FileInput{
			Path:     fmt.Sprintf("p%d.go", i),
			Chunks:   []storage.Chunk{{Text: content, LineStart: 1, LineEnd: 3}},
			FileHash: calculateChecksum([]byte(content)),
			ModTime:  time.Now(),
		}, []string{"main"})
		require.NoError(t, err)
	}
	meta, err := cache.OpenMetadataStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	return idx, meta
}

func TestMetricsCollector_EmptyIndex(t *testing.T) {
	t.Parallel()
	idx, meta := newMetricsFixture(t, 0)

	m, err := NewMetricsCollector(5, nil).Collect(context.Background(), idx, meta, "main", testDims, embed.MockModel)
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.SearchAccuracy)
	assert.Zero(t, m.DocumentCount)
	assert.Zero(t, m.IndexAgeDays)
	assert.Nil(t, m.LastUpdated)
	assert.False(t, m.CorruptionDetected)
}

func TestMetricsCollector_Healthy(t *testing.T) {
	t.Parallel()
	idx, meta := newMetricsFixture(t, 4)

	ten := time.Now().Add(-10*24*time.Hour - time.Hour)
	require.NoError(t, meta.MarkSuccessfulRun(ten))
	require.NoError(t, meta.SetState(cache.KeyDocumentCount, "4"))
	require.NoError(t, meta.SetState(cache.KeyEmbeddingDims, fmt.Sprint(testDims)))
	require.NoError(t, meta.SetState(cache.KeyEmbeddingModel, embed.MockModel))

	m, err := NewMetricsCollector(3, nil).Collect(context.Background(), idx, meta, "main", testDims, embed.MockModel)
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.SearchAccuracy)
	assert.Equal(t, 4, m.DocumentCount)
	assert.Equal(t, 10, m.IndexAgeDays)
	require.NotNil(t, m.LastUpdated)
	assert.False(t, m.CorruptionDetected)
	assert.Equal(t, 1.0, m.QueryPerformanceScore)
	assert.Equal(t, testDims, m.EmbeddingDimensions)
}

func TestMetricsCollector_HiddenContentNotProbed(t *testing.T) {
	t.Parallel()
	idx, meta := newMetricsFixture(t, 2)

	// dev sees nothing, so the probe has no samples there.
	m, err := NewMetricsCollector(5, nil).Collect(context.Background(), idx, meta, "dev", testDims, embed.MockModel)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.SearchAccuracy)
	assert.Equal(t, 2, m.DocumentCount)
}

func TestMetricsCollector_Corruption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files int
		setup func(t *testing.T, meta *cache.MetadataStore)
		dims  int
		model string
	}{
		{
			name:  "dimensions changed",
			files: 1,
			setup: func(t *testing.T, meta *cache.MetadataStore) {
				require.NoError(t, meta.SetState(cache.KeyEmbeddingDims, "768"))
			},
		},
		{
			name:  "model changed",
			files: 1,
			setup: func(t *testing.T, meta *cache.MetadataStore) {
				require.NoError(t, meta.SetState(cache.KeyEmbeddingModel, "some-other-model"))
			},
		},
		{
			name:  "store lost documents",
			files: 0,
			setup: func(t *testing.T, meta *cache.MetadataStore) {
				require.NoError(t, meta.SetState(cache.KeyDocumentCount, "12"))
			},
		},
		{
			name:  "stored vectors have the wrong size",
			files: 2,
			dims:  8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			idx, meta := newMetricsFixture(t, tt.files)
			if tt.setup != nil {
				tt.setup(t, meta)
			}
			dims := tt.dims
			if dims == 0 {
				dims = testDims
			}

			m, err := NewMetricsCollector(5, nil).Collect(context.Background(), idx, meta, "main", dims, embed.MockModel)
			require.NoError(t, err)
			assert.True(t, m.CorruptionDetected)
			assert.Zero(t, m.QualityScore())
		})
	}
}
