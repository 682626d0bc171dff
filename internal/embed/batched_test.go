package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for EmbedWithProgress():
// - Results keep input order across batches
// - One progress update per batch with running totals
// - Empty input returns an empty slice without calling the provider
// - A cancelled context stops before the next batch

func TestEmbedWithProgress_Batches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewMockProvider(8)
	texts := []string{"a", "b", "c", "d", "e"}

	progressCh := make(chan BatchProgress, 10)
	got, err := EmbedWithProgress(ctx, p, texts, EmbedModePassage, 2, progressCh)
	close(progressCh)
	require.NoError(t, err)
	require.Len(t, got, 5)

	for i, text := range texts {
		want, err := EmbedOne(ctx, p, text, EmbedModePassage)
		require.NoError(t, err)
		assert.Equal(t, want, got[i])
	}

	var updates []BatchProgress
	for u := range progressCh {
		updates = append(updates, u)
	}
	require.Len(t, updates, 3)
	assert.Equal(t, BatchProgress{BatchIndex: 3, TotalBatches: 3, ProcessedChunks: 5, TotalChunks: 5}, updates[2])
	assert.Equal(t, 2, updates[0].ProcessedChunks)
}

func TestEmbedWithProgress_Empty(t *testing.T) {
	t.Parallel()
	p := NewMockProvider(8)

	got, err := EmbedWithProgress(context.Background(), p, nil, EmbedModePassage, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, p.Calls())
}

func TestEmbedWithProgress_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewMockProvider(8)

	_, err := EmbedWithProgress(ctx, p, []string{"a", "b"}, EmbedModePassage, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.Calls())
}
