package embed

import (
	"context"
	"fmt"
)

// BatchProgress reports embedding progress for real-time feedback.
type BatchProgress struct {
	BatchIndex      int // Current batch number (1-indexed)
	TotalBatches    int
	ProcessedChunks int
	TotalChunks     int
}

// EmbedWithProgress embeds texts in sequential batches, sending a progress
// update on progressCh (which may be nil) after each batch. Cancellation is
// checked between batches, never inside a provider call.
//
// Example usage:
//
//	progressCh := make(chan embed.BatchProgress, 10)
//	go func() {
//	    for progress := range progressCh {
//	        fmt.Printf("Progress: %d/%d chunks\n", progress.ProcessedChunks, progress.TotalChunks)
//	    }
//	}()
//
//	embeddings, err := embed.EmbedWithProgress(ctx, provider, texts, embed.EmbedModePassage, 50, progressCh)
//	close(progressCh)
func EmbedWithProgress(
	ctx context.Context,
	provider Provider,
	texts []string,
	mode EmbedMode,
	batchSize int,
	progressCh chan<- BatchProgress,
) ([][]float32, error) {
	totalChunks := len(texts)
	if totalChunks == 0 {
		return [][]float32{}, nil
	}
	if batchSize <= 0 {
		batchSize = totalChunks
	}

	numBatches := (totalChunks + batchSize - 1) / batchSize
	results := make([][]float32, totalChunks)

	processedChunks := 0
	for batchIdx := 0; batchIdx < numBatches; batchIdx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := batchIdx * batchSize
		end := min(start+batchSize, totalChunks)
		batchTexts := texts[start:end]

		batchEmbeddings, err := provider.Embed(ctx, batchTexts, mode)
		if err != nil {
			return nil, fmt.Errorf("batch %d/%d failed: %w", batchIdx+1, numBatches, err)
		}
		if len(batchEmbeddings) != len(batchTexts) {
			return nil, fmt.Errorf("batch %d/%d: %w: got %d vectors for %d texts",
				batchIdx+1, numBatches, ErrEmbeddingFailed, len(batchEmbeddings), len(batchTexts))
		}
		copy(results[start:end], batchEmbeddings)

		processedChunks += len(batchTexts)
		if progressCh != nil {
			select {
			case progressCh <- BatchProgress{
				BatchIndex:      batchIdx + 1,
				TotalBatches:    numBatches,
				ProcessedChunks: processedChunks,
				TotalChunks:     totalChunks,
			}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return results, nil
}
