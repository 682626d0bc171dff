package indexer

import (
	"github.com/mvp-joe/code-indexer/internal/embed"
	"github.com/mvp-joe/code-indexer/internal/reindex"
)

// ProgressReporter provides callbacks for reporting indexing progress.
// Implementations can display progress bars, log messages, or remain silent.
// Callbacks may be invoked from worker goroutines.
type ProgressReporter interface {
	// OnDiscoveryComplete is called when file discovery finishes.
	OnDiscoveryComplete(codeFiles, docFiles int)

	// OnDecision is called once the reindex decision is made.
	OnDecision(decision reindex.Decision)

	// OnFileProcessingStart is called before processing files.
	OnFileProcessingStart(totalFiles int)

	// OnEmbeddingProgress is called after each embedding batch of a file.
	OnEmbeddingProgress(path string, progress embed.BatchProgress)

	// OnFileProcessed is called after each file is processed.
	OnFileProcessed(path string)

	// OnComplete is called when a sync finishes, successfully or not.
	OnComplete(report *Report)
}

// NoOpProgressReporter is a progress reporter that does nothing.
// Used when progress reporting is disabled (e.g., --quiet flag).
type NoOpProgressReporter struct{}

func (n *NoOpProgressReporter) OnDiscoveryComplete(codeFiles, docFiles int)                   {}
func (n *NoOpProgressReporter) OnDecision(decision reindex.Decision)                          {}
func (n *NoOpProgressReporter) OnFileProcessingStart(totalFiles int)                          {}
func (n *NoOpProgressReporter) OnEmbeddingProgress(path string, progress embed.BatchProgress) {}
func (n *NoOpProgressReporter) OnFileProcessed(path string)                                   {}
func (n *NoOpProgressReporter) OnComplete(report *Report)                                     {}
