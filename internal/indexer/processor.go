package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mvp-joe/code-indexer/internal/embed"
	"github.com/mvp-joe/code-indexer/internal/git"
	"github.com/mvp-joe/code-indexer/internal/logging"
	"github.com/mvp-joe/code-indexer/internal/storage"
)

// ErrIndexingCancelled is returned when a run stops because its context was
// cancelled. The accompanying stats are partial and must not be reported as
// a success.
var ErrIndexingCancelled = errors.New("indexing cancelled")

// Stats tracks what was processed.
type Stats struct {
	FilesProcessed int
	FilesSkipped   int
	FilesFailed    int
	FilesUnchanged int
	FilesHidden    int
	ChunksEmbedded int
	ChunksReused   int
	ChunksUnhidden int
	ChunksHidden   int
	ProcessingTime time.Duration
}

func (s *Stats) add(o Stats) {
	s.FilesProcessed += o.FilesProcessed
	s.FilesSkipped += o.FilesSkipped
	s.FilesFailed += o.FilesFailed
	s.FilesUnchanged += o.FilesUnchanged
	s.FilesHidden += o.FilesHidden
	s.ChunksEmbedded += o.ChunksEmbedded
	s.ChunksReused += o.ChunksReused
	s.ChunksUnhidden += o.ChunksUnhidden
	s.ChunksHidden += o.ChunksHidden
	s.ProcessingTime += o.ProcessingTime
}

// BranchContext is what the processor needs to know about the branch being
// indexed.
type BranchContext struct {
	Branch        string
	KnownBranches []string
	Commit        string
	Status        git.WorktreeStatus
	// New is set on the first sync of a branch. Content written before it
	// existed is visible to it until the sync reconciles every path.
	New bool
}

// ProcessResult is the outcome of ProcessFiles.
type ProcessResult struct {
	Stats  Stats
	Expect storage.Expectation
}

// Processor handles the read → chunk → index pipeline for a set of files.
type Processor struct {
	rootDir  string
	chunker  Chunker
	classify func(string) (FileKind, bool)
	index    *storage.Index
	workers  int
	progress ProgressReporter
	logger   *logging.Logger
}

// NewProcessor creates a new Processor. workers bounds concurrent files.
func NewProcessor(rootDir string, chunker Chunker, discovery *FileDiscovery, index *storage.Index, workers int, progress ProgressReporter, logger *logging.Logger) *Processor {
	if progress == nil {
		progress = &NoOpProgressReporter{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Processor{
		rootDir:  rootDir,
		chunker:  chunker,
		classify: discovery.Classify,
		index:    index,
		workers:  max(1, workers),
		progress: progress,
		logger:   logger.Named("processor"),
	}
}

// ProcessFiles indexes paths on the branch with a bounded worker pool.
// Cancellation is checked before each file; a file already being embedded is
// finished. A cancelled run returns the partial result and ErrIndexingCancelled.
func (p *Processor) ProcessFiles(ctx context.Context, bc BranchContext, paths []string) (*ProcessResult, error) {
	start := time.Now()
	result := &ProcessResult{Expect: storage.Expectation{Branch: bc.Branch}}
	if len(paths) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, path := range paths {
		if ctx.Err() != nil || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil || gctx.Err() != nil {
				return nil
			}
			stats, res, err := p.processFile(context.WithoutCancel(gctx), bc, path)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Stats.add(stats)
			if res != nil {
				result.Expect.Visible = append(result.Expect.Visible, res.IDs...)
				result.Expect.Hidden = append(result.Expect.Hidden, res.HiddenIDs...)
			}
			mu.Unlock()
			p.progress.OnFileProcessed(path)
			return nil
		})
	}

	err := g.Wait()
	result.Stats.ProcessingTime = time.Since(start)
	if ctxErr := ctx.Err(); ctxErr != nil {
		p.logger.Warn(ctx, "indexing cancelled",
			zap.Int("processed", result.Stats.FilesProcessed), zap.Int("requested", len(paths)))
		return result, fmt.Errorf("%w: %w", ErrIndexingCancelled, ctxErr)
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

func (p *Processor) processFile(ctx context.Context, bc BranchContext, path string) (Stats, *storage.FileResult, error) {
	var stats Stats
	absPath := filepath.Join(p.rootDir, filepath.FromSlash(path))

	info, err := os.Stat(absPath)
	if err != nil {
		p.logger.Warn(ctx, "failed to stat file", zap.String("path", path), zap.Error(err))
		stats.FilesFailed++
		return stats, nil, nil
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		p.logger.Warn(ctx, "failed to read file", zap.String("path", path), zap.Error(err))
		stats.FilesFailed++
		return stats, nil, nil
	}
	if !isText(data) {
		stats.FilesSkipped++
		return stats, nil, nil
	}

	kind, ok := p.classify(path)
	if !ok {
		kind = KindCode
	}
	file := storage.FileInput{
		Path:     path,
		Chunks:   p.chunker.Chunk(path, string(data), kind),
		FileHash: calculateChecksum(data),
		FileSize: info.Size(),
		Language: detectLanguage(path),
		ModTime:  info.ModTime(),
		Status:   bc.Status.Of(path),
		Commit:   bc.Commit,
	}
	file.OnEmbedProgress = func(bp embed.BatchProgress) {
		p.progress.OnEmbeddingProgress(path, bp)
	}

	res, err := p.index.IndexFile(ctx, bc.Branch, file, bc.KnownBranches)
	if err != nil {
		return stats, nil, fmt.Errorf("failed to index %s: %w", path, err)
	}
	if len(file.Chunks) == 0 {
		// Blank files have nothing to search; any older chunks were hidden above.
		stats.FilesSkipped++
	} else {
		stats.FilesProcessed++
	}
	stats.ChunksEmbedded += res.Embedded
	stats.ChunksReused += res.Reused
	stats.ChunksUnhidden += res.Unhidden
	stats.ChunksHidden += len(res.HiddenIDs)
	return stats, &res, nil
}
