package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/mvp-joe/code-indexer/internal/embed"
	"github.com/mvp-joe/code-indexer/internal/indexer"
	"github.com/mvp-joe/code-indexer/internal/reindex"
)

// CLIProgressReporter implements progress reporting with progress bars.
// progressbar serializes Add internally, so worker goroutines may report
// files concurrently.
type CLIProgressReporter struct {
	out     io.Writer
	quiet   bool
	fileBar *progressbar.ProgressBar
}

// NewCLIProgressReporter creates a new CLI progress reporter writing to out.
func NewCLIProgressReporter(out io.Writer, quiet bool) *CLIProgressReporter {
	return &CLIProgressReporter{out: out, quiet: quiet}
}

func (c *CLIProgressReporter) OnDiscoveryComplete(codeFiles, docFiles int) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "Found %s code files and %s documentation files\n",
		formatNumber(codeFiles), formatNumber(docFiles))
}

func (c *CLIProgressReporter) OnDecision(decision reindex.Decision) {
	if c.quiet {
		return
	}
	if !decision.ShouldReindex {
		fmt.Fprintln(c.out, "Incremental update")
		return
	}
	fmt.Fprintf(c.out, "Full reindex (%s, confidence %.2f)\n",
		strings.Join(decision.Explain(), "; "), decision.ConfidenceScore)
}

func (c *CLIProgressReporter) OnFileProcessingStart(totalFiles int) {
	if c.quiet || totalFiles == 0 {
		return
	}
	if c.fileBar != nil {
		_ = c.fileBar.Finish()
	}
	c.fileBar = progressbar.NewOptions(totalFiles,
		progressbar.OptionSetWriter(c.out),
		progressbar.OptionSetDescription("Indexing files"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files/s"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(c.out)
		}),
	)
}

// OnEmbeddingProgress names the file on the bar while a file that needs more
// than one embedding batch is in flight.
func (c *CLIProgressReporter) OnEmbeddingProgress(path string, progress embed.BatchProgress) {
	if c.quiet || c.fileBar == nil || progress.TotalBatches <= 1 {
		return
	}
	if progress.BatchIndex == progress.TotalBatches {
		c.fileBar.Describe("Indexing files")
		return
	}
	c.fileBar.Describe(fmt.Sprintf("Embedding %s (%d/%d chunks)", path, progress.ProcessedChunks, progress.TotalChunks))
}

func (c *CLIProgressReporter) OnFileProcessed(path string) {
	if c.quiet || c.fileBar == nil {
		return
	}
	_ = c.fileBar.Add(1)
}

func (c *CLIProgressReporter) OnComplete(report *indexer.Report) {
	if c.fileBar != nil {
		_ = c.fileBar.Finish()
		c.fileBar = nil
	}
	if c.quiet || report.DryRun || report.Err != nil {
		return
	}
	s := report.Stats
	fmt.Fprintf(c.out, "✓ %s sync complete on %s in %.1fs\n",
		report.Mode, report.Branch, report.Duration().Seconds())
	fmt.Fprintf(c.out, "  Files:  %s processed, %s unchanged, %s hidden, %s failed\n",
		formatNumber(s.FilesProcessed), formatNumber(s.FilesUnchanged),
		formatNumber(s.FilesHidden), formatNumber(s.FilesFailed))
	fmt.Fprintf(c.out, "  Chunks: %s embedded, %s reused\n",
		formatNumber(s.ChunksEmbedded), formatNumber(s.ChunksReused))
}

var _ indexer.ProgressReporter = (*CLIProgressReporter)(nil)
