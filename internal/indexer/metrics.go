package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/cache"
	"github.com/mvp-joe/code-indexer/internal/logging"
	"github.com/mvp-joe/code-indexer/internal/reindex"
	"github.com/mvp-joe/code-indexer/internal/storage"
	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

const (
	defaultProbeSamples = 20
	// targetProbeLatency is the per-query latency that still scores 1.0.
	targetProbeLatency = 100 * time.Millisecond
	selfMatchScore     = 0.9999
)

// MetricsCollector derives IndexMetrics from the index and its metadata.
type MetricsCollector struct {
	samples int
	logger  *logging.Logger
	now     func() time.Time
}

// NewMetricsCollector creates a collector that probes up to samples records.
func NewMetricsCollector(samples int, logger *logging.Logger) *MetricsCollector {
	if samples <= 0 {
		samples = defaultProbeSamples
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &MetricsCollector{samples: samples, logger: logger.Named("metrics"), now: time.Now}
}

// Collect measures the index as seen from branch. Errors mean the metrics
// could not be gathered; callers substitute reindex.ConservativeMetrics.
//
// Accuracy is a self-retrieval probe: sampled records are searched with
// their own vector on the branch and should rank first. Corruption is
// flagged when stored vectors do not match the embedder, when metadata
// remembers documents the store no longer has, or when the embedding model
// changed.
func (m *MetricsCollector) Collect(ctx context.Context, idx *storage.Index, meta *cache.MetadataStore, branch string, dims int, model string) (reindex.IndexMetrics, error) {
	metrics := reindex.IndexMetrics{
		SearchAccuracy:        1.0,
		QueryPerformanceScore: 1.0,
		EmbeddingDimensions:   dims,
	}

	last, ok, err := meta.LastSuccessfulRun()
	if err != nil {
		return metrics, fmt.Errorf("failed to read last run: %w", err)
	}
	if ok {
		metrics.IndexAgeDays = max(0, int(m.now().Sub(last).Hours()/24))
		metrics.LastUpdated = &last
	}

	docs, err := idx.CountContent(ctx)
	if err != nil {
		return metrics, fmt.Errorf("failed to count documents: %w", err)
	}
	metrics.DocumentCount = docs

	var signals []string
	if expected, _ := meta.State(cache.KeyDocumentCount); expected != "" {
		if n, err := strconv.Atoi(expected); err == nil && n > 0 && docs == 0 {
			signals = append(signals, "store lost all documents")
		}
	}
	if stored, _ := meta.State(cache.KeyEmbeddingDims); stored != "" && stored != strconv.Itoa(dims) {
		signals = append(signals, "embedding dimensions changed")
	}
	if stored, _ := meta.State(cache.KeyEmbeddingModel); stored != "" && stored != model {
		signals = append(signals, "embedding model changed")
	}

	if docs > 0 {
		probe, err := m.probe(ctx, idx, branch, dims)
		if err != nil {
			if !errors.Is(err, errProbeCorrupt) {
				return metrics, err
			}
			signals = append(signals, err.Error())
		} else {
			metrics.SearchAccuracy = probe.accuracy
			metrics.QueryPerformanceScore = probe.performance
		}
	}

	if len(signals) > 0 {
		metrics.CorruptionDetected = true
		m.logger.Warn(ctx, "index corruption signals", zap.Strings("signals", signals))
	}

	m.logger.Debug(ctx, "collected index metrics",
		zap.Float64("accuracy", metrics.SearchAccuracy),
		zap.Float64("performance", metrics.QueryPerformanceScore),
		zap.Int("age_days", metrics.IndexAgeDays),
		zap.Int("documents", metrics.DocumentCount),
		zap.Bool("corrupted", metrics.CorruptionDetected))
	return metrics, metrics.Validate()
}

var errProbeCorrupt = errors.New("stored vectors unreadable")

type probeResult struct {
	accuracy    float64
	performance float64
}

func (m *MetricsCollector) probe(ctx context.Context, idx *storage.Index, branch string, dims int) (probeResult, error) {
	page, _, err := idx.Store().Scroll(ctx, idx.Collection(), vectorstore.ScrollRequest{
		Filter: &vectorstore.Filter{
			Must:    []vectorstore.Condition{vectorstore.MatchValue(storage.FieldType, string(storage.RecordContent))},
			MustNot: []vectorstore.Condition{vectorstore.MatchValue(storage.FieldHiddenBranches, branch)},
		},
		Limit:       m.samples,
		WithVectors: true,
	})
	if err != nil {
		return probeResult{}, fmt.Errorf("failed to sample index: %w", err)
	}
	if len(page) == 0 {
		return probeResult{accuracy: 1, performance: 1}, nil
	}

	hits := 0
	var elapsed time.Duration
	for _, p := range page {
		if len(p.Vector) != dims {
			return probeResult{}, fmt.Errorf("%w: %s has %d dimensions, expected %d", errProbeCorrupt, p.ID, len(p.Vector), dims)
		}
		start := time.Now()
		results, err := idx.Search(ctx, branch, p.Vector, storage.SearchOptions{Limit: 1})
		elapsed += time.Since(start)
		if err != nil {
			return probeResult{}, fmt.Errorf("probe search failed: %w", err)
		}
		if len(results) > 0 && (results[0].ID == p.ID || results[0].Score >= selfMatchScore) {
			hits++
		}
	}

	avg := elapsed / time.Duration(len(page))
	performance := 1.0
	if avg > targetProbeLatency {
		performance = float64(targetProbeLatency) / float64(avg)
	}
	return probeResult{
		accuracy:    float64(hits) / float64(len(page)),
		performance: performance,
	}, nil
}
