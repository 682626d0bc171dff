package reindex

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/logging"
)

// largeChangeCount is the change count above which a rebuild goes blue/green.
const largeChangeCount = 1000

// Engine decides between a full and an incremental reindex.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	cfg    *Config
	logger *logging.Logger
	rules  []rule
	now    func() time.Time
}

// NewEngine creates an engine. A nil config uses DefaultConfig.
func NewEngine(cfg *Config, logger *logging.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.Named("reindex"),
		rules:  defaultRules,
		now:    time.Now,
	}
}

// Config returns the policy the engine evaluates against.
func (e *Engine) Config() *Config {
	return e.cfg
}

// ShouldFullReindex runs every rule in order and finalizes the decision.
// system may be nil. The context only carries logging correlation.
func (e *Engine) ShouldFullReindex(ctx context.Context, changes ChangeSet, metrics IndexMetrics, system *SystemContext, force bool) Decision {
	in := &inputs{
		changes: changes,
		metrics: metrics,
		system:  system,
		force:   force,
		cfg:     e.cfg,
	}

	acc := accumulator{confidence: 1.0}
	for _, r := range e.rules {
		var fired *firing
		acc, fired = r.apply(in, acc)
		if fired != nil {
			e.logFiring(ctx, fired)
		}
	}

	d := e.finalize(in, acc)
	e.logger.Debug(ctx, "reindex decision",
		zap.Bool("should_reindex", d.ShouldReindex),
		zap.Float64("confidence", d.ConfidenceScore),
		zap.String("strategy", string(d.RecommendedStrategy)),
		zap.Int("estimated_minutes", d.EstimatedMinutes),
		zap.Int("change_count", changes.ChangeCount()),
	)
	return d
}

func (e *Engine) finalize(in *inputs, acc accumulator) Decision {
	d := Decision{
		ShouldReindex:   acc.should,
		TriggerReasons:  acc.reasons,
		ConfidenceScore: acc.confidence,
		AnalyzedAt:      e.now(),
	}
	if d.TriggerReasons == nil {
		d.TriggerReasons = []TriggerReason{}
	}

	if !acc.should {
		d.RecommendedStrategy = StrategyIncremental
		d.EstimatedMinutes = 0
		return d
	}

	switch {
	case acc.has(ReasonCorruptionDetected):
		d.RecommendedStrategy = StrategyInPlace
	case in.changes.ChangeCount() > largeChangeCount:
		d.RecommendedStrategy = StrategyBlueGreen
	case in.system != nil:
		d.RecommendedStrategy = in.system.RecommendedStrategy()
	default:
		d.RecommendedStrategy = StrategyInPlace
	}

	sizeMB := defaultRepositorySizeMB
	if in.system != nil && in.system.RepositorySizeMB > 0 {
		sizeMB = in.system.RepositorySizeMB
	}
	// The decision estimate is the static formula; run history is not blended in.
	d.EstimatedMinutes = e.cfg.EstimateReindexTimeMinutes(in.changes.TotalFiles, sizeMB, 0)

	// Several triggers that each left confidence at 1.0 get a combined score.
	if d.ConfidenceScore == 1.0 && len(d.TriggerReasons) > 1 {
		d.ConfidenceScore = min(1.0, 0.7+0.1*float64(len(d.TriggerReasons)))
	}
	return d
}

func (e *Engine) logFiring(ctx context.Context, f *firing) {
	fields := append([]zap.Field{zap.String("reason", string(f.reason))}, f.fields...)
	switch f.reason {
	case ReasonCorruptionDetected, ReasonSearchAccuracy:
		e.logger.Warn(ctx, "reindex rule fired", fields...)
	default:
		e.logger.Info(ctx, "reindex rule fired", fields...)
	}
}
