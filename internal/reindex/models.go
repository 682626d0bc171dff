package reindex

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMetrics is returned when IndexMetrics fields are out of range.
var ErrInvalidMetrics = errors.New("invalid index metrics")

// FileMove records a rename detected between two revisions.
type FileMove struct {
	From string
	To   string
}

// ChangeSet describes file-level changes since the last index.
// It is built once per decision and treated as immutable afterwards.
type ChangeSet struct {
	FilesChanged []string
	FilesAdded   []string
	FilesDeleted []string

	// TotalFiles is the corpus size. When the exact count is unknown callers
	// must supply a conservative non-zero estimate.
	TotalFiles int

	HasStructuralChanges bool
	HasConfigChanges     bool
	HasSchemaChanges     bool

	DirectoriesAdded   []string
	DirectoriesRemoved []string
	FileMoves          []FileMove
}

// ChangeCount is the number of changed, added and deleted files.
func (c ChangeSet) ChangeCount() int {
	return len(c.FilesChanged) + len(c.FilesAdded) + len(c.FilesDeleted)
}

// PercentageChanged returns the changed fraction of the corpus in [0, +inf).
// A zero-sized corpus reports 0.
func (c ChangeSet) PercentageChanged() float64 {
	if c.TotalFiles <= 0 {
		return 0.0
	}
	return float64(c.ChangeCount()) / float64(c.TotalFiles)
}

// AllPaths returns changed, added and deleted paths in that order.
func (c ChangeSet) AllPaths() []string {
	out := make([]string, 0, c.ChangeCount())
	out = append(out, c.FilesChanged...)
	out = append(out, c.FilesAdded...)
	out = append(out, c.FilesDeleted...)
	return out
}

// IsEmpty reports whether the change set carries no changes at all.
func (c ChangeSet) IsEmpty() bool {
	return c.ChangeCount() == 0 &&
		len(c.FileMoves) == 0 &&
		len(c.DirectoriesAdded) == 0 &&
		len(c.DirectoriesRemoved) == 0 &&
		!c.HasStructuralChanges && !c.HasConfigChanges && !c.HasSchemaChanges
}

// NewChangeSetFromPaths builds a ChangeSet from a flat list of changed paths
// when detailed history is unavailable. A non-positive totalFiles is replaced
// by max(100, 5*len(changed)).
func NewChangeSetFromPaths(changed, added, deleted []string, totalFiles int) ChangeSet {
	cs := ChangeSet{
		FilesChanged: dedupe(changed),
		FilesAdded:   dedupe(added),
		FilesDeleted: dedupe(deleted),
		TotalFiles:   totalFiles,
	}
	if cs.TotalFiles <= 0 {
		cs.TotalFiles = EstimateTotalFiles(cs.ChangeCount())
	}
	return cs
}

// EstimateTotalFiles is the conservative corpus size used when the real one
// is unknown.
func EstimateTotalFiles(changeCount int) int {
	return max(100, changeCount*5)
}

// HealthStatus classifies an index by its quality score.
type HealthStatus string

const (
	HealthCorrupted HealthStatus = "corrupted"
	HealthPoor      HealthStatus = "poor"
	HealthFair      HealthStatus = "fair"
	HealthExcellent HealthStatus = "excellent"
)

// IndexMetrics describes the health of the existing vector index.
// Values are derived each decision cycle and never persisted.
type IndexMetrics struct {
	SearchAccuracy     float64
	IndexAgeDays       int
	CorruptionDetected bool
	DocumentCount      int

	LastUpdated           *time.Time
	QueryPerformanceScore float64
	StorageSizeMB         float64
	EmbeddingDimensions   int
}

// NewIndexMetrics validates and returns metrics with a perfect performance
// score. Out-of-range values are rejected.
func NewIndexMetrics(accuracy float64, ageDays int, corrupted bool, documents int) (IndexMetrics, error) {
	m := IndexMetrics{
		SearchAccuracy:        accuracy,
		IndexAgeDays:          ageDays,
		CorruptionDetected:    corrupted,
		DocumentCount:         documents,
		QueryPerformanceScore: 1.0,
	}
	if err := m.Validate(); err != nil {
		return IndexMetrics{}, err
	}
	return m, nil
}

// Validate checks field ranges.
func (m IndexMetrics) Validate() error {
	var errs []error
	if m.SearchAccuracy < 0 || m.SearchAccuracy > 1 {
		errs = append(errs, fmt.Errorf("%w: search_accuracy must be in [0, 1], got %v", ErrInvalidMetrics, m.SearchAccuracy))
	}
	if m.IndexAgeDays < 0 {
		errs = append(errs, fmt.Errorf("%w: index_age_days must be >= 0, got %d", ErrInvalidMetrics, m.IndexAgeDays))
	}
	if m.DocumentCount < 0 {
		errs = append(errs, fmt.Errorf("%w: document_count must be >= 0, got %d", ErrInvalidMetrics, m.DocumentCount))
	}
	if m.QueryPerformanceScore < 0 || m.QueryPerformanceScore > 1 {
		errs = append(errs, fmt.Errorf("%w: query_performance_score must be in [0, 1], got %v", ErrInvalidMetrics, m.QueryPerformanceScore))
	}
	return errors.Join(errs...)
}

// QualityScore combines accuracy and performance, 0 when corrupted.
func (m IndexMetrics) QualityScore() float64 {
	if m.CorruptionDetected {
		return 0.0
	}
	score := 0.7*m.SearchAccuracy + 0.3*m.QueryPerformanceScore
	return min(1.0, max(0.0, score))
}

// HealthStatus buckets QualityScore.
func (m IndexMetrics) HealthStatus() HealthStatus {
	if m.CorruptionDetected {
		return HealthCorrupted
	}
	q := m.QualityScore()
	switch {
	case q < 0.7:
		return HealthPoor
	case q < 0.85:
		return HealthFair
	default:
		return HealthExcellent
	}
}

// IsStale reports whether the index is older than maxAgeDays.
func (m IndexMetrics) IsStale(maxAgeDays int) bool {
	return m.IndexAgeDays > maxAgeDays
}

// ConservativeMetrics is substituted when metrics cannot be gathered. It
// reports an index just past its maximum age with degraded accuracy, so the
// engine leans toward a full rebuild.
func ConservativeMetrics(cfg *Config) IndexMetrics {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return IndexMetrics{
		SearchAccuracy:        0.7,
		IndexAgeDays:          cfg.MaxIndexAgeDays + 1,
		QueryPerformanceScore: 0.5,
	}
}

// Strategy is how a full reindex should be executed.
type Strategy string

const (
	StrategyIncremental Strategy = "incremental"
	StrategyInPlace     Strategy = "in_place"
	StrategyBlueGreen   Strategy = "blue_green"
	StrategyProgressive Strategy = "progressive"
)

// ParseStrategy converts a stored or user-supplied name to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyIncremental, StrategyInPlace, StrategyBlueGreen, StrategyProgressive:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown reindex strategy %q", s)
}

// TriggerReason names the rule that recommended a full reindex.
type TriggerReason string

const (
	ReasonUserRequested      TriggerReason = "user_requested"
	ReasonCorruptionDetected TriggerReason = "corruption_detected"
	ReasonConfigChanges      TriggerReason = "config_changes"
	ReasonChangePercentage   TriggerReason = "change_percentage"
	ReasonStructuralChanges  TriggerReason = "structural_changes"
	ReasonSearchAccuracy     TriggerReason = "search_accuracy"
	ReasonIndexAge           TriggerReason = "index_age"
)

// Describe returns a human readable explanation of the reason.
func (r TriggerReason) Describe() string {
	switch r {
	case ReasonUserRequested:
		return "full reindex requested by user"
	case ReasonCorruptionDetected:
		return "index corruption detected"
	case ReasonConfigChanges:
		return "configuration files changed"
	case ReasonChangePercentage:
		return "too many files changed since last index"
	case ReasonStructuralChanges:
		return "project structure changed"
	case ReasonSearchAccuracy:
		return "search accuracy below threshold"
	case ReasonIndexAge:
		return "index older than maximum age"
	}
	return string(r)
}

// Decision is the engine's output and audit record.
type Decision struct {
	ShouldReindex bool
	// TriggerReasons holds each fired rule once, in evaluation order.
	TriggerReasons      []TriggerReason
	ConfidenceScore     float64
	RecommendedStrategy Strategy
	EstimatedMinutes    int
	AnalyzedAt          time.Time
}

// HasReason reports whether r fired.
func (d Decision) HasReason(r TriggerReason) bool {
	for _, got := range d.TriggerReasons {
		if got == r {
			return true
		}
	}
	return false
}

// Explain renders the trigger reasons for display.
func (d Decision) Explain() []string {
	out := make([]string, 0, len(d.TriggerReasons))
	for _, r := range d.TriggerReasons {
		out = append(out, r.Describe())
	}
	return out
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
