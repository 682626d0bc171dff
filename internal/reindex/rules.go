package reindex

import (
	"path"
	"path/filepath"

	"go.uber.org/zap"
)

// inputs is everything a rule may read. Rules never modify it.
type inputs struct {
	changes ChangeSet
	metrics IndexMetrics
	system  *SystemContext
	force   bool
	cfg     *Config
}

// accumulator is the decision state threaded through the rule pipeline.
// should only moves false->true and confidence only rises.
type accumulator struct {
	should     bool
	reasons    []TriggerReason
	confidence float64
}

func (a accumulator) trigger(reason TriggerReason, confidence float64) accumulator {
	next := accumulator{
		should:     true,
		reasons:    a.reasons,
		confidence: max(a.confidence, confidence),
	}
	for _, r := range a.reasons {
		if r == reason {
			return next
		}
	}
	next.reasons = append(append([]TriggerReason(nil), a.reasons...), reason)
	return next
}

func (a accumulator) has(reason TriggerReason) bool {
	for _, r := range a.reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// firing describes why a rule fired, for logging.
type firing struct {
	reason TriggerReason
	fields []zap.Field
}

// rule is one step of the decision pipeline.
type rule struct {
	name  string
	apply func(in *inputs, acc accumulator) (accumulator, *firing)
}

// defaultRules is the fixed evaluation order.
var defaultRules = []rule{
	{"user_request", userRequestRule},
	{"corruption", corruptionRule},
	{"config_changes", configChangeRule},
	{"change_percentage", changePercentageRule},
	{"structural_changes", structuralChangeRule},
	{"search_accuracy", searchAccuracyRule},
	{"index_age", indexAgeRule},
}

func userRequestRule(in *inputs, acc accumulator) (accumulator, *firing) {
	if !in.force {
		return acc, nil
	}
	return acc.trigger(ReasonUserRequested, 1.0), &firing{reason: ReasonUserRequested}
}

func corruptionRule(in *inputs, acc accumulator) (accumulator, *firing) {
	if !in.cfg.EnableCorruptionDetection || !in.metrics.CorruptionDetected {
		return acc, nil
	}
	return acc.trigger(ReasonCorruptionDetected, 1.0), &firing{
		reason: ReasonCorruptionDetected,
		fields: []zap.Field{zap.Int("document_count", in.metrics.DocumentCount)},
	}
}

func configChangeRule(in *inputs, acc accumulator) (accumulator, *firing) {
	if !in.cfg.EnableConfigChangeDetection {
		return acc, nil
	}
	var matched []string
	for _, p := range in.changes.AllPaths() {
		if in.cfg.IsConfigFile(p) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 && !in.changes.HasConfigChanges {
		return acc, nil
	}
	return acc.trigger(ReasonConfigChanges, 0.95), &firing{
		reason: ReasonConfigChanges,
		fields: []zap.Field{zap.Strings("config_files", matched), zap.Bool("flagged", in.changes.HasConfigChanges)},
	}
}

func changePercentageRule(in *inputs, acc accumulator) (accumulator, *firing) {
	pct := in.changes.PercentageChanged()
	threshold := in.cfg.ChangePercentageThreshold
	if pct <= threshold {
		return acc, nil
	}
	confidence := 0.8 + min(0.2, ((pct-threshold)/0.7)*0.2)
	return acc.trigger(ReasonChangePercentage, confidence), &firing{
		reason: ReasonChangePercentage,
		fields: []zap.Field{zap.Float64("percentage_changed", pct), zap.Float64("threshold", threshold)},
	}
}

func structuralChangeRule(in *inputs, acc accumulator) (accumulator, *firing) {
	if !in.cfg.EnableStructuralChangeDetection {
		return acc, nil
	}
	cs := in.changes
	next := acc
	var fields []zap.Field

	if cs.HasStructuralChanges {
		next = next.trigger(ReasonStructuralChanges, 0.85)
		fields = append(fields, zap.Bool("flagged", true))
	}
	if dirs := len(cs.DirectoriesAdded) + len(cs.DirectoriesRemoved); dirs >= in.cfg.StructuralChangeThreshold {
		next = next.trigger(ReasonStructuralChanges, 0.8)
		fields = append(fields, zap.Int("directory_changes", dirs))
	}
	if moves := len(cs.FileMoves); moves >= in.cfg.MaxFileMovesThreshold {
		next = next.trigger(ReasonStructuralChanges, 0.75)
		fields = append(fields, zap.Int("file_moves", moves))
	}
	for _, p := range cs.AllPaths() {
		if in.cfg.IsStructuralIndicator(p) {
			next = next.trigger(ReasonStructuralChanges, 0.8)
			fields = append(fields, zap.String("indicator", path.Base(filepath.ToSlash(p))))
			break
		}
	}

	if len(fields) == 0 {
		return acc, nil
	}
	return next, &firing{reason: ReasonStructuralChanges, fields: fields}
}

func searchAccuracyRule(in *inputs, acc accumulator) (accumulator, *firing) {
	accuracy := in.metrics.SearchAccuracy
	threshold := in.cfg.AccuracyThreshold
	if accuracy >= threshold {
		return acc, nil
	}
	confidence := 0.7 + min(0.3, (threshold-accuracy)*1.5)
	return acc.trigger(ReasonSearchAccuracy, confidence), &firing{
		reason: ReasonSearchAccuracy,
		fields: []zap.Field{zap.Float64("search_accuracy", accuracy), zap.Float64("threshold", threshold)},
	}
}

func indexAgeRule(in *inputs, acc accumulator) (accumulator, *firing) {
	if !in.cfg.EnablePeriodicReindex {
		return acc, nil
	}
	maxAge := in.cfg.MaxIndexAgeDays
	if !in.metrics.IsStale(maxAge) {
		return acc, nil
	}
	age := in.metrics.IndexAgeDays
	confidence := 0.6 + min(0.4, (float64(age-maxAge)/30)*0.4)
	return acc.trigger(ReasonIndexAge, confidence), &firing{
		reason: ReasonIndexAge,
		fields: []zap.Field{zap.Int("index_age_days", age), zap.Int("max_index_age_days", maxAge)},
	}
}
