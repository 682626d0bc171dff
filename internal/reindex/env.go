package reindex

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding maps one environment variable to one config key.
type envBinding struct {
	name  string
	key   string
	parse func(string) (any, error)
}

var envBindings = []envBinding{
	{"CIDX_REINDEX_CHANGE_THRESHOLD", keyChangeThreshold, parseFloat},
	{"CIDX_REINDEX_ACCURACY_THRESHOLD", keyAccuracyThreshold, parseFloat},
	{"CIDX_REINDEX_MAX_AGE_DAYS", keyMaxIndexAgeDays, parseInt},
	{"CIDX_REINDEX_ENABLE_STRUCTURAL", keyEnableStructural, parseBoolValue},
	{"CIDX_REINDEX_ENABLE_CONFIG", keyEnableConfig, parseBoolValue},
	{"CIDX_REINDEX_ENABLE_CORRUPTION", keyEnableCorruption, parseBoolValue},
	{"CIDX_REINDEX_ENABLE_PERIODIC", keyEnablePeriodic, parseBoolValue},
	{"CIDX_REINDEX_BATCH_SIZE", keyBatchSize, parseInt},
	{"CIDX_REINDEX_MAX_ANALYSIS_TIME", keyMaxAnalysisTime, parseInt},
	{"CIDX_REINDEX_PARALLEL_ANALYSIS", keyParallelAnalysis, parseBoolValue},
	{"CIDX_REINDEX_MAX_MEMORY_MB", keyMaxMemoryMB, parseInt},
}

// environmentValues returns the parsed value of every bound variable that is
// set, keyed by config key.
func environmentValues() (map[string]any, error) {
	v := viper.New()
	values := make(map[string]any)
	for _, b := range envBindings {
		if err := v.BindEnv(b.key, b.name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", b.name, err)
		}
		if !v.IsSet(b.key) {
			continue
		}
		parsed, err := b.parse(strings.TrimSpace(v.GetString(b.key)))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, b.name, err)
		}
		values[b.key] = parsed
	}
	return values, nil
}

// ParseBool accepts true/1/yes/on/enabled and false/0/no/off/disabled,
// case-insensitively.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on", "enabled":
		return true, nil
	case "false", "0", "no", "off", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q", s)
}

func parseBoolValue(s string) (any, error) {
	return ParseBool(s)
}

func parseFloat(s string) (any, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid float %q", s)
	}
	return f, nil
}

func parseInt(s string) (any, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return i, nil
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
