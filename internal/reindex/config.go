package reindex

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/mvp-joe/code-indexer/internal/logging"
)

// ErrInvalidConfig indicates a reindexing config value is out of range.
var ErrInvalidConfig = errors.New("invalid reindexing config")

// Config keys, shared by map decoding and environment bindings.
const (
	keyChangeThreshold       = "change_percentage_threshold"
	keyAccuracyThreshold     = "accuracy_threshold"
	keyMaxIndexAgeDays       = "max_index_age_days"
	keyEnableStructural      = "enable_structural_change_detection"
	keyEnableConfig          = "enable_config_change_detection"
	keyEnableCorruption      = "enable_corruption_detection"
	keyEnablePeriodic        = "enable_periodic_reindex"
	keyBatchSize             = "batch_size"
	keyMaxAnalysisTime       = "max_analysis_time_seconds"
	keyParallelAnalysis      = "parallel_analysis"
	keyMaxMemoryMB           = "max_memory_usage_mb"
	keyConfigFilePatterns    = "config_file_patterns"
	keyStructuralThreshold   = "structural_change_threshold"
	keyMaxFileMovesThreshold = "max_file_moves_threshold"
	keyStructuralIndicators  = "structural_indicators"
)

// Time estimate coefficients.
const (
	defaultRepositorySizeMB = 100.0
	secondsPerFile          = 0.1
	secondsPerMegabyte      = 2.0
	parallelSpeedup         = 0.6
	historicalWeight        = 0.7
	estimateBuffer          = 1.2
)

// Config is the reindexing policy. Build it with DefaultConfig or one of the
// From* constructors; the result is read-only and safe to share.
type Config struct {
	ChangePercentageThreshold float64 `mapstructure:"change_percentage_threshold" yaml:"change_percentage_threshold"`
	AccuracyThreshold         float64 `mapstructure:"accuracy_threshold" yaml:"accuracy_threshold"`
	MaxIndexAgeDays           int     `mapstructure:"max_index_age_days" yaml:"max_index_age_days"`

	EnableStructuralChangeDetection bool `mapstructure:"enable_structural_change_detection" yaml:"enable_structural_change_detection"`
	EnableConfigChangeDetection     bool `mapstructure:"enable_config_change_detection" yaml:"enable_config_change_detection"`
	EnableCorruptionDetection       bool `mapstructure:"enable_corruption_detection" yaml:"enable_corruption_detection"`
	EnablePeriodicReindex           bool `mapstructure:"enable_periodic_reindex" yaml:"enable_periodic_reindex"`

	BatchSize              int  `mapstructure:"batch_size" yaml:"batch_size"`
	MaxAnalysisTimeSeconds int  `mapstructure:"max_analysis_time_seconds" yaml:"max_analysis_time_seconds"`
	ParallelAnalysis       bool `mapstructure:"parallel_analysis" yaml:"parallel_analysis"`
	MaxMemoryUsageMB       int  `mapstructure:"max_memory_usage_mb" yaml:"max_memory_usage_mb"`

	ConfigFilePatterns        []string `mapstructure:"config_file_patterns" yaml:"config_file_patterns"`
	StructuralChangeThreshold int      `mapstructure:"structural_change_threshold" yaml:"structural_change_threshold"`
	MaxFileMovesThreshold     int      `mapstructure:"max_file_moves_threshold" yaml:"max_file_moves_threshold"`
	StructuralIndicators      []string `mapstructure:"structural_indicators" yaml:"structural_indicators"`

	patterns   *patternSet
	indicators map[string]bool
}

// HostConfig is implemented by host configuration objects that carry a
// nested "reindexing" section.
type HostConfig interface {
	ReindexingSection() map[string]any
}

// Option customizes config construction.
type Option func(*buildOptions)

type buildOptions struct {
	logger    *logging.Logger
	overrides map[string]any
}

// WithLogger sets the logger used to report skipped patterns.
func WithLogger(l *logging.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithOverrides applies explicit values on top of every other source.
func WithOverrides(overrides map[string]any) Option {
	return func(o *buildOptions) { o.overrides = overrides }
}

func applyOptions(opts []Option) *buildOptions {
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DefaultConfig returns the built-in policy.
func DefaultConfig() *Config {
	cfg := defaultValues()
	cfg.prepare(context.Background(), nil)
	return cfg
}

func defaultValues() *Config {
	return &Config{
		ChangePercentageThreshold:       0.3,
		AccuracyThreshold:               0.8,
		MaxIndexAgeDays:                 30,
		EnableStructuralChangeDetection: true,
		EnableConfigChangeDetection:     true,
		EnableCorruptionDetection:       true,
		EnablePeriodicReindex:           true,
		BatchSize:                       100,
		MaxAnalysisTimeSeconds:          300,
		ParallelAnalysis:                true,
		MaxMemoryUsageMB:                1024,
		ConfigFilePatterns: []string{
			".code-indexer/**",
			".gitignore",
			"**/.github/workflows/*.yml",
			"package.json",
			"package-lock.json",
			"yarn.lock",
			"pnpm-lock.yaml",
			"tsconfig.json",
			"requirements.txt",
			"requirements-*.txt",
			"pyproject.toml",
			"setup.py",
			"setup.cfg",
			"Pipfile",
			"poetry.lock",
			"go.mod",
			"go.sum",
			"Cargo.toml",
			"Cargo.lock",
			"pom.xml",
			"build.gradle",
			"build.gradle.kts",
			"Gemfile",
			"composer.json",
		},
		StructuralChangeThreshold: 5,
		MaxFileMovesThreshold:     20,
		StructuralIndicators: []string{
			"__init__.py",
			"package.json",
			"setup.py",
			"pyproject.toml",
			"Cargo.toml",
			"go.mod",
			"pom.xml",
			"build.gradle",
			"Makefile",
			"CMakeLists.txt",
		},
	}
}

// defaultsMap mirrors defaultValues keyed by config key.
func defaultsMap() map[string]any {
	d := defaultValues()
	return map[string]any{
		keyChangeThreshold:       d.ChangePercentageThreshold,
		keyAccuracyThreshold:     d.AccuracyThreshold,
		keyMaxIndexAgeDays:       d.MaxIndexAgeDays,
		keyEnableStructural:      d.EnableStructuralChangeDetection,
		keyEnableConfig:          d.EnableConfigChangeDetection,
		keyEnableCorruption:      d.EnableCorruptionDetection,
		keyEnablePeriodic:        d.EnablePeriodicReindex,
		keyBatchSize:             d.BatchSize,
		keyMaxAnalysisTime:       d.MaxAnalysisTimeSeconds,
		keyParallelAnalysis:      d.ParallelAnalysis,
		keyMaxMemoryMB:           d.MaxMemoryUsageMB,
		keyConfigFilePatterns:    d.ConfigFilePatterns,
		keyStructuralThreshold:   d.StructuralChangeThreshold,
		keyMaxFileMovesThreshold: d.MaxFileMovesThreshold,
		keyStructuralIndicators:  d.StructuralIndicators,
	}
}

// FromMap builds a config from a flat mapping. Unknown keys are ignored and
// list values for the pattern sets are deduplicated.
func FromMap(data map[string]any, opts ...Option) (*Config, error) {
	o := applyOptions(opts)

	v := viper.New()
	for key, value := range defaultsMap() {
		v.SetDefault(key, value)
	}
	if len(data) > 0 {
		if err := v.MergeConfigMap(maps.Clone(data)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if len(o.overrides) > 0 {
		if err := v.MergeConfigMap(maps.Clone(o.overrides)); err != nil {
			return nil, fmt.Errorf("%w: overrides: %v", ErrInvalidConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.ConfigFilePatterns = dedupe(cfg.ConfigFilePatterns)
	cfg.StructuralIndicators = dedupe(cfg.StructuralIndicators)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.prepare(context.Background(), o.logger)
	return cfg, nil
}

// FromHostConfig extracts the "reindexing" section of a host config and
// decodes it. A missing section yields the defaults.
func FromHostConfig(host any, opts ...Option) (*Config, error) {
	section, err := hostSection(host)
	if err != nil {
		return nil, err
	}
	return FromMap(section, opts...)
}

// FromEnvironment builds a config from defaults plus any CIDX_REINDEX_*
// variables that are set.
func FromEnvironment(opts ...Option) (*Config, error) {
	values, err := environmentValues()
	if err != nil {
		return nil, err
	}
	return FromMap(values, opts...)
}

// FromHostConfigWithEnvOverrides layers environment values over the host
// section. An environment value is applied only when it differs from the
// built-in default, so globally exported defaults never mask host settings.
func FromHostConfigWithEnvOverrides(host any, opts ...Option) (*Config, error) {
	section, err := hostSection(host)
	if err != nil {
		return nil, err
	}
	env, err := environmentValues()
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(section)+len(env))
	maps.Copy(merged, section)
	defaults := defaultsMap()
	for key, value := range env {
		if valuesEqual(value, defaults[key]) {
			continue
		}
		merged[key] = value
	}
	return FromMap(merged, opts...)
}

func hostSection(host any) (map[string]any, error) {
	switch h := host.(type) {
	case nil:
		return nil, nil
	case HostConfig:
		return h.ReindexingSection(), nil
	case map[string]any:
		raw, ok := h["reindexing"]
		if !ok || raw == nil {
			return nil, nil
		}
		switch section := raw.(type) {
		case map[string]any:
			return section, nil
		case HostConfig:
			return section.ReindexingSection(), nil
		default:
			return nil, fmt.Errorf("%w: reindexing section must be a mapping, got %T", ErrInvalidConfig, raw)
		}
	default:
		return nil, nil
	}
}

// Validate reports every out-of-range field.
func (c *Config) Validate() error {
	var errs []error
	if c.ChangePercentageThreshold < 0 || c.ChangePercentageThreshold > 1 {
		errs = append(errs, fmt.Errorf("%w: %s must be in [0, 1], got %v", ErrInvalidConfig, keyChangeThreshold, c.ChangePercentageThreshold))
	}
	if c.AccuracyThreshold < 0 || c.AccuracyThreshold > 1 {
		errs = append(errs, fmt.Errorf("%w: %s must be in [0, 1], got %v", ErrInvalidConfig, keyAccuracyThreshold, c.AccuracyThreshold))
	}
	if c.MaxIndexAgeDays < 0 {
		errs = append(errs, fmt.Errorf("%w: %s must be >= 0, got %d", ErrInvalidConfig, keyMaxIndexAgeDays, c.MaxIndexAgeDays))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s must be > 0, got %d", ErrInvalidConfig, keyBatchSize, c.BatchSize))
	}
	if c.MaxAnalysisTimeSeconds <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s must be > 0, got %d", ErrInvalidConfig, keyMaxAnalysisTime, c.MaxAnalysisTimeSeconds))
	}
	if c.MaxMemoryUsageMB <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s must be > 0, got %d", ErrInvalidConfig, keyMaxMemoryMB, c.MaxMemoryUsageMB))
	}
	if c.StructuralChangeThreshold <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s must be > 0, got %d", ErrInvalidConfig, keyStructuralThreshold, c.StructuralChangeThreshold))
	}
	if c.MaxFileMovesThreshold <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s must be > 0, got %d", ErrInvalidConfig, keyMaxFileMovesThreshold, c.MaxFileMovesThreshold))
	}
	return errors.Join(errs...)
}

func (c *Config) prepare(ctx context.Context, logger *logging.Logger) {
	c.patterns = compilePatterns(ctx, c.ConfigFilePatterns, logger)
	c.indicators = make(map[string]bool, len(c.StructuralIndicators))
	for _, name := range c.StructuralIndicators {
		c.indicators[name] = true
	}
}

// IsConfigFile reports whether path matches a config-file pattern, either as
// a literal basename or as a gitignore-style glob.
func (c *Config) IsConfigFile(filePath string) bool {
	ps := c.patterns
	if ps == nil {
		ps = compilePatterns(context.Background(), c.ConfigFilePatterns, nil)
	}
	return ps.match(filePath)
}

// IsStructuralIndicator reports whether the basename of path is a structural
// indicator such as a package manifest.
func (c *Config) IsStructuralIndicator(filePath string) bool {
	base := path.Base(filepath.ToSlash(filePath))
	if c.indicators != nil {
		return c.indicators[base]
	}
	for _, name := range c.StructuralIndicators {
		if name == base {
			return true
		}
	}
	return false
}

// EstimateReindexTimeMinutes estimates a full reindex. previousMinutes is the
// duration of the last full run; values <= 0 mean no history.
func (c *Config) EstimateReindexTimeMinutes(totalFiles int, repositorySizeMB float64, previousMinutes float64) int {
	seconds := max(float64(totalFiles)*secondsPerFile, repositorySizeMB*secondsPerMegabyte)
	if c.ParallelAnalysis {
		seconds *= parallelSpeedup
	}
	if previousMinutes > 0 {
		seconds = historicalWeight*previousMinutes*60 + (1-historicalWeight)*seconds
	}
	minutes := int(seconds / 60 * estimateBuffer)
	return max(1, minutes)
}
