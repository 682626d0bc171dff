// Package config loads the project configuration for the code indexer.
//
// Configuration lives in .code-indexer/config.yml (or .yaml) under the
// project root. Every key can be overridden from the environment with the
// CIDX_ prefix and underscores for nesting, e.g. CIDX_EMBEDDING_ENDPOINT or
// CIDX_VECTOR_STORE_BACKEND.
//
// Priority (highest to lowest):
//  1. Environment variables (CIDX_*)
//  2. Project config file
//  3. Built-in defaults
//
// The reindexing section is kept as a raw mapping and handed to the
// reindex package, which applies its own CIDX_REINDEX_* overrides.
package config

import (
	"time"
)

// DirName is the per-project configuration directory.
const DirName = ".code-indexer"

// Config represents the complete indexer configuration.
type Config struct {
	Embedding   EmbeddingConfig   `yaml:"embedding" mapstructure:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store" mapstructure:"vector_store"`
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	Indexing    IndexingConfig    `yaml:"indexing" mapstructure:"indexing"`
	Storage     StorageConfig     `yaml:"storage" mapstructure:"storage"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`

	// Reindexing is passed through untouched; see reindex.FromHostConfig.
	Reindexing map[string]any `yaml:"reindexing" mapstructure:"reindexing"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider" mapstructure:"provider"` // "http" or "mock"
	Endpoint          string        `yaml:"endpoint" mapstructure:"endpoint"`
	Model             string        `yaml:"model" mapstructure:"model"`
	Dimensions        int           `yaml:"dimensions" mapstructure:"dimensions"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	ParallelRequests  int           `yaml:"parallel_requests" mapstructure:"parallel_requests"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	QueryCacheSize    int           `yaml:"query_cache_size" mapstructure:"query_cache_size"` // 0 disables
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // "chromem" or "qdrant"
	// Path is the chromem persistence directory, relative to the project
	// root unless absolute.
	Path          string `yaml:"path" mapstructure:"path"`
	Host          string `yaml:"host" mapstructure:"host"`
	Port          int    `yaml:"port" mapstructure:"port"`
	APIKey        string `yaml:"api_key" mapstructure:"api_key"`
	UseTLS        bool   `yaml:"use_tls" mapstructure:"use_tls"`
	RetryAttempts int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	// Collection overrides the name derived from the project key.
	Collection string `yaml:"collection" mapstructure:"collection"`
}

// PathsConfig defines which files to index and which to ignore.
type PathsConfig struct {
	Code   []string `yaml:"code" mapstructure:"code"`     // glob patterns for code files
	Docs   []string `yaml:"docs" mapstructure:"docs"`     // glob patterns for documentation
	Ignore []string `yaml:"ignore" mapstructure:"ignore"` // glob patterns to ignore
}

// IndexingConfig tunes the indexing routine.
type IndexingConfig struct {
	ChunkSize         int           `yaml:"chunk_size" mapstructure:"chunk_size"`       // max characters per chunk
	ChunkOverlap      int           `yaml:"chunk_overlap" mapstructure:"chunk_overlap"` // lines shared by adjacent chunks
	MaxFileSize       int64         `yaml:"max_file_size" mapstructure:"max_file_size"` // bytes
	Workers           int           `yaml:"workers" mapstructure:"workers"`
	VerifyAttempts    int           `yaml:"verify_attempts" mapstructure:"verify_attempts"`
	VerifyBackoff     time.Duration `yaml:"verify_backoff" mapstructure:"verify_backoff"`
	MTimeSafetyBuffer time.Duration `yaml:"mtime_safety_buffer" mapstructure:"mtime_safety_buffer"`
	CleanupOrphans    bool          `yaml:"cleanup_orphans" mapstructure:"cleanup_orphans"`
	ProbeSamples      int           `yaml:"probe_samples" mapstructure:"probe_samples"`
}

// StorageConfig locates the per-project metadata database.
type StorageConfig struct {
	CacheLocation string `yaml:"cache_location" mapstructure:"cache_location"` // empty means ~/.code-indexer/cache
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:          "http",
			Endpoint:          "http://localhost:8080",
			Model:             "BAAI/bge-small-en-v1.5",
			Dimensions:        384,
			RequestsPerSecond: 10,
			ParallelRequests:  5,
			Timeout:           30 * time.Second,
			QueryCacheSize:    256,
		},
		VectorStore: VectorStoreConfig{
			Backend:       "chromem",
			Path:          DirName + "/vectors",
			Host:          "localhost",
			Port:          6334,
			RetryAttempts: 3,
		},
		Paths: PathsConfig{
			Code: []string{
				"**/*.go",
				"**/*.ts",
				"**/*.tsx",
				"**/*.js",
				"**/*.jsx",
				"**/*.py",
				"**/*.rs",
				"**/*.c",
				"**/*.cpp",
				"**/*.cc",
				"**/*.h",
				"**/*.hpp",
				"**/*.php",
				"**/*.rb",
				"**/*.java",
			},
			Docs: []string{
				"**/*.md",
				"**/*.rst",
			},
			Ignore: []string{
				"node_modules/**",
				"vendor/**",
				".git/**",
				DirName + "/**",
				"dist/**",
				"build/**",
				"target/**",
				"__pycache__/**",
				"*.test",
				"*.pyc",
			},
		},
		Indexing: IndexingConfig{
			ChunkSize:         2000,
			ChunkOverlap:      3,
			MaxFileSize:       1 << 20,
			Workers:           4,
			VerifyAttempts:    5,
			VerifyBackoff:     100 * time.Millisecond,
			MTimeSafetyBuffer: time.Second,
			CleanupOrphans:    true,
			ProbeSamples:      20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ReindexingSection exposes the raw reindexing mapping to
// reindex.FromHostConfig.
func (c *Config) ReindexingSection() map[string]any {
	return c.Reindexing
}

// GetSourceExtensions extracts unique file extensions from code and docs patterns.
// Returns extensions with leading dot (e.g., []string{".go", ".ts", ".md"}).
func (c *Config) GetSourceExtensions() []string {
	seen := make(map[string]bool)
	var extensions []string
	for _, patterns := range [][]string{c.Paths.Code, c.Paths.Docs} {
		for _, pattern := range patterns {
			if ext := extractExtension(pattern); ext != "" && !seen[ext] {
				seen[ext] = true
				extensions = append(extensions, ext)
			}
		}
	}
	return extensions
}

// extractExtension extracts the file extension from a glob pattern.
// Returns empty string if pattern doesn't match a simple extension pattern.
// Examples: "**/*.go" -> ".go", "*.ts" -> ".ts", "**/*.tsx" -> ".tsx"
func extractExtension(pattern string) string {
	for i := len(pattern) - 1; i >= 1; i-- {
		if pattern[i] == '.' && pattern[i-1] == '*' {
			return pattern[i:]
		}
	}
	return ""
}
