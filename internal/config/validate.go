package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

var (
	// ErrInvalidProvider indicates an unsupported embedding provider
	ErrInvalidProvider = errors.New("invalid embedding provider")

	// ErrInvalidDimensions indicates invalid embedding dimensions
	ErrInvalidDimensions = errors.New("invalid embedding dimensions")

	// ErrEmptyEndpoint indicates missing embedding endpoint
	ErrEmptyEndpoint = errors.New("empty embedding endpoint")

	// ErrEmptyModel indicates missing embedding model
	ErrEmptyModel = errors.New("empty embedding model")

	// ErrInvalidBackend indicates an unsupported vector store backend
	ErrInvalidBackend = errors.New("invalid vector store backend")

	// ErrInvalidChunkSize indicates invalid chunk size configuration
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidOverlap indicates invalid overlap configuration
	ErrInvalidOverlap = errors.New("invalid overlap")

	// ErrInvalidIndexing indicates an out-of-range indexing setting
	ErrInvalidIndexing = errors.New("invalid indexing settings")

	// ErrInvalidLogging indicates an unknown log level or format
	ErrInvalidLogging = errors.New("invalid logging settings")
)

// Validate checks that the configuration is valid and complete.
// Every violation is reported; nothing is clamped.
func Validate(cfg *Config) error {
	var errs []error
	errs = append(errs, validateEmbedding(&cfg.Embedding)...)
	errs = append(errs, validateVectorStore(&cfg.VectorStore)...)
	errs = append(errs, validateIndexing(&cfg.Indexing)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	return joinErrors(errs)
}

func validateEmbedding(cfg *EmbeddingConfig) []error {
	var errs []error

	provider := strings.ToLower(cfg.Provider)
	if provider != "http" && provider != "mock" {
		errs = append(errs, fmt.Errorf("%w: must be 'http' or 'mock', got '%s'", ErrInvalidProvider, cfg.Provider))
	}
	if strings.TrimSpace(cfg.Model) == "" {
		errs = append(errs, fmt.Errorf("%w: model is required", ErrEmptyModel))
	}
	if cfg.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidDimensions, cfg.Dimensions))
	}
	if provider == "http" && strings.TrimSpace(cfg.Endpoint) == "" {
		errs = append(errs, fmt.Errorf("%w: endpoint is required", ErrEmptyEndpoint))
	}
	if cfg.QueryCacheSize < 0 {
		errs = append(errs, fmt.Errorf("query_cache_size cannot be negative, got %d", cfg.QueryCacheSize))
	}
	return errs
}

func validateVectorStore(cfg *VectorStoreConfig) []error {
	var errs []error
	switch strings.ToLower(cfg.Backend) {
	case "chromem":
	case "qdrant":
		if cfg.Port <= 0 || cfg.Port > 65535 {
			errs = append(errs, fmt.Errorf("%w: qdrant port must be in 1-65535, got %d", ErrInvalidBackend, cfg.Port))
		}
		if strings.TrimSpace(cfg.Host) == "" {
			errs = append(errs, fmt.Errorf("%w: qdrant host is required", ErrInvalidBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: must be 'chromem' or 'qdrant', got '%s'", ErrInvalidBackend, cfg.Backend))
	}
	if cfg.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("%w: retry_attempts cannot be negative, got %d", ErrInvalidBackend, cfg.RetryAttempts))
	}
	return errs
}

func validateIndexing(cfg *IndexingConfig) []error {
	var errs []error
	if cfg.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunkSize, cfg.ChunkSize))
	}
	if cfg.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("%w: chunk_overlap cannot be negative, got %d", ErrInvalidOverlap, cfg.ChunkOverlap))
	}
	if cfg.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: max_file_size must be positive, got %d", ErrInvalidIndexing, cfg.MaxFileSize))
	}
	if cfg.Workers <= 0 {
		errs = append(errs, fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidIndexing, cfg.Workers))
	}
	if cfg.VerifyAttempts <= 0 {
		errs = append(errs, fmt.Errorf("%w: verify_attempts must be positive, got %d", ErrInvalidIndexing, cfg.VerifyAttempts))
	}
	if cfg.VerifyBackoff < 0 {
		errs = append(errs, fmt.Errorf("%w: verify_backoff cannot be negative, got %s", ErrInvalidIndexing, cfg.VerifyBackoff))
	}
	if cfg.MTimeSafetyBuffer < 0 {
		errs = append(errs, fmt.Errorf("%w: mtime_safety_buffer cannot be negative, got %s", ErrInvalidIndexing, cfg.MTimeSafetyBuffer))
	}
	if cfg.ProbeSamples < 0 {
		errs = append(errs, fmt.Errorf("%w: probe_samples cannot be negative, got %d", ErrInvalidIndexing, cfg.ProbeSamples))
	}
	return errs
}

func validateLogging(cfg *LoggingConfig) []error {
	var errs []error
	if _, err := zapcore.ParseLevel(strings.ToLower(cfg.Level)); err != nil {
		errs = append(errs, fmt.Errorf("%w: unknown level '%s'", ErrInvalidLogging, cfg.Level))
	}
	if cfg.Format != "json" && cfg.Format != "console" {
		errs = append(errs, fmt.Errorf("%w: format must be 'json' or 'console', got '%s'", ErrInvalidLogging, cfg.Format))
	}
	return errs
}

// joinErrors combines multiple errors into one that still matches each
// sentinel with errors.Is.
func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return fmt.Errorf("validation failed: %w", errors.Join(errs...))
	}
}
