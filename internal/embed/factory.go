package embed

import (
	"fmt"
	"time"

	"github.com/mvp-joe/code-indexer/internal/logging"
)

// Config contains configuration for creating an embedding provider.
type Config struct {
	// Provider selects the implementation: "http" or "mock".
	Provider   string
	Endpoint   string
	Model      string
	Dimensions int
	APIKey     string

	RequestsPerSecond float64
	// ParallelRequests is the limiter burst, the number of requests that
	// may start back to back.
	ParallelRequests  int
	Timeout           time.Duration

	// QueryCacheSize enables the query-embedding cache when > 0.
	QueryCacheSize int
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(config Config, logger *logging.Logger) (Provider, error) {
	var p Provider
	switch config.Provider {
	case "mock":
		p = NewMockProvider(config.Dimensions)
	case "http", "":
		hp, err := NewHTTPProvider(HTTPConfig{
			Endpoint:          config.Endpoint,
			Model:             config.Model,
			Dimensions:        config.Dimensions,
			APIKey:            config.APIKey,
			RequestsPerSecond: config.RequestsPerSecond,
			Burst:             config.ParallelRequests,
			Timeout:           config.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		p = hp
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (supported: http, mock)", config.Provider)
	}

	if config.QueryCacheSize > 0 {
		return NewCachedProvider(p, config.QueryCacheSize)
	}
	return p, nil
}
