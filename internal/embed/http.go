package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mvp-joe/code-indexer/internal/logging"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultRequestsPerSec = 10.0
	defaultBurst          = 5
	defaultMaxRetries     = 3
	defaultBaseBackoff    = 500 * time.Millisecond
)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	// Endpoint is the base URL of a text-embeddings-inference compatible
	// server. Embeddings are requested from {Endpoint}/embed.
	Endpoint   string
	Model      string
	Dimensions int
	APIKey     string

	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	MaxRetries        int
	BaseBackoff       time.Duration
}

// HTTPProvider calls a remote embedding service over HTTP. Requests are
// rate limited and transient failures (transport errors, 429, 5xx) are
// retried with exponential backoff.
type HTTPProvider struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

type embedRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// NewHTTPProvider validates cfg and builds a provider. No request is made
// until Initialize.
func NewHTTPProvider(cfg HTTPConfig, logger *logging.Logger) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("embedding endpoint required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be > 0, got %d", cfg.Dimensions)
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if logger == nil {
		logger = logging.Nop()
	}

	return &HTTPProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger.Named("embed"),
	}, nil
}

// Initialize checks that the service answers and that it produces vectors
// of the configured size.
func (p *HTTPProvider) Initialize(ctx context.Context) error {
	if err := p.Health(ctx); err != nil {
		return err
	}
	vectors, err := p.Embed(ctx, []string{"dimension probe"}, EmbedModeQuery)
	if err != nil {
		return fmt.Errorf("embedding probe failed: %w", err)
	}
	if got := len(vectors[0]); got != p.cfg.Dimensions {
		return fmt.Errorf("embedding service returned %d dimensions, configured %d", got, p.cfg.Dimensions)
	}
	p.logger.Info(ctx, "embedding provider ready",
		zap.String("endpoint", p.cfg.Endpoint), zap.String("model", p.cfg.Model), zap.Int("dimensions", p.cfg.Dimensions))
	return nil
}

func (p *HTTPProvider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}
	p.authorize(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (p *HTTPProvider) Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
			p.logger.Debug(ctx, "retrying embedding request",
				zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		vectors, err := p.doRequest(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (p *HTTPProvider) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &retryableError{err: fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &retryableError{err: fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

func (p *HTTPProvider) authorize(req *http.Request) {
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
}

func (p *HTTPProvider) Dimensions() int { return p.cfg.Dimensions }

func (p *HTTPProvider) Model() string { return p.cfg.Model }

func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

var _ Provider = (*HTTPProvider)(nil)
