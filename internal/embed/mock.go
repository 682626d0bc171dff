package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// MockModel is the model name reported by MockProvider.
const MockModel = "mock-sha256"

// MockProvider generates deterministic embeddings by hashing the input text.
// Identical texts always produce identical unit vectors, so a chunk queried
// with its own content ranks itself first.
type MockProvider struct {
	dimensions int
	calls      atomic.Int64
	texts      atomic.Int64

	mu      sync.Mutex
	failErr error
}

// NewMockProvider creates a mock embedding provider. Non-positive
// dimensions default to 384.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockProvider{dimensions: dimensions}
}

func (p *MockProvider) Initialize(_ context.Context) error { return nil }

func (p *MockProvider) Health(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failErr
}

// FailWith makes subsequent Embed and Health calls return err. nil restores
// normal behaviour.
func (p *MockProvider) FailWith(err error) {
	p.mu.Lock()
	p.failErr = err
	p.mu.Unlock()
}

// Embed generates mock embeddings by hashing the input text.
func (p *MockProvider) Embed(ctx context.Context, texts []string, _ EmbedMode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	failErr := p.failErr
	p.mu.Unlock()
	if failErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, failErr)
	}

	p.calls.Add(1)
	p.texts.Add(int64(len(texts)))

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = hashVector(text, p.dimensions)
	}
	return embeddings, nil
}

// Calls returns the number of Embed calls that produced vectors.
func (p *MockProvider) Calls() int64 { return p.calls.Load() }

// TextsEmbedded returns the total number of texts embedded.
func (p *MockProvider) TextsEmbedded() int64 { return p.texts.Load() }

func (p *MockProvider) Dimensions() int { return p.dimensions }

func (p *MockProvider) Model() string { return MockModel }

func (p *MockProvider) Close() error { return nil }

func hashVector(text string, dimensions int) []float32 {
	embedding := make([]float32, dimensions)
	seed := sha256.Sum256([]byte(text))
	block := seed
	var norm float64
	for j := 0; j < dimensions; j++ {
		offset := (j * 4) % len(block)
		if j > 0 && offset == 0 {
			block = sha256.Sum256(block[:])
		}
		val := binary.BigEndian.Uint32(block[offset : offset+4])
		// [-1, 1]
		f := (float64(val)/float64(1<<32))*2.0 - 1.0
		embedding[j] = float32(f)
		norm += f * f
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for j := range embedding {
			embedding[j] *= scale
		}
	}
	return embedding
}

var _ Provider = (*MockProvider)(nil)
