package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for NewProvider():
// - Creates mock provider when config.Provider is "mock"
// - Creates HTTP provider for "http" and the empty default
// - Wraps the provider in a query cache when QueryCacheSize > 0
// - Returns error for unsupported provider types

func TestNewProvider_MockProvider(t *testing.T) {
	t.Parallel()

	provider, err := NewProvider(Config{Provider: "mock", Dimensions: 32}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MockProvider{}, provider)
	assert.Equal(t, 32, provider.Dimensions())
	assert.NoError(t, provider.Close())
}

func TestNewProvider_HTTPDefault(t *testing.T) {
	t.Parallel()

	provider, err := NewProvider(Config{Endpoint: "http://localhost:8080", Model: "bge", Dimensions: 384}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPProvider{}, provider)
	assert.Equal(t, "bge", provider.Model())
}

func TestNewProvider_QueryCache(t *testing.T) {
	t.Parallel()

	provider, err := NewProvider(Config{Provider: "mock", Dimensions: 8, QueryCacheSize: 10}, nil)
	require.NoError(t, err)
	cached, ok := provider.(*CachedProvider)
	require.True(t, ok)
	assert.Equal(t, MockModel, cached.Model())
}

func TestNewProvider_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(Config{Provider: "openai"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported embedding provider")
}
