package embed

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_Deterministic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewMockProvider(16)

	a, err := p.Embed(ctx, []string{"func main() {}", "other"}, EmbedModePassage)
	require.NoError(t, err)
	b, err := p.Embed(ctx, []string{"func main() {}"}, EmbedModeQuery)
	require.NoError(t, err)

	assert.Equal(t, a[0], b[0])
	assert.NotEqual(t, a[0], a[1])
	assert.Len(t, a[0], 16)
	assert.Equal(t, int64(2), p.Calls())
	assert.Equal(t, int64(3), p.TextsEmbedded())

	var norm float64
	for _, v := range a[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestMockProvider_LargeDimensionsVary(t *testing.T) {
	t.Parallel()
	p := NewMockProvider(0)
	assert.Equal(t, 384, p.Dimensions())

	v, err := EmbedOne(context.Background(), p, "x", EmbedModePassage)
	require.NoError(t, err)
	// past the first sha256 block the values must not simply repeat
	assert.NotEqual(t, v[0:8], v[8:16])
}

func TestMockProvider_Failures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewMockProvider(8)

	_, err := p.Embed(ctx, nil, EmbedModePassage)
	assert.ErrorIs(t, err, ErrEmptyInput)

	boom := errors.New("boom")
	p.FailWith(boom)
	_, err = p.Embed(ctx, []string{"a"}, EmbedModePassage)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, p.Health(ctx), boom)

	p.FailWith(nil)
	assert.NoError(t, p.Health(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Embed(cancelled, []string{"a"}, EmbedModePassage)
	assert.ErrorIs(t, err, context.Canceled)
}
