package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIntArg(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args map[string]any
		want int
	}{
		{"float64 from JSON", map[string]any{"n": float64(42)}, 42},
		{"plain int", map[string]any{"n": 7}, 7},
		{"missing", map[string]any{}, 10},
		{"wrong type", map[string]any{"n": "42"}, 10},
		{"nil map", nil, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseIntArg(tt.args, "n", 10))
		})
	}
}

func TestParseBoolArg(t *testing.T) {
	t.Parallel()

	assert.True(t, parseBoolArg(map[string]any{"b": true}, "b", false))
	assert.False(t, parseBoolArg(map[string]any{"b": false}, "b", true))
	assert.True(t, parseBoolArg(map[string]any{}, "b", true))
	assert.False(t, parseBoolArg(map[string]any{"b": "true"}, "b", false))
}

func TestParseClampedInt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5, parseClampedInt(map[string]any{}, "n", 5, 0, 50))
	assert.Equal(t, 50, parseClampedInt(map[string]any{"n": float64(500)}, "n", 5, 0, 50))
	assert.Equal(t, 0, parseClampedInt(map[string]any{"n": float64(-3)}, "n", 5, 0, 50))
	assert.Equal(t, 12, parseClampedInt(map[string]any{"n": float64(12)}, "n", 5, 0, 50))
}
