package mcputils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type argsMap map[string]any

func (m argsMap) GetArguments() map[string]any { return m }

type searchArgs struct {
	Query     string        `json:"query"`
	Limit     int           `json:"limit,omitempty"`
	Languages []string      `json:"languages,omitempty"`
	Exact     bool          `json:"exact,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	Score     float64       `json:"score,omitempty"`
}

func TestCoerceBindArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args argsMap
		want searchArgs
	}{
		{
			name: "native types",
			args: argsMap{"query": "retry", "limit": 10, "languages": []any{"go", "rust"}, "exact": true},
			want: searchArgs{Query: "retry", Limit: 10, Languages: []string{"go", "rust"}, Exact: true},
		},
		{
			name: "everything as strings",
			args: argsMap{"query": "retry", "limit": "5", "languages": `["go"]`, "exact": "true", "score": "0.5"},
			want: searchArgs{Query: "retry", Limit: 5, Languages: []string{"go"}, Exact: true, Score: 0.5},
		},
		{
			name: "numbers arrive as float64",
			args: argsMap{"query": "q", "limit": float64(7)},
			want: searchArgs{Query: "q", Limit: 7},
		},
		{
			name: "comma separated fallback",
			args: argsMap{"query": "q", "languages": "go,python"},
			want: searchArgs{Query: "q", Languages: []string{"go", "python"}},
		},
		{
			name: "empty json array",
			args: argsMap{"query": "q", "languages": "[]"},
			want: searchArgs{Query: "q", Languages: []string{}},
		},
		{
			name: "durations",
			args: argsMap{"query": "q", "timeout": "1500ms"},
			want: searchArgs{Query: "q", Timeout: 1500 * time.Millisecond},
		},
		{
			name: "weakly typed bool",
			args: argsMap{"query": "q", "exact": 1},
			want: searchArgs{Query: "q", Exact: true},
		},
		{
			name: "missing optional fields",
			args: argsMap{"query": "q"},
			want: searchArgs{Query: "q"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got searchArgs
			require.NoError(t, CoerceBindArguments(tt.args, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceBindArguments_Invalid(t *testing.T) {
	t.Parallel()

	var got searchArgs
	err := CoerceBindArguments(argsMap{"limit": "many"}, &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")
}

func TestJSONStringHook_PassesThroughInvalidJSON(t *testing.T) {
	t.Parallel()

	type objArgs struct {
		Filter map[string]any `json:"filter"`
		Raw    string         `json:"raw"`
	}
	var got objArgs
	err := CoerceBindArguments(argsMap{
		"filter": `{"language": "go", "min": 2}`,
		"raw":    "[not json",
	}, &got)
	require.NoError(t, err)
	assert.Equal(t, "go", got.Filter["language"])
	assert.EqualValues(t, 2, got.Filter["min"])
	assert.Equal(t, "[not json", got.Raw)
}
