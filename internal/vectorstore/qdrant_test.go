package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestQdrantValueRoundTrip(t *testing.T) {
	t.Parallel()

	point := toQdrantPoint(Point{
		ID:     "7d7d4b1c-7b0e-5bb0-9a4e-000000000001",
		Vector: []float32{0.1, 0.2},
		Payload: map[string]any{
			"path":            "a.go",
			"chunk_index":     3,
			"file_size":       int64(100),
			"score":           0.5,
			"committed":       true,
			"hidden_branches": []string{"dev", "old"},
		},
	})

	payload := extractPayload(point.Payload)
	assert.Equal(t, "a.go", payload["path"])
	assert.Equal(t, int64(3), payload["chunk_index"])
	assert.Equal(t, int64(100), payload["file_size"])
	assert.Equal(t, 0.5, payload["score"])
	assert.Equal(t, true, payload["committed"])
	assert.Equal(t, []string{"dev", "old"}, payload["hidden_branches"])
}

func TestQdrantFilterConversion(t *testing.T) {
	t.Parallel()

	assert.Nil(t, toQdrantFilter(nil))

	f := toQdrantFilter(&Filter{
		Must:    []Condition{MatchValue("type", "content"), MatchValue("chunk_index", 1)},
		MustNot: []Condition{MatchValue("hidden_branches", "main"), FieldIsEmpty("type")},
	})
	require.Len(t, f.Must, 2)
	require.Len(t, f.MustNot, 2)

	field := f.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, "type", field.Key)
	assert.Equal(t, "content", field.Match.GetKeyword())
	assert.Equal(t, int64(1), f.Must[1].GetField().Match.GetInteger())
	assert.Equal(t, "type", f.MustNot[1].GetIsEmpty().GetKey())
}

func TestExtractPointID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", extractPointID(nil))
	assert.Equal(t, "abc", extractPointID(qdrant.NewIDUUID("abc")))
	assert.Equal(t, "42", extractPointID(qdrant.NewIDNum(42)))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryable(status.Error(codes.Unavailable, "down")))
	assert.True(t, IsRetryable(newError("upsert", "c", status.Error(codes.ResourceExhausted, "busy"))))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(status.Error(codes.InvalidArgument, "bad")))
	assert.False(t, IsRetryable(errors.New("plain")))

	err := newError("get", "code", status.Error(codes.Unavailable, "down"))
	assert.Contains(t, err.Error(), `vector store get on "code"`)
}
