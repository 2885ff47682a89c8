package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestValidateCollectionName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "conventions", false},
		{"hyphenated", "code-patterns", false},
		{"underscored", "agent_memory", false},
		{"empty", "", true},
		{"uppercase", "CodePatterns", true},
		{"spaces", "code patterns", true},
		{"path traversal", "../etc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCollectionName(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCollectionName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQdrantConfigValidate(t *testing.T) {
	cfg := QdrantConfig{Host: "localhost", Port: 6334, VectorSize: 384}
	assert.NoError(t, cfg.Validate())

	assert.ErrorIs(t, QdrantConfig{Port: 6334, VectorSize: 384}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, QdrantConfig{Host: "h", Port: -1, VectorSize: 384}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, QdrantConfig{Host: "h", Port: 6334}.Validate(), ErrInvalidConfig)
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(status.Error(grpccodes.Unavailable, "down")))
	assert.True(t, IsTransientError(status.Error(grpccodes.DeadlineExceeded, "slow")))
	assert.False(t, IsTransientError(status.Error(grpccodes.InvalidArgument, "bad")))
	assert.False(t, IsTransientError(errors.New("plain error")))
	assert.False(t, IsTransientError(nil))
}

func TestFilterConversion(t *testing.T) {
	t.Run("nil filter", func(t *testing.T) {
		assert.Nil(t, toQdrantFilter(nil))
		assert.Nil(t, toQdrantFilter(&Filter{}))
	})

	t.Run("keyword and bool conditions", func(t *testing.T) {
		f := Match("group_id", "my-project").And("is_current", true)
		converted := toQdrantFilter(f)
		require.NotNil(t, converted)
		require.Len(t, converted.Must, 2)

		first := converted.Must[0].GetField()
		require.NotNil(t, first)
		assert.Equal(t, "group_id", first.Key)
		assert.Equal(t, "my-project", first.Match.GetKeyword())

		second := converted.Must[1].GetField()
		require.NotNil(t, second)
		assert.True(t, second.Match.GetBoolean())
	})

	t.Run("any-of keywords", func(t *testing.T) {
		f := Match("type", []string{"decision", "blocker"})
		converted := toQdrantFilter(f)
		require.Len(t, converted.Must, 1)
		keywords := converted.Must[0].GetField().Match.GetKeywords()
		require.NotNil(t, keywords)
		assert.Equal(t, []string{"decision", "blocker"}, keywords.Strings)
	})
}

func TestPayloadRoundTrip(t *testing.T) {
	in := map[string]any{
		"group_id":    "my-project",
		"version":     int64(3),
		"decay_score": 0.85,
		"is_current":  true,
		"tags":        []string{"a", "b"},
	}
	out := fromQdrantPayload(toQdrantPayload(in))
	assert.Equal(t, "my-project", out["group_id"])
	assert.Equal(t, int64(3), out["version"])
	assert.Equal(t, 0.85, out["decay_score"])
	assert.Equal(t, true, out["is_current"])
	assert.Equal(t, []string{"a", "b"}, out["tags"])
}

func TestPointIDString(t *testing.T) {
	assert.Equal(t, "", pointIDString(nil))
	id := qdrant.NewIDUUID("3b241101-e2bb-4255-8caf-4136c566a962")
	assert.Equal(t, "3b241101-e2bb-4255-8caf-4136c566a962", pointIDString(id))
}

func TestFakeStore(t *testing.T) {
	ctx := context.Background()
	store := NewFakeStore()

	points := []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"group_id": "p1", "type": "decision"}},
		{ID: "b", Vector: []float32{0, 1}, Payload: map[string]any{"group_id": "p1", "type": "blocker"}},
		{ID: "c", Vector: []float32{1, 0.1}, Payload: map[string]any{"group_id": "p2", "type": "decision"}},
	}
	require.NoError(t, store.Upsert(ctx, "discussions", points))

	t.Run("query orders by similarity", func(t *testing.T) {
		results, err := store.Query(ctx, "discussions", []float32{1, 0}, nil, 10)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "a", results[0].ID)
		assert.Equal(t, "b", results[2].ID)
	})

	t.Run("filter restricts by group", func(t *testing.T) {
		results, err := store.Query(ctx, "discussions", []float32{1, 0}, Match("group_id", "p1"), 10)
		require.NoError(t, err)
		require.Len(t, results, 2)
	})

	t.Run("scroll pages with offset", func(t *testing.T) {
		page, next, err := store.Scroll(ctx, "discussions", nil, 2, "")
		require.NoError(t, err)
		require.Len(t, page, 2)
		require.NotEmpty(t, next)

		rest, done, err := store.Scroll(ctx, "discussions", nil, 2, next)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Empty(t, done)
	})

	t.Run("set payload merges", func(t *testing.T) {
		require.NoError(t, store.SetPayload(ctx, "discussions", []string{"a"}, map[string]any{
			"freshness_status": "stale",
		}))
		p, ok := store.Get("discussions", "a")
		require.True(t, ok)
		assert.Equal(t, "stale", p.Payload["freshness_status"])
		assert.Equal(t, "decision", p.Payload["type"])
	})

	t.Run("count and delete", func(t *testing.T) {
		n, err := store.Count(ctx, "discussions", Match("type", "decision"))
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)

		require.NoError(t, store.Delete(ctx, "discussions", []string{"a", "c"}))
		n, err = store.Count(ctx, "discussions", nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})

	t.Run("injected failure surfaces once", func(t *testing.T) {
		boom := errors.New("boom")
		store.FailNext(boom)
		_, err := store.Count(ctx, "discussions", nil)
		assert.ErrorIs(t, err, boom)
		_, err = store.Count(ctx, "discussions", nil)
		assert.NoError(t, err)
	})
}
