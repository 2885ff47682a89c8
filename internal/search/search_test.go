package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

type fixedEmbedder struct {
	prose []float32
	code  []float32
}

func (f *fixedEmbedder) EmbedOne(ctx context.Context, text string, model embeddings.Model) ([]float32, error) {
	if model == embeddings.ModelCode {
		return f.code, nil
	}
	return f.prose, nil
}

func seedPoint(id, groupID, typ, content string, vector []float32, ts time.Time) vectorstore.Point {
	return vectorstore.Point{
		ID:     id,
		Vector: vector,
		Payload: map[string]any{
			"group_id":    groupID,
			"type":        typ,
			"content":     content,
			"timestamp":   ts.UTC().Format(time.RFC3339),
			"source_hook": "post-tool-use",
		},
	}
}

func TestComposeQuery(t *testing.T) {
	q := ComposeQuery(QueryContext{
		ProjectName: "memoryd",
		CWD:         "/home/dev/memoryd",
		Languages:   []string{"go"},
		RecentFiles: []string{"internal/config/loader.go"},
		Prompt:      "why does config loading fail",
	})
	assert.Contains(t, q, "project: memoryd")
	assert.Contains(t, q, "stack: go")
	assert.Contains(t, q, "internal/config/loader.go")
	assert.Contains(t, q, "why does config loading fail")
}

func TestLooksCodeShaped(t *testing.T) {
	assert.True(t, LooksCodeShaped("error in internal/config/loader.go"))
	assert.True(t, LooksCodeShaped("call parseConfig() before start"))
	assert.True(t, LooksCodeShaped("the loadDotEnv helper"))
	assert.False(t, LooksCodeShaped("why did we choose the daemon architecture"))
}

func TestSearchGating(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewFakeStore()
	now := time.Now()

	// Query vector is (1,0). Scores are the cosines against it.
	require.NoError(t, store.Upsert(ctx, "discussions", []vectorstore.Point{
		seedPoint("d1", "proj", "decision", "strong discussion match", []float32{1, 0}, now),
		seedPoint("d2", "proj", "decision", "weak discussion match", []float32{0.5, 0.87}, now), // ~0.5 < 0.60
		seedPoint("d3", "proj", "decision", "below hard floor", []float32{0.3, 0.96}, now),      // ~0.3 < 0.45
		seedPoint("d4", "other", "decision", "other tenant", []float32{1, 0}, now),
	}))
	require.NoError(t, store.Upsert(ctx, "conventions", []vectorstore.Point{
		seedPoint("c1", "any", "rule", "shared convention", []float32{0.9, 0.44}, now), // ~0.9
	}))
	require.NoError(t, store.Upsert(ctx, "code-patterns", []vectorstore.Point{
		seedPoint("p1", "proj", "implementation", "code pattern", []float32{0.6, 0.8}, now), // 0.6
	}))

	s := New(store, &fixedEmbedder{prose: []float32{1, 0}, code: []float32{1, 0}},
		DefaultThresholds(), 10, zap.NewNop())

	results, err := s.Search(ctx, "proj", "why did we choose the daemon architecture")
	require.NoError(t, err)

	byID := map[string]Result{}
	for _, r := range results {
		byID[r.Item.ID] = r
	}

	// Hard floor excluded d3; tenant filter excluded d4.
	assert.NotContains(t, byID, "d3")
	assert.NotContains(t, byID, "d4")

	// Conventions searched without tenant filter.
	require.Contains(t, byID, "c1")
	assert.True(t, byID["c1"].Passed)
	assert.Equal(t, memory.CollectionConventions, byID["c1"].Collection)

	// d2 survives the floor but fails the discussions threshold.
	require.Contains(t, byID, "d2")
	assert.False(t, byID["d2"].Passed)

	require.Contains(t, byID, "d1")
	assert.True(t, byID["d1"].Passed)

	// code-patterns threshold is 0.55; 0.6 passes.
	require.Contains(t, byID, "p1")
	assert.True(t, byID["p1"].Passed)

	// Sorted by score descending.
	assert.Equal(t, "d1", results[0].Item.ID)
	assert.InDelta(t, 1.0, TopScore(results), 0.001)
}

func TestRecentOrdersByTimestamp(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewFakeStore()
	now := time.Now()

	require.NoError(t, store.Upsert(ctx, "discussions", []vectorstore.Point{
		seedPoint("old", "proj", "session", "older handoff", []float32{1, 0}, now.Add(-2*time.Hour)),
		seedPoint("new", "proj", "session", "newest handoff", []float32{1, 0}, now),
		seedPoint("mid", "proj", "blocker", "open blocker", []float32{1, 0}, now.Add(-time.Hour)),
		seedPoint("skip", "proj", "decision", "not requested", []float32{1, 0}, now),
	}))

	s := New(store, &fixedEmbedder{prose: []float32{1, 0}}, DefaultThresholds(), 10, zap.NewNop())

	items, err := s.Recent(ctx, memory.CollectionDiscussions, "proj",
		[]memory.Type{memory.TypeSession, memory.TypeBlocker}, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "new", items[0].ID)
	assert.Equal(t, "mid", items[1].ID)
}

func TestBootstrapGathersHandoffsAndSessions(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewFakeStore()
	now := time.Now()

	require.NoError(t, store.Upsert(ctx, "conventions", []vectorstore.Point{
		seedPoint("conv", "proj", "guideline", "wrap errors with fmt.Errorf", []float32{1, 0}, now),
	}))
	require.NoError(t, store.Upsert(ctx, "discussions", []vectorstore.Point{
		seedPoint("hand", "proj", "agent_handoff", "handoff: breaker half-open state left", []float32{1, 0}, now),
		seedPoint("sess", "proj", "session", "session: reworked the sync engine", []float32{1, 0}, now.Add(-time.Minute)),
		seedPoint("dec", "proj", "decision", "decision: keep three collections", []float32{1, 0}, now.Add(-2*time.Minute)),
		seedPoint("blk", "proj", "blocker", "blocker: staging qdrant flaky", []float32{1, 0}, now.Add(-3*time.Minute)),
		seedPoint("chat", "proj", "user_message", "plain chatter stays out", []float32{1, 0}, now),
	}))

	s := New(store, &fixedEmbedder{prose: []float32{1, 0}}, DefaultThresholds(), 10, zap.NewNop())

	items, err := s.Bootstrap(ctx, "proj")
	require.NoError(t, err)

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	assert.ElementsMatch(t, []string{"conv", "hand", "sess", "dec", "blk"}, ids)
}

func TestBootstrapEmptyProject(t *testing.T) {
	store := vectorstore.NewFakeStore()
	s := New(store, &fixedEmbedder{prose: []float32{1, 0}}, DefaultThresholds(), 10, zap.NewNop())

	items, err := s.Bootstrap(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Empty(t, items)
}
