package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// fakeEmbedder returns a fixed vector per content string, so tests control
// semantic similarity exactly.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string, model embeddings.Model) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0, 0}, nil
}

func newTestStorage(embedder Embedder) (*Storage, *vectorstore.FakeStore) {
	store := vectorstore.NewFakeStore()
	s := New(store, embedder, Options{VectorSize: 4}, zap.NewNop())
	return s, store
}

func mustItem(t *testing.T, typ memory.Type, content string) *memory.Item {
	t.Helper()
	item, err := memory.NewItem("my-project", typ, content, "post-tool-use")
	require.NoError(t, err)
	return item
}

func TestSaveStoresNewItem(t *testing.T) {
	s, store := newTestStorage(&fakeEmbedder{})
	item := mustItem(t, memory.TypeDecision, "we will use the daemon architecture")

	res, err := s.Save(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, StatusStored, res.Status)
	assert.Equal(t, item.ID, res.ID)
	assert.Equal(t, memory.EmbeddingComplete, res.EmbeddingStatus)

	point, ok := store.Get("discussions", item.ID)
	require.True(t, ok)
	assert.Equal(t, "my-project", point.Payload["group_id"])
	assert.Equal(t, item.ContentHash, point.Payload["content_hash"])
}

func TestSaveDetectsHashDuplicate(t *testing.T) {
	s, _ := newTestStorage(&fakeEmbedder{})
	ctx := context.Background()

	first := mustItem(t, memory.TypeDecision, "duplicate me exactly")
	res1, err := s.Save(ctx, first)
	require.NoError(t, err)
	require.Equal(t, StatusStored, res1.Status)

	// Same content after normalization, different item id.
	second := mustItem(t, memory.TypeDecision, "duplicate me exactly\r\n")
	res2, err := s.Save(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res2.Status)
	assert.Equal(t, first.ID, res2.ID)
	assert.Equal(t, "hash", res2.DedupLayer)
}

func TestSaveDetectsSemanticDuplicate(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"the daemon owns the sync loop":  {1, 0, 0, 0},
		"the sync loop lives in daemon.": {0.99, 0.1, 0, 0}, // cosine ~0.995
	}}
	s, _ := newTestStorage(embedder)
	ctx := context.Background()

	res1, err := s.Save(ctx, mustItem(t, memory.TypeDecision, "the daemon owns the sync loop"))
	require.NoError(t, err)
	require.Equal(t, StatusStored, res1.Status)

	res2, err := s.Save(ctx, mustItem(t, memory.TypeDecision, "the sync loop lives in daemon."))
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res2.Status)
	assert.Equal(t, "semantic", res2.DedupLayer)
	assert.Equal(t, res1.ID, res2.ID)
}

func TestSaveSemanticThresholdNotExceeded(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"first independent memory entry":  {1, 0, 0, 0},
		"second independent memory entry": {0.5, 0.86, 0, 0}, // cosine ~0.5
	}}
	s, _ := newTestStorage(embedder)
	ctx := context.Background()

	_, err := s.Save(ctx, mustItem(t, memory.TypeDecision, "first independent memory entry"))
	require.NoError(t, err)
	res, err := s.Save(ctx, mustItem(t, memory.TypeDecision, "second independent memory entry"))
	require.NoError(t, err)
	assert.Equal(t, StatusStored, res.Status)
}

func TestSaveEmbeddingFailureStoresZeroVector(t *testing.T) {
	s, store := newTestStorage(&fakeEmbedder{err: errors.New("embedder down")})
	item := mustItem(t, memory.TypeBlocker, "backend outage blocked deploy")

	res, err := s.Save(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, StatusStored, res.Status)
	assert.Equal(t, memory.EmbeddingFailed, res.EmbeddingStatus)

	point, ok := store.Get("discussions", item.ID)
	require.True(t, ok)
	assert.Equal(t, string(memory.EmbeddingFailed), point.Payload["embedding_status"])
	assert.Equal(t, []float32{0, 0, 0, 0}, point.Vector)
}

func TestSaveRejectsInvalidItem(t *testing.T) {
	s, _ := newTestStorage(&fakeEmbedder{})

	_, err := s.Save(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilItem)

	bad := &memory.Item{
		GroupID:    "my-project",
		Collection: memory.CollectionConventions,
		Type:       memory.TypeDecision, // owned by discussions
		Content:    "mismatched type and collection",
	}
	_, err = s.Save(context.Background(), bad)
	assert.ErrorIs(t, err, memory.ErrTypeCollection)
}

func TestMarkStale(t *testing.T) {
	s, store := newTestStorage(&fakeEmbedder{})
	ctx := context.Background()

	item := mustItem(t, memory.TypeImplementation, "func Parse(r io.Reader) (*Doc, error) { ... }")
	item.SourceFile = "internal/parser/parse.go"
	_, err := s.Save(ctx, item)
	require.NoError(t, err)

	n, err := s.MarkStale(ctx, "code-patterns", "my-project",
		[]string{"internal/parser/parse.go"}, "post_sync_pr_merge")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	point, ok := store.Get("code-patterns", item.ID)
	require.True(t, ok)
	assert.Equal(t, string(memory.FreshnessStale), point.Payload["freshness_status"])
	assert.Equal(t, "post_sync_pr_merge", point.Payload["freshness_trigger"])
	assert.NotEmpty(t, point.Payload["freshness_checked_at"])
	assert.Equal(t, false, point.Payload["is_current"])
	// Vector untouched, content untouched.
	assert.Equal(t, item.Content, point.Payload["content"])
}

func TestPurge(t *testing.T) {
	s, store := newTestStorage(&fakeEmbedder{vectors: map[string][]float32{
		"an old session summary entry":   {1, 0, 0, 0},
		"a recent session summary entry": {0, 1, 0, 0},
	}})
	ctx := context.Background()

	old := mustItem(t, memory.TypeSession, "an old session summary entry")
	old.Timestamp = time.Now().UTC().Add(-40 * 24 * time.Hour)
	_, err := s.Save(ctx, old)
	require.NoError(t, err)

	recent := mustItem(t, memory.TypeSession, "a recent session summary entry")
	_, err = s.Save(ctx, recent)
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)

	t.Run("dry run reports without deleting", func(t *testing.T) {
		res, err := s.Purge(ctx, "discussions", "my-project", cutoff, true)
		require.NoError(t, err)
		assert.Equal(t, []string{old.ID}, res.IDs)
		_, ok := store.Get("discussions", old.ID)
		assert.True(t, ok)
	})

	t.Run("confirmed purge deletes", func(t *testing.T) {
		res, err := s.Purge(ctx, "discussions", "my-project", cutoff, false)
		require.NoError(t, err)
		assert.Equal(t, []string{old.ID}, res.IDs)
		_, ok := store.Get("discussions", old.ID)
		assert.False(t, ok)
		_, ok = store.Get("discussions", recent.ID)
		assert.True(t, ok)
	})
}

func TestItemPayloadRoundTrip(t *testing.T) {
	item := mustItem(t, memory.TypeErrorFix, "fixed nil deref in config loader")
	item.SessionID = "sess-1"
	item.SourceFile = "internal/config/loader.go"
	item.SourceLine = 42
	item.Tags = []string{"config"}
	item.BatchID = "batch-1"
	item.ChunkIndex = 1
	item.ChunkTotal = 2
	item.EmbeddingStatus = memory.EmbeddingComplete
	item.EmbeddingModel = "code"

	rebuilt := ItemFromPayload(item.ID, string(item.Collection), itemPayload(item))
	assert.Equal(t, item.GroupID, rebuilt.GroupID)
	assert.Equal(t, item.Type, rebuilt.Type)
	assert.Equal(t, item.Content, rebuilt.Content)
	assert.Equal(t, item.ContentHash, rebuilt.ContentHash)
	assert.Equal(t, item.SourceFile, rebuilt.SourceFile)
	assert.Equal(t, item.SourceLine, rebuilt.SourceLine)
	assert.Equal(t, item.BatchID, rebuilt.BatchID)
	assert.Equal(t, item.ChunkTotal, rebuilt.ChunkTotal)
	assert.Equal(t, item.Version, rebuilt.Version)
	assert.True(t, rebuilt.IsCurrent)
	assert.Equal(t, item.Timestamp.Truncate(time.Second).UTC(), rebuilt.Timestamp)
}
