package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/capture"
	"github.com/fyrsmithlabs/memoryd/internal/chunking"
	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/injection"
	"github.com/fyrsmithlabs/memoryd/internal/queue"
	"github.com/fyrsmithlabs/memoryd/internal/search"
	"github.com/fyrsmithlabs/memoryd/internal/security"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

type constEmbedder struct{ v []float32 }

func (c constEmbedder) EmbedOne(ctx context.Context, text string, model embeddings.Model) ([]float32, error) {
	return c.v, nil
}

type dropQueue struct{}

func (dropQueue) Enqueue(rec queue.Record) error { return nil }

func newTestServer(t *testing.T, store *vectorstore.FakeStore) *Server {
	t.Helper()
	embedder := constEmbedder{v: []float32{1, 0}}
	searcher := search.New(store, embedder, search.DefaultThresholds(), 10, zap.NewNop())
	builder := injection.New(injection.DefaultBudget(), zap.NewNop())

	st := storage.New(store, embedder, storage.Options{VectorSize: 2}, zap.NewNop())
	scanner, err := security.NewScanner()
	require.NoError(t, err)
	chunker := chunking.New(config.ChunkerConfig{
		ProseMaxTokens: 800, CodeMaxTokens: 1000, GuidelineMaxTokens: 800,
		UserMessageMaxTokens: 2000, AgentResponseMaxTokens: 3000, OverlapRatio: 0.15,
	})
	pipeline := capture.New(st, dropQueue{}, scanner, chunker, zap.NewNop())

	srv, err := NewServer(searcher, builder, pipeline, zap.NewNop(), Config{})
	require.NoError(t, err)
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, vectorstore.NewFakeStore())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, vectorstore.NewFakeStore())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSearchEndpoint(t *testing.T) {
	store := vectorstore.NewFakeStore()
	require.NoError(t, store.Upsert(context.Background(), "discussions", []vectorstore.Point{{
		ID:     "d1",
		Vector: []float32{1, 0},
		Payload: map[string]any{
			"group_id":    "my-project",
			"type":        "decision",
			"content":     "we picked qdrant over chromem for multi-tenancy",
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"source_hook": "ManualSave",
		},
	}}))
	srv := newTestServer(t, store)

	body := `{"cwd":"/home/dev/my-project","query":"why qdrant"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "d1", resp.Results[0].ID)
	assert.False(t, resp.Skipped)
	assert.Contains(t, resp.Context, "qdrant over chromem")
}

func TestSearchRejectsMissingCWD(t *testing.T) {
	srv := newTestServer(t, vectorstore.NewFakeStore())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"x"}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCaptureEndpoint(t *testing.T) {
	store := vectorstore.NewFakeStore()
	srv := newTestServer(t, store)

	body := `{"hook_event_name":"UserPromptSubmit","cwd":"/home/dev/my-project","prompt":"please document the retry policy"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/capture", strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	n, err := store.Count(context.Background(), "discussions", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestCaptureRejectsMalformed(t *testing.T) {
	srv := newTestServer(t, vectorstore.NewFakeStore())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/capture", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const echoContentType = "Content-Type"
