package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T, dim int, failures *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/embed":
			if failures != nil && failures.Add(-1) >= 0 {
				http.Error(w, "backend overloaded", http.StatusServiceUnavailable)
				return
			}
			var req embedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			vectors := make([][]float32, len(req.Texts))
			for i := range vectors {
				vectors[i] = make([]float32, dim)
			}
			_ = json.NewEncoder(w).Encode(embedResponse{
				Embeddings: vectors,
				Model:      req.Model,
				Dimensions: dim,
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: baseURL, ReadTimeout: 2 * time.Second, MaxRetries: 3}, nil)
	require.NoError(t, err)
	return c
}

func TestEmbed(t *testing.T) {
	srv := fakeServer(t, 384, nil)
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	t.Run("one vector per text", func(t *testing.T) {
		vectors, err := c.Embed(context.Background(), []string{"alpha", "beta"}, ModelProse)
		require.NoError(t, err)
		require.Len(t, vectors, 2)
		assert.Len(t, vectors[0], 384)
	})

	t.Run("empty input rejected", func(t *testing.T) {
		_, err := c.Embed(context.Background(), nil, ModelProse)
		assert.ErrorIs(t, err, ErrEmptyInput)
	})
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2) // first two calls 503, then success
	srv := fakeServer(t, 8, &failures)
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	vectors, err := c.Embed(context.Background(), []string{"retry me"}, ModelCode)
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
}

func TestEmbedExhaustsRetries(t *testing.T) {
	var failures atomic.Int32
	failures.Store(100)
	srv := fakeServer(t, 8, &failures)
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, err := c.Embed(context.Background(), []string{"doomed"}, ModelProse)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestDimensions(t *testing.T) {
	srv := fakeServer(t, 768, nil)
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	dim, err := c.Dimensions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 768, dim)
}

func TestHealth(t *testing.T) {
	srv := fakeServer(t, 8, nil)
	c := newTestClient(t, srv.URL)

	assert.NoError(t, c.Health(context.Background()))

	srv.Close()
	assert.ErrorIs(t, c.Health(context.Background()), ErrServerUnhealthy)
}
