// Package embeddings provides the HTTP client for the external embedding
// server: two model identities (prose and code) producing fixed-width dense
// vectors of one shared dimension.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Model selects the embedding model identity.
type Model string

const (
	// ModelProse is the English prose model ("en" on the wire).
	ModelProse Model = "en"
	// ModelCode is the code model.
	ModelCode Model = "code"
)

// Common errors.
var (
	ErrEmptyInput       = errors.New("empty input texts")
	ErrEmbeddingFailed  = errors.New("embedding generation failed")
	ErrServerUnhealthy  = errors.New("embedding server unhealthy")
	ErrDimensionUnknown = errors.New("embedding dimension not advertised")
)

// Config holds client configuration.
type Config struct {
	BaseURL     string
	ReadTimeout time.Duration
	MaxRetries  int
}

// Client talks to the embedding server. Safe for concurrent use.
type Client struct {
	config Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates an embedding client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrEmbeddingFailed)
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.ReadTimeout},
		logger: logger,
	}, nil
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
}

// Embed produces one vector per input text using the given model. Transient
// failures are retried with full-jitter backoff so a restarted backend is
// not hammered in lockstep.
func (c *Client) Embed(ctx context.Context, texts []string, model Model) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	body, err := json.Marshal(embedRequest{Texts: texts, Model: string(model)})
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}

	var resp *embedResponse
	backoffCap := time.Second
	for attempt := 0; ; attempt++ {
		resp, err = c.postEmbed(ctx, body)
		if err == nil {
			break
		}
		if attempt >= c.config.MaxRetries {
			return nil, fmt.Errorf("%w after %d retries: %v", ErrEmbeddingFailed, c.config.MaxRetries, err)
		}
		// Full jitter: sleep uniform in [0, cap), doubling the cap.
		delay := time.Duration(rand.Int63n(int64(backoffCap)))
		backoffCap *= 2
		c.logger.Warn("embed attempt failed, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, ctx.Err())
		case <-time.After(delay):
		}
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts",
			ErrEmbeddingFailed, len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string, model Model) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimensions probes the server for its advertised vector width. Callers
// compare it with the configured dimension at startup; a mismatch is fatal.
func (c *Client) Dimensions(ctx context.Context) (int, error) {
	body, err := json.Marshal(embedRequest{Texts: []string{"dimension probe"}, Model: string(ModelProse)})
	if err != nil {
		return 0, fmt.Errorf("encoding probe request: %w", err)
	}
	resp, err := c.postEmbed(ctx, body)
	if err != nil {
		return 0, fmt.Errorf("probing dimensions: %w", err)
	}
	if resp.Dimensions > 0 {
		return resp.Dimensions, nil
	}
	if len(resp.Embeddings) > 0 {
		return len(resp.Embeddings[0]), nil
	}
	return 0, ErrDimensionUnknown
}

// Health checks the /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnhealthy, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrServerUnhealthy, resp.StatusCode)
	}
	return nil
}

func (c *Client) postEmbed(ctx context.Context, body []byte) (*embedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed returned status %d: %s", resp.StatusCode, payload)
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	return &decoded, nil
}
