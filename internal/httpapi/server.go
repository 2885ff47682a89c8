// Package httpapi provides the daemon's HTTP surface: health, metrics, and
// the fast-path search and capture endpoints used by local tooling.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/capture"
	"github.com/fyrsmithlabs/memoryd/internal/injection"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
	"github.com/fyrsmithlabs/memoryd/internal/search"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
)

// Config holds server configuration.
type Config struct {
	Host string
	Port int
}

// Server wires the echo instance to the retrieval and capture pipelines.
type Server struct {
	echo     *echo.Echo
	searcher *search.Searcher
	builder  *injection.Builder
	pipeline *capture.Pipeline
	logger   *zap.Logger
	config   Config
}

// NewServer creates the HTTP server.
func NewServer(searcher *search.Searcher, builder *injection.Builder, pipeline *capture.Pipeline, logger *zap.Logger, cfg Config) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 9632
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		searcher: searcher,
		builder:  builder,
		pipeline: pipeline,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/search", s.handleSearch)
	v1.POST("/capture", s.handleCapture)
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("http server starting", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	CWD    string `json:"cwd"`
	Query  string `json:"query"`
	Prompt string `json:"prompt,omitempty"`
}

// SearchResult is one hit in the response.
type SearchResult struct {
	ID         string  `json:"id"`
	Collection string  `json:"collection"`
	Type       string  `json:"type"`
	Score      float64 `json:"score"`
	Content    string  `json:"content"`
	SourceHook string  `json:"source_hook"`
}

// SearchResponse is the body of the search response.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Context string         `json:"context,omitempty"`
	Skipped bool           `json:"skipped"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CWD == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "cwd field is required")
	}
	query := req.Query
	if query == "" {
		query = search.ComposeQuery(search.QueryContext{CWD: req.CWD, Prompt: req.Prompt})
	}
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query or prompt required")
	}

	groupID, err := tenant.GroupIDFromPath(req.CWD)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cwd")
	}

	start := time.Now()
	results, err := s.searcher.Search(c.Request().Context(), groupID, query)
	if err != nil {
		s.logger.Warn("search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "search backend unavailable")
	}
	metrics.RetrievalLatency.Observe(time.Since(start).Seconds())

	block, skipped := s.builder.BuildTurnContext(results)
	resp := SearchResponse{Skipped: skipped, Context: block}
	for _, r := range results {
		resp.Results = append(resp.Results, SearchResult{
			ID:         r.Item.ID,
			Collection: string(r.Collection),
			Type:       string(r.Item.Type),
			Score:      r.Score,
			Content:    r.Item.Content,
			SourceHook: r.Item.SourceHook,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// CaptureResponse is the body of the capture response.
type CaptureResponse struct {
	Accepted bool `json:"accepted"`
}

// handleCapture accepts a raw hook event and runs the capture pipeline
// inline. This is the supplementary fast path for local tooling; hook
// binaries use the detached-worker path instead.
func (s *Server) handleCapture(c echo.Context) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, 4*1024*1024))
	if err != nil {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "event too large")
	}

	ev, err := capture.ParseEvent(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed event")
	}
	if err := s.pipeline.Process(c.Request().Context(), ev); err != nil {
		s.logger.Warn("capture failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "event rejected")
	}
	return c.JSON(http.StatusAccepted, CaptureResponse{Accepted: true})
}
