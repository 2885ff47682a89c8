// Memhook is the host-facing hook binary. The host invokes it on every
// lifecycle event with one JSON event on stdin.
//
// Retrieval events (SessionStart, PreCompact, UserPromptSubmit) print a
// context block to stdout; everything else on stdout is noise to the host,
// so logs go to stderr. Capture events are validated and posted to the
// running daemon; if the daemon is down they are spooled to disk and handed
// to a detached copy of this binary (--worker) so the foreground returns
// within the host's hook deadline either way.
//
// Memhook always exits 0. A memory subsystem failure must never break the
// developer's session; the worst case is a missing context block or a
// dropped capture.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/capture"
	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/injection"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/search"
	"github.com/fyrsmithlabs/memoryd/internal/services"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

const (
	// maxEventSize bounds the stdin read. Transcript content arrives by
	// path, not inline, so real events are small.
	maxEventSize = 4 * 1024 * 1024

	// retrievalTimeout bounds the foreground retrieval path. The host
	// blocks on this and session-start must answer within 3 s; a slow
	// backend degrades to no context.
	retrievalTimeout = 2500 * time.Millisecond

	// workerTimeout bounds the detached capture worker, which nothing
	// waits on.
	workerTimeout = 60 * time.Second

	// daemonTimeout bounds the fast-path POST to a running daemon.
	daemonTimeout = 500 * time.Millisecond
)

func main() {
	workerPath := flag.String("worker", "", "process a spooled capture request (internal)")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("MEMORYD_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "memhook: config: %v\n", err)
		os.Exit(0)
	}
	logger := logging.NewHookLogger(cfg.Capture.HookLogLevel)
	defer func() {
		_ = logger.Sync()
	}()

	if *workerPath != "" {
		runWorker(cfg, logger, *workerPath)
		os.Exit(0)
	}

	runForeground(cfg, logger)
	os.Exit(0)
}

// runForeground handles one event from stdin: retrieval inline, capture via
// the daemon fast path or a detached worker.
func runForeground(cfg *config.Config, logger *zap.Logger) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxEventSize))
	if err != nil {
		logger.Warn("reading stdin failed", zap.Error(err))
		return
	}
	ev, err := capture.ParseEvent(data)
	if err != nil {
		logger.Warn("event dropped", zap.Error(err))
		return
	}
	if err := ev.Validate(); err != nil {
		logger.Warn("event dropped",
			zap.String("event", ev.HookEventName), zap.Error(err))
		return
	}

	switch ev.Kind() {
	case capture.EventSessionStart, capture.EventPreCompact:
		emitBootstrap(cfg, logger, ev)
	case capture.EventUserPromptSubmit:
		// Capture and retrieval both fire on a prompt: the prompt goes to
		// the capture path, the context block is printed inline.
		dispatchCapture(cfg, logger, ev, data)
		emitTurnContext(cfg, logger, ev)
	default:
		dispatchCapture(cfg, logger, ev, data)
	}
}

// dispatchCapture prefers the running daemon, which already holds warm
// connections. Only when the daemon is down does the hook pay for a
// detached worker of its own.
func dispatchCapture(cfg *config.Config, logger *zap.Logger, ev *capture.Event, raw []byte) {
	if postToDaemon(cfg, raw) {
		logger.Debug("capture handed to daemon", zap.String("event", ev.HookEventName))
		return
	}
	spoolAndDetach(cfg, logger, ev)
}

func postToDaemon(cfg *config.Config, raw []byte) bool {
	client := &http.Client{Timeout: daemonTimeout}
	url := fmt.Sprintf("http://%s:%d/api/v1/capture", cfg.Server.Host, cfg.Server.Port)
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusAccepted
}

// spoolAndDetach persists the event and hands it to a detached worker.
func spoolAndDetach(cfg *config.Config, logger *zap.Logger, ev *capture.Event) {
	dir := filepath.Join(cfg.StateDir, "spool")
	path, err := capture.Spool(dir, ev)
	if err != nil {
		logger.Warn("spooling failed", zap.Error(err))
		return
	}
	if err := capture.Detach("--worker", path); err != nil {
		logger.Warn("detaching worker failed", zap.Error(err))
	}
}

// runWorker processes one spooled capture request with the full pipeline.
func runWorker(cfg *config.Config, logger *zap.Logger, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), workerTimeout)
	defer cancel()

	req, err := capture.LoadSpool(path)
	if err != nil {
		logger.Warn("loading spool failed", zap.String("path", path), zap.Error(err))
		return
	}

	reg, closeServices, err := services.Build(ctx, cfg, logger)
	if err != nil {
		logger.Warn("service init failed", zap.Error(err))
		return
	}
	defer closeServices()

	if err := reg.Capture().Process(ctx, req.Event); err != nil {
		logger.Warn("capture failed",
			zap.String("event", req.Event.HookEventName), zap.Error(err))
	}
}

// readPath is the minimal retrieval stack. Hooks skip the full service
// graph: no schema check, no queue, no scanner.
type readPath struct {
	store    *vectorstore.QdrantStore
	searcher *search.Searcher
	builder  *injection.Builder
}

func (r *readPath) close() { _ = r.store.Close() }

func buildReadPath(cfg *config.Config, logger *zap.Logger) (*readPath, error) {
	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:       cfg.VectorDB.Host,
		Port:       cfg.VectorDB.Port,
		UseTLS:     cfg.VectorDB.UseHTTPS,
		APIKey:     cfg.VectorDB.APIKey.Value(),
		VectorSize: uint64(cfg.VectorDB.EmbeddingDim),
	})
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewClient(embeddings.Config{
		BaseURL:     cfg.Embedder.BaseURL(),
		ReadTimeout: cfg.Embedder.EffectiveReadTimeout(),
		MaxRetries:  cfg.Embedder.MaxRetries,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	searcher := search.New(store, embedder, search.Thresholds{
		HardFloor:    cfg.Budgets.HardFloorThreshold,
		Conventions:  cfg.Budgets.ConventionsThreshold,
		CodePatterns: cfg.Budgets.CodePatternsThreshold,
		Discussions:  cfg.Budgets.DiscussionsThreshold,
	}, cfg.Capture.MaxRetrievals, logger)
	builder := injection.New(injection.Budget{
		BootstrapTokens:   cfg.Budgets.BootstrapTokenBudget,
		Floor:             cfg.Budgets.PerTurnBudgetFloor,
		Ceiling:           cfg.Budgets.PerTurnBudgetCeiling,
		Tier2Gate:         cfg.Budgets.ConfidenceThresholdTier2,
		PerEntryMaxTokens: cfg.Budgets.PerEntryMaxTokens,
	}, logger)
	return &readPath{store: store, searcher: searcher, builder: builder}, nil
}

// emitBootstrap prints the session-start context block: recent conventions
// plus the tenant's recent handoffs, sessions, decisions, and blockers. Any
// failure prints nothing, but the completion record still reaches stderr so
// a silent session start can be told apart from a crashed hook.
func emitBootstrap(cfg *config.Config, logger *zap.Logger, ev *capture.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), retrievalTimeout)
	defer cancel()

	rp, err := buildReadPath(cfg, logger)
	if err != nil {
		logger.Warn("bootstrap unavailable", zap.Error(err))
		logger.Info("session_retrieval_completed", zap.Int("results_count", 0))
		return
	}
	defer rp.close()

	groupID, err := tenant.GroupIDFromPath(ev.CWD)
	if err != nil {
		logger.Warn("bootstrap unavailable", zap.Error(err))
		logger.Info("session_retrieval_completed", zap.Int("results_count", 0))
		return
	}

	items, err := rp.searcher.Bootstrap(ctx, groupID)
	if err != nil {
		logger.Warn("bootstrap fetch failed", zap.Error(err))
	}

	// BuildBootstrap logs session_retrieval_completed, zero items included.
	block := rp.builder.BuildBootstrap(items)
	if block != "" {
		fmt.Print(block)
	}
}

// emitTurnContext prints the per-turn context block for a prompt. The
// confidence gate may legitimately print nothing.
func emitTurnContext(cfg *config.Config, logger *zap.Logger, ev *capture.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), retrievalTimeout)
	defer cancel()

	rp, err := buildReadPath(cfg, logger)
	if err != nil {
		logger.Warn("retrieval unavailable", zap.Error(err))
		return
	}
	defer rp.close()

	groupID, err := tenant.GroupIDFromPath(ev.CWD)
	if err != nil {
		logger.Warn("retrieval unavailable", zap.Error(err))
		return
	}

	query := search.ComposeQuery(search.QueryContext{CWD: ev.CWD, Prompt: ev.PromptText()})
	results, err := rp.searcher.Search(ctx, groupID, query)
	if err != nil {
		logger.Warn("retrieval failed", zap.Error(err))
		return
	}

	block, _ := rp.builder.BuildTurnContext(results)
	if block != "" {
		fmt.Print(block)
	}
}
