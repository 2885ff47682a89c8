package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/capture"
	"github.com/fyrsmithlabs/memoryd/internal/chunking"
	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/gitsync"
	"github.com/fyrsmithlabs/memoryd/internal/injection"
	"github.com/fyrsmithlabs/memoryd/internal/queue"
	"github.com/fyrsmithlabs/memoryd/internal/search"
	"github.com/fyrsmithlabs/memoryd/internal/security"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// Build constructs the full service graph from config: vector store with
// verified schema, embedding client with a dimension check, storage, scanner,
// search, injection, pending queue and capture pipeline. The sync engine is
// built only when a GitHub upstream is configured; it stays nil otherwise.
//
// The returned closer releases the vector store connection.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Registry, func(), error) {
	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:       cfg.VectorDB.Host,
		Port:       cfg.VectorDB.Port,
		UseTLS:     cfg.VectorDB.UseHTTPS,
		APIKey:     cfg.VectorDB.APIKey.Value(),
		VectorSize: uint64(cfg.VectorDB.EmbeddingDim),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to vector store: %w", err)
	}
	closer := func() { _ = store.Close() }

	if err := store.EnsureSchema(ctx); err != nil {
		closer()
		return nil, nil, fmt.Errorf("ensuring collections: %w", err)
	}

	embedder, err := embeddings.NewClient(embeddings.Config{
		BaseURL:     cfg.Embedder.BaseURL(),
		ReadTimeout: cfg.Embedder.EffectiveReadTimeout(),
		MaxRetries:  cfg.Embedder.MaxRetries,
	}, logger)
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("creating embedding client: %w", err)
	}

	// A dimension mismatch corrupts every collection, so it is fatal. An
	// unreachable embedder is not: items store with zero vectors until it
	// comes back.
	if dim, err := embedder.Dimensions(ctx); err != nil {
		logger.Warn("embedding dimension probe failed", zap.Error(err))
	} else if dim != cfg.VectorDB.EmbeddingDim {
		closer()
		return nil, nil, fmt.Errorf("embedding dimension mismatch: server advertises %d, collections use %d", dim, cfg.VectorDB.EmbeddingDim)
	}

	st := storage.New(store, embedder, storage.Options{
		DedupThreshold:            cfg.Capture.DedupThreshold,
		UserMessageDedupThreshold: cfg.Capture.UserMessageDedupThreshold,
		VectorSize:                cfg.VectorDB.EmbeddingDim,
	}, logger)

	scanner, err := security.NewScanner()
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("creating scanner: %w", err)
	}

	chunker := chunking.New(cfg.Chunker)

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

	q, err := queue.New(queue.Options{
		Path:           filepath.Join(cfg.StateDir, "pending.ndjson"),
		LockTimeout:    cfg.Queue.LockTimeout.Duration(),
		DrainBatchSize: cfg.Queue.DrainBatchSize,
		MaxRetries:     cfg.Queue.MaxRetries,
	}, logger)
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("creating pending queue: %w", err)
	}

	pipeline := capture.New(st, q, scanner, chunker, logger)

	opts := Options{
		VectorStore: store,
		Embedder:    embedder,
		Storage:     st,
		Scanner:     scanner,
		Chunker:     chunker,
		Searcher:    searcher,
		Injection:   builder,
		Capture:     pipeline,
		Queue:       q,
	}

	if SyncConfigured(cfg) {
		engine, err := BuildSync(ctx, cfg, NewRegistry(opts), nil, logger)
		if err != nil {
			closer()
			return nil, nil, err
		}
		opts.Sync = engine
	}
	return NewRegistry(opts), closer, nil
}

// SyncConfigured reports whether a GitHub upstream is fully specified.
func SyncConfigured(cfg *config.Config) bool {
	return cfg.Sync.GitHubToken.IsSet() && cfg.Sync.GitHubOwner != "" && cfg.Sync.GitHubRepo != ""
}

// BuildSync constructs the sync engine against an already-built registry.
// kinds restricts cycles to the named kinds; nil means all.
func BuildSync(ctx context.Context, cfg *config.Config, reg Registry, kinds []gitsync.Kind, logger *zap.Logger) (*gitsync.Engine, error) {
	upstream, err := gitsync.NewGitHubUpstream(ctx, cfg.Sync.GitHubToken, cfg.Sync.GitHubOwner, cfg.Sync.GitHubRepo)
	if err != nil {
		return nil, fmt.Errorf("creating github upstream: %w", err)
	}
	states, err := gitsync.NewStateStore(cfg.StateDir, "github")
	if err != nil {
		return nil, fmt.Errorf("creating sync state store: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}
	groupID, err := tenant.GroupIDFromPath(cwd)
	if err != nil {
		return nil, fmt.Errorf("deriving group id: %w", err)
	}

	return gitsync.New(upstream, reg.Storage(), reg.VectorStore(), states, reg.Scanner(), reg.Chunker(), gitsync.Options{
		GroupID:          groupID,
		Interval:         cfg.Sync.Interval.Duration(),
		TotalTimeout:     cfg.Sync.TotalTimeout.Duration(),
		PerItemTimeout:   cfg.Sync.PerItemTimeout.Duration(),
		BreakerThreshold: cfg.Sync.CircuitBreakerThreshold,
		CodeBlobEnabled:  cfg.Sync.CodeBlobEnabled,
		CodeBlobMaxSize:  cfg.Sync.CodeBlobMaxSize,
		CodeBlobExclude:  cfg.Sync.CodeBlobExclude,
		Kinds:            kinds,
	}, logger), nil
}
