// Memoryd is the per-developer memory daemon for agentic coding sessions.
//
// The daemon serves the fast-path search and capture HTTP endpoints, drains
// the pending queue in the background, and runs the GitHub sync engine when
// an upstream is configured.
//
// Configuration is environment-first (VECTORDB_HOST, SYNC_GITHUB_TOKEN, ...);
// a .env file and an optional YAML file at $MEMORYD_CONFIG fill in the rest.
// See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	memoryd
//
//	# Configure via environment
//	SERVER_PORT=9700 VECTORDB_HOST=qdrant.local memoryd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/httpapi"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/queue"
	"github.com/fyrsmithlabs/memoryd/internal/services"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  memoryd           Start the memory daemon\n")
			fmt.Fprintf(os.Stderr, "  memoryd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("memoryd: %v", err)
	}
	log.Println("memoryd shutdown complete")
}

func printVersion() {
	fmt.Printf("memoryd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run initializes all services and blocks until ctx is canceled:
//
//  1. Loads and validates configuration
//  2. Initializes the structured logger
//  3. Builds the service graph (Qdrant, embedder, storage, queue, sync)
//  4. Starts the HTTP server, queue worker and sync loop
//  5. Performs graceful shutdown on context cancellation
func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("MEMORYD_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting memoryd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectordb", fmt.Sprintf("%s:%d", cfg.VectorDB.Host, cfg.VectorDB.Port)),
		zap.String("state_dir", cfg.StateDir))

	reg, closeServices, err := services.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}
	defer closeServices()

	srv, err := httpapi.NewServer(reg.Searcher(), reg.Injection(), reg.Capture(), logger,
		httpapi.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	worker := queue.NewWorker(reg.Queue(), func(ctx context.Context, item *memory.Item) error {
		_, err := reg.Storage().Save(ctx, item)
		return err
	}, time.Minute, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("queue worker: %w", err)
		}
		return nil
	})

	if engine := reg.Sync(); engine != nil && cfg.Sync.Enabled {
		logger.Info("sync engine enabled",
			zap.String("repo", cfg.Sync.GitHubOwner+"/"+cfg.Sync.GitHubRepo),
			zap.Duration("interval", cfg.Sync.Interval.Duration()))
		g.Go(func() error {
			if err := engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("sync engine: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}
