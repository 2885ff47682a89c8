// Memstatus prints a one-screen health summary of the memory subsystem:
// vector store reachability, embedding server health, pending queue depth,
// and sync recency.
//
// Exit code is 0 when every probe passes, 1 otherwise, so it doubles as a
// scriptable check.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/gitsync"
	"github.com/fyrsmithlabs/memoryd/internal/queue"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"go.uber.org/zap"
)

var version = "dev"

const probeTimeout = 5 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("memstatus %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(os.Getenv("MEMORYD_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "memstatus: config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	healthy := true
	healthy = probeVectorStore(ctx, cfg) && healthy
	healthy = probeEmbedder(ctx, cfg) && healthy
	healthy = probeQueue(cfg) && healthy
	probeSync(cfg)

	if !healthy {
		os.Exit(1)
	}
}

func probeVectorStore(ctx context.Context, cfg *config.Config) bool {
	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:       cfg.VectorDB.Host,
		Port:       cfg.VectorDB.Port,
		UseTLS:     cfg.VectorDB.UseHTTPS,
		APIKey:     cfg.VectorDB.APIKey.Value(),
		VectorSize: uint64(cfg.VectorDB.EmbeddingDim),
	})
	if err != nil {
		fmt.Printf("vector store  DOWN  %v\n", err)
		return false
	}
	defer store.Close()

	if err := store.Health(ctx); err != nil {
		fmt.Printf("vector store  DOWN  %v\n", err)
		return false
	}
	fmt.Printf("vector store  ok    %s:%d\n", cfg.VectorDB.Host, cfg.VectorDB.Port)
	return true
}

func probeEmbedder(ctx context.Context, cfg *config.Config) bool {
	client, err := embeddings.NewClient(embeddings.Config{
		BaseURL:     cfg.Embedder.BaseURL(),
		ReadTimeout: cfg.Embedder.EffectiveReadTimeout(),
		MaxRetries:  1,
	}, zap.NewNop())
	if err != nil {
		fmt.Printf("embedder      DOWN  %v\n", err)
		return false
	}
	if err := client.Health(ctx); err != nil {
		fmt.Printf("embedder      DOWN  %v\n", err)
		return false
	}

	if dim, err := client.Dimensions(ctx); err == nil && dim != cfg.VectorDB.EmbeddingDim {
		fmt.Printf("embedder      WARN  dimension %d does not match configured %d\n",
			dim, cfg.VectorDB.EmbeddingDim)
		return false
	}
	fmt.Printf("embedder      ok    %s\n", cfg.Embedder.BaseURL())
	return true
}

func probeQueue(cfg *config.Config) bool {
	q, err := queue.New(queue.Options{
		Path:        filepath.Join(cfg.StateDir, "pending.ndjson"),
		LockTimeout: cfg.Queue.LockTimeout.Duration(),
	}, zap.NewNop())
	if err != nil {
		fmt.Printf("queue         DOWN  %v\n", err)
		return false
	}
	depth, err := q.Depth()
	if err != nil {
		fmt.Printf("queue         DOWN  %v\n", err)
		return false
	}
	fmt.Printf("queue         ok    %d pending\n", depth)
	return true
}

// probeSync is informational only: an idle or unconfigured sync engine is
// not unhealthy.
func probeSync(cfg *config.Config) {
	states, err := gitsync.NewStateStore(cfg.StateDir, "github")
	if err != nil {
		fmt.Printf("sync          --    %v\n", err)
		return
	}
	info, err := os.Stat(states.BeaconPath())
	if err != nil {
		fmt.Printf("sync          --    never ran\n")
		return
	}
	fmt.Printf("sync          ok    last cycle %s ago\n",
		time.Since(info.ModTime()).Round(time.Second))
}
