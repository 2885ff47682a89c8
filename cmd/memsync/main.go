// Memsync runs the GitHub sync engine on demand.
//
// The daemon syncs on its own interval; memsync exists for manual full
// pulls, code-only refreshes, and state inspection.
//
// Usage:
//
//	# Incremental sync (default)
//	memsync
//
//	# Full re-pull with reconciliation
//	memsync --full
//
//	# Only re-index code blobs
//	memsync --code-only
//
//	# Show last sync state
//	memsync --status
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/gitsync"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/services"
)

var version = "dev"

var (
	flagFull        bool
	flagCodeOnly    bool
	flagNoCodeBlobs bool
	flagStatus      bool
)

func main() {
	// RunCycle honors its context; give manual runs a generous ceiling.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memsync",
	Short: "Run a GitHub sync cycle against the memory store",
	Long: `memsync pulls issues, pull requests, commits, workflow runs and code
blobs from the configured GitHub repository into the memory collections.

Incremental cycles pull only items modified since the last sync. Full cycles
re-pull everything and reconcile deletions; dedup keeps them idempotent.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runSync,
}

func init() {
	rootCmd.Flags().BoolVar(&flagFull, "full", false, "re-pull everything and reconcile deletions")
	rootCmd.Flags().BoolVar(&flagCodeOnly, "code-only", false, "sync only code blobs")
	rootCmd.Flags().BoolVar(&flagNoCodeBlobs, "no-code-blobs", false, "skip code blob indexing")
	rootCmd.Flags().BoolVar(&flagStatus, "status", false, "print sync state and exit")
	rootCmd.MarkFlagsMutuallyExclusive("code-only", "no-code-blobs")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(os.Getenv("MEMORYD_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if flagStatus {
		return printStatus(cfg)
	}

	if !services.SyncConfigured(cfg) {
		return fmt.Errorf("sync not configured: set SYNC_GITHUB_TOKEN, SYNC_GITHUB_OWNER and SYNC_GITHUB_REPO")
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: "console"})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	var kinds []gitsync.Kind
	switch {
	case flagCodeOnly:
		kinds = []gitsync.Kind{gitsync.KindCodeBlobs}
		cfg.Sync.CodeBlobEnabled = true
	case flagNoCodeBlobs:
		cfg.Sync.CodeBlobEnabled = false
	}

	ctx := cmd.Context()
	reg, closeServices, err := services.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}
	defer closeServices()

	engine, err := services.BuildSync(ctx, cfg, reg, kinds, logger)
	if err != nil {
		return err
	}

	report, err := engine.RunCycle(ctx, flagFull)
	if err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}

	fmt.Printf("status:     %s\n", report.Status)
	fmt.Printf("synced:     %d\n", report.Synced)
	fmt.Printf("duplicates: %d\n", report.Duplicates)
	fmt.Printf("errors:     %d\n", report.Errors)
	fmt.Printf("duration:   %s\n", report.Duration.Round(time.Millisecond))
	for _, kind := range gitsync.Kinds() {
		if n, ok := report.PerKind[kind]; ok {
			fmt.Printf("  %-12s %d\n", kind, n)
		}
	}

	if report.Status == gitsync.CycleBreakerOpen {
		return fmt.Errorf("circuit breaker opened; backend unhealthy")
	}
	return nil
}

// printStatus reads sync state without touching GitHub or the backend.
func printStatus(cfg *config.Config) error {
	states, err := gitsync.NewStateStore(cfg.StateDir, "github")
	if err != nil {
		return fmt.Errorf("opening sync state: %w", err)
	}
	state, err := states.Load()
	if err != nil {
		return fmt.Errorf("loading sync state: %w", err)
	}

	if len(state.LastSynced) == 0 {
		fmt.Println("no sync has run yet")
	}
	for _, kind := range gitsync.Kinds() {
		when, ok := state.LastSynced[kind]
		if !ok {
			continue
		}
		fmt.Printf("%-12s last %s  items %d\n",
			kind, when.Format(time.RFC3339), state.LastCount[kind])
	}

	if info, err := os.Stat(states.BeaconPath()); err == nil {
		fmt.Printf("beacon       %s (%s ago)\n",
			info.ModTime().Format(time.RFC3339),
			time.Since(info.ModTime()).Round(time.Second))
	} else {
		fmt.Println("beacon       absent")
	}
	return nil
}
