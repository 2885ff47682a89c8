// Mempurge removes old memories by age.
//
// Dry-run is the default: the matching item ids are printed and nothing is
// deleted until --confirm is given. Every run, dry or not, is written to the
// audit log before the store is touched.
//
// Usage:
//
//	# Preview what a 6-month purge would remove
//	mempurge --duration 6m
//
//	# Actually remove discussions older than 90 days for one project
//	mempurge --duration 90d --collection discussions --group my-project --confirm
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/memoryd/internal/audit"
	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

var version = "dev"

var (
	flagDuration   string
	flagCollection string
	flagGroup      string
	flagConfirm    bool
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mempurge",
	Short: "Remove memories older than a retention window",
	Long: `mempurge deletes items whose timestamp falls outside the retention
window. Durations take a unit suffix: d (days), w (weeks), m (months),
y (years).

Without --confirm the run is a dry run that only lists matching ids.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runPurge,
}

func init() {
	rootCmd.Flags().StringVar(&flagDuration, "duration", "", "retention window, e.g. 90d, 12w, 6m, 1y (required)")
	rootCmd.Flags().StringVar(&flagCollection, "collection", "", "restrict to one collection (default: all)")
	rootCmd.Flags().StringVar(&flagGroup, "group", "", "restrict to one project group id")
	rootCmd.Flags().BoolVar(&flagConfirm, "confirm", false, "actually delete; default is dry run")
	_ = rootCmd.MarkFlagRequired("duration")
}

func runPurge(cmd *cobra.Command, args []string) error {
	window, err := parseRetention(flagDuration)
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-window)

	cfg, err := config.Load(os.Getenv("MEMORYD_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: "console"})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	collections := memory.Collections()
	if flagCollection != "" {
		c := memory.Collection(flagCollection)
		if !containsCollection(collections, c) {
			return fmt.Errorf("unknown collection %q", flagCollection)
		}
		collections = []memory.Collection{c}
	}

	auditLog, err := audit.New(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	if err := auditLog.Record(audit.Entry{
		Action: "purge",
		DryRun: !flagConfirm,
		Details: map[string]any{
			"duration":    flagDuration,
			"cutoff":      cutoff.Format(time.RFC3339),
			"collections": collectionNames(collections),
			"group_id":    flagGroup,
		},
	}); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}

	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:       cfg.VectorDB.Host,
		Port:       cfg.VectorDB.Port,
		UseTLS:     cfg.VectorDB.UseHTTPS,
		APIKey:     cfg.VectorDB.APIKey.Value(),
		VectorSize: uint64(cfg.VectorDB.EmbeddingDim),
	})
	if err != nil {
		return fmt.Errorf("connecting to vector store: %w", err)
	}
	defer store.Close()

	// Purge never embeds, so no embedding client is wired.
	st := storage.New(store, nil, storage.Options{VectorSize: cfg.VectorDB.EmbeddingDim}, logger)

	ctx := cmd.Context()
	total := 0
	for _, collection := range collections {
		result, err := st.Purge(ctx, string(collection), flagGroup, cutoff, !flagConfirm)
		if err != nil {
			return fmt.Errorf("purging %s: %w", collection, err)
		}
		total += len(result.IDs)
		fmt.Printf("%s: %d item(s)\n", collection, len(result.IDs))
		for _, id := range result.IDs {
			fmt.Printf("  %s\n", id)
		}
	}

	if flagConfirm {
		fmt.Printf("deleted %d item(s) older than %s\n", total, cutoff.Format(time.RFC3339))
	} else {
		fmt.Printf("dry run: %d item(s) would be deleted; re-run with --confirm\n", total)
	}
	return nil
}

// parseRetention converts "90d", "12w", "6m", "1y" into a duration. Months
// and years use calendar-ish fixed lengths; purge cutoffs do not need
// calendar precision.
func parseRetention(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration %q: want <number><d|w|m|y>", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid duration %q: want <number><d|w|m|y>", s)
	}
	day := 24 * time.Hour
	switch s[len(s)-1] {
	case 'd':
		return time.Duration(n) * day, nil
	case 'w':
		return time.Duration(n) * 7 * day, nil
	case 'm':
		return time.Duration(n) * 30 * day, nil
	case 'y':
		return time.Duration(n) * 365 * day, nil
	default:
		return 0, fmt.Errorf("invalid duration unit %q: want d, w, m or y", s[len(s)-1:])
	}
}

func containsCollection(cs []memory.Collection, want memory.Collection) bool {
	for _, c := range cs {
		if c == want {
			return true
		}
	}
	return false
}

func collectionNames(cs []memory.Collection) string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}
