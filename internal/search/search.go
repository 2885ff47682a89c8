// Package search implements the dual-collection retrieval with confidence
// gating. It is read-only: results reflect whatever is committed in the
// vector DB at query time.
package search

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/storage"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

var tracer = otel.Tracer("memoryd.search")

// Thresholds hold the confidence gate parameters.
type Thresholds struct {
	// HardFloor drops any result below it regardless of collection.
	HardFloor float64
	// Per-collection minimums. Results below their collection threshold
	// survive the hard floor but are marked as not passing, so the budget
	// formula can count them while the selector skips them.
	Conventions  float64
	CodePatterns float64
	Discussions  float64
}

// DefaultThresholds are the shipped gate values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HardFloor:    0.45,
		Conventions:  0.65,
		CodePatterns: 0.55,
		Discussions:  0.60,
	}
}

func (t Thresholds) forCollection(c memory.Collection) float64 {
	switch c {
	case memory.CollectionConventions:
		return t.Conventions
	case memory.CollectionCodePatterns:
		return t.CodePatterns
	default:
		return t.Discussions
	}
}

// Result is one scored retrieval hit with collection attribution.
type Result struct {
	Item       *memory.Item
	Score      float64
	Collection memory.Collection
	// Passed is true when the score clears the collection threshold.
	Passed bool
}

// Embedder is the slice of the embedding client search needs.
type Embedder interface {
	EmbedOne(ctx context.Context, text string, model embeddings.Model) ([]float32, error)
}

// Searcher runs the concurrent three-collection search.
type Searcher struct {
	store      vectorstore.Store
	embedder   Embedder
	thresholds Thresholds
	limit      int
	logger     *zap.Logger
}

// New creates a Searcher. limit caps results per collection.
func New(store vectorstore.Store, embedder Embedder, thresholds Thresholds, limit int, logger *zap.Logger) *Searcher {
	if limit <= 0 {
		limit = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{store: store, embedder: embedder, thresholds: thresholds, limit: limit, logger: logger}
}

// Search embeds the query once and fans out to the three collections
// concurrently. conventions is searched without the tenant filter; the other
// two are scoped to groupID. Returned results survived the hard floor and
// are sorted by score descending.
func (s *Searcher) Search(ctx context.Context, groupID, query string) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "Searcher.Search")
	defer span.End()
	span.SetAttributes(attribute.String("group_id", groupID))

	proseVector, err := s.embedder.EmbedOne(ctx, query, embeddings.ModelProse)
	if err != nil {
		return nil, err
	}

	// Code-shaped queries get a code-model embedding for the code
	// collection; otherwise the prose vector is reused there too.
	codeVector := proseVector
	if LooksCodeShaped(query) {
		if v, err := s.embedder.EmbedOne(ctx, query, embeddings.ModelCode); err == nil {
			codeVector = v
		} else {
			s.logger.Warn("code-model embed failed, reusing prose vector", zap.Error(err))
		}
	}

	var (
		mu      sync.Mutex
		results []Result
	)
	group, ctx := errgroup.WithContext(ctx)
	for _, collection := range memory.Collections() {
		vector := proseVector
		if collection.UsesCodeModel() {
			vector = codeVector
		}
		var filter *vectorstore.Filter
		if !collection.SharedAcrossTenants() {
			filter = vectorstore.Match("group_id", groupID)
		}
		group.Go(func() error {
			hits, err := s.store.Query(ctx, string(collection), vector, filter, s.limit)
			if err != nil {
				return err
			}
			collected := s.gate(collection, hits)
			mu.Lock()
			results = append(results, collected...)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// gate applies the hard floor and tags collection-threshold passage.
func (s *Searcher) gate(collection memory.Collection, hits []vectorstore.ScoredPoint) []Result {
	threshold := s.thresholds.forCollection(collection)
	var out []Result
	for _, hit := range hits {
		score := float64(hit.Score)
		if score < s.thresholds.HardFloor {
			continue
		}
		item := storage.ItemFromPayload(hit.ID, string(collection), hit.Payload)
		out = append(out, Result{
			Item:       item,
			Score:      score,
			Collection: collection,
			Passed:     score >= threshold,
		})
	}
	return out
}

// TopScore returns the highest score in results, or 0 when empty.
func TopScore(results []Result) float64 {
	top := 0.0
	for _, r := range results {
		if r.Score > top {
			top = r.Score
		}
	}
	return top
}

// Recent scrolls the most recent tenant items of the given types, newest
// first, capped at limit. Used by the bootstrap tier, which wants recency
// rather than similarity.
func (s *Searcher) Recent(ctx context.Context, collection memory.Collection, groupID string, types []memory.Type, limit int) ([]*memory.Item, error) {
	filter := vectorstore.Match("group_id", groupID)
	if len(types) == 1 {
		filter.And("type", string(types[0]))
	} else if len(types) > 1 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		filter.And("type", names)
	}

	var items []*memory.Item
	offset := ""
	for {
		points, next, err := s.store.Scroll(ctx, string(collection), filter, 100, offset)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			items = append(items, storage.ItemFromPayload(p.ID, string(collection), p.Payload))
		}
		if next == "" {
			break
		}
		offset = next
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Timestamp.After(items[j].Timestamp) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// bootstrapTypes are the discussion classes surfaced at session start: the
// latest handoff and session summaries plus recent decisions and open
// blockers.
var bootstrapTypes = []memory.Type{
	memory.TypeAgentHandoff,
	memory.TypeSession,
	memory.TypeDecision,
	memory.TypeBlocker,
}

// Bootstrap gathers the session-start items: shared conventions plus the
// tenant's recent handoffs, session summaries, decisions, and blockers.
func (s *Searcher) Bootstrap(ctx context.Context, groupID string) ([]*memory.Item, error) {
	conventions, err := s.Recent(ctx, memory.CollectionConventions, groupID, nil, 10)
	if err != nil {
		return nil, err
	}
	discussions, err := s.Recent(ctx, memory.CollectionDiscussions, groupID, bootstrapTypes, 10)
	if err != nil {
		return nil, err
	}
	return append(conventions, discussions...), nil
}
