// Package storage persists memory items to the vector database and enforces
// the deduplication and freshness semantics. It is the sole writer of the
// vector DB; capture, sync, and the queue worker all go through here.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

var tracer = otel.Tracer("memoryd.storage")

// Status reports what Save did with an item.
type Status string

const (
	// StatusStored means a new point was inserted.
	StatusStored Status = "stored"
	// StatusDuplicate means an equivalent item already exists; nothing was
	// written.
	StatusDuplicate Status = "duplicate"
)

// SaveResult is the outcome of a Save call.
type SaveResult struct {
	Status Status `json:"status"`
	// ID is the stored item's id, or the existing item's id on duplicate.
	ID string `json:"id"`
	// DedupLayer names which check caught a duplicate: "hash" or "semantic".
	DedupLayer string `json:"dedup_layer,omitempty"`
	// EmbeddingStatus is "complete" normally, "failed" when the item was
	// stored with a zero vector after embedding retries were exhausted.
	EmbeddingStatus memory.EmbeddingStatus `json:"embedding_status,omitempty"`
}

// Embedder is the slice of the embedding client storage needs.
type Embedder interface {
	EmbedOne(ctx context.Context, text string, model embeddings.Model) ([]float32, error)
}

// Options tune the dedup checks.
type Options struct {
	// DedupThreshold is the cosine similarity above which a nearest
	// neighbour makes the new item a semantic duplicate.
	DedupThreshold float64
	// UserMessageDedupThreshold applies to user_message items, which repeat
	// legitimately more often.
	UserMessageDedupThreshold float64
	// VectorSize is the embedding dimension, needed for the zero-vector
	// fallback when embedding fails.
	VectorSize int
}

func (o *Options) applyDefaults() {
	if o.DedupThreshold == 0 {
		o.DedupThreshold = 0.92
	}
	if o.UserMessageDedupThreshold == 0 {
		o.UserMessageDedupThreshold = 0.95
	}
}

// Common errors.
var (
	ErrNilItem     = errors.New("nil item")
	ErrStoreFailed = errors.New("vector store write failed")
)

// Storage implements the upsert protocol.
type Storage struct {
	store    vectorstore.Store
	embedder Embedder
	opts     Options
	logger   *zap.Logger
}

// New creates a Storage.
func New(store vectorstore.Store, embedder Embedder, opts Options, logger *zap.Logger) *Storage {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{store: store, embedder: embedder, opts: opts, logger: logger}
}

// Save runs the upsert protocol for one item: content-hash lookup, embed,
// semantic dedup, insert. Idempotent per content hash; a crash between embed
// and insert re-embeds on retry, which is safe.
func (s *Storage) Save(ctx context.Context, item *memory.Item) (*SaveResult, error) {
	if item == nil {
		return nil, ErrNilItem
	}
	ctx, span := tracer.Start(ctx, "Storage.Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", string(item.Collection)),
		attribute.String("type", string(item.Type)),
	)

	if err := item.Validate(); err != nil {
		return nil, err
	}
	if item.ContentHash == "" {
		item.ContentHash = memory.HashContent(item.Content)
	}

	collection := string(item.Collection)

	// Layer 1: exact content-hash dedup within the tenant.
	existingID, err := s.findByHash(ctx, collection, item.GroupID, item.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("hash lookup: %w", err)
	}
	if existingID != "" {
		metrics.DedupHitsTotal.WithLabelValues("hash").Inc()
		s.logger.Debug("duplicate content hash",
			zap.String("collection", collection),
			zap.String("existing_id", existingID))
		return &SaveResult{Status: StatusDuplicate, ID: existingID, DedupLayer: "hash"}, nil
	}

	// Embed with the collection's model. Embedding failure does not lose
	// the item: it is stored with a zero vector and embedding_status=failed
	// so a later repair pass can re-embed it.
	model := embeddings.ModelProse
	if item.Collection.UsesCodeModel() {
		model = embeddings.ModelCode
	}
	vector, embedErr := s.embedder.EmbedOne(ctx, item.Content, model)
	if embedErr != nil {
		metrics.EmbeddingFailuresTotal.Inc()
		s.logger.Warn("embedding failed, storing zero vector",
			zap.String("collection", collection), zap.Error(embedErr))
		vector = make([]float32, s.opts.VectorSize)
		item.EmbeddingStatus = memory.EmbeddingFailed
	} else {
		item.EmbeddingStatus = memory.EmbeddingComplete
		item.EmbeddingModel = string(model)

		// Layer 2: semantic dedup against the nearest stored neighbour.
		dupID, err := s.findSemanticDuplicate(ctx, collection, item, vector)
		if err != nil {
			// Dedup is best-effort; a failed check must not drop the item.
			s.logger.Warn("semantic dedup check failed", zap.Error(err))
		} else if dupID != "" {
			metrics.DedupHitsTotal.WithLabelValues("semantic").Inc()
			return &SaveResult{Status: StatusDuplicate, ID: dupID, DedupLayer: "semantic"}, nil
		}
	}
	item.Vector = vector

	point := vectorstore.Point{
		ID:      item.ID,
		Vector:  vector,
		Payload: itemPayload(item),
	}
	if err := s.store.Upsert(ctx, collection, []vectorstore.Point{point}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	s.logger.Info("memory stored",
		zap.String("id", item.ID),
		zap.String("collection", collection),
		zap.String("type", string(item.Type)),
		zap.String("embedding_status", string(item.EmbeddingStatus)))
	return &SaveResult{Status: StatusStored, ID: item.ID, EmbeddingStatus: item.EmbeddingStatus}, nil
}

// SaveBatch saves chunked items sharing one batch id. Individual failures do
// not abort the batch; the first error is returned after all attempts.
func (s *Storage) SaveBatch(ctx context.Context, items []*memory.Item) ([]*SaveResult, error) {
	results := make([]*SaveResult, 0, len(items))
	var firstErr error
	for _, item := range items {
		res, err := s.Save(ctx, item)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			results = append(results, nil)
			continue
		}
		results = append(results, res)
	}
	return results, firstErr
}

func (s *Storage) findByHash(ctx context.Context, collection, groupID, hash string) (string, error) {
	filter := vectorstore.Match("content_hash", hash).And("group_id", groupID)
	points, _, err := s.store.Scroll(ctx, collection, filter, 1, "")
	if err != nil {
		return "", err
	}
	if len(points) == 0 {
		return "", nil
	}
	return points[0].ID, nil
}

func (s *Storage) findSemanticDuplicate(ctx context.Context, collection string, item *memory.Item, vector []float32) (string, error) {
	threshold := s.opts.DedupThreshold
	if item.Type == memory.TypeUserMessage {
		threshold = s.opts.UserMessageDedupThreshold
	}
	filter := vectorstore.Match("group_id", item.GroupID)
	neighbours, err := s.store.Query(ctx, collection, vector, filter, 1)
	if err != nil {
		return "", err
	}
	if len(neighbours) == 0 {
		return "", nil
	}
	if float64(neighbours[0].Score) > threshold {
		s.logger.Debug("semantic duplicate",
			zap.String("existing_id", neighbours[0].ID),
			zap.Float64("score", float64(neighbours[0].Score)),
			zap.Float64("threshold", threshold))
		return neighbours[0].ID, nil
	}
	return "", nil
}

// MarkStale flags items whose source_file matches one of the given paths as
// stale, recording the trigger. Freshness writes are partial payload updates
// and never re-embed. Returns the number of flagged items.
func (s *Storage) MarkStale(ctx context.Context, collection, groupID string, sourceFiles []string, trigger string) (int, error) {
	ctx, span := tracer.Start(ctx, "Storage.MarkStale")
	defer span.End()

	flagged := 0
	for _, file := range sourceFiles {
		filter := vectorstore.Match("group_id", groupID).And("source_file", file)
		offset := ""
		for {
			points, next, err := s.store.Scroll(ctx, collection, filter, 100, offset)
			if err != nil {
				return flagged, fmt.Errorf("scrolling %s for %s: %w", collection, file, err)
			}
			if len(points) == 0 {
				break
			}
			ids := make([]string, len(points))
			for i, p := range points {
				ids[i] = p.ID
			}
			payload := map[string]any{
				"freshness_status":     string(memory.FreshnessStale),
				"freshness_trigger":    trigger,
				"freshness_checked_at": time.Now().UTC().Format(time.RFC3339),
				"is_current":           false,
			}
			if err := s.store.SetPayload(ctx, collection, ids, payload); err != nil {
				return flagged, fmt.Errorf("flagging stale in %s: %w", collection, err)
			}
			flagged += len(ids)
			if next == "" {
				break
			}
			offset = next
		}
	}
	span.SetAttributes(attribute.Int("flagged", flagged))
	return flagged, nil
}

// SetFreshness applies a freshness transition to specific items. Partial
// payload write, no re-embed.
func (s *Storage) SetFreshness(ctx context.Context, collection string, ids []string, status memory.FreshnessStatus, trigger string) error {
	if len(ids) == 0 {
		return nil
	}
	payload := map[string]any{
		"freshness_status":     string(status),
		"freshness_trigger":    trigger,
		"freshness_checked_at": time.Now().UTC().Format(time.RFC3339),
	}
	if status != memory.FreshnessFresh {
		payload["is_current"] = false
	}
	return s.store.SetPayload(ctx, collection, ids, payload)
}

// PurgeResult describes what Purge found or removed.
type PurgeResult struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids"`
	DryRun     bool     `json:"dry_run"`
}

// Purge removes items older than cutoff from a collection, optionally scoped
// to a tenant. With dryRun the matching ids are returned but nothing is
// deleted.
func (s *Storage) Purge(ctx context.Context, collection, groupID string, cutoff time.Time, dryRun bool) (*PurgeResult, error) {
	ctx, span := tracer.Start(ctx, "Storage.Purge")
	defer span.End()

	var filter *vectorstore.Filter
	if groupID != "" {
		filter = vectorstore.Match("group_id", groupID)
	}

	result := &PurgeResult{Collection: collection, DryRun: dryRun}
	offset := ""
	for {
		points, next, err := s.store.Scroll(ctx, collection, filter, 100, offset)
		if err != nil {
			return nil, fmt.Errorf("scrolling %s: %w", collection, err)
		}
		for _, p := range points {
			ts, ok := p.Payload["timestamp"].(string)
			if !ok {
				continue
			}
			when, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				continue
			}
			if when.Before(cutoff) {
				result.IDs = append(result.IDs, p.ID)
			}
		}
		if next == "" {
			break
		}
		offset = next
	}

	if !dryRun && len(result.IDs) > 0 {
		if err := s.store.Delete(ctx, collection, result.IDs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
		}
	}
	return result, nil
}
