package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var tracer = otel.Tracer("memoryd.vectorstore.qdrant")

// collectionNamePattern validates collection names: lowercase letters,
// digits, underscores and hyphens, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host and Port address the gRPC endpoint (6334, not the REST port).
	Host string
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// APIKey authenticates against a secured Qdrant.
	APIKey string

	// VectorSize is the dense vector width all collections are created
	// with. Must match the embedder's advertised dimension.
	VectorSize uint64

	// MaxRetries and RetryBackoff govern transient-failure retries.
	MaxRetries   int
	RetryBackoff time.Duration

	// BreakerThreshold opens the circuit after that many failures.
	BreakerThreshold int
	// BreakerReset closes an open circuit after this interval.
	BreakerReset time.Duration
}

// ApplyDefaults sets defaults for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerReset == 0 {
		c.BreakerReset = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// ValidateCollectionName rejects names outside the allowed pattern.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsTransientError reports whether an error should be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is the Store implementation backed by Qdrant's native gRPC
// client.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantStore connects and health-checks a Qdrant store.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{client: client, config: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Health(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Health checks the Qdrant connection.
func (s *QdrantStore) Health(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// payloadIndexes lists the indexes every collection carries. group_id is
// tenant-flagged, content is text-indexed for hybrid search, and the
// freshness fields support the v2 retrieval filters.
var payloadIndexes = []struct {
	field  string
	typ    qdrant.FieldType
	tenant bool
}{
	{"group_id", qdrant.FieldType_FieldTypeKeyword, true},
	{"content_hash", qdrant.FieldType_FieldTypeKeyword, false},
	{"type", qdrant.FieldType_FieldTypeKeyword, false},
	{"source_hook", qdrant.FieldType_FieldTypeKeyword, false},
	{"content", qdrant.FieldType_FieldTypeText, false},
	{"decay_score", qdrant.FieldType_FieldTypeFloat, false},
	{"freshness_status", qdrant.FieldType_FieldTypeKeyword, false},
	{"source_authority", qdrant.FieldType_FieldTypeFloat, false},
	{"is_current", qdrant.FieldType_FieldTypeBool, false},
	{"version", qdrant.FieldType_FieldTypeInteger, false},
}

// EnsureSchema creates the fixed collections and their payload indexes.
// Existing collections are left intact; index creation on a live
// collection does not interrupt queries.
func (s *QdrantStore) EnsureSchema(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureSchema")
	defer span.End()

	for _, collection := range memory.Collections() {
		name := string(collection)
		exists, err := s.client.CollectionExists(ctx, name)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("checking collection %s: %w", name, err)
		}
		if !exists {
			err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: name,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     s.config.VectorSize,
					Distance: qdrant.Distance_Cosine,
				}),
			})
			if err != nil {
				span.RecordError(err)
				return fmt.Errorf("creating collection %s: %w", name, err)
			}
		}
		for _, idx := range payloadIndexes {
			_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: name,
				FieldName:      idx.field,
				FieldType:      idx.typ.Enum(),
				FieldIndexParams: fieldIndexParams(idx.typ, idx.tenant),
			})
			if err != nil {
				span.RecordError(err)
				return fmt.Errorf("indexing %s.%s: %w", name, idx.field, err)
			}
		}
	}
	span.SetStatus(codes.Ok, "schema ready")
	return nil
}

func fieldIndexParams(typ qdrant.FieldType, tenant bool) *qdrant.PayloadIndexParams {
	if typ == qdrant.FieldType_FieldTypeKeyword && tenant {
		return &qdrant.PayloadIndexParams{
			IndexParams: &qdrant.PayloadIndexParams_KeywordIndexParams{
				KeywordIndexParams: &qdrant.KeywordIndexParams{IsTenant: qdrant.PtrOf(true)},
			},
		}
	}
	return nil
}

// Upsert writes points with retry on transient failures.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("point_count", len(points)),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: toQdrantPayload(p.Payload),
		}
	}

	err := s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         qdrantPoints,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting to %s: %w", collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query runs a filtered similarity search.
func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, filter *Filter, limit int) ([]ScoredPoint, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Query", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("limit", limit),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var results []*qdrant.ScoredPoint
	err := s.retry(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Filter:         toQdrantFilter(filter),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}

	scored := make([]ScoredPoint, len(results))
	for i, point := range results {
		scored[i] = ScoredPoint{
			Point: Point{
				ID:      pointIDString(point.Id),
				Payload: fromQdrantPayload(point.Payload),
			},
			Score: point.Score,
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(scored)))
	span.SetStatus(codes.Ok, "success")
	return scored, nil
}

// Scroll pages through points matching a filter. The returned offset is
// the id to resume from; empty when exhausted.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, filter *Filter, limit int, offset string) ([]Point, string, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Scroll", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	if err := ValidateCollectionName(collection); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		return nil, "", fmt.Errorf("limit must be positive, got %d", limit)
	}

	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         toQdrantFilter(filter),
		// One extra point tells us where the next page starts.
		Limit:       qdrant.PtrOf(uint32(limit + 1)),
		WithPayload: qdrant.NewWithPayload(true),
	}
	if offset != "" {
		req.Offset = qdrant.NewIDUUID(offset)
	}

	var results []*qdrant.RetrievedPoint
	err := s.retry(ctx, "scroll", func() error {
		res, err := s.client.Scroll(ctx, req)
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, "", fmt.Errorf("scrolling %s: %w", collection, err)
	}

	next := ""
	if len(results) > limit {
		next = pointIDString(results[limit].Id)
		results = results[:limit]
	}
	points := make([]Point, len(results))
	for i, point := range results {
		points[i] = Point{
			ID:      pointIDString(point.Id),
			Payload: fromQdrantPayload(point.Payload),
		}
	}
	span.SetStatus(codes.Ok, "success")
	return points, next, nil
}

// SetPayload merges a partial payload into the given points.
func (s *QdrantStore) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.SetPayload")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("id_count", len(ids)),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	err := s.retry(ctx, "set_payload", func() error {
		_, err := s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: collection,
			Payload:        toQdrantPayload(payload),
			PointsSelector: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("setting payload in %s: %w", collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Delete removes points by id.
func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("id_count", len(ids)),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	err := s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of points matching a filter.
func (s *QdrantStore) Count(ctx context.Context, collection string, filter *Filter) (uint64, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Count")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}

	var count uint64
	err := s.retry(ctx, "count", func() error {
		res, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Filter:         toQdrantFilter(filter),
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("counting %s: %w", collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return count, nil
}

// retry runs an operation with exponential backoff on transient errors,
// guarded by the circuit breaker.
func (s *QdrantStore) retry(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		if s.breakerOpen() {
			return fmt.Errorf("%s: circuit breaker open", name)
		}
		err := op()
		if err == nil {
			s.breakerReset()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		s.breakerRecord()
		if attempt >= s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (s *QdrantStore) breakerRecord() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures++
	s.breaker.lastFail = time.Now()
}

func (s *QdrantStore) breakerReset() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures = 0
}

func (s *QdrantStore) breakerOpen() bool {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	if s.breaker.failures < s.config.BreakerThreshold {
		return false
	}
	if time.Since(s.breaker.lastFail) > s.config.BreakerReset {
		s.breaker.failures = 0
		return false
	}
	return true
}

var _ Store = (*QdrantStore)(nil)
