// Package vectorstore provides the vector database access layer. All
// mutation of the vector DB goes through this package.
package vectorstore

import (
	"context"
	"errors"
)

// Store is the operation surface memoryd needs from the vector database.
type Store interface {
	// EnsureSchema creates missing collections and payload indexes.
	// Adding indexes to a live collection is non-destructive.
	EnsureSchema(ctx context.Context) error

	// Upsert writes points with full payloads.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Query runs a similarity search with an optional payload filter.
	Query(ctx context.Context, collection string, vector []float32, filter *Filter, limit int) ([]ScoredPoint, error)

	// Scroll pages through points matching a filter. Pass the returned
	// offset to continue; an empty offset means the scroll is complete.
	Scroll(ctx context.Context, collection string, filter *Filter, limit int, offset string) ([]Point, string, error)

	// SetPayload merges a partial payload into existing points. Vectors
	// are untouched.
	SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error

	// Delete removes points by id.
	Delete(ctx context.Context, collection string, ids []string) error

	// Count returns the number of points matching a filter.
	Count(ctx context.Context, collection string, filter *Filter) (uint64, error)

	// Health checks connectivity.
	Health(ctx context.Context) error

	Close() error
}

// Point is a stored vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search result.
type ScoredPoint struct {
	Point
	Score float32
}

// Filter restricts an operation to points whose payload matches every
// condition.
type Filter struct {
	Must []Condition
}

// Condition matches one payload field. Match may be a string (keyword),
// []string (any-of), bool, or int64.
type Condition struct {
	Field string
	Match any
}

// Match builds a single-condition filter.
func Match(field string, value any) *Filter {
	return &Filter{Must: []Condition{{Field: field, Match: value}}}
}

// And appends a condition.
func (f *Filter) And(field string, value any) *Filter {
	f.Must = append(f.Must, Condition{Field: field, Match: value})
	return f
}

// Common errors.
var (
	ErrInvalidConfig         = errors.New("invalid vectorstore configuration")
	ErrConnectionFailed      = errors.New("connection to vector database failed")
	ErrCollectionNotFound    = errors.New("collection not found")
	ErrInvalidCollectionName = errors.New("invalid collection name")
)
