// Package memory defines the memory item model shared by capture, storage,
// retrieval, and sync.
package memory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Content length bounds for stored items.
const (
	MinContentLength = 10
	MaxContentLength = 100_000
)

// Collection is a named partition of the vector database with a fixed type
// set and embedding-model assignment.
type Collection string

const (
	// CollectionCodePatterns holds HOW code is written. Code model.
	CollectionCodePatterns Collection = "code-patterns"

	// CollectionConventions holds WHAT rules to follow. Prose model,
	// shared across tenants.
	CollectionConventions Collection = "conventions"

	// CollectionDiscussions holds WHY things were decided. Prose model.
	CollectionDiscussions Collection = "discussions"
)

// Collections lists every collection in creation order.
func Collections() []Collection {
	return []Collection{CollectionCodePatterns, CollectionConventions, CollectionDiscussions}
}

// Type classifies an item. Each type belongs to exactly one collection.
type Type string

const (
	// code-patterns types.
	TypeImplementation Type = "implementation"
	TypeErrorFix       Type = "error_fix"
	TypeRefactor       Type = "refactor"
	TypeFilePattern    Type = "file_pattern"

	// conventions types.
	TypeRule      Type = "rule"
	TypeGuideline Type = "guideline"
	TypePort      Type = "port"
	TypeNaming    Type = "naming"
	TypeStructure Type = "structure"

	// discussions types.
	TypeDecision      Type = "decision"
	TypeSession       Type = "session"
	TypeBlocker       Type = "blocker"
	TypePreference    Type = "preference"
	TypeUserMessage   Type = "user_message"
	TypeAgentResponse Type = "agent_response"
	TypeAgentMemory   Type = "agent_memory"
	TypeAgentInsight  Type = "agent_insight"
	TypeAgentHandoff  Type = "agent_handoff"
)

// typeOwnership maps every type to its owning collection.
var typeOwnership = map[Type]Collection{
	TypeImplementation: CollectionCodePatterns,
	TypeErrorFix:       CollectionCodePatterns,
	TypeRefactor:       CollectionCodePatterns,
	TypeFilePattern:    CollectionCodePatterns,

	TypeRule:      CollectionConventions,
	TypeGuideline: CollectionConventions,
	TypePort:      CollectionConventions,
	TypeNaming:    CollectionConventions,
	TypeStructure: CollectionConventions,

	TypeDecision:      CollectionDiscussions,
	TypeSession:       CollectionDiscussions,
	TypeBlocker:       CollectionDiscussions,
	TypePreference:    CollectionDiscussions,
	TypeUserMessage:   CollectionDiscussions,
	TypeAgentResponse: CollectionDiscussions,
	TypeAgentMemory:   CollectionDiscussions,
	TypeAgentInsight:  CollectionDiscussions,
	TypeAgentHandoff:  CollectionDiscussions,
}

// CollectionOf returns the collection owning a type.
func CollectionOf(t Type) (Collection, bool) {
	c, ok := typeOwnership[t]
	return c, ok
}

// UsesCodeModel reports whether a collection embeds with the code model.
func (c Collection) UsesCodeModel() bool {
	return c == CollectionCodePatterns
}

// SharedAcrossTenants reports whether queries may omit the group_id filter.
func (c Collection) SharedAcrossTenants() bool {
	return c == CollectionConventions
}

// EmbeddingStatus tracks whether an item's vector has been produced.
type EmbeddingStatus string

const (
	EmbeddingPending  EmbeddingStatus = "pending"
	EmbeddingComplete EmbeddingStatus = "complete"
	EmbeddingFailed   EmbeddingStatus = "failed"
)

// FreshnessStatus tracks whether an externally derived item still reflects
// its upstream source.
type FreshnessStatus string

const (
	FreshnessFresh      FreshnessStatus = "fresh"
	FreshnessStale      FreshnessStatus = "stale"
	FreshnessSuperseded FreshnessStatus = "superseded"
)

// Item is the unit of storage.
type Item struct {
	ID         string     `json:"id"`
	GroupID    string     `json:"group_id"`
	Collection Collection `json:"collection"`
	Type       Type       `json:"type"`
	Content    string     `json:"content"`

	// ContentHash is SHA-256 of the composed content after normalization,
	// computed after chunking and before embedding.
	ContentHash string `json:"content_hash"`

	Vector          []float32       `json:"-"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`
	EmbeddingModel  string          `json:"embedding_model,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id,omitempty"`
	SourceHook string    `json:"source_hook"`
	AgentID    string    `json:"agent_id,omitempty"`
	Tags       []string  `json:"tags,omitempty"`

	SourceFile string `json:"source_file,omitempty"`
	SourceLine int    `json:"source_line,omitempty"`

	FreshnessStatus FreshnessStatus `json:"freshness_status,omitempty"`
	SourceAuthority float64         `json:"source_authority,omitempty"`
	DecayScore      float64         `json:"decay_score,omitempty"`
	IsCurrent       bool            `json:"is_current,omitempty"`
	Version         int             `json:"version,omitempty"`

	// Chunk bookkeeping. Chunks from one source share BatchID.
	BatchID    string `json:"batch_id,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
	ChunkTotal int    `json:"chunk_total,omitempty"`
}

// Validation errors.
var (
	ErrMissingGroupID  = errors.New("item has no group_id")
	ErrUnknownType     = errors.New("unknown item type")
	ErrTypeCollection  = errors.New("type does not belong to collection")
	ErrContentTooShort = errors.New("content below minimum length")
	ErrContentTooLong  = errors.New("content above maximum length")
)

// NewItem builds an item with a fresh identifier and UTC timestamp. The
// collection is derived from the type.
func NewItem(groupID string, typ Type, content, sourceHook string) (*Item, error) {
	collection, ok := CollectionOf(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	item := &Item{
		ID:              uuid.New().String(),
		GroupID:         groupID,
		Collection:      collection,
		Type:            typ,
		Content:         content,
		ContentHash:     HashContent(content),
		EmbeddingStatus: EmbeddingPending,
		Timestamp:       time.Now().UTC(),
		SourceHook:      sourceHook,
		FreshnessStatus: FreshnessFresh,
		SourceAuthority: 0.5,
		IsCurrent:       true,
		Version:         1,
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	return item, nil
}

// Validate enforces the storage invariants. A type/collection mismatch and
// out-of-range content are refused.
func (i *Item) Validate() error {
	if i.GroupID == "" {
		return ErrMissingGroupID
	}
	owner, ok := CollectionOf(i.Type)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, i.Type)
	}
	if owner != i.Collection {
		return fmt.Errorf("%w: %s belongs to %s, got %s", ErrTypeCollection, i.Type, owner, i.Collection)
	}
	if len(i.Content) < MinContentLength {
		return fmt.Errorf("%w: %d chars", ErrContentTooShort, len(i.Content))
	}
	if len(i.Content) > MaxContentLength {
		return fmt.Errorf("%w: %d chars", ErrContentTooLong, len(i.Content))
	}
	return nil
}
