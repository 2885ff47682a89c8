package storage

import (
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// itemPayload flattens an item to the vector point payload. The vector
// itself travels separately.
func itemPayload(item *memory.Item) map[string]any {
	payload := map[string]any{
		"group_id":         item.GroupID,
		"type":             string(item.Type),
		"content":          item.Content,
		"content_hash":     item.ContentHash,
		"embedding_status": string(item.EmbeddingStatus),
		"timestamp":        item.Timestamp.UTC().Format(time.RFC3339),
		"source_hook":      item.SourceHook,
		"freshness_status": string(item.FreshnessStatus),
		"source_authority": item.SourceAuthority,
		"decay_score":      item.DecayScore,
		"is_current":       item.IsCurrent,
		"version":          int64(item.Version),
	}
	if item.EmbeddingModel != "" {
		payload["embedding_model"] = item.EmbeddingModel
	}
	if item.SessionID != "" {
		payload["session_id"] = item.SessionID
	}
	if item.AgentID != "" {
		payload["agent_id"] = item.AgentID
	}
	if len(item.Tags) > 0 {
		payload["tags"] = item.Tags
	}
	if item.SourceFile != "" {
		payload["source_file"] = item.SourceFile
	}
	if item.SourceLine > 0 {
		payload["source_line"] = int64(item.SourceLine)
	}
	if item.BatchID != "" {
		payload["batch_id"] = item.BatchID
		payload["chunk_index"] = int64(item.ChunkIndex)
		payload["chunk_total"] = int64(item.ChunkTotal)
	}
	return payload
}

// ItemFromPayload rebuilds an item from a stored payload. Missing or
// malformed fields fall back to zero values; retrieval tolerates old points.
func ItemFromPayload(id, collection string, payload map[string]any) *memory.Item {
	item := &memory.Item{
		ID:         id,
		Collection: memory.Collection(collection),
	}
	if v, ok := payload["group_id"].(string); ok {
		item.GroupID = v
	}
	if v, ok := payload["type"].(string); ok {
		item.Type = memory.Type(v)
	}
	if v, ok := payload["content"].(string); ok {
		item.Content = v
	}
	if v, ok := payload["content_hash"].(string); ok {
		item.ContentHash = v
	}
	if v, ok := payload["embedding_status"].(string); ok {
		item.EmbeddingStatus = memory.EmbeddingStatus(v)
	}
	if v, ok := payload["embedding_model"].(string); ok {
		item.EmbeddingModel = v
	}
	if v, ok := payload["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			item.Timestamp = ts
		}
	}
	if v, ok := payload["session_id"].(string); ok {
		item.SessionID = v
	}
	if v, ok := payload["source_hook"].(string); ok {
		item.SourceHook = v
	}
	if v, ok := payload["agent_id"].(string); ok {
		item.AgentID = v
	}
	if v, ok := payload["tags"].([]string); ok {
		item.Tags = v
	}
	if v, ok := payload["source_file"].(string); ok {
		item.SourceFile = v
	}
	if v, ok := payload["source_line"].(int64); ok {
		item.SourceLine = int(v)
	}
	if v, ok := payload["freshness_status"].(string); ok {
		item.FreshnessStatus = memory.FreshnessStatus(v)
	}
	if v, ok := payload["source_authority"].(float64); ok {
		item.SourceAuthority = v
	}
	if v, ok := payload["decay_score"].(float64); ok {
		item.DecayScore = v
	}
	if v, ok := payload["is_current"].(bool); ok {
		item.IsCurrent = v
	}
	if v, ok := payload["version"].(int64); ok {
		item.Version = int(v)
	}
	if v, ok := payload["batch_id"].(string); ok {
		item.BatchID = v
	}
	if v, ok := payload["chunk_index"].(int64); ok {
		item.ChunkIndex = int(v)
	}
	if v, ok := payload["chunk_total"].(int64); ok {
		item.ChunkTotal = int(v)
	}
	return item
}
