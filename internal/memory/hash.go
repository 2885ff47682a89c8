package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashContent computes the content hash used for exact-duplicate detection.
// Normalization (whitespace trim, CRLF to LF) runs first so byte-level noise
// does not defeat dedup. Two items with the same hash in the same
// (collection, group_id) are duplicates.
func HashContent(content string) string {
	normalized := normalizeForHash(content)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalizeForHash(content string) string {
	s := strings.ReplaceAll(content, "\r\n", "\n")
	return strings.TrimSpace(s)
}
