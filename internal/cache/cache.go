// Package cache memoizes query embeddings so repeated questions do not pay
// for a second embedding call. Keys are derived from a hash of the
// normalized query text, never from the raw string.
//
// The cache is best-effort: a miss races harmlessly against a concurrent
// write from another process (at-most-once memoization, not a correctness
// requirement). The original design kept an unbounded raw-text-keyed cache;
// the in-memory implementation here is deliberately bounded with LRU
// eviction instead — see DESIGN.md for the recorded contract change.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Cache is the embedding-cache contract shared by the in-memory and Redis
// implementations. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached vector for key, with found=false on a miss.
	Get(ctx context.Context, key string) (vec []float32, found bool, err error)
	// Put stores the vector under key, evicting older entries if bounded.
	Put(ctx context.Context, key string, vec []float32) error
}

// Key derives the cache key for a query: the text is trimmed and lowered,
// then hashed with SHA-256 so arbitrarily long queries produce fixed-size
// keys and near-identical queries (case, padding) share an entry.
func Key(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
