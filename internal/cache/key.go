// Package cache implements the multi-tier result cache: an exact-match
// in-memory store with TTL and LRU eviction mirrored to a durable SQLite
// backend, a semantic index over query embeddings, and a pattern learner that
// records successful query shapes.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// DeriveKey computes the deterministic cache key for a query and its context.
// The query text is normalized (lowercased, whitespace collapsed) and the
// context is fingerprinted with sorted keys, so two requests that differ only
// in context ordering share a key, while requests with different context
// values never collide.
func DeriveKey(queryText string, context map[string]string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(queryText)), " ")

	h := sha256.New()
	h.Write([]byte(normalized))

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte{0})
			h.Write([]byte(k))
			h.Write([]byte{'='})
			h.Write([]byte(context[k]))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}
