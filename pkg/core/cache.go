package core

import "time"

// CacheKind distinguishes the durable namespaces. Exact and pattern entries
// live in disjoint tables so statistics on one never include the other.
type CacheKind string

const (
	CacheKindExact   CacheKind = "exact"
	CacheKindPattern CacheKind = "pattern"
)

// CacheEntry is one exact-match cache record. Owned exclusively by the cache
// store; mutated only by hit recording and eviction.
type CacheEntry struct {
	Key        string    `json:"key"`
	QueryText  string    `json:"query_text"`
	Payload    []byte    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
	TTLSeconds int       `json:"ttl_seconds"`
	HitCount   int       `json:"hit_count"`

	// Embedding is present only when semantic indexing is enabled.
	Embedding []float32 `json:"embedding,omitempty"`
}

// Fresh reports whether the entry is still within its TTL at the given time.
// A zero TTL means the entry never expires.
func (e *CacheEntry) Fresh(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return true
	}
	return now.Before(e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// PatternEntry is durable structural knowledge: a coarse query template mapped
// to the last SQL shape that answered it. Many queries map to one entry; the
// entry is updated in place, never replaced.
type PatternEntry struct {
	Template              string    `json:"template"`
	SQLTemplate           string    `json:"sql_template"`
	SuccessCount          int       `json:"success_count"`
	FailureCount          int       `json:"failure_count"`
	AverageResponseTimeMS float64   `json:"average_response_time_ms"`
	UpdatedAt             time.Time `json:"updated_at"`
}
