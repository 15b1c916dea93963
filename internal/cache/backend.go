package cache

import "github.com/leapstack-labs/geoquery/pkg/core"

// Backend is the durable tier behind the in-memory store. Exact and pattern
// entries use disjoint tables so statistics on one namespace never include
// rows from the other.
//
// Backend failures are never request-fatal: the store logs and continues in
// memory-only mode.
type Backend interface {
	// SaveEntry upserts an exact-match cache entry.
	SaveEntry(entry *core.CacheEntry) error

	// LoadEntries returns all persisted exact-match entries, used to
	// repopulate the in-memory tier after a restart.
	LoadEntries() ([]*core.CacheEntry, error)

	// DeleteEntry removes one exact-match entry.
	DeleteEntry(key string) error

	// ClearEntries removes all exact-match entries.
	ClearEntries() error

	// SavePattern upserts a learned pattern.
	SavePattern(entry *core.PatternEntry) error

	// LoadPatterns returns all persisted patterns.
	LoadPatterns() ([]*core.PatternEntry, error)

	// Close releases backend resources.
	Close() error
}
