package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// Store is the exact-match cache tier. Reads and writes are synchronized with
// a single mutex; eviction bookkeeping (last-access order) is maintained under
// the same lock so concurrent writers cannot corrupt it.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*core.CacheEntry
	lastAccess map[string]time.Time

	maxEntries int
	defaultTTL time.Duration

	hits   int64
	misses int64

	backend Backend
	logger  *slog.Logger

	// now is swappable for TTL tests.
	now func() time.Time
}

// StoreConfig holds cache store configuration.
type StoreConfig struct {
	// MaxEntries bounds the in-memory tier; the least-recently-used entry is
	// evicted when the bound would be exceeded. Non-positive means 1000.
	MaxEntries int
	// DefaultTTL applies to entries stored without an explicit TTL.
	DefaultTTL time.Duration
	// Backend is the durable tier. Optional; nil runs memory-only.
	Backend Backend
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// NewStore creates the cache store and repopulates the in-memory tier from
// the durable backend when one is configured. Backend unavailability degrades
// to memory-only operation rather than failing.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	defaultTTL := cfg.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}

	s := &Store{
		entries:    make(map[string]*core.CacheEntry),
		lastAccess: make(map[string]time.Time),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		backend:    cfg.Backend,
		logger:     logger,
		now:        time.Now,
	}

	if cfg.Backend != nil {
		persisted, err := cfg.Backend.LoadEntries()
		if err != nil {
			logger.Warn("durable cache unavailable, continuing memory-only", "error", err)
		} else {
			for _, e := range persisted {
				if !e.Fresh(s.now()) {
					continue
				}
				if len(s.entries) >= maxEntries {
					break
				}
				s.entries[e.Key] = e
				s.lastAccess[e.Key] = e.CreatedAt
			}
			logger.Debug("cache repopulated from durable tier", "entries", len(s.entries))
		}
	}

	return s
}

// Get returns the entry for key if present and fresh. Stale entries count as
// misses and are evicted lazily. A hit increments the entry's hit count and
// refreshes its recency.
func (s *Store) Get(key string) (*core.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}

	if !entry.Fresh(s.now()) {
		s.removeLocked(key)
		s.misses++
		return nil, false
	}

	entry.HitCount++
	s.lastAccess[key] = s.now()
	s.hits++

	cp := *entry
	return &cp, true
}

// Set inserts or replaces the entry under entry.Key, evicting the
// least-recently-used entry first when the store is full. The write is
// mirrored to the durable backend under the same lock, so the backend sees
// writes in memory order; a backend failure is logged and ignored.
func (s *Store) Set(entry *core.CacheEntry) {
	if entry == nil || entry.Key == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if entry.TTLSeconds == 0 {
		entry.TTLSeconds = int(s.defaultTTL.Seconds())
	}

	if _, exists := s.entries[entry.Key]; !exists && len(s.entries) >= s.maxEntries {
		s.evictLRULocked()
	}

	cp := *entry
	s.entries[entry.Key] = &cp
	s.lastAccess[entry.Key] = s.now()

	if s.backend != nil {
		if err := s.backend.SaveEntry(entry); err != nil {
			s.logger.Warn("failed to mirror cache entry to durable tier", "key", entry.Key, "error", err)
		}
	}
}

// Delete removes the entry for key from both tiers.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(key)

	if s.backend != nil {
		if err := s.backend.DeleteEntry(key); err != nil {
			s.logger.Warn("failed to delete cache entry from durable tier", "key", key, "error", err)
		}
	}
}

// Clear drops all entries from both tiers. Hit/miss counters are preserved.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*core.CacheEntry)
	s.lastAccess = make(map[string]time.Time)

	if s.backend != nil {
		if err := s.backend.ClearEntries(); err != nil {
			s.logger.Warn("failed to clear durable cache tier", "error", err)
		}
	}
}

// Stats returns a snapshot of cache effectiveness.
func (s *Store) Stats() core.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := core.CacheStats{
		Size:   len(s.entries),
		Hits:   s.hits,
		Misses: s.misses,
	}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	return stats
}

// removeLocked deletes key from the in-memory maps. Caller holds s.mu.
func (s *Store) removeLocked(key string) {
	delete(s.entries, key)
	delete(s.lastAccess, key)
}

// evictLRULocked drops the least-recently-used entry. Caller holds s.mu.
func (s *Store) evictLRULocked() {
	var oldestKey string
	var oldest time.Time
	for key, at := range s.lastAccess {
		if oldestKey == "" || at.Before(oldest) {
			oldestKey, oldest = key, at
		}
	}
	if oldestKey == "" {
		return
	}

	s.removeLocked(oldestKey)
	s.logger.Debug("evicted cache entry", "key", oldestKey, "last_access", oldest)

	if s.backend != nil {
		if err := s.backend.DeleteEntry(oldestKey); err != nil {
			s.logger.Warn("failed to evict cache entry from durable tier", "key", oldestKey, "error", err)
		}
	}
}
