package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSQLiteBackend_SaveLoadEntry(t *testing.T) {
	b := newTestBackend(t)

	entry := &core.CacheEntry{
		Key:        "abc",
		QueryText:  "find parks near the lake",
		Payload:    []byte(`{"answer":"3 parks"}`),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		TTLSeconds: 3600,
		HitCount:   2,
		Embedding:  []float32{0.1, 0.2, 0.3},
	}
	require.NoError(t, b.SaveEntry(entry))

	loaded, err := b.LoadEntries()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, entry.Key, loaded[0].Key)
	assert.Equal(t, entry.QueryText, loaded[0].QueryText)
	assert.Equal(t, entry.Payload, loaded[0].Payload)
	assert.Equal(t, entry.TTLSeconds, loaded[0].TTLSeconds)
	assert.Equal(t, entry.HitCount, loaded[0].HitCount)
	assert.Equal(t, entry.Embedding, loaded[0].Embedding)
}

func TestSQLiteBackend_Upsert(t *testing.T) {
	b := newTestBackend(t)

	entry := &core.CacheEntry{Key: "k", QueryText: "q", Payload: []byte("v1"), CreatedAt: time.Now().UTC()}
	require.NoError(t, b.SaveEntry(entry))

	entry.Payload = []byte("v2")
	entry.HitCount = 5
	require.NoError(t, b.SaveEntry(entry))

	loaded, err := b.LoadEntries()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, []byte("v2"), loaded[0].Payload)
	assert.Equal(t, 5, loaded[0].HitCount)
}

func TestSQLiteBackend_DeleteAndClear(t *testing.T) {
	b := newTestBackend(t)

	now := time.Now().UTC()
	require.NoError(t, b.SaveEntry(&core.CacheEntry{Key: "k1", QueryText: "q", Payload: []byte("p"), CreatedAt: now}))
	require.NoError(t, b.SaveEntry(&core.CacheEntry{Key: "k2", QueryText: "q", Payload: []byte("p"), CreatedAt: now}))

	require.NoError(t, b.DeleteEntry("k1"))
	loaded, err := b.LoadEntries()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	require.NoError(t, b.ClearEntries())
	loaded, err = b.LoadEntries()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

// Clearing the exact namespace must not touch pattern entries: the two kinds
// live in disjoint tables.
func TestSQLiteBackend_DisjointNamespaces(t *testing.T) {
	b := newTestBackend(t)

	require.NoError(t, b.SaveEntry(&core.CacheEntry{
		Key: "k", QueryText: "q", Payload: []byte("p"), CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, b.SavePattern(&core.PatternEntry{
		Template: "query+spatial+scenic", SQLTemplate: "SELECT * FROM a_sight", SuccessCount: 1, UpdatedAt: time.Now().UTC(),
	}))

	require.NoError(t, b.ClearEntries())

	patterns, err := b.LoadPatterns()
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "query+spatial+scenic", patterns[0].Template)

	entries, err := b.LoadEntries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// A restart repopulates the in-memory tier from the durable file.
func TestStore_RepopulatesFromBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	b1, err := NewSQLiteBackend(path, nil)
	require.NoError(t, err)
	s1 := NewStore(StoreConfig{MaxEntries: 10, Backend: b1})
	s1.Set(&core.CacheEntry{Key: "k1", QueryText: "q", Payload: []byte("persisted")})
	require.NoError(t, b1.Close())

	b2, err := NewSQLiteBackend(path, nil)
	require.NoError(t, err)
	defer b2.Close()

	s2 := NewStore(StoreConfig{MaxEntries: 10, Backend: b2})
	entry, ok := s2.Get("k1")
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), entry.Payload)
}
