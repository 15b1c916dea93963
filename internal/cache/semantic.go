package cache

import (
	"log/slog"
	"math"
	"sync"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// DefaultSimilarityThreshold is the cosine similarity above which two queries
// are considered semantically equivalent.
const DefaultSimilarityThreshold = 0.85

// SemanticIndex maps query embeddings to exact-cache keys. Lookups compute
// cosine similarity against every indexed vector and return the single best
// match above the threshold.
//
// The index holds keys, not entries: a hit is resolved through the exact
// store, so TTL and eviction there apply uniformly. Keys whose entries have
// gone away are pruned lazily on lookup.
type SemanticIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32

	store  *Store
	logger *slog.Logger
}

// NewSemanticIndex creates an index resolving hits through the given store.
// Embeddings carried by the store's entries (repopulated from the durable
// tier) are indexed immediately, so semantic hits survive restarts.
func NewSemanticIndex(store *Store, logger *slog.Logger) *SemanticIndex {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	idx := &SemanticIndex{
		vectors: make(map[string][]float32),
		store:   store,
		logger:  logger,
	}

	if store != nil {
		store.mu.Lock()
		for key, entry := range store.entries {
			if len(entry.Embedding) > 0 {
				idx.vectors[key] = entry.Embedding
			}
		}
		store.mu.Unlock()
		if len(idx.vectors) > 0 {
			logger.Debug("semantic index seeded from cached entries", "vectors", len(idx.vectors))
		}
	}

	return idx
}

// Add indexes an embedding under an exact-cache key.
func (idx *SemanticIndex) Add(key string, embedding []float32) {
	if key == "" || len(embedding) == 0 {
		return
	}
	idx.mu.Lock()
	idx.vectors[key] = embedding
	idx.mu.Unlock()
}

// Len returns the number of indexed vectors.
func (idx *SemanticIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// FindSimilar returns the cached entry whose embedding is most similar to the
// query embedding, provided the cosine similarity meets the threshold. A
// threshold of zero or below uses DefaultSimilarityThreshold.
func (idx *SemanticIndex) FindSimilar(embedding []float32, threshold float64) (*core.CacheEntry, float64, bool) {
	if len(embedding) == 0 {
		return nil, 0, false
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	idx.mu.RLock()
	var bestKey string
	var bestSim float64
	for key, vec := range idx.vectors {
		sim := CosineSimilarity(embedding, vec)
		if sim > bestSim {
			bestKey, bestSim = key, sim
		}
	}
	idx.mu.RUnlock()

	if bestKey == "" || bestSim < threshold {
		return nil, bestSim, false
	}

	entry, ok := idx.store.Get(bestKey)
	if !ok {
		// Entry expired or was evicted underneath us; drop the vector.
		idx.mu.Lock()
		delete(idx.vectors, bestKey)
		idx.mu.Unlock()
		idx.logger.Debug("pruned stale semantic index entry", "key", bestKey)
		return nil, bestSim, false
	}

	return entry, bestSim, true
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
