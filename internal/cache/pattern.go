package cache

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// summaryKeywords indicate an aggregate/statistic question.
var summaryKeywords = []string{
	"how many", "count", "total", "number of", "average", "sum of",
	"statistics", "distribution", "per province", "per city",
}

// spatialKeywords indicate distance/location constraints.
var spatialKeywords = []string{
	"near", "nearby", "within", "distance", "closest", "nearest",
	"around", "surrounding", "radius",
}

// entityKeywords map query wording to coarse entity buckets.
var entityKeywords = map[string][]string{
	"scenic": {"park", "scenic", "attraction", "spot", "sight", "museum", "temple", "lake", "mountain"},
	"region": {"province", "city", "district", "region", "county"},
	"rating": {"5a", "4a", "3a", "rated", "rating", "star"},
}

// entityOrder fixes the emit order so templates are order-independent with
// respect to the query wording.
var entityOrder = []string{"scenic", "region", "rating"}

// ExtractTemplate derives the coarse category template for a query, e.g.
// "query+spatial+scenic". Extraction is deterministic and depends only on
// which keyword buckets the query touches, not on their order in the text.
func ExtractTemplate(query string) string {
	q := strings.ToLower(query)

	cats := []string{"query"}
	for _, kw := range summaryKeywords {
		if strings.Contains(q, kw) {
			cats[0] = "summary"
			break
		}
	}

	for _, kw := range spatialKeywords {
		if strings.Contains(q, kw) {
			cats = append(cats, "spatial")
			break
		}
	}

	for _, bucket := range entityOrder {
		for _, kw := range entityKeywords[bucket] {
			if strings.Contains(q, kw) {
				cats = append(cats, bucket)
				break
			}
		}
	}

	return strings.Join(cats, "+")
}

var (
	sqlStringLiteral = regexp.MustCompile(`'(?:[^']|'')*'`)
	sqlNumberLiteral = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
)

// AbstractSQL replaces string and numeric literals with placeholders so the
// stored template captures the query shape, not a particular instance.
func AbstractSQL(sql string) string {
	out := sqlStringLiteral.ReplaceAllString(sql, "?")
	out = sqlNumberLiteral.ReplaceAllString(out, "?")
	return strings.Join(strings.Fields(out), " ")
}

// PatternLearner records successful query->SQL shapes keyed by template.
// Entries never expire by TTL; only a maximum-count LRU bound applies,
// because patterns are durable structural knowledge rather than per-query
// answers. All mutation is mutex-synchronized.
type PatternLearner struct {
	mu       sync.Mutex
	entries  map[string]*core.PatternEntry
	lastUsed map[string]time.Time

	maxEntries int
	backend    Backend
	logger     *slog.Logger
	now        func() time.Time
}

// LearnerConfig holds pattern learner configuration.
type LearnerConfig struct {
	// MaxEntries bounds the pattern store. Non-positive means 500.
	MaxEntries int
	// Backend mirrors patterns durably. Optional.
	Backend Backend
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// NewPatternLearner creates a learner, repopulating from the backend when one
// is configured.
func NewPatternLearner(cfg LearnerConfig) *PatternLearner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 500
	}

	l := &PatternLearner{
		entries:    make(map[string]*core.PatternEntry),
		lastUsed:   make(map[string]time.Time),
		maxEntries: maxEntries,
		backend:    cfg.Backend,
		logger:     logger,
		now:        time.Now,
	}

	if cfg.Backend != nil {
		persisted, err := cfg.Backend.LoadPatterns()
		if err != nil {
			logger.Warn("durable pattern store unavailable, continuing memory-only", "error", err)
		} else {
			for _, p := range persisted {
				if len(l.entries) >= maxEntries {
					break
				}
				l.entries[p.Template] = p
				l.lastUsed[p.Template] = p.UpdatedAt
			}
		}
	}

	return l
}

// Record updates the pattern entry for template with one more outcome. The
// entry is updated in place, never replaced; the SQL template is only
// overwritten on success.
func (l *PatternLearner) Record(template, sqlTemplate string, success bool, responseTimeMS float64) {
	if template == "" {
		return
	}

	l.mu.Lock()
	entry, ok := l.entries[template]
	if !ok {
		if len(l.entries) >= l.maxEntries {
			l.evictLRULocked()
		}
		entry = &core.PatternEntry{Template: template}
		l.entries[template] = entry
	}

	if success {
		entry.SuccessCount++
		entry.SQLTemplate = sqlTemplate
		// Running mean over successful completions.
		n := float64(entry.SuccessCount)
		entry.AverageResponseTimeMS += (responseTimeMS - entry.AverageResponseTimeMS) / n
	} else {
		entry.FailureCount++
	}
	entry.UpdatedAt = l.now()
	l.lastUsed[template] = entry.UpdatedAt

	cp := *entry
	l.mu.Unlock()

	if l.backend != nil {
		if err := l.backend.SavePattern(&cp); err != nil {
			l.logger.Warn("failed to mirror pattern to durable tier", "template", template, "error", err)
		}
	}
}

// Suggest returns the last successful SQL template recorded for template.
func (l *PatternLearner) Suggest(template string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[template]
	if !ok || entry.SuccessCount == 0 || entry.SQLTemplate == "" {
		return "", false
	}
	l.lastUsed[template] = l.now()
	return entry.SQLTemplate, true
}

// Len returns the number of learned patterns.
func (l *PatternLearner) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// evictLRULocked drops the least-recently-used pattern. Caller holds l.mu.
func (l *PatternLearner) evictLRULocked() {
	var oldestKey string
	var oldest time.Time
	for key, at := range l.lastUsed {
		if oldestKey == "" || at.Before(oldest) {
			oldestKey, oldest = key, at
		}
	}
	if oldestKey == "" {
		return
	}
	delete(l.entries, oldestKey)
	delete(l.lastUsed, oldestKey)
	l.logger.Debug("evicted pattern entry", "template", oldestKey)
}
