package cache

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteBackend implements Backend using SQLite. Exact and pattern entries
// live in separate tables (exact_entries, pattern_entries).
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteBackend opens (or creates) the durable cache database at path and
// runs pending migrations. Use ":memory:" for an ephemeral database.
func NewSQLiteBackend(path string, logger *slog.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	b := &SQLiteBackend{db: db, logger: logger}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return b, nil
}

// migrate runs all pending schema migrations.
func (b *SQLiteBackend) migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(b.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run cache migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// SaveEntry upserts an exact-match cache entry.
func (b *SQLiteBackend) SaveEntry(entry *core.CacheEntry) error {
	var embedding []byte
	if len(entry.Embedding) > 0 {
		var err error
		embedding, err = json.Marshal(entry.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding: %w", err)
		}
	}

	_, err := b.db.Exec(
		`INSERT INTO exact_entries (key, query_text, payload, cache_kind, ttl_seconds, created_at, hit_count, embedding)
		 VALUES (?, ?, ?, 'exact', ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   query_text = excluded.query_text,
		   payload = excluded.payload,
		   ttl_seconds = excluded.ttl_seconds,
		   created_at = excluded.created_at,
		   hit_count = excluded.hit_count,
		   embedding = excluded.embedding`,
		entry.Key, entry.QueryText, entry.Payload, entry.TTLSeconds,
		entry.CreatedAt.UTC(), entry.HitCount, embedding,
	)
	if err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

// LoadEntries returns all persisted exact-match entries.
func (b *SQLiteBackend) LoadEntries() ([]*core.CacheEntry, error) {
	rows, err := b.db.Query(
		`SELECT key, query_text, payload, ttl_seconds, created_at, hit_count, embedding
		 FROM exact_entries ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*core.CacheEntry
	for rows.Next() {
		entry := &core.CacheEntry{}
		var createdAt time.Time
		var embedding []byte

		if err := rows.Scan(&entry.Key, &entry.QueryText, &entry.Payload,
			&entry.TTLSeconds, &createdAt, &entry.HitCount, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entry.CreatedAt = createdAt

		if len(embedding) > 0 {
			if err := json.Unmarshal(embedding, &entry.Embedding); err != nil {
				b.logger.Warn("dropping undecodable embedding", "key", entry.Key, "error", err)
			}
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// DeleteEntry removes one exact-match entry.
func (b *SQLiteBackend) DeleteEntry(key string) error {
	if _, err := b.db.Exec(`DELETE FROM exact_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// ClearEntries removes all exact-match entries. Pattern entries are untouched.
func (b *SQLiteBackend) ClearEntries() error {
	if _, err := b.db.Exec(`DELETE FROM exact_entries`); err != nil {
		return fmt.Errorf("failed to clear cache entries: %w", err)
	}
	return nil
}

// SavePattern upserts a learned pattern.
func (b *SQLiteBackend) SavePattern(entry *core.PatternEntry) error {
	_, err := b.db.Exec(
		`INSERT INTO pattern_entries (template, sql_template, cache_kind, success_count, failure_count, average_response_time_ms, updated_at)
		 VALUES (?, ?, 'pattern', ?, ?, ?, ?)
		 ON CONFLICT(template) DO UPDATE SET
		   sql_template = excluded.sql_template,
		   success_count = excluded.success_count,
		   failure_count = excluded.failure_count,
		   average_response_time_ms = excluded.average_response_time_ms,
		   updated_at = excluded.updated_at`,
		entry.Template, entry.SQLTemplate, entry.SuccessCount, entry.FailureCount,
		entry.AverageResponseTimeMS, entry.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

// LoadPatterns returns all persisted patterns.
func (b *SQLiteBackend) LoadPatterns() ([]*core.PatternEntry, error) {
	rows, err := b.db.Query(
		`SELECT template, sql_template, success_count, failure_count, average_response_time_ms, updated_at
		 FROM pattern_entries ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	defer rows.Close()

	var entries []*core.PatternEntry
	for rows.Next() {
		entry := &core.PatternEntry{}
		if err := rows.Scan(&entry.Template, &entry.SQLTemplate, &entry.SuccessCount,
			&entry.FailureCount, &entry.AverageResponseTimeMS, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

var _ Backend = (*SQLiteBackend)(nil)
