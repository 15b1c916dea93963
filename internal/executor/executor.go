// Package executor provides SQL execution against the target spatial
// database. Concrete drivers register themselves in a factory registry; the
// workflow engine only sees the core.SQLExecutor and core.SchemaProvider
// interfaces.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// Config holds configuration for connecting to the target database.
type Config struct {
	Type     string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Schema   string
	// Path is the database file for file-based drivers (duckdb).
	Path string
	// QueryTimeout bounds each Execute call. Zero means 30s.
	QueryTimeout time.Duration
	Options      map[string]string
}

// Driver is implemented by database-specific adapters.
type Driver interface {
	core.SQLExecutor

	// Connect establishes the connection pool.
	Connect(ctx context.Context, cfg Config) error

	// Reconnect tears down and re-establishes the pool. Used by the
	// retry-execution fallback after connection failures.
	Reconnect(ctx context.Context) error

	// Close releases the pool.
	Close() error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(*slog.Logger) Driver)
)

// Register adds a driver factory to the registry. Called by driver
// implementations in their init() functions.
func Register(name string, factory func(*slog.Logger) Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New creates a driver instance based on config type.
func New(cfg Config, logger *slog.Logger) (Driver, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("executor type not specified")
	}

	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownDriverError{Type: cfg.Type, Available: List()}
	}
	return factory(logger), nil
}

// List returns all registered driver names (sorted).
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownDriverError is returned when an unregistered driver type is requested.
type UnknownDriverError struct {
	Type      string
	Available []string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("unknown executor type %q (available: %v)", e.Type, e.Available)
}

// base provides shared database/sql plumbing for drivers.
type base struct {
	mu     sync.Mutex
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
}

// Execute runs a read query and materializes the result set. Each call is
// bounded by the configured query timeout; a deadline firing surfaces as the
// driver's context error and classifies as a timeout downstream.
func (b *base) Execute(ctx context.Context, sqlText string) (*core.Rows, error) {
	b.mu.Lock()
	db := b.db
	timeout := b.cfg.QueryTimeout
	b.mu.Unlock()

	if db == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

// Close closes the connection pool.
func (b *base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		err := b.db.Close()
		b.db = nil
		return err
	}
	return nil
}

// scanRows materializes sql.Rows into the engine's row representation.
func scanRows(rows *sql.Rows) (*core.Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	out := &core.Rows{Columns: cols}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		record := make(core.Row, len(cols))
		for i, col := range cols {
			v := values[i]
			// Normalize []byte so results serialize as text, not base64.
			if bs, ok := v.([]byte); ok {
				v = string(bs)
			}
			record[col] = v
		}
		out.Records = append(out.Records, record)
	}

	return out, rows.Err()
}
