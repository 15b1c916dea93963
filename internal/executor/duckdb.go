package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb"
)

func init() {
	Register("duckdb", func(logger *slog.Logger) Driver {
		return NewDuckDB(logger)
	})
}

// DuckDB executes queries against a local DuckDB file, the target for
// offline/analytics deployments. Spatial functions require the duckdb
// spatial extension to be installed in the database file.
type DuckDB struct {
	base
}

// NewDuckDB creates a DuckDB driver. If logger is nil, a discard logger is
// used.
func NewDuckDB(logger *slog.Logger) *DuckDB {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DuckDB{base: base{logger: logger}}
}

// Connect opens the database file. An empty path opens an in-memory database.
func (d *DuckDB) Connect(ctx context.Context, cfg Config) error {
	d.logger.Debug("connecting to duckdb", "path", cfg.Path)

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	d.mu.Lock()
	d.db = db
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

// Reconnect re-opens the database file with the stored configuration.
func (d *DuckDB) Reconnect(ctx context.Context) error {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	_ = d.Close()
	return d.Connect(ctx, cfg)
}

var _ Driver = (*DuckDB)(nil)
