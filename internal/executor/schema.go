package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// SchemaCache fetches the database schema description once per process and
// serves it from memory afterwards. Concurrent first fetches collapse into a
// single database round trip; Invalidate swaps in a fresh copy without
// mutating the blob seen by in-flight requests.
type SchemaCache struct {
	executor core.SQLExecutor
	schema   string

	cached atomic.Pointer[string]
	group  singleflight.Group
	logger *slog.Logger
}

// NewSchemaCache creates a schema provider backed by the given executor.
// schemaName filters information_schema lookups ("public" when empty).
func NewSchemaCache(exec core.SQLExecutor, schemaName string, logger *slog.Logger) *SchemaCache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if schemaName == "" {
		schemaName = "public"
	}
	return &SchemaCache{executor: exec, schema: schemaName, logger: logger}
}

// Fetch returns the schema blob, querying the database only on first use.
func (c *SchemaCache) Fetch(ctx context.Context) (string, error) {
	if v := c.cached.Load(); v != nil {
		return *v, nil
	}

	v, err, _ := c.group.Do("schema", func() (any, error) {
		blob, err := c.describe(ctx)
		if err != nil {
			return nil, err
		}
		c.cached.Store(&blob)
		c.logger.Debug("schema fetched", "bytes", len(blob))
		return blob, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate discards the cached blob. The next Fetch re-queries; requests
// holding the old blob keep it unchanged (copy-and-swap).
func (c *SchemaCache) Invalidate() {
	c.cached.Store(nil)
}

// describe builds a textual schema description from information_schema.
func (c *SchemaCache) describe(ctx context.Context) (string, error) {
	sqlText := fmt.Sprintf(
		`SELECT table_name, column_name, data_type
		 FROM information_schema.columns
		 WHERE table_schema = '%s'
		 ORDER BY table_name, ordinal_position`, c.schema)

	rows, err := c.executor.Execute(ctx, sqlText)
	if err != nil {
		return "", fmt.Errorf("failed to fetch schema: %w", err)
	}
	if rows.Count() == 0 {
		return "", fmt.Errorf("no tables found in schema %q", c.schema)
	}

	var sb strings.Builder
	var currentTable string
	for _, rec := range rows.Records {
		table, _ := rec["table_name"].(string)
		column, _ := rec["column_name"].(string)
		dataType, _ := rec["data_type"].(string)

		if table != currentTable {
			if currentTable != "" {
				sb.WriteString("\n")
			}
			sb.WriteString("Table " + table + ":\n")
			currentTable = table
		}
		sb.WriteString("  - " + column + " (" + dataType + ")\n")
	}

	return sb.String(), nil
}

var _ core.SchemaProvider = (*SchemaCache)(nil)
