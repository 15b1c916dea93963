package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// maxRenderedRows caps table output so huge result sets stay readable.
const maxRenderedRows = 50

// renderState writes a completed workflow state in the requested format.
func renderState(w io.Writer, state *core.WorkflowState, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}

	if state.Status == core.StatusFailed {
		fmt.Fprintf(w, "Failed: %s\n", state.FailureReason)
		return nil
	}

	fmt.Fprintln(w, state.Answer)

	if len(state.FinalData) > 0 {
		fmt.Fprintln(w)
		renderRows(w, state.FinalData)
	}

	if state.CacheHit {
		fmt.Fprintf(w, "(cached: %s)\n", state.CacheHitTier)
	} else if state.CurrentSQL != "" {
		fmt.Fprintf(w, "SQL: %s\n", state.CurrentSQL)
	}
	if state.Status == core.StatusPartialSuccess {
		fmt.Fprintln(w, "(partial result)")
	}
	return nil
}

// renderRows prints rows as a table, with a stable column order taken from the
// first row.
func renderRows(w io.Writer, rows []core.Row) {
	if len(rows) == 0 {
		return
	}

	cols := sortedColumns(rows[0])

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(cols))
	for i, col := range cols {
		header[i] = col
	}
	t.AppendHeader(header)

	shown := rows
	if len(shown) > maxRenderedRows {
		shown = shown[:maxRenderedRows]
	}
	for _, row := range shown {
		tr := make(table.Row, len(cols))
		for i, col := range cols {
			tr[i] = formatValue(row[col])
		}
		t.AppendRow(tr)
	}
	t.Render()

	if len(rows) > maxRenderedRows {
		fmt.Fprintf(w, "(%d rows, showing first %d)\n", len(rows), maxRenderedRows)
	} else {
		fmt.Fprintf(w, "(%d rows)\n", len(rows))
	}
}

func sortedColumns(row core.Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	// Deterministic order for rendering and tests.
	sort.Strings(cols)
	return cols
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
