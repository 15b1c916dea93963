package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// promptInput carries everything a SQL generation attempt may condition on.
type promptInput struct {
	Question    string
	Intent      core.Intent
	Spatial     bool
	Schema      string
	PatternHint string
	ResultLimit int

	// LastError is non-nil when regenerating after a failure. The failed SQL
	// and error message are always included verbatim so the model never
	// regenerates blind.
	LastError *core.ErrorRecord

	// Simplify asks for a cheaper query after a timeout.
	Simplify bool

	// PriorSQL and PriorRowCount are set when supplementing an insufficient
	// result set with a broader follow-up query.
	PriorSQL      []string
	PriorRowCount int
}

func buildSQLPrompt(in promptInput) string {
	var sb strings.Builder

	sb.WriteString("You are a PostgreSQL expert writing read-only SQL for a spatial tourism database (PostGIS).\n\n")
	sb.WriteString("Database schema:\n")
	sb.WriteString(in.Schema)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(in.Question)
	sb.WriteString("\n")

	if in.Intent == core.IntentSummary {
		sb.WriteString("The user wants an aggregate or statistic: prefer COUNT/AVG/GROUP BY over raw rows.\n")
	} else {
		sb.WriteString("The user wants a list of matching records.\n")
	}
	if in.Spatial {
		sb.WriteString("The question has a spatial constraint: use PostGIS functions (ST_DWithin, ST_Distance) on geometry columns.\n")
	}
	if in.PatternHint != "" {
		sb.WriteString("A query of the same shape previously succeeded with this SQL template, adapt it:\n")
		sb.WriteString(in.PatternHint)
		sb.WriteString("\n")
	}

	if in.LastError != nil {
		fmt.Fprintf(&sb, "\nThe previous attempt failed (%s): %s\n", in.LastError.Kind, in.LastError.Message)
		if in.LastError.FailedSQL != "" {
			sb.WriteString("Failed SQL:\n")
			sb.WriteString(in.LastError.FailedSQL)
			sb.WriteString("\n")
		}
		sb.WriteString("Write a corrected query; do not repeat the same mistake.\n")
	}

	if in.Simplify {
		sb.WriteString("\nThe previous query timed out. Write a simpler, cheaper query: fewer joins, no expensive spatial operations over full tables, and an explicit LIMIT.\n")
	}

	if in.PriorRowCount > 0 || len(in.PriorSQL) > 0 {
		fmt.Fprintf(&sb, "\nEarlier queries returned only %d row(s), which is not enough to answer well. Already tried:\n", in.PriorRowCount)
		for _, sql := range in.PriorSQL {
			sb.WriteString("  ")
			sb.WriteString(sql)
			sb.WriteString("\n")
		}
		sb.WriteString("Broaden the search (relax filters, widen distances) without repeating a query already tried.\n")
	}

	limit := in.ResultLimit
	if limit <= 0 {
		limit = 1000
	}
	fmt.Fprintf(&sb, "\nRules: SELECT statements only, no DDL or DML. Limit results to at most %d rows. Reply with the SQL inside a ```sql code fence and nothing else.\n", limit)
	return sb.String()
}

var sqlFence = regexp.MustCompile("(?is)```(?:sql)?\\s*(.*?)```")

// ExtractSQL pulls the SQL statement out of generated text. It prefers a
// fenced code block and falls back to scanning for the first SELECT/WITH.
// Only read-only statements are accepted.
func ExtractSQL(text string) (string, error) {
	candidate := ""
	if m := sqlFence.FindStringSubmatch(text); m != nil {
		candidate = m[1]
	} else {
		upper := strings.ToUpper(text)
		idx := strings.Index(upper, "SELECT")
		if widx := strings.Index(upper, "WITH"); widx >= 0 && (idx < 0 || widx < idx) {
			idx = widx
		}
		if idx < 0 {
			return "", fmt.Errorf("no SQL statement found in generated text")
		}
		candidate = text[idx:]
	}

	candidate = strings.TrimSpace(candidate)
	candidate = strings.TrimSuffix(candidate, ";")
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", fmt.Errorf("no SQL statement found in generated text")
	}

	upper := strings.ToUpper(candidate)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return "", fmt.Errorf("generated statement is not read-only: %.40s", candidate)
	}
	return candidate, nil
}
