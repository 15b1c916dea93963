// Package retry classifies raw generation/execution failures into a finite
// error taxonomy and decides, within two bounded budgets, how the workflow
// should proceed after each one.
package retry

import (
	"strings"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// classification rules, checked in priority order: first match wins.
// Matching is case-insensitive substring search, so classification is total
// and runs in O(len(message)).
var kindRules = []struct {
	kind     core.ErrorKind
	keywords []string
}{
	{core.ErrKindTimeout, []string{
		"timeout", "timed out", "canceling statement due to statement timeout",
		"context deadline exceeded",
	}},
	{core.ErrKindSyntax, []string{
		"syntax error", "parse error", "unexpected token", "missing from-clause",
		"unterminated quoted", "aggregate function calls cannot be nested",
	}},
	{core.ErrKindConnection, []string{
		"connection refused", "connection reset", "connect failed",
		"could not connect", "broken pipe", "no such host", "server closed",
	}},
	{core.ErrKindPermission, []string{
		"permission denied", "access denied", "must be owner", "not authorized",
	}},
	{core.ErrKindField, []string{
		"column", // refined below: only when paired with existence wording
	}},
	{core.ErrKindObjectNotFound, []string{
		"does not exist", "not found", "undefined table", "unknown relation",
	}},
}

// Classify maps a raw error message to an ErrorKind. Pure function; never
// fails. Unmatched messages classify as ErrKindUnknown.
func Classify(raw string) core.ErrorKind {
	msg := strings.ToLower(raw)
	if msg == "" {
		return core.ErrKindUnknown
	}

	for _, rule := range kindRules {
		if rule.kind == core.ErrKindField {
			// Column errors need both the column mention and existence wording,
			// otherwise "column" alone would shadow object-not-found matches.
			if strings.Contains(msg, "column") &&
				(strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found") || strings.Contains(msg, "unknown column")) {
				return core.ErrKindField
			}
			continue
		}
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return rule.kind
			}
		}
	}
	return core.ErrKindUnknown
}
