package retry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want core.ErrorKind
	}{
		{"pg syntax", `ERROR: syntax error at or near "SELCT"`, core.ErrKindSyntax},
		{"missing from", "missing FROM-clause entry for table \"s\"", core.ErrKindSyntax},
		{"nested aggregate", "aggregate function calls cannot be nested", core.ErrKindSyntax},
		{"statement timeout", "canceling statement due to statement timeout", core.ErrKindTimeout},
		{"ctx deadline", "context deadline exceeded", core.ErrKindTimeout},
		{"timed out", "query timed out after 30s", core.ErrKindTimeout},
		{"refused", "dial tcp 127.0.0.1:5432: connection refused", core.ErrKindConnection},
		{"server closed", "FATAL: the database system is shutting down: server closed", core.ErrKindConnection},
		{"permission", "ERROR: permission denied for table a_sight", core.ErrKindPermission},
		{"table missing", `ERROR: relation "scenic_spots" does not exist`, core.ErrKindObjectNotFound},
		{"column missing", `ERROR: column "rating" does not exist`, core.ErrKindField},
		{"unknown column", "unknown column 'lvl' in field list", core.ErrKindField},
		{"function missing", `ERROR: function st_dwithinn(geometry) does not exist`, core.ErrKindObjectNotFound},
		{"garbage", "something completely unexpected happened", core.ErrKindUnknown},
		{"empty", "", core.ErrKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.raw))
		})
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	assert.Equal(t, core.ErrKindSyntax, Classify("SYNTAX ERROR AT OR NEAR"))
	assert.Equal(t, core.ErrKindTimeout, Classify("Query Timed Out"))
}

// Timeout keywords win over later categories when a message matches several.
func TestClassify_PriorityOrder(t *testing.T) {
	assert.Equal(t, core.ErrKindTimeout,
		Classify("connection attempt timed out: connection refused"))
}

func TestClassify_LongMessage(t *testing.T) {
	raw := strings.Repeat("x", 1<<16) + " permission denied"
	assert.Equal(t, core.ErrKindPermission, Classify(raw))
}
