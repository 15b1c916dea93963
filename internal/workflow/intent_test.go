package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

func TestParseIntentResponse(t *testing.T) {
	verdict, ok := parseIntentResponse("```json\n" + summaryIntentJSON + "\n```")
	require.True(t, ok)
	assert.Equal(t, core.IntentSummary, verdict.Intent)
	assert.True(t, verdict.Clear)

	verdict, ok = parseIntentResponse(`Sure! {"intent":"query","clear":true,"confidence":0.8} as requested.`)
	require.True(t, ok)
	assert.Equal(t, core.IntentQuery, verdict.Intent)

	_, ok = parseIntentResponse("no json here")
	assert.False(t, ok)

	_, ok = parseIntentResponse(`{"intent":"prophecy","clear":true}`)
	assert.False(t, ok, "unknown intent value must be rejected")

	_, ok = parseIntentResponse(`{"intent": broken`)
	assert.False(t, ok)
}

func TestAnalyzeIntentKeywords(t *testing.T) {
	tests := []struct {
		query       string
		wantIntent  core.Intent
		wantSpatial bool
	}{
		{"how many 5a attractions in zhejiang", core.IntentSummary, false},
		{"average rating per province", core.IntentSummary, false},
		{"list parks near west lake", core.IntentQuery, true},
		{"museums within 5 km of the station", core.IntentQuery, true},
		{"show all temples in hangzhou", core.IntentQuery, false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			verdict := analyzeIntentKeywords(tt.query)
			assert.Equal(t, tt.wantIntent, verdict.Intent)
			assert.Equal(t, tt.wantSpatial, verdict.RequiresSpatial)
			assert.True(t, verdict.Clear)
		})
	}
}

func TestAnalyzeIntentKeywords_TooShortIsUnclear(t *testing.T) {
	verdict := analyzeIntentKeywords("parks")
	assert.False(t, verdict.Clear)
	assert.NotEmpty(t, verdict.Clarification)
}
