package workflow

import (
	"encoding/json"
	"strings"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// intentAnalysis is the structured verdict of the AnalyzeIntent node.
type intentAnalysis struct {
	Intent          core.Intent `json:"intent"`
	RequiresSpatial bool        `json:"requires_spatial"`
	Clear           bool        `json:"clear"`
	Confidence      float64     `json:"confidence"`
	Clarification   string      `json:"clarification,omitempty"`
}

const intentPromptTemplate = `You are a query intent analyst for a spatial tourism database.
Classify the user's question and reply with ONLY a JSON object, no prose.

Question: %q

Fields:
- "intent": "summary" if the user wants a count/aggregate/statistic, "query" if they want a list of records.
- "requires_spatial": true if the question involves distance, proximity or location ("near", "within 5km", ...).
- "clear": false if the question is too vague to answer (missing place, missing subject).
- "confidence": your confidence in this classification, 0.0-1.0.
- "clarification": when not clear, one short question to ask the user.`

// parseIntentResponse extracts the JSON verdict from generated text, which
// may be wrapped in code fences or prose.
func parseIntentResponse(text string) (intentAnalysis, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return intentAnalysis{}, false
	}

	var out intentAnalysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return intentAnalysis{}, false
	}
	if out.Intent != core.IntentQuery && out.Intent != core.IntentSummary {
		return intentAnalysis{}, false
	}
	return out, true
}

var intentSummaryKeywords = []string{
	"how many", "count", "total", "number of", "average", "sum",
	"statistics", "distribution", "per province", "per city",
}

var intentSpatialKeywords = []string{
	"near", "nearby", "within", "distance", "closest", "nearest",
	"around", "surrounding", "radius", "km of",
}

// analyzeIntentKeywords is the deterministic fallback used when generation
// fails or returns unparseable output, so intent analysis never hard-fails a
// request.
func analyzeIntentKeywords(query string) intentAnalysis {
	q := strings.ToLower(query)

	out := intentAnalysis{Intent: core.IntentQuery, Clear: true, Confidence: 0.5}
	for _, kw := range intentSummaryKeywords {
		if strings.Contains(q, kw) {
			out.Intent = core.IntentSummary
			break
		}
	}
	for _, kw := range intentSpatialKeywords {
		if strings.Contains(q, kw) {
			out.RequiresSpatial = true
			break
		}
	}

	// Very short questions carry too little signal to act on.
	if len(strings.Fields(q)) < 2 {
		out.Clear = false
		out.Confidence = 0.2
		out.Clarification = "Could you describe what you are looking for in more detail?"
	}
	return out
}
