package core

// QueryRequest is an inbound natural-language question. It is immutable once
// created; the engine copies what it needs into WorkflowState.
type QueryRequest struct {
	// Text is the raw question as the user asked it.
	Text string `json:"text"`

	// SessionID groups related conversational turns. Optional.
	SessionID string `json:"session_id,omitempty"`

	// Context carries execution options: spatial-enabled flag, result limit,
	// intent hint. Keys are free-form but participate in cache key derivation,
	// so two requests with different contexts never share a cache entry.
	Context map[string]string `json:"context,omitempty"`
}

// ContextBool reads a boolean option from the request context.
func (r QueryRequest) ContextBool(key string) bool {
	return r.Context[key] == "true"
}

// ContextOr reads a context option, returning def when absent.
func (r QueryRequest) ContextOr(key, def string) string {
	if v, ok := r.Context[key]; ok {
		return v
	}
	return def
}
