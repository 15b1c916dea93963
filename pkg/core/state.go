package core

import "time"

// Intent classifies what shape of answer a question is seeking.
type Intent string

const (
	// IntentQuery means the user wants a list of records.
	IntentQuery Intent = "query"
	// IntentSummary means the user wants an aggregate or statistic.
	IntentSummary Intent = "summary"
)

// Status is the terminal (or suspended) state of a workflow run.
type Status string

const (
	StatusPending        Status = "pending"
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
	// StatusSuspended means the run is waiting for user clarification and can
	// be resumed via the resumption token.
	StatusSuspended Status = "suspended"
)

// FallbackStrategy is the remediation chosen after a classified failure.
type FallbackStrategy string

const (
	// FallbackNone means no failure has occurred yet.
	FallbackNone FallbackStrategy = ""
	// FallbackRetrySQL regenerates SQL from scratch with the failed SQL and
	// error message in the prompt context.
	FallbackRetrySQL FallbackStrategy = "retry_sql"
	// FallbackRetryExecution re-runs the same SQL on a fresh connection.
	FallbackRetryExecution FallbackStrategy = "retry_execution"
	// FallbackSimplifyQuery regenerates a simpler query (fewer joins, LIMIT).
	FallbackSimplifyQuery FallbackStrategy = "simplify_query"
	// FallbackFail terminates the request.
	FallbackFail FallbackStrategy = "fail"
)

// Row is a single result record keyed by column name.
type Row map[string]any

// Rows is an ordered query result set.
type Rows struct {
	Columns []string `json:"columns"`
	Records []Row    `json:"records"`
}

// Count returns the number of records.
func (r *Rows) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Records)
}

// ThoughtStep is one entry in the append-only thought-chain log recorded at
// every node transition.
type ThoughtStep struct {
	Node      string    `json:"node"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowState is the mutable record threaded through every node of one run.
// It is created at request start and discarded at request end; only the
// session id outlives it, in session-scoped memory.
type WorkflowState struct {
	Query         string `json:"query"`
	SessionID     string `json:"session_id,omitempty"`
	EnhancedQuery string `json:"enhanced_query,omitempty"`

	Intent           Intent  `json:"intent"`
	IntentConfidence float64 `json:"intent_confidence"`
	RequiresSpatial  bool    `json:"requires_spatial"`

	// Schema is the opaque schema blob, fetched once per process.
	Schema string `json:"-"`

	// SQLHistory records every SQL text attempted this request, in order.
	SQLHistory []string `json:"sql_history"`
	CurrentSQL string   `json:"current_sql,omitempty"`

	CurrentResult *Rows  `json:"-"`
	FinalData     []Row  `json:"final_data,omitempty"`
	Answer        string `json:"answer,omitempty"`

	Status Status `json:"status"`

	StepCount           int `json:"step_count"`
	ExecutionRetryCount int `json:"execution_retry_count"`
	WorkflowRetryCount  int `json:"workflow_retry_count"`

	LastError        *ErrorRecord     `json:"last_error,omitempty"`
	ErrorHistory     []ErrorRecord    `json:"error_history,omitempty"`
	FallbackStrategy FallbackStrategy `json:"fallback_strategy,omitempty"`

	// FailureReason is the structured explanation attached on terminal failure.
	FailureReason string `json:"failure_reason,omitempty"`

	// ResumptionToken is set when Status is StatusSuspended.
	ResumptionToken string `json:"resumption_token,omitempty"`
	// ClarificationPrompt tells the caller what to ask the user.
	ClarificationPrompt string `json:"clarification_prompt,omitempty"`

	// CacheHit reports whether the run was served from cache, and from which
	// tier ("exact" or "semantic").
	CacheHit     bool   `json:"cache_hit"`
	CacheHitTier string `json:"cache_hit_tier,omitempty"`

	ThoughtChain []ThoughtStep `json:"thought_chain,omitempty"`
}

// RecordError appends an error record and sets it as the last error.
func (s *WorkflowState) RecordError(rec ErrorRecord) {
	s.ErrorHistory = append(s.ErrorHistory, rec)
	s.LastError = &s.ErrorHistory[len(s.ErrorHistory)-1]
}

// AddThought appends a thought-chain entry with the current time.
func (s *WorkflowState) AddThought(node, input, output string) {
	s.ThoughtChain = append(s.ThoughtChain, ThoughtStep{
		Node:      node,
		Input:     input,
		Output:    output,
		Timestamp: time.Now().UTC(),
	})
}
