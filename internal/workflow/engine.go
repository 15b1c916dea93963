// Package workflow implements the question-answering state machine: a
// deterministic node loop that turns a natural-language question into SQL,
// executes it, and synthesizes an answer, with classified-error retries and
// multi-tier caching around it.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/leapstack-labs/geoquery/internal/cache"
	"github.com/leapstack-labs/geoquery/internal/retry"
	"github.com/leapstack-labs/geoquery/pkg/core"
)

// nodeKind names one node of the workflow graph.
type nodeKind string

const (
	nodeFetchSchema     nodeKind = "FetchSchema"
	nodeAnalyzeIntent   nodeKind = "AnalyzeIntent"
	nodeEnhanceQuery    nodeKind = "EnhanceQuery"
	nodeGenerateSQL     nodeKind = "GenerateSql"
	nodeExecuteSQL      nodeKind = "ExecuteSql"
	nodeValidateResults nodeKind = "ValidateResults"
	nodeCheckResults    nodeKind = "CheckResults"
	nodeGenerateAnswer  nodeKind = "GenerateAnswer"
	nodeFinalValidation nodeKind = "FinalValidation"

	// nodeDone is the sentinel returned by terminal handlers.
	nodeDone nodeKind = ""
)

// maxTransitions bounds the node loop independently of the retry budgets.
const maxTransitions = 64

// Config holds workflow tuning. Zero values select the defaults.
type Config struct {
	// MaxExecutionRetries bounds SQL regeneration after execution failures.
	MaxExecutionRetries int
	// MaxWorkflowRetries bounds workflow-level retries (timeouts, unknowns).
	MaxWorkflowRetries int
	// MaxIterations bounds the CheckResults supplementation loop.
	MaxIterations int
	// SimilarityThreshold gates semantic cache hits.
	SimilarityThreshold float64
	// CacheTTL applies to entries written on success.
	CacheTTL time.Duration
	// ResultLimit caps rows requested from the database.
	ResultLimit int
	// SuspensionMaxAge bounds how long a clarification can stay pending.
	SuspensionMaxAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxExecutionRetries <= 0 {
		c.MaxExecutionRetries = 3
	}
	if c.MaxWorkflowRetries <= 0 {
		c.MaxWorkflowRetries = 2
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 3
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = cache.DefaultSimilarityThreshold
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.ResultLimit <= 0 {
		c.ResultLimit = 1000
	}
	return c
}

// Deps are the engine's collaborators. Generator, Executor, Schema and
// Synthesizer are required; the cache components and Embedder are optional
// and their absence disables the corresponding tier.
type Deps struct {
	Generator   core.TextGenerator
	Executor    core.SQLExecutor
	Schema      core.SchemaProvider
	Synthesizer core.AnswerSynthesizer

	Embedder core.Embedder
	Cache    *cache.Store
	Semantic *cache.SemanticIndex
	Patterns *cache.PatternLearner

	Logger *slog.Logger
}

// reconnector is implemented by executors that can re-establish their
// connection; used by the retry_execution fallback.
type reconnector interface {
	Reconnect(ctx context.Context) error
}

// Engine runs workflows. It is safe for concurrent use; all per-request state
// lives in the run, and the shared components synchronize internally.
type Engine struct {
	deps       Deps
	cfg        Config
	controller *retry.Controller
	suspended  *suspensionStore
	sessions   *sessionMemory
	logger     *slog.Logger
}

// NewEngine validates the dependencies and builds an engine.
func NewEngine(deps Deps, cfg Config) (*Engine, error) {
	if deps.Generator == nil {
		return nil, fmt.Errorf("workflow engine requires a text generator")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("workflow engine requires a sql executor")
	}
	if deps.Schema == nil {
		return nil, fmt.Errorf("workflow engine requires a schema provider")
	}
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("workflow engine requires an answer synthesizer")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg = cfg.withDefaults()

	return &Engine{
		deps:       deps,
		cfg:        cfg,
		controller: retry.NewController(cfg.MaxExecutionRetries, cfg.MaxWorkflowRetries),
		suspended:  newSuspensionStore(cfg.SuspensionMaxAge),
		sessions:   newSessionMemory(),
		logger:     logger,
	}, nil
}

// run bundles the per-request mutable state.
type run struct {
	st        *core.WorkflowState
	req       core.QueryRequest
	key       string
	embedding []float32
	startedAt time.Time
}

// cachePayload is the JSON blob stored for a successful run.
type cachePayload struct {
	Answer    string      `json:"answer"`
	FinalData []core.Row  `json:"final_data,omitempty"`
	Intent    core.Intent `json:"intent"`
	SQL       string      `json:"sql,omitempty"`
}

// Run executes the workflow for one request and always returns a state; errors
// surface as a terminal Status plus FailureReason rather than a Go error.
func (e *Engine) Run(ctx context.Context, req core.QueryRequest) *core.WorkflowState {
	r := &run{
		st: &core.WorkflowState{
			Query:     req.Text,
			SessionID: req.SessionID,
			Status:    core.StatusPending,
		},
		req:       req,
		key:       cache.DeriveKey(req.Text, req.Context),
		startedAt: time.Now(),
	}

	if e.probeCache(ctx, r) {
		e.finish(ctx, r)
		return r.st
	}

	e.loop(ctx, r, nodeFetchSchema)
	e.finish(ctx, r)
	return r.st
}

// Resume continues a suspended run with the user's clarification, re-entering
// intent analysis with the clarified question. Tokens are single-use.
func (e *Engine) Resume(ctx context.Context, token, clarification string) (*core.WorkflowState, error) {
	parked, err := e.suspended.Take(token)
	if err != nil {
		return nil, err
	}

	r := &run{st: parked.state, req: parked.request, startedAt: time.Now()}
	st := r.st
	st.Status = core.StatusPending
	st.ResumptionToken = ""
	st.ClarificationPrompt = ""
	if clarification != "" {
		st.Query = fmt.Sprintf("%s (clarification: %s)", st.Query, clarification)
	}
	r.req.Text = st.Query
	r.key = cache.DeriveKey(st.Query, r.req.Context)
	st.AddThought("Resume", token, st.Query)

	// The clarified question may already have a cached answer.
	if e.probeCache(ctx, r) {
		e.finish(ctx, r)
		return st, nil
	}

	e.loop(ctx, r, nodeAnalyzeIntent)
	e.finish(ctx, r)
	return st, nil
}

// SessionHistory returns the completed turns recorded for a session.
func (e *Engine) SessionHistory(sessionID string) []SessionTurn {
	return e.sessions.History(sessionID)
}

// loop drives the node state machine from start until a terminal status.
func (e *Engine) loop(ctx context.Context, r *run, start nodeKind) {
	node := start
	for i := 0; i < maxTransitions; i++ {
		if node == nodeDone || terminal(r.st.Status) {
			return
		}
		if err := ctx.Err(); err != nil {
			e.fail(r.st, "request cancelled", err)
			return
		}
		// Budget invariant, checked at every node entry.
		if r.st.ExecutionRetryCount > e.cfg.MaxExecutionRetries ||
			r.st.WorkflowRetryCount > e.cfg.MaxWorkflowRetries {
			e.fail(r.st, "retry budget exceeded", nil)
			return
		}

		switch node {
		case nodeFetchSchema:
			node = e.fetchSchema(ctx, r)
		case nodeAnalyzeIntent:
			node = e.analyzeIntent(ctx, r)
		case nodeEnhanceQuery:
			node = e.enhanceQuery(r)
		case nodeGenerateSQL:
			node = e.generateSQL(ctx, r)
		case nodeExecuteSQL:
			node = e.executeSQL(ctx, r)
		case nodeValidateResults:
			node = e.validateResults(r)
		case nodeCheckResults:
			node = e.checkResults(r)
		case nodeGenerateAnswer:
			node = e.generateAnswer(ctx, r)
		case nodeFinalValidation:
			node = e.finalValidation(r)
		default:
			e.fail(r.st, fmt.Sprintf("unknown workflow node %q", node), nil)
			return
		}
	}

	if !terminal(r.st.Status) {
		e.fail(r.st, "workflow exceeded transition bound", nil)
	}
}

// probeCache serves the request from the exact tier, then the semantic tier.
// A hit completes the run without any generation or execution calls.
func (e *Engine) probeCache(ctx context.Context, r *run) bool {
	if e.deps.Cache == nil {
		return false
	}

	if entry, ok := e.deps.Cache.Get(r.key); ok {
		if e.applyCachedEntry(r.st, entry, "exact") {
			return true
		}
	}

	if e.deps.Embedder == nil || e.deps.Semantic == nil {
		return false
	}
	vec, err := e.deps.Embedder.Embed(ctx, r.req.Text)
	if err != nil {
		e.logger.Debug("embedding unavailable, skipping semantic probe", "error", err)
		return false
	}
	r.embedding = vec

	entry, sim, ok := e.deps.Semantic.FindSimilar(vec, e.cfg.SimilarityThreshold)
	if !ok {
		return false
	}
	if !e.applyCachedEntry(r.st, entry, "semantic") {
		return false
	}
	e.logger.Debug("semantic cache hit", "similarity", sim)
	return true
}

func (e *Engine) applyCachedEntry(st *core.WorkflowState, entry *core.CacheEntry, tier string) bool {
	var payload cachePayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		e.logger.Warn("discarding undecodable cache payload", "key", entry.Key, "error", err)
		return false
	}

	st.Answer = payload.Answer
	st.FinalData = payload.FinalData
	st.Intent = payload.Intent
	st.CurrentSQL = payload.SQL
	st.Status = core.StatusSuccess
	st.CacheHit = true
	st.CacheHitTier = tier
	st.AddThought("CacheProbe", st.Query, fmt.Sprintf("%s tier hit", tier))
	return true
}

func (e *Engine) fetchSchema(ctx context.Context, r *run) nodeKind {
	schema, err := e.deps.Schema.Fetch(ctx)
	if err != nil {
		return e.handleFailure(r, err, nodeFetchSchema, "")
	}
	r.st.Schema = schema
	r.st.AddThought(string(nodeFetchSchema), "", fmt.Sprintf("schema loaded (%d bytes)", len(schema)))
	return nodeAnalyzeIntent
}

func (e *Engine) analyzeIntent(ctx context.Context, r *run) nodeKind {
	st := r.st

	verdict := intentAnalysis{}
	text, err := e.deps.Generator.Generate(ctx, fmt.Sprintf(intentPromptTemplate, st.Query))
	if err != nil {
		e.logger.Warn("intent generation failed, using keyword fallback", "error", err)
		verdict = analyzeIntentKeywords(st.Query)
	} else if parsed, ok := parseIntentResponse(text); ok {
		verdict = parsed
	} else {
		e.logger.Warn("unparseable intent response, using keyword fallback")
		verdict = analyzeIntentKeywords(st.Query)
	}

	// Request context hints override the model's classification.
	switch r.req.Context["intent"] {
	case string(core.IntentQuery):
		verdict.Intent = core.IntentQuery
	case string(core.IntentSummary):
		verdict.Intent = core.IntentSummary
	}
	if r.req.ContextBool("spatial") {
		verdict.RequiresSpatial = true
	}

	if !verdict.Clear {
		return e.suspend(r, verdict)
	}

	st.Intent = verdict.Intent
	st.IntentConfidence = verdict.Confidence
	st.RequiresSpatial = verdict.RequiresSpatial
	st.AddThought(string(nodeAnalyzeIntent), st.Query,
		fmt.Sprintf("intent=%s spatial=%t confidence=%.2f", verdict.Intent, verdict.RequiresSpatial, verdict.Confidence))
	return nodeEnhanceQuery
}

// suspend parks the run on a clarification question.
func (e *Engine) suspend(r *run, verdict intentAnalysis) nodeKind {
	st := r.st
	prompt := verdict.Clarification
	if prompt == "" {
		prompt = "Could you rephrase your question with more detail?"
	}

	st.Status = core.StatusSuspended
	st.ClarificationPrompt = prompt
	st.ResumptionToken = e.suspended.Park(st, r.req)
	st.AddThought(string(nodeAnalyzeIntent), st.Query, "suspended for clarification")
	e.logger.Info("workflow suspended for clarification", "token", st.ResumptionToken)
	return nodeDone
}

func (e *Engine) enhanceQuery(r *run) nodeKind {
	st := r.st

	enhanced := st.Query
	if st.Intent == core.IntentSummary {
		enhanced += " (aggregate statistics requested)"
	}
	if st.RequiresSpatial {
		enhanced += " (apply spatial distance filtering)"
	}
	st.EnhancedQuery = enhanced
	st.AddThought(string(nodeEnhanceQuery), st.Query, enhanced)
	return nodeGenerateSQL
}

func (e *Engine) generateSQL(ctx context.Context, r *run) nodeKind {
	st := r.st

	in := promptInput{
		Question:    st.EnhancedQuery,
		Intent:      st.Intent,
		Spatial:     st.RequiresSpatial,
		Schema:      st.Schema,
		ResultLimit: e.resultLimit(r.req),
	}
	if e.deps.Patterns != nil {
		if hint, ok := e.deps.Patterns.Suggest(cache.ExtractTemplate(st.Query)); ok {
			in.PatternHint = hint
		}
	}
	if st.FallbackStrategy != core.FallbackNone && st.LastError != nil {
		in.LastError = st.LastError
		in.Simplify = st.FallbackStrategy == core.FallbackSimplifyQuery
	}
	if st.StepCount > 0 {
		in.PriorSQL = st.SQLHistory
		in.PriorRowCount = len(st.FinalData)
	}

	text, err := e.deps.Generator.Generate(ctx, buildSQLPrompt(in))
	if err != nil {
		return e.handleFailure(r, err, nodeGenerateSQL, st.CurrentSQL)
	}
	sql, err := ExtractSQL(text)
	if err != nil {
		return e.handleFailure(r, err, nodeGenerateSQL, st.CurrentSQL)
	}

	st.SQLHistory = append(st.SQLHistory, sql)
	st.CurrentSQL = sql
	st.FallbackStrategy = core.FallbackNone
	st.AddThought(string(nodeGenerateSQL), st.EnhancedQuery, sql)
	return nodeExecuteSQL
}

func (e *Engine) executeSQL(ctx context.Context, r *run) nodeKind {
	st := r.st

	if st.FallbackStrategy == core.FallbackRetryExecution {
		if rc, ok := e.deps.Executor.(reconnector); ok {
			if err := rc.Reconnect(ctx); err != nil {
				e.logger.Warn("reconnect before retry failed", "error", err)
			}
		}
		st.FallbackStrategy = core.FallbackNone
	}

	rows, err := e.deps.Executor.Execute(ctx, st.CurrentSQL)
	if err != nil {
		return e.handleFailure(r, err, nodeExecuteSQL, st.CurrentSQL)
	}

	st.CurrentResult = rows
	st.FinalData = mergeRows(st.FinalData, rows)
	st.AddThought(string(nodeExecuteSQL), st.CurrentSQL, fmt.Sprintf("%d row(s)", rows.Count()))
	return nodeValidateResults
}

// validateResults is a non-fatal quality gate: anomalies lower confidence and
// are logged, but never fail the run.
func (e *Engine) validateResults(r *run) nodeKind {
	st := r.st

	if st.CurrentResult == nil || (st.CurrentResult.Count() > 0 && len(st.CurrentResult.Columns) == 0) {
		st.IntentConfidence *= 0.8
		e.logger.Warn("result set failed validation", "sql", st.CurrentSQL)
		st.AddThought(string(nodeValidateResults), st.CurrentSQL, "anomalous result shape")
	} else {
		st.AddThought(string(nodeValidateResults), st.CurrentSQL, "ok")
	}
	return nodeCheckResults
}

// checkResults decides whether the accumulated rows suffice for the intent, or
// whether one more generation round should broaden the search.
func (e *Engine) checkResults(r *run) nodeKind {
	st := r.st
	count := len(st.FinalData)

	if insufficientRows(st.Intent, count) && st.StepCount < e.cfg.MaxIterations {
		st.StepCount++
		st.AddThought(string(nodeCheckResults), fmt.Sprintf("%d row(s)", count),
			fmt.Sprintf("insufficient, supplementing (iteration %d)", st.StepCount))
		return nodeGenerateSQL
	}

	st.AddThought(string(nodeCheckResults), fmt.Sprintf("%d row(s)", count), "sufficient")
	return nodeGenerateAnswer
}

func (e *Engine) generateAnswer(ctx context.Context, r *run) nodeKind {
	st := r.st

	answer, err := e.deps.Synthesizer.Synthesize(ctx, st.Query, st.Intent, st.FinalData)
	if err != nil {
		e.logger.Warn("answer synthesis failed", "error", err)
		answer = fmt.Sprintf("The query completed with %d result(s).", len(st.FinalData))
	}
	st.Answer = answer
	st.AddThought(string(nodeGenerateAnswer), fmt.Sprintf("%d row(s)", len(st.FinalData)), answer)
	return nodeFinalValidation
}

func (e *Engine) finalValidation(r *run) nodeKind {
	st := r.st

	if insufficientRows(st.Intent, len(st.FinalData)) {
		st.Status = core.StatusPartialSuccess
	} else {
		st.Status = core.StatusSuccess
	}
	st.AddThought(string(nodeFinalValidation), st.Answer, string(st.Status))
	return nodeDone
}

// handleFailure classifies err, consults the retry controller, consumes the
// matching budget and routes to the recovery node. The failing SQL travels
// with the error record so the next generation prompt sees it.
func (e *Engine) handleFailure(r *run, err error, node nodeKind, failedSQL string) nodeKind {
	st := r.st

	kind := retry.Classify(err.Error())
	st.RecordError(core.ErrorRecord{
		Kind:           kind,
		Message:        err.Error(),
		FailedSQL:      failedSQL,
		OccurredAtStep: string(node),
	})

	action := e.controller.NextAction(kind, st.ExecutionRetryCount, st.WorkflowRetryCount)
	st.AddThought("HandleError", err.Error(),
		fmt.Sprintf("kind=%s strategy=%s terminate=%t", kind, action.Strategy, action.Terminate))

	if action.Terminate {
		e.fail(st, action.Reason, err)
		return nodeDone
	}

	switch action.Tier {
	case retry.TierExecution:
		st.ExecutionRetryCount++
	case retry.TierWorkflow:
		st.WorkflowRetryCount++
	}
	st.FallbackStrategy = action.Strategy

	e.logger.Info("retrying after classified failure",
		"node", string(node), "kind", string(kind), "strategy", string(action.Strategy),
		"execution_retries", st.ExecutionRetryCount, "workflow_retries", st.WorkflowRetryCount)

	if action.Strategy == core.FallbackRetryExecution {
		if node == nodeFetchSchema {
			return nodeFetchSchema
		}
		return nodeExecuteSQL
	}
	// retry_sql and simplify_query both regenerate; failures before any SQL
	// exists re-enter the failing node instead.
	if node == nodeFetchSchema || node == nodeAnalyzeIntent {
		return node
	}
	return nodeGenerateSQL
}

func (e *Engine) fail(st *core.WorkflowState, reason string, err error) {
	st.Status = core.StatusFailed
	st.FallbackStrategy = core.FallbackFail
	if err != nil {
		st.FailureReason = fmt.Sprintf("%s: %v", reason, err)
	} else {
		st.FailureReason = reason
	}
	e.logger.Error("workflow failed", "reason", st.FailureReason,
		"execution_retries", st.ExecutionRetryCount, "workflow_retries", st.WorkflowRetryCount)
}

// finish performs terminal bookkeeping: cache and pattern writes on success,
// pattern failure counts on failure, session memory for every settled run.
// A cancelled context suppresses all writes so aborted requests leave no
// partial records behind.
func (e *Engine) finish(ctx context.Context, r *run) {
	st := r.st
	if st.Status == core.StatusSuspended {
		return
	}
	elapsedMS := float64(time.Since(r.startedAt).Milliseconds())

	if ctx.Err() == nil && !st.CacheHit {
		template := cache.ExtractTemplate(st.Query)

		switch st.Status {
		case core.StatusSuccess:
			e.writeBack(ctx, r)
			if e.deps.Patterns != nil && st.CurrentSQL != "" {
				e.deps.Patterns.Record(template, cache.AbstractSQL(st.CurrentSQL), true, elapsedMS)
			}
		case core.StatusFailed:
			if e.deps.Patterns != nil {
				e.deps.Patterns.Record(template, "", false, elapsedMS)
			}
		}
	}

	e.sessions.Record(st.SessionID, SessionTurn{
		Question:    st.Query,
		Answer:      st.Answer,
		Status:      st.Status,
		AskedAt:     r.startedAt,
		CacheHit:    st.CacheHit,
		SQLAttempts: len(st.SQLHistory),
	})
}

func (e *Engine) writeBack(ctx context.Context, r *run) {
	if e.deps.Cache == nil {
		return
	}
	st := r.st

	payload, err := json.Marshal(cachePayload{
		Answer:    st.Answer,
		FinalData: st.FinalData,
		Intent:    st.Intent,
		SQL:       st.CurrentSQL,
	})
	if err != nil {
		e.logger.Warn("failed to encode cache payload", "error", err)
		return
	}

	if r.embedding == nil && e.deps.Embedder != nil && e.deps.Semantic != nil {
		if vec, err := e.deps.Embedder.Embed(ctx, r.req.Text); err == nil {
			r.embedding = vec
		}
	}

	e.deps.Cache.Set(&core.CacheEntry{
		Key:        r.key,
		QueryText:  r.req.Text,
		Payload:    payload,
		TTLSeconds: int(e.cfg.CacheTTL.Seconds()),
		Embedding:  r.embedding,
	})
	if e.deps.Semantic != nil && r.embedding != nil {
		e.deps.Semantic.Add(r.key, r.embedding)
	}
}

func (e *Engine) resultLimit(req core.QueryRequest) int {
	if raw := req.ContextOr("limit", ""); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return e.cfg.ResultLimit
}

// insufficientRows applies the supplementation rule: queries want at least 3
// rows, summaries at least 5, anything empty is always insufficient.
func insufficientRows(intent core.Intent, count int) bool {
	if count == 0 {
		return true
	}
	if intent == core.IntentSummary {
		return count < 5
	}
	return count < 3
}

func terminal(s core.Status) bool {
	switch s {
	case core.StatusSuccess, core.StatusPartialSuccess, core.StatusFailed, core.StatusSuspended:
		return true
	}
	return false
}

// mergeRows appends rows from result to acc, skipping records already present.
// Duplicate detection uses the JSON encoding of the row.
func mergeRows(acc []core.Row, result *core.Rows) []core.Row {
	if result == nil {
		return acc
	}

	seen := make(map[string]struct{}, len(acc))
	for _, row := range acc {
		if b, err := json.Marshal(row); err == nil {
			seen[string(b)] = struct{}{}
		}
	}
	for _, row := range result.Records {
		b, err := json.Marshal(row)
		if err != nil {
			acc = append(acc, row)
			continue
		}
		if _, dup := seen[string(b)]; dup {
			continue
		}
		seen[string(b)] = struct{}{}
		acc = append(acc, row)
	}
	return acc
}
