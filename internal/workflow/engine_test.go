package workflow

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/geoquery/internal/cache"
	"github.com/leapstack-labs/geoquery/pkg/core"
)

const (
	clearIntentJSON   = `{"intent":"query","requires_spatial":false,"clear":true,"confidence":0.9}`
	summaryIntentJSON = `{"intent":"summary","requires_spatial":false,"clear":true,"confidence":0.9}`
	unclearIntentJSON = `{"intent":"query","requires_spatial":false,"clear":false,"confidence":0.3,"clarification":"Which city do you mean?"}`
)

// fakeLLM serves scripted intent and SQL responses. The last entry of each
// script repeats once exhausted.
type fakeLLM struct {
	mu              sync.Mutex
	intentResponses []string
	sqlResponses    []string
	sqlPrompts      []string
	calls           int
	err             error
}

func (f *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(prompt, "intent analyst") {
		return pop(&f.intentResponses), nil
	}
	f.sqlPrompts = append(f.sqlPrompts, prompt)
	return pop(&f.sqlResponses), nil
}

func pop(script *[]string) string {
	s := *script
	if len(s) == 0 {
		return ""
	}
	head := s[0]
	if len(s) > 1 {
		*script = s[1:]
	}
	return head
}

type outcome struct {
	rows *core.Rows
	err  error
}

// fakeExecutor serves scripted outcomes; the last one repeats.
type fakeExecutor struct {
	mu         sync.Mutex
	outcomes   []outcome
	sqls       []string
	reconnects int
}

func (f *fakeExecutor) Execute(_ context.Context, sql string) (*core.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sqls = append(f.sqls, sql)

	if len(f.outcomes) == 0 {
		return &core.Rows{}, nil
	}
	out := f.outcomes[0]
	if len(f.outcomes) > 1 {
		f.outcomes = f.outcomes[1:]
	}
	return out.rows, out.err
}

func (f *fakeExecutor) Reconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sqls)
}

type fakeSchema struct{}

func (fakeSchema) Fetch(_ context.Context) (string, error) {
	return "Table a_sight:\n  - name (text)\n  - level (text)\n  - geom (geometry)", nil
}

type fakeSynth struct{}

func (fakeSynth) Synthesize(_ context.Context, _ string, _ core.Intent, rows []core.Row) (string, error) {
	return fmt.Sprintf("answer covering %d row(s)", len(rows)), nil
}

type fakeEmbedder struct{ vec []float32 }

func (f fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vec, nil
}

func sqlResponse(sql string) string {
	return "```sql\n" + sql + "\n```"
}

func rowsN(n int) *core.Rows {
	r := &core.Rows{Columns: []string{"name"}}
	for i := 0; i < n; i++ {
		r.Records = append(r.Records, core.Row{"name": fmt.Sprintf("sight-%d", i)})
	}
	return r
}

type harness struct {
	gen      *fakeLLM
	exec     *fakeExecutor
	store    *cache.Store
	semantic *cache.SemanticIndex
	patterns *cache.PatternLearner
	engine   *Engine
}

func newHarness(t *testing.T, gen *fakeLLM, exec *fakeExecutor, embedder core.Embedder) *harness {
	t.Helper()

	store := cache.NewStore(cache.StoreConfig{})
	semantic := cache.NewSemanticIndex(store, nil)
	patterns := cache.NewPatternLearner(cache.LearnerConfig{})

	engine, err := NewEngine(Deps{
		Generator:   gen,
		Executor:    exec,
		Schema:      fakeSchema{},
		Synthesizer: fakeSynth{},
		Embedder:    embedder,
		Cache:       store,
		Semantic:    semantic,
		Patterns:    patterns,
	}, Config{})
	require.NoError(t, err)

	return &harness{gen: gen, exec: exec, store: store, semantic: semantic, patterns: patterns, engine: engine}
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Deps{}, Config{})
	require.Error(t, err)
}

func TestEngine_SuccessPath(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{clearIntentJSON},
		sqlResponses:    []string{sqlResponse("SELECT name FROM a_sight LIMIT 10")},
	}
	exec := &fakeExecutor{outcomes: []outcome{{rows: rowsN(3)}}}
	h := newHarness(t, gen, exec, nil)

	st := h.engine.Run(context.Background(), core.QueryRequest{Text: "list the parks in hangzhou"})

	assert.Equal(t, core.StatusSuccess, st.Status)
	assert.Equal(t, "answer covering 3 row(s)", st.Answer)
	assert.Len(t, st.SQLHistory, 1)
	assert.Len(t, st.FinalData, 3)
	assert.False(t, st.CacheHit)
	assert.NotEmpty(t, st.ThoughtChain)

	// Success is written back to the exact cache and the pattern learner.
	_, ok := h.store.Get(cache.DeriveKey("list the parks in hangzhou", nil))
	assert.True(t, ok)
	hint, ok := h.patterns.Suggest(cache.ExtractTemplate("list the parks in hangzhou"))
	require.True(t, ok)
	assert.Contains(t, hint, "SELECT name FROM a_sight LIMIT ?")
}

func TestEngine_RetriesAfterSyntaxErrors(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{clearIntentJSON},
		sqlResponses: []string{
			sqlResponse("SELECT nme FROM a_sight"),
			sqlResponse("SELECT name FORM a_sight"),
			sqlResponse("SELECT name FROM a_sight LIMIT 10"),
		},
	}
	exec := &fakeExecutor{outcomes: []outcome{
		{err: fmt.Errorf(`syntax error at or near "FORM"`)},
		{err: fmt.Errorf(`syntax error at or near "nme"`)},
		{rows: rowsN(3)},
	}}
	h := newHarness(t, gen, exec, nil)

	st := h.engine.Run(context.Background(), core.QueryRequest{Text: "list parks"})

	assert.Equal(t, core.StatusSuccess, st.Status)
	assert.Len(t, st.SQLHistory, 3)
	assert.Len(t, st.ErrorHistory, 2)
	assert.Equal(t, 2, st.ExecutionRetryCount)
	assert.Equal(t, 0, st.WorkflowRetryCount)

	// Repair prompts carry the failed SQL and error verbatim.
	require.Len(t, gen.sqlPrompts, 3)
	assert.Contains(t, gen.sqlPrompts[1], "previous attempt failed")
	assert.Contains(t, gen.sqlPrompts[1], "SELECT nme FROM a_sight")
	assert.Contains(t, gen.sqlPrompts[2], `syntax error at or near "nme"`)
}

func TestEngine_TimeoutSimplifiesAtWorkflowTier(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{clearIntentJSON},
		sqlResponses: []string{
			sqlResponse("SELECT * FROM a_sight a JOIN province p ON ST_Contains(p.geom, a.geom)"),
			sqlResponse("SELECT name FROM a_sight LIMIT 100"),
		},
	}
	exec := &fakeExecutor{outcomes: []outcome{
		{err: fmt.Errorf("canceling statement due to statement timeout")},
		{rows: rowsN(4)},
	}}
	h := newHarness(t, gen, exec, nil)

	st := h.engine.Run(context.Background(), core.QueryRequest{Text: "list parks near lakes"})

	assert.Equal(t, core.StatusSuccess, st.Status)
	// Timeouts consume workflow budget only: the failing SQL ran exactly once.
	assert.Equal(t, 0, st.ExecutionRetryCount)
	assert.Equal(t, 1, st.WorkflowRetryCount)
	require.Len(t, gen.sqlPrompts, 2)
	assert.Contains(t, gen.sqlPrompts[1], "timed out")
	assert.Contains(t, gen.sqlPrompts[1], "LIMIT")
}

func TestEngine_ConnectionErrorReusesSQLAfterReconnect(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{clearIntentJSON},
		sqlResponses:    []string{sqlResponse("SELECT name FROM a_sight LIMIT 10")},
	}
	exec := &fakeExecutor{outcomes: []outcome{
		{err: fmt.Errorf("connection refused")},
		{rows: rowsN(3)},
	}}
	h := newHarness(t, gen, exec, nil)

	st := h.engine.Run(context.Background(), core.QueryRequest{Text: "list parks"})

	assert.Equal(t, core.StatusSuccess, st.Status)
	assert.Equal(t, 1, exec.reconnects)
	// Same SQL, no regeneration.
	assert.Len(t, st.SQLHistory, 1)
	assert.Equal(t, exec.sqls[0], exec.sqls[1])
}

func TestEngine_FailsWhenExecutionBudgetExhausted(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{clearIntentJSON},
		sqlResponses:    []string{sqlResponse("SELECT broken FROM a_sight")},
	}
	exec := &fakeExecutor{outcomes: []outcome{{err: fmt.Errorf("syntax error at or near")}}}
	h := newHarness(t, gen, exec, nil)

	st := h.engine.Run(context.Background(), core.QueryRequest{Text: "list parks"})

	assert.Equal(t, core.StatusFailed, st.Status)
	assert.Equal(t, core.FallbackFail, st.FallbackStrategy)
	assert.Contains(t, st.FailureReason, "execution retries exhausted")
	assert.Equal(t, 3, st.ExecutionRetryCount)
	assert.Len(t, st.SQLHistory, 4)

	// Failures are counted against the pattern, never suggested.
	_, ok := h.patterns.Suggest(cache.ExtractTemplate("list parks"))
	assert.False(t, ok)

	// Nothing cached for a failed run.
	_, ok = h.store.Get(cache.DeriveKey("list parks", nil))
	assert.False(t, ok)
}

func TestEngine_ExactCacheHitSkipsCollaborators(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{clearIntentJSON},
		sqlResponses:    []string{sqlResponse("SELECT name FROM a_sight LIMIT 10")},
	}
	exec := &fakeExecutor{outcomes: []outcome{{rows: rowsN(3)}}}
	h := newHarness(t, gen, exec, nil)

	req := core.QueryRequest{Text: "list the parks in hangzhou"}
	first := h.engine.Run(context.Background(), req)
	require.Equal(t, core.StatusSuccess, first.Status)

	genCalls, execCalls := gen.calls, exec.calls()
	second := h.engine.Run(context.Background(), req)

	assert.Equal(t, core.StatusSuccess, second.Status)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "exact", second.CacheHitTier)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.FinalData, second.FinalData)
	assert.Equal(t, genCalls, gen.calls, "cache hit must not call the generator")
	assert.Equal(t, execCalls, exec.calls(), "cache hit must not call the executor")
}

func TestEngine_ContextChangesCacheIdentity(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{clearIntentJSON, clearIntentJSON},
		sqlResponses: []string{
			sqlResponse("SELECT name FROM a_sight LIMIT 10"),
			sqlResponse("SELECT name FROM a_sight LIMIT 5"),
		},
	}
	exec := &fakeExecutor{outcomes: []outcome{{rows: rowsN(3)}}}
	h := newHarness(t, gen, exec, nil)

	first := h.engine.Run(context.Background(), core.QueryRequest{Text: "list parks"})
	require.Equal(t, core.StatusSuccess, first.Status)

	// Same text, different execution context: must not reuse the entry.
	second := h.engine.Run(context.Background(), core.QueryRequest{
		Text:    "list parks",
		Context: map[string]string{"limit": "5"},
	})
	assert.False(t, second.CacheHit)
}

func TestEngine_SemanticCacheHit(t *testing.T) {
	vec := []float32{0.1, 0.7, 0.2}
	gen := &fakeLLM{
		intentResponses: []string{clearIntentJSON},
		sqlResponses:    []string{sqlResponse("SELECT name FROM a_sight LIMIT 10")},
	}
	exec := &fakeExecutor{outcomes: []outcome{{rows: rowsN(3)}}}
	h := newHarness(t, gen, exec, fakeEmbedder{vec: vec})

	first := h.engine.Run(context.Background(), core.QueryRequest{Text: "list parks near west lake"})
	require.Equal(t, core.StatusSuccess, first.Status)
	require.Equal(t, 1, h.semantic.Len())

	second := h.engine.Run(context.Background(), core.QueryRequest{Text: "show me parks around west lake"})

	assert.True(t, second.CacheHit)
	assert.Equal(t, "semantic", second.CacheHitTier)
	assert.Equal(t, first.Answer, second.Answer)
}

func TestEngine_SummarySupplementationLoop(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{summaryIntentJSON},
		sqlResponses: []string{
			sqlResponse("SELECT level, count(*) FROM a_sight WHERE level = '5A' GROUP BY level"),
			sqlResponse("SELECT level, count(*) FROM a_sight GROUP BY level"),
		},
	}
	exec := &fakeExecutor{outcomes: []outcome{
		{rows: rowsN(1)},
		{rows: rowsN(6)}, // includes the first row again; merge dedupes
	}}
	h := newHarness(t, gen, exec, nil)

	st := h.engine.Run(context.Background(), core.QueryRequest{Text: "how many attractions per level"})

	assert.Equal(t, core.StatusSuccess, st.Status)
	assert.Equal(t, 1, st.StepCount, "exactly one supplementation round")
	assert.Len(t, st.SQLHistory, 2)
	assert.Len(t, st.FinalData, 6)
	assert.Empty(t, st.ErrorHistory)

	require.Len(t, gen.sqlPrompts, 2)
	assert.Contains(t, gen.sqlPrompts[1], "returned only 1 row(s)")
	assert.Contains(t, gen.sqlPrompts[1], "WHERE level = '5A'")
}

func TestEngine_PartialSuccessWhenRowsStayInsufficient(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{clearIntentJSON},
		sqlResponses: []string{
			sqlResponse("SELECT name FROM a_sight WHERE level = '5A'"),
			sqlResponse("SELECT name FROM a_sight WHERE level IN ('5A','4A')"),
			sqlResponse("SELECT name FROM a_sight WHERE level IS NOT NULL"),
			sqlResponse("SELECT name FROM a_sight"),
		},
	}
	// The same single row every time: merging never grows the result.
	exec := &fakeExecutor{outcomes: []outcome{{rows: rowsN(1)}}}
	h := newHarness(t, gen, exec, nil)

	st := h.engine.Run(context.Background(), core.QueryRequest{Text: "list rare attractions"})

	assert.Equal(t, core.StatusPartialSuccess, st.Status)
	assert.Equal(t, 3, st.StepCount)
	assert.Len(t, st.SQLHistory, 4)
	assert.Len(t, st.FinalData, 1)
	assert.NotEmpty(t, st.Answer)
}

func TestEngine_SuspendAndResume(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{unclearIntentJSON, clearIntentJSON},
		sqlResponses:    []string{sqlResponse("SELECT name FROM a_sight LIMIT 10")},
	}
	exec := &fakeExecutor{outcomes: []outcome{{rows: rowsN(3)}}}
	h := newHarness(t, gen, exec, nil)

	st := h.engine.Run(context.Background(), core.QueryRequest{Text: "parks"})
	require.Equal(t, core.StatusSuspended, st.Status)
	require.NotEmpty(t, st.ResumptionToken)
	assert.Equal(t, "Which city do you mean?", st.ClarificationPrompt)
	assert.Equal(t, 0, exec.calls())

	resumed, err := h.engine.Resume(context.Background(), st.ResumptionToken, "in Hangzhou")
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, resumed.Status)
	assert.Contains(t, resumed.Query, "(clarification: in Hangzhou)")

	// Tokens are single-use.
	_, err = h.engine.Resume(context.Background(), st.ResumptionToken, "again")
	require.Error(t, err)
}

func TestEngine_ResumeUnknownToken(t *testing.T) {
	h := newHarness(t, &fakeLLM{}, &fakeExecutor{}, nil)
	_, err := h.engine.Resume(context.Background(), "no-such-token", "x")
	require.Error(t, err)
}

func TestEngine_KeywordFallbackWhenIntentUnparseable(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{"I believe the user wants a list of things."},
		sqlResponses:    []string{sqlResponse("SELECT count(*) FROM a_sight")},
	}
	exec := &fakeExecutor{outcomes: []outcome{{rows: rowsN(5)}}}
	h := newHarness(t, gen, exec, nil)

	st := h.engine.Run(context.Background(), core.QueryRequest{Text: "how many 5a attractions are there"})

	assert.Equal(t, core.StatusSuccess, st.Status)
	assert.Equal(t, core.IntentSummary, st.Intent)
}

func TestEngine_ContextHintsOverrideClassification(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{clearIntentJSON}, // says query, not spatial
		sqlResponses:    []string{sqlResponse("SELECT count(*) FROM a_sight")},
	}
	exec := &fakeExecutor{outcomes: []outcome{{rows: rowsN(5)}}}
	h := newHarness(t, gen, exec, nil)

	st := h.engine.Run(context.Background(), core.QueryRequest{
		Text:    "attractions report",
		Context: map[string]string{"intent": "summary", "spatial": "true"},
	})

	assert.Equal(t, core.IntentSummary, st.Intent)
	assert.True(t, st.RequiresSpatial)
}

func TestEngine_CancelledContextWritesNothing(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{clearIntentJSON},
		sqlResponses:    []string{sqlResponse("SELECT name FROM a_sight")},
	}
	h := newHarness(t, gen, &fakeExecutor{outcomes: []outcome{{rows: rowsN(3)}}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := h.engine.Run(ctx, core.QueryRequest{Text: "list parks"})

	assert.Equal(t, core.StatusFailed, st.Status)
	assert.Contains(t, st.FailureReason, "cancelled")
	assert.Equal(t, 0, h.store.Stats().Size)
	assert.Equal(t, 0, h.patterns.Len())
}

func TestEngine_SessionMemoryRecordsTurns(t *testing.T) {
	gen := &fakeLLM{
		intentResponses: []string{clearIntentJSON},
		sqlResponses:    []string{sqlResponse("SELECT name FROM a_sight LIMIT 10")},
	}
	exec := &fakeExecutor{outcomes: []outcome{{rows: rowsN(3)}}}
	h := newHarness(t, gen, exec, nil)

	st := h.engine.Run(context.Background(), core.QueryRequest{Text: "list parks", SessionID: "s-1"})
	require.Equal(t, core.StatusSuccess, st.Status)

	turns := h.engine.SessionHistory("s-1")
	require.Len(t, turns, 1)
	assert.Equal(t, "list parks", turns[0].Question)
	assert.Equal(t, core.StatusSuccess, turns[0].Status)
	assert.Equal(t, 1, turns[0].SQLAttempts)

	assert.Empty(t, h.engine.SessionHistory("s-2"))
}

// TestEngine_RetryBudgetsNeverExceeded drives runs against randomized failure
// sequences and checks that every run terminates within both budgets.
func TestEngine_RetryBudgetsNeverExceeded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	failures := []string{
		"syntax error at or near",
		"canceling statement due to statement timeout",
		"connection refused",
		`relation "ghosts" does not exist`,
		`column "nme" does not exist`,
		"something inexplicable happened",
	}

	for trial := 0; trial < 100; trial++ {
		var outcomes []outcome
		for i := 0; i < 12; i++ {
			if rng.Intn(3) == 0 {
				outcomes = append(outcomes, outcome{rows: rowsN(3 + rng.Intn(5))})
			} else {
				outcomes = append(outcomes, outcome{err: fmt.Errorf("%s", failures[rng.Intn(len(failures))])})
			}
		}
		outcomes = append(outcomes, outcome{rows: rowsN(5)})

		gen := &fakeLLM{
			intentResponses: []string{clearIntentJSON},
			sqlResponses:    []string{sqlResponse("SELECT name FROM a_sight LIMIT 10")},
		}
		h := newHarness(t, gen, &fakeExecutor{outcomes: outcomes}, nil)

		st := h.engine.Run(context.Background(), core.QueryRequest{Text: fmt.Sprintf("trial %d parks", trial)})

		assert.LessOrEqual(t, st.ExecutionRetryCount, 3, "trial %d", trial)
		assert.LessOrEqual(t, st.WorkflowRetryCount, 2, "trial %d", trial)
		assert.Contains(t, []core.Status{
			core.StatusSuccess, core.StatusPartialSuccess, core.StatusFailed,
		}, st.Status, "trial %d", trial)
	}
}
