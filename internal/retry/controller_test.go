package retry

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

func TestNextAction_SyntaxRetriesThenTerminates(t *testing.T) {
	c := NewController(3, 2)

	for execRetries := 0; execRetries < 3; execRetries++ {
		a := c.NextAction(core.ErrKindSyntax, execRetries, 0)
		assert.False(t, a.Terminate, "retry %d should not terminate", execRetries)
		assert.Equal(t, core.FallbackRetrySQL, a.Strategy)
		assert.Equal(t, TierExecution, a.Tier)
	}

	a := c.NextAction(core.ErrKindSyntax, 3, 0)
	assert.True(t, a.Terminate)
	assert.Equal(t, core.FallbackFail, a.Strategy)
	assert.NotEmpty(t, a.Reason)
}

// Timeouts never consume the execution budget: the first occurrence already
// hands control to the workflow tier.
func TestNextAction_TimeoutGoesToWorkflowTier(t *testing.T) {
	c := NewController(3, 2)

	a := c.NextAction(core.ErrKindTimeout, 0, 0)
	assert.False(t, a.Terminate)
	assert.Equal(t, core.FallbackSimplifyQuery, a.Strategy)
	assert.Equal(t, TierWorkflow, a.Tier)

	a = c.NextAction(core.ErrKindTimeout, 0, 2)
	assert.True(t, a.Terminate)
}

func TestNextAction_ConnectionRetriesTwice(t *testing.T) {
	c := NewController(5, 2)

	for execRetries := 0; execRetries < 2; execRetries++ {
		a := c.NextAction(core.ErrKindConnection, execRetries, 0)
		assert.False(t, a.Terminate)
		assert.Equal(t, core.FallbackRetryExecution, a.Strategy)
	}

	// Connection errors cap at 2 regardless of the configured execution max.
	a := c.NextAction(core.ErrKindConnection, 2, 0)
	assert.True(t, a.Terminate)
}

func TestNextAction_ObjectNotFoundRegeneratesSQL(t *testing.T) {
	c := NewController(3, 2)

	a := c.NextAction(core.ErrKindObjectNotFound, 1, 0)
	assert.False(t, a.Terminate)
	assert.Equal(t, core.FallbackRetrySQL, a.Strategy)

	a = c.NextAction(core.ErrKindPermission, 3, 0)
	assert.True(t, a.Terminate)
}

func TestNextAction_UnknownRetriedOnceAtWorkflowTier(t *testing.T) {
	c := NewController(3, 2)

	a := c.NextAction(core.ErrKindUnknown, 0, 0)
	assert.False(t, a.Terminate)
	assert.Equal(t, TierWorkflow, a.Tier)

	a = c.NextAction(core.ErrKindUnknown, 0, 1)
	assert.True(t, a.Terminate)
}

// Property: for any sequence of classified failures, a driver that consumes
// budgets per the recommended tier terminates before either counter exceeds
// its configured maximum.
func TestNextAction_BudgetsNeverExceeded(t *testing.T) {
	kinds := []core.ErrorKind{
		core.ErrKindSyntax, core.ErrKindTimeout, core.ErrKindConnection,
		core.ErrKindPermission, core.ErrKindObjectNotFound, core.ErrKindField,
		core.ErrKindUnknown,
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 500; trial++ {
		maxExec := 1 + rng.Intn(5)
		maxFlow := 1 + rng.Intn(3)
		c := NewController(maxExec, maxFlow)

		execRetries, flowRetries := 0, 0
		for step := 0; ; step++ {
			require.Less(t, step, 100, "controller failed to terminate")

			a := c.NextAction(kinds[rng.Intn(len(kinds))], execRetries, flowRetries)
			if a.Terminate {
				break
			}
			switch a.Tier {
			case TierExecution:
				execRetries++
			case TierWorkflow:
				flowRetries++
			}

			require.LessOrEqual(t, execRetries, maxExec)
			require.LessOrEqual(t, flowRetries, maxFlow)
		}
	}
}

func TestNewController_Defaults(t *testing.T) {
	c := NewController(0, -1)
	assert.Equal(t, 3, c.MaxExecutionRetries)
	assert.Equal(t, 2, c.MaxWorkflowRetries)
}
