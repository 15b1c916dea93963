package retry

import "github.com/leapstack-labs/geoquery/pkg/core"

// Tier names which retry budget an action consumes.
type Tier int

const (
	// TierNone consumes no budget (terminal actions).
	TierNone Tier = iota
	// TierExecution consumes the execution-level budget.
	TierExecution
	// TierWorkflow consumes the workflow-level budget.
	TierWorkflow
)

// Action is the controller's verdict for one classified failure.
type Action struct {
	Strategy  core.FallbackStrategy
	Tier      Tier
	Terminate bool
	// Reason explains a terminal verdict for the failure report.
	Reason string
}

// Controller enforces the two independent retry budgets and maps error kinds
// to fallback strategies. Total retries per request are bounded by
// MaxExecutionRetries plus MaxWorkflowRetries consumed independently, so a
// request can never loop unbounded.
type Controller struct {
	MaxExecutionRetries int
	MaxWorkflowRetries  int
}

// NewController returns a controller with the given budgets. Non-positive
// values fall back to the defaults (3 execution, 2 workflow).
func NewController(maxExec, maxFlow int) *Controller {
	if maxExec <= 0 {
		maxExec = 3
	}
	if maxFlow <= 0 {
		maxFlow = 2
	}
	return &Controller{MaxExecutionRetries: maxExec, MaxWorkflowRetries: maxFlow}
}

// NextAction decides how to proceed after a failure of the given kind, given
// the retries already consumed at each tier. It never recommends a strategy
// once the relevant counter is exhausted.
func (c *Controller) NextAction(kind core.ErrorKind, execRetries, flowRetries int) Action {
	switch kind {
	case core.ErrKindSyntax, core.ErrKindField:
		if execRetries >= c.MaxExecutionRetries {
			return Action{Strategy: core.FallbackFail, Terminate: true,
				Reason: "execution retries exhausted regenerating SQL"}
		}
		return Action{Strategy: core.FallbackRetrySQL, Tier: TierExecution}

	case core.ErrKindTimeout:
		// Timeouts are never retried at the execution tier: one occurrence
		// returns control to the workflow tier, which may regenerate a
		// simplified query.
		if flowRetries >= c.MaxWorkflowRetries {
			return Action{Strategy: core.FallbackFail, Terminate: true,
				Reason: "workflow retries exhausted after query timeout"}
		}
		return Action{Strategy: core.FallbackSimplifyQuery, Tier: TierWorkflow}

	case core.ErrKindConnection:
		if execRetries >= 2 {
			return Action{Strategy: core.FallbackFail, Terminate: true,
				Reason: "database unreachable after repeated connection attempts"}
		}
		return Action{Strategy: core.FallbackRetryExecution, Tier: TierExecution}

	case core.ErrKindObjectNotFound, core.ErrKindPermission:
		if execRetries >= c.MaxExecutionRetries {
			return Action{Strategy: core.FallbackFail, Terminate: true,
				Reason: "execution retries exhausted; referenced object unusable"}
		}
		// Must not reuse the same SQL: regenerate against the schema.
		return Action{Strategy: core.FallbackRetrySQL, Tier: TierExecution}

	default: // ErrKindUnknown and anything unclassified
		if flowRetries >= 1 {
			return Action{Strategy: core.FallbackFail, Terminate: true,
				Reason: "unclassified error recurred"}
		}
		return Action{Strategy: core.FallbackRetrySQL, Tier: TierWorkflow}
	}
}
