package kanri

// Action is the public view of one unit of work handed to an agent.
type Action struct {
	// Op names the operation, e.g. "remediate" or "deploy-patch".
	Op string
	// AgentType is the agent capability the workflow asked for.
	AgentType string
	Params    map[string]any
	// EntityKind and EntityID identify the alert, patch, or task acted on.
	EntityKind string
	EntityID   string
	WorkflowID string
	EventID    string
	// Attempt counts from 1; retries of a failed patch deployment increment it.
	Attempt int
}

// Agent is the public view of the agent an action was assigned to.
type Agent struct {
	ID             string
	Type           string
	Name           string
	TasksCompleted int
	SuccessRate    float64
}

// Outcome values accepted in Result.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Result is what an Executor reports for one Action. When Outcome is empty
// it is derived from SystemsSucceeded and SystemsFailed.
type Result struct {
	Outcome          string
	Details          string
	SystemsSucceeded int
	SystemsFailed    int
	Progress         int
}
