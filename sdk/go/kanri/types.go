package kanri

import "time"

// Event kinds accepted by SubmitEvent.
const (
	EventAlertCreated   = "alert-created"
	EventAlertUpdated   = "alert-updated"
	EventPatchAvailable = "patch-available"
	EventTaskRequested  = "task-requested"
	EventScheduleTick   = "schedule-tick"
	EventManual         = "manual"
)

// Agent work outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// EntityRef names an alert, patch, or task.
type EntityRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// SubmitEventResponse is returned by POST /api/events.
type SubmitEventResponse struct {
	Token  string    `json:"token"`
	Entity EntityRef `json:"entity"`
}

// Alert is an operational alert.
type Alert struct {
	ID              string     `json:"id"`
	Severity        string     `json:"severity"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Source          string     `json:"source"`
	Timestamp       time.Time  `json:"timestamp"`
	Status          string     `json:"status"`
	AffectedSystems []string   `json:"affectedSystems"`
	AutoRemediated  bool       `json:"autoRemediated"`
	AgentAction     *string    `json:"agentAction,omitempty"`
	RootCause       *string    `json:"rootCause,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
}

// Patch is a software patch rolling out across systems.
type Patch struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Version              string     `json:"version"`
	Severity             string     `json:"severity"`
	AffectedSystems      int        `json:"affectedSystems"`
	Status               string     `json:"status"`
	CompletionPercentage int        `json:"completionPercentage"`
	CanRollback          bool       `json:"canRollback"`
	DeployedAt           *time.Time `json:"deployedAt,omitempty"`
	ScheduledFor         *time.Time `json:"scheduledFor,omitempty"`
	PolicyID             string     `json:"policyId,omitempty"`
}

// PatchPolicy controls how patches are deployed.
type PatchPolicy struct {
	ID                string `json:"id,omitempty"`
	Name              string `json:"name"`
	AutoDeployment    bool   `json:"autoDeployment"`
	MaintenanceWindow string `json:"maintenanceWindow"`
	TestPhaseRequired bool   `json:"testPhaseRequired"`
	ApprovalRequired  bool   `json:"approvalRequired"`
}

// RoutineTask is a user-requested IT task.
type RoutineTask struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	RequestedBy string     `json:"requestedBy"`
	RequestedAt time.Time  `json:"requestedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	AutomatedBy string     `json:"automatedBy"`
}

// Agent is a registered automation worker.
type Agent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	CurrentTask    *string   `json:"currentTask,omitempty"`
	TasksCompleted int       `json:"tasksCompleted"`
	SuccessRate    float64   `json:"successRate"`
	LastActive     time.Time `json:"lastActive"`
}

// CompleteRequest reports the outcome of deferred agent work.
type CompleteRequest struct {
	Outcome          string `json:"outcome"`
	Details          string `json:"details,omitempty"`
	SystemsSucceeded int    `json:"systemsSucceeded,omitempty"`
	SystemsFailed    int    `json:"systemsFailed,omitempty"`
	Progress         int    `json:"progress,omitempty"`
}

// Activity is one entry in the automation trail.
type Activity struct {
	ID          string    `json:"id"`
	Sequence    int64     `json:"sequence"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Outcome     string    `json:"outcome"`
	Timestamp   time.Time `json:"timestamp"`
	AgentID     string    `json:"agentId"`
	AgentName   string    `json:"agentName"`
	Details     *string   `json:"details,omitempty"`
	WorkflowID  string    `json:"workflowId,omitempty"`
	EventID     string    `json:"eventId,omitempty"`
	Entity      EntityRef `json:"entity"`
}

// ActivityFilter narrows ListAutomations. Zero fields are ignored.
type ActivityFilter struct {
	EntityKind string
	EntityID   string
	AgentID    string
	WorkflowID string
	EventID    string
	Outcome    string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// RootCauseAnalysis is the post-incident analysis of a resolved alert.
type RootCauseAnalysis struct {
	ID                 string    `json:"id"`
	AlertID            string    `json:"alertId"`
	Timestamp          time.Time `json:"timestamp"`
	RootCause          string    `json:"rootCause"`
	AffectedComponents []string  `json:"affectedComponents"`
	Recommendation     string    `json:"recommendation"`
	PreventionSteps    []string  `json:"preventionSteps"`
	Confidence         float64   `json:"confidence"`
	ActivityIDs        []string  `json:"activityIds,omitempty"`
}

// DashboardMetrics are headline counts with trends.
type DashboardMetrics struct {
	TotalAlerts          int     `json:"totalAlerts"`
	CriticalAlerts       int     `json:"criticalAlerts"`
	AlertTrend           int     `json:"alertTrend"`
	PatchesDeployed      int     `json:"patchesDeployed"`
	PatchesDeployedTrend int     `json:"patchesDeployedTrend"`
	TasksAutomated       int     `json:"tasksAutomated"`
	TasksAutomatedTrend  int     `json:"tasksAutomatedTrend"`
	SystemUptime         float64 `json:"systemUptime"`
	UptimeTrend          int     `json:"uptimeTrend"`

	AlertsByStatus      map[string]int `json:"alertsByStatus"`
	PatchesByStatus     map[string]int `json:"patchesByStatus"`
	TasksByStatus       map[string]int `json:"tasksByStatus"`
	AgentsByStatus      map[string]int `json:"agentsByStatus"`
	ActiveAgents        int            `json:"activeAgents"`
	PatchCompletionRate int            `json:"patchCompletionRate"`
	TaskCompletionRate  int            `json:"taskCompletionRate"`

	BaselineAt *time.Time `json:"baselineAt,omitempty"`
	ComputedAt time.Time  `json:"computedAt"`
}

// WorkflowNode is one node of a workflow graph.
type WorkflowNode struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Label  string         `json:"label"`
	Config map[string]any `json:"config"`
}

// Workflow is a trigger → condition → action graph.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Enabled     bool           `json:"enabled"`
	Nodes       []WorkflowNode `json:"nodes"`
	CreatedAt   time.Time      `json:"createdAt,omitzero"`
	LastRun     *time.Time     `json:"lastRun,omitempty"`
	LoadError   string         `json:"loadError,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Storage     string `json:"storage"`
	QueueDepth  int    `json:"queue_depth"`
	QueueStatus string `json:"queue_status"`
	Uptime      int64  `json:"uptime_seconds"`
}
