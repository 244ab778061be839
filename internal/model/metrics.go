package model

import "time"

// DashboardMetrics is a derived, read-only projection of the store. It is
// never persisted; trends compare against a recorded MetricsSnapshot.
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

	AlertsByStatus      map[AlertStatus]int `json:"alertsByStatus"`
	PatchesByStatus     map[PatchStatus]int `json:"patchesByStatus"`
	TasksByStatus       map[TaskStatus]int  `json:"tasksByStatus"`
	AgentsByStatus      map[AgentStatus]int `json:"agentsByStatus"`
	ActiveAgents        int                 `json:"activeAgents"`
	PatchCompletionRate int                 `json:"patchCompletionRate"`
	TaskCompletionRate  int                 `json:"taskCompletionRate"`

	// BaselineAt is when the snapshot used for trends was taken, if any.
	BaselineAt *time.Time `json:"baselineAt,omitempty"`
	ComputedAt time.Time  `json:"computedAt"`
}

// MetricsSnapshot is the persisted baseline for trend computation.
// Version increases monotonically across recordings.
type MetricsSnapshot struct {
	Version         int64     `json:"version"`
	TakenAt         time.Time `json:"takenAt"`
	TotalAlerts     int       `json:"totalAlerts"`
	CriticalAlerts  int       `json:"criticalAlerts"`
	PatchesDeployed int       `json:"patchesDeployed"`
	TasksAutomated  int       `json:"tasksAutomated"`
	SystemUptime    float64   `json:"systemUptime"`
}
