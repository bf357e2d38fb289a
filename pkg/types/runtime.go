package types

import "time"

// RunRecord is the outcome of one execution of a workflow graph.
type RunRecord struct {
	RunID       string     `json:"runId"`
	Workflow    string     `json:"workflow"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Failed      []string   `json:"failed,omitempty"`
	Blocked     []string   `json:"blocked,omitempty"`
	Skipped     []string   `json:"skipped,omitempty"`
}

// StepRun records one attempt of one node.
type StepRun struct {
	RunID       string     `json:"runId"`
	NodeID      string     `json:"nodeId"`
	Attempt     int        `json:"attempt"`
	Status      StepStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	Rows        int64      `json:"rows"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Alert represents an alert event to be dispatched.
type Alert struct {
	AlertID   string                 `json:"alertId,omitempty"`
	Level     AlertLevel             `json:"level"`
	Category  string                 `json:"alertType,omitempty"`
	Workflow  string                 `json:"workflow,omitempty"`
	NodeID    string                 `json:"nodeId,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
