package domain

import "time"

// TaskStatus is the state machine for a detection task:
// pending -> running -> success | failed. There is no retry within a run.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
)

// DetectionTask tracks one rule's progress within a run. Run-scoped and
// in-memory only; discarded once the summary is emitted.
type DetectionTask struct {
	RuleName   string     `json:"ruleName"`
	Title      string     `json:"title"`
	Status     TaskStatus `json:"status"`
	AlertCount int        `json:"alertCount"`
	StartedAt  time.Time  `json:"startedAt,omitempty"`
	FinishedAt time.Time  `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Duration returns the task's wall time, or zero if it never ran.
func (t DetectionTask) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// RunSummary is the sole surfaced result of a detection run. A run with
// partial failures still reports alerts from the rules that succeeded.
type RunSummary struct {
	RunID       string          `json:"runId"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
	TotalAlerts int             `json:"totalAlerts"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Tasks       []DetectionTask `json:"tasks"`
}
