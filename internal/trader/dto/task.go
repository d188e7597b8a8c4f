package dto

import "time"

// Task is the payload pushed onto the signal work queue.
type Task struct {
	SignalID   string `json:"signal_id"`
	SignalName string `json:"signal_name"`

	// Scheduled is set when the task resumes a deferred reanalysis.
	Scheduled *ScheduledReanalysis `json:"scheduled,omitempty"`
}

func (t Task) IsResumption() bool {
	return t.Scheduled != nil
}

// ScheduledReanalysis is a persisted request to re-evaluate a signal later.
type ScheduledReanalysis struct {
	SignalID         string    `json:"signal_id"`
	SignalName       string    `json:"signal_name"`
	DueAt            time.Time `json:"due_at"`
	RetryCount       int       `json:"retry_count"`
	MaxRetries       int       `json:"max_retries"`
	DelayReason      string    `json:"delay_reason"`
	DelayQuestion    string    `json:"delay_question"`
	KeyLevels        []float64 `json:"key_levels,omitempty"`
	PriorToolSummary string    `json:"prior_tool_summary,omitempty"`
	SignalSummary    string    `json:"signal_summary,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ScheduleRequest is the input to a scheduling attempt. RetryCount is the
// count of the attempt requesting the delay.
type ScheduleRequest struct {
	SignalID      string
	SignalName    string
	DueAt         time.Time
	Reason        string
	Question      string
	KeyLevels     []float64
	RetryCount    int
	PriorSummary  string
	SignalSummary string
}

// FailedTask is an entry of the failed-task hash.
type FailedTask struct {
	SignalID string    `json:"signal_id"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
