package models

import "time"

// JobStatus is the lifecycle state of a single analysis job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobTimedOut  JobStatus = "timed_out"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobTimedOut
}

// AnalysisParams are the knobs forwarded to the analysis service.
type AnalysisParams struct {
	Period   string   `json:"period,omitempty"`
	Analysts []string `json:"analysts,omitempty"`
	Model    string   `json:"model,omitempty"`
}

// AnalysisJob is one unit of work inside a batch.
type AnalysisJob struct {
	ID     string         `json:"id"`
	Symbol string         `json:"symbol"`
	Params AnalysisParams `json:"params"`
}

// JobRecord is the outcome of one job as observed by the batch.
type JobRecord struct {
	JobID      string          `json:"job_id"`
	Symbol     string          `json:"symbol"`
	Status     JobStatus       `json:"status"`
	Result     *AnalysisResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Saved      bool            `json:"saved"`
	SaveError  string          `json:"save_error,omitempty"`
	RecordID   string          `json:"record_id,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitzero"`
	FinishedAt time.Time       `json:"finished_at,omitzero"`
}

// Duration returns how long the job ran, zero if it never started or finished.
func (r JobRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// BatchResult is the aggregate returned once every job of a batch is terminal.
type BatchResult struct {
	BatchID   string        `json:"batch_id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	TimedOut  int           `json:"timed_out"`
	Elapsed   time.Duration `json:"elapsed"`
	Records   []JobRecord   `json:"records"`
}

// BatchState tells whether a tracked batch is still running.
type BatchState string

const (
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
)

// BatchStatus is a point-in-time view of a tracked batch.
type BatchStatus struct {
	BatchID    string      `json:"batch_id"`
	State      BatchState  `json:"state"`
	Total      int         `json:"total"`
	Completed  int         `json:"completed"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	TimedOut   int         `json:"timed_out"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Records    []JobRecord `json:"records"`
}
