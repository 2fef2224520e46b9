package domain

import (
	"encoding/json"
	"time"
)

// ResultBody is the artifact produced by a successful task.
type ResultBody struct {
	Content   string `json:"content"`
	Extension string `json:"extension"`
}

type ErrorInfo struct {
	Message  string `json:"message"`
	WorkerID string `json:"worker_id,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// Submission is what a worker posts to /submit-result and keeps in its outbox
// until the hub acknowledges it.
type Submission struct {
	JobID           string          `json:"job_id"`
	Pipeline        Pipeline        `json:"pipeline"`
	Status          JobStatus       `json:"status"`
	Result          *ResultBody     `json:"result,omitempty"`
	Error           *ErrorInfo      `json:"error,omitempty"`
	OriginalJobData json.RawMessage `json:"original_job_data,omitempty"`
	WorkerID        string          `json:"worker_id,omitempty"`
}

// DeadLetter is one line of the dead-letter log. JobContextForResubmit is kept
// verbatim so resubmission replays exactly what the worker received.
type DeadLetter struct {
	Timestamp             time.Time       `json:"timestamp"`
	FailedJobID           string          `json:"failed_job_id"`
	PipelineName          Pipeline        `json:"pipeline_name"`
	ErrorInfo             ErrorInfo       `json:"error_info"`
	JobContextForResubmit json.RawMessage `json:"job_context_for_resubmit"`
}
