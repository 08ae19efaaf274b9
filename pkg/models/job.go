package models

import (
	"time"
)

// JobType identifies which pipeline stage a job belongs to.
type JobType string

const (
	JobTypeDataGeneration        JobType = "data_generation"
	JobTypePreprocessing         JobType = "preprocessing"
	JobTypeTraining              JobType = "training"
	JobTypeValidation            JobType = "validation"
	JobTypeMethodologyValidation JobType = "methodology_validation"
	JobTypeScientificValidation  JobType = "scientific_validation"
)

// JobTypes lists every job type in pipeline order.
var JobTypes = []JobType{
	JobTypeDataGeneration,
	JobTypePreprocessing,
	JobTypeTraining,
	JobTypeValidation,
	JobTypeMethodologyValidation,
	JobTypeScientificValidation,
}

func (t JobType) Valid() bool {
	for _, jt := range JobTypes {
		if t == jt {
			return true
		}
	}
	return false
}

// JobStatus is the server-reported state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further progress is expected after s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one server-side unit of work as seen by the client. The server creates it
// on POST and jobwatch polls GET .../{job_id}/status until the status is terminal.
// Result is only set when completed and Error only when failed.
type Job struct {
	ID              string         `json:"id"`
	Type            JobType        `json:"type"`
	Description     string         `json:"description"`
	Status          JobStatus      `json:"status"`
	Progress        int            `json:"progress"`
	CurrentStep     string         `json:"current_step,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// StatusResponse is the body of GET /<resource>/<job_id>/status.
type StatusResponse struct {
	Status      JobStatus      `json:"status"`
	Progress    float64        `json:"progress"`
	CurrentStep string         `json:"current_step,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// ProgressPercent clamps the reported progress into 0..100.
func (r StatusResponse) ProgressPercent() int {
	p := int(r.Progress)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// CreateJobResponse is the body returned by POST /<resource>/<action>.
type CreateJobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}
