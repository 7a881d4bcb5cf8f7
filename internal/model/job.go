package model

import "time"

// JobStatus is the lifecycle state of a document-processing job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further automatic
// transitions. A failed job may still be re-queued manually.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is one document-processing run, owned exclusively by the orchestrator.
type Job struct {
	ID              string     `json:"id"`
	DocumentID      string     `json:"document_id"`
	Status          JobStatus  `json:"status"`
	CurrentStage    Stage      `json:"current_stage"`
	ProgressPercent int        `json:"progress_percent"`
	RetryCount      int        `json:"retry_count"`
	FailedUnits     int        `json:"failed_units"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	LastProgressAt  time.Time  `json:"last_progress_at"`
}

// StuckSince reports whether the job has made no progress since the cutoff.
// Only processing jobs can be stuck.
func (j *Job) StuckSince(cutoff time.Time) bool {
	return j.Status == JobStatusProcessing && j.LastProgressAt.Before(cutoff)
}
