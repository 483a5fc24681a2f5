package domain

import (
	"encoding/json"
	"time"
)

// JobType names the background work a job performs
type JobType string

const (
	JobSyncUser   JobType = "sync_user"
	JobRenewWatch JobType = "renew_watch"
	JobPrune      JobType = "prune"
)

func (t JobType) Valid() bool {
	switch t {
	case JobSyncUser, JobRenewWatch, JobPrune:
		return true
	}
	return false
}

// JobStatus is the lifecycle state kept for every job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Job is the payload pushed onto the queue
type Job struct {
	ID         string    `json:"id"`
	Type       JobType   `json:"type"`
	UserID     string    `json:"user_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// JobState is what callers can poll while a job runs
type JobState struct {
	ID         string          `json:"id"`
	Type       JobType         `json:"type"`
	UserID     string          `json:"user_id"`
	Status     JobStatus       `json:"status"`
	Attempt    int             `json:"attempt"`
	WorkerID   string          `json:"worker_id,omitempty"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	RetryAt    *time.Time      `json:"retry_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
