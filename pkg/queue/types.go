package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is the queue used when no queue is specified.
const DefaultQueueName = "default"

// DefaultMaxAttempts is the delivery attempt budget a job gets unless the
// caller overrides it.
const DefaultMaxAttempts int8 = 5

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	// JobStatusPending means the job is waiting for its fire time or for a worker.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing means a worker holds the job under a lease.
	JobStatusProcessing JobStatus = "processing"
)

// Live reports whether the status counts against the one-live-job-per-key
// invariant.
func (s JobStatus) Live() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Job is one scheduled delivery attempt chain. A job is live while pending
// or processing; terminal success deletes it, terminal failure moves it to
// the dead-letter table as a DeadJob.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Queue          string          `json:"queue"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         JobStatus       `json:"status"`
	Attempts       int8            `json:"attempts"`
	MaxAttempts    int8            `json:"max_attempts"`
	ScheduledAt    time.Time       `json:"scheduled_at"`
	LockedUntil    *time.Time      `json:"locked_until,omitempty"`
	LockedBy       *uuid.UUID      `json:"locked_by,omitempty"`
	Error          *string         `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AttemptsExhausted reports whether the job has burned its whole budget.
func (j *Job) AttemptsExhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// DeadJob is a dead-lettered job retained for operational inspection after
// exhausting its retries (or failing terminally). Never consumed by
// workers.
type DeadJob struct {
	ID             uuid.UUID       `json:"id"`
	JobID          uuid.UUID       `json:"job_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Queue          string          `json:"queue"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Error          string          `json:"error"`
	Attempts       int8            `json:"attempts"`
	FailedAt       time.Time       `json:"failed_at"`
	CreatedAt      time.Time       `json:"created_at"`
}
