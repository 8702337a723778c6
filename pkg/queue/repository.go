package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository defines the persistence surface for job creation.
type EnqueuerRepository interface {
	// CreateJob persists a new job. Returns ErrDuplicateJob when a live job
	// with the same idempotency key already exists.
	CreateJob(ctx context.Context, job *Job) error

	// GetLiveJobByKey returns the pending or processing job for an
	// idempotency key, or ErrJobNotFound.
	GetLiveJobByKey(ctx context.Context, idempotencyKey string) (*Job, error)

	// DeleteJob removes a pending job (cancellation path). Returns
	// ErrJobNotPending when the job is already claimed.
	DeleteJob(ctx context.Context, jobID uuid.UUID) error
}

// WorkerRepository defines the persistence surface for dispatch workers.
type WorkerRepository interface {
	// ClaimJob atomically claims the next due job under a lease. The lease
	// guarantees at most one claimer until it expires; an expired lease makes
	// the job reclaimable so a crashed worker cannot stall a post forever.
	ClaimJob(ctx context.Context, workerID uuid.UUID, queues []string, lease time.Duration) (*Job, error)

	// CompleteJob marks terminal success and removes the job.
	CompleteJob(ctx context.Context, jobID uuid.UUID) error

	// RetryJob reschedules the job after a failed attempt: increments the
	// attempt counter, records the error, releases the lease, and delays the
	// next claim by the given duration. Attempt counting is owned here, not
	// inferred from any worker-side state.
	RetryJob(ctx context.Context, jobID uuid.UUID, errMsg string, delay time.Duration) error

	// MarkDead moves the job to the dead-letter store, retained for
	// inspection rather than deleted.
	MarkDead(ctx context.Context, jobID uuid.UUID, errMsg string) error

	// ExtendLease pushes out the lease deadline for a long-running delivery.
	ExtendLease(ctx context.Context, jobID uuid.UUID, lease time.Duration) error
}

// Storage combines every repository surface. The provided backends
// (memory, Postgres, Redis) each implement it; the components only ever
// depend on the narrow interfaces.
type Storage interface {
	EnqueuerRepository
	WorkerRepository
}
