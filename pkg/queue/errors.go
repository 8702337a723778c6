package queue

import "errors"

var (
	// ErrRepositoryNil is returned when a nil repository is provided.
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload.
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrIdempotencyKeyEmpty is returned when Enqueue is called without a key.
	ErrIdempotencyKeyEmpty = errors.New("idempotency key cannot be empty")

	// ErrDuplicateJob signals a live job with the same idempotency key was
	// created concurrently. Callers resolve it by looking up the existing job.
	ErrDuplicateJob = errors.New("live job with this idempotency key already exists")

	// ErrNoJobToClaim is returned by ClaimJob when nothing is due. Normal
	// condition, not a failure.
	ErrNoJobToClaim = errors.New("no job available to claim")

	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotProcessing is returned when a worker verb is applied to a job
	// it does not hold under a lease.
	ErrJobNotProcessing = errors.New("job is not in processing state")

	// ErrJobNotPending is returned when cancelling a job already claimed by
	// a worker; the worker's reload-and-check guard owns that race.
	ErrJobNotPending = errors.New("job is not in pending state")
)
