package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enqueuer adds delivery jobs to the queue with duplicate suppression.
type Enqueuer struct {
	repo         EnqueuerRepository
	defaultQueue string
}

// NewEnqueuer creates a new Enqueuer.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{
		defaultQueue: DefaultQueueName,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:         repo,
		defaultQueue: options.defaultQueue,
	}, nil
}

// Enqueue adds a job keyed by idempotencyKey and returns its id.
//
// If a live (pending or processing) job already exists for the key, the
// existing job's id is returned and no second job is created. Returning
// the existing job rather than replacing it keeps an in-flight delivery's
// state intact; callers that need a different fire time cancel first.
func (e *Enqueuer) Enqueue(ctx context.Context, idempotencyKey string, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	if idempotencyKey == "" {
		return uuid.Nil, ErrIdempotencyKeyEmpty
	}
	if payload == nil {
		return uuid.Nil, ErrPayloadNil
	}

	options := &enqueueOptions{
		queue:       e.defaultQueue,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	job, err := e.buildJob(idempotencyKey, payload, options)
	if err != nil {
		return uuid.Nil, err
	}

	if err := e.repo.CreateJob(ctx, job); err != nil {
		if errors.Is(err, ErrDuplicateJob) {
			existing, lookupErr := e.repo.GetLiveJobByKey(ctx, idempotencyKey)
			if lookupErr != nil {
				// The duplicate finished between the insert and the lookup;
				// retry once so the caller ends up with a job either way.
				if errors.Is(lookupErr, ErrJobNotFound) {
					if retryErr := e.repo.CreateJob(ctx, job); retryErr == nil {
						return job.ID, nil
					}
				}
				return uuid.Nil, fmt.Errorf("failed to resolve duplicate job for key %q: %w", idempotencyKey, lookupErr)
			}
			return existing.ID, nil
		}
		return uuid.Nil, fmt.Errorf("failed to create job for key %q in queue %q: %w", idempotencyKey, job.Queue, err)
	}

	return job.ID, nil
}

// Cancel removes a pending job. A job already claimed by a worker is left
// alone and ErrJobNotPending is returned; the worker's reload-and-check
// guard prevents delivery of cancelled work.
func (e *Enqueuer) Cancel(ctx context.Context, jobID uuid.UUID) error {
	return e.repo.DeleteJob(ctx, jobID)
}

// buildJob constructs a Job from the payload and options.
func (e *Enqueuer) buildJob(idempotencyKey string, payload any, options *enqueueOptions) (*Job, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}

	scheduledAt := time.Now()
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = scheduledAt.Add(options.delay)
	}

	return &Job{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		Queue:          options.queue,
		Payload:        payloadBytes,
		Status:         JobStatusPending,
		Attempts:       0,
		MaxAttempts:    options.maxAttempts,
		ScheduledAt:    scheduledAt,
		CreatedAt:      time.Now(),
	}, nil
}
