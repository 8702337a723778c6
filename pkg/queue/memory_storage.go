package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Storage for tests and local development. The
// lease-expiry manager mirrors what the durable backends do server-side:
// a job claimed by a worker that never comes back becomes claimable again
// once its lease passes.
type MemoryStorage struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
	dead map[uuid.UUID]*DeadJob

	// byKey indexes live jobs only; terminal jobs release their key.
	byKey map[string]uuid.UUID

	lockTicker *time.Ticker
	done       chan struct{}
}

// NewMemoryStorage creates an in-memory storage implementation.
func NewMemoryStorage() *MemoryStorage {
	ms := &MemoryStorage{
		jobs:  make(map[uuid.UUID]*Job),
		dead:  make(map[uuid.UUID]*DeadJob),
		byKey: make(map[string]uuid.UUID),
		done:  make(chan struct{}),
	}

	ms.lockTicker = time.NewTicker(time.Second)
	go ms.leaseExpirationManager()

	return ms
}

// Close stops the background lease manager.
func (ms *MemoryStorage) Close() error {
	close(ms.done)
	ms.lockTicker.Stop()
	return nil
}

// CreateJob implements EnqueuerRepository.
func (ms *MemoryStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return ErrPayloadNil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.byKey[job.IdempotencyKey]; exists {
		return ErrDuplicateJob
	}

	jobCopy := *job
	ms.jobs[job.ID] = &jobCopy
	ms.byKey[job.IdempotencyKey] = job.ID

	return nil
}

// GetLiveJobByKey implements EnqueuerRepository.
func (ms *MemoryStorage) GetLiveJobByKey(ctx context.Context, idempotencyKey string) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	jobID, ok := ms.byKey[idempotencyKey]
	if !ok {
		return nil, ErrJobNotFound
	}

	jobCopy := *ms.jobs[jobID]
	return &jobCopy, nil
}

// DeleteJob implements EnqueuerRepository. Only pending jobs can be
// removed; a processing job belongs to its worker until the lease settles.
func (ms *MemoryStorage) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != JobStatusPending {
		return ErrJobNotPending
	}

	delete(ms.byKey, job.IdempotencyKey)
	delete(ms.jobs, jobID)
	return nil
}

// ClaimJob implements WorkerRepository. Earliest fire time first.
func (ms *MemoryStorage) ClaimJob(ctx context.Context, workerID uuid.UUID, queues []string, lease time.Duration) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	var best *Job

	for _, job := range ms.jobs {
		if job.Status != JobStatusPending {
			continue
		}
		if len(queues) > 0 && !slices.Contains(queues, job.Queue) {
			continue
		}
		if job.ScheduledAt.After(now) {
			continue
		}
		if best == nil || job.ScheduledAt.Before(best.ScheduledAt) {
			best = job
		}
	}

	if best == nil {
		return nil, ErrNoJobToClaim
	}

	lockUntil := now.Add(lease)
	best.Status = JobStatusProcessing
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID

	jobCopy := *best
	return &jobCopy, nil
}

// CompleteJob implements WorkerRepository. Terminal success deletes the
// job, releasing its idempotency key.
func (ms *MemoryStorage) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != JobStatusProcessing {
		return ErrJobNotProcessing
	}

	delete(ms.byKey, job.IdempotencyKey)
	delete(ms.jobs, jobID)
	return nil
}

// RetryJob implements WorkerRepository.
func (ms *MemoryStorage) RetryJob(ctx context.Context, jobID uuid.UUID, errMsg string, delay time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != JobStatusProcessing {
		return ErrJobNotProcessing
	}

	job.Attempts++
	job.Error = &errMsg
	job.Status = JobStatusPending
	job.LockedUntil = nil
	job.LockedBy = nil
	job.ScheduledAt = time.Now().Add(delay)

	return nil
}

// MarkDead implements WorkerRepository. The job row is replaced by a
// dead-letter entry retained for inspection; the idempotency key is
// released so a fresh schedule can create a new chain.
func (ms *MemoryStorage) MarkDead(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	entry := &DeadJob{
		ID:             uuid.New(),
		JobID:          job.ID,
		IdempotencyKey: job.IdempotencyKey,
		Queue:          job.Queue,
		Payload:        job.Payload,
		Error:          errMsg,
		Attempts:       job.Attempts,
		FailedAt:       time.Now(),
		CreatedAt:      job.CreatedAt,
	}
	ms.dead[entry.ID] = entry

	delete(ms.byKey, job.IdempotencyKey)
	delete(ms.jobs, jobID)
	return nil
}

// ExtendLease implements WorkerRepository.
func (ms *MemoryStorage) ExtendLease(ctx context.Context, jobID uuid.UUID, lease time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != JobStatusProcessing {
		return ErrJobNotProcessing
	}

	lockUntil := time.Now().Add(lease)
	job.LockedUntil = &lockUntil
	return nil
}

// DeadJobs returns a snapshot of the dead-letter store, ordered by failure
// time. Inspection surface for tests and operators.
func (ms *MemoryStorage) DeadJobs() []*DeadJob {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]*DeadJob, 0, len(ms.dead))
	for _, d := range ms.dead {
		entry := *d
		out = append(out, &entry)
	}
	slices.SortFunc(out, func(a, b *DeadJob) int {
		return a.FailedAt.Compare(b.FailedAt)
	})
	return out
}

// leaseExpirationManager recovers jobs from dead workers. Without it, a
// job locked by a crashed worker would be lost forever.
func (ms *MemoryStorage) leaseExpirationManager() {
	for {
		select {
		case <-ms.lockTicker.C:
			ms.expireLeases()
		case <-ms.done:
			return
		}
	}
}

// expireLeases resets processing jobs with passed lease deadlines back to
// pending. The attempt count is preserved; a reclaim is not a retry.
func (ms *MemoryStorage) expireLeases() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	for _, job := range ms.jobs {
		if job.Status == JobStatusProcessing && job.LockedUntil != nil && job.LockedUntil.Before(now) {
			job.Status = JobStatusPending
			job.LockedUntil = nil
			job.LockedBy = nil
		}
	}
}
