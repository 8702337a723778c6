package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/postpipe/pkg/pg"
)

// PostgresStorage implements Storage on a pgx connection pool.
//
// One-live-job-per-key is enforced by a partial unique index on
// idempotency_key over pending and processing rows (see the jobs
// migration), so the invariant holds even when two processes enqueue
// concurrently. Claims use FOR UPDATE SKIP LOCKED so competing workers
// never block each other and never receive the same row.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a Postgres-backed job storage. The schema is
// managed by the goose migrations shipped in migrations/.
func NewPostgresStorage(pool *pgxpool.Pool) (*PostgresStorage, error) {
	if pool == nil {
		return nil, ErrRepositoryNil
	}
	return &PostgresStorage{pool: pool}, nil
}

const jobColumns = `id, idempotency_key, queue, payload, status, attempts, max_attempts,
	scheduled_at, locked_until, locked_by, error, created_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.IdempotencyKey, &j.Queue, &j.Payload, &j.Status,
		&j.Attempts, &j.MaxAttempts, &j.ScheduledAt, &j.LockedUntil,
		&j.LockedBy, &j.Error, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob implements EnqueuerRepository.
func (s *PostgresStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return ErrPayloadNil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_jobs (id, idempotency_key, queue, payload, status, attempts, max_attempts, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.IdempotencyKey, job.Queue, job.Payload, job.Status,
		job.Attempts, job.MaxAttempts, job.ScheduledAt, job.CreatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetLiveJobByKey implements EnqueuerRepository.
func (s *PostgresStorage) GetLiveJobByKey(ctx context.Context, idempotencyKey string) (*Job, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM pipeline_jobs
		WHERE idempotency_key = $1 AND status IN ('pending', 'processing')`, jobColumns),
		idempotencyKey,
	)
	job, err := scanJob(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get live job by key: %w", err)
	}
	return job, nil
}

// DeleteJob implements EnqueuerRepository.
func (s *PostgresStorage) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pipeline_jobs WHERE id = $1 AND status = 'pending'`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "gone" from "claimed" for the caller.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pipeline_jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
			return fmt.Errorf("delete job existence check: %w", err)
		}
		if exists {
			return ErrJobNotPending
		}
		return ErrJobNotFound
	}
	return nil
}

// ClaimJob implements WorkerRepository. Expired leases are released first
// so a crashed worker's job re-enters the pending pool; the claim itself
// uses SKIP LOCKED so concurrent workers neither block nor double-claim.
func (s *PostgresStorage) ClaimJob(ctx context.Context, workerID uuid.UUID, queues []string, lease time.Duration) (*Job, error) {
	now := time.Now()

	// Reclaim expired leases. Attempt counts are preserved; a reclaim is
	// not a retry.
	if _, err := s.pool.Exec(ctx, `
		UPDATE pipeline_jobs
		SET status = 'pending', locked_until = NULL, locked_by = NULL
		WHERE status = 'processing' AND locked_until < $1`, now); err != nil {
		return nil, fmt.Errorf("release expired leases: %w", err)
	}

	if len(queues) == 0 {
		queues = []string{DefaultQueueName}
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE pipeline_jobs SET
			status = 'processing',
			locked_until = $1,
			locked_by = $2
		WHERE id IN (
			SELECT id FROM pipeline_jobs
			WHERE status = 'pending' AND queue = ANY($3) AND scheduled_at <= $4
			ORDER BY scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING %s`, jobColumns),
		now.Add(lease), workerID, queues, now,
	)

	job, err := scanJob(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNoJobToClaim
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// CompleteJob implements WorkerRepository.
func (s *PostgresStorage) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pipeline_jobs WHERE id = $1 AND status = 'processing'`, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotProcessing
	}
	return nil
}

// RetryJob implements WorkerRepository.
func (s *PostgresStorage) RetryJob(ctx context.Context, jobID uuid.UUID, errMsg string, delay time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_jobs SET
			status = 'pending',
			attempts = attempts + 1,
			error = $2,
			locked_until = NULL,
			locked_by = NULL,
			scheduled_at = $3
		WHERE id = $1 AND status = 'processing'`,
		jobID, errMsg, time.Now().Add(delay),
	)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotProcessing
	}
	return nil
}

// MarkDead implements WorkerRepository. The move runs in a transaction so
// a job is never both live and dead-lettered.
func (s *PostgresStorage) MarkDead(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin dead-letter tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx, fmt.Sprintf(
		`DELETE FROM pipeline_jobs WHERE id = $1 RETURNING %s`, jobColumns), jobID)
	job, err := scanJob(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return ErrJobNotFound
		}
		return fmt.Errorf("dead-letter delete: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO pipeline_dead_jobs (id, job_id, idempotency_key, queue, payload, error, attempts, failed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), job.ID, job.IdempotencyKey, job.Queue, job.Payload,
		errMsg, job.Attempts, time.Now(), job.CreatedAt,
	); err != nil {
		return fmt.Errorf("dead-letter insert: %w", err)
	}

	return tx.Commit(ctx)
}

// ExtendLease implements WorkerRepository.
func (s *PostgresStorage) ExtendLease(ctx context.Context, jobID uuid.UUID, lease time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_jobs SET locked_until = $2
		WHERE id = $1 AND status = 'processing'`,
		jobID, time.Now().Add(lease),
	)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotProcessing
	}
	return nil
}
