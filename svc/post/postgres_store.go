package post

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/postpipe/pkg/pg"
)

// PostgresStore implements Store on a pgx connection pool. Compare-and-set
// updates are a single conditional UPDATE: the expected-status predicate
// sits in the WHERE clause, so a stale writer simply matches zero rows and
// gets ErrConflict.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed post store. The schema is
// managed by the goose migrations shipped in migrations/.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("post store: nil connection pool")
	}
	return &PostgresStore{pool: pool}, nil
}

const postColumns = `id, user_id, account_id, content, media_ids, scheduled_for, status,
	published_at, error_message, retry_count, last_retry_at, job_id, created_at, updated_at`

func scanPost(row pgx.Row) (*Post, error) {
	var (
		p        Post
		mediaRaw []byte
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.AccountID, &p.Content, &mediaRaw, &p.ScheduledFor,
		&p.Status, &p.PublishedAt, &p.ErrorMessage, &p.RetryCount,
		&p.LastRetryAt, &p.JobID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(mediaRaw) > 0 {
		if err := json.Unmarshal(mediaRaw, &p.MediaIDs); err != nil {
			return nil, fmt.Errorf("decode media ids: %w", err)
		}
	}
	return &p, nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, p *Post) error {
	mediaRaw, err := json.Marshal(p.MediaIDs)
	if err != nil {
		return fmt.Errorf("encode media ids: %w", err)
	}

	now := time.Now()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO posts (id, user_id, account_id, content, media_ids, scheduled_for, status, retry_count, job_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.UserID, p.AccountID, p.Content, mediaRaw, p.ScheduledFor,
		p.Status, p.RetryCount, p.JobID, createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Post, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM posts WHERE id = $1`, postColumns), id)
	p, err := scanPost(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	return p, nil
}

// UpdateStatus implements Store.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, expectFrom []Status, change Change) (*Post, error) {
	// Every expected source status must permit the target transition;
	// checking up front keeps illegal transitions out of the database
	// entirely.
	for _, from := range expectFrom {
		if !from.CanTransitionTo(change.Status) {
			return nil, ErrInvalidTransition
		}
	}

	froms := make([]string, len(expectFrom))
	for i, st := range expectFrom {
		froms[i] = string(st)
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE posts SET
			status = $2,
			published_at = COALESCE($3, published_at),
			error_message = COALESCE($4, error_message),
			retry_count = retry_count + $5,
			last_retry_at = COALESCE($6, last_retry_at),
			job_id = CASE WHEN $7 THEN NULL ELSE COALESCE($8, job_id) END,
			updated_at = now()
		WHERE id = $1 AND status = ANY($9)
		RETURNING %s`, postColumns),
		id, change.Status, change.PublishedAt, change.ErrorMessage,
		boolToInt(change.IncrementRetry), change.LastRetryAt,
		change.ClearJobID, change.JobID, froms,
	)

	p, err := scanPost(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, s.conflictOrNotFound(ctx, id)
		}
		return nil, fmt.Errorf("update post status: %w", err)
	}
	return p, nil
}

// SetJob implements Store.
func (s *PostgresStore) SetJob(ctx context.Context, id uuid.UUID, jobID uuid.UUID) (*Post, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE posts SET job_id = $2, updated_at = now()
		WHERE id = $1 AND status IN ('scheduled', 'retrying')
		RETURNING %s`, postColumns),
		id, jobID,
	)

	p, err := scanPost(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, s.conflictOrNotFound(ctx, id)
		}
		return nil, fmt.Errorf("set post job: %w", err)
	}
	return p, nil
}

// ListDue implements Store.
func (s *PostgresStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Post, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM posts
		WHERE status IN ('scheduled', 'retrying') AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2`, postColumns),
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due posts: %w", err)
	}
	defer rows.Close()

	var due []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due post: %w", err)
		}
		due = append(due, p)
	}
	return due, rows.Err()
}

// conflictOrNotFound distinguishes a CAS miss from a missing row.
func (s *PostgresStore) conflictOrNotFound(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("post existence check: %w", err)
	}
	if exists {
		return ErrConflict
	}
	return ErrNotFound
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
