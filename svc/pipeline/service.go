package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/postpipe/pkg/queue"
	"github.com/dmitrymomot/postpipe/svc/post"
)

// DeliveryPayload is the queue payload for one post delivery. The job
// carries only the post id: the post record is re-read at claim time, so
// edits and cancellations between enqueue and delivery always win.
type DeliveryPayload struct {
	PostID uuid.UUID `json:"post_id"`
}

// Config holds the delivery pipeline tuning knobs.
type Config struct {
	QueueName         string        `env:"PIPELINE_QUEUE" envDefault:"post-delivery"`
	MaxAttempts       int8          `env:"PIPELINE_MAX_ATTEMPTS" envDefault:"5"`
	RetryBackoffBase  time.Duration `env:"PIPELINE_RETRY_BACKOFF_BASE" envDefault:"1s"`
	RecoveryBatchSize int           `env:"PIPELINE_RECOVERY_BATCH" envDefault:"50"`
	RecoveryInterval  time.Duration `env:"PIPELINE_RECOVERY_INTERVAL" envDefault:"1m"`
}

var (
	// ErrEmptyContent rejects scheduling a post with nothing to publish.
	ErrEmptyContent = errors.New("pipeline: post content is empty")

	// ErrNoScheduleTime rejects scheduling without a fire time.
	ErrNoScheduleTime = errors.New("pipeline: scheduled time is required")

	// ErrNoAccounts rejects a schedule request with no target accounts.
	ErrNoAccounts = errors.New("pipeline: at least one target account is required")
)

// Service owns the write side of the pipeline: it creates post records,
// puts delivery jobs on the queue, and repairs the link between the two
// when it breaks.
type Service struct {
	store post.Store
	enq   *queue.Enqueuer
	cfg   Config
	log   *slog.Logger
}

// ServiceOption configures the pipeline service.
type ServiceOption func(*Service)

// WithServiceLogger sets a custom logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// NewService creates the pipeline service.
func NewService(store post.Store, enq *queue.Enqueuer, cfg Config, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("pipeline service: nil post store")
	}
	if enq == nil {
		return nil, fmt.Errorf("pipeline service: nil enqueuer")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = queue.DefaultMaxAttempts
	}
	if cfg.RecoveryBatchSize < 1 {
		cfg.RecoveryBatchSize = 50
	}

	s := &Service{
		store: store,
		enq:   enq,
		cfg:   cfg,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SchedulePostParams describes a new scheduled post.
type SchedulePostParams struct {
	UserID       uuid.UUID
	AccountID    uuid.UUID
	Content      string
	MediaIDs     []uuid.UUID
	ScheduledFor time.Time
	// Draft holds the post back from the queue until ApprovePost.
	Draft bool
}

// SchedulePost creates the post record and, unless it is a draft, puts
// its delivery job on the queue. A fire time in the past is legal: the
// job becomes claimable immediately.
func (s *Service) SchedulePost(ctx context.Context, params SchedulePostParams) (*post.Post, error) {
	if params.Content == "" {
		return nil, ErrEmptyContent
	}
	if params.ScheduledFor.IsZero() {
		return nil, ErrNoScheduleTime
	}

	status := post.StatusScheduled
	if params.Draft {
		status = post.StatusDraft
	}

	p := &post.Post{
		ID:           uuid.New(),
		UserID:       params.UserID,
		AccountID:    params.AccountID,
		Content:      params.Content,
		MediaIDs:     params.MediaIDs,
		ScheduledFor: &params.ScheduledFor,
		Status:       status,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	if params.Draft {
		return p, nil
	}

	if err := s.enqueuePost(ctx, p); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, p.ID)
}

// SchedulePosts fans one schedule request out to several target
// accounts: one post record and one delivery job per account. Creation
// stops at the first failure; records created before it stand and are
// returned alongside the error so the caller can reconcile.
func (s *Service) SchedulePosts(ctx context.Context, params SchedulePostParams, accountIDs []uuid.UUID) ([]*post.Post, error) {
	if len(accountIDs) == 0 {
		return nil, ErrNoAccounts
	}

	created := make([]*post.Post, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		params.AccountID = accountID
		p, err := s.SchedulePost(ctx, params)
		if err != nil {
			return created, err
		}
		created = append(created, p)
	}
	return created, nil
}

// ApprovePost moves a draft into the schedule and enqueues its delivery.
func (s *Service) ApprovePost(ctx context.Context, postID uuid.UUID) (*post.Post, error) {
	p, err := s.store.UpdateStatus(ctx, postID, []post.Status{post.StatusDraft}, post.Change{
		Status: post.StatusScheduled,
	})
	if err != nil {
		return nil, fmt.Errorf("approve post: %w", err)
	}

	if err := s.enqueuePost(ctx, p); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, p.ID)
}

// CancelPost withdraws a scheduled post. The post record flips first, so
// even when the queued job cannot be removed (a worker already claimed
// it) the delivery is suppressed by the dispatcher's reload-and-check.
func (s *Service) CancelPost(ctx context.Context, postID uuid.UUID) (*post.Post, error) {
	before, err := s.store.Get(ctx, postID)
	if err != nil {
		return nil, err
	}

	p, err := post.Cancel(ctx, s.store, postID)
	if err != nil {
		return nil, err
	}

	if before.JobID != nil {
		if err := s.enq.Cancel(ctx, *before.JobID); err != nil &&
			!errors.Is(err, queue.ErrJobNotFound) && !errors.Is(err, queue.ErrJobNotPending) {
			s.log.WarnContext(ctx, "failed to remove queued job for cancelled post",
				slog.String("post_id", postID.String()),
				slog.String("job_id", before.JobID.String()),
				slog.String("error", err.Error()))
		}
	}
	return p, nil
}

// enqueuePost creates the delivery job and records its handle on the
// post. The idempotency key derives from the post id, so a second
// enqueue for the same post resolves to the already-live job.
func (s *Service) enqueuePost(ctx context.Context, p *post.Post) error {
	opts := []queue.EnqueueOption{
		queue.WithQueue(s.cfg.QueueName),
		queue.WithMaxAttempts(s.cfg.MaxAttempts),
	}
	if p.ScheduledFor != nil {
		opts = append(opts, queue.WithScheduledAt(*p.ScheduledFor))
	}

	jobID, err := s.enq.Enqueue(ctx, p.IdempotencyKey(), DeliveryPayload{PostID: p.ID}, opts...)
	if err != nil {
		return fmt.Errorf("enqueue post %s: %w", p.ID, err)
	}

	if _, err := s.store.SetJob(ctx, p.ID, jobID); err != nil {
		if errors.Is(err, post.ErrConflict) {
			// Cancelled (or delivered) between enqueue and handle write;
			// pull the job back out if it is still pending.
			if cancelErr := s.enq.Cancel(ctx, jobID); cancelErr != nil &&
				!errors.Is(cancelErr, queue.ErrJobNotFound) && !errors.Is(cancelErr, queue.ErrJobNotPending) {
				s.log.WarnContext(ctx, "failed to remove job for conflicted post",
					slog.String("post_id", p.ID.String()),
					slog.String("error", cancelErr.Error()))
			}
			return nil
		}
		return fmt.Errorf("record job on post %s: %w", p.ID, err)
	}
	return nil
}

// RecoverySweep re-enqueues due deliverable posts whose delivery job
// went missing (enqueue failed after the record was written, queue data
// was lost). Posts stuck in retrying are swept the same as scheduled
// ones, so losing a job mid-retry does not strand the post. One bounded
// batch per call; the idempotency key makes the sweep safe to run
// concurrently with normal scheduling - posts with a live job resolve
// to that job instead of getting a second one.
func (s *Service) RecoverySweep(ctx context.Context) (int, error) {
	due, err := s.store.ListDue(ctx, time.Now(), s.cfg.RecoveryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due posts: %w", err)
	}

	recovered := 0
	for _, p := range due {
		existing := p.JobID
		if err := s.enqueuePost(ctx, p); err != nil {
			s.log.ErrorContext(ctx, "recovery sweep failed to enqueue post",
				slog.String("post_id", p.ID.String()),
				slog.String("error", err.Error()))
			continue
		}

		fresh, err := s.store.Get(ctx, p.ID)
		if err != nil {
			continue
		}
		if fresh.JobID != nil && (existing == nil || *existing != *fresh.JobID) {
			recovered++
			s.log.InfoContext(ctx, "recovery sweep re-enqueued post",
				slog.String("post_id", p.ID.String()),
				slog.String("job_id", fresh.JobID.String()))
		}
	}
	return recovered, nil
}
