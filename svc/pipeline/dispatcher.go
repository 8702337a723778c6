package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/postpipe/pkg/backoff"
	"github.com/dmitrymomot/postpipe/pkg/queue"
	"github.com/dmitrymomot/postpipe/svc/notifier"
	"github.com/dmitrymomot/postpipe/svc/post"
	"github.com/dmitrymomot/postpipe/svc/publisher"
)

// Dispatcher claims delivery jobs and drives each post through one
// publish attempt. Concurrency is bounded by a semaphore; every claimed
// job is settled exactly once per attempt: completed, retried with
// backoff, or dead-lettered.
type Dispatcher struct {
	repo    queue.WorkerRepository
	posts   post.Store
	pub     publisher.Publisher
	media   publisher.MediaResolver
	notify  notifier.Notifier
	metrics *Metrics

	queueName   string
	workerID    uuid.UUID
	sem         chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	stopMu      sync.Mutex // protects stopping state and WaitGroup operations
	retryBase   time.Duration
	pullEvery   time.Duration
	leaseTime   time.Duration
	maxAttempts int8
	log         *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// DispatcherDeps bundles the collaborators a dispatcher needs.
type DispatcherDeps struct {
	Repo     queue.WorkerRepository
	Posts    post.Store
	Pub      publisher.Publisher
	Media    publisher.MediaResolver
	Notifier notifier.Notifier
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets a custom logger.
func WithDispatcherLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithDispatcherMetrics sets the metrics collector.
func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a dispatcher for the given pipeline and queue
// configuration.
func NewDispatcher(deps DispatcherDeps, cfg Config, qcfg queue.Config, opts ...DispatcherOption) (*Dispatcher, error) {
	if deps.Repo == nil {
		return nil, queue.ErrRepositoryNil
	}
	if deps.Posts == nil {
		return nil, fmt.Errorf("dispatcher: nil post store")
	}
	if deps.Pub == nil {
		return nil, fmt.Errorf("dispatcher: nil publisher")
	}
	if deps.Notifier == nil {
		return nil, fmt.Errorf("dispatcher: nil notifier")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = queue.DefaultMaxAttempts
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = time.Second
	}
	if qcfg.PullInterval <= 0 {
		qcfg.PullInterval = time.Second
	}
	if qcfg.LeaseTime <= 0 {
		qcfg.LeaseTime = 2 * time.Minute
	}
	if qcfg.MaxConcurrency < 1 {
		qcfg.MaxConcurrency = 1
	}

	d := &Dispatcher{
		repo:        deps.Repo,
		posts:       deps.Posts,
		pub:         deps.Pub,
		media:       deps.Media,
		notify:      deps.Notifier,
		queueName:   cfg.QueueName,
		workerID:    uuid.New(),
		sem:         make(chan struct{}, qcfg.MaxConcurrency),
		retryBase:   cfg.RetryBackoffBase,
		pullEvery:   qcfg.PullInterval,
		leaseTime:   qcfg.LeaseTime,
		maxAttempts: cfg.MaxAttempts,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = NopMetrics()
	}
	return d, nil
}

// Start begins claiming jobs in the background.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	d.stopping.Store(false)
	go d.run()

	d.log.Info("dispatcher started",
		slog.String("worker_id", d.workerID.String()),
		slog.String("queue", d.queueName),
		slog.Int("max_concurrent", cap(d.sem)))
	return nil
}

// Stop gracefully shuts down the dispatcher, waiting for in-flight
// deliveries to settle.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not started")
	}

	d.stopMu.Lock()
	d.stopping.Store(true)
	d.stopMu.Unlock()

	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()

	d.log.Info("dispatcher stopped", slog.String("worker_id", d.workerID.String()))
	return nil
}

// Run returns a function suitable for errgroup.
func (d *Dispatcher) Run(ctx context.Context) func() error {
	return func() error {
		if err := d.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return d.Stop()
	}
}

func (d *Dispatcher) run() {
	ticker := time.NewTicker(d.pullEvery)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			select {
			case d.sem <- struct{}{}:
				d.stopMu.Lock()
				if d.stopping.Load() {
					d.stopMu.Unlock()
					<-d.sem
					return
				}
				d.wg.Add(1)
				d.stopMu.Unlock()

				go func() {
					defer d.wg.Done()
					defer func() { <-d.sem }()

					if err := d.pullAndProcess(); err != nil {
						d.log.Error("failed to process delivery job",
							slog.String("worker_id", d.workerID.String()),
							slog.String("error", err.Error()))
					}
				}()
			default:
				// All slots busy, skip this tick.
			}
		}
	}
}

func (d *Dispatcher) pullAndProcess() error {
	job, err := d.repo.ClaimJob(d.ctx, d.workerID, []string{d.queueName}, d.leaseTime)
	if err != nil {
		if errors.Is(err, queue.ErrNoJobToClaim) {
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return nil
	}
	return d.processJob(job)
}

// processJob runs one delivery attempt end to end. The job context is
// detached from the dispatcher lifecycle so graceful shutdown lets the
// attempt settle instead of abandoning a half-delivered post.
func (d *Dispatcher) processJob(job *queue.Job) (retErr error) {
	start := time.Now()
	// The hard stop is twice the lease: the heartbeat keeps the lease
	// alive while a slow delivery is in flight, and the doubled deadline
	// bounds how long a wedged attempt can hold its slot.
	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*d.leaseTime)
	defer cancelCtx()

	// claimed is visible to the recover below, so a panic after the post
	// loads still settles the record and notifies at budget exhaustion.
	var claimed *post.Post
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic during delivery: %v", r)
			d.log.Error("delivery panicked",
				slog.String("job_id", job.ID.String()),
				slog.Any("panic", r))
			d.settleFailure(ctx, job, claimed, retErr, time.Since(start))
		}
	}()

	var payload DeliveryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// No retry can fix a payload that does not decode.
		if deadErr := d.repo.MarkDead(ctx, job.ID, "malformed payload: "+err.Error()); deadErr != nil {
			return fmt.Errorf("failed to dead-letter malformed job %s: %w", job.ID, deadErr)
		}
		d.metrics.ObserveAttempt(OutcomeDead, time.Since(start))
		return fmt.Errorf("malformed delivery payload for job %s: %w", job.ID, err)
	}

	// Reload the post and re-check deliverability. The record is the
	// authority; a job for a cancelled or already-delivered post is
	// settled without touching the platform.
	p, err := d.posts.Get(ctx, payload.PostID)
	if err != nil {
		if errors.Is(err, post.ErrNotFound) {
			d.metrics.ObserveAttempt(OutcomeSkipped, time.Since(start))
			return d.repo.CompleteJob(ctx, job.ID)
		}
		return d.releaseForRetry(ctx, job, fmt.Errorf("load post %s: %w", payload.PostID, err))
	}
	claimed = p
	if p.Status != post.StatusScheduled && p.Status != post.StatusRetrying {
		d.log.Info("skipping undeliverable post",
			slog.String("post_id", p.ID.String()),
			slog.String("status", string(p.Status)))
		d.metrics.ObserveAttempt(OutcomeSkipped, time.Since(start))
		return d.repo.CompleteJob(ctx, job.ID)
	}

	// Attempts after the first flip the post to retrying before the
	// platform call, so the owner sees the delivery struggling.
	if job.Attempts > 0 {
		if _, err := post.MarkRetrying(ctx, d.posts, p.ID, time.Now()); err != nil {
			if errors.Is(err, post.ErrConflict) {
				d.metrics.ObserveAttempt(OutcomeSkipped, time.Since(start))
				return d.repo.CompleteJob(ctx, job.ID)
			}
			return d.releaseForRetry(ctx, job, fmt.Errorf("mark post %s retrying: %w", p.ID, err))
		}
	}

	result, err := d.deliverWithHeartbeat(ctx, job, p)
	elapsed := time.Since(start)
	if err != nil {
		d.settleFailure(ctx, job, p, err, elapsed)
		return nil
	}

	if _, err := post.MarkPublished(ctx, d.posts, p.ID, result.PublishedAt); err != nil {
		if errors.Is(err, post.ErrConflict) {
			// The platform accepted the post but the record moved
			// underneath us (a cancel raced the delivery). The post is
			// live upstream; record keeping lost the race.
			d.log.Warn("post published but record changed concurrently",
				slog.String("post_id", p.ID.String()),
				slog.String("external_id", result.ExternalID))
		} else {
			return d.releaseForRetry(ctx, job, fmt.Errorf("mark post %s published: %w", p.ID, err))
		}
	}

	d.metrics.ObserveAttempt(OutcomePublished, elapsed)
	d.log.Info("post published",
		slog.String("post_id", p.ID.String()),
		slog.String("external_id", result.ExternalID),
		slog.Int("attempt", int(job.Attempts)+1))
	return d.repo.CompleteJob(ctx, job.ID)
}

// deliverWithHeartbeat extends the job's lease while the platform call
// is in flight, so a delivery slower than the lease is not reclaimed by
// another worker mid-call. Settlement after deliver returns is covered
// by the final extension.
func (d *Dispatcher) deliverWithHeartbeat(ctx context.Context, job *queue.Job, p *post.Post) (*publisher.PublishResult, error) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(d.leaseTime / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.repo.ExtendLease(ctx, job.ID, d.leaseTime); err != nil {
					d.log.Warn("failed to extend job lease",
						slog.String("job_id", job.ID.String()),
						slog.String("error", err.Error()))
				}
			}
		}
	}()

	return d.deliver(ctx, p)
}

func (d *Dispatcher) deliver(ctx context.Context, p *post.Post) (*publisher.PublishResult, error) {
	var mediaURLs []string
	if len(p.MediaIDs) > 0 {
		if d.media == nil {
			return nil, publisher.Permanent("no media resolver configured", nil)
		}
		urls, err := d.media.Resolve(ctx, p.MediaIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve media: %w", err)
		}
		mediaURLs = urls
	}

	return d.pub.Publish(ctx, publisher.PublishRequest{
		PostID:    p.ID,
		AccountID: p.AccountID,
		Content:   p.Content,
		MediaURLs: mediaURLs,
	})
}

// settleFailure decides between another attempt and giving up. Permanent
// rejections skip the rest of the retry budget. Terminal failure flips
// the post record first; the owner notification fires only for the actor
// whose compare-and-set won, so it goes out exactly once.
func (d *Dispatcher) settleFailure(ctx context.Context, job *queue.Job, p *post.Post, deliveryErr error, elapsed time.Duration) {
	attempt := int(job.Attempts) + 1
	permanent := publisher.IsPermanent(deliveryErr)
	exhausted := attempt >= int(job.MaxAttempts)

	if !permanent && !exhausted {
		delay := backoff.Exponential(d.retryBase, int(job.Attempts))
		if err := d.repo.RetryJob(ctx, job.ID, deliveryErr.Error(), delay); err != nil {
			d.log.Error("failed to schedule retry",
				slog.String("job_id", job.ID.String()),
				slog.String("error", err.Error()))
		}
		d.metrics.ObserveAttempt(OutcomeRetried, elapsed)
		d.log.Warn("delivery attempt failed, retrying",
			slog.String("job_id", job.ID.String()),
			slog.Int("attempt", attempt),
			slog.Duration("next_in", delay),
			slog.String("error", deliveryErr.Error()))
		return
	}

	if p != nil {
		failed, err := post.MarkFailed(ctx, d.posts, p.ID, deliveryErr.Error())
		switch {
		case err == nil:
			if notifyErr := d.notify.NotifyFailure(ctx, failed, deliveryErr.Error()); notifyErr != nil {
				d.log.Error("failed to notify post owner",
					slog.String("post_id", p.ID.String()),
					slog.String("error", notifyErr.Error()))
			}
		case errors.Is(err, post.ErrConflict):
			// Another actor already settled the post; it owns notification.
		default:
			d.log.Error("failed to mark post failed",
				slog.String("post_id", p.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	if err := d.repo.MarkDead(ctx, job.ID, deliveryErr.Error()); err != nil {
		d.log.Error("failed to dead-letter job",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
	}
	d.metrics.ObserveAttempt(OutcomeDead, elapsed)
	d.log.Error("delivery failed terminally",
		slog.String("job_id", job.ID.String()),
		slog.Int("attempt", attempt),
		slog.Bool("permanent", permanent),
		slog.String("error", deliveryErr.Error()))
}

// releaseForRetry hands the job back to the queue after an infrastructure
// error that never reached the platform. The attempt still burns budget:
// counting every claim keeps the retry arithmetic in one place.
func (d *Dispatcher) releaseForRetry(ctx context.Context, job *queue.Job, cause error) error {
	if job.AttemptsExhausted() || int(job.Attempts)+1 >= int(job.MaxAttempts) {
		if err := d.repo.MarkDead(ctx, job.ID, cause.Error()); err != nil {
			return errors.Join(cause, err)
		}
		return cause
	}
	delay := backoff.Exponential(d.retryBase, int(job.Attempts))
	if err := d.repo.RetryJob(ctx, job.ID, cause.Error(), delay); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
