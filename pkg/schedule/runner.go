package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JobFunc is the callback a recurring job executes. Errors are logged and
// the job keeps its cadence; a callback never stops the runner.
type JobFunc func(ctx context.Context) error

// Runner executes registered callbacks on their schedules. It is the
// in-process equivalent of an external cron: job logic stays a plain
// function, so it remains directly invocable from tests and from HTTP
// cron endpoints without going through the runner at all.
type Runner struct {
	jobs     map[string]*runnerJob
	mu       sync.RWMutex
	interval time.Duration
	logger   *slog.Logger
}

type runnerJob struct {
	name      string
	schedule  Schedule
	fn        JobFunc
	nextRunAt time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCheckInterval sets how often the runner wakes to look for due jobs.
func WithCheckInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a recurring-job runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		jobs:     make(map[string]*runnerJob),
		interval: time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddJob registers a callback under a unique name.
func (r *Runner) AddJob(name string, s Schedule, fn JobFunc) error {
	if name == "" || s == nil || fn == nil {
		return ErrInvalidJob
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[name]; exists {
		return ErrJobAlreadyRegistered
	}

	r.jobs[name] = &runnerJob{
		name:      name,
		schedule:  s,
		fn:        fn,
		nextRunAt: s.Next(time.Now()),
	}

	r.logger.Info("registered recurring job",
		slog.String("job", name),
		slog.String("schedule", s.String()))

	return nil
}

// Start runs the ticker loop until the context is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.RLock()
	jobCount := len(r.jobs)
	r.mu.RUnlock()

	if jobCount == 0 {
		return ErrNoJobsRegistered
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("recurring job runner shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.runDue(ctx, time.Now())
		}
	}
}

// Run returns a function suitable for errgroup.Go.
func (r *Runner) Run(ctx context.Context) func() error {
	return func() error {
		if err := r.Start(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

// runDue executes every job whose next fire time has passed and rolls its
// schedule forward.
func (r *Runner) runDue(ctx context.Context, now time.Time) {
	r.mu.Lock()
	due := make([]*runnerJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		if !j.nextRunAt.After(now) {
			due = append(due, j)
			j.nextRunAt = j.schedule.Next(now)
		}
	}
	r.mu.Unlock()

	for _, j := range due {
		if err := j.fn(ctx); err != nil {
			r.logger.Error("recurring job failed",
				slog.String("job", j.name),
				slog.String("error", err.Error()))
		}
	}
}
