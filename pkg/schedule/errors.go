package schedule

import "errors"

var (
	// ErrInvalidJob is returned when a job is registered without a name, schedule, or callback.
	ErrInvalidJob = errors.New("recurring job requires a name, a schedule, and a callback")

	// ErrJobAlreadyRegistered is returned when a job name is registered twice.
	ErrJobAlreadyRegistered = errors.New("recurring job already registered")

	// ErrNoJobsRegistered is returned when the runner is started with no jobs.
	ErrNoJobsRegistered = errors.New("no recurring jobs registered")

	// ErrInvalidCronExpr is returned for unparsable cron expressions.
	ErrInvalidCronExpr = errors.New("invalid cron expression")
)
