package schedule

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field cron expressions plus the
// @every/@daily descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type cronSchedule struct {
	expr string
	spec cron.Schedule
}

func (s cronSchedule) Next(from time.Time) time.Time {
	return s.spec.Next(from)
}

func (s cronSchedule) String() string {
	return "cron " + s.expr
}

// Cron creates a schedule from a cron expression, e.g. "*/5 * * * *".
// External clocks (Kubernetes CronJobs, hosted cron) are usually described
// in cron syntax already; this keeps their in-process equivalents in the
// same notation.
func Cron(expr string) (Schedule, error) {
	spec, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronExpr, err)
	}
	return cronSchedule{expr: expr, spec: spec}, nil
}

// MustCron is Cron that panics on an invalid expression. Intended for
// literal expressions known at compile time.
func MustCron(expr string) Schedule {
	s, err := Cron(expr)
	if err != nil {
		panic(err)
	}
	return s
}
