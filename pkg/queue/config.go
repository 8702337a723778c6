package queue

import "time"

// Config holds the queue tuning knobs shared by dispatch workers.
//
// LeaseTime is deliberately far above the expected platform-API call
// latency: a slow (not crashed) worker whose lease expires opens a
// duplicate-delivery window, the accepted tradeoff of an at-least-once
// queue. See the package documentation.
type Config struct {
	PullInterval   time.Duration `env:"QUEUE_PULL_INTERVAL" envDefault:"1s"`
	LeaseTime      time.Duration `env:"QUEUE_LEASE_TIME" envDefault:"2m"`
	MaxConcurrency int           `env:"QUEUE_MAX_CONCURRENCY" envDefault:"10"`
}
