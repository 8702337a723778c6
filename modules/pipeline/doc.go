// Package pipeline exposes the delivery pipeline over HTTP: scheduling,
// cancellation and approval of posts, the recovery-sweep cron hook, and
// optionally the Prometheus metrics endpoint. Mount the router into the
// host application's chi tree.
package pipeline
