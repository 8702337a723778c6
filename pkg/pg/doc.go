// Package pg provides PostgreSQL connection helpers for the delivery
// pipeline's durable stores.
//
// It wraps pgx/v5 with a retrying Connect, a health-check closure, and a
// goose-based Migrate that routes migration output through the application
// logger. Configuration comes from environment variables via the Config
// struct.
package pg
