// Package redis provides connection helpers for the Redis-backed job
// queue storage.
//
// It wraps the go-redis client with a retrying Connect driven by the
// env-tagged Config struct, plus a health-check closure for liveness
// probes.
package redis
