// Package post holds the scheduled-post domain model and its persistence
// contract.
//
// A post moves through a small state machine: draft -> scheduled ->
// (retrying ->) published | failed, with cancellation allowed while the
// post is still scheduled. Every status change goes through
// Store.UpdateStatus, which is compare-and-set: the caller names the
// statuses it expects the post to be in, and the store rejects the write
// with ErrConflict when a concurrent actor got there first. The post row
// is the single source of truth for whether a post may still be
// published; queue jobs only carry the post ID.
//
// Two Store implementations ship with the package: MemoryStore for tests
// and local development, and PostgresStore for production. The helpers
// Cancel, MarkPublished, MarkRetrying and MarkFailed encode the legal
// source statuses for each transition so callers cannot get the
// expectFrom set wrong.
package post
