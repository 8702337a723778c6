// Package pipeline ties the pieces of scheduled post delivery together:
// the post record store, the durable job queue, the platform publisher
// and the failure notifier.
//
// Service is the write side. SchedulePost creates the record and puts a
// delivery job on the queue keyed by the post id, so repeated scheduling
// of the same post never yields a second live job. CancelPost flips the
// record before touching the queue: the record is the authority, and a
// job that survives cancellation is discarded at claim time.
// RecoverySweep walks due posts in bounded batches and repairs missing
// jobs; the idempotency key makes it safe to run while the scheduler is
// live.
//
// Dispatcher is the read side. It claims jobs under a lease, reloads the
// post, and runs one publish attempt. Transient failures reschedule with
// exponential backoff until the attempt budget runs out; permanent
// rejections skip the remaining budget. Terminal failure marks the post
// failed, notifies the owner exactly once, and dead-letters the job for
// inspection.
package pipeline
