// Package queue provides the durable, delayed-delivery job queue behind
// the post scheduling pipeline.
//
// A Job is one delivery attempt chain for one post, keyed by a
// deterministic idempotency key so at most one live job can exist per
// post. The package is organised around small repository interfaces:
//
//   - Enqueuer: creates jobs with duplicate suppression
//   - EnqueuerRepository: persistence surface for job creation/cancellation
//   - WorkerRepository: claim/complete/retry/dead-letter surface for
//     dispatch workers
//
// Three storage backends implement every interface: MemoryStorage (tests,
// local development), PostgresStorage (pgx, FOR UPDATE SKIP LOCKED claims)
// and RedisStorage (go-redis, Lua-scripted atomic claims). Components
// never assume a particular backend.
//
// # Delivery semantics
//
// Claims hand a job to at most one worker under a lease. A worker that
// never settles its job (crash, network partition) loses the lease and the
// job becomes claimable again - this is what keeps a crashed worker from
// stalling a post forever. The flip side is at-least-once delivery: a
// worker that is merely slow can outlive its lease while still publishing,
// and a second worker may then claim the same job. The default two-minute
// lease keeps that window far above any realistic platform-API latency,
// and the post record's compare-and-set transitions make the second
// delivery a detected conflict rather than a duplicate publish. Authority
// for "was this published" lives with the post record store, never here.
//
// Terminal success deletes the job. Terminal failure retains it as a
// DeadJob for operational inspection.
package queue
