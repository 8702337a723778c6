package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStorage implements Storage on a Redis server.
//
// Layout (all keys under the configured prefix):
//
//	job:<id>         hash with the job fields
//	key:<key>        idempotency guard, value is the live job id (SET NX)
//	pending:<queue>  ZSET of pending job ids scored by fire time (unix ms)
//	lease            ZSET of processing job ids scored by lease deadline
//	dead             ZSET of dead-lettered ids scored by failure time
//	dead:<id>        hash with the dead job fields
//
// Pending jobs live in one ZSET per queue name, so a claim against a set
// of queues sees only those queues' jobs, matching the Postgres backend.
// Claims run as a Lua script: expired leases are swept back into their
// queue's pending ZSET, then the earliest due id is popped and moved to
// the lease ZSET in the same atomic step, which is what makes a job land
// on exactly one worker.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// RedisOption configures RedisStorage.
type RedisOption func(*RedisStorage)

// WithKeyPrefix overrides the default "postpipe:" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStorage) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStorage creates a Redis-backed job storage.
func NewRedisStorage(client *redis.Client, opts ...RedisOption) (*RedisStorage, error) {
	if client == nil {
		return nil, ErrRepositoryNil
	}
	s := &RedisStorage{client: client, prefix: "postpipe:"}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStorage) jobKey(id uuid.UUID) string  { return s.prefix + "job:" + id.String() }
func (s *RedisStorage) guardKey(key string) string  { return s.prefix + "key:" + key }
func (s *RedisStorage) pendingKey(q string) string  { return s.prefix + "pending:" + q }
func (s *RedisStorage) leaseKey() string            { return s.prefix + "lease" }
func (s *RedisStorage) deadIndexKey() string        { return s.prefix + "dead" }
func (s *RedisStorage) deadKey(id uuid.UUID) string { return s.prefix + "dead:" + id.String() }

// createScript guards the idempotency key and registers the job in one
// atomic step. Returns 0 when the key is already held by a live job.
var createScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') == false then
	return 0
end
redis.call('HSET', KEYS[2], unpack(ARGV, 3))
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
return 1
`)

// claimScript sweeps expired leases back to their queue's pending ZSET,
// then pops the earliest due job from the requested queues and moves it
// under a fresh lease. KEYS[1] is the lease ZSET; KEYS[2..] are the
// pending ZSETs of the queues being claimed from.
var claimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(expired) do
	redis.call('ZREM', KEYS[1], id)
	local jk = ARGV[4] .. 'job:' .. id
	local sched = redis.call('HGET', jk, 'scheduled_ms')
	local q = redis.call('HGET', jk, 'queue')
	redis.call('HSET', jk, 'status', 'pending', 'locked_until_ms', '', 'locked_by', '')
	redis.call('ZADD', ARGV[4] .. 'pending:' .. (q or 'default'), sched or ARGV[1], id)
end

for i = 2, #KEYS do
	local due = redis.call('ZRANGEBYSCORE', KEYS[i], '-inf', ARGV[1], 'LIMIT', 0, 1)
	if #due > 0 then
		local id = due[1]
		redis.call('ZREM', KEYS[i], id)
		redis.call('ZADD', KEYS[1], ARGV[2], id)
		redis.call('HSET', ARGV[4] .. 'job:' .. id, 'status', 'processing', 'locked_until_ms', ARGV[2], 'locked_by', ARGV[3])
		return redis.call('HGETALL', ARGV[4] .. 'job:' .. id)
	end
end
return false
`)

// settleScript removes a processing job entirely (terminal success).
var settleScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
local guard = redis.call('HGET', KEYS[2], 'key')
redis.call('DEL', KEYS[2])
if guard then
	redis.call('DEL', ARGV[2] .. 'key:' .. guard)
end
return 1
`)

// retryScript releases the lease and reschedules with an incremented
// attempt counter, back onto the job's own queue.
var retryScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
local q = redis.call('HGET', KEYS[2], 'queue')
redis.call('HINCRBY', KEYS[2], 'attempts', 1)
redis.call('HSET', KEYS[2], 'status', 'pending', 'error', ARGV[3], 'scheduled_ms', ARGV[2], 'locked_until_ms', '', 'locked_by', '')
redis.call('ZADD', ARGV[4] .. 'pending:' .. (q or 'default'), ARGV[2], ARGV[1])
return 1
`)

// deadScript moves the job hash to the dead-letter keyspace and releases
// the idempotency guard.
var deadScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
	return 0
end
local q = redis.call('HGET', KEYS[2], 'queue')
redis.call('ZREM', ARGV[4] .. 'pending:' .. (q or 'default'), ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[1])
local guard = redis.call('HGET', KEYS[2], 'key')
redis.call('HSET', KEYS[2], 'status', 'dead', 'error', ARGV[3], 'failed_ms', ARGV[2])
redis.call('RENAME', KEYS[2], KEYS[3])
redis.call('ZADD', KEYS[4], ARGV[2], ARGV[1])
if guard then
	redis.call('DEL', ARGV[4] .. 'key:' .. guard)
end
return 1
`)

// deleteScript removes a pending job (cancellation).
var deleteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local q = redis.call('HGET', KEYS[1], 'queue')
if redis.call('ZREM', ARGV[2] .. 'pending:' .. (q or 'default'), ARGV[1]) == 0 then
	return -1
end
local guard = redis.call('HGET', KEYS[1], 'key')
redis.call('DEL', KEYS[1])
if guard then
	redis.call('DEL', ARGV[2] .. 'key:' .. guard)
end
return 1
`)

// CreateJob implements EnqueuerRepository.
func (s *RedisStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return ErrPayloadNil
	}

	fields := []any{
		job.ID.String(), strconv.FormatInt(job.ScheduledAt.UnixMilli(), 10),
		"id", job.ID.String(),
		"key", job.IdempotencyKey,
		"queue", job.Queue,
		"payload", string(job.Payload),
		"status", string(JobStatusPending),
		"attempts", strconv.Itoa(int(job.Attempts)),
		"max_attempts", strconv.Itoa(int(job.MaxAttempts)),
		"scheduled_ms", strconv.FormatInt(job.ScheduledAt.UnixMilli(), 10),
		"created_ms", strconv.FormatInt(job.CreatedAt.UnixMilli(), 10),
	}

	created, err := createScript.Run(ctx, s.client,
		[]string{s.guardKey(job.IdempotencyKey), s.jobKey(job.ID), s.pendingKey(job.Queue)},
		fields...,
	).Int()
	if err != nil {
		return fmt.Errorf("redis create job: %w", err)
	}
	if created == 0 {
		return ErrDuplicateJob
	}
	return nil
}

// GetLiveJobByKey implements EnqueuerRepository.
func (s *RedisStorage) GetLiveJobByKey(ctx context.Context, idempotencyKey string) (*Job, error) {
	id, err := s.client.Get(ctx, s.guardKey(idempotencyKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("redis get guard: %w", err)
	}

	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("redis guard holds invalid job id %q: %w", id, err)
	}

	fields, err := s.client.HGetAll(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromFields(fields)
}

// DeleteJob implements EnqueuerRepository.
func (s *RedisStorage) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	res, err := deleteScript.Run(ctx, s.client,
		[]string{s.jobKey(jobID)},
		jobID.String(), s.prefix,
	).Int()
	if err != nil {
		return fmt.Errorf("redis delete job: %w", err)
	}
	switch res {
	case 1:
		return nil
	case -1:
		return ErrJobNotPending
	default:
		return ErrJobNotFound
	}
}

// ClaimJob implements WorkerRepository.
func (s *RedisStorage) ClaimJob(ctx context.Context, workerID uuid.UUID, queues []string, lease time.Duration) (*Job, error) {
	if len(queues) == 0 {
		queues = []string{DefaultQueueName}
	}
	keys := make([]string, 0, len(queues)+1)
	keys = append(keys, s.leaseKey())
	for _, q := range queues {
		keys = append(keys, s.pendingKey(q))
	}

	now := time.Now()
	res, err := claimScript.Run(ctx, s.client, keys,
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(lease).UnixMilli(), 10),
		workerID.String(),
		s.prefix,
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJobToClaim
		}
		return nil, fmt.Errorf("redis claim job: %w", err)
	}

	raw, ok := res.([]any)
	if !ok || len(raw) == 0 {
		return nil, ErrNoJobToClaim
	}

	fields := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		k, _ := raw[i].(string)
		v, _ := raw[i+1].(string)
		fields[k] = v
	}

	return jobFromFields(fields)
}

// CompleteJob implements WorkerRepository.
func (s *RedisStorage) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	res, err := settleScript.Run(ctx, s.client,
		[]string{s.leaseKey(), s.jobKey(jobID)},
		jobID.String(), s.prefix,
	).Int()
	if err != nil {
		return fmt.Errorf("redis complete job: %w", err)
	}
	if res == 0 {
		return ErrJobNotProcessing
	}
	return nil
}

// RetryJob implements WorkerRepository.
func (s *RedisStorage) RetryJob(ctx context.Context, jobID uuid.UUID, errMsg string, delay time.Duration) error {
	res, err := retryScript.Run(ctx, s.client,
		[]string{s.leaseKey(), s.jobKey(jobID)},
		jobID.String(),
		strconv.FormatInt(time.Now().Add(delay).UnixMilli(), 10),
		errMsg,
		s.prefix,
	).Int()
	if err != nil {
		return fmt.Errorf("redis retry job: %w", err)
	}
	if res == 0 {
		return ErrJobNotProcessing
	}
	return nil
}

// MarkDead implements WorkerRepository.
func (s *RedisStorage) MarkDead(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	res, err := deadScript.Run(ctx, s.client,
		[]string{s.leaseKey(), s.jobKey(jobID), s.deadKey(jobID), s.deadIndexKey()},
		jobID.String(),
		strconv.FormatInt(time.Now().UnixMilli(), 10),
		errMsg,
		s.prefix,
	).Int()
	if err != nil {
		return fmt.Errorf("redis mark dead: %w", err)
	}
	if res == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ExtendLease implements WorkerRepository.
func (s *RedisStorage) ExtendLease(ctx context.Context, jobID uuid.UUID, lease time.Duration) error {
	until := time.Now().Add(lease).UnixMilli()
	added, err := s.client.ZAddXX(ctx, s.leaseKey(), redis.Z{
		Score:  float64(until),
		Member: jobID.String(),
	}).Result()
	if err != nil {
		return fmt.Errorf("redis extend lease: %w", err)
	}
	if added == 0 {
		// XX means only existing members are updated; 0 changed rows still
		// succeeds, so double-check membership.
		if _, err := s.client.ZScore(ctx, s.leaseKey(), jobID.String()).Result(); err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrJobNotProcessing
			}
			return fmt.Errorf("redis lease check: %w", err)
		}
	}
	_, err = s.client.HSet(ctx, s.jobKey(jobID), "locked_until_ms", strconv.FormatInt(until, 10)).Result()
	if err != nil {
		return fmt.Errorf("redis extend lease hash: %w", err)
	}
	return nil
}

// jobFromFields rebuilds a Job from its Redis hash representation.
func jobFromFields(fields map[string]string) (*Job, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("redis job has invalid id %q: %w", fields["id"], err)
	}

	job := &Job{
		ID:             id,
		IdempotencyKey: fields["key"],
		Queue:          fields["queue"],
		Status:         JobStatus(fields["status"]),
		CreatedAt:      msField(fields, "created_ms"),
		ScheduledAt:    msField(fields, "scheduled_ms"),
	}
	if p := fields["payload"]; p != "" {
		job.Payload = []byte(p)
	}
	if a, err := strconv.Atoi(fields["attempts"]); err == nil {
		job.Attempts = int8(a)
	}
	if m, err := strconv.Atoi(fields["max_attempts"]); err == nil {
		job.MaxAttempts = int8(m)
	}
	if v := fields["locked_until_ms"]; v != "" {
		t := msValue(v)
		job.LockedUntil = &t
	}
	if v := fields["locked_by"]; v != "" {
		if w, err := uuid.Parse(v); err == nil {
			job.LockedBy = &w
		}
	}
	if v := fields["error"]; v != "" {
		job.Error = &v
	}
	return job, nil
}

func msField(fields map[string]string, name string) time.Time {
	return msValue(fields[name])
}

func msValue(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
