package queue_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/postpipe/pkg/queue"
)

func newTestJob(key string) *queue.Job {
	return &queue.Job{
		ID:             uuid.New(),
		IdempotencyKey: key,
		Queue:          queue.DefaultQueueName,
		Payload:        json.RawMessage(`{"post_id":"abc"}`),
		Status:         queue.JobStatusPending,
		MaxAttempts:    queue.DefaultMaxAttempts,
		ScheduledAt:    time.Now().Add(-time.Second),
		CreatedAt:      time.Now(),
	}
}

func TestMemoryStorage_CreateJob(t *testing.T) {
	t.Parallel()

	t.Run("creates and retrieves by key", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()

		job := newTestJob("post-1")
		require.NoError(t, ms.CreateJob(context.Background(), job))

		got, err := ms.GetLiveJobByKey(context.Background(), "post-1")
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
	})

	t.Run("rejects duplicate live key", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()

		require.NoError(t, ms.CreateJob(context.Background(), newTestJob("post-2")))
		err := ms.CreateJob(context.Background(), newTestJob("post-2"))
		assert.ErrorIs(t, err, queue.ErrDuplicateJob)
	})

	t.Run("key is released after terminal success", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()
		ctx := context.Background()

		job := newTestJob("post-3")
		require.NoError(t, ms.CreateJob(ctx, job))

		claimed, err := ms.ClaimJob(ctx, uuid.New(), nil, time.Minute)
		require.NoError(t, err)
		require.NoError(t, ms.CompleteJob(ctx, claimed.ID))

		_, err = ms.GetLiveJobByKey(ctx, "post-3")
		assert.ErrorIs(t, err, queue.ErrJobNotFound)

		// A new chain for the same key is allowed now.
		assert.NoError(t, ms.CreateJob(ctx, newTestJob("post-3")))
	})
}

func TestMemoryStorage_ClaimJob(t *testing.T) {
	t.Parallel()

	t.Run("skips jobs scheduled in the future", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()
		ctx := context.Background()

		job := newTestJob("post-future")
		job.ScheduledAt = time.Now().Add(time.Hour)
		require.NoError(t, ms.CreateJob(ctx, job))

		_, err := ms.ClaimJob(ctx, uuid.New(), nil, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)
	})

	t.Run("earliest fire time first", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()
		ctx := context.Background()

		later := newTestJob("post-later")
		later.ScheduledAt = time.Now().Add(-time.Minute)
		earlier := newTestJob("post-earlier")
		earlier.ScheduledAt = time.Now().Add(-time.Hour)
		require.NoError(t, ms.CreateJob(ctx, later))
		require.NoError(t, ms.CreateJob(ctx, earlier))

		claimed, err := ms.ClaimJob(ctx, uuid.New(), nil, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, earlier.ID, claimed.ID)
	})

	t.Run("a job lands on exactly one of N racing workers", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()
		ctx := context.Background()

		require.NoError(t, ms.CreateJob(ctx, newTestJob("post-race")))

		const workers = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := ms.ClaimJob(ctx, uuid.New(), nil, time.Minute); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
	})

	t.Run("filters by queue name", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()
		ctx := context.Background()

		job := newTestJob("post-queued")
		job.Queue = "linkedin"
		require.NoError(t, ms.CreateJob(ctx, job))

		_, err := ms.ClaimJob(ctx, uuid.New(), []string{"other"}, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

		claimed, err := ms.ClaimJob(ctx, uuid.New(), []string{"linkedin"}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, job.ID, claimed.ID)
	})
}

func TestMemoryStorage_RetryJob(t *testing.T) {
	t.Parallel()

	t.Run("increments attempts and delays next claim", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()
		ctx := context.Background()

		require.NoError(t, ms.CreateJob(ctx, newTestJob("post-retry")))
		claimed, err := ms.ClaimJob(ctx, uuid.New(), nil, time.Minute)
		require.NoError(t, err)

		require.NoError(t, ms.RetryJob(ctx, claimed.ID, "rate limited", time.Hour))

		job, err := ms.GetLiveJobByKey(ctx, "post-retry")
		require.NoError(t, err)
		assert.Equal(t, int8(1), job.Attempts)
		assert.Equal(t, queue.JobStatusPending, job.Status)
		require.NotNil(t, job.Error)
		assert.Equal(t, "rate limited", *job.Error)

		// Delayed past its backoff window, so not claimable yet.
		_, err = ms.ClaimJob(ctx, uuid.New(), nil, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)
	})

	t.Run("rejects retry of unclaimed job", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()
		ctx := context.Background()

		job := newTestJob("post-unclaimed")
		require.NoError(t, ms.CreateJob(ctx, job))

		err := ms.RetryJob(ctx, job.ID, "boom", time.Second)
		assert.ErrorIs(t, err, queue.ErrJobNotProcessing)
	})
}

func TestMemoryStorage_MarkDead(t *testing.T) {
	t.Parallel()

	ms := queue.NewMemoryStorage()
	defer ms.Close()
	ctx := context.Background()

	require.NoError(t, ms.CreateJob(ctx, newTestJob("post-dead")))
	claimed, err := ms.ClaimJob(ctx, uuid.New(), nil, time.Minute)
	require.NoError(t, err)

	require.NoError(t, ms.RetryJob(ctx, claimed.ID, "fail 1", 0))
	claimed, err = ms.ClaimJob(ctx, uuid.New(), nil, time.Minute)
	require.NoError(t, err)

	require.NoError(t, ms.MarkDead(ctx, claimed.ID, "credential expired"))

	// Dead-lettered, not deleted: retained for inspection.
	dead := ms.DeadJobs()
	require.Len(t, dead, 1)
	assert.Equal(t, claimed.ID, dead[0].JobID)
	assert.Equal(t, "credential expired", dead[0].Error)
	assert.Equal(t, int8(1), dead[0].Attempts)

	// No longer live.
	_, err = ms.GetLiveJobByKey(ctx, "post-dead")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestMemoryStorage_DeleteJob(t *testing.T) {
	t.Parallel()

	t.Run("removes pending job", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()
		ctx := context.Background()

		job := newTestJob("post-cancel")
		require.NoError(t, ms.CreateJob(ctx, job))
		require.NoError(t, ms.DeleteJob(ctx, job.ID))

		_, err := ms.GetLiveJobByKey(ctx, "post-cancel")
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})

	t.Run("refuses to remove claimed job", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()
		ctx := context.Background()

		job := newTestJob("post-claimed")
		require.NoError(t, ms.CreateJob(ctx, job))
		_, err := ms.ClaimJob(ctx, uuid.New(), nil, time.Minute)
		require.NoError(t, err)

		assert.ErrorIs(t, ms.DeleteJob(ctx, job.ID), queue.ErrJobNotPending)
	})
}

func TestMemoryStorage_LeaseExpiry(t *testing.T) {
	t.Parallel()

	ms := queue.NewMemoryStorage()
	defer ms.Close()
	ctx := context.Background()

	require.NoError(t, ms.CreateJob(ctx, newTestJob("post-lease")))

	claimed, err := ms.ClaimJob(ctx, uuid.New(), nil, 50*time.Millisecond)
	require.NoError(t, err)

	// Lease still live: a second worker gets nothing.
	_, err = ms.ClaimJob(ctx, uuid.New(), nil, time.Minute)
	require.ErrorIs(t, err, queue.ErrNoJobToClaim)

	// The expiry manager runs every second; wait for it to release the lease.
	require.Eventually(t, func() bool {
		reclaimed, err := ms.ClaimJob(ctx, uuid.New(), nil, time.Minute)
		return err == nil && reclaimed.ID == claimed.ID
	}, 3*time.Second, 50*time.Millisecond)
}

func TestMemoryStorage_ExtendLease(t *testing.T) {
	t.Parallel()

	t.Run("extended lease outlives the original deadline", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()
		ctx := context.Background()

		require.NoError(t, ms.CreateJob(ctx, newTestJob("post-extend")))

		claimed, err := ms.ClaimJob(ctx, uuid.New(), nil, 50*time.Millisecond)
		require.NoError(t, err)
		require.NoError(t, ms.ExtendLease(ctx, claimed.ID, time.Minute))

		// Well past the original deadline the job must still be held.
		time.Sleep(1500 * time.Millisecond)
		_, err = ms.ClaimJob(ctx, uuid.New(), nil, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)
	})

	t.Run("rejects jobs that are not processing", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		defer ms.Close()
		ctx := context.Background()

		require.ErrorIs(t, ms.ExtendLease(ctx, uuid.New(), time.Minute), queue.ErrJobNotFound)

		pending := newTestJob("post-extend-pending")
		require.NoError(t, ms.CreateJob(ctx, pending))
		assert.ErrorIs(t, ms.ExtendLease(ctx, pending.ID, time.Minute), queue.ErrJobNotProcessing)
	})
}
