package post_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/postpipe/svc/post"
)

func newScheduledPost(t *testing.T, store post.Store, scheduledFor time.Time) *post.Post {
	t.Helper()

	p := &post.Post{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		AccountID:    uuid.New(),
		Content:      "hello from the pipeline",
		ScheduledFor: &scheduledFor,
		Status:       post.StatusScheduled,
	}
	require.NoError(t, store.Create(context.Background(), p))
	return p
}

func TestMemoryStore_CreateGet(t *testing.T) {
	t.Parallel()

	store := post.NewMemoryStore()
	p := newScheduledPost(t, store, time.Now().Add(time.Hour))

	got, err := store.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, post.StatusScheduled, got.Status)

	_, err = store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, post.ErrNotFound)
}

func TestMemoryStore_UpdateStatusCAS(t *testing.T) {
	t.Parallel()

	t.Run("publish from scheduled", func(t *testing.T) {
		t.Parallel()

		store := post.NewMemoryStore()
		p := newScheduledPost(t, store, time.Now())

		now := time.Now()
		got, err := post.MarkPublished(context.Background(), store, p.ID, now)
		require.NoError(t, err)
		assert.Equal(t, post.StatusPublished, got.Status)
		require.NotNil(t, got.PublishedAt)
		assert.WithinDuration(t, now, *got.PublishedAt, time.Second)
		assert.Nil(t, got.JobID)
	})

	t.Run("stale writer gets conflict", func(t *testing.T) {
		t.Parallel()

		store := post.NewMemoryStore()
		p := newScheduledPost(t, store, time.Now())

		_, err := post.Cancel(context.Background(), store, p.ID)
		require.NoError(t, err)

		// The dispatcher still believes the post is deliverable.
		_, err = post.MarkPublished(context.Background(), store, p.ID, time.Now())
		assert.ErrorIs(t, err, post.ErrConflict)

		got, err := store.Get(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, post.StatusCancelled, got.Status)
	})

	t.Run("illegal transition rejected", func(t *testing.T) {
		t.Parallel()

		store := post.NewMemoryStore()
		p := newScheduledPost(t, store, time.Now())

		_, err := store.UpdateStatus(context.Background(), p.ID, []post.Status{post.StatusScheduled}, post.Change{
			Status: post.StatusScheduled,
		})
		assert.ErrorIs(t, err, post.ErrInvalidTransition)
	})

	t.Run("unknown post", func(t *testing.T) {
		t.Parallel()

		store := post.NewMemoryStore()
		_, err := post.Cancel(context.Background(), store, uuid.New())
		assert.ErrorIs(t, err, post.ErrNotFound)
	})
}

func TestMemoryStore_MarkRetrying(t *testing.T) {
	t.Parallel()

	store := post.NewMemoryStore()
	p := newScheduledPost(t, store, time.Now())

	first := time.Now()
	got, err := post.MarkRetrying(context.Background(), store, p.ID, first)
	require.NoError(t, err)
	assert.Equal(t, post.StatusRetrying, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	got, err = post.MarkRetrying(context.Background(), store, p.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.LastRetryAt)

	got, err = post.MarkFailed(context.Background(), store, p.ID, "upstream rejected the post")
	require.NoError(t, err)
	assert.Equal(t, post.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "upstream rejected the post", *got.ErrorMessage)
	assert.Equal(t, 2, got.RetryCount, "terminal failure must not bump the retry counter")
}

func TestMemoryStore_SetJob(t *testing.T) {
	t.Parallel()

	t.Run("records handle while scheduled", func(t *testing.T) {
		t.Parallel()

		store := post.NewMemoryStore()
		p := newScheduledPost(t, store, time.Now().Add(time.Hour))

		jobID := uuid.New()
		got, err := store.SetJob(context.Background(), p.ID, jobID)
		require.NoError(t, err)
		require.NotNil(t, got.JobID)
		assert.Equal(t, jobID, *got.JobID)
	})

	t.Run("records handle while retrying", func(t *testing.T) {
		t.Parallel()

		store := post.NewMemoryStore()
		p := newScheduledPost(t, store, time.Now().Add(-time.Hour))

		_, err := post.MarkRetrying(context.Background(), store, p.ID, time.Now())
		require.NoError(t, err)

		jobID := uuid.New()
		got, err := store.SetJob(context.Background(), p.ID, jobID)
		require.NoError(t, err)
		require.NotNil(t, got.JobID)
		assert.Equal(t, jobID, *got.JobID)
	})

	t.Run("rejected after cancellation", func(t *testing.T) {
		t.Parallel()

		store := post.NewMemoryStore()
		p := newScheduledPost(t, store, time.Now().Add(time.Hour))

		_, err := post.Cancel(context.Background(), store, p.ID)
		require.NoError(t, err)

		_, err = store.SetJob(context.Background(), p.ID, uuid.New())
		assert.ErrorIs(t, err, post.ErrConflict)
	})
}

func TestMemoryStore_ListDue(t *testing.T) {
	t.Parallel()

	store := post.NewMemoryStore()
	now := time.Now()

	late := newScheduledPost(t, store, now.Add(-time.Minute))
	later := newScheduledPost(t, store, now.Add(-time.Hour))
	newScheduledPost(t, store, now.Add(time.Hour)) // not yet due

	published := newScheduledPost(t, store, now.Add(-time.Minute))
	_, err := post.MarkPublished(context.Background(), store, published.ID, now)
	require.NoError(t, err)

	// A mid-retry post is still deliverable and must stay reachable.
	retrying := newScheduledPost(t, store, now.Add(-2*time.Hour))
	_, err = post.MarkRetrying(context.Background(), store, retrying.ID, now)
	require.NoError(t, err)

	due, err := store.ListDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, retrying.ID, due[0].ID, "oldest fire time first")
	assert.Equal(t, later.ID, due[1].ID)
	assert.Equal(t, late.ID, due[2].ID)

	due, err = store.ListDue(context.Background(), now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, retrying.ID, due[0].ID)
}

func TestMemoryStore_ConcurrentCAS(t *testing.T) {
	t.Parallel()

	store := post.NewMemoryStore()
	p := newScheduledPost(t, store, time.Now())

	const writers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := post.MarkPublished(context.Background(), store, p.ID, time.Now()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one writer may publish the post")
}
