package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	module "github.com/dmitrymomot/postpipe/modules/pipeline"
	"github.com/dmitrymomot/postpipe/pkg/queue"
	svc "github.com/dmitrymomot/postpipe/svc/pipeline"
	"github.com/dmitrymomot/postpipe/svc/post"
)

func newTestServer(t *testing.T) (*httptest.Server, *post.MemoryStore) {
	t.Helper()

	store := post.NewMemoryStore()
	storage := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })

	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	service, err := svc.NewService(store, enq, svc.Config{
		QueueName:         "post-delivery",
		MaxAttempts:       5,
		RecoveryBatchSize: 50,
	})
	require.NoError(t, err)

	server := httptest.NewServer(module.Router(module.RouterOptions{Service: service}))
	t.Cleanup(server.Close)
	return server, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodePost(t *testing.T, resp *http.Response) post.Post {
	t.Helper()

	var p post.Post
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p
}

// decodeScheduled unwraps the schedule endpoint's {"posts": [...]} envelope.
func decodeScheduled(t *testing.T, resp *http.Response) []post.Post {
	t.Helper()

	var body struct {
		Posts []post.Post `json:"posts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Posts
}

func schedule(t *testing.T, server *httptest.Server, req module.ScheduleRequest) post.Post {
	t.Helper()

	resp := postJSON(t, server.URL+"/posts/schedule", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	posts := decodeScheduled(t, resp)
	require.Len(t, posts, 1)
	return posts[0]
}

func TestSchedulePostEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("creates scheduled post", func(t *testing.T) {
		t.Parallel()

		server, _ := newTestServer(t)
		p := schedule(t, server, module.ScheduleRequest{
			UserID:       uuid.New(),
			AccountIDs:   []uuid.UUID{uuid.New()},
			Content:      "hello world",
			ScheduledFor: time.Now().Add(time.Hour),
		})
		assert.Equal(t, post.StatusScheduled, p.Status)
		assert.NotNil(t, p.JobID)
	})

	t.Run("one post per target account", func(t *testing.T) {
		t.Parallel()

		server, _ := newTestServer(t)
		first, second := uuid.New(), uuid.New()
		resp := postJSON(t, server.URL+"/posts/schedule", module.ScheduleRequest{
			UserID:       uuid.New(),
			AccountIDs:   []uuid.UUID{first, second},
			Content:      "cross-posted",
			ScheduledFor: time.Now().Add(time.Hour),
		})

		require.Equal(t, http.StatusCreated, resp.StatusCode)
		posts := decodeScheduled(t, resp)
		require.Len(t, posts, 2)
		assert.Equal(t, first, posts[0].AccountID)
		assert.Equal(t, second, posts[1].AccountID)
		assert.NotEqual(t, posts[0].ID, posts[1].ID)
	})

	t.Run("empty content rejected", func(t *testing.T) {
		t.Parallel()

		server, _ := newTestServer(t)
		resp := postJSON(t, server.URL+"/posts/schedule", module.ScheduleRequest{
			UserID:       uuid.New(),
			AccountIDs:   []uuid.UUID{uuid.New()},
			ScheduledFor: time.Now().Add(time.Hour),
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("no target accounts rejected", func(t *testing.T) {
		t.Parallel()

		server, _ := newTestServer(t)
		resp := postJSON(t, server.URL+"/posts/schedule", module.ScheduleRequest{
			UserID:       uuid.New(),
			Content:      "orphan",
			ScheduledFor: time.Now().Add(time.Hour),
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		t.Parallel()

		server, _ := newTestServer(t)
		resp, err := http.Post(server.URL+"/posts/schedule", "application/json", bytes.NewReader([]byte(`{"content": `)))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCancelPostEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("cancels scheduled post", func(t *testing.T) {
		t.Parallel()

		server, _ := newTestServer(t)
		created := schedule(t, server, module.ScheduleRequest{
			UserID:       uuid.New(),
			AccountIDs:   []uuid.UUID{uuid.New()},
			Content:      "to cancel",
			ScheduledFor: time.Now().Add(time.Hour),
		})

		resp := postJSON(t, fmt.Sprintf("%s/posts/%s/cancel", server.URL, created.ID), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, post.StatusCancelled, decodePost(t, resp).Status)
	})

	t.Run("double cancel conflicts", func(t *testing.T) {
		t.Parallel()

		server, _ := newTestServer(t)
		created := schedule(t, server, module.ScheduleRequest{
			UserID:       uuid.New(),
			AccountIDs:   []uuid.UUID{uuid.New()},
			Content:      "to cancel twice",
			ScheduledFor: time.Now().Add(time.Hour),
		})

		url := fmt.Sprintf("%s/posts/%s/cancel", server.URL, created.ID)
		require.Equal(t, http.StatusOK, postJSON(t, url, nil).StatusCode)
		assert.Equal(t, http.StatusConflict, postJSON(t, url, nil).StatusCode)
	})

	t.Run("unknown post", func(t *testing.T) {
		t.Parallel()

		server, _ := newTestServer(t)
		resp := postJSON(t, fmt.Sprintf("%s/posts/%s/cancel", server.URL, uuid.New()), nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid post id", func(t *testing.T) {
		t.Parallel()

		server, _ := newTestServer(t)
		resp := postJSON(t, server.URL+"/posts/not-a-uuid/cancel", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestApprovePostEndpoint(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	created := schedule(t, server, module.ScheduleRequest{
		UserID:       uuid.New(),
		AccountIDs:   []uuid.UUID{uuid.New()},
		Content:      "awaiting approval",
		ScheduledFor: time.Now().Add(time.Hour),
		Draft:        true,
	})
	require.Equal(t, post.StatusDraft, created.Status)

	resp := postJSON(t, fmt.Sprintf("%s/posts/%s/approve", server.URL, created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	approved := decodePost(t, resp)
	assert.Equal(t, post.StatusScheduled, approved.Status)
	assert.NotNil(t, approved.JobID)

	// Approving twice is a conflict: the post already left draft.
	again := postJSON(t, fmt.Sprintf("%s/posts/%s/approve", server.URL, created.ID), nil)
	assert.Equal(t, http.StatusConflict, again.StatusCode)
}

func TestRecoverySweepEndpoint(t *testing.T) {
	t.Parallel()

	server, store := newTestServer(t)

	scheduledFor := time.Now().Add(-time.Minute)
	orphan := &post.Post{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		AccountID:    uuid.New(),
		Content:      "lost my job",
		ScheduledFor: &scheduledFor,
		Status:       post.StatusScheduled,
	}
	require.NoError(t, store.Create(context.Background(), orphan))

	resp := postJSON(t, server.URL+"/cron/recovery-sweep", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 1, result["recovered"])
}
