package publisher_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/postpipe/svc/publisher"
)

type staticCreds publisher.Credentials

func (c staticCreds) Credentials(ctx context.Context, accountID uuid.UUID) (*publisher.Credentials, error) {
	cc := publisher.Credentials(c)
	return &cc, nil
}

type noCreds struct{}

func (noCreds) Credentials(ctx context.Context, accountID uuid.UUID) (*publisher.Credentials, error) {
	return nil, publisher.ErrNoCredentials
}

func newLinkedIn(t *testing.T, handler http.Handler) *publisher.LinkedInPublisher {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := publisher.NewLinkedInPublisher(
		publisher.LinkedInConfig{BaseURL: srv.URL},
		staticCreds{AccessToken: "tok-123", AuthorURN: "urn:li:person:abc"},
		publisher.WithLinkedInHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return p
}

func TestLinkedInPublisher_Publish(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		var gotBody map[string]any
		p := newLinkedIn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v2/ugcPosts", r.URL.Path)
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			assert.Equal(t, "2.0.0", r.Header.Get("X-Restli-Protocol-Version"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"urn:li:share:6789"}`))
		}))

		result, err := p.Publish(context.Background(), publisher.PublishRequest{
			PostID:    uuid.New(),
			AccountID: uuid.New(),
			Content:   "shipping update",
		})
		require.NoError(t, err)
		assert.Equal(t, "urn:li:share:6789", result.ExternalID)
		assert.False(t, result.PublishedAt.IsZero())

		assert.Equal(t, "urn:li:person:abc", gotBody["author"])
		assert.Equal(t, "PUBLISHED", gotBody["lifecycleState"])
	})

	t.Run("media attached", func(t *testing.T) {
		t.Parallel()

		var gotBody map[string]any
		p := newLinkedIn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"urn:li:share:1"}`))
		}))

		_, err := p.Publish(context.Background(), publisher.PublishRequest{
			PostID:    uuid.New(),
			AccountID: uuid.New(),
			Content:   "with picture",
			MediaURLs: []string{"https://cdn.example.com/media/a.png"},
		})
		require.NoError(t, err)

		content := gotBody["specificContent"].(map[string]any)["com.linkedin.ugc.ShareContent"].(map[string]any)
		assert.Equal(t, "IMAGE", content["shareMediaCategory"])
		media := content["media"].([]any)
		require.Len(t, media, 1)
		assert.Equal(t, "https://cdn.example.com/media/a.png", media[0].(map[string]any)["originalUrl"])
	})

	t.Run("rate limited is transient", func(t *testing.T) {
		t.Parallel()

		p := newLinkedIn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"slow down"}`))
		}))

		_, err := p.Publish(context.Background(), publisher.PublishRequest{PostID: uuid.New(), AccountID: uuid.New(), Content: "x"})
		require.Error(t, err)
		assert.False(t, publisher.IsPermanent(err))
		assert.ErrorContains(t, err, "slow down")
	})

	t.Run("server error is transient", func(t *testing.T) {
		t.Parallel()

		p := newLinkedIn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))

		_, err := p.Publish(context.Background(), publisher.PublishRequest{PostID: uuid.New(), AccountID: uuid.New(), Content: "x"})
		require.Error(t, err)
		assert.False(t, publisher.IsPermanent(err))
	})

	t.Run("revoked token is permanent", func(t *testing.T) {
		t.Parallel()

		p := newLinkedIn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"expired access token"}`))
		}))

		_, err := p.Publish(context.Background(), publisher.PublishRequest{PostID: uuid.New(), AccountID: uuid.New(), Content: "x"})
		require.Error(t, err)
		assert.True(t, publisher.IsPermanent(err))
	})

	t.Run("rejected content is permanent", func(t *testing.T) {
		t.Parallel()

		p := newLinkedIn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"content policy violation"}`))
		}))

		_, err := p.Publish(context.Background(), publisher.PublishRequest{PostID: uuid.New(), AccountID: uuid.New(), Content: "x"})
		require.Error(t, err)
		assert.True(t, publisher.IsPermanent(err))
	})

	t.Run("missing credentials", func(t *testing.T) {
		t.Parallel()

		p, err := publisher.NewLinkedInPublisher(publisher.LinkedInConfig{}, noCreds{})
		require.NoError(t, err)

		_, err = p.Publish(context.Background(), publisher.PublishRequest{PostID: uuid.New(), AccountID: uuid.New(), Content: "x"})
		require.Error(t, err)
		assert.ErrorIs(t, err, publisher.ErrNoCredentials)
		assert.True(t, publisher.IsPermanent(err))
	})
}

func TestStaticResolver(t *testing.T) {
	t.Parallel()

	known := uuid.New()
	resolver := publisher.StaticResolver{known: "https://cdn.example.com/media/known.png"}

	urls, err := resolver.Resolve(context.Background(), []uuid.UUID{known})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/media/known.png"}, urls)

	_, err = resolver.Resolve(context.Background(), []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, publisher.ErrMediaNotFound)
}
