package binder_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/postpipe/pkg/binder"
)

type testRequest struct {
	Content string `json:"content"`
	Count   int    `json:"count"`
}

func bindJSON(t *testing.T, contentType, body string) (testRequest, error) {
	t.Helper()

	r := httptest.NewRequest("POST", "/", strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	var req testRequest
	err := binder.JSON()(r, &req)
	return req, err
}

func TestJSON(t *testing.T) {
	t.Parallel()

	t.Run("valid body", func(t *testing.T) {
		t.Parallel()

		req, err := bindJSON(t, "application/json", `{"content":"hello","count":3}`)
		require.NoError(t, err)
		assert.Equal(t, "hello", req.Content)
		assert.Equal(t, 3, req.Count)
	})

	t.Run("content type with charset", func(t *testing.T) {
		t.Parallel()

		_, err := bindJSON(t, "application/json; charset=utf-8", `{"content":"x"}`)
		assert.NoError(t, err)
	})

	t.Run("missing content type", func(t *testing.T) {
		t.Parallel()

		_, err := bindJSON(t, "", `{}`)
		assert.ErrorIs(t, err, binder.ErrMissingContentType)
	})

	t.Run("wrong content type", func(t *testing.T) {
		t.Parallel()

		_, err := bindJSON(t, "text/plain", `{}`)
		assert.ErrorIs(t, err, binder.ErrUnsupportedMediaType)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		t.Parallel()

		_, err := bindJSON(t, "application/json", `{"content":"x","bogus":true}`)
		assert.ErrorIs(t, err, binder.ErrFailedToParseJSON)
	})

	t.Run("empty body", func(t *testing.T) {
		t.Parallel()

		_, err := bindJSON(t, "application/json", "")
		assert.ErrorIs(t, err, binder.ErrFailedToParseJSON)
	})

	t.Run("trailing garbage", func(t *testing.T) {
		t.Parallel()

		_, err := bindJSON(t, "application/json", `{"content":"x"} extra`)
		assert.ErrorIs(t, err, binder.ErrFailedToParseJSON)
	})

	t.Run("oversized body", func(t *testing.T) {
		t.Parallel()

		big := `{"content":"` + strings.Repeat("a", binder.DefaultMaxJSONSize) + `"}`
		_, err := bindJSON(t, "application/json", big)
		assert.ErrorIs(t, err, binder.ErrBodyTooLarge)
	})
}
