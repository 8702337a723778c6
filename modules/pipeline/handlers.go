package pipeline

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/postpipe/pkg/binder"
	svc "github.com/dmitrymomot/postpipe/svc/pipeline"
	"github.com/dmitrymomot/postpipe/svc/post"
)

type handlers struct {
	service *svc.Service
}

// ScheduleRequest is the body of POST /posts/schedule. One post is
// created per target account.
type ScheduleRequest struct {
	UserID       uuid.UUID   `json:"user_id"`
	AccountIDs   []uuid.UUID `json:"account_ids"`
	Content      string      `json:"content"`
	MediaIDs     []uuid.UUID `json:"media_ids"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	Draft        bool        `json:"draft"`
}

func (h *handlers) schedulePost(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := binder.JSON()(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	posts, err := h.service.SchedulePosts(r.Context(), svc.SchedulePostParams{
		UserID:       req.UserID,
		Content:      req.Content,
		MediaIDs:     req.MediaIDs,
		ScheduledFor: req.ScheduledFor,
		Draft:        req.Draft,
	}, req.AccountIDs)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"posts": posts})
}

func (h *handlers) cancelPost(w http.ResponseWriter, r *http.Request) {
	postID, err := uuid.Parse(chi.URLParam(r, "postID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid post id"))
		return
	}

	p, err := h.service.CancelPost(r.Context(), postID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *handlers) approvePost(w http.ResponseWriter, r *http.Request) {
	postID, err := uuid.Parse(chi.URLParam(r, "postID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid post id"))
		return
	}

	p, err := h.service.ApprovePost(r.Context(), postID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *handlers) recoverySweep(w http.ResponseWriter, r *http.Request) {
	recovered, err := h.service.RecoverySweep(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"recovered": recovered})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// respondServiceError maps domain errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, post.ErrNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, post.ErrConflict), errors.Is(err, post.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err)
	case errors.Is(err, svc.ErrEmptyContent), errors.Is(err, svc.ErrNoScheduleTime),
		errors.Is(err, svc.ErrNoAccounts):
		respondError(w, http.StatusUnprocessableEntity, err)
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}
