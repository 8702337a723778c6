package post

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a post id does not exist.
	ErrNotFound = errors.New("post not found")

	// ErrConflict is returned when a compare-and-set update finds the post
	// in a status outside the expected set. The stale update is rejected,
	// never silently applied.
	ErrConflict = errors.New("post status changed concurrently, update rejected")

	// ErrInvalidTransition is returned when a change targets a status the
	// lifecycle state machine does not permit from the current one.
	ErrInvalidTransition = errors.New("illegal post status transition")
)

// Change describes the mutation applied by a compare-and-set update.
// Only the Status is mandatory; nil pointer fields are left untouched.
type Change struct {
	Status         Status
	PublishedAt    *time.Time
	ErrorMessage   *string
	IncrementRetry bool
	LastRetryAt    *time.Time
	JobID          *uuid.UUID
	ClearJobID     bool
}

// Store is the durable post record store. All updates are atomic
// per-record: UpdateStatus checks the current status against the expected
// set before applying, so concurrent conflicting updates surface as
// ErrConflict instead of overwriting each other.
type Store interface {
	Create(ctx context.Context, p *Post) error
	Get(ctx context.Context, id uuid.UUID) (*Post, error)

	// UpdateStatus applies the change iff the post's current status is in
	// expectFrom and the transition to change.Status is legal.
	UpdateStatus(ctx context.Context, id uuid.UUID, expectFrom []Status, change Change) (*Post, error)

	// SetJob records the queue handle on a post without changing status.
	// Applies only while the post is still deliverable (scheduled or
	// retrying); a post cancelled or delivered in the meantime rejects
	// the write with ErrConflict.
	SetJob(ctx context.Context, id uuid.UUID, jobID uuid.UUID) (*Post, error)

	// ListDue returns deliverable posts (scheduled or retrying) whose
	// fire time has passed, in bounded batches ordered by fire time.
	// Retrying posts are included so a mid-retry post whose job was lost
	// is still reachable by the recovery sweep. Recovery sweep read path.
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Post, error)
}

// Cancel flips a scheduled post to cancelled and clears its job handle.
// Only legal from scheduled; anything else is a conflict.
func Cancel(ctx context.Context, s Store, id uuid.UUID) (*Post, error) {
	return s.UpdateStatus(ctx, id, []Status{StatusScheduled}, Change{
		Status:     StatusCancelled,
		ClearJobID: true,
	})
}

// MarkPublished records a successful delivery.
func MarkPublished(ctx context.Context, s Store, id uuid.UUID, publishedAt time.Time) (*Post, error) {
	return s.UpdateStatus(ctx, id, []Status{StatusScheduled, StatusRetrying}, Change{
		Status:      StatusPublished,
		PublishedAt: &publishedAt,
		ClearJobID:  true,
	})
}

// MarkRetrying records the start of a delivery attempt numbered greater
// than one, bumping the retry counter.
func MarkRetrying(ctx context.Context, s Store, id uuid.UUID, at time.Time) (*Post, error) {
	return s.UpdateStatus(ctx, id, []Status{StatusScheduled, StatusRetrying}, Change{
		Status:         StatusRetrying,
		IncrementRetry: true,
		LastRetryAt:    &at,
	})
}

// MarkFailed records terminal failure with the final error message.
func MarkFailed(ctx context.Context, s Store, id uuid.UUID, errMsg string) (*Post, error) {
	return s.UpdateStatus(ctx, id, []Status{StatusScheduled, StatusRetrying}, Change{
		Status:       StatusFailed,
		ErrorMessage: &errMsg,
		ClearJobID:   true,
	})
}
