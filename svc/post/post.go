package post

import (
	"time"

	"github.com/google/uuid"
)

// Status represents a post's lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusRetrying  Status = "retrying"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// transitions is the post lifecycle state machine. Published, failed and
// cancelled are terminal; nothing leaves them.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusScheduled},
	StatusScheduled: {StatusRetrying, StatusPublished, StatusFailed, StatusCancelled, StatusDraft},
	StatusRetrying:  {StatusRetrying, StatusPublished, StatusFailed},
}

// CanTransitionTo reports whether moving to the target status is legal.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Post is the unit of schedulable work: content destined for one target
// account at one fire time. The record is the single source of truth for
// "was this published" - the job queue is only transport.
type Post struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	AccountID    uuid.UUID  `json:"account_id"` // target platform account
	Content      string     `json:"content"`
	MediaIDs     []uuid.UUID `json:"media_ids,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	Status       Status     `json:"status"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	LastRetryAt  *time.Time `json:"last_retry_at,omitempty"`
	JobID        *uuid.UUID `json:"job_id,omitempty"` // queue handle, non-nil iff a live job exists
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IdempotencyKey is the deterministic queue key for this post; it is what
// prevents two live jobs for the same post.
func (p *Post) IdempotencyKey() string {
	return IdempotencyKey(p.ID)
}

// IdempotencyKey derives the queue idempotency key from a post id.
func IdempotencyKey(postID uuid.UUID) string {
	return "post-" + postID.String()
}
