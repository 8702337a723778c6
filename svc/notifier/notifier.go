package notifier

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/postpipe/svc/post"
)

var (
	// ErrRecipientUnknown is returned when no notification address exists
	// for the post's owner.
	ErrRecipientUnknown = errors.New("notifier: no recipient for user")
)

// Notifier informs a post's owner that delivery has terminally failed.
// It is invoked exactly once per post, after the retry budget is spent
// or a permanent rejection is recorded - never on intermediate attempts.
type Notifier interface {
	NotifyFailure(ctx context.Context, p *post.Post, reason string) error
}

// RecipientSource resolves the notification address for a user.
type RecipientSource interface {
	EmailFor(ctx context.Context, userID uuid.UUID) (string, error)
}

// StaticRecipients implements RecipientSource over a fixed map. Useful
// for tests and local development.
type StaticRecipients map[uuid.UUID]string

// EmailFor implements RecipientSource.
func (r StaticRecipients) EmailFor(ctx context.Context, userID uuid.UUID) (string, error) {
	addr, ok := r[userID]
	if !ok {
		return "", ErrRecipientUnknown
	}
	return addr, nil
}

// LogNotifier implements Notifier by writing a structured log record.
// Local-development stand-in for the email notifier.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// NotifyFailure implements Notifier.
func (n *LogNotifier) NotifyFailure(ctx context.Context, p *post.Post, reason string) error {
	n.log.ErrorContext(ctx, "post delivery failed",
		slog.String("post_id", p.ID.String()),
		slog.String("user_id", p.UserID.String()),
		slog.Int("retry_count", p.RetryCount),
		slog.String("reason", reason),
	)
	return nil
}
