package publisher

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PublishRequest carries everything a platform adapter needs to deliver
// one post. Media is already resolved to fetchable URLs by the caller.
type PublishRequest struct {
	PostID    uuid.UUID
	AccountID uuid.UUID
	Content   string
	MediaURLs []string
}

// PublishResult reports a successful delivery.
type PublishResult struct {
	// ExternalID is the platform-side identifier of the created post.
	ExternalID string
	// PublishedAt is when the platform accepted the post.
	PublishedAt time.Time
}

// Publisher delivers a post to an external platform. Implementations must
// classify failures via Error so the caller can tell retryable outages
// apart from rejections that no retry will fix.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
}
