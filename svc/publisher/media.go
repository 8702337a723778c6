package publisher

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// MediaResolver turns stored media identifiers into URLs a platform can
// fetch. A missing object resolves to ErrMediaNotFound, which is
// permanent: the attachment will not appear on retry.
type MediaResolver interface {
	Resolve(ctx context.Context, mediaIDs []uuid.UUID) ([]string, error)
}

// StaticResolver implements MediaResolver over a fixed map. Useful for
// tests and local development.
type StaticResolver map[uuid.UUID]string

// Resolve implements MediaResolver.
func (r StaticResolver) Resolve(ctx context.Context, mediaIDs []uuid.UUID) ([]string, error) {
	urls := make([]string, 0, len(mediaIDs))
	for _, id := range mediaIDs {
		url, ok := r[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMediaNotFound, id)
		}
		urls = append(urls, url)
	}
	return urls, nil
}
