package post

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	posts map[uuid.UUID]*Post
}

// NewMemoryStore creates an in-memory post store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{posts: make(map[uuid.UUID]*Post)}
}

// Create implements Store.
func (ms *MemoryStore) Create(ctx context.Context, p *Post) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	cp := clonePost(p)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	ms.posts[cp.ID] = cp
	return nil
}

// Get implements Store.
func (ms *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Post, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	p, ok := ms.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePost(p), nil
}

// UpdateStatus implements Store with single-record compare-and-set
// semantics: the expected-status check and the mutation happen under one
// lock, so two racing updates resolve deterministically into one winner
// and one ErrConflict.
func (ms *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, expectFrom []Status, change Change) (*Post, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	p, ok := ms.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !slices.Contains(expectFrom, p.Status) {
		return nil, ErrConflict
	}
	if !p.Status.CanTransitionTo(change.Status) {
		return nil, ErrInvalidTransition
	}

	applyChange(p, change)
	p.UpdatedAt = time.Now()
	return clonePost(p), nil
}

// SetJob implements Store.
func (ms *MemoryStore) SetJob(ctx context.Context, id uuid.UUID, jobID uuid.UUID) (*Post, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	p, ok := ms.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != StatusScheduled && p.Status != StatusRetrying {
		return nil, ErrConflict
	}

	p.JobID = &jobID
	p.UpdatedAt = time.Now()
	return clonePost(p), nil
}

// ListDue implements Store.
func (ms *MemoryStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Post, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	due := make([]*Post, 0)
	for _, p := range ms.posts {
		if (p.Status == StatusScheduled || p.Status == StatusRetrying) && p.ScheduledFor != nil && !p.ScheduledFor.After(before) {
			due = append(due, clonePost(p))
		}
	}
	slices.SortFunc(due, func(a, b *Post) int {
		return a.ScheduledFor.Compare(*b.ScheduledFor)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func applyChange(p *Post, change Change) {
	p.Status = change.Status
	if change.PublishedAt != nil {
		p.PublishedAt = change.PublishedAt
	}
	if change.ErrorMessage != nil {
		p.ErrorMessage = change.ErrorMessage
	}
	if change.IncrementRetry {
		p.RetryCount++
	}
	if change.LastRetryAt != nil {
		p.LastRetryAt = change.LastRetryAt
	}
	if change.ClearJobID {
		p.JobID = nil
	} else if change.JobID != nil {
		p.JobID = change.JobID
	}
}

func clonePost(p *Post) *Post {
	cp := *p
	if p.MediaIDs != nil {
		cp.MediaIDs = slices.Clone(p.MediaIDs)
	}
	return &cp
}
