package memory

import (
	"context"
	"sort"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/google/uuid"
)

type SecurityEventRepository struct {
	s *Store
}

func (r *SecurityEventRepository) Create(_ context.Context, event *models.SecurityEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.UpdatedAt = event.CreatedAt

	r.s.events = append(r.s.events, copyEvent(event))
	return nil
}

func (r *SecurityEventRepository) FindByID(_ context.Context, id string) (*models.SecurityEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range r.s.events {
		if e.ID == id {
			return copyEvent(e), nil
		}
	}
	return nil, models.ErrNotFound
}

// Query returns matches newest first.
func (r *SecurityEventRepository) Query(_ context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	filter = filter.Normalize()

	r.s.mu.Lock()
	matched := make([]*models.SecurityEvent, 0)
	for i := len(r.s.events) - 1; i >= 0; i-- {
		if e := r.s.events[i]; filter.Matches(e) {
			matched = append(matched, copyEvent(e))
		}
	}
	r.s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset >= len(matched) {
		return []*models.SecurityEvent{}, nil
	}
	end := min(filter.Offset+filter.Limit, len(matched))
	return matched[filter.Offset:end], nil
}

func (r *SecurityEventRepository) Resolve(_ context.Context, id, resolverID string, now time.Time) (*models.SecurityEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range r.s.events {
		if e.ID != id {
			continue
		}
		if e.Resolved {
			return nil, models.ErrConflict
		}
		e.Resolved = true
		by := resolverID
		e.ResolvedBy = &by
		at := now
		e.ResolvedAt = &at
		e.UpdatedAt = now
		return copyEvent(e), nil
	}
	return nil, models.ErrNotFound
}
