package memory

import (
	"context"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/google/uuid"
)

type ActionTokenRepository struct {
	s *Store
}

func (r *ActionTokenRepository) Create(_ context.Context, t *models.ActionToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	for _, existing := range r.s.tokens {
		if existing.TokenHash == t.TokenHash {
			return models.ErrConflict
		}
	}
	c := *t
	r.s.tokens[t.ID] = &c
	return nil
}

func (r *ActionTokenRepository) FindValid(_ context.Context, tokenHash string, purpose models.ActionPurpose, now time.Time) (*models.ActionToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, t := range r.s.tokens {
		if t.TokenHash == tokenHash && t.Purpose == purpose && t.IsValid(now) {
			c := *t
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *ActionTokenRepository) Consume(_ context.Context, id string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tokens[id]
	if !ok || !t.IsValid(now) {
		return false, nil
	}
	at := now
	t.UsedAt = &at
	return true, nil
}

func (r *ActionTokenRepository) InvalidateForAccount(_ context.Context, accountID string, purpose models.ActionPurpose, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, t := range r.s.tokens {
		if t.AccountID == accountID && t.Purpose == purpose && t.UsedAt == nil {
			at := now
			t.UsedAt = &at
		}
	}
	return nil
}

func (r *ActionTokenRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, t := range r.s.tokens {
		if t.ExpiresAt.Before(before) || (t.UsedAt != nil && t.UsedAt.Before(before)) {
			delete(r.s.tokens, id)
			n++
		}
	}
	return n, nil
}
