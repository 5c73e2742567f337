package memory

import (
	"context"
	"strings"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/google/uuid"
)

type AccountRepository struct {
	s *Store
}

func (r *AccountRepository) FindByID(_ context.Context, id string) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyAccount(a), nil
}

func (r *AccountRepository) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.findByEmailLocked(email)
}

func (r *AccountRepository) findByEmailLocked(email string) (*models.Account, error) {
	for _, a := range r.s.accounts {
		if strings.EqualFold(a.Email, email) {
			return copyAccount(a), nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *AccountRepository) Create(_ context.Context, account *models.Account) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, err := r.findByEmailLocked(account.Email); err == nil {
		return nil, models.ErrConflict
	}

	a := copyAccount(account)
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Role == "" {
		a.Role = models.RoleUser
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.UpdatedAt = a.CreatedAt
	a.Version = 1

	r.s.accounts[a.ID] = a
	r.s.history[a.ID] = []models.PasswordHistoryEntry{{AccountID: a.ID, PasswordHash: a.PasswordHash, CreatedAt: a.CreatedAt}}
	return copyAccount(a), nil
}

func (r *AccountRepository) Save(_ context.Context, account *models.Account) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[account.ID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if a.Version != account.Version {
		return nil, models.ErrStaleWrite
	}

	a.Role = account.Role
	a.Active = account.Active
	a.EmailVerified = account.EmailVerified
	a.UpdatedAt = account.UpdatedAt
	a.Version++
	return copyAccount(a), nil
}

func (r *AccountRepository) RegisterFailedLogin(_ context.Context, id string, now time.Time, threshold int, lockFor time.Duration) (*models.Account, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return nil, false, models.ErrNotFound
	}

	wasLocked := a.IsLocked(now)
	switch {
	case a.LockoutUntil != nil && !wasLocked:
		a.FailedLoginCount = 1
		a.LockoutUntil = nil
	default:
		a.FailedLoginCount++
	}

	engaged := false
	if !wasLocked && a.FailedLoginCount >= threshold {
		until := now.Add(lockFor)
		a.LockoutUntil = &until
		engaged = true
	}
	a.UpdatedAt = now

	return copyAccount(a), engaged, nil
}

func (r *AccountRepository) ResetFailedLogins(_ context.Context, id string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.FailedLoginCount = 0
	a.LockoutUntil = nil
	a.UpdatedAt = now
	return nil
}

func (r *AccountRepository) ClearFailedLogins(_ context.Context, id string, now time.Time) (*time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if a.IsLocked(now) {
		until := *a.LockoutUntil
		return &until, nil
	}
	a.FailedLoginCount = 0
	a.LockoutUntil = nil
	a.UpdatedAt = now
	return nil, nil
}

func (r *AccountRepository) ClearExpiredLockout(_ context.Context, id string, observed, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if a.LockoutUntil == nil || !a.LockoutUntil.Equal(observed) || a.LockoutUntil.After(now) {
		return false, nil
	}
	a.FailedLoginCount = 0
	a.LockoutUntil = nil
	a.UpdatedAt = now
	return true, nil
}

func (r *AccountRepository) UpdatePassword(_ context.Context, id, hash string, now time.Time, keepHistory int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.PasswordHash = hash
	changed := now
	a.PasswordChangedAt = &changed
	a.UpdatedAt = now

	h := append(r.s.history[id], models.PasswordHistoryEntry{AccountID: id, PasswordHash: hash, CreatedAt: now})
	if keepHistory > 0 && len(h) > keepHistory {
		h = h[len(h)-keepHistory:]
	}
	r.s.history[id] = h
	return nil
}

func (r *AccountRepository) PasswordHistory(_ context.Context, id string, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	h := r.s.history[id]
	out := make([]string, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i].PasswordHash)
	}
	return out, nil
}

func (r *AccountRepository) MarkEmailVerified(_ context.Context, id string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.EmailVerified = true
	a.Version++
	a.UpdatedAt = now
	return nil
}
