package memory

import (
	"context"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/google/uuid"
)

type TwoFactorRepository struct {
	s *Store
}

func (r *TwoFactorRepository) SetPendingSecret(_ context.Context, accountID string, secret, nonce []byte, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[accountID]
	if !ok {
		return false, models.ErrNotFound
	}
	if a.TwoFactorEnabled {
		return false, nil
	}
	a.TwoFactorSecret = append([]byte(nil), secret...)
	a.TwoFactorNonce = append([]byte(nil), nonce...)
	a.UpdatedAt = now
	return true, nil
}

func (r *TwoFactorRepository) Enable(_ context.Context, accountID string, codeHashes []string, step int64, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[accountID]
	if !ok || a.TwoFactorEnabled || len(a.TwoFactorSecret) == 0 {
		return false, nil
	}
	a.TwoFactorEnabled = true
	a.TwoFactorLastStep = step
	a.Version++
	a.UpdatedAt = now

	codes := make([]*models.RecoveryCode, 0, len(codeHashes))
	for _, h := range codeHashes {
		codes = append(codes, &models.RecoveryCode{
			ID: uuid.New().String(), AccountID: accountID, CodeHash: h, CreatedAt: now,
		})
	}
	r.s.recovery[accountID] = codes
	return true, nil
}

func (r *TwoFactorRepository) Disable(_ context.Context, accountID string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[accountID]
	if !ok {
		return models.ErrNotFound
	}
	a.TwoFactorEnabled = false
	a.TwoFactorSecret = nil
	a.TwoFactorNonce = nil
	a.TwoFactorLastStep = 0
	a.Version++
	a.UpdatedAt = now
	delete(r.s.recovery, accountID)
	return nil
}

func (r *TwoFactorRepository) AdvanceStep(_ context.Context, accountID string, step int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[accountID]
	if !ok || a.TwoFactorLastStep >= step {
		return false, nil
	}
	a.TwoFactorLastStep = step
	return true, nil
}

func (r *TwoFactorRepository) ConsumeRecoveryCode(_ context.Context, accountID, codeHash string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.recovery[accountID] {
		if c.CodeHash == codeHash && c.UsedAt == nil {
			at := now
			c.UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (r *TwoFactorRepository) CountRecoveryCodes(_ context.Context, accountID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, c := range r.s.recovery[accountID] {
		if c.UsedAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *TwoFactorRepository) CreateChallenge(_ context.Context, c *models.TwoFactorChallenge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	cc := *c
	r.s.challenges[c.ID] = &cc
	return nil
}

func (r *TwoFactorRepository) FindChallenge(_ context.Context, id string) (*models.TwoFactorChallenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.challenges[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (r *TwoFactorRepository) IncrementChallengeAttempts(_ context.Context, id string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.challenges[id]
	if !ok {
		return 0, models.ErrNotFound
	}
	c.Attempts++
	return c.Attempts, nil
}

func (r *TwoFactorRepository) ConsumeChallenge(_ context.Context, id string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.challenges[id]
	if !ok || c.ConsumedAt != nil || !c.ExpiresAt.After(now) {
		return false, nil
	}
	at := now
	c.ConsumedAt = &at
	return true, nil
}

func (r *TwoFactorRepository) DeleteExpiredChallenges(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, c := range r.s.challenges {
		if c.ExpiresAt.Before(before) || (c.ConsumedAt != nil && c.ConsumedAt.Before(before)) {
			delete(r.s.challenges, id)
			n++
		}
	}
	return n, nil
}
