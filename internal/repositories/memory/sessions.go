package memory

import (
	"context"
	"sort"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
)

type SessionRepository struct {
	s *Store
}

func (r *SessionRepository) CreateWithLimit(_ context.Context, session *models.Session, maxActive int, idleCutoff time.Time) ([]*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.accounts[session.AccountID]; !ok {
		return nil, models.ErrNotFound
	}
	if _, ok := r.s.sessions[session.ID]; ok {
		return nil, models.ErrConflict
	}

	now := session.CreatedAt
	var live []*models.Session
	for _, s := range r.s.sessions {
		if s.AccountID != session.AccountID || !s.Active {
			continue
		}
		if !s.ExpiresAt.After(now) || !s.LastAccessAt.After(idleCutoff) {
			revoke(s, models.RevokeReasonExpired, now)
			continue
		}
		live = append(live, s)
	}

	var evicted []*models.Session
	if maxActive > 0 && len(live) >= maxActive {
		sort.Slice(live, func(i, j int) bool {
			if live[i].LastAccessAt.Equal(live[j].LastAccessAt) {
				return live[i].CreatedAt.Before(live[j].CreatedAt)
			}
			return live[i].LastAccessAt.Before(live[j].LastAccessAt)
		})
		for _, s := range live[:len(live)-maxActive+1] {
			revoke(s, models.RevokeReasonSessionLimit, now)
			evicted = append(evicted, copySession(s))
		}
	}

	c := copySession(session)
	c.Active = true
	c.UpdatedAt = now
	r.s.sessions[c.ID] = c
	return evicted, nil
}

func revoke(s *models.Session, reason string, now time.Time) {
	s.Active = false
	at := now
	s.RevokedAt = &at
	s.RevokeReason = reason
	s.UpdatedAt = now
}

func (r *SessionRepository) FindByID(_ context.Context, id string) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s, ok := r.s.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copySession(s), nil
}

func (r *SessionRepository) Touch(_ context.Context, id string, now, idleCutoff time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s, ok := r.s.sessions[id]
	if !ok || !s.Active || !s.ExpiresAt.After(now) || !s.LastAccessAt.After(idleCutoff) {
		return false, nil
	}
	s.LastAccessAt = now
	s.UpdatedAt = now
	return true, nil
}

func (r *SessionRepository) Revoke(_ context.Context, id, reason string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s, ok := r.s.sessions[id]
	if !ok || !s.Active {
		return false, nil
	}
	revoke(s, reason, now)
	return true, nil
}

func (r *SessionRepository) RevokeAllForAccount(_ context.Context, accountID, reason string, now time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ids := make([]string, 0)
	for _, s := range r.s.sessions {
		if s.AccountID == accountID && s.Active {
			revoke(s, reason, now)
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

func (r *SessionRepository) RotateRefreshToken(_ context.Context, id, oldJTI, newJTI string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s, ok := r.s.sessions[id]
	if !ok || !s.Active || s.RefreshTokenID != oldJTI || !s.ExpiresAt.After(now) {
		return false, nil
	}
	s.RefreshTokenID = newJTI
	s.LastAccessAt = now
	s.UpdatedAt = now
	return true, nil
}

func (r *SessionRepository) ListActive(_ context.Context, accountID string, now, idleCutoff time.Time) ([]*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*models.Session, 0)
	for _, s := range r.s.sessions {
		if s.AccountID == accountID && s.Active && s.ExpiresAt.After(now) && s.LastAccessAt.After(idleCutoff) {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessAt.After(out[j].LastAccessAt) })
	return out, nil
}

func (r *SessionRepository) DeleteInactiveBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, s := range r.s.sessions {
		revokedEarlier := !s.Active && s.RevokedAt != nil && s.RevokedAt.Before(cutoff)
		if revokedEarlier || s.ExpiresAt.Before(cutoff) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}
