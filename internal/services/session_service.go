package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/mailgate/internal/config"
	"github.com/BradenHooton/mailgate/internal/models"
)

// SessionService is the registry of live sessions.
type SessionService struct {
	repo    SessionRepository
	events  EventRecorder
	policy  config.SessionPolicy
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewSessionService(repo SessionRepository, events EventRecorder, policy config.SessionPolicy, logger *slog.Logger, timeout time.Duration, now func() time.Time) *SessionService {
	if now == nil {
		now = time.Now
	}
	return &SessionService{
		repo:    repo,
		events:  events,
		policy:  policy,
		logger:  logger,
		timeout: timeout,
		now:     now,
	}
}

func (s *SessionService) Policy() config.SessionPolicy {
	return s.policy
}

func (s *SessionService) idleCutoff(now time.Time) time.Time {
	if s.policy.IdleTimeout <= 0 {
		return time.Time{}
	}
	return now.Add(-s.policy.IdleTimeout)
}

// Create opens a session bound to refreshTokenID. When the account is at its
// concurrency cap the least recently used sessions are evicted first.
func (s *SessionService) Create(ctx context.Context, sessionID, accountID string, meta models.DeviceMeta, refreshTokenID string) (*models.Session, error) {
	now := s.now()
	session := &models.Session{
		ID:             sessionID,
		AccountID:      accountID,
		RefreshTokenID: refreshTokenID,
		UserAgent:      meta.UserAgent,
		Platform:       meta.Platform,
		IPAddress:      meta.IPAddress,
		Active:         true,
		LastAccessAt:   now,
		ExpiresAt:      now.Add(s.policy.AbsoluteLifetime),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	storeCtx, cancel := boundedContext(ctx, s.timeout)
	evicted, err := s.repo.CreateWithLimit(storeCtx, session, s.policy.MaxConcurrent, s.idleCutoff(now))
	cancel()
	if err != nil {
		return nil, storeError("create session", err)
	}

	for _, e := range evicted {
		s.events.Record(ctx, models.SecurityEventInput{
			AccountID: accountID,
			Kind:      models.EventSessionTerminated,
			Details: models.EventDetails{
				"session_id": e.ID,
				"reason":     models.RevokeReasonSessionLimit,
			},
			IPAddress: e.IPAddress,
			UserAgent: e.UserAgent,
		})
	}
	if len(evicted) > 0 {
		s.logger.InfoContext(ctx, "evicted sessions over concurrency limit",
			slog.String("account_id", accountID),
			slog.Int("evicted", len(evicted)))
	}

	return session, nil
}

func (s *SessionService) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	ctx, cancel := boundedContext(ctx, s.timeout)
	defer cancel()

	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, storeError("find session", err)
	}
	return session, nil
}

// IsLive applies the validity rule to a loaded session.
func (s *SessionService) IsLive(session *models.Session) bool {
	return session.IsLive(s.now(), s.policy.IdleTimeout)
}

// IsValid loads the session and touches it when it is still usable.
func (s *SessionService) IsValid(ctx context.Context, sessionID string) (bool, error) {
	session, err := s.Get(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.IsLive(session) {
		return false, nil
	}

	if err := s.Touch(ctx, sessionID); err != nil {
		s.logger.WarnContext(ctx, "failed to touch session",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
	}
	return true, nil
}

func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	ctx, cancel := boundedContext(ctx, s.timeout)
	defer cancel()

	now := s.now()
	_, err := s.repo.Touch(ctx, sessionID, now, s.idleCutoff(now))
	return storeError("touch session", err)
}

// Revoke is idempotent; it reports whether this call ended the session.
func (s *SessionService) Revoke(ctx context.Context, sessionID, reason string) (bool, error) {
	ctx, cancel := boundedContext(ctx, s.timeout)
	defer cancel()

	revoked, err := s.repo.Revoke(ctx, sessionID, reason, s.now())
	if err != nil {
		return false, storeError("revoke session", err)
	}
	return revoked, nil
}

func (s *SessionService) RevokeAll(ctx context.Context, accountID, reason string) (int, error) {
	ctx, cancel := boundedContext(ctx, s.timeout)
	defer cancel()

	ids, err := s.repo.RevokeAllForAccount(ctx, accountID, reason, s.now())
	if err != nil {
		return 0, storeError("revoke sessions", err)
	}
	return len(ids), nil
}

// Rotate moves the session to newJTI. Only one caller presenting oldJTI can win.
func (s *SessionService) Rotate(ctx context.Context, sessionID, oldJTI, newJTI string) (bool, error) {
	ctx, cancel := boundedContext(ctx, s.timeout)
	defer cancel()

	ok, err := s.repo.RotateRefreshToken(ctx, sessionID, oldJTI, newJTI, s.now())
	if err != nil {
		return false, storeError("rotate refresh token", err)
	}
	return ok, nil
}

func (s *SessionService) ListActive(ctx context.Context, accountID string) ([]*models.Session, error) {
	ctx, cancel := boundedContext(ctx, s.timeout)
	defer cancel()

	now := s.now()
	sessions, err := s.repo.ListActive(ctx, accountID, now, s.idleCutoff(now))
	if err != nil {
		return nil, storeError("list sessions", err)
	}
	return sessions, nil
}

// Reap deletes sessions that ended before the cutoff.
func (s *SessionService) Reap(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := boundedContext(ctx, s.timeout)
	defer cancel()

	n, err := s.repo.DeleteInactiveBefore(ctx, before)
	if err != nil {
		return 0, storeError("reap sessions", err)
	}
	return n, nil
}
