package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BradenHooton/mailgate/internal/models"
)

const maxSaveAttempts = 3

// AdminUnlock lifts a lockout on behalf of an administrator.
func (s *AuthService) AdminUnlock(ctx context.Context, accountID, actorID string) error {
	err := s.lockout.AdminUnlock(ctx, accountID, actorID)
	if err == nil || errors.Is(err, models.ErrNotFound) {
		return err
	}
	return internalError("unlock account", err)
}

// updateAccount applies mutate to a fresh copy and saves it, retrying when a
// concurrent writer bumped the version in between.
func (s *AuthService) updateAccount(ctx context.Context, accountID string, mutate func(*models.Account) error) (before, after *models.Account, err error) {
	for range maxSaveAttempts {
		before, err = s.loadAccount(ctx, accountID)
		if err != nil {
			return nil, nil, err
		}

		next := *before
		if err := mutate(&next); err != nil {
			return nil, nil, err
		}
		next.UpdatedAt = s.now()

		storeCtx, cancel := s.bounded(ctx)
		after, err = s.accounts.Save(storeCtx, &next)
		cancel()
		if errors.Is(err, models.ErrStaleWrite) {
			continue
		}
		if err != nil {
			return nil, nil, storeError("save account", err)
		}
		return before, after, nil
	}
	return nil, nil, models.ErrConflict
}

// ChangeRole assigns a new role. Administrators cannot change their own role.
func (s *AuthService) ChangeRole(ctx context.Context, accountID string, role models.Role, actorID string) (*models.Profile, error) {
	if !role.Valid() {
		return nil, models.NewValidationError("role", "unknown role "+string(role))
	}
	if accountID == actorID {
		return nil, models.ErrForbidden
	}

	before, after, err := s.updateAccount(ctx, accountID, func(a *models.Account) error {
		a.Role = role
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrConflict) {
			return nil, err
		}
		return nil, internalError("change role", err)
	}

	if before.Role != after.Role {
		s.events.Record(ctx, models.SecurityEventInput{
			AccountID: accountID,
			Kind:      models.EventRoleChanged,
			Details: models.EventDetails{
				"from":     string(before.Role),
				"to":       string(after.Role),
				"actor_id": actorID,
			},
		})
	}
	return after.ToProfile(), nil
}

// SetAccountActive activates or deactivates an account. Deactivation ends every session.
func (s *AuthService) SetAccountActive(ctx context.Context, accountID string, active bool, actorID string) (*models.Profile, error) {
	if accountID == actorID && !active {
		return nil, models.ErrForbidden
	}

	_, after, err := s.updateAccount(ctx, accountID, func(a *models.Account) error {
		a.Active = active
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrConflict) {
			return nil, err
		}
		return nil, internalError("set account active", err)
	}

	if !active {
		n, err := s.sessions.RevokeAll(ctx, accountID, models.RevokeReasonAdmin)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to revoke sessions of deactivated account", slog.Any("error", err))
		}
		s.events.Record(ctx, models.SecurityEventInput{
			AccountID: accountID,
			Kind:      models.EventSessionTerminated,
			Details:   models.EventDetails{"reason": "account_deactivated", "revoked": n, "actor_id": actorID},
		})
	}

	s.logger.InfoContext(ctx, "account activation changed",
		slog.String("account_id", accountID),
		slog.Bool("active", active),
		slog.String("actor_id", actorID))
	return after.ToProfile(), nil
}

// ListSessions returns the caller's live sessions, flagging the current one.
func (s *AuthService) ListSessions(ctx context.Context, accountID, currentSessionID string) ([]*models.SessionView, error) {
	sessions, err := s.sessions.ListActive(ctx, accountID)
	if err != nil {
		return nil, internalError("list sessions", err)
	}

	views := make([]*models.SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, session.ToView(currentSessionID))
	}
	return views, nil
}

// RevokeSession ends one of the caller's own sessions.
func (s *AuthService) RevokeSession(ctx context.Context, accountID, sessionID string, meta models.DeviceMeta) error {
	session, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrNotFound
	}
	if err != nil {
		return internalError("find session", err)
	}
	if session.AccountID != accountID {
		return models.ErrNotFound
	}

	revoked, err := s.sessions.Revoke(ctx, sessionID, models.RevokeReasonLogout)
	if err != nil {
		return internalError("revoke session", err)
	}

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: accountID,
		Kind:      models.EventSessionTerminated,
		Details: models.EventDetails{
			"session_id":       sessionID,
			"reason":           models.RevokeReasonLogout,
			"already_inactive": !revoked,
		},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

func (s *AuthService) ListSecurityEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	return s.events.Query(ctx, filter)
}

func (s *AuthService) ResolveSecurityEvent(ctx context.Context, eventID, actorID string) (*models.SecurityEvent, error) {
	return s.events.Resolve(ctx, eventID, actorID)
}

// EnsureSuperAdmin creates a verified super_admin account for email unless an
// account with that address already exists. It reports whether one was created.
func (s *AuthService) EnsureSuperAdmin(ctx context.Context, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if err := validateInput(RegisterInput{Email: email, Password: password}); err != nil {
		return false, err
	}

	storeCtx, cancel := s.bounded(ctx)
	_, err := s.accounts.FindByEmail(storeCtx, email)
	cancel()
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, models.ErrNotFound):
		return false, internalError("find account", storeError("find account", err))
	}

	if err := s.policy.Password.Validate(password); err != nil {
		return false, passwordError(err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, internalError("hash password", err)
	}

	storeCtx, cancel = s.bounded(ctx)
	account, err := s.accounts.Create(storeCtx, &models.Account{
		Email:         email,
		PasswordHash:  hash,
		Role:          models.RoleSuperAdmin,
		Active:        true,
		EmailVerified: true,
		CreatedAt:     s.now(),
	})
	cancel()
	switch {
	case errors.Is(err, models.ErrConflict):
		// lost a race with another instance
		return false, nil
	case err != nil:
		return false, internalError("create account", storeError("create account", err))
	}

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: account.ID,
		Kind:      models.EventAccountCreated,
		Details:   models.EventDetails{"role": string(account.Role), "source": "bootstrap"},
	})
	s.logger.InfoContext(ctx, "super admin bootstrapped", slog.String("account_id", account.ID))
	return true, nil
}
