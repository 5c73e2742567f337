package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
	pkgauth "github.com/BradenHooton/mailgate/pkg/auth"
)

// checkReuse rejects a password matching the current one or any kept history entry.
func (s *AuthService) checkReuse(ctx context.Context, account *models.Account, password string) error {
	if s.hasher.Compare(account.PasswordHash, password) {
		return passwordError(pkgauth.ErrPasswordReused)
	}
	if s.policy.Password.PreventReuse <= 0 {
		return nil
	}

	storeCtx, cancel := s.bounded(ctx)
	defer cancel()
	history, err := s.accounts.PasswordHistory(storeCtx, account.ID, s.policy.Password.PreventReuse)
	if err != nil {
		return internalError("load password history", storeError("load password history", err))
	}
	if s.hasher.MatchesAny(history, password) {
		return passwordError(pkgauth.ErrPasswordReused)
	}
	return nil
}

func (s *AuthService) setPassword(ctx context.Context, accountID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return internalError("hash password", err)
	}

	storeCtx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.accounts.UpdatePassword(storeCtx, accountID, hash, s.now(), s.policy.Password.PreventReuse); err != nil {
		return internalError("update password", storeError("update password", err))
	}
	return nil
}

// ChangePassword replaces the password of an authenticated account and ends
// every other session it has.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, currentSessionID, current, next string, meta models.DeviceMeta) error {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return internalError("find account", err)
	}

	if _, err := s.reauthenticate(ctx, account, models.ReauthInput{Password: current}, meta); err != nil {
		return err
	}
	if err := s.policy.Password.Validate(next); err != nil {
		return passwordError(err)
	}
	if err := s.checkReuse(ctx, account, next); err != nil {
		return err
	}
	if err := s.setPassword(ctx, account.ID, next); err != nil {
		return err
	}

	revoked := s.revokeOtherSessions(ctx, account.ID, currentSessionID)

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: account.ID,
		Kind:      models.EventPasswordChanged,
		Details:   models.EventDetails{"sessions_revoked": revoked},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	s.notify(ctx, models.MessageSecurityAlert, account, map[string]string{models.PayloadAlert: "password_changed"})
	return nil
}

func (s *AuthService) revokeOtherSessions(ctx context.Context, accountID, keep string) int {
	sessions, err := s.sessions.ListActive(ctx, accountID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list sessions for revocation", slog.Any("error", err))
		return 0
	}

	n := 0
	for _, session := range sessions {
		if session.ID == keep {
			continue
		}
		ok, err := s.sessions.Revoke(ctx, session.ID, models.RevokeReasonPasswordSet)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to revoke session",
				slog.String("session_id", session.ID),
				slog.Any("error", err))
			continue
		}
		if ok {
			n++
		}
	}
	return n
}

// issueActionToken replaces any outstanding token of purpose and returns the raw value.
func (s *AuthService) issueActionToken(ctx context.Context, accountID string, purpose models.ActionPurpose, ttl time.Duration) (string, time.Time, error) {
	raw, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.now()
	expiresAt := now.Add(ttl)

	storeCtx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.actionTokens.InvalidateForAccount(storeCtx, accountID, purpose, now); err != nil {
		return "", time.Time{}, storeError("invalidate action tokens", err)
	}
	err = s.actionTokens.Create(storeCtx, &models.ActionToken{
		AccountID: accountID,
		Purpose:   purpose,
		TokenHash: pkgauth.HashOpaqueToken(raw),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	})
	if err != nil {
		return "", time.Time{}, storeError("create action token", err)
	}
	return raw, expiresAt, nil
}

// notify never fails the caller.
func (s *AuthService) notify(ctx context.Context, kind models.MessageKind, account *models.Account, payload map[string]string) bool {
	if s.notifier == nil {
		return false
	}
	if err := s.notifier.SendTransactionalMessage(ctx, kind, account, payload); err != nil {
		s.logger.ErrorContext(ctx, "failed to send transactional message",
			slog.String("kind", string(kind)),
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return false
	}
	return true
}

func (s *AuthService) sendVerification(ctx context.Context, account *models.Account, meta models.DeviceMeta) {
	raw, expiresAt, err := s.issueActionToken(ctx, account.ID, models.PurposeEmailVerification, s.policy.VerificationTokenTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue verification token",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return
	}

	delivered := s.notify(ctx, models.MessageEmailVerification, account, map[string]string{
		models.PayloadToken:     raw,
		models.PayloadExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: account.ID,
		Kind:      models.EventEmailVerificationRequested,
		Details:   models.EventDetails{"delivered": delivered},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}

// RequestEmailVerification re-sends the verification message.
func (s *AuthService) RequestEmailVerification(ctx context.Context, accountID string, meta models.DeviceMeta) error {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return internalError("find account", err)
	}
	if account.EmailVerified {
		return models.ErrConflict
	}
	s.sendVerification(ctx, account, meta)
	return nil
}

// VerifyEmail spends a verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, token string, meta models.DeviceMeta) error {
	stored, err := s.spendActionToken(ctx, token, models.PurposeEmailVerification)
	if err != nil {
		return err
	}

	storeCtx, cancel := s.bounded(ctx)
	err = s.accounts.MarkEmailVerified(storeCtx, stored.AccountID, s.now())
	cancel()
	if err != nil {
		return internalError("mark email verified", storeError("mark email verified", err))
	}

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: stored.AccountID,
		Kind:      models.EventEmailVerified,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

func (s *AuthService) findActionToken(ctx context.Context, token string, purpose models.ActionPurpose) (*models.ActionToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, models.NewValidationError("token", "is required")
	}

	storeCtx, cancel := s.bounded(ctx)
	defer cancel()
	stored, err := s.actionTokens.FindValid(storeCtx, pkgauth.HashOpaqueToken(token), purpose, s.now())
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrTokenInvalid
	}
	if err != nil {
		return nil, internalError("find action token", storeError("find action token", err))
	}
	return stored, nil
}

func (s *AuthService) spendActionToken(ctx context.Context, token string, purpose models.ActionPurpose) (*models.ActionToken, error) {
	stored, err := s.findActionToken(ctx, token, purpose)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := s.bounded(ctx)
	defer cancel()
	ok, err := s.actionTokens.Consume(storeCtx, stored.ID, s.now())
	if err != nil {
		return nil, internalError("consume action token", storeError("consume action token", err))
	}
	if !ok {
		return nil, models.ErrTokenInvalid
	}
	return stored, nil
}

// RequestPasswordReset always reports success so callers cannot probe which
// addresses have accounts. Every outcome is padded to the same response floor.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, meta models.DeviceMeta) error {
	start := time.Now()
	email = normalizeEmail(email)
	if err := validate.Var(email, "required,email,max=254"); err != nil {
		return models.NewValidationError("email", "must be a valid email address")
	}
	defer s.timing.WaitFrom(ctx, start, false)

	storeCtx, cancel := s.bounded(ctx)
	account, err := s.accounts.FindByEmail(storeCtx, email)
	cancel()
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to look up account for password reset", slog.Any("error", err))
		}
		return nil
	}
	if !account.Active {
		return nil
	}

	raw, expiresAt, err := s.issueActionToken(ctx, account.ID, models.PurposePasswordReset, s.policy.ResetTokenTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue password reset token",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return nil
	}

	delivered := s.notify(ctx, models.MessagePasswordReset, account, map[string]string{
		models.PayloadToken:     raw,
		models.PayloadExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: account.ID,
		Kind:      models.EventPasswordResetRequested,
		Details:   models.EventDetails{"delivered": delivered},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// CompletePasswordReset sets a new password from a reset token. The password is
// validated before the token is spent, so a rejected password leaves it usable.
// Every session is revoked and the failure count is cleared; an open lockout
// is left to elapse.
func (s *AuthService) CompletePasswordReset(ctx context.Context, token, password string, meta models.DeviceMeta) error {
	if err := s.policy.Password.Validate(password); err != nil {
		return passwordError(err)
	}

	stored, err := s.findActionToken(ctx, token, models.PurposePasswordReset)
	if err != nil {
		return err
	}
	account, err := s.loadAccount(ctx, stored.AccountID)
	if err != nil {
		return internalError("find account", err)
	}
	if err := s.checkReuse(ctx, account, password); err != nil {
		return err
	}

	if _, err := s.spendActionToken(ctx, token, models.PurposePasswordReset); err != nil {
		return err
	}
	if err := s.setPassword(ctx, account.ID, password); err != nil {
		return err
	}

	revoked, err := s.sessions.RevokeAll(ctx, account.ID, models.RevokeReasonPasswordSet)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke sessions after password reset", slog.Any("error", err))
	}
	// an open lockout stays until it elapses or an administrator lifts it
	if err := s.lockout.RegisterSuccess(ctx, account); err != nil && !errors.Is(err, models.ErrAccountLocked) {
		s.logger.ErrorContext(ctx, "failed to clear failed logins after password reset", slog.Any("error", err))
	}

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: account.ID,
		Kind:      models.EventPasswordResetCompleted,
		Details:   models.EventDetails{"sessions_revoked": revoked},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	s.notify(ctx, models.MessageSecurityAlert, account, map[string]string{models.PayloadAlert: "password_reset"})
	return nil
}
