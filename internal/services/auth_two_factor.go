package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/BradenHooton/mailgate/internal/auth"
	"github.com/BradenHooton/mailgate/internal/models"
)

const (
	methodTOTP         = "totp"
	methodRecoveryCode = "recovery_code"
)

// verifySecondFactor checks a TOTP code or a recovery code and burns it.
// A TOTP step is accepted at most once; a recovery code exactly once.
func (s *AuthService) verifySecondFactor(ctx context.Context, account *models.Account, code string) (string, bool, error) {
	code = strings.TrimSpace(code)

	if auth.LooksLikeRecoveryCode(code) {
		storeCtx, cancel := s.bounded(ctx)
		defer cancel()

		ok, err := s.twoFactor.ConsumeRecoveryCode(storeCtx, account.ID, auth.HashRecoveryCode(code), s.now())
		if err != nil {
			return methodRecoveryCode, false, internalError("consume recovery code", storeError("consume recovery code", err))
		}
		if ok {
			remaining, err := s.twoFactor.CountRecoveryCodes(storeCtx, account.ID)
			if err == nil && remaining <= 2 {
				s.logger.WarnContext(ctx, "recovery codes running low",
					slog.String("account_id", account.ID),
					slog.Int("remaining", remaining))
			}
		}
		return methodRecoveryCode, ok, nil
	}

	if len(account.TwoFactorSecret) == 0 {
		return methodTOTP, false, nil
	}
	secret, err := s.totp.DecryptSecret(account.TwoFactorSecret, account.TwoFactorNonce)
	if err != nil {
		return methodTOTP, false, internalError("decrypt totp secret", err)
	}

	step, ok := s.totp.MatchStep(secret, code)
	if !ok {
		return methodTOTP, false, nil
	}

	storeCtx, cancel := s.bounded(ctx)
	defer cancel()
	advanced, err := s.twoFactor.AdvanceStep(storeCtx, account.ID, step)
	if err != nil {
		return methodTOTP, false, internalError("advance totp step", storeError("advance totp step", err))
	}
	if !advanced {
		s.logger.WarnContext(ctx, "rejected replayed totp code", slog.String("account_id", account.ID))
	}
	return methodTOTP, advanced, nil
}

// BeginTwoFactorSetup generates a pending secret. It does not enable anything
// until EnableTwoFactor proves the authenticator holds the secret.
func (s *AuthService) BeginTwoFactorSetup(ctx context.Context, accountID string) (*models.TwoFactorEnrollment, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, internalError("find account", err)
	}
	if account.TwoFactorEnabled {
		return nil, models.ErrConflict
	}

	encrypted, nonce, enrollment, err := s.totp.GenerateEnrollment(account.Email)
	if err != nil {
		return nil, internalError("generate totp secret", err)
	}

	storeCtx, cancel := s.bounded(ctx)
	defer cancel()
	stored, err := s.twoFactor.SetPendingSecret(storeCtx, account.ID, encrypted, nonce, s.now())
	if err != nil {
		return nil, internalError("store pending secret", storeError("store pending secret", err))
	}
	if !stored {
		return nil, models.ErrConflict
	}

	return enrollment, nil
}

// EnableTwoFactor confirms the pending secret with a current code and returns
// freshly generated recovery codes. They are shown once and stored hashed.
func (s *AuthService) EnableTwoFactor(ctx context.Context, accountID, code string, meta models.DeviceMeta) ([]string, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, internalError("find account", err)
	}
	if account.TwoFactorEnabled {
		return nil, models.ErrConflict
	}
	if !account.HasPendingTwoFactor() {
		return nil, models.NewValidationError("code", "two-factor setup has not been started")
	}

	secret, err := s.totp.DecryptSecret(account.TwoFactorSecret, account.TwoFactorNonce)
	if err != nil {
		return nil, internalError("decrypt totp secret", err)
	}
	step, ok := s.totp.MatchStep(secret, strings.TrimSpace(code))
	if !ok {
		return nil, models.ErrTwoFactorInvalid
	}

	codes, err := s.totp.GenerateRecoveryCodes(s.policy.TwoFactor.RecoveryCodeCount)
	if err != nil {
		return nil, internalError("generate recovery codes", err)
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = auth.HashRecoveryCode(c)
	}

	storeCtx, cancel := s.bounded(ctx)
	enabled, err := s.twoFactor.Enable(storeCtx, account.ID, hashes, step, s.now())
	cancel()
	if err != nil {
		return nil, internalError("enable two-factor", storeError("enable two-factor", err))
	}
	if !enabled {
		return nil, models.ErrConflict
	}

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: account.ID,
		Kind:      models.EventTwoFactorEnabled,
		Details:   models.EventDetails{"recovery_codes": len(codes)},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	return codes, nil
}

// DisableTwoFactor requires re-authentication with the password or a current second factor.
func (s *AuthService) DisableTwoFactor(ctx context.Context, accountID string, reauth models.ReauthInput, meta models.DeviceMeta) error {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return internalError("find account", err)
	}
	if !account.TwoFactorEnabled {
		return models.ErrConflict
	}

	method, err := s.reauthenticate(ctx, account, reauth, meta)
	if err != nil {
		return err
	}

	storeCtx, cancel := s.bounded(ctx)
	err = s.twoFactor.Disable(storeCtx, account.ID, s.now())
	cancel()
	if err != nil {
		return internalError("disable two-factor", storeError("disable two-factor", err))
	}

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: account.ID,
		Kind:      models.EventTwoFactorDisabled,
		Details:   models.EventDetails{"reauth_method": method},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// reauthenticate checks exactly one proof. Failures count toward the lockout.
func (s *AuthService) reauthenticate(ctx context.Context, account *models.Account, in models.ReauthInput, meta models.DeviceMeta) (string, error) {
	hasPassword, hasCode := in.Password != "", strings.TrimSpace(in.Code) != ""
	if hasPassword == hasCode {
		return "", models.NewValidationError("reauth", "provide either password or code")
	}

	if err := s.lockout.Check(ctx, account, meta); err != nil {
		if errors.Is(err, models.ErrAccountLocked) {
			return "", err
		}
		return "", internalError("check lockout", err)
	}

	if hasPassword {
		if s.hasher.Compare(account.PasswordHash, in.Password) {
			return "password", nil
		}
		if _, err := s.lockout.RegisterFailure(ctx, account, meta, "reauth_invalid_password"); err != nil {
			return "", internalError("register failure", err)
		}
		return "", models.ErrInvalidCredentials
	}

	method, ok, err := s.verifySecondFactor(ctx, account, in.Code)
	if err != nil {
		return "", err
	}
	if !ok {
		if _, err := s.lockout.RegisterFailure(ctx, account, meta, "reauth_invalid_second_factor"); err != nil {
			return "", internalError("register failure", err)
		}
		return "", models.ErrTwoFactorInvalid
	}
	return method, nil
}
