package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/mailgate/internal/config"
	"github.com/BradenHooton/mailgate/internal/models"
)

// LockoutService tracks consecutive credential failures per account.
// The counter lives on the account row and is only changed by single conditional
// statements in the store, so concurrent attempts never lose an increment.
type LockoutService struct {
	accounts AccountRepository
	events   EventRecorder
	policy   config.LockoutPolicy
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

func NewLockoutService(accounts AccountRepository, events EventRecorder, policy config.LockoutPolicy, logger *slog.Logger, timeout time.Duration, now func() time.Time) *LockoutService {
	if now == nil {
		now = time.Now
	}
	return &LockoutService{
		accounts: accounts,
		events:   events,
		policy:   policy,
		logger:   logger,
		timeout:  timeout,
		now:      now,
	}
}

// Check returns a *models.LockedError while the lockout window is open.
// An elapsed lockout is lifted here; the conditional clear makes sure only one
// caller emits ACCOUNT_UNLOCKED for it.
func (s *LockoutService) Check(ctx context.Context, account *models.Account, meta models.DeviceMeta) error {
	if account.LockoutUntil == nil {
		return nil
	}

	now := s.now()
	if account.IsLocked(now) {
		return &models.LockedError{Remaining: account.LockoutUntil.Sub(now)}
	}

	observed := *account.LockoutUntil
	ctx, cancel := boundedContext(ctx, s.timeout)
	defer cancel()

	cleared, err := s.accounts.ClearExpiredLockout(ctx, account.ID, observed, now)
	if err != nil {
		return storeError("clear expired lockout", err)
	}

	account.FailedLoginCount = 0
	account.LockoutUntil = nil

	if cleared {
		s.events.Record(ctx, models.SecurityEventInput{
			AccountID: account.ID,
			Kind:      models.EventAccountUnlocked,
			Details:   models.EventDetails{"reason": "lockout_expired", "locked_until": observed},
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		})
	}
	return nil
}

// RegisterFailure counts one failed credential check and reports whether this
// call engaged the lockout.
func (s *LockoutService) RegisterFailure(ctx context.Context, account *models.Account, meta models.DeviceMeta, reason string) (bool, error) {
	now := s.now()

	storeCtx, cancel := boundedContext(ctx, s.timeout)
	updated, engaged, err := s.accounts.RegisterFailedLogin(storeCtx, account.ID, now, s.policy.Threshold, s.policy.Duration)
	cancel()
	if err != nil {
		return false, storeError("register failed login", err)
	}

	account.FailedLoginCount = updated.FailedLoginCount
	account.LockoutUntil = updated.LockoutUntil

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: account.ID,
		Kind:      models.EventLoginFailure,
		Details: models.EventDetails{
			"reason":        reason,
			"failed_count":  updated.FailedLoginCount,
			"lockout_after": s.policy.Threshold,
		},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	if engaged {
		s.logger.WarnContext(ctx, "account locked after repeated failures",
			slog.String("account_id", account.ID),
			slog.Int("failed_count", updated.FailedLoginCount),
			slog.Time("locked_until", *updated.LockoutUntil))

		s.events.Record(ctx, models.SecurityEventInput{
			AccountID: account.ID,
			Kind:      models.EventMultipleLoginFailures,
			Details: models.EventDetails{
				"failed_count": updated.FailedLoginCount,
				"locked_until": *updated.LockoutUntil,
			},
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		})
	}

	return engaged, nil
}

// RegisterSuccess resets the counter after a fully successful authentication.
// The store re-checks the lockout in the same statement, so a lockout engaged by
// failures racing this success wins and a *models.LockedError is returned.
func (s *LockoutService) RegisterSuccess(ctx context.Context, account *models.Account) error {
	now := s.now()
	ctx, cancel := boundedContext(ctx, s.timeout)
	defer cancel()

	lockedUntil, err := s.accounts.ClearFailedLogins(ctx, account.ID, now)
	if err != nil {
		return storeError("clear failed logins", err)
	}
	if lockedUntil != nil {
		account.LockoutUntil = lockedUntil
		return &models.LockedError{Remaining: lockedUntil.Sub(now)}
	}
	account.FailedLoginCount = 0
	account.LockoutUntil = nil
	return nil
}

// AdminUnlock clears the counter and any lockout unconditionally.
func (s *LockoutService) AdminUnlock(ctx context.Context, accountID, actorID string) error {
	storeCtx, cancel := boundedContext(ctx, s.timeout)
	defer cancel()

	account, err := s.accounts.FindByID(storeCtx, accountID)
	if err != nil {
		return storeError("find account", err)
	}
	if err := s.accounts.ResetFailedLogins(storeCtx, accountID, s.now()); err != nil {
		return storeError("reset failed logins", err)
	}

	details := models.EventDetails{"reason": "admin", "resolved_by": actorID}
	if account.LockoutUntil != nil {
		details["locked_until"] = *account.LockoutUntil
	}
	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: accountID,
		Kind:      models.EventAccountUnlocked,
		Severity:  models.SeverityMedium,
		Details:   details,
	})

	s.logger.InfoContext(ctx, "account unlocked by administrator",
		slog.String("account_id", accountID),
		slog.String("actor_id", actorID))
	return nil
}
