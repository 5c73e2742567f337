package services

import (
	"context"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
)

// AccountRepository persists accounts and their password history.
// Lockout counters are only ever changed through the single-statement methods below.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)

	// Save writes the mutable profile columns when account.Version still matches,
	// returning models.ErrStaleWrite otherwise.
	Save(ctx context.Context, account *models.Account) (*models.Account, error)

	// RegisterFailedLogin increments the counter and engages the lockout at threshold.
	// engaged is true only for the call that moved the account into the locked state.
	RegisterFailedLogin(ctx context.Context, id string, now time.Time, threshold int, lockFor time.Duration) (account *models.Account, engaged bool, err error)
	ResetFailedLogins(ctx context.Context, id string, now time.Time) error
	// ClearFailedLogins resets the counter unless a lockout is still open, in which
	// case nothing changes and the open lockout_until is returned.
	ClearFailedLogins(ctx context.Context, id string, now time.Time) (*time.Time, error)
	// ClearExpiredLockout lifts a lockout only if lockout_until still equals observed.
	ClearExpiredLockout(ctx context.Context, id string, observed, now time.Time) (bool, error)

	UpdatePassword(ctx context.Context, id, hash string, now time.Time, keepHistory int) error
	PasswordHistory(ctx context.Context, id string, limit int) ([]string, error)
	MarkEmailVerified(ctx context.Context, id string, now time.Time) error
}

// SessionRepository persists sessions. CreateWithLimit is the only way to add one.
type SessionRepository interface {
	CreateWithLimit(ctx context.Context, session *models.Session, maxActive int, idleCutoff time.Time) ([]*models.Session, error)
	FindByID(ctx context.Context, id string) (*models.Session, error)
	Touch(ctx context.Context, id string, now, idleCutoff time.Time) (bool, error)
	Revoke(ctx context.Context, id, reason string, now time.Time) (bool, error)
	RevokeAllForAccount(ctx context.Context, accountID, reason string, now time.Time) ([]string, error)
	// RotateRefreshToken swaps the bound jti only if oldJTI is still current.
	RotateRefreshToken(ctx context.Context, id, oldJTI, newJTI string, now time.Time) (bool, error)
	ListActive(ctx context.Context, accountID string, now, idleCutoff time.Time) ([]*models.Session, error)
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SecurityEventRepository is append-only apart from Resolve.
type SecurityEventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
	FindByID(ctx context.Context, id string) (*models.SecurityEvent, error)
	Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	// Resolve returns models.ErrConflict when the event was already resolved.
	Resolve(ctx context.Context, id, resolverID string, now time.Time) (*models.SecurityEvent, error)
}

// TwoFactorRepository owns the second-factor columns of an account,
// its recovery codes, and pending login challenges.
type TwoFactorRepository interface {
	SetPendingSecret(ctx context.Context, accountID string, secret, nonce []byte, now time.Time) (bool, error)
	Enable(ctx context.Context, accountID string, codeHashes []string, step int64, now time.Time) (bool, error)
	Disable(ctx context.Context, accountID string, now time.Time) error
	// AdvanceStep records step as used only if it is newer than the last accepted one.
	AdvanceStep(ctx context.Context, accountID string, step int64) (bool, error)
	ConsumeRecoveryCode(ctx context.Context, accountID, codeHash string, now time.Time) (bool, error)
	CountRecoveryCodes(ctx context.Context, accountID string) (int, error)

	CreateChallenge(ctx context.Context, challenge *models.TwoFactorChallenge) error
	FindChallenge(ctx context.Context, id string) (*models.TwoFactorChallenge, error)
	IncrementChallengeAttempts(ctx context.Context, id string) (int, error)
	ConsumeChallenge(ctx context.Context, id string, now time.Time) (bool, error)
	DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error)
}

// ActionTokenRepository stores hashed single-use e-mail tokens.
type ActionTokenRepository interface {
	Create(ctx context.Context, token *models.ActionToken) error
	FindValid(ctx context.Context, tokenHash string, purpose models.ActionPurpose, now time.Time) (*models.ActionToken, error)
	Consume(ctx context.Context, id string, now time.Time) (bool, error)
	InvalidateForAccount(ctx context.Context, accountID string, purpose models.ActionPurpose, now time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Notifier delivers transactional messages. The core never renders content.
type Notifier interface {
	SendTransactionalMessage(ctx context.Context, kind models.MessageKind, account *models.Account, payload map[string]string) error
}

// EventRecorder is the write side of the security event log.
type EventRecorder interface {
	Record(ctx context.Context, in models.SecurityEventInput)
}
