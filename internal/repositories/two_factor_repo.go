package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/mailgate/internal/database"
	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const challengeColumns = `id, account_id, user_agent, platform, ip_address, attempts, expires_at, consumed_at, created_at`

// TwoFactorRepository stores TOTP state on the account row, recovery codes and login challenges.
type TwoFactorRepository struct {
	db database.Querier
}

func NewTwoFactorRepository(db database.Querier) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

func scanChallengeRow(scanner rowScanner) (*models.TwoFactorChallenge, error) {
	var c models.TwoFactorChallenge
	err := scanner.Scan(
		&c.ID, &c.AccountID, &c.UserAgent, &c.Platform, &c.IPAddress,
		&c.Attempts, &c.ExpiresAt, &c.ConsumedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

// SetPendingSecret stores an unconfirmed secret. Fails (false) once 2FA is enabled.
func (r *TwoFactorRepository) SetPendingSecret(ctx context.Context, accountID string, secret, nonce []byte, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET two_factor_secret = $2, two_factor_nonce = $3, updated_at = $4
		WHERE id = $1 AND NOT two_factor_enabled`,
		accountID, secret, nonce, now,
	)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Enable confirms the pending secret and replaces the recovery codes in one transaction.
// step is the TOTP step that proved possession; it is burned immediately.
func (r *TwoFactorRepository) Enable(ctx context.Context, accountID string, codeHashes []string, step int64, now time.Time) (bool, error) {
	enabled := false

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts SET two_factor_enabled = TRUE, two_factor_last_step = $2, version = version + 1, updated_at = $3
			WHERE id = $1 AND NOT two_factor_enabled AND two_factor_secret IS NOT NULL`,
			accountID, step, now,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM recovery_codes WHERE account_id = $1`, accountID); err != nil {
			return database.MapPostgresError(err)
		}

		for _, h := range codeHashes {
			if _, err := tx.Exec(ctx, `
				INSERT INTO recovery_codes (id, account_id, code_hash, created_at) VALUES ($1, $2, $3, $4)`,
				uuid.New().String(), accountID, h, now,
			); err != nil {
				return database.MapPostgresError(err)
			}
		}

		enabled = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return enabled, nil
}

// Disable wipes the secret, the replay guard and every recovery code.
func (r *TwoFactorRepository) Disable(ctx context.Context, accountID string, now time.Time) error {
	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts SET two_factor_enabled = FALSE, two_factor_secret = NULL, two_factor_nonce = NULL,
				two_factor_last_step = 0, version = version + 1, updated_at = $2
			WHERE id = $1`,
			accountID, now,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		_, err = tx.Exec(ctx, `DELETE FROM recovery_codes WHERE account_id = $1`, accountID)
		return database.MapPostgresError(err)
	})
}

func (r *TwoFactorRepository) AdvanceStep(ctx context.Context, accountID string, step int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET two_factor_last_step = $2
		WHERE id = $1 AND two_factor_last_step < $2`,
		accountID, step,
	)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TwoFactorRepository) ConsumeRecoveryCode(ctx context.Context, accountID, codeHash string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE recovery_codes SET used_at = $3
		WHERE account_id = $1 AND code_hash = $2 AND used_at IS NULL`,
		accountID, codeHash, now,
	)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TwoFactorRepository) CountRecoveryCodes(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM recovery_codes WHERE account_id = $1 AND used_at IS NULL`, accountID,
	).Scan(&n)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return n, nil
}

func (r *TwoFactorRepository) CreateChallenge(ctx context.Context, c *models.TwoFactorChallenge) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO two_factor_challenges (id, account_id, user_agent, platform, ip_address, attempts, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		c.ID, c.AccountID, c.UserAgent, c.Platform, c.IPAddress, c.ExpiresAt, c.CreatedAt,
	)
	return database.MapPostgresError(err)
}

func (r *TwoFactorRepository) FindChallenge(ctx context.Context, id string) (*models.TwoFactorChallenge, error) {
	return scanChallengeRow(r.db.QueryRow(ctx, `SELECT `+challengeColumns+` FROM two_factor_challenges WHERE id = $1`, id))
}

func (r *TwoFactorRepository) IncrementChallengeAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx,
		`UPDATE two_factor_challenges SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, id,
	).Scan(&attempts)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return attempts, nil
}

// ConsumeChallenge has exactly one winner.
func (r *TwoFactorRepository) ConsumeChallenge(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE two_factor_challenges SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2`,
		id, now,
	)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TwoFactorRepository) DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM two_factor_challenges WHERE expires_at < $1 OR consumed_at < $1`, before,
	)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
