package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/mailgate/internal/database"
	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, email, password_hash, role, active, email_verified, failed_login_count, lockout_until,
	two_factor_secret, two_factor_nonce, two_factor_enabled, two_factor_last_step, password_changed_at,
	version, created_at, updated_at`

type AccountRepository struct {
	db database.Querier
}

func NewAccountRepository(db database.Querier) *AccountRepository {
	return &AccountRepository{db: db}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAccountRow populates an Account from a row; extra receives any trailing columns.
func scanAccountRow(scanner rowScanner, extra ...any) (*models.Account, error) {
	var a models.Account
	var role string

	dest := []any{
		&a.ID, &a.Email, &a.PasswordHash, &role, &a.Active, &a.EmailVerified,
		&a.FailedLoginCount, &a.LockoutUntil,
		&a.TwoFactorSecret, &a.TwoFactorNonce, &a.TwoFactorEnabled, &a.TwoFactorLastStep,
		&a.PasswordChangedAt, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	}
	if err := scanner.Scan(append(dest, extra...)...); err != nil {
		return nil, database.MapPostgresError(err)
	}

	a.Role = models.Role(role)
	return &a, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.db.QueryRow(ctx, query, id))
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`
	return scanAccountRow(r.db.QueryRow(ctx, query, email))
}

// Create inserts the account and seeds its password history in one transaction.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.Role == "" {
		account.Role = models.RoleUser
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	account.UpdatedAt = account.CreatedAt
	account.Version = 1

	insert := `
		INSERT INTO accounts (id, email, password_hash, role, active, email_verified, password_changed_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + accountColumns

	var created *models.Account
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		created, err = scanAccountRow(tx.QueryRow(ctx, insert,
			account.ID, account.Email, account.PasswordHash, string(account.Role),
			account.Active, account.EmailVerified, account.PasswordChangedAt,
			account.Version, account.CreatedAt, account.UpdatedAt,
		))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO password_history (account_id, password_hash, created_at) VALUES ($1, $2, $3)`,
			created.ID, created.PasswordHash, created.CreatedAt,
		)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Save writes role, active and email_verified guarded by the version column.
func (r *AccountRepository) Save(ctx context.Context, account *models.Account) (*models.Account, error) {
	query := `
		UPDATE accounts SET role = $1, active = $2, email_verified = $3, version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6
		RETURNING ` + accountColumns

	saved, err := scanAccountRow(r.db.QueryRow(ctx, query,
		string(account.Role), account.Active, account.EmailVerified, account.UpdatedAt,
		account.ID, account.Version,
	))
	if errors.Is(err, models.ErrNotFound) {
		// distinguish a missing row from a lost race
		if _, findErr := r.FindByID(ctx, account.ID); findErr != nil {
			return nil, findErr
		}
		return nil, models.ErrStaleWrite
	}
	if err != nil {
		return nil, err
	}

	return saved, nil
}

// RegisterFailedLogin is a single statement so concurrent failures never lose an increment.
// A lapsed lockout restarts the count at one; an open lockout is never extended.
func (r *AccountRepository) RegisterFailedLogin(ctx context.Context, id string, now time.Time, threshold int, lockFor time.Duration) (*models.Account, bool, error) {
	query := `
		WITH prev AS (
			SELECT id, lockout_until,
				CASE WHEN lockout_until IS NOT NULL AND lockout_until <= $2 THEN 1
				     ELSE failed_login_count + 1 END AS next_count
			FROM accounts WHERE id = $1
			FOR UPDATE
		)
		UPDATE accounts a SET
			failed_login_count = prev.next_count,
			lockout_until = CASE
				WHEN prev.lockout_until > $2 THEN prev.lockout_until
				WHEN prev.next_count >= $3 THEN $4::timestamptz
				ELSE NULL END,
			updated_at = $2
		FROM prev
		WHERE a.id = prev.id
		RETURNING a.id, a.email, a.password_hash, a.role, a.active, a.email_verified, a.failed_login_count,
			a.lockout_until, a.two_factor_secret, a.two_factor_nonce, a.two_factor_enabled,
			a.two_factor_last_step, a.password_changed_at, a.version, a.created_at, a.updated_at,
			prev.lockout_until
	`

	var previous *time.Time
	account, err := scanAccountRow(r.db.QueryRow(ctx, query, id, now, threshold, now.Add(lockFor)), &previous)
	if err != nil {
		return nil, false, err
	}

	wasLocked := previous != nil && previous.After(now)
	return account, account.IsLocked(now) && !wasLocked, nil
}

func (r *AccountRepository) ResetFailedLogins(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE accounts SET failed_login_count = 0, lockout_until = NULL, updated_at = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearFailedLogins decides against the locked row, not a caller's snapshot, so
// failures that landed after the snapshot are still cleared or still block.
func (r *AccountRepository) ClearFailedLogins(ctx context.Context, id string, now time.Time) (*time.Time, error) {
	query := `
		WITH cur AS (
			SELECT id, lockout_until FROM accounts WHERE id = $1 FOR UPDATE
		), cleared AS (
			UPDATE accounts a SET failed_login_count = 0, lockout_until = NULL, updated_at = $2
			FROM cur
			WHERE a.id = cur.id AND (cur.lockout_until IS NULL OR cur.lockout_until <= $2)
			RETURNING a.id
		)
		SELECT cur.lockout_until, EXISTS (SELECT 1 FROM cleared) FROM cur
	`

	var lockoutUntil *time.Time
	var cleared bool
	if err := r.db.QueryRow(ctx, query, id, now).Scan(&lockoutUntil, &cleared); err != nil {
		return nil, database.MapPostgresError(err)
	}
	if cleared {
		return nil, nil
	}
	return lockoutUntil, nil
}

func (r *AccountRepository) ClearExpiredLockout(ctx context.Context, id string, observed, now time.Time) (bool, error) {
	query := `
		UPDATE accounts SET failed_login_count = 0, lockout_until = NULL, updated_at = $3
		WHERE id = $1 AND lockout_until = $2 AND lockout_until <= $3
	`

	tag, err := r.db.Exec(ctx, query, id, observed, now)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdatePassword swaps the hash, appends it to the history and prunes entries beyond keepHistory.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id, hash string, now time.Time, keepHistory int) error {
	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET password_hash = $2, password_changed_at = $3, updated_at = $3 WHERE id = $1`,
			id, hash, now,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO password_history (account_id, password_hash, created_at) VALUES ($1, $2, $3)`,
			id, hash, now,
		); err != nil {
			return database.MapPostgresError(err)
		}

		if keepHistory > 0 {
			_, err = tx.Exec(ctx, `
				DELETE FROM password_history
				WHERE account_id = $1 AND id NOT IN (
					SELECT id FROM password_history WHERE account_id = $1
					ORDER BY created_at DESC, id DESC LIMIT $2
				)`, id, keepHistory)
			if err != nil {
				return database.MapPostgresError(err)
			}
		}
		return nil
	})
}

// PasswordHistory returns the most recent hashes, newest first.
func (r *AccountRepository) PasswordHistory(ctx context.Context, id string, limit int) ([]string, error) {
	query := `
		SELECT password_hash FROM password_history
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query password history: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	hashes := make([]string, 0, limit)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan password history: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return hashes, nil
}

func (r *AccountRepository) MarkEmailVerified(ctx context.Context, id string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET email_verified = TRUE, version = version + 1, updated_at = $2 WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
