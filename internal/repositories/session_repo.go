package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/mailgate/internal/database"
	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, account_id, refresh_token_id, user_agent, platform, ip_address, active,
	last_access_at, expires_at, revoked_at, revoke_reason, created_at, updated_at`

type SessionRepository struct {
	db database.Querier
}

func NewSessionRepository(db database.Querier) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session
	err := scanner.Scan(
		&s.ID, &s.AccountID, &s.RefreshTokenID, &s.UserAgent, &s.Platform, &s.IPAddress, &s.Active,
		&s.LastAccessAt, &s.ExpiresAt, &s.RevokedAt, &s.RevokeReason, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", database.MapPostgresError(err))
	}

	return sessions, nil
}

// CreateWithLimit serialises on the account row so concurrent logins cannot overshoot maxActive.
// Dead sessions are closed first; the least recently used live sessions are then evicted
// until there is room, and the evicted sessions are returned.
func (r *SessionRepository) CreateWithLimit(ctx context.Context, session *models.Session, maxActive int, idleCutoff time.Time) ([]*models.Session, error) {
	now := session.CreatedAt
	var evicted []*models.Session

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var accountID string
		if err := tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, session.AccountID).Scan(&accountID); err != nil {
			return database.MapPostgresError(err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE sessions SET active = FALSE, revoked_at = $2, revoke_reason = $4, updated_at = $2
			WHERE account_id = $1 AND active AND (expires_at <= $2 OR last_access_at <= $3)`,
			session.AccountID, now, idleCutoff, models.RevokeReasonExpired,
		); err != nil {
			return database.MapPostgresError(err)
		}

		if maxActive > 0 {
			rows, err := tx.Query(ctx, `
				UPDATE sessions SET active = FALSE, revoked_at = $2, revoke_reason = $4, updated_at = $2
				WHERE id IN (
					SELECT id FROM sessions
					WHERE account_id = $1 AND active
					ORDER BY last_access_at ASC, created_at ASC
					LIMIT GREATEST((SELECT COUNT(*) FROM sessions WHERE account_id = $1 AND active) - $3 + 1, 0)
				)
				RETURNING `+sessionColumns,
				session.AccountID, now, maxActive, models.RevokeReasonSessionLimit,
			)
			if err != nil {
				return database.MapPostgresError(err)
			}
			evicted, err = scanSessionRows(rows)
			if err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO sessions (id, account_id, refresh_token_id, user_agent, platform, ip_address, active,
				last_access_at, expires_at, revoke_reason, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, '', $9, $9)`,
			session.ID, session.AccountID, session.RefreshTokenID, session.UserAgent, session.Platform,
			session.IPAddress, session.LastAccessAt, session.ExpiresAt, now,
		)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return nil, err
	}

	return evicted, nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	return scanSessionRow(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// Touch refreshes last_access_at unless the session has already lapsed.
func (r *SessionRepository) Touch(ctx context.Context, id string, now, idleCutoff time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions SET last_access_at = $2, updated_at = $2
		WHERE id = $1 AND active AND expires_at > $2 AND last_access_at > $3`,
		id, now, idleCutoff,
	)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SessionRepository) Revoke(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions SET active = FALSE, revoked_at = $2, revoke_reason = $3, updated_at = $2
		WHERE id = $1 AND active`,
		id, now, reason,
	)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SessionRepository) RevokeAllForAccount(ctx context.Context, accountID, reason string, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE sessions SET active = FALSE, revoked_at = $2, revoke_reason = $3, updated_at = $2
		WHERE account_id = $1 AND active
		RETURNING id`,
		accountID, now, reason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return ids, nil
}

// RotateRefreshToken has exactly one winner per oldJTI.
func (r *SessionRepository) RotateRefreshToken(ctx context.Context, id, oldJTI, newJTI string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions SET refresh_token_id = $3, last_access_at = $4, updated_at = $4
		WHERE id = $1 AND refresh_token_id = $2 AND active AND expires_at > $4`,
		id, oldJTI, newJTI, now,
	)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SessionRepository) ListActive(ctx context.Context, accountID string, now, idleCutoff time.Time) ([]*models.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE account_id = $1 AND active AND expires_at > $2 AND last_access_at > $3
		ORDER BY last_access_at DESC`,
		accountID, now, idleCutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", database.MapPostgresError(err))
	}
	return scanSessionRows(rows)
}

// DeleteInactiveBefore removes sessions that ended before cutoff.
func (r *SessionRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM sessions
		WHERE (NOT active AND revoked_at < $1) OR expires_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
