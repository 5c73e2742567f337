package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/mailgate/internal/database"
	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/google/uuid"
)

const actionTokenColumns = `id, account_id, purpose, token_hash, expires_at, used_at, created_at`

// ActionTokenRepository stores e-mail verification and password reset tokens by hash.
type ActionTokenRepository struct {
	db database.Querier
}

func NewActionTokenRepository(db database.Querier) *ActionTokenRepository {
	return &ActionTokenRepository{db: db}
}

func scanActionTokenRow(scanner rowScanner) (*models.ActionToken, error) {
	var t models.ActionToken
	var purpose string
	err := scanner.Scan(&t.ID, &t.AccountID, &purpose, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	t.Purpose = models.ActionPurpose(purpose)
	return &t, nil
}

func (r *ActionTokenRepository) Create(ctx context.Context, t *models.ActionToken) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO action_tokens (id, account_id, purpose, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.AccountID, string(t.Purpose), t.TokenHash, t.ExpiresAt, t.CreatedAt,
	)
	return database.MapPostgresError(err)
}

func (r *ActionTokenRepository) FindValid(ctx context.Context, tokenHash string, purpose models.ActionPurpose, now time.Time) (*models.ActionToken, error) {
	return scanActionTokenRow(r.db.QueryRow(ctx, `
		SELECT `+actionTokenColumns+` FROM action_tokens
		WHERE token_hash = $1 AND purpose = $2 AND used_at IS NULL AND expires_at > $3`,
		tokenHash, string(purpose), now,
	))
}

func (r *ActionTokenRepository) Consume(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE action_tokens SET used_at = $2
		WHERE id = $1 AND used_at IS NULL AND expires_at > $2`,
		id, now,
	)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// InvalidateForAccount spends every outstanding token of purpose so only the newest one works.
func (r *ActionTokenRepository) InvalidateForAccount(ctx context.Context, accountID string, purpose models.ActionPurpose, now time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE action_tokens SET used_at = $3
		WHERE account_id = $1 AND purpose = $2 AND used_at IS NULL`,
		accountID, string(purpose), now,
	)
	return database.MapPostgresError(err)
}

func (r *ActionTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM action_tokens WHERE expires_at < $1 OR used_at < $1`, before,
	)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
