package database

import (
	"context"
	"errors"

	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError translates driver errors into model errors.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err) {
		return &models.TransientError{Op: "postgres", Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return models.ErrConflict
		case "23503", "23502", "23514": // fk, not null, check
			return models.NewValidationError(pgErr.ColumnName, pgErr.Message)
		case "40001", "40P01", "55P03", "57P01", "53300":
			// serialization failure, deadlock, lock not available, admin shutdown, too many connections
			return &models.TransientError{Op: "postgres", Err: err}
		}
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" { // connection exception class
			return &models.TransientError{Op: "postgres", Err: err}
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return &models.TransientError{Op: "postgres connect", Err: err}
	}

	return err
}

// WithTx runs fn in a transaction on q, committing on success and rolling back on error or panic.
func WithTx(ctx context.Context, q Querier, fn func(pgx.Tx) error) (err error) {
	tx, err := q.Begin(ctx)
	if err != nil {
		return MapPostgresError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = MapPostgresError(tx.Commit(ctx))
	}()

	return fn(tx)
}
