package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
)

// DefaultStoreTimeout bounds every store round trip when no timeout is configured.
const DefaultStoreTimeout = 3 * time.Second

func boundedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// storeError marks store timeouts as retryable so callers can surface "try again".
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrTransient) {
		return &models.TransientError{Op: op, Err: err}
	}
	return err
}

// internalError hides unexpected store failures behind ErrInternal; transient ones pass through.
func internalError(op string, err error) error {
	if errors.Is(err, models.ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", models.ErrInternal, op, err)
}
