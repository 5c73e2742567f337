package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionReaper deletes sessions that ended before a cutoff.
type SessionReaper interface {
	Reap(ctx context.Context, before time.Time) (int64, error)
}

// ChallengePurger deletes second-factor challenges that expired before a cutoff.
type ChallengePurger interface {
	DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error)
}

// ActionTokenPurger deletes spent or expired e-mailed tokens.
type ActionTokenPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CleanupManager periodically removes dead auth state from the store.
// Ended sessions are kept for the retention window so they can still be inspected.
type CleanupManager struct {
	sessions   SessionReaper
	challenges ChallengePurger
	tokens     ActionTokenPurger
	logger     *slog.Logger
	interval   time.Duration
	retention  time.Duration
	now        func() time.Time
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	sessions SessionReaper,
	challenges ChallengePurger,
	tokens ActionTokenPurger,
	logger *slog.Logger,
	interval time.Duration,
	retention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sessions:   sessions,
		challenges: challenges,
		tokens:     tokens,
		logger:     logger,
		interval:   interval,
		retention:  retention,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep. A failing step does not stop the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.now()
	cm.sweep(cleanupCtx, "sessions", func(ctx context.Context) (int64, error) {
		return cm.sessions.Reap(ctx, now.Add(-cm.retention))
	})
	cm.sweep(cleanupCtx, "two_factor_challenges", func(ctx context.Context) (int64, error) {
		return cm.challenges.DeleteExpiredChallenges(ctx, now)
	})
	cm.sweep(cleanupCtx, "action_tokens", func(ctx context.Context) (int64, error) {
		return cm.tokens.DeleteExpired(ctx, now)
	})
}

func (cm *CleanupManager) sweep(ctx context.Context, what string, fn func(context.Context) (int64, error)) {
	rowsDeleted, err := fn(ctx)
	if err != nil {
		cm.logger.ErrorContext(ctx, "cleanup failed", slog.String("target", what), slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		cm.logger.InfoContext(ctx, "cleanup completed",
			slog.String("target", what),
			slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
