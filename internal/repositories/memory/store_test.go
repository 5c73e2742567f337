package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seedAccount(t *testing.T, s *Store) *models.Account {
	t.Helper()
	a, err := s.Accounts().Create(context.Background(), &models.Account{
		Email: "ops@example.com", PasswordHash: "h0", Active: true, CreatedAt: t0,
	})
	require.NoError(t, err)
	return a
}

func TestAccounts_EmailUniqueCaseInsensitive(t *testing.T) {
	s := NewStore()
	seedAccount(t, s)

	_, err := s.Accounts().Create(context.Background(), &models.Account{Email: "OPS@example.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, models.ErrConflict)

	found, err := s.Accounts().FindByEmail(context.Background(), "Ops@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", found.Email)
}

func TestAccounts_RegisterFailedLogin(t *testing.T) {
	s := NewStore()
	a := seedAccount(t, s)
	repo := s.Accounts()
	ctx := context.Background()

	for i := 1; i < 3; i++ {
		got, engaged, err := repo.RegisterFailedLogin(ctx, a.ID, t0, 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, engaged)
		assert.Equal(t, i, got.FailedLoginCount)
	}

	got, engaged, err := repo.RegisterFailedLogin(ctx, a.ID, t0, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, engaged)
	require.NotNil(t, got.LockoutUntil)
	assert.Equal(t, t0.Add(time.Minute), *got.LockoutUntil)

	// while locked the window is never extended
	got, engaged, err = repo.RegisterFailedLogin(ctx, a.ID, t0.Add(30*time.Second), 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, engaged)
	assert.Equal(t, t0.Add(time.Minute), *got.LockoutUntil)

	// after the lockout elapses the count restarts
	got, _, err = repo.RegisterFailedLogin(ctx, a.ID, t0.Add(2*time.Minute), 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedLoginCount)
	assert.Nil(t, got.LockoutUntil)
}

func TestAccounts_ClearFailedLogins(t *testing.T) {
	s := NewStore()
	a := seedAccount(t, s)
	repo := s.Accounts()
	ctx := context.Background()

	_, _, err := repo.RegisterFailedLogin(ctx, a.ID, t0, 3, time.Minute)
	require.NoError(t, err)
	lockedUntil, err := repo.ClearFailedLogins(ctx, a.ID, t0)
	require.NoError(t, err)
	assert.Nil(t, lockedUntil)

	for i := 0; i < 3; i++ {
		_, _, err := repo.RegisterFailedLogin(ctx, a.ID, t0, 3, time.Minute)
		require.NoError(t, err)
	}

	// an open lockout is left untouched
	lockedUntil, err = repo.ClearFailedLogins(ctx, a.ID, t0.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, lockedUntil)
	assert.Equal(t, t0.Add(time.Minute), *lockedUntil)

	got, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.FailedLoginCount)

	// once elapsed it is cleared with the counter
	lockedUntil, err = repo.ClearFailedLogins(ctx, a.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, lockedUntil)
	got, err = repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedLoginCount)
	assert.Nil(t, got.LockoutUntil)

	_, err = repo.ClearFailedLogins(ctx, "missing", t0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccounts_ConcurrentFailuresAreNotLost(t *testing.T) {
	s := NewStore()
	a := seedAccount(t, s)
	repo := s.Accounts()

	var wg sync.WaitGroup
	var mu sync.Mutex
	engagements := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, engaged, err := repo.RegisterFailedLogin(context.Background(), a.ID, t0, 5, time.Minute)
			assert.NoError(t, err)
			if engaged {
				mu.Lock()
				engagements++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := repo.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.FailedLoginCount)
	assert.Equal(t, 1, engagements)
}

func TestAccounts_SaveDetectsStaleVersion(t *testing.T) {
	s := NewStore()
	a := seedAccount(t, s)
	repo := s.Accounts()
	ctx := context.Background()

	a.Role = models.RoleDomainAdmin
	saved, err := repo.Save(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	a.Role = models.RoleSuperAdmin
	_, err = repo.Save(ctx, a)
	assert.ErrorIs(t, err, models.ErrStaleWrite)
}

func TestSessions_CreateWithLimitEvictsLeastRecentlyUsed(t *testing.T) {
	s := NewStore()
	a := seedAccount(t, s)
	repo := s.Sessions()
	ctx := context.Background()
	idleCutoff := t0.Add(-time.Hour)

	for i := range 3 {
		at := t0.Add(time.Duration(i) * time.Minute)
		_, err := repo.CreateWithLimit(ctx, &models.Session{
			ID: fmt.Sprintf("s%d", i), AccountID: a.ID, RefreshTokenID: "j",
			LastAccessAt: at, ExpiresAt: at.Add(time.Hour), CreatedAt: at,
		}, 3, idleCutoff)
		require.NoError(t, err)
	}

	// s0 becomes most recent, so s1 is the eviction candidate
	ok, err := repo.Touch(ctx, "s0", t0.Add(5*time.Minute), idleCutoff)
	require.NoError(t, err)
	require.True(t, ok)

	at := t0.Add(6 * time.Minute)
	evicted, err := repo.CreateWithLimit(ctx, &models.Session{
		ID: "s3", AccountID: a.ID, RefreshTokenID: "j",
		LastAccessAt: at, ExpiresAt: at.Add(time.Hour), CreatedAt: at,
	}, 3, idleCutoff)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, "s1", evicted[0].ID)

	live, err := repo.ListActive(ctx, a.ID, at, idleCutoff)
	require.NoError(t, err)
	assert.Len(t, live, 3)
}

func TestSessions_ConcurrentCreatesNeverExceedLimit(t *testing.T) {
	s := NewStore()
	a := seedAccount(t, s)
	repo := s.Sessions()

	var wg sync.WaitGroup
	for i := range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CreateWithLimit(context.Background(), &models.Session{
				ID: fmt.Sprintf("c%d", i), AccountID: a.ID, RefreshTokenID: "j",
				LastAccessAt: t0, ExpiresAt: t0.Add(time.Hour), CreatedAt: t0,
			}, 4, t0.Add(-time.Hour))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	live, err := repo.ListActive(context.Background(), a.ID, t0, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, live, 4)
}

func TestSessions_RotateHasOneWinner(t *testing.T) {
	s := NewStore()
	a := seedAccount(t, s)
	repo := s.Sessions()
	ctx := context.Background()

	_, err := repo.CreateWithLimit(ctx, &models.Session{
		ID: "s", AccountID: a.ID, RefreshTokenID: "old",
		LastAccessAt: t0, ExpiresAt: t0.Add(time.Hour), CreatedAt: t0,
	}, 5, t0.Add(-time.Hour))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.RotateRefreshToken(ctx, "s", "old", fmt.Sprintf("new-%d", i), t0)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSecurityEvents_QueryNewestFirstWithPaging(t *testing.T) {
	s := NewStore()
	repo := s.SecurityEvents()
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, repo.Create(ctx, &models.SecurityEvent{
			Kind: models.EventLoginFailure, Severity: models.SeverityMedium,
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := repo.Query(ctx, models.EventFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, t0.Add(3*time.Second), page[0].CreatedAt)
	assert.Equal(t, t0.Add(2*time.Second), page[1].CreatedAt)

	empty, err := repo.Query(ctx, models.EventFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSecurityEvents_ResolveOnce(t *testing.T) {
	s := NewStore()
	repo := s.SecurityEvents()
	ctx := context.Background()

	e := &models.SecurityEvent{Kind: models.EventSuspiciousLoginAttempt, Severity: models.SeverityHigh, CreatedAt: t0}
	require.NoError(t, repo.Create(ctx, e))

	resolved, err := repo.Resolve(ctx, e.ID, "admin", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "admin", *resolved.ResolvedBy)

	_, err = repo.Resolve(ctx, e.ID, "admin", t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = repo.Resolve(ctx, "missing", "admin", t0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTwoFactor_RecoveryCodeSingleUse(t *testing.T) {
	s := NewStore()
	a := seedAccount(t, s)
	repo := s.TwoFactor()
	ctx := context.Background()

	ok, err := repo.SetPendingSecret(ctx, a.ID, []byte("ct"), []byte("n"), t0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Enable(ctx, a.ID, []string{"h1", "h2"}, 7, t0)
	require.NoError(t, err)
	require.True(t, ok)

	first, err := repo.ConsumeRecoveryCode(ctx, a.ID, "h1", t0)
	require.NoError(t, err)
	second, err := repo.ConsumeRecoveryCode(ctx, a.ID, "h1", t0)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	n, err := repo.CountRecoveryCodes(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// replayed or older TOTP steps are refused
	adv, err := repo.AdvanceStep(ctx, a.ID, 7)
	require.NoError(t, err)
	assert.False(t, adv)
	adv, err = repo.AdvanceStep(ctx, a.ID, 8)
	require.NoError(t, err)
	assert.True(t, adv)
}

func TestActionTokens_ConsumeOnce(t *testing.T) {
	s := NewStore()
	a := seedAccount(t, s)
	repo := s.ActionTokens()
	ctx := context.Background()

	tok := &models.ActionToken{
		AccountID: a.ID, Purpose: models.PurposePasswordReset, TokenHash: "th",
		ExpiresAt: t0.Add(time.Hour), CreatedAt: t0,
	}
	require.NoError(t, repo.Create(ctx, tok))

	found, err := repo.FindValid(ctx, "th", models.PurposePasswordReset, t0)
	require.NoError(t, err)

	ok, err := repo.Consume(ctx, found.ID, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Consume(ctx, found.ID, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.FindValid(ctx, "th", models.PurposePasswordReset, t0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
