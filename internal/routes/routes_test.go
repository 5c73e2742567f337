package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/mailgate/internal/auth"
	"github.com/BradenHooton/mailgate/internal/config"
	"github.com/BradenHooton/mailgate/internal/handlers"
	"github.com/BradenHooton/mailgate/internal/middleware"
	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/BradenHooton/mailgate/internal/repositories/memory"
	"github.com/BradenHooton/mailgate/internal/routes"
	"github.com/BradenHooton/mailgate/internal/services"
	pkgauth "github.com/BradenHooton/mailgate/pkg/auth"
	pkglogger "github.com/BradenHooton/mailgate/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Correct-Horse-42!"

type recordingNotifier struct {
	mu     sync.Mutex
	tokens map[models.MessageKind]string
}

func (n *recordingNotifier) SendTransactionalMessage(_ context.Context, kind models.MessageKind, _ *models.Account, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[kind] = payload[models.PayloadToken]
	return nil
}

func (n *recordingNotifier) token(kind models.MessageKind) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[kind]
}

type testServer struct {
	router   http.Handler
	svc      *services.AuthService
	notifier *recordingNotifier
}

func newTestServer(t *testing.T, credentialsPerMinute int) *testServer {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := memory.NewStore()

	events := services.NewSecurityEventService(store.SecurityEvents(), pkglogger.NewAuditLogger(logger), logger, time.Second, nil)
	sessions := services.NewSessionService(store.Sessions(), events, config.SessionPolicy{
		MaxConcurrent:    5,
		IdleTimeout:      30 * time.Minute,
		AbsoluteLifetime: 24 * time.Hour,
		RevokeAllOnReuse: true,
	}, logger, time.Second, nil)
	lockout := services.NewLockoutService(store.Accounts(), events, config.LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}, logger, time.Second, nil)

	codec, err := auth.NewTokenCodec("routes-test-secret-long-enough-for-hs256", "mailgate-test", 15*time.Minute, 24*time.Hour, nil)
	require.NoError(t, err)
	totp, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "Mailgate", 1, nil)
	require.NoError(t, err)
	hasher, err := pkgauth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	notifier := &recordingNotifier{tokens: map[models.MessageKind]string{}}
	svc := services.NewAuthService(services.AuthDependencies{
		Accounts:     store.Accounts(),
		TwoFactor:    store.TwoFactor(),
		ActionTokens: store.ActionTokens(),
		Sessions:     sessions,
		Lockout:      lockout,
		Events:       events,
		Codec:        codec,
		TOTP:         totp,
		Hasher:       hasher,
		Notifier:     notifier,
		Logger:       logger,
	}, services.AuthPolicy{
		Password: pkgauth.DefaultPasswordPolicy(),
		TwoFactor: config.TwoFactorPolicy{
			RecoveryCodeCount:    10,
			ChallengeTTL:         5 * time.Minute,
			MaxChallengeAttempts: 3,
		},
		RequireVerifiedEmail: true,
		VerificationTokenTTL: time.Hour,
		ResetTokenTTL:        time.Hour,
		StoreTimeout:         time.Second,
		Env:                  "test",
	}, nil)

	router := chi.NewRouter()
	routes.RegisterRoutes(router,
		handlers.NewAuthHandler(svc, nil, logger),
		handlers.NewAdminHandler(svc, logger),
		handlers.NewHealthHandler(nil),
		codec, sessions, store.Accounts(),
		middleware.RateLimitConfig{RequestsPerMinute: credentialsPerMinute},
		middleware.RateLimitConfig{RequestsPerMinute: 1000},
		logger,
	)

	return &testServer{router: router, svc: svc, notifier: notifier}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

// signUp registers and verifies email, returning the account id.
func (s *testServer) signUp(t *testing.T, email string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	profile := decode[models.Profile](t, w)

	w = s.do(t, http.MethodPost, "/auth/email/verify", "", map[string]string{"token": s.notifier.token(models.MessageEmailVerification)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return profile.ID
}

func (s *testServer) signIn(t *testing.T, email string) *models.Tokens {
	t.Helper()
	w := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[handlers.LoginResponse](t, w)
	require.NotNil(t, resp.Tokens)
	return resp.Tokens
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 100)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, 100)

	w := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "user@example.com", "password": testPassword})
	require.Equal(t, http.StatusCreated, w.Code)

	// unverified accounts cannot sign in
	w = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "user@example.com", "password": testPassword})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/auth/email/verify", "", map[string]string{"token": s.notifier.token(models.MessageEmailVerification)})
	require.Equal(t, http.StatusOK, w.Code)

	tokens := s.signIn(t, "user@example.com")

	w = s.do(t, http.MethodGet, "/auth/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user@example.com", decode[models.Profile](t, w).Email)

	w = s.do(t, http.MethodGet, "/auth/sessions", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[handlers.SessionsResponse](t, w)
	require.Len(t, listed.Sessions, 1)
	assert.True(t, listed.Sessions[0].Current)

	// refresh tokens cannot authenticate requests
	w = s.do(t, http.MethodGet, "/auth/me", tokens.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/auth/logout", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// the access token dies with its session
	w = s.do(t, http.MethodGet, "/auth/me", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshReuseRevokesSessions(t *testing.T) {
	s := newTestServer(t, 100)
	s.signUp(t, "user@example.com")
	tokens := s.signIn(t, "user@example.com")

	w := s.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)
	rotated := decode[models.Tokens](t, w)

	w = s.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/auth/me", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoutesRequireSuperAdmin(t *testing.T) {
	s := newTestServer(t, 100)
	userID := s.signUp(t, "user@example.com")
	adminID := s.signUp(t, "admin@example.com")
	_, err := s.svc.ChangeRole(context.Background(), adminID, models.RoleSuperAdmin, "bootstrap")
	require.NoError(t, err)

	userTokens := s.signIn(t, "user@example.com")
	adminTokens := s.signIn(t, "admin@example.com")

	w := s.do(t, http.MethodGet, "/admin/security-events", userTokens.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/admin/security-events?kind=LOGIN_SUCCESS&account_id="+userID, adminTokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[handlers.SecurityEventsResponse](t, w)
	require.Len(t, page.Events, 1)

	w = s.do(t, http.MethodPost, "/admin/security-events/"+page.Events[0].ID+"/resolve", adminTokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[handlers.SecurityEventResponse](t, w).Resolved)

	w = s.do(t, http.MethodPut, "/admin/accounts/"+userID+"/role", adminTokens.AccessToken, map[string]string{"role": "domain_admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RoleDomainAdmin, decode[models.Profile](t, w).Role)

	w = s.do(t, http.MethodPost, "/admin/accounts/"+userID+"/unlock", adminTokens.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCredentialRoutesAreRateLimited(t *testing.T) {
	s := newTestServer(t, 3)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "Wrong-Password-1!"})
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)

	// health is never limited
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)
}
