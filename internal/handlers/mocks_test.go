package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/mailgate/internal/auth"
	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/BradenHooton/mailgate/internal/services"
	pkghttp "github.com/BradenHooton/mailgate/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAuthService overrides the methods a test sets; any other call panics.
type MockAuthService struct {
	AuthServiceInterface

	RegisterFunc         func(ctx context.Context, in services.RegisterInput, meta models.DeviceMeta) (*models.Profile, error)
	LoginFunc            func(ctx context.Context, in services.LoginInput) (*models.LoginResult, error)
	LogoutFunc           func(ctx context.Context, token string, allDevices bool, meta models.DeviceMeta) error
	RequestResetFunc     func(ctx context.Context, email string, meta models.DeviceMeta) error
	ChangePasswordFunc   func(ctx context.Context, accountID, sessionID, current, next string, meta models.DeviceMeta) error
	ListSessionsFunc     func(ctx context.Context, accountID, sessionID string) ([]*models.SessionView, error)
	RevokeSessionFunc    func(ctx context.Context, accountID, sessionID string, meta models.DeviceMeta) error
	DisableTwoFactorFunc func(ctx context.Context, accountID string, reauth models.ReauthInput, meta models.DeviceMeta) error
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput, meta models.DeviceMeta) (*models.Profile, error) {
	return m.RegisterFunc(ctx, in, meta)
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*models.LoginResult, error) {
	return m.LoginFunc(ctx, in)
}

func (m *MockAuthService) Logout(ctx context.Context, token string, allDevices bool, meta models.DeviceMeta) error {
	return m.LogoutFunc(ctx, token, allDevices, meta)
}

func (m *MockAuthService) RequestPasswordReset(ctx context.Context, email string, meta models.DeviceMeta) error {
	return m.RequestResetFunc(ctx, email, meta)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, accountID, sessionID, current, next string, meta models.DeviceMeta) error {
	return m.ChangePasswordFunc(ctx, accountID, sessionID, current, next, meta)
}

func (m *MockAuthService) ListSessions(ctx context.Context, accountID, sessionID string) ([]*models.SessionView, error) {
	return m.ListSessionsFunc(ctx, accountID, sessionID)
}

func (m *MockAuthService) RevokeSession(ctx context.Context, accountID, sessionID string, meta models.DeviceMeta) error {
	return m.RevokeSessionFunc(ctx, accountID, sessionID, meta)
}

func (m *MockAuthService) DisableTwoFactor(ctx context.Context, accountID string, reauth models.ReauthInput, meta models.DeviceMeta) error {
	return m.DisableTwoFactorFunc(ctx, accountID, reauth, meta)
}

// MockAdminService mirrors MockAuthService for admin operations.
type MockAdminService struct {
	AdminServiceInterface

	ChangeRoleFunc func(ctx context.Context, accountID string, role models.Role, actorID string) (*models.Profile, error)
	ListEventsFunc func(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	UnlockFunc     func(ctx context.Context, accountID, actorID string) error
}

func (m *MockAdminService) ChangeRole(ctx context.Context, accountID string, role models.Role, actorID string) (*models.Profile, error) {
	return m.ChangeRoleFunc(ctx, accountID, role, actorID)
}

func (m *MockAdminService) ListSecurityEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	return m.ListEventsFunc(ctx, filter)
}

func (m *MockAdminService) AdminUnlock(ctx context.Context, accountID, actorID string) error {
	return m.UnlockFunc(ctx, accountID, actorID)
}

// newTestRequest creates an HTTP request with a JSON body
func newTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
	req.RemoteAddr = "192.0.2.44:51000"
	return req
}

// withClaims authenticates req as accountID on sessionID
func withClaims(req *http.Request, accountID, sessionID string) *http.Request {
	claims := &models.TokenClaims{
		Kind:             models.TokenKindAccess,
		SessionID:        sessionID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: accountID},
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// withURLParam sets a chi route parameter
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, status int, code string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, status, w.Code)
	resp := decodeErrorResponse(t, w)
	assert.Equal(t, code, resp.Error)
	return resp
}
