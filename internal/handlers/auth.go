package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/mailgate/internal/auth"
	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/BradenHooton/mailgate/internal/services"
	pkghttp "github.com/BradenHooton/mailgate/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, in services.RegisterInput, meta models.DeviceMeta) (*models.Profile, error)
	Login(ctx context.Context, in services.LoginInput) (*models.LoginResult, error)
	CompleteTwoFactor(ctx context.Context, challengeID, code string, meta models.DeviceMeta) (*models.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string, meta models.DeviceMeta) (*models.Tokens, error)
	Logout(ctx context.Context, token string, allDevices bool, meta models.DeviceMeta) error
	GetProfile(ctx context.Context, accountID string) (*models.Profile, error)

	RequestEmailVerification(ctx context.Context, accountID string, meta models.DeviceMeta) error
	VerifyEmail(ctx context.Context, token string, meta models.DeviceMeta) error
	RequestPasswordReset(ctx context.Context, email string, meta models.DeviceMeta) error
	CompletePasswordReset(ctx context.Context, token, password string, meta models.DeviceMeta) error
	ChangePassword(ctx context.Context, accountID, currentSessionID, current, next string, meta models.DeviceMeta) error

	ListSessions(ctx context.Context, accountID, currentSessionID string) ([]*models.SessionView, error)
	RevokeSession(ctx context.Context, accountID, sessionID string, meta models.DeviceMeta) error

	BeginTwoFactorSetup(ctx context.Context, accountID string) (*models.TwoFactorEnrollment, error)
	EnableTwoFactor(ctx context.Context, accountID, code string, meta models.DeviceMeta) ([]string, error)
	DisableTwoFactor(ctx context.Context, accountID string, reauth models.ReauthInput, meta models.DeviceMeta) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// TwoFactorLoginRequest completes a login that returned a challenge
type TwoFactorLoginRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required,max=64"`
	Code        string `json:"code" validate:"required,max=32"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest names the token to revoke when no Authorization header is sent
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	AllDevices   bool   `json:"all_devices"`
}

// ForgotPasswordRequest starts a password reset
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// ResetPasswordRequest completes a password reset
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=1024"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required,max=256"`
}

// Response DTOs

// LoginResponse is either a full authentication or a pending second factor
type LoginResponse struct {
	User               *models.Profile `json:"user,omitempty"`
	Tokens             *models.Tokens  `json:"tokens,omitempty"`
	TwoFactorRequired  bool            `json:"two_factor_required"`
	ChallengeID        string          `json:"challenge_id,omitempty"`
	ChallengeExpiresAt *time.Time      `json:"challenge_expires_at,omitempty"`
}

// MessageResponse carries a human-readable acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

func (h *AuthHandler) device(r *http.Request) models.DeviceMeta {
	d := pkghttp.ExtractDevice(r, h.ipConfig)
	return models.DeviceMeta{UserAgent: d.UserAgent, Platform: d.Platform, IPAddress: d.IPAddress}
}

// Register handles account registration
// @Summary Register a new account
// @Accept json
// @Param request body RegisterRequest true "Registration request"
// @Produce json
// @Success 201 {object} models.Profile
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	profile, err := h.service.Register(r.Context(), services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
	}, h.device(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, profile)
}

// Login handles password login
// @Summary Account login
// @Description Returns tokens, or a challenge when two-factor authentication is enabled
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Failure 423 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   h.device(r),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if result.RequiresTwoFactor() {
		expires := result.Challenge.ExpiresAt
		pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
			TwoFactorRequired:  true,
			ChallengeID:        result.Challenge.ID,
			ChallengeExpiresAt: &expires,
		})
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		User:   result.Auth.Profile,
		Tokens: result.Auth.Tokens,
	})
}

// CompleteTwoFactor finishes a login with a TOTP or recovery code
// @Summary Complete two-factor login
// @Accept json
// @Param request body TwoFactorLoginRequest true "Challenge and code"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/login/2fa [post]
func (h *AuthHandler) CompleteTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorLoginRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.service.CompleteTwoFactor(r.Context(), req.ChallengeID, req.Code, h.device(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		User:   result.Profile,
		Tokens: result.Tokens,
	})
}

// RefreshToken rotates a refresh token
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest true "Refresh token"
// @Produce json
// @Success 200 {object} models.Tokens
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.RefreshToken, h.device(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, tokens)
}

// Logout ends the session behind a token. Expired tokens are accepted.
// @Summary Logout
// @Accept json
// @Param request body LogoutRequest false "Token and scope"
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if !decodeOptionalRequest(w, r, &req) {
		return
	}

	token, ok := auth.BearerToken(r)
	if !ok {
		token = req.RefreshToken
	}
	if token == "" {
		pkghttp.WriteUnauthorized(w, "Missing token")
		return
	}

	if err := h.service.Logout(r.Context(), token, req.AllDevices, h.device(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ForgotPassword starts a password reset. The response never reveals
// whether the address is registered.
// @Summary Request password reset
// @Accept json
// @Param request body ForgotPasswordRequest true "Email"
// @Success 202 {object} MessageResponse
// @Router /auth/password/forgot [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email, h.device(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If the address is registered, a reset link has been sent.",
	})
}

// ResetPassword completes a password reset
// @Summary Reset password
// @Accept json
// @Param request body ResetPasswordRequest true "Token and new password"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/password/reset [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.service.CompletePasswordReset(r.Context(), req.Token, req.Password, h.device(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset."})
}

// VerifyEmail handles email verification
// @Summary Verify email address
// @Accept json
// @Param request body VerifyEmailRequest true "Verification token"
// @Success 200 {object} MessageResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/email/verify [post]
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token, h.device(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Email address verified."})
}
