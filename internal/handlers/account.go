package handlers

import (
	"net/http"

	"github.com/BradenHooton/mailgate/internal/auth"
	"github.com/BradenHooton/mailgate/internal/models"
	pkghttp "github.com/BradenHooton/mailgate/pkg/http"
	"github.com/go-chi/chi/v5"
)

// ChangePasswordRequest replaces the caller's password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=1024"`
	NewPassword     string `json:"new_password" validate:"required,max=1024"`
}

// EnableTwoFactorRequest confirms a pending TOTP secret
type EnableTwoFactorRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableTwoFactorRequest re-authenticates with exactly one credential
type DisableTwoFactorRequest struct {
	Password string `json:"password" validate:"max=1024"`
	Code     string `json:"code" validate:"max=32"`
}

// RecoveryCodesResponse is shown once, when two-factor authentication is enabled
type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// SessionsResponse lists the caller's live sessions
type SessionsResponse struct {
	Sessions []*models.SessionView `json:"sessions"`
}

// callerClaims returns the verified claims or writes a 401.
func callerClaims(w http.ResponseWriter, r *http.Request) (*models.TokenClaims, bool) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return nil, false
	}
	return claims, true
}

// Me returns the caller's profile
// @Summary Current account
// @Produce json
// @Success 200 {object} models.Profile
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetProfile(r.Context(), claims.AccountID())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

// ResendVerification issues a fresh verification link to the caller
// @Summary Resend verification email
// @Success 202 {object} MessageResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /auth/email/resend [post]
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	if err := h.service.RequestEmailVerification(r.Context(), claims.AccountID(), h.device(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "Verification email sent."})
}

// ChangePassword replaces the caller's password and ends their other sessions
// @Summary Change password
// @Accept json
// @Param request body ChangePasswordRequest true "Current and new password"
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/password/change [post]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	err := h.service.ChangePassword(r.Context(), claims.AccountID(), claims.SessionID, req.CurrentPassword, req.NewPassword, h.device(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSessions returns the caller's live sessions
// @Summary List sessions
// @Produce json
// @Success 200 {object} SessionsResponse
// @Router /auth/sessions [get]
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	views, err := h.service.ListSessions(r.Context(), claims.AccountID(), claims.SessionID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if views == nil {
		views = []*models.SessionView{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionsResponse{Sessions: views})
}

// RevokeSession ends one of the caller's sessions
// @Summary Revoke session
// @Param id path string true "Session ID"
// @Success 204
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /auth/sessions/{id} [delete]
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	if err := h.service.RevokeSession(r.Context(), claims.AccountID(), chi.URLParam(r, "id"), h.device(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetupTwoFactor generates a pending TOTP secret
// @Summary Begin two-factor setup
// @Produce json
// @Success 200 {object} models.TwoFactorEnrollment
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /auth/2fa/setup [post]
func (h *AuthHandler) SetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	enrollment, err := h.service.BeginTwoFactorSetup(r.Context(), claims.AccountID())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, enrollment)
}

// EnableTwoFactor confirms the pending secret and returns recovery codes
// @Summary Enable two-factor authentication
// @Accept json
// @Param request body EnableTwoFactorRequest true "Current TOTP code"
// @Produce json
// @Success 200 {object} RecoveryCodesResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/2fa/enable [post]
func (h *AuthHandler) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	var req EnableTwoFactorRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	codes, err := h.service.EnableTwoFactor(r.Context(), claims.AccountID(), req.Code, h.device(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RecoveryCodesResponse{RecoveryCodes: codes})
}

// DisableTwoFactor turns off two-factor authentication after re-authentication
// @Summary Disable two-factor authentication
// @Accept json
// @Param request body DisableTwoFactorRequest true "Password or code"
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/2fa/disable [post]
func (h *AuthHandler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(w, r)
	if !ok {
		return
	}

	var req DisableTwoFactorRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	err := h.service.DisableTwoFactor(r.Context(), claims.AccountID(), models.ReauthInput{
		Password: req.Password,
		Code:     req.Code,
	}, h.device(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
