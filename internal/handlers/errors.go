package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/mailgate/internal/models"
	pkghttp "github.com/BradenHooton/mailgate/pkg/http"
)

// writeServiceError maps an error from the auth core onto an HTTP response.
// Anything unrecognised is logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var locked *models.LockedError

	switch {
	case errors.Is(err, models.ErrValidation):
		writeValidationError(w, err)
	case errors.As(err, &locked):
		pkghttp.WriteLocked(w, "Account temporarily locked. Please try again later.", locked.Remaining)
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteLocked(w, "Account temporarily locked. Please try again later.", 0)
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, models.ErrTokenExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "token_expired", "Token expired")
	case errors.Is(err, models.ErrTokenInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
	case errors.Is(err, models.ErrTwoFactorInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_two_factor_code", "Invalid or expired verification code")
	case errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteError(w, http.StatusForbidden, "account_inactive", "Account is disabled")
	case errors.Is(err, models.ErrEmailNotVerified):
		pkghttp.WriteError(w, http.StatusForbidden, "email_not_verified", "Email address must be verified before signing in")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Operation not permitted")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Request conflicts with the current state of the resource")
	case errors.Is(err, models.ErrTransient):
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		logger.ErrorContext(r.Context(), "unhandled service error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
