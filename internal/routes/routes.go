package routes

import (
	"log/slog"

	"github.com/BradenHooton/mailgate/internal/auth"
	"github.com/BradenHooton/mailgate/internal/handlers"
	"github.com/BradenHooton/mailgate/internal/middleware"
	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	healthHandler *handlers.HealthHandler,
	codec *auth.TokenCodec,
	sessions auth.SessionValidator,
	accounts auth.AccountReader,
	credentialLimit middleware.RateLimitConfig,
	accountLimit middleware.RateLimitConfig,
	logger *slog.Logger,
) {
	router.Get("/health", healthHandler.Health)

	// one budget per client IP, shared by every credential endpoint
	limitCredentials := middleware.RateLimitByIP(credentialLimit)

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(limitCredentials)

		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/login/2fa", authHandler.CompleteTwoFactor)
		r.Post("/auth/refresh", authHandler.RefreshToken)
		r.Post("/auth/password/forgot", authHandler.ForgotPassword)
		r.Post("/auth/password/reset", authHandler.ResetPassword)
		r.Post("/auth/email/verify", authHandler.VerifyEmail)
	})

	// Logout accepts expired tokens, so it sits outside the bearer middleware
	router.Post("/auth/logout", authHandler.Logout)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(codec, sessions, logger))
		r.Use(middleware.RateLimitByAccount(accountLimit))

		r.Get("/auth/me", authHandler.Me)
		r.Post("/auth/email/resend", authHandler.ResendVerification)
		r.Get("/auth/sessions", authHandler.ListSessions)
		r.Delete("/auth/sessions/{id}", authHandler.RevokeSession)

		// re-authenticating endpoints share the credential budget
		r.With(limitCredentials).Post("/auth/password/change", authHandler.ChangePassword)
		r.Post("/auth/2fa/setup", authHandler.SetupTwoFactor)
		r.With(limitCredentials).Post("/auth/2fa/enable", authHandler.EnableTwoFactor)
		r.With(limitCredentials).Post("/auth/2fa/disable", authHandler.DisableTwoFactor)

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(accounts, models.RoleSuperAdmin))

			r.Post("/accounts/{id}/unlock", adminHandler.UnlockAccount)
			r.Put("/accounts/{id}/role", adminHandler.ChangeRole)
			r.Put("/accounts/{id}/active", adminHandler.SetActive)
			r.Get("/security-events", adminHandler.ListSecurityEvents)
			r.Post("/security-events/{id}/resolve", adminHandler.ResolveSecurityEvent)
		})
	})
}
