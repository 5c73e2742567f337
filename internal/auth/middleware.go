package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/BradenHooton/mailgate/internal/models"
	pkghttp "github.com/BradenHooton/mailgate/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ClaimsContextKey is the key for storing verified claims in context
	ClaimsContextKey contextKey = "claims"
)

// SessionValidator is the authority on whether a session still backs a token.
type SessionValidator interface {
	IsValid(ctx context.Context, sessionID string) (bool, error)
}

// AccountReader loads the current account for role checks.
type AccountReader interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, models.TokenType) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate verifies access tokens and checks that their session is still live.
// A revoked or idle session invalidates the access token immediately.
func Authenticate(codec *TokenCodec, sessions SessionValidator, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "Missing or malformed authorization header")
				return
			}

			claims, err := codec.Verify(raw, models.TokenKindAccess)
			if err != nil {
				if errors.Is(err, models.ErrTokenExpired) {
					pkghttp.WriteError(w, http.StatusUnauthorized, "token_expired", "Token expired")
					return
				}
				pkghttp.WriteUnauthorized(w, "Invalid token")
				return
			}

			valid, err := sessions.IsValid(r.Context(), claims.SessionID)
			if err != nil {
				if errors.Is(err, models.ErrTransient) {
					pkghttp.WriteServiceUnavailable(w, "Unable to verify session")
					return
				}
				logger.ErrorContext(r.Context(), "session validation failed",
					slog.String("session_id", claims.SessionID),
					slog.Any("error", err))
				pkghttp.WriteInternalError(w, "Internal server error")
				return
			}
			if !valid {
				pkghttp.WriteUnauthorized(w, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole enforces that the caller's current role is one of roles.
// The role is read from the store, not the token, so demotions apply at once.
func RequireRole(accounts AccountReader, roles ...models.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "Unauthorized")
				return
			}

			account, err := accounts.FindByID(r.Context(), claims.AccountID())
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "Unauthorized")
					return
				}
				pkghttp.WriteInternalError(w, "Internal server error")
				return
			}

			if !account.Active || !slices.Contains(roles, account.Role) {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext returns the verified claims placed by Authenticate.
func ClaimsFromContext(ctx context.Context) *models.TokenClaims {
	claims, ok := ctx.Value(ClaimsContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithClaims stores claims in ctx; handlers tests use it to skip the middleware.
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}
