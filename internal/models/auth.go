package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind distinguishes access from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenType is the scheme reported alongside issued tokens.
const TokenType = "Bearer"

// TokenClaims is the payload shared between the token codec and bearer parsing.
// The account id travels in the registered "sub" claim.
type TokenClaims struct {
	Kind      TokenKind `json:"kind"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	SessionID string    `json:"sid"`
	jwt.RegisteredClaims
}

func (c *TokenClaims) AccountID() string {
	return c.Subject
}

// Token is a signed credential together with the facts needed to persist it.
type Token struct {
	Raw       string
	ID        string // jti
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Tokens is the pair handed back to clients after authentication or refresh.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuthResult is returned once an account is fully authenticated.
type AuthResult struct {
	Profile *Profile `json:"user"`
	Tokens  *Tokens  `json:"tokens"`
}

// LoginResult is either a completed authentication or a pending second factor.
type LoginResult struct {
	Auth      *AuthResult
	Challenge *TwoFactorChallenge
}

// RequiresTwoFactor reports whether the caller must complete a challenge.
func (r *LoginResult) RequiresTwoFactor() bool {
	return r.Challenge != nil
}
