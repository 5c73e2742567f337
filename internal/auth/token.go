package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RejectReason says why the codec refused a token. It never leaves the core:
// callers see only models.ErrTokenExpired or models.ErrTokenInvalid.
type RejectReason string

const (
	ReasonMalformed    RejectReason = "malformed"
	ReasonSignature    RejectReason = "signature"
	ReasonExpired      RejectReason = "expired"
	ReasonKindMismatch RejectReason = "kind_mismatch"
	ReasonClaims       RejectReason = "claims"
)

// TokenRejection is returned by Verify.
type TokenRejection struct {
	Reason RejectReason
	Err    error
}

func (e *TokenRejection) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token rejected (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("token rejected (%s)", e.Reason)
}

func (e *TokenRejection) Unwrap() error {
	return e.Err
}

func (e *TokenRejection) Is(target error) bool {
	if e.Reason == ReasonExpired {
		return target == models.ErrTokenExpired
	}
	return target == models.ErrTokenInvalid
}

func reject(reason RejectReason, err error) *TokenRejection {
	return &TokenRejection{Reason: reason, Err: err}
}

// Subject is the account snapshot embedded in a token.
type Subject struct {
	AccountID string
	Email     string
	Role      models.Role
}

// TokenCodec signs and verifies HS256 tokens. It holds no mutable state.
type TokenCodec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
	lenient    *jwt.Parser // signature only, for revocation
}

// NewTokenCodec creates a codec. now may be nil to use the wall clock.
func NewTokenCodec(secret, issuer string, accessTTL, refreshTTL time.Duration, now func() time.Time) (*TokenCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive")
	}
	if accessTTL >= refreshTTL {
		return nil, fmt.Errorf("access token lifetime must be shorter than refresh token lifetime")
	}
	if now == nil {
		now = time.Now
	}

	return &TokenCodec{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(now),
		),
		lenient: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// AccessTTL is reported to clients as expires_in.
func (c *TokenCodec) AccessTTL() time.Duration {
	return c.accessTTL
}

// Issue mints a token of the given kind bound to sessionID.
func (c *TokenCodec) Issue(subject Subject, kind models.TokenKind, sessionID string) (*models.Token, error) {
	var ttl time.Duration
	switch kind {
	case models.TokenKindAccess:
		ttl = c.accessTTL
	case models.TokenKindRefresh:
		ttl = c.refreshTTL
	default:
		return nil, fmt.Errorf("unknown token kind %q", kind)
	}
	if subject.AccountID == "" || sessionID == "" {
		return nil, fmt.Errorf("token subject and session are required")
	}

	now := c.now()
	jti := uuid.New().String()
	expiresAt := now.Add(ttl)

	claims := &models.TokenClaims{
		Kind:      kind,
		Email:     subject.Email,
		Role:      subject.Role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject.AccountID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}

	return &models.Token{
		Raw:       raw,
		ID:        jti,
		Kind:      kind,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks signature, expiry, issuer and that the token is of kind want.
func (c *TokenCodec) Verify(raw string, want models.TokenKind) (*models.TokenClaims, error) {
	claims, err := c.VerifyAny(raw)
	if err != nil {
		return nil, err
	}
	if claims.Kind != want {
		return nil, reject(ReasonKindMismatch, fmt.Errorf("expected %s token, got %s", want, claims.Kind))
	}
	return claims, nil
}

// VerifyAny verifies a token of either kind.
func (c *TokenCodec) VerifyAny(raw string) (*models.TokenClaims, error) {
	return c.parse(c.parser, raw)
}

// VerifyForRevocation accepts expired tokens as long as they carry our signature
// and issuer, so a client can still end a session whose access token lapsed.
func (c *TokenCodec) VerifyForRevocation(raw string) (*models.TokenClaims, error) {
	claims, err := c.parse(c.lenient, raw)
	if err != nil {
		return nil, err
	}
	if claims.Issuer != c.issuer {
		return nil, reject(ReasonClaims, fmt.Errorf("unexpected issuer %q", claims.Issuer))
	}
	return claims, nil
}

func (c *TokenCodec) parse(parser *jwt.Parser, raw string) (*models.TokenClaims, error) {
	if raw == "" {
		return nil, reject(ReasonMalformed, nil)
	}

	claims := &models.TokenClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	switch claims.Kind {
	case models.TokenKindAccess, models.TokenKindRefresh:
	default:
		return nil, reject(ReasonClaims, fmt.Errorf("unknown token kind %q", claims.Kind))
	}
	if claims.Subject == "" || claims.ID == "" || claims.SessionID == "" {
		return nil, reject(ReasonClaims, fmt.Errorf("missing required claims"))
	}

	return claims, nil
}

func classifyParseError(err error) *TokenRejection {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return reject(ReasonExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return reject(ReasonMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return reject(ReasonSignature, err)
	default:
		return reject(ReasonClaims, err)
	}
}
