package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/mailgate/internal/auth"
	"github.com/BradenHooton/mailgate/internal/config"
	"github.com/BradenHooton/mailgate/internal/models"
	pkgauth "github.com/BradenHooton/mailgate/pkg/auth"
	pkglogger "github.com/BradenHooton/mailgate/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// AuthDependencies are the collaborators of AuthService.
type AuthDependencies struct {
	Accounts     AccountRepository
	TwoFactor    TwoFactorRepository
	ActionTokens ActionTokenRepository
	Sessions     *SessionService
	Lockout      *LockoutService
	Events       *SecurityEventService
	Codec        *auth.TokenCodec
	TOTP         *auth.TOTPManager
	Hasher       *pkgauth.Hasher
	Notifier     Notifier
	Timing       *auth.TimingDelay
	Logger       *slog.Logger
}

// AuthPolicy is the configuration AuthService enforces.
type AuthPolicy struct {
	Password             pkgauth.PasswordPolicy
	TwoFactor            config.TwoFactorPolicy
	RequireVerifiedEmail bool
	VerificationTokenTTL time.Duration
	ResetTokenTTL        time.Duration
	StoreTimeout         time.Duration
	Env                  string
}

// AuthService orchestrates registration, login, second factor, refresh and logout
// over the token codec, session registry, lockout guard and security event log.
type AuthService struct {
	accounts     AccountRepository
	twoFactor    TwoFactorRepository
	actionTokens ActionTokenRepository
	sessions     *SessionService
	lockout      *LockoutService
	events       *SecurityEventService
	codec        *auth.TokenCodec
	totp         *auth.TOTPManager
	hasher       *pkgauth.Hasher
	notifier     Notifier
	timing       *auth.TimingDelay
	logger       *slog.Logger
	policy       AuthPolicy
	now          func() time.Time
}

func NewAuthService(deps AuthDependencies, policy AuthPolicy, now func() time.Time) *AuthService {
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		accounts:     deps.Accounts,
		twoFactor:    deps.TwoFactor,
		actionTokens: deps.ActionTokens,
		sessions:     deps.Sessions,
		lockout:      deps.Lockout,
		events:       deps.Events,
		codec:        deps.Codec,
		totp:         deps.TOTP,
		hasher:       deps.Hasher,
		notifier:     deps.Notifier,
		timing:       deps.Timing,
		logger:       deps.Logger,
		policy:       policy,
		now:          now,
	}
}

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
	Device   models.DeviceMeta
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateInput maps the first validator failure onto a ValidationError.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return models.NewValidationError(field, "is required")
		case "email":
			return models.NewValidationError(field, "must be a valid email address")
		case "max":
			return models.NewValidationError(field, "must be at most "+fe.Param()+" characters")
		default:
			return models.NewValidationError(field, "is invalid")
		}
	}
	return models.NewValidationError("request", err.Error())
}

func passwordError(err error) error {
	var pve *pkgauth.PasswordValidationError
	if errors.As(err, &pve) {
		return models.NewValidationError("password", pve.Error())
	}
	if errors.Is(err, pkgauth.ErrPasswordReused) {
		return models.NewValidationError("password", err.Error())
	}
	return err
}

func (s *AuthService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return boundedContext(ctx, s.policy.StoreTimeout)
}

func (s *AuthService) loadAccount(ctx context.Context, id string) (*models.Account, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, storeError("find account", err)
	}
	return account, nil
}

// Register creates an unverified account with the default role and sends a
// verification message. Delivery failures never fail registration.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta models.DeviceMeta) (*models.Profile, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.policy.Password.Validate(in.Password); err != nil {
		return nil, passwordError(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, internalError("hash password", err)
	}

	now := s.now()
	storeCtx, cancel := s.bounded(ctx)
	account, err := s.accounts.Create(storeCtx, &models.Account{
		Email:        in.Email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Active:       true,
		CreatedAt:    now,
	})
	cancel()
	switch {
	case errors.Is(err, models.ErrConflict):
		return nil, models.ErrConflict
	case err != nil:
		return nil, internalError("create account", storeError("create account", err))
	}

	s.logger.InfoContext(ctx, "account registered",
		slog.String("account_id", account.ID),
		pkglogger.EmailAttr(account.Email, s.policy.Env))

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: account.ID,
		Kind:      models.EventAccountCreated,
		Details:   models.EventDetails{"role": string(account.Role)},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	s.sendVerification(ctx, account, meta)
	return account.ToProfile(), nil
}

// Login verifies credentials. Unknown e-mail, wrong password and a locked
// account are indistinguishable by error for the first two, and the locked
// case never evaluates the password.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*models.LoginResult, error) {
	start := time.Now()
	in.Email = normalizeEmail(in.Email)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	meta := in.Device

	fail := func(err error) (*models.LoginResult, error) {
		s.timing.WaitFrom(ctx, start, false)
		return nil, err
	}

	storeCtx, cancel := s.bounded(ctx)
	account, err := s.accounts.FindByEmail(storeCtx, in.Email)
	cancel()
	if errors.Is(err, models.ErrNotFound) {
		s.hasher.CompareDummy(in.Password)
		s.events.Record(ctx, models.SecurityEventInput{
			Kind:      models.EventLoginFailure,
			Details:   models.EventDetails{"reason": "unknown_account", "email": pkglogger.MaskEmail(in.Email)},
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		})
		return fail(models.ErrInvalidCredentials)
	}
	if err != nil {
		return fail(internalError("find account", storeError("find account", err)))
	}

	if err := s.lockout.Check(ctx, account, meta); err != nil {
		var locked *models.LockedError
		if errors.As(err, &locked) {
			s.events.Record(ctx, models.SecurityEventInput{
				AccountID: account.ID,
				Kind:      models.EventLoginFailure,
				Details: models.EventDetails{
					"reason":            "account_locked",
					"remaining_seconds": int(locked.Remaining.Seconds()),
				},
				IPAddress: meta.IPAddress,
				UserAgent: meta.UserAgent,
			})
			return fail(locked)
		}
		return fail(internalError("check lockout", err))
	}

	if !s.hasher.Compare(account.PasswordHash, in.Password) {
		if _, err := s.lockout.RegisterFailure(ctx, account, meta, "invalid_password"); err != nil {
			return fail(internalError("register failure", err))
		}
		return fail(models.ErrInvalidCredentials)
	}

	// the password was right; these are only revealed to its holder
	if !account.Active {
		s.recordLoginRefusal(ctx, account, meta, "account_inactive")
		return fail(models.ErrAccountInactive)
	}
	if s.policy.RequireVerifiedEmail && !account.EmailVerified {
		s.recordLoginRefusal(ctx, account, meta, "email_not_verified")
		return fail(models.ErrEmailNotVerified)
	}

	if account.TwoFactorEnabled {
		challenge, err := s.openChallenge(ctx, account, meta)
		if err != nil {
			return fail(err)
		}
		return &models.LoginResult{Challenge: challenge}, nil
	}

	result, err := s.completeLogin(ctx, account, meta, models.EventDetails{"method": "password"})
	if err != nil {
		return fail(err)
	}
	s.timing.WaitFrom(ctx, start, true)
	return &models.LoginResult{Auth: result}, nil
}

func (s *AuthService) recordLoginRefusal(ctx context.Context, account *models.Account, meta models.DeviceMeta, reason string) {
	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: account.ID,
		Kind:      models.EventLoginFailure,
		Details:   models.EventDetails{"reason": reason},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}

func (s *AuthService) openChallenge(ctx context.Context, account *models.Account, meta models.DeviceMeta) (*models.TwoFactorChallenge, error) {
	now := s.now()
	challenge := &models.TwoFactorChallenge{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		UserAgent: meta.UserAgent,
		Platform:  meta.Platform,
		IPAddress: meta.IPAddress,
		ExpiresAt: now.Add(s.policy.TwoFactor.ChallengeTTL),
		CreatedAt: now,
	}

	storeCtx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.twoFactor.CreateChallenge(storeCtx, challenge); err != nil {
		return nil, internalError("create challenge", storeError("create challenge", err))
	}

	s.logger.InfoContext(ctx, "password accepted, awaiting second factor",
		slog.String("account_id", account.ID),
		slog.String("challenge_id", challenge.ID))
	return challenge, nil
}

// completeLogin is the single place a successful authentication turns into a session.
func (s *AuthService) completeLogin(ctx context.Context, account *models.Account, meta models.DeviceMeta, details models.EventDetails) (*models.AuthResult, error) {
	if err := s.lockout.RegisterSuccess(ctx, account); err != nil {
		var locked *models.LockedError
		if errors.As(err, &locked) {
			// failures from other attempts engaged the lockout while this one was in flight
			s.recordLoginRefusal(ctx, account, meta, "account_locked")
			return nil, locked
		}
		return nil, internalError("reset lockout", err)
	}

	sessionID := uuid.New().String()
	tokens, refresh, err := s.issueTokens(account, sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.Create(ctx, sessionID, account.ID, meta, refresh.ID); err != nil {
		return nil, internalError("create session", err)
	}

	details["session_id"] = sessionID
	details["platform"] = meta.Platform
	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: account.ID,
		Kind:      models.EventLoginSuccess,
		Details:   details,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	s.logger.InfoContext(ctx, "account logged in",
		slog.String("account_id", account.ID),
		slog.String("session_id", sessionID))

	return &models.AuthResult{Profile: account.ToProfile(), Tokens: tokens}, nil
}

func (s *AuthService) issueTokens(account *models.Account, sessionID string) (*models.Tokens, *models.Token, error) {
	subject := auth.Subject{AccountID: account.ID, Email: account.Email, Role: account.Role}

	refresh, err := s.codec.Issue(subject, models.TokenKindRefresh, sessionID)
	if err != nil {
		return nil, nil, internalError("issue refresh token", err)
	}
	access, err := s.codec.Issue(subject, models.TokenKindAccess, sessionID)
	if err != nil {
		return nil, nil, internalError("issue access token", err)
	}

	return &models.Tokens{
		AccessToken:  access.Raw,
		RefreshToken: refresh.Raw,
		TokenType:    models.TokenType,
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
	}, refresh, nil
}

// CompleteTwoFactor finishes a login that stopped at the second factor.
// code may be a TOTP code or a recovery code.
func (s *AuthService) CompleteTwoFactor(ctx context.Context, challengeID, code string, meta models.DeviceMeta) (*models.AuthResult, error) {
	start := time.Now()
	fail := func(err error) (*models.AuthResult, error) {
		s.timing.WaitFrom(ctx, start, false)
		return nil, err
	}

	if challengeID == "" || strings.TrimSpace(code) == "" {
		return nil, models.NewValidationError("code", "challenge and code are required")
	}

	storeCtx, cancel := s.bounded(ctx)
	challenge, err := s.twoFactor.FindChallenge(storeCtx, challengeID)
	cancel()
	if errors.Is(err, models.ErrNotFound) {
		return fail(models.ErrTwoFactorInvalid)
	}
	if err != nil {
		return fail(internalError("find challenge", storeError("find challenge", err)))
	}
	if !challenge.IsOpen(s.now(), s.policy.TwoFactor.MaxChallengeAttempts) {
		return fail(models.ErrTwoFactorInvalid)
	}

	account, err := s.loadAccount(ctx, challenge.AccountID)
	if err != nil {
		return fail(internalError("find account", err))
	}
	if !account.Active {
		return fail(models.ErrAccountInactive)
	}
	if err := s.lockout.Check(ctx, account, meta); err != nil {
		if errors.Is(err, models.ErrAccountLocked) {
			return fail(err)
		}
		return fail(internalError("check lockout", err))
	}

	method, ok, err := s.verifySecondFactor(ctx, account, code)
	if err != nil {
		return fail(err)
	}
	if !ok {
		storeCtx, cancel := s.bounded(ctx)
		if _, err := s.twoFactor.IncrementChallengeAttempts(storeCtx, challengeID); err != nil {
			s.logger.WarnContext(ctx, "failed to count challenge attempt",
				slog.String("challenge_id", challengeID),
				slog.Any("error", err))
		}
		cancel()
		if _, err := s.lockout.RegisterFailure(ctx, account, meta, "invalid_second_factor"); err != nil {
			return fail(internalError("register failure", err))
		}
		return fail(models.ErrTwoFactorInvalid)
	}

	storeCtx, cancel = s.bounded(ctx)
	consumed, err := s.twoFactor.ConsumeChallenge(storeCtx, challengeID, s.now())
	cancel()
	if err != nil {
		return fail(internalError("consume challenge", storeError("consume challenge", err)))
	}
	if !consumed {
		return fail(models.ErrTwoFactorInvalid)
	}

	return s.completeLogin(ctx, account, meta, models.EventDetails{"method": method})
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// single use: presenting it again is treated as theft of the session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta models.DeviceMeta) (*models.Tokens, error) {
	claims, err := s.codec.Verify(refreshToken, models.TokenKindRefresh)
	if err != nil {
		if errors.Is(err, models.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, models.ErrTokenInvalid
	}

	session, err := s.sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrTokenInvalid
	}
	if err != nil {
		return nil, internalError("find session", err)
	}
	if session.AccountID != claims.AccountID() || !s.sessions.IsLive(session) {
		return nil, models.ErrTokenInvalid
	}
	if session.RefreshTokenID != claims.ID {
		s.handleRefreshReuse(ctx, session, claims, meta)
		return nil, models.ErrTokenInvalid
	}

	account, err := s.loadAccount(ctx, session.AccountID)
	if err != nil {
		return nil, internalError("find account", err)
	}
	if !account.Active {
		if _, err := s.sessions.Revoke(ctx, session.ID, models.RevokeReasonAdmin); err != nil {
			s.logger.WarnContext(ctx, "failed to revoke session of inactive account", slog.Any("error", err))
		}
		return nil, models.ErrAccountInactive
	}

	tokens, refresh, err := s.issueTokens(account, session.ID)
	if err != nil {
		return nil, err
	}

	rotated, err := s.sessions.Rotate(ctx, session.ID, claims.ID, refresh.ID)
	if err != nil {
		return nil, internalError("rotate refresh token", err)
	}
	if !rotated {
		// lost the race against another presenter of the same token
		s.handleRefreshReuse(ctx, session, claims, meta)
		return nil, models.ErrTokenInvalid
	}

	return tokens, nil
}

func (s *AuthService) handleRefreshReuse(ctx context.Context, session *models.Session, claims *models.TokenClaims, meta models.DeviceMeta) {
	revokeAll := s.sessions.Policy().RevokeAllOnReuse

	s.logger.WarnContext(ctx, "refresh token reuse detected",
		slog.String("account_id", session.AccountID),
		slog.String("session_id", session.ID),
		slog.Bool("revoke_all", revokeAll))

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: session.AccountID,
		Kind:      models.EventSuspiciousLoginAttempt,
		Details: models.EventDetails{
			"reason":     models.RevokeReasonTokenReuse,
			"session_id": session.ID,
			"token_id":   claims.ID,
			"revoke_all": revokeAll,
		},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	if revokeAll {
		if _, err := s.sessions.RevokeAll(ctx, session.AccountID, models.RevokeReasonTokenReuse); err != nil {
			s.logger.ErrorContext(ctx, "failed to revoke sessions after token reuse", slog.Any("error", err))
		}
		return
	}
	if _, err := s.sessions.Revoke(ctx, session.ID, models.RevokeReasonTokenReuse); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke session after token reuse", slog.Any("error", err))
	}
}

// Logout ends the session a token belongs to, or every session of the account.
// It succeeds even when the session is already gone.
func (s *AuthService) Logout(ctx context.Context, token string, allDevices bool, meta models.DeviceMeta) error {
	claims, err := s.codec.VerifyForRevocation(token)
	if err != nil {
		return models.ErrTokenInvalid
	}

	session, err := s.sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return internalError("find session", err)
	}
	if session.AccountID != claims.AccountID() {
		return models.ErrTokenInvalid
	}

	details := models.EventDetails{"session_id": session.ID}
	if allDevices {
		n, err := s.sessions.RevokeAll(ctx, session.AccountID, models.RevokeReasonLogoutAll)
		if err != nil {
			return internalError("revoke sessions", err)
		}
		details["reason"] = models.RevokeReasonLogoutAll
		details["revoked"] = n
	} else {
		revoked, err := s.sessions.Revoke(ctx, session.ID, models.RevokeReasonLogout)
		if err != nil {
			return internalError("revoke session", err)
		}
		details["reason"] = models.RevokeReasonLogout
		details["already_inactive"] = !revoked
	}

	s.events.Record(ctx, models.SecurityEventInput{
		AccountID: session.AccountID,
		Kind:      models.EventSessionTerminated,
		Details:   details,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// GetProfile returns the sanitized account.
func (s *AuthService) GetProfile(ctx context.Context, accountID string) (*models.Profile, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, internalError("find account", err)
	}
	return account.ToProfile(), nil
}
