package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/mailgate/internal/auth"
	"github.com/BradenHooton/mailgate/internal/config"
	"github.com/BradenHooton/mailgate/internal/models"
	"github.com/BradenHooton/mailgate/internal/repositories/memory"
	pkgauth "github.com/BradenHooton/mailgate/pkg/auth"
	pkglogger "github.com/BradenHooton/mailgate/pkg/logger"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword    = "Correct-Horse-42!"
	testNewPassword = "Battery-Staple-77?"
	testJWTSecret   = "test-secret-that-is-long-enough-for-hs256-signing"
)

var testDevice = models.DeviceMeta{UserAgent: "test-agent/1.0", Platform: "linux", IPAddress: "192.0.2.10"}

// testClock is a settable clock shared by every component of a harness.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentMessage struct {
	Kind      models.MessageKind
	AccountID string
	Payload   map[string]string
}

// MockNotifier records messages instead of sending them
type MockNotifier struct {
	mu   sync.Mutex
	Sent []sentMessage
	Err  error
}

func (m *MockNotifier) SendTransactionalMessage(_ context.Context, kind models.MessageKind, account *models.Account, payload map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, sentMessage{Kind: kind, AccountID: account.ID, Payload: payload})
	return nil
}

// Last returns the most recent message of kind, or nil.
func (m *MockNotifier) Last(kind models.MessageKind) *sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Sent) - 1; i >= 0; i-- {
		if m.Sent[i].Kind == kind {
			msg := m.Sent[i]
			return &msg
		}
	}
	return nil
}

// FailingEventRepository rejects every write but still answers reads
type FailingEventRepository struct {
	SecurityEventRepository
}

func (FailingEventRepository) Create(context.Context, *models.SecurityEvent) error {
	return errors.New("event store unavailable")
}

type harnessOptions struct {
	session         config.SessionPolicy
	lockout         config.LockoutPolicy
	requireVerified bool
	failEvents      bool
}

type harnessOption func(*harnessOptions)

func withSessionPolicy(p config.SessionPolicy) harnessOption {
	return func(o *harnessOptions) { o.session = p }
}

func withLockoutPolicy(p config.LockoutPolicy) harnessOption {
	return func(o *harnessOptions) { o.lockout = p }
}

func withoutVerifiedEmail() harnessOption {
	return func(o *harnessOptions) { o.requireVerified = false }
}

func withFailingEventStore() harnessOption {
	return func(o *harnessOptions) { o.failEvents = true }
}

type testHarness struct {
	svc      *AuthService
	store    *memory.Store
	events   *SecurityEventService
	sessions *SessionService
	lockout  *LockoutService
	codec    *auth.TokenCodec
	totp     *auth.TOTPManager
	clock    *testClock
	notifier *MockNotifier
}

// newTestHarness wires the auth core over the in-memory store.
func newTestHarness(t *testing.T, opts ...harnessOption) *testHarness {
	t.Helper()

	o := harnessOptions{
		session: config.SessionPolicy{
			MaxConcurrent:    5,
			IdleTimeout:      30 * time.Minute,
			AbsoluteLifetime: 7 * 24 * time.Hour,
			RevokeAllOnReuse: true,
		},
		lockout:         config.LockoutPolicy{Threshold: 3, Duration: 15 * time.Minute},
		requireVerified: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	clock := newTestClock()
	logger := slog.New(slog.DiscardHandler)
	store := memory.NewStore()

	var eventRepo SecurityEventRepository = store.SecurityEvents()
	if o.failEvents {
		eventRepo = FailingEventRepository{SecurityEventRepository: store.SecurityEvents()}
	}

	events := NewSecurityEventService(eventRepo, pkglogger.NewAuditLogger(logger), logger, time.Second, clock.Now)
	sessions := NewSessionService(store.Sessions(), events, o.session, logger, time.Second, clock.Now)
	lockout := NewLockoutService(store.Accounts(), events, o.lockout, logger, time.Second, clock.Now)

	codec, err := auth.NewTokenCodec(testJWTSecret, "mailgate-test", 15*time.Minute, 24*time.Hour, clock.Now)
	require.NoError(t, err)
	totp, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "Mailgate", 1, clock.Now)
	require.NoError(t, err)
	hasher, err := pkgauth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	notifier := &MockNotifier{}
	svc := NewAuthService(AuthDependencies{
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
	}, AuthPolicy{
		Password: pkgauth.DefaultPasswordPolicy(),
		TwoFactor: config.TwoFactorPolicy{
			RecoveryCodeCount:    10,
			ChallengeTTL:         5 * time.Minute,
			MaxChallengeAttempts: 3,
		},
		RequireVerifiedEmail: o.requireVerified,
		VerificationTokenTTL: 24 * time.Hour,
		ResetTokenTTL:        time.Hour,
		StoreTimeout:         time.Second,
		Env:                  "test",
	}, clock.Now)

	return &testHarness{
		svc:      svc,
		store:    store,
		events:   events,
		sessions: sessions,
		lockout:  lockout,
		codec:    codec,
		totp:     totp,
		clock:    clock,
		notifier: notifier,
	}
}

// registerVerified registers email and follows the verification link.
func (h *testHarness) registerVerified(t *testing.T, email string) *models.Profile {
	t.Helper()
	ctx := context.Background()

	profile, err := h.svc.Register(ctx, RegisterInput{Email: email, Password: testPassword}, testDevice)
	require.NoError(t, err)

	msg := h.notifier.Last(models.MessageEmailVerification)
	require.NotNil(t, msg)
	require.NoError(t, h.svc.VerifyEmail(ctx, msg.Payload[models.PayloadToken], testDevice))
	return profile
}

func (h *testHarness) login(t *testing.T, email string) *models.AuthResult {
	t.Helper()
	result, err := h.svc.Login(context.Background(), LoginInput{Email: email, Password: testPassword, Device: testDevice})
	require.NoError(t, err)
	require.NotNil(t, result.Auth)
	return result.Auth
}

// eventsOf returns persisted events of kind for accountID, newest first.
func (h *testHarness) eventsOf(t *testing.T, accountID string, kind models.EventKind) []*models.SecurityEvent {
	t.Helper()
	events, err := h.store.SecurityEvents().Query(context.Background(), models.EventFilter{
		AccountID: accountID,
		Kinds:     []models.EventKind{kind},
		Limit:     models.MaxEventPageSize,
	})
	require.NoError(t, err)
	return events
}

// enableTwoFactor runs setup and confirmation and returns the plaintext
// secret and recovery codes. The clock moves past the confirming step.
func (h *testHarness) enableTwoFactor(t *testing.T, accountID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := h.svc.BeginTwoFactorSetup(ctx, accountID)
	require.NoError(t, err)

	code, err := h.totp.CodeAt(enrollment.Secret, h.clock.Now())
	require.NoError(t, err)
	codes, err := h.svc.EnableTwoFactor(ctx, accountID, code, testDevice)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)
	return enrollment.Secret, codes
}

func (h *testHarness) currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := h.totp.CodeAt(secret, h.clock.Now())
	require.NoError(t, err)
	return code
}
