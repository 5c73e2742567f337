package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/mailgate/internal/auth"
	"github.com/BradenHooton/mailgate/internal/background"
	"github.com/BradenHooton/mailgate/internal/config"
	"github.com/BradenHooton/mailgate/internal/database"
	"github.com/BradenHooton/mailgate/internal/handlers"
	middlewareCustom "github.com/BradenHooton/mailgate/internal/middleware"
	"github.com/BradenHooton/mailgate/internal/notify"
	"github.com/BradenHooton/mailgate/internal/repositories"
	"github.com/BradenHooton/mailgate/internal/repositories/memory"
	"github.com/BradenHooton/mailgate/internal/routes"
	"github.com/BradenHooton/mailgate/internal/services"
	pkgauth "github.com/BradenHooton/mailgate/pkg/auth"
	pkghttp "github.com/BradenHooton/mailgate/pkg/http"
	pkglogger "github.com/BradenHooton/mailgate/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("storage", cfg.Database.Driver),
		slog.String("email", cfg.Email.Driver))

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// storage is the set of repositories behind the auth core.
type storage struct {
	accounts  services.AccountRepository
	sessions  services.SessionRepository
	events    services.SecurityEventRepository
	twoFactor services.TwoFactorRepository
	tokens    services.ActionTokenRepository
	health    handlers.HealthChecker
	close     func()
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory storage; all state is lost on restart")
		store := memory.NewStore()
		return &storage{
			accounts:  store.Accounts(),
			sessions:  store.Sessions(),
			events:    store.SecurityEvents(),
			twoFactor: store.TwoFactor(),
			tokens:    store.ActionTokens(),
			close:     func() {},
		}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, cfg.Database.URL(), logger); err != nil {
			return nil, err
		}
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &storage{
		accounts:  repositories.NewAccountRepository(db.Pool),
		sessions:  repositories.NewSessionRepository(db.Pool),
		events:    repositories.NewSecurityEventRepository(db.Pool),
		twoFactor: repositories.NewTwoFactorRepository(db.Pool),
		tokens:    repositories.NewActionTokenRepository(db.Pool),
		health:    db,
		close:     db.Close,
	}, nil
}

func newNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.Notifier, error) {
	if cfg.Email.Driver == "ses" {
		return notify.NewSESSender(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.LinkBaseURL, cfg.Server.Env, logger)
	}
	logger.Warn("email delivery disabled; messages are only logged")
	return notify.NewLogSender(cfg.Email.LinkBaseURL, cfg.Server.Env, logger), nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.close()

	notifier, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize email: %w", err)
	}

	// Token codec and TOTP
	codec, err := auth.NewTokenCodec(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry, nil)
	if err != nil {
		return fmt.Errorf("initialize token codec: %w", err)
	}
	totpKey, err := cfg.TwoFactor.Key()
	if err != nil {
		return err
	}
	totp, err := auth.NewTOTPManager(totpKey, cfg.TwoFactor.Issuer, cfg.TwoFactor.Skew, nil)
	if err != nil {
		return fmt.Errorf("initialize totp: %w", err)
	}
	hasher, err := pkgauth.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("initialize hasher: %w", err)
	}

	// Security event log, session registry and lockout guard
	timeout := cfg.Auth.StoreTimeout
	events := services.NewSecurityEventService(store.events, pkglogger.NewAuditLogger(logger), logger, timeout, nil)
	sessions := services.NewSessionService(store.sessions, events, cfg.Session, logger, timeout, nil)
	lockout := services.NewLockoutService(store.accounts, events, cfg.Lockout, logger, timeout, nil)

	authService := services.NewAuthService(services.AuthDependencies{
		Accounts:     store.accounts,
		TwoFactor:    store.twoFactor,
		ActionTokens: store.tokens,
		Sessions:     sessions,
		Lockout:      lockout,
		Events:       events,
		Codec:        codec,
		TOTP:         totp,
		Hasher:       hasher,
		Notifier:     notifier,
		Timing: auth.NewTimingDelay(auth.TimingConfig{
			BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
			RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
			DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
		}),
		Logger: logger,
	}, services.AuthPolicy{
		Password:             cfg.Password.Policy(),
		TwoFactor:            cfg.TwoFactor,
		RequireVerifiedEmail: cfg.Auth.RequireVerifiedEmail,
		VerificationTokenTTL: cfg.Auth.VerificationTokenTTL,
		ResetTokenTTL:        cfg.Auth.ResetTokenTTL,
		StoreTimeout:         timeout,
		Env:                  cfg.Server.Env,
	}, nil)

	// Bootstrap first super admin if configured
	if cfg.Bootstrap.AdminEmail != "" && cfg.Bootstrap.AdminPassword != "" {
		created, err := authService.EnsureSuperAdmin(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword)
		if err != nil {
			logger.Error("failed to ensure super admin", slog.Any("error", err))
		} else if !created {
			logger.Info("super admin already exists")
		}
	}

	// Handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig, logger)
	adminHandler := handlers.NewAdminHandler(authService, logger)
	healthHandler := handlers.NewHealthHandler(store.health)

	// Setup router. Client IPs come from pkghttp.ExtractClientIP, so chi's
	// RealIP is not installed.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.CORSOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, adminHandler, healthHandler,
		codec, sessions, store.accounts,
		middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.AuthRateLimit, IPConfig: ipConfig},
		middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.UserRateLimit, IPConfig: ipConfig},
		logger,
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(sessions, store.twoFactor, store.tokens, logger,
		cfg.Auth.CleanupInterval, cfg.Auth.SessionRetention)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped gracefully",
		slog.Uint64("failed_event_writes", events.FailedWrites()))
	return nil
}
