package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	pkgauth "github.com/BradenHooton/mailgate/pkg/auth"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Password  PasswordConfig
	Session   SessionPolicy
	Lockout   LockoutPolicy
	TwoFactor TwoFactorPolicy
	Email     EmailConfig
	Bootstrap BootstrapConfig
}

type ServerConfig struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	Env            string        `env:"ENV" envDefault:"development"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	ReadTimeout    time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout    time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	TrustedProxies []string      `env:"TRUSTED_PROXIES" envSeparator:","`
	AuthRateLimit  int           `env:"AUTH_RATE_LIMIT_PER_MINUTE" envDefault:"10"`
	UserRateLimit  int           `env:"USER_RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	CORSOrigins    []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

type DatabaseConfig struct {
	Driver            string        `env:"STORAGE_DRIVER" envDefault:"postgres"`
	Host              string        `env:"DB_HOST" envDefault:"localhost"`
	Port              int           `env:"DB_PORT" envDefault:"5432"`
	User              string        `env:"DB_USER" envDefault:"postgres"`
	Password          string        `env:"DB_PASSWORD"`
	Name              string        `env:"DB_NAME" envDefault:"mailgate"`
	SSLMode           string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns          int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns          int32         `env:"DB_MIN_CONNS" envDefault:"5"`
	MaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"5m"`
	MaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"1m"`
	HealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
	AutoMigrate       bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

type AuthConfig struct {
	JWTSecret            string        `env:"JWT_SECRET"`
	Issuer               string        `env:"JWT_ISSUER" envDefault:"mailgate"`
	AccessTokenExpiry    time.Duration `env:"ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	RefreshTokenExpiry   time.Duration `env:"REFRESH_TOKEN_EXPIRY" envDefault:"168h"`
	StoreTimeout         time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	BcryptCost           int           `env:"BCRYPT_COST" envDefault:"12"`
	RequireVerifiedEmail bool          `env:"REQUIRE_VERIFIED_EMAIL" envDefault:"true"`
	VerificationTokenTTL time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"24h"`
	ResetTokenTTL        time.Duration `env:"PASSWORD_RESET_TOKEN_TTL" envDefault:"1h"`
	CleanupInterval      time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	SessionRetention     time.Duration `env:"SESSION_RETENTION" envDefault:"720h"`
	TimingDelayBaseMs    int           `env:"TIMING_DELAY_BASE_MS" envDefault:"250"`
	TimingDelayRandomMs  int           `env:"TIMING_DELAY_RANDOM_MS" envDefault:"100"`
	TimingDelayOnSuccess bool          `env:"TIMING_DELAY_ON_SUCCESS" envDefault:"false"`
}

type PasswordConfig struct {
	MinLength      int  `env:"PASSWORD_MIN_LENGTH" envDefault:"12"`
	MaxLength      int  `env:"PASSWORD_MAX_LENGTH" envDefault:"128"`
	RequireUpper   bool `env:"PASSWORD_REQUIRE_UPPER" envDefault:"true"`
	RequireLower   bool `env:"PASSWORD_REQUIRE_LOWER" envDefault:"true"`
	RequireDigit   bool `env:"PASSWORD_REQUIRE_DIGIT" envDefault:"true"`
	RequireSpecial bool `env:"PASSWORD_REQUIRE_SPECIAL" envDefault:"true"`
	PreventReuse   int  `env:"PASSWORD_PREVENT_REUSE" envDefault:"5"`
}

// SessionPolicy bounds how many sessions an account holds and how long they live.
type SessionPolicy struct {
	MaxConcurrent    int           `env:"SESSION_MAX_CONCURRENT" envDefault:"5"`
	IdleTimeout      time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	AbsoluteLifetime time.Duration `env:"SESSION_ABSOLUTE_LIFETIME" envDefault:"168h"`
	RevokeAllOnReuse bool          `env:"SESSION_REVOKE_ALL_ON_REUSE" envDefault:"true"`
}

// LockoutPolicy drives the failed-login state machine.
type LockoutPolicy struct {
	Threshold int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	Duration  time.Duration `env:"LOCKOUT_DURATION" envDefault:"15m"`
}

type TwoFactorPolicy struct {
	EncryptionKey        string        `env:"TOTP_ENCRYPTION_KEY"` // base64, 32 bytes
	Issuer               string        `env:"TOTP_ISSUER" envDefault:"Mailgate"`
	Skew                 uint          `env:"TOTP_SKEW" envDefault:"1"`
	RecoveryCodeCount    int           `env:"RECOVERY_CODE_COUNT" envDefault:"10"`
	ChallengeTTL         time.Duration `env:"TWO_FACTOR_CHALLENGE_TTL" envDefault:"5m"`
	MaxChallengeAttempts int           `env:"TWO_FACTOR_MAX_ATTEMPTS" envDefault:"5"`
}

// Policy converts the env-backed settings into the password policy.
func (p PasswordConfig) Policy() pkgauth.PasswordPolicy {
	return pkgauth.PasswordPolicy{
		MinLength:      p.MinLength,
		MaxLength:      p.MaxLength,
		RequireUpper:   p.RequireUpper,
		RequireLower:   p.RequireLower,
		RequireDigit:   p.RequireDigit,
		RequireSpecial: p.RequireSpecial,
		PreventReuse:   p.PreventReuse,
	}
}

type EmailConfig struct {
	Driver      string `env:"EMAIL_DRIVER" envDefault:"log"`
	AWSRegion   string `env:"AWS_REGION" envDefault:"us-east-1"`
	FromAddress string `env:"EMAIL_FROM_ADDRESS" envDefault:"no-reply@localhost"`
	LinkBaseURL string `env:"EMAIL_LINK_BASE_URL" envDefault:"http://localhost:3000"`
}

// BootstrapConfig names a super_admin to create on startup when none exists.
type BootstrapConfig struct {
	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseEnv fills target from the process environment
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects configurations the service cannot run safely with
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if err := validateJWTSecret(c.Auth.JWTSecret, c.Server.Env); err != nil {
		return err
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case "memory":
		if c.Server.Env == "production" {
			return fmt.Errorf("STORAGE_DRIVER=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Database.Driver)
	}

	switch c.Email.Driver {
	case "ses", "log":
	default:
		return fmt.Errorf("unknown EMAIL_DRIVER %q", c.Email.Driver)
	}

	if _, err := c.TwoFactor.Key(); err != nil {
		return err
	}

	if c.Auth.AccessTokenExpiry <= 0 || c.Auth.RefreshTokenExpiry <= 0 {
		return fmt.Errorf("token expiries must be positive")
	}
	if c.Auth.AccessTokenExpiry >= c.Auth.RefreshTokenExpiry {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRY must be shorter than REFRESH_TOKEN_EXPIRY")
	}
	if c.Auth.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.Lockout.Threshold <= 0 || c.Lockout.Duration <= 0 {
		return fmt.Errorf("LOCKOUT_THRESHOLD and LOCKOUT_DURATION must be positive")
	}
	if c.Session.MaxConcurrent <= 0 {
		return fmt.Errorf("SESSION_MAX_CONCURRENT must be positive")
	}
	if c.Session.AbsoluteLifetime <= 0 || c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session lifetimes must be positive")
	}
	if c.TwoFactor.RecoveryCodeCount <= 0 {
		return fmt.Errorf("RECOVERY_CODE_COUNT must be positive")
	}
	if c.Password.MinLength < 8 {
		return fmt.Errorf("PASSWORD_MIN_LENGTH must be at least 8")
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// Key decodes the TOTP encryption key. It must be 32 bytes for AES-256.
func (p TwoFactorPolicy) Key() ([]byte, error) {
	if p.EncryptionKey == "" {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(p.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the connection string in URL form for database/sql drivers
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}
