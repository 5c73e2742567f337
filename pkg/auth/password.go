package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost          = 14
	OpaqueTokenLength   = 32 // 256 bits
	DefaultMinLength    = 12
	DefaultMaxLength    = 128
	DefaultPreventReuse = 5
)

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	return "password does not meet policy: " + strings.Join(e.Errors, "; ")
}

// ErrPasswordReused is returned when a new password matches a recent one.
var ErrPasswordReused = errors.New("password was used recently")

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password":         true,
	"12345678":         true,
	"qwerty":           true,
	"abc123":           true,
	"password123":      true,
	"password123!":     true,
	"123456":           true,
	"admin":            true,
	"letmein":          true,
	"welcome":          true,
	"monkey":           true,
	"dragon":           true,
	"master":           true,
	"123123":           true,
	"passw0rd":         true,
	"shadow":           true,
	"sunshine":         true,
	"princess":         true,
	"starwars":         true,
	"football":         true,
	"trustno1":         true,
	"administrator1!":  true,
	"mailadmin123!":    true,
	"postmaster123!":   true,
	"welcome123!":      true,
	"changeme123!":     true,
	"qwerty123456!":    true,
	"p@ssword123":      true,
	"p@ssw0rd123":      true,
	"letmein12345!":    true,
	"superadmin123!":   true,
	"mailserver2024!":  true,
	"passwordpassword": true,
}

// PasswordPolicy describes what a new password must satisfy.
type PasswordPolicy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
	PreventReuse   int // number of previous hashes a new password is checked against
}

// DefaultPasswordPolicy mirrors the platform defaults.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:      DefaultMinLength,
		MaxLength:      DefaultMaxLength,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
		PreventReuse:   DefaultPreventReuse,
	}
}

// Validate enforces the policy's composition rules. Reuse is checked separately
// because it needs the stored history.
func (p PasswordPolicy) Validate(password string) error {
	errs := make([]string, 0)

	length := len([]rune(password))
	if length < p.MinLength {
		errs = append(errs, fmt.Sprintf("must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && length > p.MaxLength {
		errs = append(errs, fmt.Sprintf("must be at most %d characters", p.MaxLength))
	}
	// bcrypt silently truncates past 72 bytes
	if len(password) > 72 {
		errs = append(errs, "must be at most 72 bytes")
	}

	hasUpper := false
	hasLower := false
	hasDigit := false
	hasSpecial := false

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if p.RequireUpper && !hasUpper {
		errs = append(errs, "must contain at least one uppercase letter")
	}
	if p.RequireLower && !hasLower {
		errs = append(errs, "must contain at least one lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		errs = append(errs, "must contain at least one digit")
	}
	if p.RequireSpecial && !hasSpecial {
		errs = append(errs, "must contain at least one special character")
	}

	if commonPasswords[strings.ToLower(password)] {
		errs = append(errs, "is too common")
	}

	if len(errs) > 0 {
		return &PasswordValidationError{Errors: errs}
	}
	return nil
}

// Hasher hashes and compares passwords with a fixed bcrypt cost.
type Hasher struct {
	cost      int
	dummyHash []byte
}

// NewHasher precomputes a dummy hash at the same cost so that comparisons
// against unknown accounts take as long as real ones.
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}

	seed := make([]byte, 24)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to seed dummy hash: %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(base64.RawStdEncoding.EncodeToString(seed)), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dummy hash: %w", err)
	}

	return &Hasher{cost: cost, dummyHash: dummy}, nil
}

func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// Compare reports whether password matches hash.
func (h *Hasher) Compare(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CompareDummy burns the same work as Compare and always fails.
func (h *Hasher) CompareDummy(password string) bool {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
	return false
}

// MatchesAny reports whether password matches any of the given hashes.
func (h *Hasher) MatchesAny(hashes []string, password string) bool {
	for _, hash := range hashes {
		if h.Compare(hash, password) {
			return true
		}
	}
	return false
}

// GenerateOpaqueToken returns a URL-safe random token for e-mailed links.
func GenerateOpaqueToken() (string, error) {
	bytes := make([]byte, OpaqueTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// HashOpaqueToken returns the hex SHA-256 of token; only the hash is stored.
func HashOpaqueToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two hex digests without early exit.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
