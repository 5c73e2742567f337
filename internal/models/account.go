package models

import (
	"time"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleDomainAdmin Role = "domain_admin"
	RoleUser        Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleDomainAdmin, RoleUser:
		return true
	}
	return false
}

// IsAdmin reports whether r grants access to administrative operations.
func (r Role) IsAdmin() bool {
	switch r {
	case RoleSuperAdmin, RoleDomainAdmin:
		return true
	case RoleUser:
		return false
	}
	return false
}

type Account struct {
	ID                string
	Email             string
	PasswordHash      string
	Role              Role
	Active            bool
	EmailVerified     bool
	FailedLoginCount  int
	LockoutUntil      *time.Time
	TwoFactorSecret   []byte // AES-GCM ciphertext
	TwoFactorNonce    []byte
	TwoFactorEnabled  bool
	TwoFactorLastStep int64 // last accepted TOTP time step
	PasswordChangedAt *time.Time
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsLocked reports whether the lockout window is still open at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockoutUntil != nil && now.Before(*a.LockoutUntil)
}

// HasPendingTwoFactor reports whether a secret was generated but not yet confirmed.
func (a *Account) HasPendingTwoFactor() bool {
	return !a.TwoFactorEnabled && len(a.TwoFactorSecret) > 0
}

// Profile is the sanitized view of an account returned to callers.
type Profile struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Role             Role      `json:"role"`
	Active           bool      `json:"active"`
	EmailVerified    bool      `json:"email_verified"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ToProfile strips credentials and secrets from an account.
func (a *Account) ToProfile() *Profile {
	return &Profile{
		ID:               a.ID,
		Email:            a.Email,
		Role:             a.Role,
		Active:           a.Active,
		EmailVerified:    a.EmailVerified,
		TwoFactorEnabled: a.TwoFactorEnabled,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// PasswordHistoryEntry is a previous password hash kept for reuse checks.
type PasswordHistoryEntry struct {
	AccountID    string
	PasswordHash string
	CreatedAt    time.Time
}
