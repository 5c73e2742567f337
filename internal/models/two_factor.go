package models

import (
	"time"
)

// TwoFactorChallenge is the intermediate state between password and second factor.
// It never carries tokens and never creates a session by itself.
type TwoFactorChallenge struct {
	ID         string     `json:"challenge_id"`
	AccountID  string     `json:"-"`
	UserAgent  string     `json:"-"`
	Platform   string     `json:"-"`
	IPAddress  string     `json:"-"`
	Attempts   int        `json:"-"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"-"`
	CreatedAt  time.Time  `json:"-"`
}

// IsOpen reports whether the challenge may still be completed.
func (c *TwoFactorChallenge) IsOpen(now time.Time, maxAttempts int) bool {
	if c.ConsumedAt != nil {
		return false
	}
	if !now.Before(c.ExpiresAt) {
		return false
	}
	return maxAttempts <= 0 || c.Attempts < maxAttempts
}

// RecoveryCode is a single-use second factor, stored hashed.
type RecoveryCode struct {
	ID        string
	AccountID string
	CodeHash  string
	UsedAt    *time.Time
	CreatedAt time.Time
}

// TwoFactorEnrollment is returned when a pending secret is generated.
type TwoFactorEnrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"` // PNG data URL
}

// ReauthInput proves the caller still holds a credential.
// Exactly one of Password or Code is expected.
type ReauthInput struct {
	Password string
	Code     string
}
