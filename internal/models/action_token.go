package models

import (
	"time"
)

// ActionPurpose is what an emailed one-time token authorizes.
type ActionPurpose string

const (
	PurposeEmailVerification ActionPurpose = "email_verification"
	PurposePasswordReset     ActionPurpose = "password_reset"
)

// ActionToken is a hashed, expiring, single-use token delivered by e-mail.
type ActionToken struct {
	ID        string
	AccountID string
	Purpose   ActionPurpose
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (t *ActionToken) IsValid(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
