package models

import (
	"time"
)

// Session revocation reasons
const (
	RevokeReasonLogout       = "logout"
	RevokeReasonLogoutAll    = "logout_all"
	RevokeReasonSessionLimit = "session_limit"
	RevokeReasonExpired      = "expired"
	RevokeReasonTokenReuse   = "refresh_token_reuse"
	RevokeReasonPasswordSet  = "password_changed"
	RevokeReasonAdmin        = "admin"
)

// DeviceMeta describes the client a session was opened from.
type DeviceMeta struct {
	UserAgent string
	Platform  string
	IPAddress string
}

type Session struct {
	ID             string
	AccountID      string
	RefreshTokenID string // jti of the one live refresh token
	UserAgent      string
	Platform       string
	IPAddress      string
	Active         bool
	LastAccessAt   time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	RevokeReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLive reports whether the session is usable at now given the idle timeout.
// Hard expiry and inactivity are both enforced; whichever elapses first wins.
func (s *Session) IsLive(now time.Time, idleTimeout time.Duration) bool {
	if !s.Active {
		return false
	}
	if !now.Before(s.ExpiresAt) {
		return false
	}
	if idleTimeout > 0 && !now.Before(s.LastAccessAt.Add(idleTimeout)) {
		return false
	}
	return true
}

// SessionView is what a caller sees when listing its sessions.
type SessionView struct {
	ID           string    `json:"id"`
	UserAgent    string    `json:"user_agent"`
	Platform     string    `json:"platform"`
	IPAddress    string    `json:"ip_address"`
	LastAccessAt time.Time `json:"last_access_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	Current      bool      `json:"current"`
}

func (s *Session) ToView(currentID string) *SessionView {
	return &SessionView{
		ID:           s.ID,
		UserAgent:    s.UserAgent,
		Platform:     s.Platform,
		IPAddress:    s.IPAddress,
		LastAccessAt: s.LastAccessAt,
		ExpiresAt:    s.ExpiresAt,
		CreatedAt:    s.CreatedAt,
		Current:      s.ID == currentID,
	}
}
